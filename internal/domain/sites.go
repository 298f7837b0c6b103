package domain

import "sort"

// Site описывает социальную сеть, аккаунты которой подключаются к сервису.
type Site struct {
	ShortName string
	Name      string
	Domain    string
	// Browser: данные поставляет расширение браузера, а не API.
	Browser bool
	// ReadOnlyListen: для listen запрашивается доступ только на чтение,
	// который понижает ранее выданный токен с правом записи.
	ReadOnlyListen bool
}

var sites = map[string]Site{
	"instagram": {ShortName: "instagram", Name: "Instagram", Domain: "instagram.com", Browser: true},
	"facebook":  {ShortName: "facebook", Name: "Facebook", Domain: "facebook.com", Browser: true},
	"twitter":   {ShortName: "twitter", Name: "Twitter", Domain: "twitter.com", ReadOnlyListen: true},
}

// SiteByName возвращает сайт по короткому имени.
func SiteByName(shortName string) (Site, bool) {
	s, ok := sites[shortName]
	return s, ok
}

// Sites возвращает все известные сайты в алфавитном порядке.
func Sites() []Site {
	out := make([]Site, 0, len(sites))
	for _, s := range sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShortName < out[j].ShortName })
	return out
}
