package lifecycle

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"silo-bridge/internal/domain"
)

// LoginsCookieName имя cookie со списком залогиненных аккаунтов.
const LoginsCookieName = "logins"

// loginsCookieTTL срок жизни cookie.
const loginsCookieTTL = 2 * 365 * 24 * time.Hour

// EncodeLogins кодирует записи как path?name через "|". Обе части экранируются,
// записи сортируются и не повторяются.
func EncodeLogins(logins []domain.Login) string {
	set := make(map[string]struct{}, len(logins))
	for _, l := range logins {
		if l.Path == "" {
			continue
		}
		set[url.QueryEscape(l.Path)+"?"+url.QueryEscape(l.Name)] = struct{}{}
	}
	entries := make([]string, 0, len(set))
	for e := range set {
		entries = append(entries, e)
	}
	sort.Strings(entries)
	return strings.Join(entries, "|")
}

// DecodeLogins разбирает значение cookie. Битые записи пропускаются.
func DecodeLogins(raw string) []domain.Login {
	if raw == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []domain.Login
	for _, entry := range strings.Split(raw, "|") {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}

		rawPath, rawName, ok := strings.Cut(entry, "?")
		if !ok {
			continue
		}
		path, err := url.QueryUnescape(rawPath)
		if err != nil {
			continue
		}
		name, err := url.QueryUnescape(rawName)
		if err != nil {
			continue
		}
		site, _, ok := strings.Cut(strings.Trim(path, "/"), "/")
		if !ok || site == "" {
			continue
		}
		out = append(out, domain.Login{Path: path, Site: site, Name: name})
	}
	return out
}

// AddLogin добавляет запись, заменяя прежнюю с тем же путём.
func AddLogin(logins []domain.Login, login domain.Login) []domain.Login {
	out := make([]domain.Login, 0, len(logins)+1)
	for _, l := range logins {
		if l.Path != login.Path {
			out = append(out, l)
		}
	}
	return append(out, login)
}

// LoginsFromRequest читает cookie из запроса.
func LoginsFromRequest(r *http.Request) []domain.Login {
	c, err := r.Cookie(LoginsCookieName)
	if err != nil {
		return nil
	}
	return DecodeLogins(c.Value)
}

// LoginsCookie строит cookie для записи в ответ.
func LoginsCookie(logins []domain.Login, now time.Time) *http.Cookie {
	return &http.Cookie{
		Name:    LoginsCookieName,
		Value:   EncodeLogins(logins),
		Path:    "/",
		Expires: now.Add(loginsCookieTTL),
	}
}
