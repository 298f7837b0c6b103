package domain

import (
	"fmt"
	"strings"
	"time"
)

// Возможности аккаунта.
const (
	FeatureListen  = "listen"
	FeaturePublish = "publish"
)

// Actor описывает нормализованный профиль, полученный от скрапера.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	Image       string
	URL         string
	URLs        []string
	Public      bool
}

// ProfileURLs возвращает url и все urls[] без повторов.
func (a Actor) ProfileURLs() []string {
	seen := make(map[string]struct{}, len(a.URLs)+1)
	var out []string
	for _, u := range append([]string{a.URL}, a.URLs...) {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// AccountKey однозначно идентифицирует аккаунт в пространстве имён сайта.
type AccountKey struct {
	Site string
	ID   string
}

// String кодирует ключ как site:id.
func (k AccountKey) String() string {
	return k.Site + ":" + k.ID
}

// ParseAccountKey разбирает ключ, закодированный AccountKey.String.
func ParseAccountKey(raw string) (AccountKey, error) {
	site, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || site == "" || id == "" {
		return AccountKey{}, fmt.Errorf("%w: bad account key %q", ErrMalformedInput, raw)
	}
	return AccountKey{Site: site, ID: id}, nil
}

// Account описывает удалённую учётную запись, подключённую к сервису.
type Account struct {
	Site       string
	ID         string
	Name       string
	Picture    string
	URL        string
	DomainURLs []string
	Domains    []string
	Features   []string
	LastPolled time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key возвращает ключ аккаунта.
func (a Account) Key() AccountKey {
	return AccountKey{Site: a.Site, ID: a.ID}
}

// Path возвращает путь страницы аккаунта, например /instagram/snarfed.
func (a Account) Path() string {
	return "/" + a.Site + "/" + a.ID
}

// LabelName возвращает имя для отображения.
func (a Account) LabelName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// HasFeature сообщает, включена ли возможность.
func (a Account) HasFeature(feature string) bool {
	for _, f := range a.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// HasDomain сообщает, принадлежит ли домен аккаунту.
func (a Account) HasDomain(domain string) bool {
	for _, d := range a.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// Domain описывает подтверждённый веб-домен и его токены.
type Domain struct {
	ID     string
	Tokens []string
}

// HasToken сообщает, выдан ли токен для домена.
func (d Domain) HasToken(token string) bool {
	for _, t := range d.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

// Activity хранит каноничную запись удалённого поста.
type Activity struct {
	ID      string
	Account AccountKey
	Body    Object
	Updated time.Time
}

// CachedPage хранит отрендеренную страницу. Expires == nil означает бессрочную запись.
type CachedPage struct {
	Path    string
	HTML    string
	Expires *time.Time
}

// Expired сообщает, истёк ли срок записи к моменту now.
func (p CachedPage) Expired(now time.Time) bool {
	return p.Expires != nil && now.After(*p.Expires)
}

// Login описывает запись в cookie залогиненных аккаунтов.
type Login struct {
	Path string
	Site string
	Name string
}
