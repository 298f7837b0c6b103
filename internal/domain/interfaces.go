package domain

import (
	"context"
	"time"
)

// AccountRepo управляет аккаунтами.
type AccountRepo interface {
	GetAccount(ctx context.Context, key AccountKey) (Account, error)
	FindAccountByURL(ctx context.Context, site, url string) (Account, error)
	// UpdateAccount атомарно читает аккаунт, вызывает fn и сохраняет результат.
	// existing == nil, если аккаунта ещё нет.
	UpdateAccount(ctx context.Context, key AccountKey, fn func(existing *Account) (Account, error)) (Account, error)
	ListAccounts(ctx context.Context, limit int) ([]Account, error)
}

// DomainRepo управляет реестром доменов и токенов.
type DomainRepo interface {
	GetDomains(ctx context.Context, names []string) ([]Domain, error)
	DomainsForToken(ctx context.Context, token string) ([]Domain, error)
	// AddToken добавляет токен к домену; множество токенов только растёт.
	AddToken(ctx context.Context, domain, token string) (Domain, error)
}

// ActivityRepo хранит каноничные активности.
type ActivityRepo interface {
	GetActivity(ctx context.Context, id string) (Activity, error)
	// UpdateActivity выполняет read-modify-write одной активности в транзакции
	// и повторяет её при конфликте. existing == nil, если записи нет.
	UpdateActivity(ctx context.Context, id string, fn func(existing *Activity) (Activity, error)) (Activity, error)
	ListActivities(ctx context.Context, account AccountKey, limit int) ([]Activity, error)
}

// PageStore хранит кэшированные страницы.
type PageStore interface {
	GetPage(ctx context.Context, path string) (CachedPage, error)
	PutPage(ctx context.Context, page CachedPage) error
	DeletePage(ctx context.Context, path string) error
}

// Scraper переводит разметку сайта в нормализованные активности.
type Scraper interface {
	ScrapedToActivities(markup []byte) ([]Object, *Actor, error)
	ScrapedToActor(markup []byte) (*Actor, error)
	ScrapedToActivity(markup []byte) (Object, *Actor, error)
	ScrapedToReactions(markup []byte, activity Object) ([]Object, error)
}

// ScraperRegistry выдаёт скрапер для сайта.
type ScraperRegistry interface {
	ScraperFor(site Site) (Scraper, error)
}

// URLResolver разрешает редиректы ссылки и решает, можно ли слать ей вебменшен.
type URLResolver interface {
	ResolveTarget(ctx context.Context, url string) WebmentionTarget
}

// WebmentionTarget результат разрешения ссылки.
type WebmentionTarget struct {
	URL    string
	Domain string
	Send   bool
}

// Notifier отправляет уведомления администраторам. Ошибки доставки не возвращаются.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// AuthResult описывает результат внешнего OAuth-рукопожатия.
type AuthResult struct {
	// Ref: непрозрачная ссылка на сохранённую авторизацию у провайдера.
	Ref   string
	Actor Actor
}

// OAuthProvider: внешний провайдер авторизации.
type OAuthProvider interface {
	StartURL(ctx context.Context, site Site, state, accessType string) (string, error)
	FetchAuth(ctx context.Context, site Site, ref string) (AuthResult, error)
}

// Clock возвращает текущее время.
type Clock func() time.Time
