package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// Service проверяет, может ли владелец токена писать данные от имени аккаунта.
// Состояния между вызовами не хранит.
type Service struct {
	accounts domain.AccountRepo
	domains  domain.DomainRepo
	log      zerolog.Logger
}

// NewService создаёт сервис авторизации.
func NewService(accounts domain.AccountRepo, domains domain.DomainRepo, logger zerolog.Logger) *Service {
	return &Service{accounts: accounts, domains: domains, log: logger}
}

// AuthorizeActor проверяет токен для свежего актора, полученного из разметки.
//
// Доступ даётся только публичным профилям. Кандидаты в домены берутся из URL
// профиля (без домена самой сети) и, для старых записей без доменов, из уже
// сохранённого аккаунта с тем же url. Достаточно совпадения токена с любым из доменов.
func (s *Service) AuthorizeActor(ctx context.Context, site domain.Site, actor *domain.Actor, token string) error {
	if actor == nil {
		return domain.Malformed("no %s actor found", site.Name)
	}
	if !actor.Public {
		metrics.ObserveAuthDecision("actor", "private")
		return &domain.AuthError{Reason: fmt.Sprintf("your %s account is private; only public accounts are supported", site.Name)}
	}
	if token == "" {
		return domain.Malformed("missing required parameter: token")
	}

	candidates := make(map[string]struct{})
	for _, d := range domain.DomainsFromLinks(actor.ProfileURLs()) {
		candidates[d] = struct{}{}
	}

	if actor.URL != "" {
		s.log.Debug().Str("url", actor.URL).Msg("authz: поиск аккаунта по URL")
		existing, err := s.accounts.FindAccountByURL(ctx, site.ShortName, actor.URL)
		switch {
		case err == nil:
			for _, d := range existing.Domains {
				candidates[d] = struct{}{}
			}
		case errors.Is(err, domain.ErrNotFound):
		default:
			return fmt.Errorf("поиск аккаунта по URL: %w", err)
		}
	}

	delete(candidates, site.Domain)
	names := make([]string, 0, len(candidates))
	for d := range candidates {
		names = append(names, d)
	}
	sort.Strings(names)

	s.log.Info().Strs("domains", names).Msg("authz: проверка токена по доменам")
	found, err := s.domains.GetDomains(ctx, names)
	if err != nil {
		return fmt.Errorf("загрузка доменов: %w", err)
	}
	for _, d := range found {
		if d.HasToken(token) {
			metrics.ObserveAuthDecision("actor", "granted")
			return nil
		}
	}
	metrics.ObserveAuthDecision("actor", "denied")
	return &domain.AuthError{Token: token, Domains: names}
}

// AccountRequest описывает вызов, где аккаунт назван явно.
type AccountRequest struct {
	// Key: закодированный domain.AccountKey. Имеет приоритет над Username.
	Key      string
	Username string
	Token    string
	// SkipToken отключает проверку токена (например, для запроса опроса).
	SkipToken bool
}

// AuthorizeAccount находит аккаунт по ключу или имени и проверяет, что токен
// принадлежит одному из доменов аккаунта.
func (s *Service) AuthorizeAccount(ctx context.Context, site domain.Site, req AccountRequest) (domain.Account, error) {
	var key domain.AccountKey
	switch {
	case req.Key != "":
		parsed, err := domain.ParseAccountKey(req.Key)
		if err != nil {
			return domain.Account{}, err
		}
		key = parsed
	case req.Username != "":
		key = domain.AccountKey{Site: site.ShortName, ID: req.Username}
	default:
		return domain.Account{}, domain.Malformed("no key or username query param and no scraped actor found")
	}

	account, err := s.accounts.GetAccount(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, domain.NotFound("no account found for %s user %s", site.Name, key.ID)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("загрузка аккаунта: %w", err)
	}

	if req.SkipToken {
		return account, nil
	}
	if req.Token == "" {
		return domain.Account{}, domain.Malformed("missing required parameter: token")
	}

	found, err := s.domains.DomainsForToken(ctx, req.Token)
	if err != nil {
		return domain.Account{}, fmt.Errorf("загрузка доменов токена: %w", err)
	}
	for _, d := range found {
		if account.HasDomain(d.ID) {
			metrics.ObserveAuthDecision("account", "granted")
			return account, nil
		}
	}
	metrics.ObserveAuthDecision("account", "denied")
	return domain.Account{}, &domain.AuthError{Token: req.Token, Domains: account.Domains}
}

// TokenDomains возвращает домены, для которых выдан токен.
func (s *Service) TokenDomains(ctx context.Context, token string) ([]string, error) {
	if token == "" {
		return nil, domain.Malformed("missing required parameter: token")
	}
	found, err := s.domains.DomainsForToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("загрузка доменов токена: %w", err)
	}
	if len(found) == 0 {
		return nil, domain.NotFound("no registered domains for token %s", token)
	}
	names := make([]string, 0, len(found))
	for _, d := range found {
		names = append(names, d.ID)
	}
	sort.Strings(names)
	return names, nil
}
