package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// MaxAuthorURLs ограничивает число адресов профиля, которые проверяются при создании аккаунта.
const MaxAuthorURLs = 5

// Service создаёт и обновляет аккаунты по профилю актора.
type Service struct {
	accounts  domain.AccountRepo
	resolver  domain.URLResolver
	queue     domain.PollQueue
	blacklist *domain.Blacklist
	now       domain.Clock
	log       zerolog.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(clock domain.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithBlacklist задаёт список доменов, которые не становятся доменами аккаунта.
func WithBlacklist(b *domain.Blacklist) Option {
	return func(s *Service) {
		s.blacklist = b
	}
}

// NewService создаёт сервис аккаунтов.
func NewService(accounts domain.AccountRepo, resolver domain.URLResolver, queue domain.PollQueue, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		resolver: resolver,
		queue:    queue,
		now:      time.Now,
		log:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request описывает создание или обновление аккаунта.
type Request struct {
	Site     domain.Site
	Actor    domain.Actor
	Features []string
	// UserURL, если задан, заменяет адреса из профиля.
	UserURL string
}

// profile: поля аккаунта, которые переписываются при повторной авторизации,
// если в новом профиле они непустые.
type profile struct {
	Name    string
	Picture string
	URL     string
}

// KeyForActor возвращает ключ аккаунта: username, иначе id актора.
func KeyForActor(site domain.Site, actor domain.Actor) (domain.AccountKey, error) {
	id := strings.TrimSpace(actor.Username)
	if id == "" {
		id = strings.TrimSpace(actor.ID)
		if _, remote, ok := domain.ParseTagURI(id); ok {
			id = remote
		}
	}
	if id == "" {
		return domain.AccountKey{}, domain.Malformed("scraped %s actor has no username or id", site.Name)
	}
	return domain.AccountKey{Site: site.ShortName, ID: id}, nil
}

// CreateOrUpdate создаёт аккаунт или обновляет поля профиля существующего,
// объединяя возможности. Если включено прослушивание, ставит задачу опроса.
func (s *Service) CreateOrUpdate(ctx context.Context, req Request) (domain.Account, error) {
	key, err := KeyForActor(req.Site, req.Actor)
	if err != nil {
		return domain.Account{}, err
	}
	features := req.Features
	if len(features) == 0 {
		features = []string{domain.FeatureListen}
	}

	fresh := profile{
		Name:    req.Actor.DisplayName,
		Picture: req.Actor.Image,
		URL:     req.Actor.URL,
	}
	domainURLs, domains := s.urlsAndDomains(ctx, req.Site, req.Actor, req.UserURL)

	logger := s.log.With().Str("account", key.String()).Logger()
	created := false
	account, err := s.accounts.UpdateAccount(ctx, key, func(existing *domain.Account) (domain.Account, error) {
		if existing == nil {
			created = true
			return domain.Account{
				Name:       fresh.Name,
				Picture:    fresh.Picture,
				URL:        fresh.URL,
				DomainURLs: domainURLs,
				Domains:    domains,
				Features:   unionFeatures(nil, features),
			}, nil
		}
		current := profile{
			Name:    existing.Name,
			Picture: existing.Picture,
			URL:     existing.URL,
		}
		if err := mergo.Merge(&current, fresh, mergo.WithOverride); err != nil {
			return domain.Account{}, fmt.Errorf("merge profile: %w", err)
		}
		updated := *existing
		updated.Name = current.Name
		updated.Picture = current.Picture
		updated.URL = current.URL
		// Домены всегда пересчитываются из свежих адресов, даже если их не осталось.
		updated.DomainURLs = domainURLs
		updated.Domains = domains
		updated.Features = unionFeatures(existing.Features, features)
		return updated, nil
	})
	if err != nil {
		return domain.Account{}, fmt.Errorf("сохранение аккаунта %s: %w", key, err)
	}
	logger.Info().Bool("created", created).Strs("domains", account.Domains).Strs("features", account.Features).Msg("sources: аккаунт сохранён")

	if account.HasFeature(domain.FeatureListen) {
		if err := s.EnqueuePoll(ctx, account, domain.PollNowQueueName); err != nil {
			return domain.Account{}, err
		}
	}
	return account, nil
}

// EnqueuePoll ставит задачу опроса аккаунта в очередь.
func (s *Service) EnqueuePoll(ctx context.Context, account domain.Account, queue string) error {
	lastPolled := account.LastPolled
	if lastPolled.IsZero() {
		lastPolled = time.Unix(0, 0)
	}
	task := domain.PollTask{
		ID:          uuid.NewString(),
		Queue:       queue,
		Site:        account.Site,
		AccountID:   account.ID,
		LastPolled:  lastPolled.UTC().Format(domain.PollTaskDateFormat),
		RequestedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("постановка задачи опроса %s: %w", account.Key(), err)
	}
	metrics.IncPollTask(queue)
	s.log.Info().Str("account", account.Key().String()).Str("queue", queue).Str("task_id", task.ID).Msg("sources: задача опроса поставлена")
	return nil
}

// urlsAndDomains разрешает до MaxAuthorURLs адресов профиля и оставляет те,
// которым можно слать вебменшены, вместе с их доменами.
func (s *Service) urlsAndDomains(ctx context.Context, site domain.Site, actor domain.Actor, userURL string) ([]string, []string) {
	candidates := actor.ProfileURLs()
	if userURL = strings.TrimSpace(userURL); userURL != "" {
		candidates = []string{userURL}
	}
	if len(candidates) > MaxAuthorURLs {
		candidates = candidates[:MaxAuthorURLs]
	}

	var urls, domains []string
	seenURL := make(map[string]struct{})
	seenDomain := make(map[string]struct{})
	for _, candidate := range candidates {
		target := s.resolver.ResolveTarget(ctx, candidate)
		if !target.Send || target.Domain == "" || target.Domain == site.Domain {
			s.log.Debug().Str("url", candidate).Msg("sources: адрес пропущен")
			continue
		}
		if s.blacklist.ContainsDomain(target.Domain) {
			continue
		}
		if _, ok := seenURL[target.URL]; !ok {
			seenURL[target.URL] = struct{}{}
			urls = append(urls, target.URL)
		}
		if _, ok := seenDomain[target.Domain]; !ok {
			seenDomain[target.Domain] = struct{}{}
			domains = append(domains, target.Domain)
		}
	}
	return urls, domains
}

func unionFeatures(existing, requested []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(requested))
	var out []string
	for _, f := range append(append([]string(nil), existing...), requested...) {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
