package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
	"silo-bridge/internal/usecase/authz"
	"silo-bridge/internal/usecase/merge"
	"silo-bridge/internal/usecase/sources"
)

// Authorizer проверяет токены вызывающего.
type Authorizer interface {
	AuthorizeActor(ctx context.Context, site domain.Site, actor *domain.Actor, token string) error
	AuthorizeAccount(ctx context.Context, site domain.Site, req authz.AccountRequest) (domain.Account, error)
	TokenDomains(ctx context.Context, token string) ([]string, error)
}

// Accounts создаёт аккаунты и ставит задачи опроса.
type Accounts interface {
	CreateOrUpdate(ctx context.Context, req sources.Request) (domain.Account, error)
	EnqueuePoll(ctx context.Context, account domain.Account, queue string) error
}

// Service обрабатывает данные, присланные расширением браузера.
type Service struct {
	scrapers   domain.ScraperRegistry
	auth       Authorizer
	accounts   Accounts
	activities domain.ActivityRepo
	log        zerolog.Logger
}

// NewService создаёт сервис расширения.
func NewService(scrapers domain.ScraperRegistry, auth Authorizer, accounts Accounts, activities domain.ActivityRepo, logger zerolog.Logger) *Service {
	return &Service{
		scrapers:   scrapers,
		auth:       auth,
		accounts:   accounts,
		activities: activities,
		log:        logger,
	}
}

// Request описывает входящий запрос расширения.
type Request struct {
	Site     domain.Site
	Body     []byte
	Key      string
	Username string
	Token    string
	// ID: tag URI активности для лайков.
	ID string
}

func (s *Service) scraper(site domain.Site) (domain.Scraper, error) {
	sc, err := s.scrapers.ScraperFor(site)
	if err != nil {
		return nil, fmt.Errorf("скрапер %s: %w", site.ShortName, err)
	}
	return sc, nil
}

// Homepage возвращает имя залогиненного пользователя с домашней страницы сети.
func (s *Service) Homepage(ctx context.Context, req Request) (string, error) {
	sc, err := s.scraper(req.Site)
	if err != nil {
		return "", err
	}
	_, actor, err := sc.ScrapedToActivities(req.Body)
	if err != nil {
		return "", err
	}
	if actor == nil || actor.Username == "" {
		return "", domain.Malformed("couldn't determine logged in %s user or username", req.Site.Name)
	}
	s.log.Info().Str("site", req.Site.ShortName).Str("username", actor.Username).Msg("browser: домашняя страница")
	return actor.Username, nil
}

// Profile проверяет токен для владельца профиля, создаёт или обновляет
// аккаунт и возвращает активности со страницы.
func (s *Service) Profile(ctx context.Context, req Request) ([]domain.Object, error) {
	sc, err := s.scraper(req.Site)
	if err != nil {
		return nil, err
	}
	activities, actor, err := sc.ScrapedToActivities(req.Body)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		if actor, err = sc.ScrapedToActor(req.Body); err != nil {
			return nil, err
		}
	}
	if err := s.auth.AuthorizeActor(ctx, req.Site, actor, req.Token); err != nil {
		return nil, err
	}

	account, err := s.accounts.CreateOrUpdate(ctx, sources.Request{Site: req.Site, Actor: *actor})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(activities))
	for _, a := range activities {
		ids = append(ids, a.ID())
	}
	s.log.Info().Str("account", account.Key().String()).Str("activity_ids", strings.Join(ids, " ")).Msg("browser: активности профиля")
	if activities == nil {
		activities = []domain.Object{}
	}
	return activities, nil
}

// Post сливает свежую версию поста с сохранённой и возвращает результат.
func (s *Service) Post(ctx context.Context, req Request) (domain.Object, error) {
	sc, err := s.scraper(req.Site)
	if err != nil {
		return nil, err
	}
	incoming, actor, err := sc.ScrapedToActivity(req.Body)
	if err != nil {
		return nil, err
	}
	if incoming == nil {
		return nil, domain.Malformed("no %s post found in HTML", req.Site.Name)
	}

	username := req.Username
	if username == "" && actor != nil {
		username = actor.Username
	}
	account, err := s.auth.AuthorizeAccount(ctx, req.Site, authz.AccountRequest{Key: req.Key, Username: username, Token: req.Token})
	if err != nil {
		return nil, err
	}

	id, ok := domain.IDOf(incoming)
	if !ok {
		metrics.ObserveMerge("post", "rejected")
		return nil, domain.Malformed("scraped post missing id")
	}

	result := "created"
	stored, err := s.activities.UpdateActivity(ctx, id, func(existing *domain.Activity) (domain.Activity, error) {
		var existingBody domain.Object
		if existing != nil {
			existingBody = existing.Body
			result = "merged"
		}
		merged, err := merge.Activity(existingBody, incoming)
		if err != nil {
			return domain.Activity{}, err
		}
		return domain.Activity{Account: account.Key(), Body: merged}, nil
	})
	if err != nil {
		metrics.ObserveMerge("post", "rejected")
		return nil, fmt.Errorf("сохранение активности %s: %w", id, err)
	}
	metrics.ObserveMerge("post", result)
	s.log.Info().Str("activity_id", id).Str("account", account.Key().String()).Str("result", result).Msg("browser: активность сохранена")
	return stored.Body, nil
}

// Likes сливает реакции в сохранённую активность и возвращает полный список реакций.
// Токен проверяется для автора, записанного в самой активности.
func (s *Service) Likes(ctx context.Context, req Request) ([]domain.Object, error) {
	if req.ID == "" {
		return nil, domain.Malformed("missing required parameter: id")
	}
	if _, _, ok := domain.ParseTagURI(req.ID); !ok {
		return nil, domain.Malformed("expected id to be tag URI; got %s", req.ID)
	}

	current, err := s.activities.GetActivity(ctx, req.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("no %s post found for id %s", req.Site.Name, req.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("загрузка активности %s: %w", req.ID, err)
	}

	author := current.Body.Map("object").Map("author")
	if author == nil {
		author = current.Body.Map("actor")
	}
	var actor *domain.Actor
	if a, ok := domain.ActorFromObject(author); ok {
		actor = &a
	}
	if err := s.auth.AuthorizeActor(ctx, req.Site, actor, req.Token); err != nil {
		return nil, err
	}

	sc, err := s.scraper(req.Site)
	if err != nil {
		return nil, err
	}

	var reactions []domain.Object
	_, err = s.activities.UpdateActivity(ctx, req.ID, func(existing *domain.Activity) (domain.Activity, error) {
		if existing == nil {
			return domain.Activity{}, domain.NotFound("no %s post found for id %s", req.Site.Name, req.ID)
		}
		scraped, err := sc.ScrapedToReactions(req.Body, existing.Body)
		if err != nil {
			return domain.Activity{}, err
		}
		updated, all, err := merge.Reactions(existing.Body, scraped)
		if err != nil {
			return domain.Activity{}, err
		}
		reactions = all
		return domain.Activity{Account: existing.Account, Body: updated}, nil
	})
	if err != nil {
		metrics.ObserveMerge("likes", "rejected")
		return nil, err
	}
	metrics.ObserveMerge("likes", "merged")

	ids := make([]string, 0, len(reactions))
	for _, r := range reactions {
		ids = append(ids, r.ID())
	}
	s.log.Info().Str("activity_id", req.ID).Str("like_ids", strings.Join(ids, " ")).Msg("browser: реакции сохранены")
	if reactions == nil {
		reactions = []domain.Object{}
	}
	return reactions, nil
}

// Poll ставит задачу опроса аккаунта. Токен не проверяется.
func (s *Service) Poll(ctx context.Context, req Request) (string, error) {
	account, err := s.auth.AuthorizeAccount(ctx, req.Site, authz.AccountRequest{Key: req.Key, Username: req.Username, SkipToken: true})
	if err != nil {
		return "", err
	}
	if err := s.accounts.EnqueuePoll(ctx, account, domain.PollQueueName); err != nil {
		return "", err
	}
	return "OK", nil
}

// TokenDomains возвращает домены токена.
func (s *Service) TokenDomains(ctx context.Context, req Request) ([]string, error) {
	return s.auth.TokenDomains(ctx, req.Token)
}
