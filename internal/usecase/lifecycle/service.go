package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
	"silo-bridge/internal/usecase/sources"
)

// UsersPagePath путь кэшированной страницы со списком аккаунтов.
const UsersPagePath = "/users"

// Сообщения пользователю.
const (
	msgAddDeclined = "OK, you're not signed up. Hope you reconsider!"
	msgDeleteHint  = "If you want to disable, please approve the %s prompt."
)

// Upserter создаёт или обновляет аккаунт по профилю.
type Upserter interface {
	CreateOrUpdate(ctx context.Context, req sources.Request) (domain.Account, error)
}

// Invalidator сбрасывает кэшированную страницу.
type Invalidator interface {
	Invalidate(ctx context.Context, path string) error
}

// Service ведёт аккаунт через add и delete по результату OAuth-колбэка.
type Service struct {
	accounts  domain.AccountRepo
	upserter  Upserter
	pages     Invalidator
	provider  domain.OAuthProvider
	publicURL string
	log       zerolog.Logger
}

// NewService создаёт сервис жизненного цикла. publicURL используется для
// адреса аккаунта во внешнем колбэке.
func NewService(accounts domain.AccountRepo, upserter Upserter, pages Invalidator, provider domain.OAuthProvider, publicURL string, logger zerolog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		upserter:  upserter,
		pages:     pages,
		provider:  provider,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       logger,
	}
}

// Outcome описывает ответ на колбэк: куда перенаправить и что записать в cookie.
type Outcome struct {
	Redirect string
	// External означает внешний адрес: сообщения к нему не добавляются.
	External bool
	Messages []string
	// Logins не nil, если cookie залогиненных аккаунтов нужно перезаписать.
	Logins  []domain.Login
	Account *domain.Account
}

// Location возвращает итоговый адрес. Для внутренних адресов сообщения
// дописываются во фрагмент #!, если фрагмента ещё нет.
func (o Outcome) Location() string {
	if o.External || len(o.Messages) == 0 {
		return o.Redirect
	}
	u, err := url.Parse(o.Redirect)
	if err != nil || u.Fragment != "" {
		return o.Redirect
	}
	return o.Redirect + "#!" + url.PathEscape(strings.Join(o.Messages, "\n"))
}

// Callback описывает возврат от OAuth-провайдера.
type Callback struct {
	Site  domain.Site
	State string
	// AuthRef пуст, если пользователь отказался.
	AuthRef string
	Logins  []domain.Login
}

// HandleCallback выполняет переход по дескриптору из state.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (Outcome, error) {
	desc, err := DecodeDescriptor(cb.State)
	if err != nil {
		return Outcome{}, err
	}
	logger := s.log.With().Str("site", cb.Site.ShortName).Str("operation", desc.OperationOrDefault()).Logger()
	logger.Debug().Str("feature", desc.Feature).Str("callback", desc.Callback).Msg("lifecycle: колбэк")

	switch desc.OperationOrDefault() {
	case OperationAdd:
		if cb.AuthRef == "" {
			metrics.ObserveTransition(OperationAdd, "declined")
			return s.addDeclined(desc), nil
		}
		return s.add(ctx, cb, desc, logger)
	case OperationDelete:
		if cb.AuthRef != "" {
			metrics.ObserveTransition(OperationDelete, "authorized")
			return Outcome{Redirect: deleteFinishURL(cb.AuthRef, cb.State)}, nil
		}
		metrics.ObserveTransition(OperationDelete, "declined")
		return s.deleteDeclined(ctx, cb.Site, desc), nil
	default:
		return Outcome{}, domain.Malformed("unknown operation %q", desc.Operation)
	}
}

func (s *Service) addDeclined(desc Descriptor) Outcome {
	out := Outcome{Messages: []string{msgAddDeclined}, Redirect: "/"}
	if desc.Callback != "" {
		out.Redirect = addQueryParams(desc.Callback, url.Values{"result": {"declined"}})
		out.External = true
	}
	return out
}

func (s *Service) add(ctx context.Context, cb Callback, desc Descriptor, logger zerolog.Logger) (Outcome, error) {
	if err := s.pages.Invalidate(ctx, UsersPagePath); err != nil {
		logger.Warn().Err(err).Msg("lifecycle: не удалось сбросить кэш списка")
	}

	auth, err := s.provider.FetchAuth(ctx, cb.Site, cb.AuthRef)
	if err != nil {
		return Outcome{}, fmt.Errorf("получение авторизации: %w", err)
	}

	account, err := s.upserter.CreateOrUpdate(ctx, sources.Request{
		Site:     cb.Site,
		Actor:    auth.Actor,
		Features: desc.Features(),
		UserURL:  desc.UserURL,
	})
	if err != nil {
		if desc.Callback != "" && errors.Is(err, domain.ErrMalformedInput) {
			logger.Warn().Err(err).Msg("lifecycle: аккаунт не создан")
			metrics.ObserveTransition(OperationAdd, "failure")
			return Outcome{Redirect: addQueryParams(desc.Callback, url.Values{"result": {"failure"}}), External: true}, nil
		}
		metrics.ObserveTransition(OperationAdd, "error")
		return Outcome{}, err
	}
	metrics.ObserveTransition(OperationAdd, "success")

	out := Outcome{
		Account: &account,
		Logins:  AddLogin(cb.Logins, domain.Login{Path: account.Path(), Site: account.Site, Name: account.LabelName()}),
	}

	if cb.Site.ReadOnlyListen && desc.Feature == domain.FeatureListen && account.HasFeature(domain.FeaturePublish) {
		return s.restartForPublish(ctx, cb.Site, desc, account, out, logger)
	}

	if desc.Callback != "" {
		out.Redirect = addQueryParams(desc.Callback, url.Values{
			"result": {"success"},
			"user":   {s.publicURL + account.Path()},
			"key":    {account.Key().String()},
		})
		out.External = true
		return out, nil
	}
	out.Redirect = account.Path()
	return out, nil
}

// restartForPublish снимает publish после выдачи токена только на чтение
// и заново запускает OAuth с правом записи.
func (s *Service) restartForPublish(ctx context.Context, site domain.Site, desc Descriptor, account domain.Account, out Outcome, logger zerolog.Logger) (Outcome, error) {
	logger.Info().Str("account", account.Key().String()).Msg("lifecycle: перезапуск OAuth для publish")
	updated, err := s.accounts.UpdateAccount(ctx, account.Key(), func(existing *domain.Account) (domain.Account, error) {
		if existing == nil {
			return domain.Account{}, domain.NotFound("account %s disappeared", account.Key())
		}
		a := *existing
		a.Features = removeFeature(a.Features, domain.FeaturePublish)
		return a, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("снятие publish: %w", err)
	}
	metrics.ObserveTransition(OperationAdd, "restart_publish")

	redirect, err := s.Start(ctx, site, StartRequest{Feature: domain.FeaturePublish, Callback: desc.Callback, UserURL: desc.UserURL})
	if err != nil {
		return Outcome{}, err
	}
	out.Account = &updated
	out.Redirect = redirect
	out.External = true
	return out, nil
}

func (s *Service) deleteDeclined(ctx context.Context, site domain.Site, desc Descriptor) Outcome {
	out := Outcome{Messages: []string{fmt.Sprintf(msgDeleteHint, site.Name)}, Redirect: "/"}
	if desc.Source == "" {
		return out
	}
	key, err := domain.ParseAccountKey(desc.Source)
	if err != nil {
		return out
	}
	account, err := s.accounts.GetAccount(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Err(err).Str("account", desc.Source).Msg("lifecycle: аккаунт для редиректа не загружен")
		}
		return out
	}
	out.Redirect = account.Path()
	return out
}

// StartRequest описывает начало OAuth.
type StartRequest struct {
	Feature  string
	Callback string
	ID       string
	UserURL  string
	// State, если задан, используется вместо нового дескриптора.
	State string
}

// Start кодирует дескриптор add и возвращает адрес провайдера. Для publish
// запрашивается доступ на запись.
func (s *Service) Start(ctx context.Context, site domain.Site, req StartRequest) (string, error) {
	state := req.State
	desc := Descriptor{Operation: OperationAdd, Feature: req.Feature, Callback: req.Callback, ID: req.ID, UserURL: req.UserURL}
	if state != "" {
		decoded, err := DecodeDescriptor(state)
		if err != nil {
			return "", err
		}
		desc = decoded
	}
	if err := validateFeatures(desc.Features()); err != nil {
		return "", err
	}
	if state == "" {
		encoded, err := desc.Encode()
		if err != nil {
			return "", fmt.Errorf("кодирование state: %w", err)
		}
		state = encoded
	}

	accessType := "read"
	for _, f := range desc.Features() {
		if f == domain.FeaturePublish {
			accessType = "write"
		}
	}
	redirect, err := s.provider.StartURL(ctx, site, state, accessType)
	if err != nil {
		return "", fmt.Errorf("старт OAuth: %w", err)
	}
	return redirect, nil
}

// StartDelete кодирует дескриптор delete для аккаунта.
func (s *Service) StartDelete(ctx context.Context, site domain.Site, key domain.AccountKey, feature string) (string, error) {
	if _, err := s.accounts.GetAccount(ctx, key); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.NotFound("no account found for %s user %s", site.Name, key.ID)
		}
		return "", err
	}
	state, err := Descriptor{Operation: OperationDelete, Feature: feature, Source: key.String()}.Encode()
	if err != nil {
		return "", fmt.Errorf("кодирование state: %w", err)
	}
	redirect, err := s.provider.StartURL(ctx, site, state, "read")
	if err != nil {
		return "", fmt.Errorf("старт OAuth: %w", err)
	}
	return redirect, nil
}

func validateFeatures(features []string) error {
	for _, f := range features {
		if f != domain.FeatureListen && f != domain.FeaturePublish {
			return domain.Malformed("unknown feature %q", f)
		}
	}
	return nil
}

func deleteFinishURL(authRef, state string) string {
	return "/delete/finish?auth_entity=" + url.QueryEscape(authRef) + "&state=" + url.QueryEscape(state)
}

func addQueryParams(raw string, params url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		sep := "?"
		if strings.Contains(raw, "?") {
			sep = "&"
		}
		return raw + sep + params.Encode()
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func removeFeature(features []string, feature string) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		if f != feature {
			out = append(out, f)
		}
	}
	return out
}
