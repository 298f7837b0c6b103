package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	httpinfra "silo-bridge/internal/infra/http"
	"silo-bridge/internal/usecase/browser"
	"silo-bridge/internal/usecase/lifecycle"
)

// StatusFetchRefused синтетический статус отклонённого удалённого запроса.
const StatusFetchRefused = 599

const (
	defaultMaxBody = 10 << 20
	usersLimit     = 1000
)

// Browser обрабатывает запросы расширения.
type Browser interface {
	Homepage(ctx context.Context, req browser.Request) (string, error)
	Profile(ctx context.Context, req browser.Request) ([]domain.Object, error)
	Post(ctx context.Context, req browser.Request) (domain.Object, error)
	Likes(ctx context.Context, req browser.Request) ([]domain.Object, error)
	Poll(ctx context.Context, req browser.Request) (string, error)
	TokenDomains(ctx context.Context, req browser.Request) ([]string, error)
}

// Lifecycle управляет подключением и отключением аккаунтов.
type Lifecycle interface {
	HandleCallback(ctx context.Context, cb lifecycle.Callback) (lifecycle.Outcome, error)
	Start(ctx context.Context, site domain.Site, req lifecycle.StartRequest) (string, error)
	StartDelete(ctx context.Context, site domain.Site, key domain.AccountKey, feature string) (string, error)
}

// Pages кэш отрендеренных страниц.
type Pages interface {
	Load(ctx context.Context, path string) (string, bool, error)
	StoreFor(ctx context.Context, path, html string, ttl time.Duration) error
}

// AccountLister перечисляет аккаунты.
type AccountLister interface {
	ListAccounts(ctx context.Context, limit int) ([]domain.Account, error)
}

// Deps зависимости обработчиков.
type Deps struct {
	Browser   Browser
	Lifecycle Lifecycle
	Pages     Pages
	Accounts  AccountLister
	Notifier  domain.Notifier
	UsersTTL  time.Duration
}

// Handler HTTP обработчики сервиса.
type Handler struct {
	browser   Browser
	lifecycle Lifecycle
	pages     Pages
	accounts  AccountLister
	notifier  domain.Notifier
	usersTTL  time.Duration
	maxBody   int64
	now       domain.Clock
	log       zerolog.Logger
}

// Option настраивает Handler.
type Option func(*Handler)

// WithClock задаёт источник времени для cookie.
func WithClock(clock domain.Clock) Option {
	return func(h *Handler) {
		h.now = clock
	}
}

// WithMaxBody ограничивает размер тела запроса.
func WithMaxBody(n int64) Option {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// NewHandler создаёт обработчики.
func NewHandler(deps Deps, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		browser:   deps.Browser,
		lifecycle: deps.Lifecycle,
		pages:     deps.Pages,
		accounts:  deps.Accounts,
		notifier:  deps.Notifier,
		usersTTL:  deps.UsersTTL,
		maxBody:   defaultMaxBody,
		now:       time.Now,
		log:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes регистрирует маршруты.
func (h *Handler) Routes(r chi.Router) {
	r.Get(lifecycle.UsersPagePath, h.users)
	r.Route("/{site}", func(sr chi.Router) {
		sr.Use(h.siteCtx)
		sr.Post("/browser/homepage", h.homepage)
		sr.Post("/browser/profile", h.profile)
		sr.Post("/browser/post", h.post)
		sr.Post("/browser/likes", h.likes)
		sr.Post("/browser/poll", h.poll)
		sr.Post("/browser/token-domains", h.tokenDomains)
		sr.Post("/start", h.start)
		sr.Get("/oauth_callback", h.callback)
		sr.Post("/delete/start", h.startDelete)
	})
}

type ctxKey struct{}

func (h *Handler) siteCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "site")
		site, ok := domain.SiteByName(name)
		if !ok {
			httpinfra.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown site %s", name))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, site)))
	})
}

func siteFrom(r *http.Request) domain.Site {
	site, _ := r.Context().Value(ctxKey{}).(domain.Site)
	return site
}

func (h *Handler) browserRequest(w http.ResponseWriter, r *http.Request) (browser.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return browser.Request{}, domain.Malformed("read body: %v", err)
	}
	q := r.URL.Query()
	return browser.Request{
		Site:     siteFrom(r),
		Body:     body,
		Key:      q.Get("key"),
		Username: q.Get("username"),
		Token:    q.Get("token"),
		ID:       q.Get("id"),
	}, nil
}

// serveBrowser читает запрос, вызывает fn и отвечает JSON.
func serveBrowser[T any](h *Handler, fn func(context.Context, browser.Request) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.browserRequest(w, r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out, err := fn(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpinfra.WriteJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) homepage(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.Homepage)(w, r)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.Profile)(w, r)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.Post)(w, r)
}

func (h *Handler) likes(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.Likes)(w, r)
}

func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.Poll)(w, r)
}

func (h *Handler) tokenDomains(w http.ResponseWriter, r *http.Request) {
	serveBrowser(h, h.browser.TokenDomains)(w, r)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, domain.Malformed("parse form: %v", err))
		return
	}
	redirect, err := h.lifecycle.Start(r.Context(), siteFrom(r), lifecycle.StartRequest{
		Feature:  r.Form.Get("feature"),
		Callback: r.Form.Get("callback"),
		ID:       r.Form.Get("id"),
		UserURL:  r.Form.Get("user_url"),
		State:    r.Form.Get("state"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) startDelete(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, domain.Malformed("parse form: %v", err))
		return
	}
	site := siteFrom(r)
	id := r.Form.Get("key")
	if id == "" {
		h.fail(w, r, domain.Malformed("missing required parameter: key"))
		return
	}
	redirect, err := h.lifecycle.StartDelete(r.Context(), site, domain.AccountKey{Site: site.ShortName, ID: id}, r.Form.Get("feature"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// callback принимает возврат от провайдера. Пустой auth_entity означает отказ.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := h.lifecycle.HandleCallback(r.Context(), lifecycle.Callback{
		Site:    siteFrom(r),
		State:   q.Get("state"),
		AuthRef: q.Get("auth_entity"),
		Logins:  lifecycle.LoginsFromRequest(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if out.Logins != nil {
		http.SetCookie(w, lifecycle.LoginsCookie(out.Logins, h.now()))
	}
	http.Redirect(w, r, out.Location(), http.StatusFound)
}

type userView struct {
	Site     string   `json:"site"`
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Picture  string   `json:"picture,omitempty"`
	URL      string   `json:"url,omitempty"`
	Path     string   `json:"path"`
	Features []string `json:"features"`
}

// users отдаёт список аккаунтов через кэш страниц.
func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cached, ok, err := h.pages.Load(ctx, lifecycle.UsersPagePath)
	if err != nil {
		h.log.Warn().Err(err).Msg("httpapi: кэш /users недоступен")
	}
	if ok {
		writeRaw(w, cached)
		return
	}

	accounts, err := h.accounts.ListAccounts(ctx, usersLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]userView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, userView{
			Site:     a.Site,
			ID:       a.ID,
			Name:     a.LabelName(),
			Picture:  a.Picture,
			URL:      a.URL,
			Path:     a.Path(),
			Features: a.Features,
		})
	}
	data, err := json.Marshal(views)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.pages.StoreFor(ctx, lifecycle.UsersPagePath, string(data), h.usersTTL); err != nil {
		h.log.Warn().Err(err).Msg("httpapi: не удалось сохранить /users в кэш")
	}
	writeRaw(w, string(data))
}

func writeRaw(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

var sentinels = []error{
	domain.ErrMalformedInput,
	domain.ErrAuthorizationDenied,
	domain.ErrNotFound,
	domain.ErrFetchRefused,
	domain.ErrPersistenceConflict,
}

// statusFor сопоставляет ошибку HTTP статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrFetchRefused):
		return StatusFetchRefused
	case errors.Is(err, domain.ErrPersistenceConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// publicMessage убирает из текста ошибки префикс sentinel-ошибки.
func publicMessage(err error) string {
	msg := err.Error()
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return authErr.Error()
	}
	for _, s := range sentinels {
		prefix := s.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
	}
	return msg
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	logger := h.log.With().Str("path", r.URL.Path).Int("status", status).Logger()
	if status != http.StatusInternalServerError {
		logger.Info().Err(err).Msg("httpapi: запрос отклонён")
		httpinfra.WriteError(w, status, publicMessage(err))
		return
	}

	logger.Error().Err(err).Msg("httpapi: внутренняя ошибка")
	if h.notifier != nil {
		subject := fmt.Sprintf("%d %s %s", status, r.Method, r.URL.Path)
		go h.notifier.Notify(context.WithoutCancel(r.Context()), subject, err.Error())
	}
	httpinfra.WriteError(w, status, "internal error")
}
