package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// RefusedStatus синтетический статус отклонённого запроса.
const RefusedStatus = 599

const (
	defaultTimeout = 15 * time.Second
	defaultMaxSize = 5000000
	maxRedirects   = 10
	userAgent      = "Mozilla/5.0 (compatible; silo-bridge/1.0)"
)

// Response результат загрузки удалённой страницы.
type Response struct {
	StatusCode  int
	URL         string
	ContentType string
	Body        []byte
}

// Refused сообщает, что запрос отклонён до чтения тела.
func (r Response) Refused() bool {
	return r.StatusCode == RefusedStatus
}

// Err возвращает ErrFetchRefused для отклонённого запроса.
func (r Response) Err() error {
	if !r.Refused() {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrFetchRefused, r.Body)
}

// Config параметры клиента.
type Config struct {
	Timeout time.Duration
	MaxSize int64
	// Name подставляется в текст отказа по блеклисту.
	Name string
}

// Client загружает удалённые страницы с ограничением размера и блеклистом.
type Client struct {
	http      *resty.Client
	maxSize   int64
	name      string
	blacklist *domain.Blacklist
	log       zerolog.Logger
}

var _ domain.URLResolver = (*Client)(nil)

// New создаёт клиент.
func New(cfg Config, blacklist *domain.Blacklist, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.Name == "" {
		cfg.Name = "silo-bridge"
	}
	client := resty.New()
	client.SetHeader("user-agent", userAgent)
	client.SetTimeout(cfg.Timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects))
	return &Client{
		http:      client,
		maxSize:   cfg.MaxSize,
		name:      cfg.Name,
		blacklist: blacklist,
		log:       logger,
	}
}

// Get загружает страницу. Блеклист и превышение размера дают ответ со статусом
// RefusedStatus и пояснением в теле, а не ошибку.
func (c *Client) Get(ctx context.Context, rawURL string) (Response, error) {
	return c.get(ctx, rawURL, true)
}

func (c *Client) get(ctx context.Context, rawURL string, readBody bool) (Response, error) {
	if c.blacklist.ContainsURL(rawURL) {
		return c.refuse("blacklist", rawURL, fmt.Sprintf("Sorry, %s has blacklisted this URL.", c.name)), nil
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	metrics.ObserveNetworkRequest("fetch", "get", domain.DomainFromLink(rawURL), start, err)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	out := Response{
		StatusCode:  resp.StatusCode(),
		URL:         rawURL,
		ContentType: resp.Header().Get("Content-Type"),
	}
	if raw := resp.RawResponse; raw != nil && raw.Request != nil && raw.Request.URL != nil {
		out.URL = raw.Request.URL.String()
	}

	if length := resp.Header().Get("Content-Length"); length != "" {
		if n, err := strconv.ParseInt(length, 10, 64); err == nil && n > c.maxSize {
			return c.refuse("size", out.URL, fmt.Sprintf("Content-Length %s is larger than our limit %d.", length, c.maxSize)), nil
		}
	}
	if !readBody {
		return out, nil
	}

	data, err := io.ReadAll(io.LimitReader(body, c.maxSize+1))
	if err != nil {
		return Response{}, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(data)) > c.maxSize {
		return c.refuse("size", out.URL, fmt.Sprintf("Response body is larger than our limit %d.", c.maxSize)), nil
	}
	out.Body = data
	return out, nil
}

func (c *Client) refuse(reason, rawURL, message string) Response {
	metrics.IncFetchRefused(reason)
	c.log.Warn().Str("url", rawURL).Str("reason", reason).Msg("fetch: запрос отклонён")
	return Response{
		StatusCode:  RefusedStatus,
		URL:         rawURL,
		ContentType: "text/plain",
		Body:        []byte(message),
	}
}

// ResolveTarget реализует domain.URLResolver: очищает ссылку, следует редиректам
// и разрешает вебменшен только для HTML-страниц вне блеклиста.
func (c *Client) ResolveTarget(ctx context.Context, rawURL string) domain.WebmentionTarget {
	cleaned := CleanURL(rawURL)
	target := domain.WebmentionTarget{URL: cleaned, Domain: domain.DomainFromLink(cleaned)}
	if target.Domain == "" || c.blacklist.ContainsDomain(target.Domain) {
		return target
	}

	resp, err := c.get(ctx, cleaned, false)
	if err != nil {
		c.log.Warn().Err(err).Str("url", cleaned).Msg("fetch: не удалось разрешить ссылку")
		return target
	}
	if resp.Refused() {
		return target
	}
	target.URL = resp.URL
	target.Domain = domain.DomainFromLink(resp.URL)
	if c.blacklist.ContainsDomain(target.Domain) {
		return target
	}
	target.Send = strings.HasPrefix(strings.ToLower(resp.ContentType), "text/html")
	return target
}

// CleanURL убирает пробелы и utm_* параметры.
func CleanURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}
	query := u.Query()
	for key := range query {
		if strings.HasPrefix(key, "utm_") {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
