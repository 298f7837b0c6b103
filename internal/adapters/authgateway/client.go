package authgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// Client обращается к внешнему шлюзу OAuth. Шлюз хранит токены сетей,
// сервис видит только ссылку на авторизацию и профиль.
type Client struct {
	http *resty.Client
}

var _ domain.OAuthProvider = (*Client)(nil)

// New создаёт клиент шлюза.
func New(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Client{http: client}
}

type startRequest struct {
	State      string `json:"state"`
	AccessType string `json:"access_type"`
}

type startResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// StartURL возвращает адрес, на который нужно отправить пользователя.
func (c *Client) StartURL(ctx context.Context, site domain.Site, state, accessType string) (string, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(startRequest{State: state, AccessType: accessType}).
		Post("/" + url.PathEscape(site.ShortName) + "/start")
	metrics.ObserveNetworkRequest("authgateway", "start", site.ShortName, start, err)
	if err != nil {
		return "", fmt.Errorf("authgateway start: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("authgateway start: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	var out startResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("authgateway start: decode: %w", err)
	}
	if out.RedirectURL == "" {
		return "", fmt.Errorf("authgateway start: empty redirect_url")
	}
	return out.RedirectURL, nil
}

type authResponse struct {
	Ref   string        `json:"ref"`
	Actor domain.Object `json:"actor"`
}

// FetchAuth возвращает профиль, связанный с завершённой авторизацией.
func (c *Client) FetchAuth(ctx context.Context, site domain.Site, ref string) (domain.AuthResult, error) {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/" + url.PathEscape(site.ShortName) + "/auth/" + url.PathEscape(ref))
	metrics.ObserveNetworkRequest("authgateway", "fetch_auth", site.ShortName, start, err)
	if err != nil {
		return domain.AuthResult{}, fmt.Errorf("authgateway auth: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return domain.AuthResult{}, domain.NotFound("unknown auth entity %s", ref)
	case resp.IsError():
		return domain.AuthResult{}, fmt.Errorf("authgateway auth: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out authResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return domain.AuthResult{}, fmt.Errorf("authgateway auth: decode: %w", err)
	}
	actor, ok := domain.ActorFromObject(out.Actor)
	if !ok {
		return domain.AuthResult{}, domain.Malformed("auth entity %s has no profile", ref)
	}
	if out.Ref == "" {
		out.Ref = ref
	}
	return domain.AuthResult{Ref: out.Ref, Actor: actor}, nil
}
