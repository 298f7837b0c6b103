package authgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"silo-bridge/internal/domain"
)

var twitter, _ = domain.SiteByName("twitter")

func TestStartURL(t *testing.T) {
	var got startRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/twitter/start" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"redirect_url":"https://api.twitter.com/oauth?x=1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	redirect, err := c.StartURL(context.Background(), twitter, `{"operation":"add"}`, "read")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if redirect != "https://api.twitter.com/oauth?x=1" {
		t.Fatalf("redirect = %q", redirect)
	}
	if diff := cmp.Diff(startRequest{State: `{"operation":"add"}`, AccessType: "read"}, got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestStartURLGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, time.Second).StartURL(context.Background(), twitter, "", "read"); err == nil {
		t.Fatalf("ожидалась ошибка")
	}
}

func TestFetchAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/twitter/auth/abc":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ref":"abc","actor":{"id":"tag:twitter.com,2013:snarfed_org","username":"snarfed_org","displayName":"Ryan","url":"https://snarfed.org/"}}`))
		case "/twitter/auth/empty":
			_, _ = w.Write([]byte(`{"ref":"empty"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	ctx := context.Background()

	got, err := c.FetchAuth(ctx, twitter, "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.AuthResult{Ref: "abc", Actor: domain.Actor{
		ID:          "tag:twitter.com,2013:snarfed_org",
		Username:    "snarfed_org",
		DisplayName: "Ryan",
		URL:         "https://snarfed.org/",
		Public:      true,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("auth mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.FetchAuth(ctx, twitter, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := c.FetchAuth(ctx, twitter, "empty"); !errors.Is(err, domain.ErrMalformedInput) {
		t.Fatalf("ожидалась ErrMalformedInput, получено %v", err)
	}
}
