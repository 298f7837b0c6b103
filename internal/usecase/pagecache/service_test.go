package pagecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"silo-bridge/internal/adapters/memstore"
	"silo-bridge/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newService(t *testing.T) (*Service, *memstore.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	return NewService(store, zerolog.Nop(), WithClock(clock.Now)), store, clock
}

func TestStoreForZeroTTLExpires(t *testing.T) {
	svc, store, clock := newService(t)
	ctx := context.Background()

	if err := svc.StoreFor(ctx, "/users", "<html>", 0); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock.Advance(time.Nanosecond)

	_, ok, err := svc.Load(ctx, "/users")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ok {
		t.Fatal("просроченная страница не должна отдаваться")
	}
	if _, err := store.GetPage(ctx, "/users"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("просроченная запись должна быть удалена, получили %v", err)
	}
}

func TestStoreForServesUntilExpiry(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	if err := svc.StoreFor(ctx, "/users", "cached", time.Minute); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock.Advance(time.Minute)
	html, ok, err := svc.Load(ctx, "/users")
	if err != nil || !ok || html != "cached" {
		t.Fatalf("ожидали попадание ровно в момент истечения, got %q %v %v", html, ok, err)
	}

	clock.Advance(time.Second)
	if _, ok, _ := svc.Load(ctx, "/users"); ok {
		t.Fatal("после истечения страница не должна отдаваться")
	}
}

func TestStoreWithoutExpiryAndInvalidate(t *testing.T) {
	svc, _, clock := newService(t)
	ctx := context.Background()

	if err := svc.Store(ctx, "/about", "forever"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	clock.Advance(365 * 24 * time.Hour)
	if html, ok, _ := svc.Load(ctx, "/about"); !ok || html != "forever" {
		t.Fatalf("бессрочная запись должна отдаваться, got %q %v", html, ok)
	}

	if err := svc.Invalidate(ctx, "/about"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok, _ := svc.Load(ctx, "/about"); ok {
		t.Fatal("после инвалидации записи быть не должно")
	}
	if err := svc.Invalidate(ctx, "/missing"); err != nil {
		t.Fatalf("инвалидация отсутствующей записи не должна падать: %v", err)
	}
}

type failingStore struct {
	memstore.Store
}

func (*failingStore) GetPage(context.Context, string) (domain.CachedPage, error) {
	return domain.CachedPage{}, errors.New("boom")
}

func TestLoadPropagatesStoreErrors(t *testing.T) {
	svc := NewService(&failingStore{}, zerolog.Nop())
	if _, _, err := svc.Load(context.Background(), "/users"); err == nil {
		t.Fatal("ожидали ошибку хранилища")
	}
}
