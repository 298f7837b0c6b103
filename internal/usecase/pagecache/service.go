package pagecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// Service кэширует отрендеренные страницы по пути. Отсутствие записи всегда
// безопасно: вызывающий пересчитывает страницу сам.
type Service struct {
	store domain.PageStore
	now   domain.Clock
	log   zerolog.Logger
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

// NewService создаёт кэш страниц поверх хранилища.
func NewService(store domain.PageStore, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load возвращает страницу. Просроченная запись удаляется и считается отсутствующей.
func (s *Service) Load(ctx context.Context, path string) (string, bool, error) {
	page, err := s.store.GetPage(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.ObservePageCache("miss")
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("чтение страницы %s: %w", path, err)
	}
	if page.Expired(s.now()) {
		metrics.ObservePageCache("expired")
		s.log.Debug().Str("path", path).Msg("pagecache: запись просрочена")
		if err := s.store.DeletePage(ctx, path); err != nil {
			return "", false, fmt.Errorf("удаление просроченной страницы %s: %w", path, err)
		}
		return "", false, nil
	}
	metrics.ObservePageCache("hit")
	return page.HTML, true, nil
}

// Store сохраняет страницу без срока годности.
func (s *Service) Store(ctx context.Context, path, html string) error {
	return s.put(ctx, domain.CachedPage{Path: path, HTML: html})
}

// StoreFor сохраняет страницу на ttl. При ttl == 0 запись истекает сразу после записи.
func (s *Service) StoreFor(ctx context.Context, path, html string, ttl time.Duration) error {
	expires := s.now().Add(ttl)
	return s.put(ctx, domain.CachedPage{Path: path, HTML: html, Expires: &expires})
}

// Invalidate безусловно удаляет страницу.
func (s *Service) Invalidate(ctx context.Context, path string) error {
	s.log.Debug().Str("path", path).Msg("pagecache: инвалидация")
	if err := s.store.DeletePage(ctx, path); err != nil {
		return fmt.Errorf("инвалидация %s: %w", path, err)
	}
	return nil
}

func (s *Service) put(ctx context.Context, page domain.CachedPage) error {
	if err := s.store.PutPage(ctx, page); err != nil {
		return fmt.Errorf("запись страницы %s: %w", page.Path, err)
	}
	return nil
}
