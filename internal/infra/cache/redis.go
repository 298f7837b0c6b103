package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

const defaultPrefix = "page:"

// RedisPageStore реализует domain.PageStore через Redis. Записи со сроком
// получают TTL, но решение об истечении принимает pagecache.
type RedisPageStore struct {
	client *redis.Client
	prefix string
	now    domain.Clock
}

var _ domain.PageStore = (*RedisPageStore)(nil)

// NewRedisPageStore создаёт хранилище страниц.
func NewRedisPageStore(client *redis.Client, prefix string) *RedisPageStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisPageStore{client: client, prefix: prefix, now: time.Now}
}

type storedPage struct {
	HTML    string     `json:"html"`
	Expires *time.Time `json:"expires,omitempty"`
}

// GetPage возвращает страницу или domain.ErrNotFound.
func (s *RedisPageStore) GetPage(ctx context.Context, path string) (domain.CachedPage, error) {
	start := time.Now()
	raw, err := s.client.Get(ctx, s.prefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get_page", s.prefix, start, nil)
		return domain.CachedPage{}, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("redis", "get_page", s.prefix, start, err)
	if err != nil {
		return domain.CachedPage{}, fmt.Errorf("redis get page: %w", err)
	}
	var page storedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return domain.CachedPage{}, fmt.Errorf("decode page: %w", err)
	}
	return domain.CachedPage{Path: path, HTML: page.HTML, Expires: page.Expires}, nil
}

// PutPage сохраняет страницу.
func (s *RedisPageStore) PutPage(ctx context.Context, page domain.CachedPage) error {
	payload, err := json.Marshal(storedPage{HTML: page.HTML, Expires: page.Expires})
	if err != nil {
		return fmt.Errorf("marshal page: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, s.prefix+page.Path, payload, keyTTL(page.Expires, s.now())).Err()
	metrics.ObserveNetworkRequest("redis", "put_page", s.prefix, start, err)
	if err != nil {
		return fmt.Errorf("redis put page: %w", err)
	}
	return nil
}

// keyTTL возвращает TTL ключа: 0 для бессрочной записи, иначе на секунду дольше
// срока, но не меньше секунды. Ключ переживает срок, чтобы истечение видел pagecache.
func keyTTL(expires *time.Time, now time.Time) time.Duration {
	if expires == nil {
		return 0
	}
	ttl := expires.Sub(now) + time.Second
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// DeletePage удаляет страницу. Отсутствие ключа не ошибка.
func (s *RedisPageStore) DeletePage(ctx context.Context, path string) error {
	start := time.Now()
	err := s.client.Del(ctx, s.prefix+path).Err()
	metrics.ObserveNetworkRequest("redis", "delete_page", s.prefix, start, err)
	if err != nil {
		return fmt.Errorf("redis delete page: %w", err)
	}
	return nil
}
