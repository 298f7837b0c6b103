package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"silo-bridge/internal/domain"
)

// Store хранит аккаунты, домены, активности и страницы в памяти процесса.
// Подходит для локального запуска и тестов.
type Store struct {
	mu         sync.RWMutex
	accounts   map[domain.AccountKey]domain.Account
	domains    map[string]domain.Domain
	activities map[string]domain.Activity
	pages      map[string]domain.CachedPage

	locks keyedMutex
	now   domain.Clock
}

var (
	_ domain.AccountRepo  = (*Store)(nil)
	_ domain.DomainRepo   = (*Store)(nil)
	_ domain.ActivityRepo = (*Store)(nil)
	_ domain.PageStore    = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		accounts:   make(map[domain.AccountKey]domain.Account),
		domains:    make(map[string]domain.Domain),
		activities: make(map[string]domain.Activity),
		pages:      make(map[string]domain.CachedPage),
		locks:      keyedMutex{locks: make(map[string]*sync.Mutex)},
		now:        time.Now,
	}
}

// GetAccount реализует domain.AccountRepo.
func (s *Store) GetAccount(_ context.Context, key domain.AccountKey) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[key]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return copyAccount(a), nil
}

// FindAccountByURL реализует domain.AccountRepo.
func (s *Store) FindAccountByURL(_ context.Context, site, url string) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Site == site && a.URL == url {
			return copyAccount(a), nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

// UpdateAccount реализует domain.AccountRepo.
func (s *Store) UpdateAccount(_ context.Context, key domain.AccountKey, fn func(existing *domain.Account) (domain.Account, error)) (domain.Account, error) {
	unlock := s.locks.lock("account:" + key.String())
	defer unlock()

	s.mu.RLock()
	current, ok := s.accounts[key]
	s.mu.RUnlock()

	var existing *domain.Account
	if ok {
		cp := copyAccount(current)
		existing = &cp
	}
	updated, err := fn(existing)
	if err != nil {
		return domain.Account{}, err
	}
	updated.Site, updated.ID = key.Site, key.ID
	now := s.now()
	if existing == nil {
		updated.CreatedAt = now
	} else {
		updated.CreatedAt = current.CreatedAt
	}
	updated.UpdatedAt = now

	s.mu.Lock()
	s.accounts[key] = copyAccount(updated)
	s.mu.Unlock()
	return updated, nil
}

// ListAccounts реализует domain.AccountRepo.
func (s *Store) ListAccounts(_ context.Context, limit int) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, copyAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetDomains реализует domain.DomainRepo.
func (s *Store) GetDomains(_ context.Context, names []string) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Domain
	for _, name := range names {
		if d, ok := s.domains[name]; ok {
			out = append(out, copyDomain(d))
		}
	}
	return out, nil
}

// DomainsForToken реализует domain.DomainRepo.
func (s *Store) DomainsForToken(_ context.Context, token string) ([]domain.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Domain
	for _, d := range s.domains {
		if d.HasToken(token) {
			out = append(out, copyDomain(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddToken реализует domain.DomainRepo.
func (s *Store) AddToken(_ context.Context, name, token string) (domain.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.domains[name]
	d.ID = name
	if !d.HasToken(token) {
		d.Tokens = append(d.Tokens, token)
	}
	s.domains[name] = d
	return copyDomain(d), nil
}

// GetActivity реализует domain.ActivityRepo.
func (s *Store) GetActivity(_ context.Context, id string) (domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return domain.Activity{}, domain.ErrNotFound
	}
	a.Body = a.Body.Clone()
	return a, nil
}

// UpdateActivity реализует domain.ActivityRepo. Вызовы для одного id сериализуются.
func (s *Store) UpdateActivity(_ context.Context, id string, fn func(existing *domain.Activity) (domain.Activity, error)) (domain.Activity, error) {
	unlock := s.locks.lock("activity:" + id)
	defer unlock()

	s.mu.RLock()
	current, ok := s.activities[id]
	s.mu.RUnlock()

	var existing *domain.Activity
	if ok {
		cp := current
		cp.Body = current.Body.Clone()
		existing = &cp
	}
	updated, err := fn(existing)
	if err != nil {
		return domain.Activity{}, err
	}
	updated.ID = id
	updated.Updated = s.now()

	stored := updated
	stored.Body = updated.Body.Clone()
	s.mu.Lock()
	s.activities[id] = stored
	s.mu.Unlock()
	return updated, nil
}

// ListActivities реализует domain.ActivityRepo, новые записи первыми.
func (s *Store) ListActivities(_ context.Context, account domain.AccountKey, limit int) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Activity
	for _, a := range s.activities {
		if a.Account == account {
			a.Body = a.Body.Clone()
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetPage реализует domain.PageStore.
func (s *Store) GetPage(_ context.Context, path string) (domain.CachedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[path]
	if !ok {
		return domain.CachedPage{}, domain.ErrNotFound
	}
	return p, nil
}

// PutPage реализует domain.PageStore.
func (s *Store) PutPage(_ context.Context, page domain.CachedPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[page.Path] = page
	return nil
}

// DeletePage реализует domain.PageStore.
func (s *Store) DeletePage(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, path)
	return nil
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func copyAccount(a domain.Account) domain.Account {
	a.DomainURLs = append([]string(nil), a.DomainURLs...)
	a.Domains = append([]string(nil), a.Domains...)
	a.Features = append([]string(nil), a.Features...)
	return a
}

func copyDomain(d domain.Domain) domain.Domain {
	d.Tokens = append([]string(nil), d.Tokens...)
	return d
}
