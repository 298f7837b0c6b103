package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"silo-bridge/internal/domain"
	"silo-bridge/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AccountRepo  = (*Postgres)(nil)
	_ domain.DomainRepo   = (*Postgres)(nil)
	_ domain.ActivityRepo = (*Postgres)(nil)
	_ domain.PageStore    = (*Postgres)(nil)
)

// txRetryMax ограничивает число попыток read-modify-write при конфликтах.
const txRetryMax = 5

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// retryable сообщает, что транзакцию можно повторить: сериализация, дедлок
// или гонка двух вставок одной записи.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

const accountColumns = `site, id, name, picture, url, domain_urls, domains, features, last_polled, created_at, updated_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		a          domain.Account
		lastPolled sql.NullTime
	)
	err := row.Scan(&a.Site, &a.ID, &a.Name, &a.Picture, &a.URL, &a.DomainURLs, &a.Domains, &a.Features, &lastPolled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Account{}, err
	}
	if lastPolled.Valid {
		a.LastPolled = lastPolled.Time
	}
	return a, nil
}

// GetAccount реализует domain.AccountRepo.
func (p *Postgres) GetAccount(ctx context.Context, key domain.AccountKey) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	account, err := scanAccount(p.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE site=$1 AND id=$2`, key.Site, key.ID))
	metrics.ObserveNetworkRequest("postgres", "accounts_get", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, err
}

// FindAccountByURL реализует domain.AccountRepo.
func (p *Postgres) FindAccountByURL(ctx context.Context, site, url string) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	account, err := scanAccount(p.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE site=$1 AND url=$2 ORDER BY id LIMIT 1`, site, url))
	metrics.ObserveNetworkRequest("postgres", "accounts_find_by_url", "accounts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrNotFound
	}
	return account, err
}

// UpdateAccount реализует domain.AccountRepo.
func (p *Postgres) UpdateAccount(ctx context.Context, key domain.AccountKey, fn func(existing *domain.Account) (domain.Account, error)) (domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	for attempt := 0; attempt < txRetryMax; attempt++ {
		account, err := p.updateAccountOnce(ctx, key, fn)
		if err == nil {
			return account, nil
		}
		if !retryable(err) {
			return domain.Account{}, err
		}
	}
	return domain.Account{}, fmt.Errorf("%w: account %s", domain.ErrPersistenceConflict, key)
}

func (p *Postgres) updateAccountOnce(ctx context.Context, key domain.AccountKey, fn func(existing *domain.Account) (domain.Account, error)) (domain.Account, error) {
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	current, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE site=$1 AND id=$2 FOR UPDATE`, key.Site, key.ID))
	metrics.ObserveNetworkRequest("postgres", "accounts_get_for_update", "accounts", start, err)

	var existing *domain.Account
	switch {
	case err == nil:
		existing = &current
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return domain.Account{}, err
	}

	updated, err := fn(existing)
	if err != nil {
		return domain.Account{}, err
	}
	updated.Site, updated.ID = key.Site, key.ID

	var lastPolled sql.NullTime
	if !updated.LastPolled.IsZero() {
		lastPolled = sql.NullTime{Time: updated.LastPolled, Valid: true}
	}

	query := `
INSERT INTO accounts (site, id, name, picture, url, domain_urls, domains, features, last_polled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at
`
	operation := "accounts_insert"
	if existing != nil {
		query = `
UPDATE accounts
SET name=$3, picture=$4, url=$5, domain_urls=$6, domains=$7, features=$8, last_polled=$9, updated_at=now()
WHERE site=$1 AND id=$2
RETURNING created_at, updated_at
`
		operation = "accounts_update"
	}

	start = time.Now()
	err = tx.QueryRow(ctx, query, key.Site, key.ID, updated.Name, updated.Picture, updated.URL,
		nonNil(updated.DomainURLs), nonNil(updated.Domains), nonNil(updated.Features), lastPolled,
	).Scan(&updated.CreatedAt, &updated.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", operation, "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "accounts", start, err)
	if err != nil {
		return domain.Account{}, err
	}
	return updated, nil
}

// ListAccounts реализует domain.AccountRepo. limit <= 0 снимает ограничение.
func (p *Postgres) ListAccounts(ctx context.Context, limit int) ([]domain.Account, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY site, id LIMIT NULLIF($1, 0)`, max(limit, 0))
	metrics.ObserveNetworkRequest("postgres", "accounts_list", "accounts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// GetDomains реализует domain.DomainRepo.
func (p *Postgres) GetDomains(ctx context.Context, names []string) ([]domain.Domain, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, tokens FROM domains WHERE id = ANY($1) ORDER BY id`, names)
	metrics.ObserveNetworkRequest("postgres", "domains_get", "domains", start, err)
	if err != nil {
		return nil, err
	}
	return collectDomains(rows)
}

// DomainsForToken реализует domain.DomainRepo.
func (p *Postgres) DomainsForToken(ctx context.Context, token string) ([]domain.Domain, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, tokens FROM domains WHERE $1::text = ANY(tokens) ORDER BY id`, token)
	metrics.ObserveNetworkRequest("postgres", "domains_for_token", "domains", start, err)
	if err != nil {
		return nil, err
	}
	return collectDomains(rows)
}

func collectDomains(rows pgx.Rows) ([]domain.Domain, error) {
	defer rows.Close()
	var out []domain.Domain
	for rows.Next() {
		var d domain.Domain
		if err := rows.Scan(&d.ID, &d.Tokens); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddToken реализует domain.DomainRepo. Повторное добавление токена ничего не меняет.
func (p *Postgres) AddToken(ctx context.Context, name, token string) (domain.Domain, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var d domain.Domain
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO domains (id, tokens) VALUES ($1, ARRAY[$2::text])
ON CONFLICT (id) DO UPDATE SET tokens = CASE
	WHEN $2::text = ANY(domains.tokens) THEN domains.tokens
	ELSE array_append(domains.tokens, $2::text)
END
RETURNING id, tokens
`, name, token).Scan(&d.ID, &d.Tokens)
	metrics.ObserveNetworkRequest("postgres", "domains_add_token", "domains", start, err)
	if err != nil {
		return domain.Domain{}, err
	}
	return d, nil
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a   domain.Activity
		raw []byte
	)
	if err := row.Scan(&a.ID, &a.Account.Site, &a.Account.ID, &raw, &a.Updated); err != nil {
		return domain.Activity{}, err
	}
	body, err := domain.ParseObject(raw)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("decode activity %s: %w", a.ID, err)
	}
	a.Body = body
	return a, nil
}

// GetActivity реализует domain.ActivityRepo.
func (p *Postgres) GetActivity(ctx context.Context, id string) (domain.Activity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	activity, err := scanActivity(p.pool.QueryRow(ctx, `SELECT id, account_site, account_id, activity_json, updated FROM activities WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "activities_get", "activities", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Activity{}, domain.ErrNotFound
	}
	return activity, err
}

// UpdateActivity реализует domain.ActivityRepo. Строка блокируется через
// SELECT ... FOR UPDATE, гонка двух первых вставок решается повтором.
func (p *Postgres) UpdateActivity(ctx context.Context, id string, fn func(existing *domain.Activity) (domain.Activity, error)) (domain.Activity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	for attempt := 0; attempt < txRetryMax; attempt++ {
		activity, err := p.updateActivityOnce(ctx, id, fn)
		if err == nil {
			return activity, nil
		}
		if !retryable(err) {
			return domain.Activity{}, err
		}
	}
	return domain.Activity{}, fmt.Errorf("%w: activity %s", domain.ErrPersistenceConflict, id)
}

func (p *Postgres) updateActivityOnce(ctx context.Context, id string, fn func(existing *domain.Activity) (domain.Activity, error)) (domain.Activity, error) {
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "activities", start, err)
	if err != nil {
		return domain.Activity{}, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	current, err := scanActivity(tx.QueryRow(ctx, `SELECT id, account_site, account_id, activity_json, updated FROM activities WHERE id=$1 FOR UPDATE`, id))
	metrics.ObserveNetworkRequest("postgres", "activities_get_for_update", "activities", start, err)

	var existing *domain.Activity
	switch {
	case err == nil:
		existing = &current
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return domain.Activity{}, err
	}

	updated, err := fn(existing)
	if err != nil {
		return domain.Activity{}, err
	}
	updated.ID = id

	payload, err := json.Marshal(updated.Body)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("marshal activity: %w", err)
	}

	query := `
INSERT INTO activities (id, account_site, account_id, activity_json, updated)
VALUES ($1, $2, $3, $4, now())
RETURNING updated
`
	operation := "activities_insert"
	if existing != nil {
		query = `
UPDATE activities SET account_site=$2, account_id=$3, activity_json=$4, updated=now()
WHERE id=$1
RETURNING updated
`
		operation = "activities_update"
	}

	start = time.Now()
	err = tx.QueryRow(ctx, query, id, updated.Account.Site, updated.Account.ID, payload).Scan(&updated.Updated)
	metrics.ObserveNetworkRequest("postgres", operation, "activities", start, err)
	if err != nil {
		return domain.Activity{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "activities", start, err)
	if err != nil {
		return domain.Activity{}, err
	}
	return updated, nil
}

// ListActivities реализует domain.ActivityRepo, новые записи первыми.
func (p *Postgres) ListActivities(ctx context.Context, account domain.AccountKey, limit int) ([]domain.Activity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, account_site, account_id, activity_json, updated
FROM activities
WHERE account_site=$1 AND account_id=$2
ORDER BY updated DESC
LIMIT NULLIF($3, 0)
`, account.Site, account.ID, max(limit, 0))
	metrics.ObserveNetworkRequest("postgres", "activities_list", "activities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, activity)
	}
	return out, rows.Err()
}

// GetPage реализует domain.PageStore.
func (p *Postgres) GetPage(ctx context.Context, path string) (domain.CachedPage, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	page := domain.CachedPage{Path: path}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT html, expires FROM cached_pages WHERE path=$1`, path).Scan(&page.HTML, &page.Expires)
	metrics.ObserveNetworkRequest("postgres", "cached_pages_get", "cached_pages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CachedPage{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CachedPage{}, err
	}
	return page, nil
}

// PutPage реализует domain.PageStore.
func (p *Postgres) PutPage(ctx context.Context, page domain.CachedPage) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO cached_pages (path, html, expires) VALUES ($1, $2, $3)
ON CONFLICT (path) DO UPDATE SET html = EXCLUDED.html, expires = EXCLUDED.expires
`, page.Path, page.HTML, page.Expires)
	metrics.ObserveNetworkRequest("postgres", "cached_pages_put", "cached_pages", start, err)
	return err
}

// DeletePage реализует domain.PageStore.
func (p *Postgres) DeletePage(ctx context.Context, path string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM cached_pages WHERE path=$1`, path)
	metrics.ObserveNetworkRequest("postgres", "cached_pages_delete", "cached_pages", start, err)
	return err
}
