package repo

import (
	"context"
	"fmt"
	"time"

	"silo-bridge/internal/infra/metrics"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		site TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		picture TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		domain_urls TEXT[] NOT NULL DEFAULT '{}',
		domains TEXT[] NOT NULL DEFAULT '{}',
		features TEXT[] NOT NULL DEFAULT '{}',
		last_polled TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (site, id)
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_site_url_idx ON accounts (site, url)`,
	`CREATE TABLE IF NOT EXISTS domains (
		id TEXT PRIMARY KEY,
		tokens TEXT[] NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS domains_tokens_idx ON domains USING GIN (tokens)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		account_site TEXT NOT NULL,
		account_id TEXT NOT NULL,
		activity_json JSONB NOT NULL,
		updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS activities_account_idx ON activities (account_site, account_id, updated DESC)`,
	`CREATE TABLE IF NOT EXISTS cached_pages (
		path TEXT PRIMARY KEY,
		html TEXT NOT NULL,
		expires TIMESTAMPTZ
	)`,
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	for _, q := range schema {
		start := time.Now()
		_, err := p.pool.Exec(ctx, q)
		metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
		if err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
