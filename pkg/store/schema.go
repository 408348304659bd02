package store

import (
	"context"
	"fmt"
	"strings"
)

// Timestamps are BIGINT unix milliseconds so the same DDL runs on SQLite and
// PostgreSQL. {{blob}} is the only type that differs between the two.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key  TEXT PRIMARY KEY,
		namespace  TEXT NOT NULL,
		subject    TEXT NOT NULL DEFAULT '',
		payload    {{blob}} NOT NULL,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_subject ON cache_entries(subject)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_namespace ON cache_entries(namespace)`,

	`CREATE TABLE IF NOT EXISTS ai_explanations (
		id               TEXT PRIMARY KEY,
		stock_code       TEXT NOT NULL,
		chart_period     TEXT NOT NULL,
		explanation_text TEXT NOT NULL,
		technical_data   TEXT NOT NULL DEFAULT '{}',
		source           TEXT NOT NULL,
		created_at       BIGINT NOT NULL,
		expires_at       BIGINT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_ai_explanations_subject ON ai_explanations(stock_code, chart_period)`,
	`CREATE INDEX IF NOT EXISTS idx_ai_explanations_expires ON ai_explanations(expires_at)`,

	`CREATE TABLE IF NOT EXISTS daily_api_usage (
		usage_date       TEXT PRIMARY KEY,
		total_requests   INTEGER NOT NULL DEFAULT 0,
		estimated_tokens BIGINT NOT NULL DEFAULT 0,
		actual_tokens    BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS minute_api_usage (
		minute_key TEXT PRIMARY KEY,
		requests   INTEGER NOT NULL DEFAULT 0,
		tokens     BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS user_daily_usage (
		user_id       TEXT NOT NULL,
		usage_date    TEXT NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		token_count   BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, usage_date)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		nickname   TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS search_history (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		stock_code  TEXT NOT NULL,
		searched_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_search_history_user ON search_history(user_id, searched_at)`,
	`CREATE TABLE IF NOT EXISTS bookmarks (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		stock_code    TEXT NOT NULL,
		bookmarked_at BIGINT NOT NULL,
		UNIQUE (user_id, stock_code)
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	blob := "BLOB"
	if db.driver == DriverPostgres {
		blob = "BYTEA"
	}
	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{blob}}", blob)
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
