package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS fetch_results (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	bytes BIGINT NOT NULL,
	duration_ms BIGINT NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS fetch_results_created_at ON fetch_results (created_at DESC);
`

// New connects to Postgres at dsn and ensures the fetch audit table exists.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.FetchResult) error {
	const q = `
	INSERT INTO fetch_results (
		id, url, domain, status_code, content_type, bytes, duration_ms, detected_bot, detection_src, created_at, error
	) VALUES (
		@id, @url, @domain, @status, @ctype, @bytes, @duration, @detected, @src, @created, @error
	)`

	_, err := b.pool.Exec(ctx, q, pgx.NamedArgs{
		"id":       r.ID,
		"url":      r.URL,
		"domain":   r.Domain,
		"status":   r.StatusCode,
		"ctype":    r.ContentType,
		"bytes":    r.Bytes,
		"duration": r.Duration.Milliseconds(),
		"detected": r.DetectedBot,
		"src":      r.DetectionSrc,
		"created":  r.CreatedAt,
		"error":    r.Error,
	})
	if err != nil {
		return fmt.Errorf("insert fetch result: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, f storage.Filter) ([]*storage.FetchResult, error) {
	q := `SELECT id, url, domain, status_code, content_type, bytes, duration_ms, detected_bot, detection_src, created_at, error
	FROM fetch_results WHERE true`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Domain != "" {
		q += ` AND domain = ` + arg(f.Domain)
	}
	if f.DetectedBot != nil {
		q += ` AND detected_bot = ` + arg(*f.DetectedBot)
	}
	if f.Since != nil {
		q += ` AND created_at >= ` + arg(*f.Since)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetch results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.FetchResult, error) {
		var r storage.FetchResult
		var durationMs int64
		err := row.Scan(&r.ID, &r.URL, &r.Domain, &r.StatusCode, &r.ContentType, &r.Bytes,
			&durationMs, &r.DetectedBot, &r.DetectionSrc, &r.CreatedAt, &r.Error)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		return &r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan fetch results: %w", err)
	}
	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
