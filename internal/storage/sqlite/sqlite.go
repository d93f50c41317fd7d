package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FranksOps/shopsage/internal/storage"
	_ "modernc.org/sqlite"
)

var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS fetch_results (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	domain TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT,
	bytes INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	detected_bot BOOLEAN NOT NULL,
	detection_src TEXT,
	created_at DATETIME NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS fetch_results_created_at ON fetch_results (created_at);
`

// New opens (or creates) a SQLite fetch audit log at dsn.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY under
	// concurrent enrichment.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.FetchResult) error {
	const q = `
	INSERT INTO fetch_results (
		id, url, domain, status_code, content_type, bytes, duration_ms, detected_bot, detection_src, created_at, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := b.db.ExecContext(ctx, q,
		r.ID, r.URL, r.Domain, r.StatusCode, r.ContentType, r.Bytes,
		r.Duration.Milliseconds(), r.DetectedBot, r.DetectionSrc, r.CreatedAt.UTC(), r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert fetch result: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, f storage.Filter) ([]*storage.FetchResult, error) {
	q := `SELECT id, url, domain, status_code, content_type, bytes, duration_ms, detected_bot, detection_src, created_at, error
	FROM fetch_results WHERE 1=1`
	var args []any

	if f.Domain != "" {
		q += ` AND domain = ?`
		args = append(args, f.Domain)
	}
	if f.DetectedBot != nil {
		q += ` AND detected_bot = ?`
		args = append(args, *f.DetectedBot)
	}
	if f.Since != nil {
		q += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query fetch results: %w", err)
	}
	defer rows.Close()

	var out []*storage.FetchResult
	for rows.Next() {
		var (
			r          storage.FetchResult
			durationMs int64
			ctype, src sql.NullString
			errText    sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.URL, &r.Domain, &r.StatusCode, &ctype, &r.Bytes,
			&durationMs, &r.DetectedBot, &src, &r.CreatedAt, &errText); err != nil {
			return nil, fmt.Errorf("scan fetch result: %w", err)
		}
		r.ContentType = ctype.String
		r.DetectionSrc = src.String
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fetch results: %w", err)
	}
	return out, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
