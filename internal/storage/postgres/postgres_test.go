package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/FranksOps/shopsage/internal/storage"
	"github.com/google/uuid"
)

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("SHOPSAGE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: SHOPSAGE_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	domain := "pg-" + uuid.NewString() + ".example.com"
	res := &storage.FetchResult{
		ID:           uuid.NewString(),
		URL:          "https://" + domain + "/earbuds",
		Domain:       domain,
		StatusCode:   403,
		ContentType:  "text/html",
		Bytes:        512,
		Duration:     50 * time.Millisecond,
		DetectedBot:  true,
		DetectionSrc: "DataDome",
		CreatedAt:    time.Now().UTC(),
	}
	if err := b.Save(ctx, res); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	results, err := b.Query(ctx, storage.Filter{Domain: domain, Limit: 5})
	if err != nil {
		t.Fatalf("Failed to query results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	got := results[0]
	if got.ID != res.ID || got.DetectionSrc != "DataDome" || got.Duration != res.Duration {
		t.Errorf("Round trip mismatch: %+v", got)
	}
}
