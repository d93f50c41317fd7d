package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/FranksOps/shopsage/internal/storage"
)

var _ storage.Backend = (*jsonBackend)(nil)

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New opens an append-only NDJSON fetch audit log at filePath.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &jsonBackend{file: f}, nil
}

func (b *jsonBackend) Save(ctx context.Context, r *storage.FetchResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode fetch result: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append fetch result: %w", err)
	}
	return nil
}

// Query scans the whole file; the log is small and filtering happens in memory.
func (b *jsonBackend) Query(ctx context.Context, f storage.Filter) ([]*storage.FetchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind audit file: %w", err)
	}
	defer func() { _, _ = b.file.Seek(0, io.SeekEnd) }()

	var out []*storage.FetchResult
	sc := bufio.NewScanner(b.file)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r storage.FetchResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode fetch result: %w", err)
		}
		if !matches(&r, f) {
			continue
		}
		out = append(out, &r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*storage.FetchResult{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(r *storage.FetchResult, f storage.Filter) bool {
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if f.DetectedBot != nil && r.DetectedBot != *f.DetectedBot {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
