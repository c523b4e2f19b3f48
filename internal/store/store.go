// Package store defines storage for the attempt history: one record per
// downloader invocation, grouped by supervisor run.
package store

import (
	"context"
	"fmt"
	"os"

	"juptidu/internal/domain"
)

// AttemptFilter narrows ListAttempts. Zero fields match everything.
type AttemptFilter struct {
	RunID      string
	ConfigPath string
	Limit      int
}

// AttemptStore persists and retrieves downloader attempts.
type AttemptStore interface {
	// RecordAttempt persists one finished attempt. Recording the same
	// (run, config path, attempt number) twice replaces the earlier record.
	RecordAttempt(ctx context.Context, a *domain.Attempt) error

	// ListAttempts returns attempts ordered by start time, oldest first.
	ListAttempts(ctx context.Context, f AttemptFilter) ([]domain.Attempt, error)

	// ListRuns returns the known run IDs, most recent first.
	ListRuns(ctx context.Context) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Open returns the AttemptStore for the named backend rooted at dir.
// Supported backends are "sqlite" (the default when empty), "parquet" and
// "none".
func Open(backend, dir string) (AttemptStore, error) {
	if backend == "none" {
		return NopStore{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}

	switch backend {
	case "sqlite", "":
		return NewSQLiteStore(SQLitePath(dir))
	case "parquet":
		return NewParquetStore(dir), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

// NopStore discards every attempt.
type NopStore struct{}

var _ AttemptStore = NopStore{}

func (NopStore) RecordAttempt(context.Context, *domain.Attempt) error { return nil }

func (NopStore) ListAttempts(context.Context, AttemptFilter) ([]domain.Attempt, error) {
	return nil, nil
}

func (NopStore) ListRuns(context.Context) ([]string, error) { return nil, nil }

func (NopStore) Close() error { return nil }
