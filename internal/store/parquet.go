package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"juptidu/internal/domain"
)

// Compile-time interface check.
var _ AttemptStore = (*ParquetStore)(nil)

// ParquetStore implements AttemptStore using one Parquet file per run:
//
//	<Dir>/attempts/<RUN_ID>.parquet
//
// Each RecordAttempt rewrites the run's file, which is fine at the rate a
// supervisor produces attempts.
type ParquetStore struct {
	Dir string

	mu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given directory.
func NewParquetStore(dir string) *ParquetStore {
	return &ParquetStore{Dir: dir}
}

// AttemptRecord is the Parquet schema for attempt history.
type AttemptRecord struct {
	RunID      string `parquet:"run_id"`
	ConfigPath string `parquet:"config_path"`
	Number     int64  `parquet:"number"`
	PID        int64  `parquet:"pid"`
	ExitCode   int64  `parquet:"exit_code"`
	Outcome    string `parquet:"outcome"`
	Error      string `parquet:"error"`
	StartedAt  int64  `parquet:"started_at,timestamp(millisecond)"` // Unix ms
	FinishedAt int64  `parquet:"finished_at,timestamp(millisecond)"`
}

// RecordAttempt merges a into its run's Parquet file.
func (s *ParquetStore) RecordAttempt(_ context.Context, a *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runPath(a.RunID)
	existing, err := readRunFile(path)
	if err != nil {
		// Rewriting would drop the records already in the file.
		return fmt.Errorf("reading attempts for run %s: %w", a.RunID, err)
	}
	merged := mergeAttemptRecords(existing, []AttemptRecord{toRecord(a)})

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing attempts for run %s: %w", a.RunID, err)
	}
	return nil
}

// ListAttempts reads the matching run files and filters them.
func (s *ParquetStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := []string{f.RunID}
	if f.RunID == "" {
		var err error
		if runs, err = s.listRunsLocked(); err != nil {
			return nil, err
		}
	}

	var out []domain.Attempt
	for _, run := range runs {
		records, err := readRunFile(s.runPath(run))
		if err != nil {
			return nil, fmt.Errorf("reading attempts for run %s: %w", run, err)
		}
		for _, r := range records {
			if f.ConfigPath != "" && r.ConfigPath != f.ConfigPath {
				continue
			}
			out = append(out, fromRecord(r))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		if out[i].ConfigPath != out[j].ConfigPath {
			return out[i].ConfigPath < out[j].ConfigPath
		}
		return out[i].Number < out[j].Number
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListRuns lists run IDs from the attempts directory, newest first.
func (s *ParquetStore) ListRuns(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listRunsLocked()
}

// Close is a no-op; every write is flushed to its own file.
func (s *ParquetStore) Close() error { return nil }

func (s *ParquetStore) listRunsLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, "attempts"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		runs = append(runs, strings.TrimSuffix(name, ".parquet"))
	}
	// Run IDs start with a UTC timestamp, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// runPath returns the filesystem path for a run's Parquet file.
// Layout: <Dir>/attempts/<RUN_ID>.parquet
func (s *ParquetStore) runPath(runID string) string {
	return filepath.Join(s.Dir, "attempts", runID+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, records); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// readRunFile returns the records in a run file. A run without a file has
// no records yet.
func readRunFile(path string) ([]AttemptRecord, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return readParquetFile[AttemptRecord](path)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeAttemptRecords deduplicates records by (config path, number),
// preferring incoming records over existing ones. Results are sorted by
// start time.
func mergeAttemptRecords(existing, incoming []AttemptRecord) []AttemptRecord {
	type key struct {
		path   string
		number int64
	}
	seen := make(map[key]AttemptRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.ConfigPath, r.Number}] = r
	}
	for _, r := range incoming {
		seen[key{r.ConfigPath, r.Number}] = r
	}

	merged := make([]AttemptRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].StartedAt != merged[j].StartedAt {
			return merged[i].StartedAt < merged[j].StartedAt
		}
		if merged[i].ConfigPath != merged[j].ConfigPath {
			return merged[i].ConfigPath < merged[j].ConfigPath
		}
		return merged[i].Number < merged[j].Number
	})
	return merged
}

func toRecord(a *domain.Attempt) AttemptRecord {
	return AttemptRecord{
		RunID:      a.RunID,
		ConfigPath: a.ConfigPath,
		Number:     int64(a.Number),
		PID:        int64(a.PID),
		ExitCode:   int64(a.ExitCode),
		Outcome:    string(a.Outcome),
		Error:      a.Error,
		StartedAt:  a.StartedAt.UnixMilli(),
		FinishedAt: a.FinishedAt.UnixMilli(),
	}
}

func fromRecord(r AttemptRecord) domain.Attempt {
	return domain.Attempt{
		RunID:      r.RunID,
		ConfigPath: r.ConfigPath,
		Number:     int(r.Number),
		PID:        int(r.PID),
		ExitCode:   int(r.ExitCode),
		Outcome:    domain.Outcome(r.Outcome),
		Error:      r.Error,
		StartedAt:  time.UnixMilli(r.StartedAt),
		FinishedAt: time.UnixMilli(r.FinishedAt),
	}
}
