// Package supervisor runs one retry loop per downloader configuration file.
//
// All loops start at once (or up to MaxConcurrent at a time) and the
// supervisor joins them. Within a loop, attempts are strictly sequential and
// separated by a fixed backoff. A loop ends when the downloader exits 0,
// when MaxAttempts is reached, or when the context is cancelled; loops never
// affect each other.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"juptidu/internal/domain"
	"juptidu/internal/runner"
	"juptidu/internal/store"
	"juptidu/internal/util"
)

var (
	// ErrAborted is returned when the run was cancelled before every loop
	// succeeded.
	ErrAborted = errors.New("supervisor: aborted")

	// ErrAttemptsExhausted marks a file whose loop hit MaxAttempts.
	ErrAttemptsExhausted = errors.New("supervisor: attempts exhausted")
)

// Tracker is told when a file's loop is registered and when its download
// succeeds. The status server implements it.
type Tracker interface {
	Pending(path string)
	Succeeded(path string)
}

// Options tune the retry loops.
type Options struct {
	RunID            string
	Backoff          time.Duration
	MaxAttempts      int // <= 0 retries until success or cancellation
	MaxConcurrent    int // <= 0 runs every loop at once
	LaunchRatePerMin int // <= 0 starts children without throttling
}

// FileResult is the outcome of one file's retry loop.
type FileResult struct {
	Path     string
	Attempts int
	Err      error
}

// Report summarizes a supervisor run.
type Report struct {
	RunID      string
	Files      []FileResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded returns how many files were downloaded successfully.
func (r Report) Succeeded() int {
	n := 0
	for _, f := range r.Files {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// Supervisor fans out retry loops over a Runner.
type Supervisor struct {
	runner  runner.Runner
	opts    Options
	log     *slog.Logger
	store   store.AttemptStore
	tracker Tracker
	limiter *util.RateLimiter
}

// New creates a Supervisor. Attempts are not recorded and no tracker is
// notified until SetStore and SetTracker are called.
func New(r runner.Runner, opts Options, log *slog.Logger) *Supervisor {
	if opts.RunID == "" {
		opts.RunID = domain.NewRunID(time.Now())
	}
	return &Supervisor{
		runner:  r,
		opts:    opts,
		log:     log,
		store:   store.NopStore{},
		limiter: util.NewRateLimiter(opts.LaunchRatePerMin, 1),
	}
}

// SetStore sets where attempts are recorded.
func (s *Supervisor) SetStore(st store.AttemptStore) {
	if st == nil {
		st = store.NopStore{}
	}
	s.store = st
}

// SetTracker sets the progress tracker.
func (s *Supervisor) SetTracker(t Tracker) {
	s.tracker = t
}

// RunID returns the identifier attempts are recorded under.
func (s *Supervisor) RunID() string {
	return s.opts.RunID
}

// Run starts a retry loop for every path and blocks until all of them have
// finished. It returns ErrAborted (wrapped) if ctx was cancelled, a joined
// ErrAttemptsExhausted error per file that gave up, or nil when every
// download succeeded.
func (s *Supervisor) Run(ctx context.Context, paths []string) (Report, error) {
	report := Report{
		RunID:     s.opts.RunID,
		Files:     make([]FileResult, len(paths)),
		StartedAt: time.Now(),
	}

	if s.tracker != nil {
		for _, p := range paths {
			s.tracker.Pending(p)
		}
	}

	s.log.Info("starting download loops",
		"run", s.opts.RunID,
		"files", len(paths),
		"backoff", s.opts.Backoff,
		"maxAttempts", s.opts.MaxAttempts,
		"maxConcurrent", s.opts.MaxConcurrent,
	)

	var g errgroup.Group
	if s.opts.MaxConcurrent > 0 {
		g.SetLimit(s.opts.MaxConcurrent)
	}
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			report.Files[i] = s.loop(ctx, p)
			return nil
		})
	}
	g.Wait()
	report.FinishedAt = time.Now()

	if ctx.Err() != nil {
		return report, fmt.Errorf("%w: %d of %d files downloaded", ErrAborted, report.Succeeded(), len(paths))
	}

	var errs []error
	for _, f := range report.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Path, f.Err))
		}
	}
	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}

	s.log.Info("all downloads complete", "run", s.opts.RunID, "files", len(paths),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

// loop retries the downloader for one path until it succeeds.
func (s *Supervisor) loop(ctx context.Context, path string) FileResult {
	fr := FileResult{Path: path}
	log := s.log.With("file", path)

	err := util.RetryFixed(ctx, s.opts.MaxAttempts, s.opts.Backoff,
		func(attempt int) error {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			fr.Attempts = attempt
			log.Debug("starting downloader", "attempt", attempt)

			res := s.runner.Run(ctx, path)
			s.record(ctx, path, attempt, res)

			if res.Succeeded() {
				return nil
			}
			if res.Err != nil {
				return res.Err
			}
			return fmt.Errorf("downloader exited with status %d", res.ExitCode)
		},
		func(attempt int, err error) {
			if ctx.Err() != nil {
				return
			}
			log.Warn("download attempt failed",
				"attempt", attempt,
				"error", err,
				"retryIn", s.opts.Backoff,
			)
		},
	)

	switch {
	case err == nil:
		log.Info("download succeeded", "attempts", fr.Attempts)
		if s.tracker != nil {
			s.tracker.Succeeded(path)
		}
	case ctx.Err() != nil:
		fr.Err = ErrAborted
		log.Info("download loop aborted", "attempts", fr.Attempts)
	default:
		fr.Err = fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, fr.Attempts, err)
		log.Error("giving up on file", "attempts", fr.Attempts, "error", err)
	}
	return fr
}

// record stores the attempt. Failures are logged and never end the loop.
func (s *Supervisor) record(ctx context.Context, path string, attempt int, res runner.Result) {
	a := domain.Attempt{
		RunID:      s.opts.RunID,
		ConfigPath: path,
		Number:     attempt,
		PID:        res.PID,
		ExitCode:   res.ExitCode,
		Outcome:    res.Outcome(),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		a.Error = res.Err.Error()
	}

	// Aborted attempts are still worth recording after cancellation.
	if err := s.store.RecordAttempt(context.WithoutCancel(ctx), &a); err != nil {
		s.log.Warn("recording attempt", "file", path, "attempt", attempt, "error", err)
	}
}
