// Package domain defines the core types shared by the supervisor, the
// attempt history stores, and the operator tools.
package domain

import (
	"fmt"
	"os"
	"time"
)

// Outcome is the terminal state of a single downloader attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// ExitCodeUnknown is recorded when a child never started or was killed
// before reporting an exit status.
const ExitCodeUnknown = -1

// Attempt is one invocation of the downloader for one configuration file.
type Attempt struct {
	RunID      string
	ConfigPath string
	Number     int // 1-based within the file's retry loop
	PID        int
	ExitCode   int
	Outcome    Outcome
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the attempt ran.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() || a.StartedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// NewRunID returns an identifier for a supervisor execution of the form
// YYYYMMDD-HHMMSS-<pid>.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%d", now.UTC().Format("20060102-150405"), os.Getpid())
}
