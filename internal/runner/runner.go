// Package runner starts the external downloader for one configuration file
// and reports how the child process ended.
//
// Each child runs in its own process group so that cancellation reaches
// anything the downloader spawned. Cancelling the context passed to Run
// kills the group with SIGKILL, optionally after a SIGTERM grace period, and
// Run does not return until the child has been reaped.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"juptidu/internal/domain"
)

// ErrEmptyCommand is returned when an ExecRunner has no command configured.
var ErrEmptyCommand = errors.New("runner: empty command")

// pipeDrainDelay bounds how long Wait keeps copying output after the child
// exits while descendants still hold its stdout/stderr open.
const pipeDrainDelay = time.Second

// Runner executes the downloader for one configuration file.
type Runner interface {
	// Run invokes the downloader with path as its sole extra argument and
	// blocks until the child has exited or been killed.
	Run(ctx context.Context, path string) Result
}

// Result captures the outcome of one downloader invocation.
type Result struct {
	Path       string
	PID        int
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Aborted    bool
	Err        error
}

// Succeeded reports whether the downloader exited with status 0.
func (r Result) Succeeded() bool {
	return r.Err == nil && !r.Aborted && r.ExitCode == 0
}

// Outcome classifies the result for the attempt history.
func (r Result) Outcome() domain.Outcome {
	switch {
	case r.Aborted:
		return domain.OutcomeAborted
	case r.Succeeded():
		return domain.OutcomeSucceeded
	default:
		return domain.OutcomeFailed
	}
}

// ExecRunner runs Command[0] with Command[1:] followed by the config path.
type ExecRunner struct {
	Command []string

	// GracePeriod > 0 sends SIGTERM to the process group on cancellation
	// and escalates to SIGKILL after the period. Zero kills immediately.
	GracePeriod time.Duration

	// Stdout and Stderr receive the child's output. Nil means os.Stdout and
	// os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	// PrefixOutput tags each output line with the config file's base name.
	PrefixOutput bool
}

// NewExecRunner creates an ExecRunner for the given downloader command.
func NewExecRunner(command []string, grace time.Duration) *ExecRunner {
	return &ExecRunner{Command: command, GracePeriod: grace}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, path string) Result {
	res := Result{Path: path, ExitCode: domain.ExitCodeUnknown, StartedAt: time.Now()}

	if len(r.Command) == 0 {
		res.Err = ErrEmptyCommand
		res.FinishedAt = time.Now()
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Aborted = true
		res.Err = err
		res.FinishedAt = time.Now()
		return res
	}

	args := make([]string, 0, len(r.Command))
	args = append(args, r.Command[1:]...)
	args = append(args, path)

	cmd := exec.Command(r.Command[0], args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = pipeDrainDelay

	stdout, stderr := r.writers(path)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	defer flushAll(stdout, stderr)

	if err := cmd.Start(); err != nil {
		res.Err = fmt.Errorf("starting %s: %w", r.Command[0], err)
		res.FinishedAt = time.Now()
		return res
	}
	res.PID = cmd.Process.Pid

	exited := make(chan struct{})
	watcherDone := make(chan struct{})
	var groupKilled bool
	go func() {
		defer close(watcherDone)
		select {
		case <-exited:
		case <-ctx.Done():
			groupKilled = r.stop(cmd.Process, exited)
		}
	}()

	waitErr := cmd.Wait()
	close(exited)
	<-watcherDone
	res.FinishedAt = time.Now()

	if ctx.Err() != nil {
		// The leader is reaped but descendants may remain, either because it
		// exited on SIGTERM or because it exited before the watcher saw the
		// cancellation. The group id stays reserved while any member lives;
		// an empty group yields ESRCH, which killGroup ignores.
		if !groupKilled {
			killGroup(cmd.Process)
		}
		res.Aborted = true
		res.Err = ctx.Err()
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
		return res
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		res.Err = fmt.Errorf("downloader exited with status %d", res.ExitCode)
		if res.ExitCode == -1 {
			res.Err = fmt.Errorf("downloader terminated: %s", exitErr.ProcessState)
		}
	case errors.Is(waitErr, exec.ErrWaitDelay):
		// The child exited cleanly but a descendant kept the pipes open.
		res.ExitCode = cmd.ProcessState.ExitCode()
		if res.ExitCode != 0 {
			res.Err = fmt.Errorf("downloader exited with status %d", res.ExitCode)
		}
	default:
		res.Err = fmt.Errorf("waiting for downloader: %w", waitErr)
	}
	return res
}

// stop terminates the child's process group, honouring the grace period.
// It reports whether the group was sent SIGKILL.
func (r *ExecRunner) stop(p *os.Process, exited <-chan struct{}) bool {
	if r.GracePeriod <= 0 {
		killGroup(p)
		return true
	}

	terminateGroup(p)
	t := time.NewTimer(r.GracePeriod)
	defer t.Stop()
	select {
	case <-exited:
		return false
	case <-t.C:
		killGroup(p)
		return true
	}
}

func (r *ExecRunner) writers(path string) (io.Writer, io.Writer) {
	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if !r.PrefixOutput {
		return stdout, stderr
	}
	tag := "[" + filepath.Base(path) + "] "
	return newPrefixWriter(stdout, tag), newPrefixWriter(stderr, tag)
}
