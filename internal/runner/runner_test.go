//go:build unix

package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"juptidu/internal/domain"
	"juptidu/internal/testutil"
)

func TestHelperDownloader(t *testing.T) { testutil.HelperDownloaderMain() }

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the
// stdout/stderr copiers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newHelperRunner(t *testing.T) (*ExecRunner, *syncBuffer) {
	t.Helper()
	testutil.EnableHelper(t)
	out := &syncBuffer{}
	r := NewExecRunner(testutil.HelperCommand(), 0)
	r.Stdout = out
	r.Stderr = out
	return r, out
}

func TestExecRunnerSuccess(t *testing.T) {
	r, out := newHelperRunner(t)
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "ok")

	res := r.Run(context.Background(), path)
	if !res.Succeeded() {
		t.Fatalf("Run = %+v, want success", res)
	}
	if res.Outcome() != domain.OutcomeSucceeded {
		t.Errorf("Outcome = %q, want %q", res.Outcome(), domain.OutcomeSucceeded)
	}
	if res.PID == 0 {
		t.Error("PID should be recorded")
	}
	if res.Path != path {
		t.Errorf("Path = %q, want %q", res.Path, path)
	}
	if !strings.Contains(out.String(), "downloaded config_a.toml") {
		t.Errorf("child stdout not forwarded: %q", out.String())
	}
	if testutil.Calls(t, path) != 1 {
		t.Errorf("calls = %d, want 1", testutil.Calls(t, path))
	}
}

func TestExecRunnerPassesPathAsLastArgument(t *testing.T) {
	r, _ := newHelperRunner(t)
	// The helper rejects anything but exactly one argument after "--".
	path := testutil.WriteConfig(t, t.TempDir(), "config b.toml", "ok")

	if res := r.Run(context.Background(), path); !res.Succeeded() {
		t.Fatalf("Run = %+v, want success for a path with spaces", res)
	}
}

func TestExecRunnerFailure(t *testing.T) {
	r, out := newHelperRunner(t)
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "fail")

	res := r.Run(context.Background(), path)
	if res.Succeeded() {
		t.Fatal("Run should fail")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Aborted {
		t.Error("a plain failure must not be reported as aborted")
	}
	if res.Outcome() != domain.OutcomeFailed {
		t.Errorf("Outcome = %q, want %q", res.Outcome(), domain.OutcomeFailed)
	}
	if !strings.Contains(out.String(), "upstream unavailable") {
		t.Errorf("child stderr not forwarded: %q", out.String())
	}
}

func TestExecRunnerStartError(t *testing.T) {
	r := NewExecRunner([]string{"/nonexistent/downloader"}, 0)
	res := r.Run(context.Background(), "config_a.toml")
	if res.Err == nil || res.Succeeded() {
		t.Fatalf("Run = %+v, want a start error", res)
	}
	if res.ExitCode != domain.ExitCodeUnknown {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, domain.ExitCodeUnknown)
	}
}

func TestExecRunnerEmptyCommand(t *testing.T) {
	res := (&ExecRunner{}).Run(context.Background(), "config_a.toml")
	if !errors.Is(res.Err, ErrEmptyCommand) {
		t.Errorf("Err = %v, want ErrEmptyCommand", res.Err)
	}
}

func TestExecRunnerAlreadyCancelled(t *testing.T) {
	r, _ := newHelperRunner(t)
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "ok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Run(ctx, path)
	if !res.Aborted {
		t.Fatal("Run with a cancelled context should report aborted")
	}
	if testutil.Calls(t, path) != 0 {
		t.Error("no child should be started once cancelled")
	}
}

func TestExecRunnerCancelKillsChild(t *testing.T) {
	r, _ := newHelperRunner(t)
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "hang")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- r.Run(ctx, path) }()

	pid := testutil.WaitForPID(t, path, 10*time.Second)
	cancel()

	select {
	case res := <-done:
		if !res.Aborted || res.Outcome() != domain.OutcomeAborted {
			t.Errorf("Run = %+v, want aborted", res)
		}
		if res.PID != pid {
			t.Errorf("PID = %d, want %d", res.PID, pid)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The child has been reaped, so its pid no longer exists.
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("child %d still present after Run returned: %v", pid, err)
	}
}

func TestExecRunnerGraceEscalatesToKill(t *testing.T) {
	r, _ := newHelperRunner(t)
	r.GracePeriod = 100 * time.Millisecond
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "hang_noterm")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- r.Run(ctx, path) }()

	testutil.WaitForPID(t, path, 10*time.Second)
	start := time.Now()
	cancel()

	select {
	case res := <-done:
		if !res.Aborted {
			t.Errorf("Run = %+v, want aborted", res)
		}
		if elapsed := time.Since(start); elapsed < r.GracePeriod {
			t.Errorf("child killed after %v, before the %v grace period", elapsed, r.GracePeriod)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SIGTERM-ignoring child was not killed after the grace period")
	}
}

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newPrefixWriter(&buf, "[config_a] ")

	w.Write([]byte("first\nsec"))
	w.Write([]byte("ond\npartial"))
	if got := buf.String(); got != "[config_a] first\n[config_a] second\n" {
		t.Errorf("before flush = %q", got)
	}

	w.Flush()
	if got := buf.String(); !strings.HasSuffix(got, "[config_a] partial\n") {
		t.Errorf("after flush = %q", got)
	}
}

func TestExecRunnerPrefixOutput(t *testing.T) {
	r, out := newHelperRunner(t)
	r.PrefixOutput = true
	path := testutil.WriteConfig(t, t.TempDir(), "config_eth.toml", "ok")

	if res := r.Run(context.Background(), path); !res.Succeeded() {
		t.Fatalf("Run = %+v", res)
	}
	if !strings.Contains(out.String(), "[config_eth.toml] downloaded config_eth.toml") {
		t.Errorf("output not prefixed: %q", out.String())
	}
}

func TestExecRunnerGraceKillsLeftoverDescendants(t *testing.T) {
	r, _ := newHelperRunner(t)
	r.GracePeriod = 2 * time.Second
	path := testutil.WriteConfig(t, t.TempDir(), "config_a.toml", "spawn_noterm")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() { done <- r.Run(ctx, path) }()

	testutil.WaitForPID(t, path, 10*time.Second)
	grandchild := testutil.WaitForPID(t, path+".child", 10*time.Second)
	cancel()

	select {
	case res := <-done:
		if !res.Aborted {
			t.Errorf("Run = %+v, want aborted", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the leader exited on SIGTERM")
	}

	deadline := time.Now().Add(2 * time.Second)
	for testutil.Alive(grandchild) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if testutil.Alive(grandchild) {
		syscall.Kill(grandchild, syscall.SIGKILL)
		t.Errorf("SIGTERM-ignoring grandchild %d survived its leader", grandchild)
	}
}
