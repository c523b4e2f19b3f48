//go:build unix

package supervisor

import (
	"context"
	"errors"
	"io"
	"syscall"
	"testing"
	"time"

	"juptidu/internal/runner"
	"juptidu/internal/testutil"
)

func TestHelperDownloader(t *testing.T) { testutil.HelperDownloaderMain() }

func helperRunner(t *testing.T) *runner.ExecRunner {
	t.Helper()
	testutil.EnableHelper(t)
	r := runner.NewExecRunner(testutil.HelperCommand(), 0)
	r.Stdout = io.Discard
	r.Stderr = io.Discard
	return r
}

func TestExecScenarioRetryThenSucceed(t *testing.T) {
	dir := t.TempDir()
	confA := testutil.WriteConfig(t, dir, "conf_a", "fail_times=2")
	confB := testutil.WriteConfig(t, dir, "conf_b", "ok")

	s := New(helperRunner(t), Options{Backoff: 10 * time.Millisecond}, discardLogger())
	if _, err := s.Run(context.Background(), []string{confA, confB}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := testutil.Calls(t, confA); n != 3 {
		t.Errorf("conf_a invoked %d times, want 3", n)
	}
	if n := testutil.Calls(t, confB); n != 1 {
		t.Errorf("conf_b invoked %d times, want 1", n)
	}
}

func TestExecScenarioInterruptKillsChildren(t *testing.T) {
	dir := t.TempDir()
	confHang := testutil.WriteConfig(t, dir, "conf_hang", "hang")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(helperRunner(t), Options{Backoff: 10 * time.Millisecond}, discardLogger())
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, []string{confHang})
		done <- err
	}()

	pid := testutil.WaitForPID(t, confHang, 10*time.Second)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("Run error = %v, want ErrAborted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop within 5s of cancellation")
	}

	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("downloader %d still running after abort: %v", pid, err)
	}
}
