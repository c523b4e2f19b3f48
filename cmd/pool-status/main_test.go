package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"juptidu/internal/status"
)

func startServer(t *testing.T) (*status.Server, string) {
	t.Helper()
	srv := status.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	addr, err := srv.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	return srv, addr.String()
}

// writeSetup creates two downloader configs and a supervisor YAML that
// discovers them, and returns the YAML path and the discovered paths.
func writeSetup(t *testing.T) (string, []string) {
	t.Helper()
	for _, k := range []string{"JUPTIDU_DIR", "JUPTIDU_PREFIX", "JUPTIDU_STATUS_ADDR", "JUPTIDU_CONFIG"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"config_a.toml", "config_b.toml"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte("pool = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	cfgPath := filepath.Join(t.TempDir(), "juptidu.yaml")
	yaml := fmt.Sprintf("download:\n  dir: %q\n  prefix: \"config_\"\n", dir)
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, paths
}

func TestReport(t *testing.T) {
	srv, addr := startServer(t)
	c, err := status.NewClient(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	paths := []string{"config_a.toml", "config_b.toml"}
	srv.Pending(paths[0])
	srv.Pending(paths[1])
	srv.Succeeded(paths[0])

	var out bytes.Buffer
	if code := report(ctx, c, paths, &out, io.Discard); code != ExitPending {
		t.Errorf("report with a pending file = %d, want %d", code, ExitPending)
	}
	if !strings.Contains(out.String(), "1 of 2 files pending") {
		t.Errorf("output = %q", out.String())
	}

	srv.Succeeded(paths[1])
	out.Reset()
	if code := report(ctx, c, paths, &out, io.Discard); code != ExitDone {
		t.Errorf("report with all files done = %d, want %d", code, ExitDone)
	}
	if !strings.Contains(out.String(), "all 2 files downloaded") {
		t.Errorf("output = %q", out.String())
	}
}

func TestReportUnreachable(t *testing.T) {
	c, err := status.NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if code := report(ctx, c, []string{"config_a.toml"}, io.Discard, io.Discard); code != ExitUnreachable {
		t.Errorf("report against a closed port = %d, want %d", code, ExitUnreachable)
	}
}

func TestRun(t *testing.T) {
	cfgPath, paths := writeSetup(t)
	srv, addr := startServer(t)
	for _, p := range paths {
		srv.Pending(p)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath, "-addr", addr}, &stdout, &stderr); code != ExitPending {
		t.Fatalf("run = %d, want %d; stderr: %s", code, ExitPending, stderr.String())
	}
	if !strings.Contains(stdout.String(), "pending  "+paths[0]) {
		t.Errorf("stdout = %q", stdout.String())
	}

	for _, p := range paths {
		srv.Succeeded(p)
	}
	stdout.Reset()
	if code := run([]string{"-config", cfgPath, "-addr", addr}, &stdout, &stderr); code != ExitDone {
		t.Errorf("run = %d, want %d; stderr: %s", code, ExitDone, stderr.String())
	}
}

func TestRunSetupErrors(t *testing.T) {
	cfgPath, _ := writeSetup(t)

	var stderr bytes.Buffer
	if code := run([]string{"-config", cfgPath}, io.Discard, &stderr); code != ExitSetup {
		t.Errorf("run without an address = %d, want %d", code, ExitSetup)
	}
	if !strings.Contains(stderr.String(), "no status address") {
		t.Errorf("stderr = %q", stderr.String())
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("download: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if code := run([]string{"-config", bad, "-addr", "127.0.0.1:1"}, io.Discard, io.Discard); code != ExitSetup {
		t.Errorf("run with bad YAML = %d, want %d", code, ExitSetup)
	}
}

func TestRunUnreachable(t *testing.T) {
	cfgPath, _ := writeSetup(t)
	code := run([]string{"-config", cfgPath, "-addr", "127.0.0.1:1", "-timeout", "2s"}, io.Discard, io.Discard)
	if code != ExitUnreachable {
		t.Errorf("run against a closed port = %d, want %d", code, ExitUnreachable)
	}
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestWatchModel(t *testing.T) {
	paths := []string{"config_a.toml", "config_b.toml"}
	var m tea.Model = newWatchModel(paths)

	m, _ = m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})
	m, cmd := m.Update(stateMsg{path: paths[0], state: status.StateDone})
	if isQuit(cmd) {
		t.Fatal("should keep watching while a file is pending")
	}
	m, _ = m.Update(stateMsg{path: paths[1], state: status.StatePending})

	view := m.View()
	for _, want := range []string{"1/2 files downloaded", "config_a.toml", "done", "pending"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if code := m.(watchModel).exitCode(); code != ExitPending {
		t.Errorf("exitCode = %d, want %d", code, ExitPending)
	}

	m, cmd = m.Update(stateMsg{path: paths[1], state: status.StateDone})
	if !isQuit(cmd) {
		t.Error("should quit once every file is done")
	}
	if code := m.(watchModel).exitCode(); code != ExitDone {
		t.Errorf("exitCode = %d, want %d", code, ExitDone)
	}
}

func TestWatchModelStreamsLost(t *testing.T) {
	paths := []string{"config_a.toml", "config_b.toml"}
	var m tea.Model = newWatchModel(paths)

	lost := errors.New("stream closed by server")
	m, cmd := m.Update(watchErrMsg{path: paths[0], err: lost})
	if isQuit(cmd) {
		t.Fatal("one lost stream should not end the watch")
	}
	if !strings.Contains(m.View(), "unreachable") {
		t.Errorf("view should flag the lost stream:\n%s", m.View())
	}

	m, cmd = m.Update(watchErrMsg{path: paths[1], err: lost})
	if !isQuit(cmd) {
		t.Error("should quit once every stream is gone")
	}
	if code := m.(watchModel).exitCode(); code != ExitUnreachable {
		t.Errorf("exitCode = %d, want %d", code, ExitUnreachable)
	}
}

func TestWatchModelQuitKey(t *testing.T) {
	m := newWatchModel([]string{"config_a.toml"})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if !isQuit(cmd) {
		t.Error("q should quit")
	}
}
