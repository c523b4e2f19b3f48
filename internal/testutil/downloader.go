//go:build unix

// Package testutil provides a scriptable stand-in for the external
// downloader, run as a re-executed test binary.
//
// A test package wires it up with:
//
//	func TestHelperDownloader(t *testing.T) { testutil.HelperDownloaderMain() }
//
// and passes testutil.HelperCommand() as the downloader command. The
// behaviour of each invocation is read from the configuration file it is
// given, one directive per file:
//
//	ok             exit 0
//	fail           exit 3
//	fail_times=N   exit 1 for the first N invocations, then 0
//	hang           record pid in <path>.pid and block
//	hang_noterm    like hang, but ignore SIGTERM
//	spawn_noterm   start a hang_noterm helper on <path>.child, then hang
//
// Every invocation appends a line to <path>.calls.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

const helperEnv = "JUPTIDU_HELPER_DOWNLOADER"

// HelperCommand returns the downloader command that re-executes the current
// test binary into TestHelperDownloader.
func HelperCommand() []string {
	return []string{os.Args[0], "-test.run=^TestHelperDownloader$", "--"}
}

// EnableHelper marks child processes started during t as helper
// downloaders.
func EnableHelper(t *testing.T) {
	t.Helper()
	t.Setenv(helperEnv, "1")
}

// HelperDownloaderMain runs the scripted downloader when the process was
// started by HelperCommand, and returns immediately otherwise.
func HelperDownloaderMain() {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) != 2 {
		fmt.Fprintf(os.Stderr, "helper downloader: want exactly one config path, got %q\n", args)
		os.Exit(64)
	}
	os.Exit(run(args[1]))
}

// WriteConfig writes a scripted configuration file into dir.
func WriteConfig(t *testing.T, dir, name, directive string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(directive+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Calls returns how many times the helper was invoked for path.
func Calls(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path + ".calls")
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

// Alive reports whether pid is a running process. Zombies left for a
// reaper that never comes count as dead.
func Alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		// No procfs; the signal probe is all we have.
		return true
	}
	// The state field follows the parenthesised command name.
	if i := strings.LastIndexByte(string(data), ')'); i >= 0 && i+2 < len(data) {
		return data[i+2] != 'Z'
	}
	return true
}

// WaitForPID polls for the pid file a hanging helper writes.
func WaitForPID(t *testing.T, path string, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path + ".pid")
		if err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("helper for %s never wrote its pid", path)
	return 0
}

func run(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper downloader: %v\n", err)
		return 66
	}

	calls, err := appendCall(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper downloader: %v\n", err)
		return 70
	}

	directive := strings.TrimSpace(string(data))
	switch {
	case directive == "ok":
		fmt.Println("downloaded", filepath.Base(path))
		return 0
	case directive == "fail":
		fmt.Fprintln(os.Stderr, "rpc error: upstream unavailable")
		return 3
	case strings.HasPrefix(directive, "fail_times="):
		n, _ := strconv.Atoi(strings.TrimPrefix(directive, "fail_times="))
		if calls <= n {
			fmt.Fprintf(os.Stderr, "transient failure %d/%d\n", calls, n)
			return 1
		}
		fmt.Println("downloaded", filepath.Base(path))
		return 0
	case directive == "spawn_noterm":
		child := path + ".child"
		if err := os.WriteFile(child, []byte("hang_noterm\n"), 0o644); err != nil {
			return 70
		}
		cmd := HelperCommand()
		// Output goes to /dev/null so the grandchild holds none of our pipes.
		if err := exec.Command(cmd[0], append(cmd[1:], child)...).Start(); err != nil {
			fmt.Fprintf(os.Stderr, "helper downloader: %v\n", err)
			return 70
		}
		if err := os.WriteFile(path+".pid", []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return 70
		}
		time.Sleep(time.Hour)
		return 0
	case directive == "hang", directive == "hang_noterm":
		if directive == "hang_noterm" {
			signal.Ignore(syscall.SIGTERM)
		}
		if err := os.WriteFile(path+".pid", []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			return 70
		}
		time.Sleep(time.Hour)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "helper downloader: unknown directive %q\n", directive)
		return 65
	}
}

func appendCall(path string) (int, error) {
	f, err := os.OpenFile(path+".calls", os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path + ".calls")
	if err != nil {
		return 0, err
	}
	return strings.Count(string(data), "\n"), nil
}
