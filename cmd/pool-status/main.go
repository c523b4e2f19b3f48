// Command pool-status asks a running pool-download for the state of every
// configuration file it is processing. With -watch it stays attached and
// redraws as downloads complete.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"juptidu/internal/config"
	"juptidu/internal/discover"
	"juptidu/internal/status"
)

// Exit codes
const (
	ExitDone        = 0
	ExitPending     = 1
	ExitUnreachable = 2
	ExitSetup       = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pool-status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", defaultConfigPath(), "supervisor YAML config")
	addr := fs.String("addr", "", "status server address (defaults to status.addr from the config)")
	timeout := fs.Duration("timeout", 5*time.Second, "overall timeout for a one-shot query")
	watch := fs.Bool("watch", false, "stay attached and show live progress until every file is done")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitDone
		}
		return ExitSetup
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: loading config: %v\n", err)
		return ExitSetup
	}
	if *addr == "" {
		*addr = cfg.Status.Addr
	}
	if *addr == "" {
		fmt.Fprintln(stderr, "Error: no status address: set status.addr or pass -addr")
		return ExitSetup
	}

	paths, err := discover.ConfigFiles(cfg.Download.Dir, cfg.Download.Prefix, *cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: discovering config files: %v\n", err)
		return ExitSetup
	}

	client, err := status.NewClient(*addr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitSetup
	}
	defer client.Close()

	if *watch {
		return watchFiles(context.Background(), client, paths, stdout, stderr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return report(ctx, client, paths, stdout, stderr)
}

// report prints one line per file and returns ExitDone when every file is
// done, ExitPending while downloads are pending, and ExitUnreachable when
// the supervisor cannot be queried.
func report(ctx context.Context, c *status.Client, paths []string, stdout, stderr io.Writer) int {
	running, err := c.Running(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "supervisor unreachable: %v\n", err)
		return ExitUnreachable
	}
	if !running {
		fmt.Fprintln(stdout, "supervisor is shutting down")
	}

	pending := 0
	for _, p := range paths {
		st, err := c.State(ctx, p)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", p, err)
			return ExitUnreachable
		}
		if st != status.StateDone {
			pending++
		}
		fmt.Fprintf(stdout, "%-8s %s\n", st, p)
	}

	if pending > 0 {
		fmt.Fprintf(stdout, "%d of %d files pending\n", pending, len(paths))
		return ExitPending
	}
	fmt.Fprintf(stdout, "all %d files downloaded\n", len(paths))
	return ExitDone
}

func defaultConfigPath() string {
	if p := os.Getenv("JUPTIDU_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}
