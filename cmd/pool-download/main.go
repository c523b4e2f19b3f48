// Command pool-download runs the external pool-data downloader once per
// configuration file in the working directory, retrying each file until it
// succeeds. All files are processed in parallel. SIGINT or SIGTERM kills
// every running downloader and exits 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"juptidu/internal/config"
	"juptidu/internal/discover"
	"juptidu/internal/runner"
	"juptidu/internal/status"
	"juptidu/internal/store"
	"juptidu/internal/supervisor"
	"juptidu/internal/util"
)

// Exit codes
const (
	ExitSuccess   = 0
	ExitAborted   = 1
	ExitExhausted = 2
	ExitSetup     = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pool-download", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", defaultConfigPath(), "supervisor YAML config (missing file means defaults)")
	list := fs.Bool("list", false, "print the configuration files that would be processed and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitSetup
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: loading config: %v\n", err)
		return ExitSetup
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitSetup
	}

	logOut, closeLog, err := util.OpenLogFile(stdout, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(stderr, "Error: opening log file: %v\n", err)
		return ExitSetup
	}
	defer closeLog()
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, logOut)
	util.SetDefault(logger)

	paths, err := discover.ConfigFiles(cfg.Download.Dir, cfg.Download.Prefix, *cfgPath)
	if errors.Is(err, discover.ErrNoConfigs) {
		logger.Warn("nothing to download", "dir", cfg.Download.Dir, "prefix", cfg.Download.Prefix)
		return ExitSuccess
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitSetup
	}

	if *list {
		for _, p := range paths {
			fmt.Fprintln(stdout, p)
		}
		return ExitSuccess
	}

	history, err := store.Open(cfg.History.Backend, cfg.History.Dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: opening history: %v\n", err)
		return ExitSetup
	}
	defer history.Close()

	r := runner.NewExecRunner(cfg.Download.Command, cfg.Download.GracePeriod)
	r.Stdout = stdout
	r.Stderr = stderr
	r.PrefixOutput = cfg.Download.PrefixChildOutput

	sup := supervisor.New(r, supervisor.Options{
		Backoff:          cfg.Download.Backoff,
		MaxAttempts:      cfg.Download.MaxAttempts,
		MaxConcurrent:    cfg.Download.MaxConcurrent,
		LaunchRatePerMin: cfg.Download.LaunchRatePerMin,
	}, logger)
	sup.SetStore(history)

	if cfg.Status.Addr != "" {
		srv := status.NewServer(logger)
		if _, err := srv.Listen(cfg.Status.Addr); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitSetup
		}
		defer srv.Stop()
		sup.SetTracker(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintln(stderr, "Aborting...")
			logger.Warn("received signal, killing downloaders", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := sup.Run(ctx, paths)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, supervisor.ErrAborted):
		logger.Warn("download run aborted", "run", report.RunID,
			"succeeded", report.Succeeded(), "files", len(report.Files))
		return ExitAborted
	default:
		logger.Error("download run finished with failures", "run", report.RunID, "error", err)
		return ExitExhausted
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("JUPTIDU_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}
