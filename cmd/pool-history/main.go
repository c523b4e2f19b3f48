// Command pool-history prints the downloader attempts recorded by
// pool-download, by default for the most recent run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"juptidu/internal/config"
	"juptidu/internal/store"
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath(), "supervisor YAML config")
	runID := flag.String("run", "", "show this run instead of the latest")
	all := flag.Bool("all", false, "show every recorded run")
	file := flag.String("file", "", "only show attempts for this configuration file")
	width := flag.Int("width", 100, "width of the run header")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.History.Backend == "none" {
		log.Fatal("attempt history is disabled (history.backend: none)")
	}

	st, err := store.Open(cfg.History.Backend, cfg.History.Dir)
	if err != nil {
		log.Fatalf("failed to open history: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	runs, err := selectRuns(ctx, st, *runID, *all)
	if err != nil {
		log.Fatalf("listing runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs recorded in", cfg.History.Dir)
		return
	}

	for _, run := range runs {
		attempts, err := st.ListAttempts(ctx, store.AttemptFilter{RunID: run, ConfigPath: *file})
		if err != nil {
			log.Fatalf("listing attempts for %s: %v", run, err)
		}
		fmt.Print(renderAttempts(run, attempts, *width))
		fmt.Println()
	}
}

// selectRuns resolves which runs to print: one explicit run, every run
// oldest first, or the latest.
func selectRuns(ctx context.Context, st store.AttemptStore, runID string, all bool) ([]string, error) {
	if runID != "" {
		return []string{runID}, nil
	}
	runs, err := st.ListRuns(ctx)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	if !all {
		return runs[:1], nil
	}
	out := make([]string, len(runs))
	for i, r := range runs {
		out[len(runs)-1-i] = r
	}
	return out, nil
}

func defaultConfigPath() string {
	if p := os.Getenv("JUPTIDU_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}

