// Command pool-inventory lists the pool datasets present in the data
// directory the downloader writes to.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"juptidu/internal/config"
	"juptidu/internal/pools"
)

// Exit codes
const (
	ExitListed = 0
	ExitEmpty  = 1
	ExitError  = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pool-inventory", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", defaultConfigPath(), "supervisor YAML config")
	dataDir := fs.String("data", "", "data directory (defaults to data_dir from the config)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitListed
		}
		return ExitError
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: loading config: %v\n", err)
		return ExitError
	}
	if *dataDir == "" {
		*dataDir = cfg.DataDir
	}

	datasets, err := pools.Discover(*dataDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	if len(datasets) == 0 {
		fmt.Fprintf(stderr, "no pool datasets in %s\n", *dataDir)
		return ExitEmpty
	}

	for _, d := range datasets {
		fmt.Fprintf(stdout, "%s  %5d files  %10s  %s\n", d.Address.Hex(), d.Files, humanize.IBytes(uint64(d.Bytes)), d.Dir)
	}
	return ExitListed
}

func defaultConfigPath() string {
	if p := os.Getenv("JUPTIDU_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath
}
