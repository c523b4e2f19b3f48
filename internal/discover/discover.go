// Package discover finds the downloader configuration files a supervisor
// run should process.
package discover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoConfigs is returned when no file in the directory matches the prefix.
var ErrNoConfigs = errors.New("discover: no configuration files found")

// ConfigFiles returns the regular files in dir whose names start with
// prefix, sorted by name. Paths are returned joined with dir, so a dir of
// "." yields bare file names. Paths listed in exclude (compared after
// filepath.Clean) are skipped, which keeps the supervisor's own YAML out of
// the result when it happens to share the prefix.
func ConfigFiles(dir, prefix string, exclude ...string) ([]string, error) {
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, p := range exclude {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = struct{}{}
		}
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || strings.HasPrefix(name, ".") {
			continue
		}
		if !e.Type().IsRegular() {
			// Resolve symlinks; directories never qualify.
			info, err := os.Stat(filepath.Join(dir, name))
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}

		p := filepath.Join(dir, name)
		if abs, err := filepath.Abs(p); err == nil {
			if _, ok := skip[abs]; ok {
				continue
			}
		}
		paths = append(paths, p)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s with prefix %q", ErrNoConfigs, dir, prefix)
	}
	sort.Strings(paths)
	return paths, nil
}
