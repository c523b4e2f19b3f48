// Package pools inventories the pool datasets the downloader has written.
// The downloader stores each pool under a directory named by the pool's
// contract address; anything else in the data directory is ignored.
package pools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Dataset is one downloaded pool directory.
type Dataset struct {
	Address common.Address
	Dir     string
	Files   int
	Bytes   int64
}

// Discover lists the sub-directories of dataDir whose names are valid pool
// addresses, sorted by address. Mixed-case names must carry a correct
// EIP-55 checksum. A directory counts only if it holds at least one regular
// file somewhere below it, so a tree of empty sub-directories is skipped.
func Discover(dataDir string) ([]Dataset, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dataDir, err)
	}

	var out []Dataset
	for _, e := range entries {
		if !e.IsDir() || !isPoolAddress(e.Name()) {
			continue
		}
		dir := filepath.Join(dataDir, e.Name())
		files, size, err := dirUsage(dir)
		if err != nil {
			return nil, err
		}
		if files == 0 {
			continue
		}
		out = append(out, Dataset{
			Address: common.HexToAddress(e.Name()),
			Dir:     dir,
			Files:   files,
			Bytes:   size,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.Cmp(out[j].Address) < 0
	})
	return out, nil
}

// isPoolAddress accepts 40 hex digits with an optional 0x prefix. All-lower
// and all-upper names are taken as is; mixed case must match the checksum.
func isPoolAddress(name string) bool {
	if !common.IsHexAddress(name) {
		return false
	}
	digits := name
	if len(name) == 42 {
		digits = name[2:]
	}
	if digits == strings.ToLower(digits) || digits == strings.ToUpper(digits) {
		return true
	}
	return common.HexToAddress(name).Hex()[2:] == digits
}

func dirUsage(dir string) (int, int64, error) {
	var (
		files int
		size  int64
	)
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			files++
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return files, size, nil
}
