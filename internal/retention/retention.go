// Package retention implements the retention reaper (C12): age-based and
// count-based pruning of backup artifacts in a destination directory, per
// spec.md §4.12.
package retention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/manifest"
)

// Rule bundles the two independent pruning knobs; either is disabled by
// setting it to 0.
type Rule struct {
	MaxAgeDays int
	MaxCount   int
}

// Result reports what a Reap call removed.
type Result struct {
	Removed []string
}

// Reap applies Rule to dir's top-level, non-manifest entries: first the
// age rule, then the count rule on whatever survives it. Removal
// failures are logged and skipped rather than aborting the pass.
func Reap(dir string, rule Rule, logger *zap.Logger) (Result, error) {
	logger = logger.Named("retention")
	var result Result

	entries, err := listPrunable(dir)
	if err != nil {
		return result, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.After(entries[j].modTime)
	})

	now := time.Now()
	survivors := entries
	if rule.MaxAgeDays > 0 {
		maxAge := time.Duration(rule.MaxAgeDays) * 24 * time.Hour
		var kept []prunableEntry
		for _, e := range survivors {
			if now.Sub(e.modTime) > maxAge {
				if removeEntry(e, logger) {
					result.Removed = append(result.Removed, e.path)
				}
				continue
			}
			kept = append(kept, e)
		}
		survivors = kept
	}

	if rule.MaxCount > 0 && len(survivors) > rule.MaxCount {
		for _, e := range survivors[rule.MaxCount:] {
			if removeEntry(e, logger) {
				result.Removed = append(result.Removed, e.path)
			}
		}
	}

	return result, nil
}

type prunableEntry struct {
	path    string
	modTime time.Time
	isDir   bool
}

func listPrunable(dir string) ([]prunableEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("retention: read %s: %w", dir, err)
	}

	var entries []prunableEntry
	for _, de := range dirEntries {
		if manifest.IsManifestFile(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, prunableEntry{
			path:    filepath.Join(dir, de.Name()),
			modTime: info.ModTime(),
			isDir:   de.IsDir(),
		})
	}
	return entries, nil
}

func removeEntry(e prunableEntry, logger *zap.Logger) bool {
	var err error
	if e.isDir {
		err = os.RemoveAll(e.path)
	} else {
		err = os.Remove(e.path)
	}
	if err != nil {
		logger.Warn("retention removal failed", zap.String("path", e.path), zap.Error(err))
		return false
	}
	logger.Debug("retention removed entry", zap.String("path", e.path))
	return true
}
