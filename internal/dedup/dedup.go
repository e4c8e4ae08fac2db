// Package dedup implements the content-addressed hardlink deduplicator
// (C6): within a destination directory, and across destinations that
// share a filesystem device, identical file content is collapsed onto a
// single inode via os.Link. See spec.md §4.6.
package dedup

import (
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/hashutil"
	"github.com/qbak-io/backupd/internal/manifest"
)

// Summary reports the outcome of a dedup pass across one or more
// destination directories.
type Summary struct {
	FilesChecked    int
	DuplicatesFound int
	BytesSaved      int64
}

func (s *Summary) merge(other Summary) {
	s.FilesChecked += other.FilesChecked
	s.DuplicatesFound += other.DuplicatesFound
	s.BytesSaved += other.BytesSaved
}

// index maps a content hash to the first path that produced it.
type index map[string]string

// Run performs both dedup passes across dirs: within each directory, then
// across directories that share a filesystem device. Failures on
// individual files (permission, cross-device) are logged and do not abort
// the pass.
func Run(dirs []string, logger *zap.Logger) (Summary, error) {
	logger = logger.Named("dedup")
	var total Summary

	byDevice := make(map[uint64][]string)
	indexes := make(map[string]index, len(dirs))

	for _, dir := range dirs {
		idx := make(index)
		summary, err := dedupWithinDir(dir, idx, logger)
		if err != nil {
			return total, err
		}
		total.merge(summary)
		indexes[dir] = idx

		dev, ok := deviceOf(dir, logger)
		if ok {
			byDevice[dev] = append(byDevice[dev], dir)
		}
	}

	for _, group := range byDevice {
		if len(group) < 2 {
			continue
		}
		sort.Strings(group)
		primary := group[0]
		primaryIdx := indexes[primary]

		for _, other := range group[1:] {
			summary, err := dedupAcrossDir(other, primaryIdx, logger)
			if err != nil {
				logger.Warn("cross-destination dedup failed", zap.String("dir", other), zap.Error(err))
				continue
			}
			total.merge(summary)
		}
	}

	return total, nil
}

// dedupWithinDir walks dir in a stable (lexical) order, hashing each
// eligible file and hardlinking later duplicates onto the first path that
// produced a given hash.
func dedupWithinDir(dir string, idx index, logger *zap.Logger) (Summary, error) {
	var summary Summary

	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !eligible(path, info) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return summary, err
	}
	sort.Strings(paths)

	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			logger.Warn("stat failed during dedup", zap.String("path", path), zap.Error(err))
			continue
		}

		summary.FilesChecked++

		digest, err := hashutil.SHA256OfFile(path)
		if err != nil {
			logger.Warn("hash failed during dedup", zap.String("path", path), zap.Error(err))
			continue
		}

		existing, found := idx[digest]
		if !found {
			idx[digest] = path
			continue
		}

		linked, err := replaceWithHardlink(existing, path, logger)
		if err != nil {
			logger.Warn("hardlink failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if linked {
			summary.DuplicatesFound++
			summary.BytesSaved += info.Size()
		}
	}

	return summary, nil
}

// dedupAcrossDir scans dir and hardlinks any file matching a hash already
// present in primaryIdx (built from the first directory in a device
// group) onto the indexed path.
func dedupAcrossDir(dir string, primaryIdx index, logger *zap.Logger) (Summary, error) {
	var summary Summary

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !eligible(path, info) {
			return nil
		}

		summary.FilesChecked++

		digest, err := hashutil.SHA256OfFile(path)
		if err != nil {
			logger.Warn("hash failed during cross-destination dedup", zap.String("path", path), zap.Error(err))
			return nil
		}

		existing, found := primaryIdx[digest]
		if !found {
			return nil
		}

		linked, linkErr := replaceWithHardlink(existing, path, logger)
		if linkErr != nil {
			logger.Warn("cross-destination hardlink failed", zap.String("path", path), zap.Error(linkErr))
			return nil
		}
		if linked {
			summary.DuplicatesFound++
			summary.BytesSaved += info.Size()
		}
		return nil
	})
	return summary, err
}

// eligible reports whether path should be considered for dedup: a regular,
// non-empty file that is not a symlink, manifest, or already-encrypted
// artifact, and does not already have more than one hardlink.
func eligible(path string, info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return false
	}
	if !info.Mode().IsRegular() {
		return false
	}
	if info.Size() == 0 {
		return false
	}
	name := filepath.Base(path)
	if manifest.IsManifestFile(name) {
		return false
	}
	if filepath.Ext(name) == ".enc" {
		return false
	}
	if linkCount(info) > 1 {
		return false
	}
	return true
}

// replaceWithHardlink unlinks dupPath and relinks it to existingPath,
// unless the two already share an inode. Reports whether a link was
// actually made.
func replaceWithHardlink(existingPath, dupPath string, logger *zap.Logger) (bool, error) {
	if existingPath == dupPath {
		return false, nil
	}

	sameInode, err := sameFile(existingPath, dupPath)
	if err != nil {
		return false, err
	}
	if sameInode {
		return false, nil
	}

	tmpPath := dupPath + ".dedup-tmp"
	if err := os.Link(existingPath, tmpPath); err != nil {
		return false, err
	}
	if err := os.Rename(tmpPath, dupPath); err != nil {
		_ = os.Remove(tmpPath)
		return false, err
	}

	logger.Debug("hardlinked duplicate", zap.String("kept", existingPath), zap.String("replaced", dupPath))
	return true, nil
}

func sameFile(a, b string) (bool, error) {
	infoA, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	return os.SameFile(infoA, infoB), nil
}

func linkCount(info os.FileInfo) uint64 {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 1
	}
	return uint64(stat.Nlink)
}

// deviceOf returns the filesystem device ID that dir lives on.
func deviceOf(dir string, logger *zap.Logger) (uint64, bool) {
	info, err := os.Stat(dir)
	if err != nil {
		logger.Warn("stat failed resolving device", zap.String("dir", dir), zap.Error(err))
		return 0, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Dev), true
}
