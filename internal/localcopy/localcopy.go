// Package localcopy implements the source enumerator and the local copy
// engine (C7): enumerate a source tree, then copy entries to a
// destination root either sequentially or via a bounded worker pool,
// verifying each copy by SHA-256 and recording the outcome into a
// manifest.Recorder.
package localcopy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/filterset"
	"github.com/qbak-io/backupd/internal/hashutil"
	"github.com/qbak-io/backupd/internal/manifest"
)

// EntryKind distinguishes the two source entry types the engine handles.
// Directories are never entries themselves; they are implied by the
// parent of a file entry and created with MkdirAll as needed.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindSymlink
)

// Entry is one file or symlink discovered under a source root.
type Entry struct {
	RelPath string
	Kind    EntryKind
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// AbsPath resolves the entry's absolute path under root.
func (e Entry) AbsPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(e.RelPath))
}

// Enumerate walks sourceRoot and returns every regular file and symlink
// not excluded by patterns, in a stable (lexical) order. Directories are
// descended but never themselves returned.
func Enumerate(sourceRoot string, patterns []string) ([]Entry, error) {
	var entries []Entry

	err := filepath.Walk(sourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == sourceRoot {
			return nil
		}

		rel, relErr := filepath.Rel(sourceRoot, path)
		if relErr != nil {
			return relErr
		}
		relSlash := filepath.ToSlash(rel)

		if info.IsDir() {
			if filterset.ShouldExclude(relSlash, patterns) {
				return filepath.SkipDir
			}
			return nil
		}

		if filterset.ShouldExclude(relSlash, patterns) {
			return nil
		}

		kind := KindFile
		if info.Mode()&os.ModeSymlink != 0 {
			kind = KindSymlink
		} else if !info.Mode().IsRegular() {
			return nil
		}

		entries = append(entries, Entry{
			RelPath: relSlash,
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localcopy: enumerate %s: %w", sourceRoot, err)
	}
	return entries, nil
}

// CopyOne copies a single entry from srcRoot to dstRoot: a symlink is
// replicated verbatim (never dereferenced), a regular file is streamed
// with its mtime and mode preserved. After copying, it verifies the
// destination by comparing SHA-256 digests and records the outcome into
// rec.
func CopyOne(entry Entry, srcRoot, dstRoot string, rec *manifest.Recorder) error {
	src := entry.AbsPath(srcRoot)
	dst := entry.AbsPath(dstRoot)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		rec.RecordFailure(entry.RelPath, err.Error())
		return fmt.Errorf("localcopy: mkdir parent of %s: %w", dst, err)
	}

	if entry.Kind == KindSymlink {
		if err := copySymlink(src, dst); err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			return err
		}
		rec.RecordCopy(entry.RelPath, entry.Size)
		return nil
	}

	if err := copyRegularFile(src, dst, entry.Mode, entry.ModTime); err != nil {
		rec.RecordFailure(entry.RelPath, err.Error())
		return err
	}

	srcSum, err := hashutil.SHA256OfFile(src)
	if err != nil {
		rec.RecordFailure(entry.RelPath, err.Error())
		return fmt.Errorf("localcopy: verify hash %s: %w", src, err)
	}
	dstSum, err := hashutil.SHA256OfFile(dst)
	if err != nil {
		rec.RecordFailure(entry.RelPath, err.Error())
		return fmt.Errorf("localcopy: verify hash %s: %w", dst, err)
	}
	if !hashutil.ChecksumsEqual(srcSum, dstSum) {
		reason := "checksum mismatch after copy"
		rec.RecordFailure(entry.RelPath, reason)
		return fmt.Errorf("localcopy: %s: %s", entry.RelPath, reason)
	}

	rec.RecordCopy(entry.RelPath, entry.Size)
	return nil
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("localcopy: readlink %s: %w", src, err)
	}
	_ = os.Remove(dst)
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("localcopy: symlink %s -> %s: %w", dst, target, err)
	}
	return nil
}

func copyRegularFile(src, dst string, mode os.FileMode, modTime time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("localcopy: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return fmt.Errorf("localcopy: create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("localcopy: copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("localcopy: close %s: %w", dst, err)
	}

	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		return fmt.Errorf("localcopy: chtimes %s: %w", dst, err)
	}
	return nil
}

// CopyAll runs CopyOne over every entry. workers <= 1 copies in
// enumeration order on the calling goroutine; workers > 1 runs a bounded
// pool of goroutines sharing rec, which is already safe for concurrent
// use. A failure on one entry is logged and does not stop the others.
func CopyAll(entries []Entry, srcRoot, dstRoot string, rec *manifest.Recorder, workers int, logger *zap.Logger) {
	logger = logger.Named("localcopy")

	if workers <= 1 {
		for _, entry := range entries {
			if err := CopyOne(entry, srcRoot, dstRoot, rec); err != nil {
				logger.Warn("copy failed", zap.String("path", entry.RelPath), zap.Error(err))
			}
		}
		return
	}

	jobs := make(chan Entry)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				if err := CopyOne(entry, srcRoot, dstRoot, rec); err != nil {
					logger.Warn("copy failed", zap.String("path", entry.RelPath), zap.Error(err))
				}
			}
		}()
	}

	for _, entry := range entries {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()
}
