// Package restore implements the restore engine (C10): local directory,
// zip archive, SSH, and object-store sources, with optional point-in-time
// replay driven by the manifest history, per spec.md §4.10.
package restore

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/hashutil"
	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/manifest"
	"github.com/qbak-io/backupd/internal/objectstore"
	"github.com/qbak-io/backupd/internal/sftpengine"
)

// Options carries everything a restore may need beyond the source spec
// and destination directory itself.
type Options struct {
	// Timestamp, if set, requests point-in-time replay up to and
	// including the manifest with this timestamp.
	Timestamp string

	// Credential, if set, is used to decrypt any .enc files found in the
	// source tree before restoring.
	Credential *cryptocodec.Credential

	// SSHAuth authenticates an SSH-spec source; Port defaults to 22 when 0.
	SSHAuth sftpengine.Auth
	SSHPort int

	// ObjectBucket supplies region/credentials/endpoint for an s3-spec
	// source; its Name and Prefix are overwritten from the parsed spec.
	ObjectBucket objectstore.Bucket
}

var (
	sshSchemeSpec = regexp.MustCompile(`^ssh://([^@]+)@([^/]+)(/.*)$`)
	sshShortSpec  = regexp.MustCompile(`^([^@]+)@([^:]+):(.+)$`)
	s3Spec        = regexp.MustCompile(`^s3://([^/]+)/?(.*)$`)
)

// Restore resolves sourceSpec (local dir, local .zip, SSH spec, or s3
// spec) and restores its contents into destDir. Returns whether every
// file was copied and verified successfully.
func Restore(ctx context.Context, sourceSpec, destDir string, opts Options, logger *zap.Logger) (bool, error) {
	logger = logger.Named("restore")

	if user, host, remotePath, ok := parseSSHSpec(sourceSpec); ok {
		scratch, err := os.MkdirTemp("", "backupd-restore-ssh-*")
		if err != nil {
			return false, fmt.Errorf("restore: scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		port := opts.SSHPort
		if port == 0 {
			port = 22
		}
		server := sftpengine.Server{Host: host, Port: port, User: user, Auth: opts.SSHAuth, RemoteRoot: remotePath}
		if err := downloadSFTPTree(server, scratch, logger); err != nil {
			return false, err
		}
		return restoreLocal(scratch, destDir, opts, logger)
	}

	if bucketName, prefix, ok := parseS3Spec(sourceSpec); ok {
		scratch, err := os.MkdirTemp("", "backupd-restore-s3-*")
		if err != nil {
			return false, fmt.Errorf("restore: scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		bucket := opts.ObjectBucket
		bucket.Name = bucketName
		bucket.Prefix = prefix
		if err := downloadObjectTree(ctx, bucket, scratch); err != nil {
			return false, err
		}
		return restoreLocal(scratch, destDir, opts, logger)
	}

	if strings.HasSuffix(strings.ToLower(sourceSpec), ".zip") {
		scratch, err := os.MkdirTemp("", "backupd-restore-zip-*")
		if err != nil {
			return false, fmt.Errorf("restore: scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		if err := extractZip(sourceSpec, scratch); err != nil {
			return false, err
		}
		return restoreLocal(scratch, destDir, opts, logger)
	}

	return restoreLocal(sourceSpec, destDir, opts, logger)
}

func parseSSHSpec(spec string) (user, host, remotePath string, ok bool) {
	if m := sshSchemeSpec.FindStringSubmatch(spec); m != nil {
		return m[1], m[2], m[3], true
	}
	if m := sshShortSpec.FindStringSubmatch(spec); m != nil {
		return m[1], m[2], m[3], true
	}
	return "", "", "", false
}

func parseS3Spec(spec string) (bucket, prefix string, ok bool) {
	m := s3Spec.FindStringSubmatch(spec)
	if m == nil {
		return "", "", false
	}
	return m[1], strings.TrimSuffix(m[2], "/"), true
}

func downloadSFTPTree(server sftpengine.Server, scratch string, logger *zap.Logger) error {
	session, err := sftpengine.Connect(server, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	return session.DownloadTree(server.RemoteRoot, scratch)
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("restore: open zip %s: %w", zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dstPath := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dstPath, 0o755); err != nil {
				return fmt.Errorf("restore: mkdir %s: %w", dstPath, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return fmt.Errorf("restore: mkdir parent of %s: %w", dstPath, err)
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("restore: open zip entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return fmt.Errorf("restore: create %s: %w", dstPath, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return fmt.Errorf("restore: extract %s: %w", f.Name, copyErr)
		}
	}
	return nil
}

func downloadObjectTree(ctx context.Context, bucket objectstore.Bucket, scratch string) error {
	client, err := objectstore.NewClient(ctx, bucket)
	if err != nil {
		return err
	}
	return client.DownloadTree(ctx, scratch)
}

// restoreLocal implements §4.10's local restore path: decrypt in place,
// then either a point-in-time replay or a full reverse copy.
func restoreLocal(srcDir, destDir string, opts Options, logger *zap.Logger) (bool, error) {
	workingDir, cleanup, err := prepareWorkingCopy(srcDir)
	if err != nil {
		return false, err
	}
	defer cleanup()

	if opts.Credential != nil {
		if err := decryptTreeInPlace(workingDir, *opts.Credential); err != nil {
			return false, err
		}
	}

	if opts.Timestamp != "" {
		docs, err := manifest.LoadUpTo(workingDir, opts.Timestamp)
		if err != nil {
			return false, err
		}
		if len(docs) > 0 {
			return replay(docs, workingDir, destDir, logger)
		}
		logger.Warn("no manifests found for point-in-time restore, falling back to full restore")
	}

	return fullReverseCopy(workingDir, destDir, logger)
}

// prepareWorkingCopy returns a writable directory to operate on: srcDir
// itself if writable, otherwise a scratch copy. Decryption never mutates
// a read-only source.
func prepareWorkingCopy(srcDir string) (string, func(), error) {
	probe := filepath.Join(srcDir, ".backupd-write-probe")
	if f, err := os.Create(probe); err == nil {
		f.Close()
		os.Remove(probe)
		return srcDir, func() {}, nil
	}

	scratch, err := os.MkdirTemp("", "backupd-restore-copy-*")
	if err != nil {
		return "", nil, fmt.Errorf("restore: scratch copy dir: %w", err)
	}
	if err := copyTree(srcDir, scratch); err != nil {
		os.RemoveAll(scratch)
		return "", nil, err
	}
	return scratch, func() { os.RemoveAll(scratch) }, nil
}

func copyTree(srcDir, dstDir string) error {
	entries, err := localcopy.Enumerate(srcDir, nil)
	if err != nil {
		return err
	}
	rec := manifest.New(manifest.ModeFull, time.Now())
	for _, entry := range entries {
		if err := localcopy.CopyOne(entry, srcDir, dstDir, rec); err != nil {
			return err
		}
	}
	return nil
}

func decryptTreeInPlace(dir string, cred cryptocodec.Credential) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, cryptocodec.EncryptedSuffix) {
			return nil
		}

		dstPath := strings.TrimSuffix(path, cryptocodec.EncryptedSuffix)
		if err := cryptocodec.DecryptFile(path, dstPath, cred); err != nil {
			return fmt.Errorf("restore: decrypt %s: %w", path, err)
		}
		return os.Remove(path)
	})
}

// replay restores the union of every copied entry across docs, later
// manifests overriding earlier occurrences of the same path, locating
// each file within workingDir by basename.
func replay(docs []manifest.Document, workingDir, destDir string, logger *zap.Logger) (bool, error) {
	latest := make(map[string]manifest.CopiedEntry)
	for _, doc := range docs {
		for _, entry := range doc.Copied {
			latest[entry.Path] = entry
		}
	}

	ok := true
	for relPath := range latest {
		srcPath, err := findByBasename(workingDir, relPath)
		if err != nil || srcPath == "" {
			logger.Warn("replay could not locate file", zap.String("path", relPath))
			ok = false
			continue
		}

		dstPath := filepath.Join(destDir, filepath.FromSlash(relPath))
		if err := copyVerified(srcPath, dstPath); err != nil {
			logger.Warn("replay copy failed", zap.String("path", relPath), zap.Error(err))
			ok = false
		}
	}
	return ok, nil
}

// fullReverseCopy copies every non-manifest file from workingDir to
// destDir, preserving symlinks verbatim and verifying each regular file
// by post-copy SHA-256.
func fullReverseCopy(workingDir, destDir string, logger *zap.Logger) (bool, error) {
	entries, err := localcopy.Enumerate(workingDir, []string{"backup_manifest_*.json"})
	if err != nil {
		return false, err
	}

	rec := manifest.New(manifest.ModeFull, time.Now())
	for _, entry := range entries {
		if err := localcopy.CopyOne(entry, workingDir, destDir, rec); err != nil {
			logger.Warn("restore copy failed", zap.String("path", entry.RelPath), zap.Error(err))
		}
	}

	_, _, failed := rec.Counts()
	return failed == 0, nil
}

// findByBasename searches root for a file whose basename matches
// path.Base(relPath), preferring an exact relative-path match first.
func findByBasename(root, relPath string) (string, error) {
	exact := filepath.Join(root, filepath.FromSlash(relPath))
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	base := path.Base(filepath.ToSlash(relPath))
	var found string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !info.IsDir() && filepath.Base(p) == base {
			found = p
		}
		return nil
	})
	return found, err
}

func copyVerified(srcPath, dstPath string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return fmt.Errorf("restore: stat %s: %w", srcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("restore: mkdir parent of %s: %w", dstPath, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("restore: readlink %s: %w", srcPath, err)
		}
		_ = os.Remove(dstPath)
		return os.Symlink(target, dstPath)
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("restore: open %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("restore: create %s: %w", dstPath, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("restore: copy %s -> %s: %w", srcPath, dstPath, err)
	}
	out.Close()

	srcSum, err := hashutil.SHA256OfFile(srcPath)
	if err != nil {
		return fmt.Errorf("restore: hash %s: %w", srcPath, err)
	}
	dstSum, err := hashutil.SHA256OfFile(dstPath)
	if err != nil {
		return fmt.Errorf("restore: hash %s: %w", dstPath, err)
	}
	if !hashutil.ChecksumsEqual(srcSum, dstSum) {
		return fmt.Errorf("restore: checksum mismatch restoring %s", srcPath)
	}
	return nil
}
