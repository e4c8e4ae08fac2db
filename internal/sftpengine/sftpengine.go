// Package sftpengine implements the SFTP replication engine (C8):
// connect/auth, mkdir -p, bandwidth-shaped upload, mode-aware tree sync,
// and full-mode extra-file cleanup, per spec.md §4.8.
package sftpengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/manifest"
)

// Auth carries either a password or a private-key credential for an SSH
// session. Exactly one should be set.
type Auth struct {
	Password   string
	PrivateKey []byte
}

// Server describes one SFTP destination.
type Server struct {
	Host          string
	Port          int
	User          string
	Auth          Auth
	RemoteRoot    string
	BandwidthKbps int
	RetryAttempts int
	RetryDelay    time.Duration
}

const (
	chunkSize            = 32 * 1024
	defaultRetryAttempts = 3
	defaultRetryDelay    = 2 * time.Second
)

// Session wraps a live SSH connection and SFTP channel to one server.
type Session struct {
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// Connect opens an SSH session with a warning-level host-key policy
// (unknown/mismatched keys are logged but never block the connection) and
// a single SFTP channel over it.
func Connect(server Server, logger *zap.Logger) (*Session, error) {
	authMethods, err := authMethods(server.Auth)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            server.User,
		Auth:            authMethods,
		Timeout:         30 * time.Second,
		HostKeyCallback: warnOnlyHostKeyCallback(logger),
	}

	addr := net.JoinHostPort(server.Host, fmt.Sprintf("%d", server.Port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("sftpengine: dial %s: %w", addr, err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftpengine: open sftp channel to %s: %w", addr, err)
	}

	return &Session{sshClient: sshClient, sftpClient: sftpClient}, nil
}

// Close closes the SFTP channel then the SSH connection.
func (s *Session) Close() {
	if s.sftpClient != nil {
		s.sftpClient.Close()
	}
	if s.sshClient != nil {
		s.sshClient.Close()
	}
}

func authMethods(auth Auth) ([]ssh.AuthMethod, error) {
	if len(auth.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(auth.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("sftpengine: parse private key: %w", err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	return []ssh.AuthMethod{ssh.Password(auth.Password)}, nil
}

// warnOnlyHostKeyCallback accepts any host key, logging it at warning
// level. It never returns an error, since the contract calls for unknown
// keys to warn-but-proceed; a properly configured known_hosts store is
// out of scope.
func warnOnlyHostKeyCallback(logger *zap.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		logger.Warn("accepting unverified host key",
			zap.String("hostname", hostname),
			zap.String("fingerprint", ssh.FingerprintSHA256(key)))
		return nil
	}
}

// MkdirP walks remoteDir upward collecting nonexistent components, then
// creates them from the deepest missing ancestor downward. A concurrent
// create that reports "already exists" is not an error.
func (s *Session) MkdirP(remoteDir string) error {
	remoteDir = path.Clean(remoteDir)
	if remoteDir == "." || remoteDir == "/" {
		return nil
	}

	var missing []string
	cur := remoteDir
	for {
		_, err := s.sftpClient.Stat(cur)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("sftpengine: stat %s: %w", cur, err)
		}
		missing = append(missing, cur)
		parent := path.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	for i := len(missing) - 1; i >= 0; i-- {
		if err := s.sftpClient.Mkdir(missing[i]); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return fmt.Errorf("sftpengine: mkdir %s: %w", missing[i], err)
		}
	}
	return nil
}

// PutFile streams local to remote. When bandwidthKbps is 0 it is a plain
// streaming PUT; otherwise it writes fixed 32 KiB chunks and, after each,
// sleeps to shape throughput to the requested rate.
func PutFile(localPath, remotePath string, bandwidthKbps int, s *Session) error {
	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftpengine: open %s: %w", localPath, err)
	}
	defer in.Close()

	out, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sftpengine: create remote %s: %w", remotePath, err)
	}
	defer out.Close()

	if bandwidthKbps <= 0 {
		if _, err := io.Copy(out, in); err != nil {
			return fmt.Errorf("sftpengine: put %s: %w", remotePath, err)
		}
		return nil
	}

	limiter := rate.NewLimiter(rate.Limit(bandwidthKbps*1024), chunkSize)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("sftpengine: put %s: %w", remotePath, err)
			}
			if err := limiter.WaitN(context.Background(), n); err != nil {
				return fmt.Errorf("sftpengine: rate limit %s: %w", remotePath, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("sftpengine: read %s: %w", localPath, readErr)
		}
	}
	return nil
}

// UploadTree walks entries and uploads each per the mode predicate,
// recording outcomes in rec. In full mode only, it then removes any
// remote regular file whose relative path is not present locally.
func UploadTree(entries []localcopy.Entry, localRoot string, server Server, mode manifest.Mode, s *Session, rec *manifest.Recorder, logger *zap.Logger) error {
	logger = logger.Named("sftp")
	localSet := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		remotePath := path.Join(server.RemoteRoot, entry.RelPath)
		localSet[remotePath] = struct{}{}

		if err := s.MkdirP(path.Dir(remotePath)); err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			logger.Warn("mkdir failed", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}

		shouldPut, err := shouldUpload(mode, entry, remotePath, s)
		if err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			logger.Warn("stat failed", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}
		if !shouldPut {
			rec.RecordSkip(entry.RelPath)
			continue
		}

		localPath := entry.AbsPath(localRoot)
		if err := PutFile(localPath, remotePath, server.BandwidthKbps, s); err != nil {
			rec.RecordFailure(entry.RelPath, err.Error())
			logger.Warn("upload failed", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}
		rec.RecordCopy(entry.RelPath, entry.Size)
	}

	if mode == manifest.ModeFull {
		if err := cleanupExtraFiles(s, server.RemoteRoot, localSet, logger); err != nil {
			logger.Warn("extra-file cleanup failed", zap.Error(err))
		}
	}
	return nil
}

func shouldUpload(mode manifest.Mode, entry localcopy.Entry, remotePath string, s *Session) (bool, error) {
	if mode == manifest.ModeFull {
		return true, nil
	}

	info, err := s.sftpClient.Stat(remotePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, err
	}
	return entry.ModTime.After(info.ModTime()), nil
}

func cleanupExtraFiles(s *Session, remoteRoot string, localSet map[string]struct{}, logger *zap.Logger) error {
	walker := s.sftpClient.Walk(remoteRoot)
	var toRemove []string
	for walker.Step() {
		if walker.Err() != nil {
			continue
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}
		p := walker.Path()
		if _, ok := localSet[p]; !ok {
			toRemove = append(toRemove, p)
		}
	}

	for _, p := range toRemove {
		if err := s.sftpClient.Remove(p); err != nil {
			logger.Warn("failed to remove extra remote file", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

// DownloadTree recursively fetches every regular file under remoteRoot
// into localDir, mirroring the remote relative layout. Used by the
// restore engine to stage a remote tree before the local restore path
// runs.
func (s *Session) DownloadTree(remoteRoot, localDir string) error {
	walker := s.sftpClient.Walk(remoteRoot)
	for walker.Step() {
		if walker.Err() != nil {
			continue
		}
		info := walker.Stat()
		if info.IsDir() {
			continue
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), remoteRoot), "/")
		localPath := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("sftpengine: mkdir %s: %w", filepath.Dir(localPath), err)
		}

		if err := s.getFile(walker.Path(), localPath); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) getFile(remotePath, localPath string) error {
	in, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("sftpengine: open remote %s: %w", remotePath, err)
	}
	defer in.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("sftpengine: create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("sftpengine: download %s: %w", remotePath, err)
	}
	return nil
}

// SyncServer wraps UploadTree in the contract's retry policy: up to
// RetryAttempts attempts (default 3) with a fixed delay (default 2s)
// between them, each attempt re-opening the connection from scratch.
func SyncServer(entries []localcopy.Entry, localRoot string, server Server, mode manifest.Mode, rec *manifest.Recorder, logger *zap.Logger) error {
	attempts := server.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := server.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		session, err := Connect(server, logger)
		if err != nil {
			lastErr = err
			logger.Warn("connect attempt failed", zap.Int("attempt", attempt), zap.String("host", server.Host), zap.Error(err))
			if attempt < attempts {
				time.Sleep(delay)
			}
			continue
		}

		err = UploadTree(entries, localRoot, server, mode, session, rec, logger)
		session.Close()
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("upload attempt failed", zap.Int("attempt", attempt), zap.String("host", server.Host), zap.Error(err))
		if attempt < attempts {
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("sftpengine: sync %s failed after %d attempts: %w", server.Host, attempts, lastErr)
}
