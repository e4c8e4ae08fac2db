package sftpengine

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"

	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/logging"
	"github.com/qbak-io/backupd/internal/manifest"
)

// pipeRWC adapts a pair of io.Pipe halves into the io.ReadWriteCloser the
// sftp package's server/client constructors expect, letting a test drive
// the real SFTP protocol without an SSH transport underneath it.
type pipeRWC struct {
	io.Reader
	io.WriteCloser
}

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	root := t.TempDir()

	serverRead, clientWrite := io.Pipe()
	clientRead, serverWrite := io.Pipe()

	server, err := sftp.NewServer(pipeRWC{serverRead, serverWrite})
	require.NoError(t, err)
	go func() { _ = server.Serve() }()
	t.Cleanup(func() { server.Close() })

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return &Session{sftpClient: client}, root
}

func TestMkdirP_CreatesMissingAncestors(t *testing.T) {
	session, root := newTestSession(t)
	target := filepath.Join(root, "a", "b", "c")

	require.NoError(t, session.MkdirP(target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestMkdirP_IdempotentOnExistingDir(t *testing.T) {
	session, root := newTestSession(t)
	target := filepath.Join(root, "already")
	require.NoError(t, os.MkdirAll(target, 0o755))

	require.NoError(t, session.MkdirP(target))
}

func TestPutFile_PlainStreamingPut(t *testing.T) {
	session, root := newTestSession(t)
	localDir := t.TempDir()
	localPath := filepath.Join(localDir, "payload.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello sftp"), 0o644))

	remotePath := filepath.Join(root, "payload.txt")
	require.NoError(t, PutFile(localPath, remotePath, 0, session))

	got, err := os.ReadFile(remotePath)
	require.NoError(t, err)
	require.Equal(t, "hello sftp", string(got))
}

func TestUploadTree_FullModeUploadsEverythingAndCleansExtras(t *testing.T) {
	session, root := newTestSession(t)
	localRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(localRoot, "keep.txt"), []byte("keep"), 0o644))

	extraPath := filepath.Join(root, "stale.txt")
	require.NoError(t, os.WriteFile(extraPath, []byte("stale"), 0o644))

	entries, err := localcopy.Enumerate(localRoot, nil)
	require.NoError(t, err)

	rec := manifest.New(manifest.ModeFull, time.Now())
	server := Server{RemoteRoot: root}
	require.NoError(t, UploadTree(entries, localRoot, server, manifest.ModeFull, session, rec, logging.Nop()))

	copied, skipped, failed := rec.Counts()
	require.Equal(t, 1, copied)
	require.Equal(t, 0, skipped)
	require.Equal(t, 0, failed)

	require.NoFileExists(t, extraPath, "full-mode sync must remove files absent from the local tree")
	require.FileExists(t, filepath.Join(root, "keep.txt"))
}

func TestUploadTree_IncrementalSkipsUpToDateRemote(t *testing.T) {
	session, root := newTestSession(t)
	localRoot := t.TempDir()
	localPath := filepath.Join(localRoot, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("same"), 0o644))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), future, future))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(localPath, past, past))

	entries, err := localcopy.Enumerate(localRoot, nil)
	require.NoError(t, err)

	rec := manifest.New(manifest.ModeIncremental, time.Now())
	server := Server{RemoteRoot: root}
	require.NoError(t, UploadTree(entries, localRoot, server, manifest.ModeIncremental, session, rec, logging.Nop()))

	copied, skipped, failed := rec.Counts()
	require.Equal(t, 0, copied)
	require.Equal(t, 1, skipped)
	require.Equal(t, 0, failed)
}
