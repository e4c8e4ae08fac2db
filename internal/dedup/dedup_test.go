package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbak-io/backupd/internal/logging"
)

func sameInode(t *testing.T, a, b string) bool {
	t.Helper()
	infoA, err := os.Stat(a)
	require.NoError(t, err)
	infoB, err := os.Stat(b)
	require.NoError(t, err)
	return os.SameFile(infoA, infoB)
}

func TestRun_HardlinksIdenticalSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(pathA, payload, 0o644))
	require.NoError(t, os.WriteFile(pathB, payload, 0o644))

	summary, err := Run([]string{dir}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, summary.DuplicatesFound)
	require.EqualValues(t, len(payload), summary.BytesSaved)

	require.True(t, sameInode(t, pathA, pathB), "duplicate files must share an inode after dedup")

	got, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestRun_DistinctFilesNotLinked(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(pathA, []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("two"), 0o644))

	summary, err := Run([]string{dir}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, summary.DuplicatesFound)
	require.False(t, sameInode(t, pathA, pathB))
}

func TestRun_SkipsManifestsAndEncryptedFiles(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "backup_manifest_20260101_000000.json")
	encPath1 := filepath.Join(dir, "a.txt.enc")
	encPath2 := filepath.Join(dir, "b.txt.enc")
	require.NoError(t, os.WriteFile(manifestPath, []byte(`{"duplicate":true}`), 0o644))
	require.NoError(t, os.WriteFile(encPath1, []byte("identical ciphertext"), 0o644))
	require.NoError(t, os.WriteFile(encPath2, []byte("identical ciphertext"), 0o644))

	summary, err := Run([]string{dir}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, summary.FilesChecked)
	require.Equal(t, 0, summary.DuplicatesFound)
	require.False(t, sameInode(t, encPath1, encPath2))
}

func TestRun_EmptyFilesNeverLinked(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "empty-a.txt")
	pathB := filepath.Join(dir, "empty-b.txt")
	require.NoError(t, os.WriteFile(pathA, nil, 0o644))
	require.NoError(t, os.WriteFile(pathB, nil, 0o644))

	summary, err := Run([]string{dir}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 0, summary.FilesChecked)
	require.Equal(t, 0, summary.DuplicatesFound)
}

func TestRun_CrossDirectoryDedupOnSameDevice(t *testing.T) {
	root := t.TempDir()
	dirA := filepath.Join(root, "destA")
	dirB := filepath.Join(root, "destB")
	require.NoError(t, os.MkdirAll(dirA, 0o755))
	require.NoError(t, os.MkdirAll(dirB, 0o755))

	payload := []byte("shared content across two destinations on one filesystem")
	pathA := filepath.Join(dirA, "file.txt")
	pathB := filepath.Join(dirB, "file.txt")
	require.NoError(t, os.WriteFile(pathA, payload, 0o644))
	require.NoError(t, os.WriteFile(pathB, payload, 0o644))

	summary, err := Run([]string{dirA, dirB}, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, summary.DuplicatesFound)
	require.True(t, sameInode(t, pathA, pathB), "files across destinations sharing a device must be hardlinked together")
}
