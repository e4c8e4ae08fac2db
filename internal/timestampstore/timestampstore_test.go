package timestampstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMissingFilesReturnZero(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "BackupTimestamp"))

	last, err := s.GetLastBackup()
	require.NoError(t, err)
	require.True(t, last.IsZero())

	lastFull, err := s.GetLastFullBackup()
	require.NoError(t, err)
	require.True(t, lastFull.IsZero())
}

func TestUpdateAndGet_CreatesParentDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "BackupTimestamp"))

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, s.UpdateLastBackup(now))
	require.NoError(t, s.UpdateLastFullBackup(now))

	got, err := s.GetLastBackup()
	require.NoError(t, err)
	require.Equal(t, now.Unix(), got.Unix())

	gotFull, err := s.GetLastFullBackup()
	require.NoError(t, err)
	require.Equal(t, now.Unix(), gotFull.Unix())
}
