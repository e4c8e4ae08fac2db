package hashutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSHA256OfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	digest, err := SHA256OfFile(path)
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", digest)
}

func TestSHA256OfFileOrEmpty_MissingFile(t *testing.T) {
	require.Equal(t, "", SHA256OfFileOrEmpty(filepath.Join(t.TempDir(), "missing")))
}

func TestChecksumsEqual(t *testing.T) {
	require.True(t, ChecksumsEqual("abc", "abc"))
	require.False(t, ChecksumsEqual("abc", "def"))
	require.False(t, ChecksumsEqual("", ""))
	require.False(t, ChecksumsEqual("abc", ""))
}
