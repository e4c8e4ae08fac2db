package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/logging"
	"github.com/qbak-io/backupd/internal/manifest"
)

func TestKey_JoinsPrefixWithForwardSlash(t *testing.T) {
	bucket := Bucket{Prefix: "backups/daily"}
	require.Equal(t, "backups/daily/dir/file.txt", Key(bucket, "dir/file.txt"))
}

func TestKey_NoPrefixPassesThrough(t *testing.T) {
	bucket := Bucket{}
	require.Equal(t, "file.txt", Key(bucket, "file.txt"))
}

// fakeS3 is a minimal S3-compatible HTTP server: PUT always succeeds, HEAD
// returns 404 for unknown keys and 200 with a Last-Modified header for
// keys pre-seeded via knownObjects.
type fakeS3 struct {
	knownObjects map[string]time.Time
	puts         map[string]bool
}

func newFakeS3(t *testing.T) (*httptest.Server, *fakeS3) {
	t.Helper()
	state := &fakeS3{knownObjects: map[string]time.Time{}, puts: map[string]bool{}}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodPut:
			state.puts[key] = true
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			lastModified, ok := state.knownObjects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
	}))
	t.Cleanup(server.Close)
	return server, state
}

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	ctx := context.Background()
	t.Setenv("AWS_ACCESS_KEY_ID", "test-access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test-secret-key")

	client, err := NewClient(ctx, Bucket{
		Name:      "test-bucket",
		Region:    "us-east-1",
		Endpoint:  endpoint,
		AccessKey: "test-access-key",
		SecretKey: "test-secret-key",
	})
	require.NoError(t, err)
	return client
}

func TestPutFile_UploadsToEndpoint(t *testing.T) {
	server, state := newFakeS3(t)
	client := testClient(t, server.URL)

	dir := t.TempDir()
	localPath := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("payload"), 0o644))

	require.NoError(t, client.PutFile(context.Background(), localPath, "a.txt"))
	require.True(t, state.puts["/test-bucket/a.txt"])
}

func TestHeadObject_NotFound(t *testing.T) {
	server, _ := newFakeS3(t)
	client := testClient(t, server.URL)

	_, found, err := client.HeadObject(context.Background(), "missing.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestUploadTree_IncrementalSkipsNewerRemote(t *testing.T) {
	server, state := newFakeS3(t)
	client := testClient(t, server.URL)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	state.knownObjects["/test-bucket/fresh.txt"] = future

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fresh.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "fresh.txt"), past, past))

	entries, err := localcopy.Enumerate(dir, nil)
	require.NoError(t, err)

	rec := manifest.New(manifest.ModeIncremental, time.Now())
	UploadTree(context.Background(), entries, dir, client, manifest.ModeIncremental, rec, logging.Nop())

	copied, skipped, failed := rec.Counts()
	require.Equal(t, 0, copied)
	require.Equal(t, 1, skipped)
	require.Equal(t, 0, failed)
}

func TestUploadTree_FullModeAlwaysUploads(t *testing.T) {
	server, state := newFakeS3(t)
	client := testClient(t, server.URL)
	state.knownObjects["/test-bucket/a.txt"] = time.Now()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644))

	entries, err := localcopy.Enumerate(dir, nil)
	require.NoError(t, err)

	rec := manifest.New(manifest.ModeFull, time.Now())
	UploadTree(context.Background(), entries, dir, client, manifest.ModeFull, rec, logging.Nop())

	copied, _, _ := rec.Counts()
	require.Equal(t, 1, copied)
	require.True(t, state.puts["/test-bucket/a.txt"])
}
