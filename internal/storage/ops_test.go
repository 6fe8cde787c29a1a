package storage_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ossgate/internal/compress"
	"ossgate/internal/storage"

	"github.com/stretchr/testify/require"
)

func newOps(t *testing.T, codecName string) *storage.Ops {
	t.Helper()

	cfg := storage.Config{
		Provider: storage.ProviderLocal,
		Endpoint: "http://localhost:9000",
		Bucket:   "example",
		DataDir:  t.TempDir(),
	}

	gw, err := storage.New(t.Context(), cfg)
	require.NoError(t, err, "storage.New error")
	require.NoError(t, gw.EnsureBucket(t.Context()))

	locator, err := storage.NewLocator(cfg)
	require.NoError(t, err)

	codec, err := compress.Lookup(codecName)
	require.NoError(t, err)

	return storage.NewOps(gw, locator, codec)
}

func TestOpsPutStatDelete(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "")
	ctx := t.Context()

	info, err := ops.PutObject(ctx, "/reports", "q1.csv", strings.NewReader("a,b\n1,2\n"), 8, "")
	require.NoError(t, err, "PutObject error")
	require.Equal(t, "reports/q1.csv", info.Key)
	require.Equal(t, "q1.csv", info.Name)
	require.Equal(t, "csv", info.Extension)
	require.Equal(t, "http://localhost:9000/example/reports/q1.csv", info.URL)
	require.Equal(t, int64(8), info.Size)

	stat, err := ops.Stat(ctx, "reports/q1.csv")
	require.NoError(t, err)
	require.NotNil(t, stat)
	require.Equal(t, info.Key, stat.Key)

	require.NoError(t, ops.DeleteObject(ctx, "reports/q1.csv"))

	stat, err = ops.Stat(ctx, "reports/q1.csv")
	require.NoError(t, err, "a missing object is not an error")
	require.Nil(t, stat)
}

func TestOpsCompressedRoundTrip(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "zstd")
	ctx := t.Context()

	payload := bytes.Repeat([]byte("compress me "), 1000)
	info, err := ops.PutObjectKey(ctx, "blob.txt", bytes.NewReader(payload), int64(len(payload)), "")
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), info.Size, "info reports the raw size")

	raw, err := ops.Gateway().HeadObject(ctx, "blob.txt")
	require.NoError(t, err)
	require.Less(t, raw.Size, int64(len(payload)), "stored bytes are compressed")

	rc, obj, err := ops.GetObject(ctx, "blob.txt")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, int64(len(payload)), obj.Size)
}

func TestOpsListAndDeleteFolder(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "")
	ctx := t.Context()

	for _, key := range []string{"a/1.txt", "a/b/2.txt", "z.txt"} {
		_, err := ops.PutObjectKey(ctx, key, strings.NewReader("x"), 1, "")
		require.NoError(t, err)
	}
	_, err := ops.PutObjectKey(ctx, "a/empty/", strings.NewReader(""), 0, "")
	require.NoError(t, err)

	infos, err := ops.ListObjects(ctx, "a")
	require.NoError(t, err)
	require.Len(t, infos, 2, "folder markers are not listed")
	require.Equal(t, "a/1.txt", infos[0].Key)
	require.Equal(t, "a/b/2.txt", infos[1].Key)

	raw, err := ops.ListRaw(ctx, "a")
	require.NoError(t, err)
	require.Len(t, raw, 3)

	n, err := ops.DeleteFolder(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	infos, err = ops.ListObjects(ctx, "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "z.txt", infos[0].Key)

	_, err = ops.DeleteFolder(ctx, "/")
	require.ErrorIs(t, err, storage.ErrInvalidPrefix, "refuse to empty the whole bucket")
}

func TestOpsUploadDir(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "snappy")
	ctx := t.Context()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "leaf.json"), []byte(`{"a":1}`), 0o644))

	uploaded, err := ops.UploadDir(ctx, src, "backup")
	require.NoError(t, err)
	require.Len(t, uploaded, 2)

	infos, err := ops.ListObjects(ctx, "backup")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "backup/sub/leaf.json", infos[0].Key)
	require.Equal(t, "backup/top.txt", infos[1].Key)
	require.Equal(t, int64(3), infos[1].Size)
}

func TestOpsDownloadFolder(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "zstd")
	ctx := t.Context()

	for key, body := range map[string]string{
		"photos/2024/a.jpg": "aaaa",
		"photos/b.txt":      "bb",
		"other/c.txt":       "c",
	} {
		_, err := ops.PutObjectKey(ctx, key, strings.NewReader(body), int64(len(body)), "")
		require.NoError(t, err, "PutObjectKey %s", key)
	}
	_, err := ops.PutObjectKey(ctx, "photos/empty/", bytes.NewReader(nil), 0, "")
	require.NoError(t, err, "folder marker")

	dest := filepath.Join(t.TempDir(), "out")
	n, err := ops.DownloadFolder(ctx, "/photos/", dest)
	require.NoError(t, err)
	require.Equal(t, 2, n, "folder markers are not counted")

	data, err := os.ReadFile(filepath.Join(dest, "2024", "a.jpg"))
	require.NoError(t, err)
	require.Equal(t, "aaaa", string(data), "downloaded objects are decompressed")

	data, err = os.ReadFile(filepath.Join(dest, "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "bb", string(data))

	info, err := os.Stat(filepath.Join(dest, "empty"))
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(dest, "c.txt"))
	require.ErrorIs(t, err, os.ErrNotExist, "objects outside the folder are left alone")
}

func TestOpsDownloadFileMissing(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "")

	_, err := ops.DownloadFile(t.Context(), "nope.txt", filepath.Join(t.TempDir(), "nope.txt"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpsDownloadFileReplacesExisting(t *testing.T) {
	t.Parallel()

	ops := newOps(t, "snappy")
	ctx := t.Context()

	_, err := ops.PutObjectKey(ctx, "notes/today.txt", strings.NewReader("fresh"), 5, "")
	require.NoError(t, err)

	dir := t.TempDir()
	local := filepath.Join(dir, "today.txt")
	require.NoError(t, os.WriteFile(local, []byte("stale contents"), 0o644))

	n, err := ops.DownloadFile(ctx, "notes/today.txt", local)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files are left next to the target")

	infos, err := ops.ListObjects(ctx, "notes/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
}
