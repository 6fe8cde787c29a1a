package storage_test

import (
	"testing"
	"time"

	"ossgate/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestLocatorPathStyle(t *testing.T) {
	t.Parallel()

	loc, err := storage.NewLocator(storage.Config{
		Provider: storage.ProviderMinio,
		Endpoint: "http://localhost:9000/",
		Bucket:   "media",
	})
	require.NoError(t, err, "NewLocator error")
	require.Equal(t, "http://localhost:9000/media/", loc.Domain())
	require.Equal(t, "http://localhost:9000/media/a/b.txt", loc.URL("/a/b.txt"))
}

func TestLocatorVirtualHostedOBS(t *testing.T) {
	t.Parallel()

	loc, err := storage.NewLocator(storage.Config{
		Provider: storage.ProviderOBS,
		Endpoint: "https://obs.cn-north-4.myhuaweicloud.com",
		Bucket:   "media",
	})
	require.NoError(t, err, "NewLocator error")
	require.Equal(t, "https://media.obs.cn-north-4.myhuaweicloud.com/a/b.txt", loc.URL("a/b.txt"))

	_, err = storage.NewLocator(storage.Config{Provider: storage.ProviderOBS, Endpoint: "obs.example.com", Bucket: "media"})
	require.Error(t, err, "OBS endpoint without scheme")
}

func TestLocatorPublicURL(t *testing.T) {
	t.Parallel()

	loc, err := storage.NewLocator(storage.Config{
		Provider:  storage.ProviderS3,
		Endpoint:  "https://s3.amazonaws.com",
		Bucket:    "media",
		PublicURL: "https://cdn.example.com",
	})
	require.NoError(t, err, "NewLocator error")
	require.Equal(t, "https://cdn.example.com/x.png", loc.URL("x.png"))
}

func TestLocatorInfo(t *testing.T) {
	t.Parallel()

	loc, err := storage.NewLocator(storage.Config{Endpoint: "http://h", Bucket: "b"})
	require.NoError(t, err, "NewLocator error")

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	info := loc.Info(storage.Object{Key: "docs/report.pdf", Size: 42, LastModified: now})
	require.Equal(t, "report.pdf", info.Name)
	require.Equal(t, "docs/report.pdf", info.Key)
	require.Equal(t, "http://h/b/docs/report.pdf", info.URL)
	require.Equal(t, "pdf", info.Extension)
	require.Equal(t, int64(42), info.Size)
	require.Equal(t, now, info.LastModified)

	folder := loc.Info(storage.Object{Key: "docs/"})
	require.Equal(t, "docs", folder.Name, "folder marker name")
	require.Equal(t, "docs", folder.Key, "folder marker key")
}
