package storage_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ossgate/internal/storage"

	"github.com/stretchr/testify/require"
)

const listBucketResult = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>media</Name><Prefix>a/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>a/b.txt</Key><LastModified>2024-01-02T03:04:05.000Z</LastModified><ETag>"abc"</ETag><Size>3</Size><StorageClass>STANDARD</StorageClass></Contents>
<Contents><Key>a/c/</Key><LastModified>2024-01-02T03:04:05.000Z</LastModified><ETag>"d41d8cd98f00b204e9800998ecf8427e"</ETag><Size>0</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

func TestMinioGatewayListObjects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/media/" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		query := r.URL.Query()
		if query.Get("list-type") != "2" || query.Get("prefix") != "a/" || query.Get("delimiter") != "" {
			http.Error(w, "unexpected listing query", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(listBucketResult))
	}))
	t.Cleanup(srv.Close)

	gw, err := storage.New(t.Context(), storage.Config{
		Provider:  storage.ProviderMinio,
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		Bucket:    "media",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		PathStyle: true,
	})
	require.NoError(t, err, "storage.New error")
	require.Equal(t, "media", gw.Bucket())

	objects, err := gw.ListObjects(t.Context(), "a/")
	require.NoError(t, err, "ListObjects error")
	require.Len(t, objects, 2, "recursive listing returns every key")
	require.Equal(t, "a/b.txt", objects[0].Key)
	require.Equal(t, int64(3), objects[0].Size)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), objects[0].LastModified.UTC())
	require.True(t, objects[1].IsDirMarker(), "folder marker is kept")
}

func TestOBSGatewayConstruction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  storage.Config
	}{
		{
			name: "defaults",
			cfg:  storage.Config{Endpoint: "https://obs.cn-north-4.myhuaweicloud.com"},
		},
		{
			name: "tuned",
			cfg: storage.Config{
				Endpoint:          "http://obs.example.com:8080",
				MaxConnections:    16,
				ConnectionTimeout: 5 * time.Second,
				PathStyle:         true,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := tc.cfg
			cfg.Provider = storage.ProviderOBS
			cfg.Bucket = "media"
			cfg.AccessKey = "ak"
			cfg.SecretKey = "sk"

			gw, err := storage.New(t.Context(), cfg)
			require.NoError(t, err, "storage.New error")
			require.IsType(t, &storage.OBSGateway{}, gw)
			require.Equal(t, "obs://media", gw.String())
			require.Equal(t, "media", gw.Bucket())
		})
	}
}
