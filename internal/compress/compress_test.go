package compress_test

import (
	"bytes"
	"testing"

	"ossgate/internal/compress"

	"github.com/stretchr/testify/require"
)

func TestCodecsRoundTrip(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("ossgate chunked upload "), 512)

	for _, name := range []string{"zstd", "snappy", "lz4"} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			codec, err := compress.Lookup(name)
			require.NoError(t, err)
			require.Equal(t, name, codec.Name())

			packed, err := compress.Encode(codec, payload)
			require.NoError(t, err, "Encode error")
			require.Less(t, len(packed), len(payload), "repetitive input should shrink")

			unpacked, err := compress.Decode(codec, packed, len(payload))
			require.NoError(t, err, "Decode error")
			require.Equal(t, payload, unpacked, "payload mismatch")
		})
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	codec, err := compress.Lookup("")
	require.NoError(t, err)
	require.Nil(t, codec, "empty name disables compression")

	codec, err = compress.Lookup("ZSTD")
	require.NoError(t, err)
	require.Equal(t, "zstd", codec.Name())

	_, err = compress.Lookup("brotli")
	require.Error(t, err)
}

func TestDecodeSizeMismatch(t *testing.T) {
	t.Parallel()

	codec, err := compress.Lookup("snappy")
	require.NoError(t, err)

	packed, err := compress.Encode(codec, []byte("hello"))
	require.NoError(t, err)

	_, err = compress.Decode(codec, packed, 10)
	require.Error(t, err, "declared raw size must match")
}
