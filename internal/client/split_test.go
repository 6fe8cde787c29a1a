package client_test

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"ossgate/internal/client"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, data []byte, mode client.Mode, size int) [][]byte {
	t.Helper()

	var chunks [][]byte
	err := client.Split(bytes.NewReader(data), mode, size, func(number int, chunk []byte) error {
		require.Equal(t, len(chunks)+1, number, "chunks are numbered in order from 1")
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err, "Split error")
	return chunks
}

func TestSplitFixed(t *testing.T) {
	t.Parallel()

	chunks := collect(t, []byte("abcdefghij"), client.ModeFixed, 4)
	require.Equal(t, [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ij")}, chunks)

	require.Empty(t, collect(t, nil, client.ModeFixed, 4), "empty input has no chunks")
	require.Len(t, collect(t, make([]byte, 8), client.ModeFixed, 4), 2, "exact multiple has no empty tail")
}

func TestSplitContentDefined(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 7))
	data := make([]byte, 20<<20)
	for i := range data {
		data[i] = byte(rng.Uint32())
	}

	first := collect(t, data, client.ModeCDC, 8<<20)
	require.Greater(t, len(first), 2)
	require.Equal(t, data, bytes.Join(first, nil), "chunks reassemble the input")

	for i, chunk := range first[:len(first)-1] {
		require.GreaterOrEqual(t, len(chunk), client.MinPartSize, "chunk %d below the minimum part size", i+1)
		require.LessOrEqual(t, len(chunk), 8<<20, "chunk %d above the maximum", i+1)
	}

	second := collect(t, data, client.ModeCDC, 8<<20)
	require.Equal(t, first, second, "content-defined boundaries are stable")
}

func TestSplitStopsOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	err := client.Split(bytes.NewReader([]byte("abcdefgh")), client.ModeFixed, 2, func(int, []byte) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]client.Mode{"": client.ModeFixed, "fixed": client.ModeFixed, "cdc": client.ModeCDC} {
		got, err := client.ParseMode(in)
		require.NoError(t, err, "ParseMode(%q)", in)
		require.Equal(t, want, got)
	}

	_, err := client.ParseMode("rolling")
	require.Error(t, err)
}
