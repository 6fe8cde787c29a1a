// Package compress holds the block codecs that can be applied to single-shot
// object uploads before they reach the provider.
package compress

import (
	"fmt"
	"strings"
)

// Codec compresses and decompresses whole buffers. dst must be at least
// CompressBound(len(src)) bytes for Compress and the original length for
// Decompress.
type Codec interface {
	Name() string
	CompressBound(srcSize int) int
	Compress(dst, src []byte) (int, error)
	Decompress(dst, src []byte) (int, error)
}

// Lookup returns the codec registered under name. An empty name or "none"
// yields a nil Codec and no error.
func Lookup(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "zstd":
		return &ZStandard{}, nil
	case "snappy":
		return &Snappy{}, nil
	case "lz4":
		return &LZ4{}, nil
	default:
		return nil, fmt.Errorf("unknown compression codec %q", name)
	}
}

// Encode compresses src into a freshly allocated buffer.
func Encode(c Codec, src []byte) ([]byte, error) {
	dst := make([]byte, c.CompressBound(len(src)))
	n, err := c.Compress(dst, src)
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.Name(), err)
	}
	return dst[:n], nil
}

// Decode decompresses src, which must expand to exactly rawSize bytes.
func Decode(c Codec, src []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := c.Decompress(dst, src)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.Name(), err)
	}
	if n != rawSize {
		return nil, fmt.Errorf("%s decompress: got %d bytes, want %d", c.Name(), n, rawSize)
	}
	return dst, nil
}
