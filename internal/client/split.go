package client

import (
	"errors"
	"fmt"
	"io"

	"github.com/restic/chunker"
)

// Polynomial used for content-defined chunking. Any irreducible polynomial
// works as long as both ends of a resumed upload use the same one.
const Polynomial = chunker.Pol(0x3DA3358B4DC173)

const (
	// DefaultChunkSize is the fixed chunk size and the upper bound for
	// content-defined chunks.
	DefaultChunkSize = 8 << 20

	// MinPartSize is the smallest part an S3 provider accepts for anything
	// but the last part of a multipart upload.
	MinPartSize = 5 << 20
)

// Mode selects how a file is cut into chunks.
type Mode string

const (
	ModeFixed Mode = "fixed"
	ModeCDC   Mode = "cdc"
)

// ParseMode maps a command line value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFixed:
		return ModeFixed, nil
	case ModeCDC:
		return ModeCDC, nil
	default:
		return "", fmt.Errorf("unknown chunk mode %q", s)
	}
}

// Split reads r to the end and calls fn for every chunk in order, numbering
// them from 1. fn owns data.
func Split(r io.Reader, mode Mode, size int, fn func(number int, data []byte) error) error {
	if size <= 0 {
		size = DefaultChunkSize
	}

	switch mode {
	case ModeCDC:
		return splitContentDefined(r, size, fn)
	default:
		return splitFixed(r, size, fn)
	}
}

func splitFixed(r io.Reader, size int, fn func(int, []byte) error) error {
	for number := 1; ; number++ {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := fn(number, buf[:n]); err != nil {
				return err
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}

// splitContentDefined cuts r at rabin fingerprint boundaries between
// MinPartSize and maxSize bytes, so unchanged regions of a file produce the same
// chunks across uploads.
func splitContentDefined(r io.Reader, maxSize int, fn func(int, []byte) error) error {
	minSize := MinPartSize
	if maxSize < minSize {
		minSize = maxSize
	}

	c := chunker.NewWithBoundaries(r, Polynomial, uint(minSize), uint(maxSize))
	buf := make([]byte, maxSize)

	for number := 1; ; number++ {
		chunk, err := c.Next(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		// Next reuses buf for the following chunk.
		data := make([]byte, chunk.Length)
		copy(data, chunk.Data)

		if err := fn(number, data); err != nil {
			return err
		}
	}
}
