package stage

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Compression algorithm names accepted by Stage. The empty string means the
// content is not compressed.
const (
	AlgorithmNone = "none"
	AlgorithmGzip = "gzip"
	AlgorithmZstd = "zstd"
	AlgorithmLZ4  = "lz4"
	AlgorithmLZMA = "lzma"
	AlgorithmXZ   = "xz"
)

// SupportedAlgorithms lists the names ParseAlgorithm accepts.
var SupportedAlgorithms = []string{AlgorithmNone, AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4, AlgorithmLZMA, AlgorithmXZ}

// ParseAlgorithm normalizes an algorithm name. Empty maps to AlgorithmNone.
func ParseAlgorithm(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return AlgorithmNone, nil
	}
	for _, a := range SupportedAlgorithms {
		if n == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown compression algorithm: %q", name)
}

// newDecompressor wraps r so reads yield the decompressed stream.
func newDecompressor(algorithm string, r io.Reader) (io.ReadCloser, error) {
	alg, err := ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	switch alg {
	case AlgorithmNone:
		return io.NopCloser(r), nil

	case AlgorithmGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return zr, nil

	case AlgorithmZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil

	case AlgorithmLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	case AlgorithmLZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("lzma reader: %w", err)
		}
		return io.NopCloser(lr), nil

	case AlgorithmXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		return io.NopCloser(xr), nil

	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", alg)
	}
}
