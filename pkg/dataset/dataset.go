package dataset

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
)

// DefaultMemoryMultiplier is the safety factor applied to the dataset size
// when estimating the memory a task reserves on its node
const DefaultMemoryMultiplier = 1.2

const mib = 1024 * 1024

// Compress gzips data at the default compression level
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress dataset: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compressed dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed dataset: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress dataset: %w", err)
	}
	return out, nil
}

// EstimateMemoryMb returns ceil(sizeBytes in MiB * multiplier), never less
// than 1. A non-positive multiplier falls back to DefaultMemoryMultiplier.
func EstimateMemoryMb(sizeBytes int64, multiplier float64) int64 {
	if multiplier <= 0 {
		multiplier = DefaultMemoryMultiplier
	}
	mb := int64(math.Ceil(float64(sizeBytes) / mib * multiplier))
	if mb < 1 {
		return 1
	}
	return mb
}
