package dataset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompress(t *testing.T) {
	raw := bytes.Repeat([]byte("feature_a,feature_b,label\n1.0,2.0,0\n"), 1000)

	packed, err := Compress(raw)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(raw))
	assert.Equal(t, []byte{0x1f, 0x8b}, packed[:2])

	out, err := Decompress(packed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecompress_Invalid(t *testing.T) {
	_, err := Decompress([]byte("not gzip"))
	assert.Error(t, err)
}

func TestEstimateMemoryMb(t *testing.T) {
	tests := []struct {
		name       string
		size       int64
		multiplier float64
		want       int64
	}{
		{name: "empty dataset", size: 0, multiplier: 1.2, want: 1},
		{name: "one byte", size: 1, multiplier: 1.2, want: 1},
		{name: "exactly one MiB", size: mib, multiplier: 1.2, want: 2},
		{name: "ten MiB", size: 10 * mib, multiplier: 1.2, want: 12},
		{name: "multiplier of one", size: 10 * mib, multiplier: 1, want: 10},
		{name: "default multiplier", size: 10 * mib, multiplier: 0, want: 12},
		{name: "rounds up", size: 10*mib + 1, multiplier: 1, want: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateMemoryMb(tt.size, tt.multiplier))
		})
	}
}
