package confidence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinary(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{0.01, 0.98},
		{0.25, 0.5},
		{0.5, 0},
		{0.75, 0.5},
		{1, 1},
	}
	for _, tt := range tests {
		got, err := Binary(tt.p)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-12, "p=%v", tt.p)
	}
}

func TestBinary_OutOfRange(t *testing.T) {
	for _, p := range []float64{-0.1, 1.1, math.NaN(), math.Inf(1)} {
		_, err := Binary(p)
		assert.ErrorIs(t, err, ErrProbabilityRange, "p=%v", p)
	}
}

func TestBinary_Monotone(t *testing.T) {
	prev := -1.0
	for p := 0.5; p <= 1.0; p += 0.05 {
		c, err := Binary(p)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestBinaryBatch(t *testing.T) {
	got, err := BinaryBatch([]float64{0.1, 0.5, 0.9})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.8, 0, 0.8}, got, 1e-12)

	_, err = BinaryBatch([]float64{0.2, 2})
	assert.ErrorIs(t, err, ErrProbabilityRange)
	assert.Contains(t, err.Error(), "probability 1")
}

func TestMulticlass(t *testing.T) {
	c, err := Multiclass(0.75, 2)
	require.NoError(t, err)
	b, _ := Binary(0.75)
	assert.InDelta(t, b, c, 1e-12, "K=2 matches Binary")

	c, err = Multiclass(1.0/3, 3)
	require.NoError(t, err)
	assert.InDelta(t, 0, c, 1e-12)

	c, err = Multiclass(1, 5)
	require.NoError(t, err)
	assert.InDelta(t, 1, c, 1e-12)

	c, err = Multiclass(0.1, 4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c, "below chance clamps to 0")

	_, err = Multiclass(0.5, 1)
	assert.ErrorIs(t, err, ErrClassCount)
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 0.5, Mean([]float64{0, 1, 0.5}), 1e-12)
}
