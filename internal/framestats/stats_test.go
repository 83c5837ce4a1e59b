package framestats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizeEmptyFrame(t *testing.T) {
	t.Parallel()

	s := Summarize(nil, 16)
	assert.Zero(t, s.Count)
	assert.Zero(t, s.Mean)
}

func TestSummarizeConstantFrame(t *testing.T) {
	t.Parallel()

	pixels := make([]uint16, 64)
	for i := range pixels {
		pixels[i] = 100
	}

	s := Summarize(pixels, 16)
	assert.Equal(t, 64, s.Count)
	assert.Equal(t, uint16(100), s.Min)
	assert.Equal(t, uint16(100), s.Max)
	assert.Equal(t, 100.0, s.Mean)
	assert.Equal(t, 0.0, s.StdDev)
	assert.Equal(t, 100.0, s.P50)
	assert.Zero(t, s.Saturated)
}

func TestSummarizeRamp(t *testing.T) {
	t.Parallel()

	pixels := make([]uint16, 101)
	for i := range pixels {
		pixels[i] = uint16(i) // 0..100
	}

	s := Summarize(pixels, 16)
	assert.Equal(t, uint16(0), s.Min)
	assert.Equal(t, uint16(100), s.Max)
	assert.InDelta(t, 50.0, s.Mean, 1e-9)
	assert.InDelta(t, 50.0, s.P50, 0.5)
	assert.True(t, s.P95 > s.P50 && s.P99 > s.P95)
	assert.False(t, math.IsNaN(s.StdDev))
}

func TestSummarizeSaturation(t *testing.T) {
	t.Parallel()

	pixels := []uint16{0, 4095, 4095, 4094, 200}
	s := Summarize(pixels, 12)
	assert.Equal(t, 2, s.Saturated, "only full-scale 12-bit samples count")

	s16 := Summarize(pixels, 16)
	assert.Zero(t, s16.Saturated)
}

func TestRowMeans(t *testing.T) {
	t.Parallel()

	// Two rows: constant 10 and constant 30.
	pixels := []uint16{10, 10, 10, 30, 30, 30}
	means := RowMeans(pixels, 2, 3)
	assert.Equal(t, []float64{10, 30}, means)

	assert.Nil(t, RowMeans(pixels, 3, 3), "short frame yields no profile")
	assert.Nil(t, RowMeans(pixels, 0, 3))
}
