package engine

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogramTwoBins(t *testing.T) {
	bins := Histogram([]float64{1, 2, 3, 10}, 2)
	require.Len(t, bins, 2)
	assert.Equal(t, "1-5", bins[0].Bin)
	assert.Equal(t, 3, bins[0].Count)
	assert.Equal(t, "6-10", bins[1].Bin)
	assert.Equal(t, 1, bins[1].Count)
}

func TestHistogramSingleValue(t *testing.T) {
	bins := Histogram([]float64{7, 7, 7}, 4)
	require.Len(t, bins, 1)
	assert.Equal(t, "7", bins[0].Bin)
	assert.Equal(t, 3, bins[0].Count)
}

func TestHistogramNarrowBins(t *testing.T) {
	bins := Histogram([]float64{0, 0.5, 1}, 2)
	require.Len(t, bins, 2)
	assert.Equal(t, "0.00-0.50", bins[0].Bin)
	assert.Equal(t, "0.50-1.00", bins[1].Bin)
}

func TestHistogramDropsNonNumeric(t *testing.T) {
	rows := []Row{
		{"v": 1}, {"v": "2"}, {"v": "abc"}, {"v": math.NaN()}, {"v": nil}, {"v": true}, {},
	}
	res := Execute(rows, VisualizationConfig{Type: KindHistogram, XField: "v"}, nil)
	total := 0
	for _, b := range res.Bins {
		total += b.Count
	}
	assert.Equal(t, 2, total)
	assert.Len(t, res.Bins, DefaultBinCount)
}

func TestHistogramCountConservation(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(200) + 1
		values := make([]float64, n)
		for i := range values {
			values[i] = r.NormFloat64() * 100
		}
		bins := Histogram(values, r.Intn(20)+1)
		total := 0
		for _, b := range bins {
			total += b.Count
		}
		assert.Equal(t, n, total)
	}
}

func TestHistogramEmpty(t *testing.T) {
	assert.Empty(t, Histogram(nil, 5))
}

func TestHistogramRangeBeyondMaxFloat(t *testing.T) {
	bins := Histogram([]float64{-1e308, 0, 1e308}, 2)
	require.Len(t, bins, 2)
	assert.Equal(t, 1, bins[0].Count)
	assert.Equal(t, 2, bins[1].Count)
	assert.Equal(t, "-1e+308-0", bins[0].Bin)
	assert.Equal(t, "0-1e+308", bins[1].Bin)
	for _, b := range bins {
		assert.False(t, math.IsNaN(b.Lo) || math.IsInf(b.Lo, 0), b.Bin)
		assert.False(t, math.IsNaN(b.Hi) || math.IsInf(b.Hi, 0), b.Bin)
	}
}
