package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StatNames lists the per-column statistics of one batch in output order.
var StatNames = []string{
	"mean", "std", "min", "max", "median",
	"first", "mid", "last", "trend", "range",
	"q25", "q75",
	"seg1", "seg2", "seg3", "seg_trend1", "seg_trend2",
}

// StatsPerColumn is the number of features derived from each input column.
var StatsPerColumn = len(StatNames)

// batchStats fills dst with the statistics of one column's batch values.
// dst must have room for StatsPerColumn entries and sorted is scratch space
// of the same length as values.
func batchStats(dst, values, sorted []float64) {
	n := len(values)

	copy(sorted, values)
	sort.Float64s(sorted)

	mean := stat.Mean(values, nil)
	first := values[0]
	last := values[n-1]
	lo := sorted[0]
	hi := sorted[n-1]

	s := n / 3
	seg1 := stat.Mean(values[:s], nil)
	seg2 := stat.Mean(values[s:2*s], nil)
	seg3 := stat.Mean(values[2*s:], nil)

	dst[0] = mean
	dst[1] = sampleStd(values)
	dst[2] = lo
	dst[3] = hi
	dst[4] = quantile(sorted, 0.5)
	dst[5] = first
	dst[6] = values[n/2]
	dst[7] = last
	dst[8] = last - first
	dst[9] = hi - lo
	dst[10] = quantile(sorted, 0.25)
	dst[11] = quantile(sorted, 0.75)
	dst[12] = seg1
	dst[13] = seg2
	dst[14] = seg3
	dst[15] = seg2 - seg1
	dst[16] = seg3 - seg2
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	_, variance := stat.MeanVariance(values, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	return math.Sqrt(variance)
}

// quantile interpolates linearly between the order statistics around
// q*(n-1). sorted must be ascending and non-empty.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	pos := q * float64(n-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}
