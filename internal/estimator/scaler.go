package estimator

import (
	"math"
	"sort"

	"batchml/internal/common"

	"gonum.org/v1/gonum/stat"
)

// ScalerKind selects a per-column scaling method.
type ScalerKind string

const (
	ScalerNone     ScalerKind = "none"
	ScalerStandard ScalerKind = "standard"
	ScalerMinMax   ScalerKind = "minmax"
	ScalerRobust   ScalerKind = "robust"
)

var scalerDescriptions = map[ScalerKind]string{
	ScalerNone:     "No scaling",
	ScalerStandard: "Zero mean and unit variance",
	ScalerMinMax:   "Rescale each column to [0, 1]",
	ScalerRobust:   "Center on the median and scale by the interquartile range",
}

// ScalerInfo names a scaler and describes what it does.
type ScalerInfo struct {
	Kind        ScalerKind `json:"id"`
	Description string     `json:"description"`
}

// ScalerKinds lists the available scalers, no scaling first.
func ScalerKinds() []ScalerInfo {
	kinds := []ScalerKind{ScalerNone, ScalerStandard, ScalerMinMax, ScalerRobust}
	out := make([]ScalerInfo, len(kinds))
	for i, k := range kinds {
		out[i] = ScalerInfo{Kind: k, Description: scalerDescriptions[k]}
	}
	return out
}

// ParseScalerKind validates a scaler name. The empty string means none.
func ParseScalerKind(s string) (ScalerKind, error) {
	if s == "" {
		return ScalerNone, nil
	}
	k := ScalerKind(s)
	if _, ok := scalerDescriptions[k]; !ok {
		return "", common.InvalidParam("scaler", s, "must be one of none, standard, minmax, robust")
	}
	return k, nil
}

// Scaler holds fitted per-column offsets and divisors: x' = (x - Center) / Scale.
type Scaler struct {
	Kind   ScalerKind
	Center []float64
	Scale  []float64
}

// FitScaler learns column statistics from X. Columns with zero spread get
// a divisor of 1 so they map to a constant instead of NaN.
func FitScaler(kind ScalerKind, X [][]float64) (*Scaler, error) {
	if _, ok := scalerDescriptions[kind]; !ok {
		return nil, common.InvalidParam("scaler", kind, "unknown scaler")
	}
	if len(X) == 0 {
		return nil, common.InvalidParam("X", nil, "cannot fit a scaler on zero rows")
	}

	width := len(X[0])
	s := &Scaler{
		Kind:   kind,
		Center: make([]float64, width),
		Scale:  make([]float64, width),
	}

	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		s.Center[j], s.Scale[j] = columnScale(kind, col)
	}
	return s, nil
}

// FitScalerVector fits a one-column scaler on v.
func FitScalerVector(kind ScalerKind, v []float64) (*Scaler, error) {
	X := make([][]float64, len(v))
	for i, x := range v {
		X[i] = []float64{x}
	}
	return FitScaler(kind, X)
}

func columnScale(kind ScalerKind, col []float64) (center, scale float64) {
	switch kind {
	case ScalerStandard:
		mean := stat.Mean(col, nil)
		// population deviation, matching the usual standard scaler
		std := stat.PopStdDev(col, nil)
		return mean, nonZero(std)
	case ScalerMinMax:
		lo, hi := col[0], col[0]
		for _, v := range col {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		return lo, nonZero(hi - lo)
	case ScalerRobust:
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)
		q1 := percentile(sorted, 0.25)
		q3 := percentile(sorted, 0.75)
		return percentile(sorted, 0.5), nonZero(q3 - q1)
	default:
		return 0, 1
	}
}

// percentile interpolates linearly at position q*(n-1) of an ascending slice.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

func nonZero(v float64) float64 {
	if v == 0 || math.IsNaN(v) {
		return 1
	}
	return v
}

// Transform returns a scaled copy of X.
func (s *Scaler) Transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Center[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out
}

// TransformVector scales v with the first column's statistics.
func (s *Scaler) TransformVector(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = (x - s.Center[0]) / s.Scale[0]
	}
	return out
}

// InverseVector maps scaled values of the first column back to original units.
func (s *Scaler) InverseVector(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x*s.Scale[0] + s.Center[0]
	}
	return out
}
