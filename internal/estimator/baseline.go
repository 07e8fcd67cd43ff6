package estimator

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ConstantModel predicts the same value for every row.
type ConstantModel struct {
	Value float64
}

func fitBaseline(p *BaselineParams, y []float64) (*ConstantModel, error) {
	switch p.Strategy {
	case StrategyMedian:
		return &ConstantModel{Value: quantileOf(y, 0.5)}, nil
	case StrategyQuantile:
		return &ConstantModel{Value: quantileOf(y, p.Quantile)}, nil
	case StrategyConstant:
		return &ConstantModel{Value: *p.Constant}, nil
	default:
		return &ConstantModel{Value: stat.Mean(y, nil)}, nil
	}
}

func (m *ConstantModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.Value
	}
	return out, nil
}

func quantileOf(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentile(sorted, q)
}
