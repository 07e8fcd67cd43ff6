// Package ml holds what the rest of the system shares about trained models:
// the evaluation metrics, the model record and the in-memory registry.
package ml

import (
	"math"

	"batchml/internal/common"
)

// Metrics are the regression scores of one model on its test set.
// MAPE is a percentage.
type Metrics struct {
	MAE      float64                         `json:"MAE"`
	MSE      float64                         `json:"MSE"`
	RMSE     float64                         `json:"RMSE"`
	MAPE     float64                         `json:"MAPE"`
	R2       float64                         `json:"R2"`
	Warnings []common.NumericEdgeCaseWarning `json:"warnings,omitempty"`
}

// Metric names in display order.
const (
	MetricMAE  = "MAE"
	MetricMSE  = "MSE"
	MetricRMSE = "RMSE"
	MetricMAPE = "MAPE"
	MetricR2   = "R2"
)

// MetricNames lists all metrics in display order.
var MetricNames = []string{MetricMAE, MetricMSE, MetricRMSE, MetricMAPE, MetricR2}

// Value returns the metric with the given name.
func (m Metrics) Value(name string) (float64, bool) {
	switch name {
	case MetricMAE:
		return m.MAE, true
	case MetricMSE:
		return m.MSE, true
	case MetricRMSE:
		return m.RMSE, true
	case MetricMAPE:
		return m.MAPE, true
	case MetricR2:
		return m.R2, true
	}
	return 0, false
}

// HigherIsBetter reports the ranking direction of a metric.
func HigherIsBetter(name string) bool {
	return name == MetricR2
}

// Evaluate scores yPred against yTrue.
//
// Rows with yTrue == 0 are left out of MAPE and reported as a warning; when
// every row is zero MAPE is 0. A constant yTrue gives R2 = 1 for an exact
// fit and 0 otherwise. All returned values are finite.
func Evaluate(yTrue, yPred []float64) (Metrics, error) {
	if len(yTrue) == 0 {
		return Metrics{}, common.InvalidParam("y_true", nil, "is empty")
	}
	if len(yTrue) != len(yPred) {
		return Metrics{}, common.InvalidParam("y_pred", len(yPred), "length differs from %d true values", len(yTrue))
	}
	for i := range yTrue {
		if !finite(yTrue[i]) || !finite(yPred[i]) {
			return Metrics{}, common.InvalidParam("y", i, "row is not finite")
		}
	}

	n := float64(len(yTrue))
	var (
		absSum, sqSum, pctSum, mean float64
		pctRows, zeroRows           int
	)
	for i, y := range yTrue {
		d := y - yPred[i]
		absSum += math.Abs(d)
		sqSum += d * d
		mean += y
		if y == 0 {
			zeroRows++
			continue
		}
		pctSum += math.Abs(d / y)
		pctRows++
	}
	mean /= n

	var ssTot float64
	for _, y := range yTrue {
		ssTot += (y - mean) * (y - mean)
	}

	m := Metrics{
		MAE:  absSum / n,
		MSE:  sqSum / n,
		RMSE: math.Sqrt(sqSum / n),
	}

	if pctRows > 0 {
		m.MAPE = pctSum / float64(pctRows) * 100
	}
	if zeroRows > 0 {
		m.Warnings = append(m.Warnings, common.NumericEdgeCaseWarning{
			Metric: MetricMAPE,
			Rows:   zeroRows,
			Detail: "rows with a zero true value were excluded",
		})
	}

	switch {
	case ssTot > 0:
		m.R2 = 1 - sqSum/ssTot
	case sqSum == 0:
		m.R2 = 1
	default:
		m.R2 = 0
		m.Warnings = append(m.Warnings, common.NumericEdgeCaseWarning{
			Metric: MetricR2,
			Rows:   len(yTrue),
			Detail: "true values are constant",
		})
	}

	return m, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
