package ml

import (
	"math"
	"sort"
	"time"

	"batchml/internal/estimator"
)

// Predictions are the test-set outputs kept with a model for later analysis.
type Predictions struct {
	YPred []float64 `json:"y_pred"`
	YTest []float64 `json:"y_test"`
}

// ModelRecord is a trained model with everything shown about it.
type ModelRecord struct {
	Name              string
	Family            estimator.Family
	Artifact          *estimator.Artifact
	Metrics           Metrics
	Params            estimator.Params
	Predictions       Predictions
	FeatureImportance map[string]float64 // nil when the family has none
	SavedAt           time.Time
}

// TopFeatures returns the n most important features of the record.
func (r *ModelRecord) TopFeatures(n int) []estimator.FeatureScore {
	if r.FeatureImportance == nil {
		return nil
	}
	return estimator.TopFeatures(r.FeatureImportance, n)
}

// Residuals returns YTest - YPred per row.
func (p Predictions) Residuals() []float64 {
	n := min(len(p.YTest), len(p.YPred))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = p.YTest[i] - p.YPred[i]
	}
	return out
}

// Best is the winning model for one metric.
type Best struct {
	Metric string  `json:"metric"`
	Model  string  `json:"model"`
	Value  float64 `json:"value"`
}

// BestByMetric picks, for every metric, the record with the lowest error or
// the highest R2. Ties go to the name that sorts first.
func BestByMetric(records []*ModelRecord) []Best {
	if len(records) == 0 {
		return nil
	}
	sorted := append([]*ModelRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]Best, 0, len(MetricNames))
	for _, name := range MetricNames {
		var best *Best
		for _, r := range sorted {
			v, _ := r.Metrics.Value(name)
			better := best == nil ||
				(HigherIsBetter(name) && v > best.Value) ||
				(!HigherIsBetter(name) && v < best.Value)
			if better {
				best = &Best{Metric: name, Model: r.Name, Value: v}
			}
		}
		out = append(out, *best)
	}
	return out
}

// Comparison holds the relative differences of model A against model B, in
// percent of B's value. Positive error differences mean A is worse; a
// positive R2 difference means A is better.
type Comparison struct {
	A    string  `json:"model_a"`
	B    string  `json:"model_b"`
	MAE  float64 `json:"mae_diff_pct"`
	RMSE float64 `json:"rmse_diff_pct"`
	R2   float64 `json:"r2_diff_pct"`
}

// Compare relates the metrics of a to those of b. A zero value of b makes
// the corresponding difference 0.
func Compare(a, b *ModelRecord) Comparison {
	return Comparison{
		A:    a.Name,
		B:    b.Name,
		MAE:  relativeDiff(a.Metrics.MAE, b.Metrics.MAE),
		RMSE: relativeDiff(a.Metrics.RMSE, b.Metrics.RMSE),
		R2:   relativeDiff(a.Metrics.R2, b.Metrics.R2),
	}
}

func relativeDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / math.Abs(b) * 100
}
