package ml

import (
	"testing"

	"batchml/internal/estimator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	r.Put(&ModelRecord{Name: "b", Family: estimator.Linear})
	r.Put(&ModelRecord{Name: "a", Family: estimator.Baseline})
	r.Put(nil)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.True(t, r.Has("a"))

	rec, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, estimator.Linear, rec.Family)

	r.Put(&ModelRecord{Name: "b", Family: estimator.SVR})
	rec, _ = r.Get("b")
	assert.Equal(t, estimator.SVR, rec.Family)
	assert.Equal(t, 2, r.Len())

	records := r.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Name)

	assert.True(t, r.Delete("a"))
	assert.False(t, r.Delete("a"))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	_, ok = r.Get("b")
	assert.False(t, ok)
}

func TestBestByMetric(t *testing.T) {
	records := []*ModelRecord{
		{Name: "linear", Metrics: Metrics{MAE: 2, MSE: 5, RMSE: 2.2, MAPE: 10, R2: 0.8}},
		{Name: "forest", Metrics: Metrics{MAE: 1, MSE: 6, RMSE: 2.4, MAPE: 10, R2: 0.9}},
	}

	best := BestByMetric(records)
	require.Len(t, best, len(MetricNames))

	byMetric := make(map[string]string)
	for _, b := range best {
		byMetric[b.Metric] = b.Model
	}
	assert.Equal(t, "forest", byMetric[MetricMAE])
	assert.Equal(t, "linear", byMetric[MetricMSE])
	assert.Equal(t, "linear", byMetric[MetricRMSE])
	assert.Equal(t, "forest", byMetric[MetricMAPE], "ties go to the first name")
	assert.Equal(t, "forest", byMetric[MetricR2])

	assert.Nil(t, BestByMetric(nil))
}

func TestCompare(t *testing.T) {
	a := &ModelRecord{Name: "forest", Metrics: Metrics{MAE: 1.5, RMSE: 3, R2: 0.9}}
	b := &ModelRecord{Name: "linear", Metrics: Metrics{MAE: 2, RMSE: 2, R2: -0.5}}

	c := Compare(a, b)
	assert.Equal(t, "forest", c.A)
	assert.Equal(t, "linear", c.B)
	assert.InDelta(t, -25, c.MAE, 1e-9)
	assert.InDelta(t, 50, c.RMSE, 1e-9)
	// relative to |R2| so a better score is positive even when B's is negative
	assert.InDelta(t, 280, c.R2, 1e-9)

	zero := &ModelRecord{Name: "zero"}
	c = Compare(a, zero)
	assert.Equal(t, 0.0, c.MAE)
	assert.Equal(t, 0.0, c.RMSE)
	assert.Equal(t, 0.0, c.R2)
}

func TestPredictions_Residuals(t *testing.T) {
	p := Predictions{YPred: []float64{1, 2}, YTest: []float64{1.5, 1}}
	assert.Equal(t, []float64{0.5, -1}, p.Residuals())
}

func TestModelRecord_TopFeatures(t *testing.T) {
	rec := &ModelRecord{FeatureImportance: map[string]float64{"a": 0.2, "b": -0.7}}
	top := rec.TopFeatures(1)
	require.Len(t, top, 1)
	assert.Equal(t, "b", top[0].Name)

	assert.Nil(t, (&ModelRecord{}).TopFeatures(5))
}
