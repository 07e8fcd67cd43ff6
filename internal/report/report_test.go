package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"batchml/internal/estimator"
	"batchml/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []*ml.ModelRecord {
	return []*ml.ModelRecord{
		{
			Name:    "Linear Regression",
			Family:  estimator.Linear,
			Metrics: ml.Metrics{MAE: 1.5, MSE: 4, RMSE: 2, MAPE: 12.5, R2: 0.8},
			Predictions: ml.Predictions{
				YPred: []float64{1, 2.5},
				YTest: []float64{2, 2},
			},
			FeatureImportance: map[string]float64{"a_mean": 0.4, "b_std": -1.2},
		},
		{
			Name:    "Random Forest",
			Family:  estimator.RandomForest,
			Metrics: ml.Metrics{MAE: 1, MSE: 5, RMSE: 2.2, MAPE: 10, R2: 0.9},
			Predictions: ml.Predictions{
				YPred: []float64{3},
				YTest: []float64{3},
			},
		},
	}
}

func readCSV(t *testing.T, data string) [][]string {
	t.Helper()
	rows, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWritePredictions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePredictions(&buf, sampleRecords()[0].Predictions))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 3)
	assert.Equal(t, PredictionsHeader, rows[0])
	assert.Equal(t, []string{"0", "2", "1", "1", "1"}, rows[1])
	assert.Equal(t, []string{"1", "2", "2.5", "-0.5", "0.5"}, rows[2])
}

func TestWriteComparison(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteComparison(&buf, sampleRecords()))

	rows := readCSV(t, buf.String())
	require.Len(t, rows, 3)
	assert.Equal(t, ComparisonHeader, rows[0])
	assert.Equal(t, []string{"Linear Regression", "1.5", "4", "2", "12.5", "0.8"}, rows[1])
	assert.Equal(t, "Random Forest", rows[2][0])
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleRecords()))
	out := buf.String()

	assert.Contains(t, out, "MODEL COMPARISON")
	assert.Contains(t, out, "MAE   Random Forest (lowest, 1.0000)")
	assert.Contains(t, out, "MSE   Linear Regression (lowest, 4.0000)")
	assert.Contains(t, out, "R2    Random Forest (highest, 0.9000)")
	assert.Contains(t, out, "TOP FEATURES: Linear Regression")
	assert.NotContains(t, out, "TOP FEATURES: Random Forest")

	// strongest feature first
	assert.Less(t, strings.Index(out, "b_std"), strings.Index(out, "a_mean"))
}

func TestWriteSummary_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, nil))
	assert.Contains(t, buf.String(), "No trained models.")
}

func TestReporter_GenerateReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	r := NewReporter(sampleRecords(), dir)
	require.NoError(t, r.GenerateReport())

	for _, name := range []string{
		"comparison_summary.txt",
		"model_comparison.csv",
		"predictions_Linear_Regression.csv",
		"predictions_Random_Forest.csv",
		"comparison.json",
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, "comparison.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"test_rows": 2`)
	assert.Contains(t, string(data), `"family": "random_forest"`)
}
