package main

import (
	"bytes"
	"strings"
	"testing"

	"batchml/internal/estimator"
	"batchml/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamFlags(t *testing.T) {
	raw, err := parseParamFlags([]string{`gbm={"n_estimators": 10}`, `lstm={"epochs": 2}`})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n_estimators": 10}`, string(raw[estimator.GradientBoosting]))
	assert.JSONEq(t, `{"epochs": 2}`, string(raw[estimator.Sequence]))

	tests := map[string]string{
		"missing separator": "gbm",
		"unknown family":    `perceptron={}`,
		"invalid json":      `gbm={n_estimators`,
	}
	for name, flag := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseParamFlags([]string{flag})
			assert.Error(t, err)
		})
	}
}

func TestSelectFamilies(t *testing.T) {
	all, err := selectFamilies(nil)
	require.NoError(t, err)
	assert.Equal(t, estimator.Families(), all)

	got, err := selectFamilies([]string{"tree", "linear", "tree"})
	require.NoError(t, err)
	assert.Equal(t, []estimator.Family{estimator.DecisionTree, estimator.Linear}, got)

	_, err = selectFamilies([]string{"nope"})
	assert.Error(t, err)
}

func TestBuildJobs(t *testing.T) {
	raw, err := parseParamFlags([]string{`lstm={"epochs": 3}`})
	require.NoError(t, err)

	jobs, err := buildJobs([]estimator.Family{estimator.Linear, estimator.Sequence}, raw, 4)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, estimator.Linear, jobs[0].Params.Family())

	sp, ok := jobs[1].Params.(*estimator.SequenceParams)
	require.True(t, ok)
	assert.Equal(t, 4, sp.WindowSize)
	assert.Equal(t, 3, sp.Epochs)

	raw, err = parseParamFlags([]string{`gbm={"learning_rate": 0}`})
	require.NoError(t, err)
	_, err = buildJobs([]estimator.Family{estimator.GradientBoosting}, raw, 4)
	assert.Error(t, err)
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, ml.Metrics{MAE: 1.5, MSE: 4, RMSE: 2, MAPE: 12.25, R2: 0.5})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "MAE")
	assert.Contains(t, lines[0], "1.5000")
	assert.Contains(t, lines[3], "12.2500")
}

func TestWriteModelComparison(t *testing.T) {
	var buf bytes.Buffer
	writeComparison(&buf, ml.Comparison{A: "forest", B: "linear", MAE: -25, RMSE: 10, R2: 0})

	out := buf.String()
	assert.Contains(t, out, "forest vs linear")
	assert.Contains(t, out, "MAE   -25.00% (better)")
	assert.Contains(t, out, "RMSE  +10.00% (worse)")
	assert.Contains(t, out, "R2    +0.00% (equal)")
}
