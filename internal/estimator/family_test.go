package estimator

import (
	"testing"

	"batchml/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFamily(t *testing.T) {
	tests := []struct {
		input string
		want  Family
	}{
		{"baseline", Baseline},
		{"Dummy Regressor", Baseline},
		{"Linear Regression", Linear},
		{"decision_tree", DecisionTree},
		{"Decision Tree", DecisionTree},
		{"random-forest", RandomForest},
		{"XGBoost", GradientBoosting},
		{"CatBoost", ObliviousBoosting},
		{"SVR", SVR},
		{"LSTM", Sequence},
		{"  recurrent network ", Sequence},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFamily(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFamily_Unknown(t *testing.T) {
	_, err := ParseFamily("Prophet")
	require.Error(t, err)
	assert.True(t, common.IsUnknownModel(err))
}

func TestFamilies_AllHaveDisplayNamesAndDefaults(t *testing.T) {
	require.Len(t, Families(), 8)
	for _, f := range Families() {
		assert.NotEqual(t, string(f), "")
		assert.NotEmpty(t, f.DisplayName())

		p, err := DefaultParams(f)
		require.NoError(t, err)
		assert.Equal(t, f, p.Family())
		assert.NoError(t, p.Validate(), f)
	}
	assert.Equal(t, "Gradient Boosting", GradientBoosting.DisplayName())
	assert.Equal(t, "nope", Family("nope").DisplayName())
}
