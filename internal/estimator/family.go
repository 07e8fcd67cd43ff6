// Package estimator trains and applies the supported regression families.
// Every family sits behind the same contract: Train fits typed parameters on
// a feature matrix and returns an Artifact, Predict applies an Artifact to a
// feature matrix, and Importance reports per-feature weights where the
// family has them.
package estimator

import (
	"strings"

	"batchml/internal/common"
)

// Family identifies a model family.
type Family string

const (
	Baseline          Family = "baseline"
	Linear            Family = "linear"
	DecisionTree      Family = "decision_tree"
	RandomForest      Family = "random_forest"
	GradientBoosting  Family = "gradient_boosting"
	ObliviousBoosting Family = "oblivious_boosting"
	SVR               Family = "svr"
	Sequence          Family = "sequence"
)

var families = []Family{
	Baseline, Linear, DecisionTree, RandomForest,
	GradientBoosting, ObliviousBoosting, SVR, Sequence,
}

var displayNames = map[Family]string{
	Baseline:          "Dummy Regressor",
	Linear:            "Linear Regression",
	DecisionTree:      "Decision Tree",
	RandomForest:      "Random Forest",
	GradientBoosting:  "Gradient Boosting",
	ObliviousBoosting: "Oblivious Boosting",
	SVR:               "SVR",
	Sequence:          "Recurrent Network",
}

// aliases maps normalized user spellings to families.
var aliases = map[string]Family{
	"dummy":             Baseline,
	"dummy_regressor":   Baseline,
	"linear_regression": Linear,
	"tree":              DecisionTree,
	"forest":            RandomForest,
	"xgboost":           GradientBoosting,
	"xgb":               GradientBoosting,
	"gbm":               GradientBoosting,
	"catboost":          ObliviousBoosting,
	"svm":               SVR,
	"lstm":              Sequence,
	"rnn":               Sequence,
	"recurrent_network": Sequence,
}

// Families returns all supported families in a stable order.
func Families() []Family {
	return append([]Family(nil), families...)
}

// ParseFamily resolves an id, display name or common alias such as
// "XGBoost" or "Dummy Regressor".
func ParseFamily(s string) (Family, error) {
	key := normalizeName(s)
	for _, f := range families {
		if key == string(f) || key == normalizeName(displayNames[f]) {
			return f, nil
		}
	}
	if f, ok := aliases[key]; ok {
		return f, nil
	}
	return "", &common.UnknownModelError{Model: s}
}

// DisplayName is the human-readable family name used in default save names.
func (f Family) DisplayName() string {
	if name, ok := displayNames[f]; ok {
		return name
	}
	return string(f)
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
