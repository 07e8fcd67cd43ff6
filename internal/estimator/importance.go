package estimator

import (
	"fmt"
	"math"
	"sort"
)

// FeatureScore is one named importance value.
type FeatureScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Importance maps feature names to the model's weights: coefficients for
// linear models and linear-kernel SVR, split gains for tree ensembles.
// Families without a notion of importance return ok == false. Names beyond
// those given are filled in as feature_<i>.
func Importance(a *Artifact, names []string) (map[string]float64, bool) {
	if a == nil || a.Model == nil {
		return nil, false
	}
	imp, ok := a.Model.(importancer)
	if !ok {
		return nil, false
	}
	values := imp.importances()
	if values == nil {
		return nil, false
	}

	out := make(map[string]float64, len(values))
	for i, v := range values {
		out[FeatureName(names, i)] = v
	}
	return out, true
}

// FeatureName returns names[i] or feature_<i> when names is too short or
// the entry is blank.
func FeatureName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("feature_%d", i)
}

// TopFeatures ranks importances by absolute value, largest first, and
// returns at most n entries (all when n <= 0). Ties sort by name.
func TopFeatures(importance map[string]float64, n int) []FeatureScore {
	scores := make([]FeatureScore, 0, len(importance))
	for name, v := range importance {
		scores = append(scores, FeatureScore{Name: name, Score: v})
	}
	sort.Slice(scores, func(i, j int) bool {
		ai, aj := math.Abs(scores[i].Score), math.Abs(scores[j].Score)
		if ai != aj {
			return ai > aj
		}
		return scores[i].Name < scores[j].Name
	})
	if n > 0 && n < len(scores) {
		scores = scores[:n]
	}
	return scores
}
