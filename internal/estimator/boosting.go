package estimator

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// BoostedModel is a base score plus the sum of shrunken tree outputs.
type BoostedModel struct {
	Base        float64
	Trees       []Tree
	Importances []float64
}

func fitGradientBoosting(p *GradientBoostingParams, X [][]float64, y []float64, o *trainOptions) (*BoostedModel, error) {
	n, width := len(X), len(X[0])
	rng := rand.New(rand.NewSource(p.RandomState))

	m := &BoostedModel{
		Base:  stat.Mean(y, nil),
		Trees: make([]Tree, 0, p.NEstimators),
	}
	gain := make([]float64, width)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.Base
	}

	cfg := growConfig{
		maxDepth:       p.MaxDepth,
		minSplit:       2,
		minLeaf:        1,
		minChildWeight: p.MinChildWeight,
		lambda:         p.RegLambda,
		shrinkage:      p.LearningRate,
	}

	for round := 0; round < p.NEstimators; round++ {
		g, h := squaredErrorGrad(y, pred)
		rows := sampleRows(rng, n, p.Subsample)

		tree := growTree(cfg, X, g, h, rows, gain)
		m.Trees = append(m.Trees, tree)
		for i, row := range X {
			pred[i] += tree.predictRow(row)
		}

		o.report(Progress{
			Family: GradientBoosting,
			Stage:  "round",
			Step:   round + 1,
			Total:  p.NEstimators,
			Loss:   meanSquaredError(y, pred),
		})
	}

	m.Importances = normalize(gain)
	return m, nil
}

func (m *BoostedModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Base
		for t := range m.Trees {
			v += m.Trees[t].predictRow(row)
		}
		out[i] = v
	}
	return out, nil
}

func (m *BoostedModel) importances() []float64 { return m.Importances }

// sampleRows draws each row independently with probability fraction.
// At least one row is always returned.
func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	if fraction >= 1 {
		return allRows(n)
	}
	rows := make([]int, 0, int(float64(n)*fraction)+1)
	for i := 0; i < n; i++ {
		if rng.Float64() < fraction {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		rows = append(rows, rng.Intn(n))
	}
	return rows
}

func meanSquaredError(y, pred []float64) float64 {
	if len(y) == 0 {
		return 0
	}
	d := make([]float64, len(y))
	floats.SubTo(d, pred, y)
	return floats.Dot(d, d) / float64(len(y))
}
