package estimator

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ObliviousTree applies the same split to every node of a level, so a row's
// leaf index is the bit pattern of its answers: bit d is set when
// x[Features[d]] > Thresholds[d].
type ObliviousTree struct {
	Features   []int
	Thresholds []float64
	Leaves     []float64
}

func (t *ObliviousTree) leafIndex(x []float64) int {
	idx := 0
	for d, f := range t.Features {
		if x[f] > t.Thresholds[d] {
			idx |= 1 << d
		}
	}
	return idx
}

// ObliviousModel is a base score plus the sum of oblivious tree outputs.
type ObliviousModel struct {
	Base        float64
	Trees       []ObliviousTree
	Importances []float64
}

func fitObliviousBoosting(p *ObliviousBoostingParams, X [][]float64, y []float64, o *trainOptions) (*ObliviousModel, error) {
	n, width := len(X), len(X[0])
	rng := rand.New(rand.NewSource(p.RandomSeed))

	// row order per feature, computed once
	order := make([][]int, width)
	for f := range order {
		rows := allRows(n)
		sort.SliceStable(rows, func(a, b int) bool { return X[rows[a]][f] < X[rows[b]][f] })
		order[f] = rows
	}

	m := &ObliviousModel{
		Base:  stat.Mean(y, nil),
		Trees: make([]ObliviousTree, 0, p.Iterations),
	}
	gain := make([]float64, width)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.Base
	}

	grower := &obliviousGrower{
		X:       X,
		order:   order,
		lambda:  p.L2LeafReg,
		depth:   p.Depth,
		leaf:    make([]int, n),
		sampled: make([]bool, n),
	}

	for it := 0; it < p.Iterations; it++ {
		g, h := squaredErrorGrad(y, pred)

		for i := range grower.sampled {
			grower.sampled[i] = false
		}
		for _, i := range sampleRows(rng, n, p.Subsample) {
			grower.sampled[i] = true
		}

		tree := grower.grow(g, h, p.LearningRate, gain)
		m.Trees = append(m.Trees, tree)
		for i, row := range X {
			pred[i] += tree.Leaves[tree.leafIndex(row)]
		}

		o.report(Progress{
			Family: ObliviousBoosting,
			Stage:  "iteration",
			Step:   it + 1,
			Total:  p.Iterations,
			Loss:   meanSquaredError(y, pred),
		})
	}

	m.Importances = normalize(gain)
	return m, nil
}

type obliviousGrower struct {
	X       [][]float64
	order   [][]int
	lambda  float64
	depth   int
	leaf    []int
	sampled []bool
}

func (gr *obliviousGrower) score(G, H float64) float64 {
	denom := H + gr.lambda
	if denom <= 0 {
		return 0
	}
	return G * G / denom
}

func (gr *obliviousGrower) grow(g, h []float64, shrinkage float64, gain []float64) ObliviousTree {
	tree := ObliviousTree{
		Features:   make([]int, gr.depth),
		Thresholds: make([]float64, gr.depth),
	}
	for i := range gr.leaf {
		gr.leaf[i] = 0
	}

	for d := 0; d < gr.depth; d++ {
		leaves := 1 << d
		G := make([]float64, leaves)
		H := make([]float64, leaves)
		for i, in := range gr.sampled {
			if in {
				G[gr.leaf[i]] += g[i]
				H[gr.leaf[i]] += h[i]
			}
		}
		base := 0.0
		for l := range G {
			base += gr.score(G[l], H[l])
		}

		bestFeature, bestThreshold, bestGain := -1, math.Inf(1), 0.0
		minGain := 1e-12 * math.Max(1, base)

		GL := make([]float64, leaves)
		HL := make([]float64, leaves)
		for f, rows := range gr.order {
			for l := range GL {
				GL[l], HL[l] = 0, 0
			}
			total := base
			prev, seen := 0.0, false
			for _, i := range rows {
				if !gr.sampled[i] {
					continue
				}
				v := gr.X[i][f]
				if seen && v != prev {
					if candidate := total - base; candidate > minGain && candidate > bestGain {
						bestFeature, bestThreshold, bestGain = f, prev+(v-prev)/2, candidate
					}
				}

				l := gr.leaf[i]
				before := gr.score(GL[l], HL[l]) + gr.score(G[l]-GL[l], H[l]-HL[l])
				GL[l] += g[i]
				HL[l] += h[i]
				after := gr.score(GL[l], HL[l]) + gr.score(G[l]-GL[l], H[l]-HL[l])
				total += after - before

				prev, seen = v, true
			}
		}

		if bestFeature < 0 {
			// nothing separates the rows any further: every row goes left
			tree.Features[d] = 0
			tree.Thresholds[d] = math.Inf(1)
			continue
		}

		tree.Features[d] = bestFeature
		tree.Thresholds[d] = bestThreshold
		gain[bestFeature] += 0.5 * bestGain
		for i, row := range gr.X {
			if row[bestFeature] > bestThreshold {
				gr.leaf[i] |= 1 << d
			}
		}
	}

	leaves := 1 << gr.depth
	G := make([]float64, leaves)
	H := make([]float64, leaves)
	for i, in := range gr.sampled {
		if in {
			G[gr.leaf[i]] += g[i]
			H[gr.leaf[i]] += h[i]
		}
	}
	tree.Leaves = make([]float64, leaves)
	for l := range tree.Leaves {
		if denom := H[l] + gr.lambda; denom > 0 {
			tree.Leaves[l] = -G[l] / denom * shrinkage
		}
	}
	return tree
}

func (m *ObliviousModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Base
		for t := range m.Trees {
			v += m.Trees[t].Leaves[m.Trees[t].leafIndex(row)]
		}
		out[i] = v
	}
	return out, nil
}

func (m *ObliviousModel) importances() []float64 { return m.Importances }
