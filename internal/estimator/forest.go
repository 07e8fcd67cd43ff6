package estimator

import (
	"math"
	"math/rand"
	"runtime"
	"sync"
)

// ForestModel averages the predictions of independently grown trees.
type ForestModel struct {
	Trees       []Tree
	Importances []float64
}

func fitRandomForest(p *RandomForestParams, X [][]float64, y []float64, o *trainOptions) (*ForestModel, error) {
	n, width := len(X), len(X[0])
	g, h := squaredErrorGrad(y, nil)

	maxFeatures := int(math.Ceil(p.MaxFeatures * float64(width)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}

	trees := make([]Tree, p.NEstimators)
	perTree := make([][]float64, p.NEstimators)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
		sem  = make(chan struct{}, runtime.GOMAXPROCS(0))
	)
	for t := 0; t < p.NEstimators; t++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(t int) {
			defer wg.Done()
			defer func() { <-sem }()

			// one stream per tree keeps the result independent of scheduling
			rng := rand.New(rand.NewSource(p.RandomState + int64(t)))

			rows := allRows(n)
			if p.Bootstrap {
				for i := range rows {
					rows[i] = rng.Intn(n)
				}
			}

			importance := make([]float64, width)
			trees[t] = growTree(growConfig{
				maxDepth:    p.MaxDepth,
				minSplit:    p.MinSamplesSplit,
				minLeaf:     p.MinSamplesLeaf,
				maxFeatures: maxFeatures,
				rng:         rng,
			}, X, g, h, rows, importance)
			perTree[t] = normalize(importance)

			mu.Lock()
			done++
			o.report(Progress{Family: RandomForest, Stage: "tree", Step: done, Total: p.NEstimators})
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	importance := make([]float64, width)
	for _, imp := range perTree {
		for j, v := range imp {
			importance[j] += v / float64(p.NEstimators)
		}
	}

	return &ForestModel{Trees: trees, Importances: normalize(importance)}, nil
}

func (m *ForestModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for t := range m.Trees {
			sum += m.Trees[t].predictRow(row)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out, nil
}

func (m *ForestModel) importances() []float64 { return m.Importances }
