package estimator

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a binary regression tree stored in a flat slice.
// Leaves have Left == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a binary regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predictRow(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// growConfig drives growTree. With unit hessians, lambda 0 and shrinkage 1
// the split gain is the reduction in squared error and leaf values are the
// mean target, which is plain CART. Boosting passes real gradients.
type growConfig struct {
	maxDepth       int // 0 means unlimited
	minSplit       int
	minLeaf        int
	minChildWeight float64
	lambda         float64
	shrinkage      float64
	maxFeatures    int // features sampled per split, 0 means all
	rng            *rand.Rand
}

type treeBuilder struct {
	cfg        growConfig
	X          [][]float64
	g, h       []float64
	nodes      []Node
	importance []float64
	features   []int
}

// growTree fits a tree to the gradient statistics of the rows in idx and
// adds each split's gain to importance.
func growTree(cfg growConfig, X [][]float64, g, h []float64, idx []int, importance []float64) Tree {
	if cfg.shrinkage == 0 {
		cfg.shrinkage = 1
	}
	b := &treeBuilder{
		cfg:        cfg,
		X:          X,
		g:          g,
		h:          h,
		importance: importance,
		features:   make([]int, len(X[0])),
	}
	for j := range b.features {
		b.features[j] = j
	}
	b.grow(append([]int(nil), idx...), 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	var G, H float64
	for _, i := range idx {
		G += b.g[i]
		H += b.h[i]
	}

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Left:  -1,
		Right: -1,
		Value: b.leafValue(G, H),
	})

	if b.cfg.maxDepth > 0 && depth >= b.cfg.maxDepth {
		return self
	}
	if len(idx) < b.cfg.minSplit || len(idx) < 2*b.cfg.minLeaf {
		return self
	}

	best := b.bestSplit(idx, G, H)
	if best.feature < 0 {
		return self
	}

	left := make([]int, 0, best.nLeft)
	right := make([]int, 0, len(idx)-best.nLeft)
	for _, i := range idx {
		if b.X[i][best.feature] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if b.importance != nil {
		b.importance[best.feature] += best.gain
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = best.feature
	b.nodes[self].Threshold = best.threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

func (b *treeBuilder) leafValue(G, H float64) float64 {
	denom := H + b.cfg.lambda
	if denom == 0 {
		return 0
	}
	return -G / denom * b.cfg.shrinkage
}

func (b *treeBuilder) score(G, H float64) float64 {
	denom := H + b.cfg.lambda
	if denom == 0 {
		return 0
	}
	return G * G / denom
}

type split struct {
	feature   int
	threshold float64
	gain      float64
	nLeft     int
}

func (b *treeBuilder) candidateFeatures() []int {
	k := b.cfg.maxFeatures
	if k <= 0 || k >= len(b.features) || b.cfg.rng == nil {
		return b.features
	}
	b.cfg.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})
	return b.features[:k]
}

func (b *treeBuilder) bestSplit(idx []int, G, H float64) split {
	best := split{feature: -1}
	parent := b.score(G, H)
	// gains below rounding noise of the parent score are not splits
	minGain := 1e-12 * math.Max(1, parent)

	sorted := make([]int, len(idx))
	for _, f := range b.candidateFeatures() {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.X[sorted[a]][f] < b.X[sorted[c]][f]
		})

		var GL, HL float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			GL += b.g[i]
			HL += b.h[i]

			v, next := b.X[i][f], b.X[sorted[k+1]][f]
			if v == next {
				continue
			}
			nLeft := k + 1
			if nLeft < b.cfg.minLeaf || len(sorted)-nLeft < b.cfg.minLeaf {
				continue
			}
			GR, HR := G-GL, H-HL
			if HL < b.cfg.minChildWeight || HR < b.cfg.minChildWeight {
				continue
			}

			gain := 0.5 * (b.score(GL, HL) + b.score(GR, HR) - parent)
			if gain > minGain && (best.feature < 0 || gain > best.gain) {
				best = split{
					feature:   f,
					threshold: v + (next-v)/2,
					gain:      gain,
					nLeft:     nLeft,
				}
			}
		}
	}
	return best
}

// normalize scales v to sum to one in place; an all-zero slice stays zero.
func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += math.Abs(x)
	}
	if sum == 0 {
		return v
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

// TreeModel is a single CART regression tree.
type TreeModel struct {
	Tree        Tree
	Importances []float64
}

func fitDecisionTree(p *DecisionTreeParams, X [][]float64, y []float64) (*TreeModel, error) {
	g, h := squaredErrorGrad(y, nil)
	importance := make([]float64, len(X[0]))

	tree := growTree(growConfig{
		maxDepth: p.MaxDepth,
		minSplit: p.MinSamplesSplit,
		minLeaf:  p.MinSamplesLeaf,
		rng:      rand.New(rand.NewSource(p.RandomState)),
	}, X, g, h, allRows(len(X)), importance)

	return &TreeModel{Tree: tree, Importances: normalize(importance)}, nil
}

func (m *TreeModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.Tree.predictRow(row)
	}
	return out, nil
}

func (m *TreeModel) importances() []float64 { return m.Importances }

// squaredErrorGrad returns the gradient and hessian of 0.5*(pred-y)^2.
// A nil pred means a zero prediction, so g = -y.
func squaredErrorGrad(y, pred []float64) (g, h []float64) {
	g = make([]float64, len(y))
	h = make([]float64, len(y))
	for i, v := range y {
		p := 0.0
		if pred != nil {
			p = pred[i]
		}
		g[i] = p - v
		h[i] = 1
	}
	return g, h
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
