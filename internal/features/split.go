package features

import (
	"math"
	"math/rand"

	"batchml/internal/common"
)

// Split holds the train and test partitions of a feature table.
type Split struct {
	XTrain [][]float64
	YTrain []float64
	XTest  [][]float64
	YTest  []float64
	Names  []string
}

// SplitTable shuffles the rows of t with a seeded permutation and assigns
// ceil(testFraction*n) of them to the test set. The same seed always gives
// the same partition and X/Y stay row-aligned on both sides.
func SplitTable(t *Table, testFraction float64, seed int64) (*Split, error) {
	if t == nil {
		return nil, common.InvalidParam("table", nil, "is nil")
	}
	if !(testFraction > 0 && testFraction < 1) {
		return nil, common.InvalidParam("test_fraction", testFraction, "must be in (0, 1)")
	}

	n := t.Len()
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, common.InvalidParam("test_fraction", testFraction,
			"%d rows leave %d for training and %d for testing", n, nTrain, nTest)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)

	s := &Split{
		XTrain: make([][]float64, 0, nTrain),
		YTrain: make([]float64, 0, nTrain),
		XTest:  make([][]float64, 0, nTest),
		YTest:  make([]float64, 0, nTest),
		Names:  append([]string(nil), t.Names...),
	}
	for i, idx := range perm {
		row := append([]float64(nil), t.X[idx]...)
		if i < nTest {
			s.XTest = append(s.XTest, row)
			s.YTest = append(s.YTest, t.Y[idx])
			continue
		}
		s.XTrain = append(s.XTrain, row)
		s.YTrain = append(s.YTrain, t.Y[idx])
	}
	return s, nil
}
