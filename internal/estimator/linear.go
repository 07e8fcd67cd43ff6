package estimator

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// LinearModel is y = Coef·x + Intercept.
type LinearModel struct {
	Coef      []float64
	Intercept float64
}

// fitLinear solves the least squares problem through an SVD, which gives
// the minimum-norm solution when X is rank deficient (more features than
// rows is the common case for short tables).
func fitLinear(p *LinearParams, X [][]float64, y []float64) (*LinearModel, error) {
	n, width := len(X), len(X[0])

	xMean := make([]float64, width)
	yMean := 0.0
	if p.FitIntercept {
		for _, row := range X {
			floats.Add(xMean, row)
		}
		floats.Scale(1/float64(n), xMean)
		yMean = stat.Mean(y, nil)
	}

	a := mat.NewDense(n, width, nil)
	for i, row := range X {
		for j, v := range row {
			a.Set(i, j, v-xMean[j])
		}
	}
	b := mat.NewVecDense(n, nil)
	for i, v := range y {
		b.SetVec(i, v-yMean)
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("linear: SVD factorization failed")
	}
	rcond := math.Nextafter(1, 2) - 1
	rcond *= float64(max(n, width))
	rank := svd.Rank(rcond)
	if rank == 0 {
		return &LinearModel{Coef: make([]float64, width), Intercept: yMean}, nil
	}

	var w mat.VecDense
	svd.SolveVecTo(&w, b, rank)

	coef := make([]float64, width)
	for j := range coef {
		coef[j] = w.AtVec(j)
	}

	return &LinearModel{
		Coef:      coef,
		Intercept: yMean - floats.Dot(xMean, coef),
	}, nil
}

func (m *LinearModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = floats.Dot(m.Coef, row) + m.Intercept
	}
	return out, nil
}

func (m *LinearModel) importances() []float64 {
	return m.Coef
}
