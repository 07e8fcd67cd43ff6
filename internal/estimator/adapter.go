package estimator

import (
	"fmt"
	"time"

	"batchml/internal/common"

	"github.com/rs/zerolog/log"
)

// Progress reports how far a fit has come. Step counts trees, boosting
// rounds or epochs depending on the family; Loss is set where the family
// tracks one.
type Progress struct {
	Family Family  `json:"family"`
	Stage  string  `json:"stage"`
	Step   int     `json:"step"`
	Total  int     `json:"total"`
	Loss   float64 `json:"loss,omitempty"`
}

// Option customizes a single Train call.
type Option func(*trainOptions)

type trainOptions struct {
	progress func(Progress)
	scaler   ScalerKind
}

// WithProgress registers an observer that receives training progress.
// It is called synchronously from the training goroutine.
func WithProgress(fn func(Progress)) Option {
	return func(o *trainOptions) { o.progress = fn }
}

// WithScaler scales the inputs before fitting. The fitted scaler is kept in
// the artifact and applied again at prediction time.
func WithScaler(kind ScalerKind) Option {
	return func(o *trainOptions) { o.scaler = kind }
}

func (o *trainOptions) report(p Progress) {
	if o.progress != nil {
		o.progress(p)
	}
}

// Prediction pairs model outputs with the ground truth they correspond to.
// For windowed families the first rows have no prediction and Truth is
// shortened to match.
type Prediction struct {
	Pred  []float64
	Truth []float64
}

// Train fits the family selected by p. X and y are not modified.
func Train(p Params, X [][]float64, y []float64, opts ...Option) (*Artifact, error) {
	if p == nil {
		return nil, common.InvalidParam("params", nil, "are nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	width, err := checkMatrix(X, y)
	if err != nil {
		return nil, err
	}

	o := &trainOptions{scaler: ScalerNone}
	for _, opt := range opts {
		opt(o)
	}

	a := &Artifact{Family: p.Family(), Params: p, Width: width}

	inputs := X
	if o.scaler != "" && o.scaler != ScalerNone {
		s, err := FitScaler(o.scaler, X)
		if err != nil {
			return nil, err
		}
		a.Scaler = s
		inputs = s.Transform(X)
	}

	start := time.Now()
	o.report(Progress{Family: a.Family, Stage: "fit", Step: 0, Total: 1})

	var m Model
	switch params := p.(type) {
	case *BaselineParams:
		m, err = fitBaseline(params, y)
	case *LinearParams:
		m, err = fitLinear(params, inputs, y)
	case *DecisionTreeParams:
		m, err = fitDecisionTree(params, inputs, y)
	case *RandomForestParams:
		m, err = fitRandomForest(params, inputs, y, o)
	case *GradientBoostingParams:
		m, err = fitGradientBoosting(params, inputs, y, o)
	case *ObliviousBoostingParams:
		m, err = fitObliviousBoosting(params, inputs, y, o)
	case *SVRParams:
		m, err = fitSVR(params, inputs, y, o)
	case *SequenceParams:
		m, err = fitSequence(params, inputs, y, o)
	default:
		return nil, &common.UnknownModelError{Model: fmt.Sprintf("%T", p)}
	}
	if err != nil {
		return nil, err
	}
	a.Model = m

	o.report(Progress{Family: a.Family, Stage: "done", Step: 1, Total: 1})
	log.Debug().
		Str("family", string(a.Family)).
		Int("rows", len(X)).
		Int("features", width).
		Dur("elapsed", time.Since(start)).
		Msg("Model fitted")

	return a, nil
}

// Predict applies a to X and aligns y with the produced predictions.
// y may be nil when no ground truth is available.
func Predict(a *Artifact, X [][]float64, y []float64) (Prediction, error) {
	if a == nil || a.Model == nil {
		return Prediction{}, common.InvalidParam("artifact", nil, "has no fitted model")
	}
	if len(X) == 0 {
		return Prediction{}, common.InvalidParam("X", nil, "no rows to predict")
	}
	if y != nil && len(y) != len(X) {
		return Prediction{}, common.InvalidParam("y", len(y), "length differs from %d rows of X", len(X))
	}
	for i, row := range X {
		if len(row) != a.Width {
			return Prediction{}, common.InvalidParam("X", len(row),
				"row %d has %d features, model expects %d", i, len(row), a.Width)
		}
	}

	inputs := X
	if a.Scaler != nil {
		inputs = a.Scaler.Transform(X)
	}

	pred, err := a.Model.Predict(inputs)
	if err != nil {
		return Prediction{}, err
	}

	out := Prediction{Pred: pred}
	if y != nil {
		offset := len(y) - len(pred)
		out.Truth = append([]float64(nil), y[offset:]...)
	}
	return out, nil
}

func checkMatrix(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, common.InvalidParam("X", nil, "no training rows")
	}
	if len(X) != len(y) {
		return 0, common.InvalidParam("y", len(y), "length differs from %d rows of X", len(X))
	}
	width := len(X[0])
	if width == 0 {
		return 0, common.InvalidParam("X", nil, "rows have no features")
	}
	for i, row := range X {
		if len(row) != width {
			return 0, common.InvalidParam("X", len(row), "row %d has %d features, expected %d", i, len(row), width)
		}
		for j, v := range row {
			if !finite(v) {
				return 0, common.InvalidParam("X", v, "row %d column %d is not finite", i, j)
			}
		}
		if !finite(y[i]) {
			return 0, common.InvalidParam("y", y[i], "row %d is not finite", i)
		}
	}
	return width, nil
}
