package estimator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"batchml/internal/common"
)

// Params are the typed hyperparameters of one family. The set of
// implementations is closed; Train switches over all of them.
type Params interface {
	Family() Family
	Validate() error
	isParams()
}

// Baseline strategies.
const (
	StrategyMean     = "mean"
	StrategyMedian   = "median"
	StrategyQuantile = "quantile"
	StrategyConstant = "constant"
)

// BaselineParams predicts one summary value of the training target.
type BaselineParams struct {
	Strategy string   `json:"strategy"`
	Constant *float64 `json:"constant,omitempty"`
	Quantile float64  `json:"quantile,omitempty"`
}

// LinearParams configures ordinary least squares.
type LinearParams struct {
	FitIntercept bool `json:"fit_intercept"`
}

// DecisionTreeParams configures a single CART regression tree.
// MaxDepth 0 grows until leaves are pure or too small to split.
type DecisionTreeParams struct {
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	RandomState     int64 `json:"random_state"`
}

// RandomForestParams configures a bagged ensemble of CART trees.
// MaxFeatures is the fraction of features considered at each split.
type RandomForestParams struct {
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	MaxFeatures     float64 `json:"max_features"`
	Bootstrap       bool    `json:"bootstrap"`
	RandomState     int64   `json:"random_state"`
}

// GradientBoostingParams configures second-order boosting of depth-wise trees.
type GradientBoostingParams struct {
	NEstimators    int     `json:"n_estimators"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	RegLambda      float64 `json:"reg_lambda"`
	MinChildWeight float64 `json:"min_child_weight"`
	Subsample      float64 `json:"subsample"`
	RandomState    int64   `json:"random_state"`
}

// ObliviousBoostingParams configures boosting of symmetric trees, where all
// nodes of one level share the same split.
type ObliviousBoostingParams struct {
	Iterations   int     `json:"iterations"`
	LearningRate float64 `json:"learning_rate"`
	Depth        int     `json:"depth"`
	L2LeafReg    float64 `json:"l2_leaf_reg"`
	Subsample    float64 `json:"subsample"`
	RandomSeed   int64   `json:"random_seed"`
}

// SVR kernels.
const (
	KernelLinear  = "linear"
	KernelPoly    = "poly"
	KernelRBF     = "rbf"
	KernelSigmoid = "sigmoid"
)

// SVRParams configures epsilon support vector regression.
// Gamma 0 selects 1 / (n_features * var(X)).
type SVRParams struct {
	Kernel  string  `json:"kernel"`
	C       float64 `json:"C"`
	Epsilon float64 `json:"epsilon"`
	Gamma   float64 `json:"gamma"`
	Degree  int     `json:"degree"`
	Coef0   float64 `json:"coef0"`
	MaxIter int     `json:"max_iter"`
	Tol     float64 `json:"tol"`
}

// SequenceParams configures the recurrent network trained on sliding
// windows of consecutive feature rows.
type SequenceParams struct {
	WindowSize      int     `json:"window_size"`
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	HiddenUnits     int     `json:"hidden_units"`
	LearningRate    float64 `json:"learning_rate"`
	Patience        int     `json:"patience"`
	ValidationSplit float64 `json:"validation_split"`
	RandomSeed      int64   `json:"random_seed"`
}

func (*BaselineParams) Family() Family          { return Baseline }
func (*LinearParams) Family() Family            { return Linear }
func (*DecisionTreeParams) Family() Family      { return DecisionTree }
func (*RandomForestParams) Family() Family      { return RandomForest }
func (*GradientBoostingParams) Family() Family  { return GradientBoosting }
func (*ObliviousBoostingParams) Family() Family { return ObliviousBoosting }
func (*SVRParams) Family() Family               { return SVR }
func (*SequenceParams) Family() Family          { return Sequence }

func (*BaselineParams) isParams()          {}
func (*LinearParams) isParams()            {}
func (*DecisionTreeParams) isParams()      {}
func (*RandomForestParams) isParams()      {}
func (*GradientBoostingParams) isParams()  {}
func (*ObliviousBoostingParams) isParams() {}
func (*SVRParams) isParams()               {}
func (*SequenceParams) isParams()          {}

// NewBaselineParams returns the mean strategy.
func NewBaselineParams() *BaselineParams {
	return &BaselineParams{Strategy: StrategyMean, Quantile: 0.5}
}

func NewLinearParams() *LinearParams {
	return &LinearParams{FitIntercept: true}
}

func NewDecisionTreeParams() *DecisionTreeParams {
	return &DecisionTreeParams{MinSamplesSplit: 2, MinSamplesLeaf: 1, RandomState: 42}
}

func NewRandomForestParams() *RandomForestParams {
	return &RandomForestParams{
		NEstimators:     100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     1.0,
		Bootstrap:       true,
		RandomState:     42,
	}
}

func NewGradientBoostingParams() *GradientBoostingParams {
	return &GradientBoostingParams{
		NEstimators:    100,
		LearningRate:   0.3,
		MaxDepth:       6,
		RegLambda:      1,
		MinChildWeight: 1,
		Subsample:      1,
		RandomState:    42,
	}
}

func NewObliviousBoostingParams() *ObliviousBoostingParams {
	return &ObliviousBoostingParams{
		Iterations:   500,
		LearningRate: 0.05,
		Depth:        6,
		L2LeafReg:    3,
		Subsample:    0.8,
		RandomSeed:   42,
	}
}

func NewSVRParams() *SVRParams {
	return &SVRParams{
		Kernel:  KernelRBF,
		C:       1,
		Epsilon: 0.1,
		Degree:  3,
		MaxIter: 1000,
		Tol:     1e-3,
	}
}

func NewSequenceParams() *SequenceParams {
	return &SequenceParams{
		WindowSize:      common.DefaultWindowSize,
		Epochs:          common.DefaultRNNEpochs,
		BatchSize:       common.DefaultRNNBatch,
		HiddenUnits:     common.DefaultRNNHidden,
		LearningRate:    common.DefaultRNNLearning,
		Patience:        common.DefaultPatience,
		ValidationSplit: common.DefaultValidSplit,
		RandomSeed:      42,
	}
}

// DefaultParams returns the default parameters of f.
func DefaultParams(f Family) (Params, error) {
	switch f {
	case Baseline:
		return NewBaselineParams(), nil
	case Linear:
		return NewLinearParams(), nil
	case DecisionTree:
		return NewDecisionTreeParams(), nil
	case RandomForest:
		return NewRandomForestParams(), nil
	case GradientBoosting:
		return NewGradientBoostingParams(), nil
	case ObliviousBoosting:
		return NewObliviousBoostingParams(), nil
	case SVR:
		return NewSVRParams(), nil
	case Sequence:
		return NewSequenceParams(), nil
	}
	return nil, &common.UnknownModelError{Model: string(f)}
}

// DecodeParams overlays raw JSON on the defaults of f and validates the
// result. Unknown keys are rejected. Empty input yields the defaults.
func DecodeParams(f Family, raw []byte) (Params, error) {
	p, err := DefaultParams(f)
	if err != nil {
		return nil, err
	}
	return DecodeParamsOver(p, raw)
}

// DecodeParamsOver overlays raw JSON on p, which is modified in place,
// and validates the result.
func DecodeParamsOver(p Params, raw []byte) (Params, error) {
	if p == nil {
		return nil, common.InvalidParam("params", nil, "are nil")
	}
	f := p.Family()

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, common.InvalidParam("params", nil, "%s: %v", f, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeParams renders p as the JSON object stored in model metadata.
func EncodeParams(p Params) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", p.Family(), err)
	}
	return b, nil
}

func (p *BaselineParams) Validate() error {
	switch p.Strategy {
	case StrategyMean, StrategyMedian:
	case StrategyQuantile:
		if !(p.Quantile >= 0 && p.Quantile <= 1) {
			return common.InvalidParam("quantile", p.Quantile, "must be in [0, 1]")
		}
	case StrategyConstant:
		if p.Constant == nil {
			return common.InvalidParam("constant", nil, "required by the constant strategy")
		}
		if !finite(*p.Constant) {
			return common.InvalidParam("constant", *p.Constant, "must be finite")
		}
	default:
		return common.InvalidParam("strategy", p.Strategy, "must be one of mean, median, quantile, constant")
	}
	return nil
}

func (p *LinearParams) Validate() error { return nil }

func (p *DecisionTreeParams) Validate() error {
	return validateTreeShape(p.MaxDepth, p.MinSamplesSplit, p.MinSamplesLeaf)
}

func (p *RandomForestParams) Validate() error {
	if p.NEstimators < 1 {
		return common.InvalidParam("n_estimators", p.NEstimators, "must be at least 1")
	}
	if !(p.MaxFeatures > 0 && p.MaxFeatures <= 1) {
		return common.InvalidParam("max_features", p.MaxFeatures, "must be in (0, 1]")
	}
	return validateTreeShape(p.MaxDepth, p.MinSamplesSplit, p.MinSamplesLeaf)
}

func (p *GradientBoostingParams) Validate() error {
	if p.NEstimators < 1 {
		return common.InvalidParam("n_estimators", p.NEstimators, "must be at least 1")
	}
	if !(p.LearningRate > 0 && p.LearningRate <= 1) {
		return common.InvalidParam("learning_rate", p.LearningRate, "must be in (0, 1]")
	}
	if p.MaxDepth < 1 {
		return common.InvalidParam("max_depth", p.MaxDepth, "must be at least 1")
	}
	if p.RegLambda < 0 || !finite(p.RegLambda) {
		return common.InvalidParam("reg_lambda", p.RegLambda, "must be a finite value >= 0")
	}
	if p.MinChildWeight < 0 || !finite(p.MinChildWeight) {
		return common.InvalidParam("min_child_weight", p.MinChildWeight, "must be a finite value >= 0")
	}
	if !(p.Subsample > 0 && p.Subsample <= 1) {
		return common.InvalidParam("subsample", p.Subsample, "must be in (0, 1]")
	}
	return nil
}

func (p *ObliviousBoostingParams) Validate() error {
	if p.Iterations < 1 {
		return common.InvalidParam("iterations", p.Iterations, "must be at least 1")
	}
	if !(p.LearningRate > 0 && p.LearningRate <= 1) {
		return common.InvalidParam("learning_rate", p.LearningRate, "must be in (0, 1]")
	}
	if p.Depth < 1 || p.Depth > 16 {
		return common.InvalidParam("depth", p.Depth, "must be in [1, 16]")
	}
	if p.L2LeafReg < 0 || !finite(p.L2LeafReg) {
		return common.InvalidParam("l2_leaf_reg", p.L2LeafReg, "must be a finite value >= 0")
	}
	if !(p.Subsample > 0 && p.Subsample <= 1) {
		return common.InvalidParam("subsample", p.Subsample, "must be in (0, 1]")
	}
	return nil
}

func (p *SVRParams) Validate() error {
	switch p.Kernel {
	case KernelLinear, KernelPoly, KernelRBF, KernelSigmoid:
	default:
		return common.InvalidParam("kernel", p.Kernel, "must be one of linear, poly, rbf, sigmoid")
	}
	if !(p.C > 0) || !finite(p.C) {
		return common.InvalidParam("C", p.C, "must be a finite value > 0")
	}
	if p.Epsilon < 0 || !finite(p.Epsilon) {
		return common.InvalidParam("epsilon", p.Epsilon, "must be a finite value >= 0")
	}
	if p.Gamma < 0 || !finite(p.Gamma) {
		return common.InvalidParam("gamma", p.Gamma, "must be >= 0 (0 selects scale)")
	}
	if p.Kernel == KernelPoly && p.Degree < 1 {
		return common.InvalidParam("degree", p.Degree, "must be at least 1")
	}
	if p.MaxIter < 1 {
		return common.InvalidParam("max_iter", p.MaxIter, "must be at least 1")
	}
	if !(p.Tol > 0) {
		return common.InvalidParam("tol", p.Tol, "must be > 0")
	}
	return nil
}

func (p *SequenceParams) Validate() error {
	if p.WindowSize < common.MinWindowSize || p.WindowSize > common.MaxWindowSize {
		return common.InvalidParam("window_size", p.WindowSize, "must be in [%d, %d]",
			common.MinWindowSize, common.MaxWindowSize)
	}
	if p.Epochs < 1 {
		return common.InvalidParam("epochs", p.Epochs, "must be at least 1")
	}
	if p.BatchSize < 1 {
		return common.InvalidParam("batch_size", p.BatchSize, "must be at least 1")
	}
	if p.HiddenUnits < 1 {
		return common.InvalidParam("hidden_units", p.HiddenUnits, "must be at least 1")
	}
	if !(p.LearningRate > 0) || !finite(p.LearningRate) {
		return common.InvalidParam("learning_rate", p.LearningRate, "must be a finite value > 0")
	}
	if p.Patience < 1 {
		return common.InvalidParam("patience", p.Patience, "must be at least 1")
	}
	if !(p.ValidationSplit >= 0 && p.ValidationSplit < 1) {
		return common.InvalidParam("validation_split", p.ValidationSplit, "must be in [0, 1)")
	}
	return nil
}

func validateTreeShape(maxDepth, minSplit, minLeaf int) error {
	if maxDepth < 0 {
		return common.InvalidParam("max_depth", maxDepth, "must be >= 0 (0 means unlimited)")
	}
	if minSplit < 2 {
		return common.InvalidParam("min_samples_split", minSplit, "must be at least 2")
	}
	if minLeaf < 1 {
		return common.InvalidParam("min_samples_leaf", minLeaf, "must be at least 1")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
