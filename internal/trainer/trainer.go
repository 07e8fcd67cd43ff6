// Package trainer runs a model through training, evaluation and
// persistence and reports a single tagged outcome per run.
package trainer

import (
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"batchml/internal/common"
	"batchml/internal/estimator"
	"batchml/internal/ml"
	"batchml/internal/storage"

	"github.com/rs/zerolog/log"
)

// Store is the persistence the trainer writes to.
type Store interface {
	Save(rec *ml.ModelRecord) storage.Outcome
}

// MetricsTracker receives per-run measurements.
type MetricsTracker interface {
	TrainingStarted(family string)
	TrainingFinished(family string, d time.Duration, ok bool)
	ModelScore(family, metric string, value float64)
}

// Request is one training run on an already split feature table.
type Request struct {
	XTrain       [][]float64
	YTrain       []float64
	XTest        [][]float64
	YTest        []float64
	Params       estimator.Params
	SaveName     string   // defaults to "<Display Name>_<timestamp>"
	FeatureNames []string // missing names become feature_<i>
	Scaler       estimator.ScalerKind
	Progress     func(estimator.Progress)
}

// Success is the outcome of a completed run. Saved reports whether the
// model also reached the store; a failed save does not fail the run.
type Success struct {
	Name              string             `json:"name"`
	Family            estimator.Family   `json:"family"`
	Metrics           ml.Metrics         `json:"metrics"`
	Predictions       ml.Predictions     `json:"predictions"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	Saved             bool               `json:"saved"`
	SaveMessage       string             `json:"save_message"`
	Duration          time.Duration      `json:"duration"`
	Record            *ml.ModelRecord    `json:"-"`
}

// Failure describes why a run stopped. Stage is the step that failed.
type Failure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Err }

// Result holds exactly one of Success and Failure.
type Result struct {
	Success *Success `json:"success,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// OK reports whether the run succeeded.
func (r Result) OK() bool { return r.Success != nil }

// Trainer trains models and records them in a store and a registry.
type Trainer struct {
	store    Store
	registry *ml.Registry
	metrics  MetricsTracker
	now      func() time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithMetrics reports runs to m.
func WithMetrics(m MetricsTracker) Option {
	return func(t *Trainer) { t.metrics = m }
}

// WithClock replaces the clock used for default save names.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) { t.now = now }
}

// New returns a Trainer. registry may be nil when results are not kept in
// memory.
func New(store Store, registry *ml.Registry, opts ...Option) *Trainer {
	t := &Trainer{store: store, registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DefaultSaveName is the name used when a run has none.
func DefaultSaveName(f estimator.Family, at time.Time) string {
	return f.DisplayName() + "_" + at.Format(common.SaveNameLayout)
}

const (
	StageValidate = "validate"
	StageTrain    = "train"
	StageEvaluate = "evaluate"
	StageSave     = "save"
)

// TrainAndSave trains req.Params on the training split, scores it on the
// test split, extracts feature importance and saves the model. Any error or
// panic before the save collapses into Result.Failure.
func (t *Trainer) TrainAndSave(req Request) (res Result) {
	start := time.Now()
	family := estimator.Family("")
	if req.Params != nil {
		family = req.Params.Family()
	}
	if t.metrics != nil {
		t.metrics.TrainingStarted(string(family))
	}

	stage := StageValidate
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("family", string(family)).
				Msg("Training panicked")
			res = Result{Failure: &Failure{
				Stage:   stage,
				Message: fmt.Sprintf("Error training model: %v", r),
			}}
		}
		if t.metrics != nil {
			t.metrics.TrainingFinished(string(family), time.Since(start), res.OK())
		}
	}()

	fail := func(err error) Result {
		log.Error().Err(err).Str("family", string(family)).Str("stage", stage).Msg("Training failed")
		return Result{Failure: &Failure{Stage: stage, Message: "Error training model: " + err.Error(), Err: err}}
	}

	if req.Params == nil {
		return fail(common.InvalidParam("params", nil, "are nil"))
	}
	if len(req.XTest) == 0 {
		return fail(common.InvalidParam("X_test", nil, "no test rows"))
	}

	stage = StageTrain
	opts := []estimator.Option{}
	if req.Progress != nil {
		opts = append(opts, estimator.WithProgress(req.Progress))
	}
	if req.Scaler != "" && req.Scaler != estimator.ScalerNone {
		opts = append(opts, estimator.WithScaler(req.Scaler))
	}
	artifact, err := estimator.Train(req.Params, req.XTrain, req.YTrain, opts...)
	if err != nil {
		return fail(err)
	}

	stage = StageEvaluate
	pred, err := estimator.Predict(artifact, req.XTest, req.YTest)
	if err != nil {
		return fail(err)
	}
	metrics, err := ml.Evaluate(pred.Truth, pred.Pred)
	if err != nil {
		return fail(err)
	}
	for _, w := range metrics.Warnings {
		log.Warn().Str("family", string(family)).Str("metric", w.Metric).Int("rows", w.Rows).Msg(w.Detail)
	}

	importance, _ := estimator.Importance(artifact, req.FeatureNames)

	name := strings.TrimSpace(req.SaveName)
	if name == "" {
		name = DefaultSaveName(family, t.now())
	}
	rec := &ml.ModelRecord{
		Name:              name,
		Family:            family,
		Artifact:          artifact,
		Metrics:           metrics,
		Params:            req.Params,
		Predictions:       ml.Predictions{YPred: pred.Pred, YTest: pred.Truth},
		FeatureImportance: importance,
	}

	stage = StageSave
	saved, message := false, "model store not configured"
	if t.store != nil {
		out := t.store.Save(rec)
		saved, message = out.OK, out.Message
	}
	if t.registry != nil {
		t.registry.Put(rec)
	}

	if t.metrics != nil {
		for _, m := range ml.MetricNames {
			v, _ := metrics.Value(m)
			t.metrics.ModelScore(string(family), m, v)
		}
	}

	log.Info().
		Str("model", name).
		Str("family", string(family)).
		Float64("rmse", metrics.RMSE).
		Float64("r2", metrics.R2).
		Bool("saved", saved).
		Dur("elapsed", time.Since(start)).
		Msg("Model trained")

	return Result{Success: &Success{
		Name:              name,
		Family:            family,
		Metrics:           metrics,
		Predictions:       rec.Predictions,
		FeatureImportance: importance,
		Saved:             saved,
		SaveMessage:       message,
		Duration:          time.Since(start),
		Record:            rec,
	}}
}

// Err returns the failure as an error, or nil on success.
func (r Result) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}
