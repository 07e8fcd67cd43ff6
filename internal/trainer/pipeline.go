package trainer

import (
	"time"

	"batchml/internal/common"
	"batchml/internal/dataset"
	"batchml/internal/estimator"
	"batchml/internal/features"

	"github.com/rs/zerolog/log"
)

// Pipeline describes a full run from a raw table: extraction, split and
// training of one or more jobs on the same split.
type Pipeline struct {
	Table        *dataset.Table
	BatchSize    int
	TestFraction float64
	Seed         int64
	Scaler       estimator.ScalerKind // optional input scaling for every job
	Extraction   features.MetricsTracker
	Progress     func(estimator.Progress)
}

// Job is one model to train within a pipeline.
type Job struct {
	Params   estimator.Params
	SaveName string
}

// Prepared is the extracted and split data shared by all jobs of a run.
type Prepared struct {
	Features *features.Table
	Split    *features.Split
}

// Prepare extracts the feature table and splits it.
func Prepare(p Pipeline) (*Prepared, error) {
	if p.Table == nil {
		return nil, common.InvalidParam("table", nil, "is nil")
	}
	batchSize := p.BatchSize
	if batchSize == 0 {
		batchSize = common.DefaultBatchSize
	}
	fraction := p.TestFraction
	if fraction == 0 {
		fraction = common.DefaultTestFraction
	}

	ft, err := features.ExtractWithMetrics(p.Table, batchSize, p.Extraction)
	if err != nil {
		return nil, err
	}
	split, err := features.SplitTable(ft, fraction, p.Seed)
	if err != nil {
		return nil, err
	}

	log.Info().
		Int("raw_rows", p.Table.Rows).
		Int("batches", ft.Len()).
		Int("features", ft.Width()).
		Int("train", len(split.YTrain)).
		Int("test", len(split.YTest)).
		Msg("Prepared dataset")

	return &Prepared{Features: ft, Split: split}, nil
}

// Request builds the training request of job on the prepared split.
func (d *Prepared) Request(job Job, scaler estimator.ScalerKind, progress func(estimator.Progress)) Request {
	return Request{
		XTrain:       d.Split.XTrain,
		YTrain:       d.Split.YTrain,
		XTest:        d.Split.XTest,
		YTest:        d.Split.YTest,
		Params:       job.Params,
		SaveName:     job.SaveName,
		FeatureNames: d.Split.Names,
		Scaler:       scaler,
		Progress:     progress,
	}
}

// Run prepares p and trains a single job. Preparation errors become the
// failure of the run.
func (t *Trainer) Run(p Pipeline, job Job) Result {
	results := t.RunAll(p, []Job{job})
	return results[0]
}

// RunAll prepares p once and trains every job on the same split, in order.
// It always returns one result per job.
func (t *Trainer) RunAll(p Pipeline, jobs []Job) []Result {
	start := time.Now()
	results := make([]Result, len(jobs))

	prepared, err := Prepare(p)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prepare dataset")
		for i := range results {
			results[i] = Result{Failure: &Failure{
				Stage:   "prepare",
				Message: "Error preparing data: " + err.Error(),
				Err:     err,
			}}
		}
		return results
	}

	succeeded := 0
	for i, job := range jobs {
		results[i] = t.TrainAndSave(prepared.Request(job, p.Scaler, p.Progress))
		if results[i].OK() {
			succeeded++
		}
	}

	log.Info().
		Int("jobs", len(jobs)).
		Int("succeeded", succeeded).
		Dur("elapsed", time.Since(start)).
		Msg("Training run finished")

	return results
}
