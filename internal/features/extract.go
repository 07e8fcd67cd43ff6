// Package features turns a raw table into one fixed-width feature row per
// batch of consecutive rows and splits the result into train and test sets.
package features

import (
	"time"

	"batchml/internal/common"
	"batchml/internal/dataset"

	"github.com/rs/zerolog/log"
)

// Table is the model-ready feature matrix. X[i] and Y[i] come from batch i.
type Table struct {
	X     [][]float64 `json:"x"`
	Y     []float64   `json:"y"`
	Names []string    `json:"names"`
}

// Len returns the number of feature rows.
func (t *Table) Len() int { return len(t.Y) }

// Width returns the number of features per row.
func (t *Table) Width() int { return len(t.Names) }

// MetricsTracker receives extraction measurements.
type MetricsTracker interface {
	ExtractionDuration(d time.Duration)
	BatchesExtracted(n int)
	FeatureErrorsInc()
}

// Names returns the feature names produced for the given input columns.
func Names(columns []string) []string {
	names := make([]string, 0, len(columns)*StatsPerColumn)
	for _, col := range columns {
		for _, st := range StatNames {
			names = append(names, col+"_"+st)
		}
	}
	return names
}

// Extract splits t into consecutive non-overlapping batches of batchSize rows
// and derives one feature row per batch. The target of a batch is the target
// value of its last row. Rows after the last whole batch are ignored.
func Extract(t *dataset.Table, batchSize int) (*Table, error) {
	return ExtractWithMetrics(t, batchSize, nil)
}

// ExtractWithMetrics is Extract with an optional metrics sink.
func ExtractWithMetrics(t *dataset.Table, batchSize int, metrics MetricsTracker) (*Table, error) {
	start := time.Now()

	out, err := extract(t, batchSize)
	if err != nil {
		if metrics != nil {
			metrics.FeatureErrorsInc()
		}
		return nil, err
	}

	if metrics != nil {
		metrics.ExtractionDuration(time.Since(start))
		metrics.BatchesExtracted(out.Len())
	}
	return out, nil
}

func extract(t *dataset.Table, batchSize int) (*Table, error) {
	if batchSize < common.MinBatchSize {
		return nil, common.InvalidParam("batch_size", batchSize, "must be at least %d", common.MinBatchSize)
	}
	if t == nil {
		return nil, common.InvalidParam("table", nil, "is nil")
	}

	numBatches := t.Rows / batchSize
	if numBatches == 0 {
		return nil, &common.InsufficientDataError{Rows: t.Rows, BatchSize: batchSize}
	}

	target := t.TargetValues()
	columns := make([][]float64, len(t.Features))
	for i, name := range t.Features {
		columns[i], _ = t.Column(name)
	}

	width := len(t.Features) * StatsPerColumn
	out := &Table{
		X:     make([][]float64, numBatches),
		Y:     make([]float64, numBatches),
		Names: Names(t.Features),
	}

	scratch := make([]float64, batchSize)
	for b := 0; b < numBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize

		row := make([]float64, width)
		for c, values := range columns {
			batchStats(row[c*StatsPerColumn:(c+1)*StatsPerColumn], values[lo:hi], scratch)
		}
		out.X[b] = row
		out.Y[b] = target[hi-1]
	}

	if dropped := t.Rows - numBatches*batchSize; dropped > 0 {
		log.Debug().
			Int("rows", t.Rows).
			Int("batch_size", batchSize).
			Int("dropped_rows", dropped).
			Msg("Trailing partial batch ignored")
	}
	log.Debug().
		Int("batches", numBatches).
		Int("features", width).
		Msg("Features extracted")

	return out, nil
}
