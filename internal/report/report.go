// Package report writes the comparison and prediction exports of trained
// models.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"batchml/internal/ml"
	"batchml/internal/storage"

	"github.com/rs/zerolog/log"
)

// PredictionsHeader is the header row of the predictions export.
var PredictionsHeader = []string{"Index", "Actual", "Predicted", "Error", "Absolute Error"}

// ComparisonHeader is the header row of the comparison export.
var ComparisonHeader = []string{"Model", "MAE", "MSE", "RMSE", "MAPE (%)", "R2"}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WritePredictions writes one row per test row: index, actual, predicted,
// error (actual - predicted) and its absolute value.
func WritePredictions(w io.Writer, p ml.Predictions) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(PredictionsHeader); err != nil {
		return err
	}
	for i, e := range p.Residuals() {
		record := []string{
			strconv.Itoa(i),
			formatFloat(p.YTest[i]),
			formatFloat(p.YPred[i]),
			formatFloat(e),
			formatFloat(math.Abs(e)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteComparison writes one row per record with its five metrics.
func WriteComparison(w io.Writer, records []*ml.ModelRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(ComparisonHeader); err != nil {
		return err
	}
	for _, r := range records {
		record := []string{
			r.Name,
			formatFloat(r.Metrics.MAE),
			formatFloat(r.Metrics.MSE),
			formatFloat(r.Metrics.RMSE),
			formatFloat(r.Metrics.MAPE),
			formatFloat(r.Metrics.R2),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSummary writes a human-readable comparison that marks the best model
// per metric.
func WriteSummary(w io.Writer, records []*ml.ModelRecord) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("MODEL COMPARISON\n")
	printf("================\n\n")
	if len(records) == 0 {
		printf("No trained models.\n")
		return err
	}

	printf("%-32s %12s %12s %12s %10s %8s\n", "Model", "MAE", "MSE", "RMSE", "MAPE (%)", "R2")
	for _, r := range records {
		m := r.Metrics
		printf("%-32s %12.4f %12.4f %12.4f %10.2f %8.4f\n", r.Name, m.MAE, m.MSE, m.RMSE, m.MAPE, m.R2)
	}

	printf("\nBEST PER METRIC\n")
	printf("---------------\n")
	for _, b := range ml.BestByMetric(records) {
		direction := "lowest"
		if ml.HigherIsBetter(b.Metric) {
			direction = "highest"
		}
		printf("%-5s %s (%s, %.4f)\n", b.Metric, b.Model, direction, b.Value)
	}

	for _, r := range records {
		top := r.TopFeatures(5)
		if len(top) == 0 {
			continue
		}
		printf("\nTOP FEATURES: %s\n", r.Name)
		for _, f := range top {
			printf("  %-40s %.6f\n", f.Name, f.Score)
		}
	}
	return err
}

// Reporter writes all exports of a set of records to a directory.
type Reporter struct {
	records    []*ml.ModelRecord
	outputPath string
}

// NewReporter creates a reporter for records writing into outputPath.
func NewReporter(records []*ml.ModelRecord, outputPath string) *Reporter {
	return &Reporter{
		records:    records,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, the comparison table, one predictions
// file per model and a JSON report.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.writeFile("comparison_summary.txt", func(w io.Writer) error {
		return WriteSummary(w, r.records)
	}); err != nil {
		return err
	}

	if err := r.writeFile("model_comparison.csv", func(w io.Writer) error {
		return WriteComparison(w, r.records)
	}); err != nil {
		return err
	}

	for _, rec := range r.records {
		name := "predictions_" + storage.Sanitize(rec.Name) + ".csv"
		if err := r.writeFile(name, func(w io.Writer) error {
			return WritePredictions(w, rec.Predictions)
		}); err != nil {
			return err
		}
	}

	return r.generateJSONReport()
}

func (r *Reporter) writeFile(name string, write func(io.Writer) error) error {
	path := filepath.Join(r.outputPath, name)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer file.Close()

	if err := write(file); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	log.Info().Str("file", path).Msg("Report generated")
	return nil
}

type jsonModel struct {
	Name              string             `json:"name"`
	Family            string             `json:"family"`
	Metrics           ml.Metrics         `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance,omitempty"`
	TestRows          int                `json:"test_rows"`
}

// generateJSONReport generates a JSON report with all metrics
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "comparison.json")

	models := make([]jsonModel, 0, len(r.records))
	for _, rec := range r.records {
		models = append(models, jsonModel{
			Name:              rec.Name,
			Family:            string(rec.Family),
			Metrics:           rec.Metrics,
			FeatureImportance: rec.FeatureImportance,
			TestRows:          len(rec.Predictions.YTest),
		})
	}

	report := map[string]interface{}{
		"models":       models,
		"best":         ml.BestByMetric(r.records),
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}
