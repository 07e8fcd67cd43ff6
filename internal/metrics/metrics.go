// Package metrics provides Prometheus metrics collection for the model
// workbench. It defines the training, feature extraction, model store and
// service metrics exposed on the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the workbench.
type Metrics struct {
	// Training metrics
	TrainingRuns     *prometheus.CounterVec   // Training runs by family and result
	TrainingDuration *prometheus.HistogramVec // Duration of training runs by family
	TrainingActive   prometheus.Gauge         // Number of runs in progress
	ModelScores      *prometheus.GaugeVec     // Last test score by family and metric

	// Feature extraction metrics
	ExtractionDuration prometheus.Histogram // Duration of feature extraction
	BatchesExtracted   prometheus.Counter   // Total number of batches turned into feature rows
	FeatureErrors      prometheus.Counter   // Total number of failed extractions

	// Storage metrics
	StoreOperations  *prometheus.CounterVec // Model store operations by op and result
	DatasetsUploaded prometheus.Counter     // Total number of uploaded datasets
	RegistryModels   prometheus.Gauge       // Models currently in the in-memory registry

	// Service metrics
	WSClients    prometheus.Gauge       // Connected event stream clients
	HTTPRequests *prometheus.CounterVec // API requests by route and status code

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}

	return &Metrics{
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs",
		}, []string{"family", "result"}),
		TrainingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		}, []string{"family"}),
		TrainingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "training_active",
			Help: "Number of training runs in progress",
		}),
		ModelScores: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "model_score",
			Help: "Test score of the last trained model per family and metric",
		}, []string{"family", "metric"}),
		ExtractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "feature_extraction_duration_seconds",
			Help:    "Duration of batch feature extraction in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		BatchesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "feature_batches_total",
			Help: "Total number of batches turned into feature rows",
		}),
		FeatureErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "feature_errors_total",
			Help: "Total number of feature extraction errors",
		}),
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_store_operations_total",
			Help: "Total number of model store operations",
		}, []string{"op", "result"}),
		DatasetsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "datasets_uploaded_total",
			Help: "Total number of uploaded datasets",
		}),
		RegistryModels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "registry_models",
			Help: "Number of models in the in-memory registry",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected event stream clients",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests",
		}, []string{"route", "code"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
		gatherer: gatherer,
	}
}

// GetErrorRate returns the share of training runs that failed, or 0 when
// nothing ran yet.
func (m *Metrics) GetErrorRate() float64 {
	var total, failed float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		if mf.GetName() != "training_runs_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			v := metric.GetCounter().GetValue()
			total += v
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == ResultError {
					failed += v
				}
			}
		}
	}

	if total == 0 {
		return 0
	}
	return failed / total
}
