package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow tracker interfaces of the
// features, storage and trainer packages.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Training

func (w *MetricsWrapper) TrainingStarted(string) {
	w.m.TrainingActive.Inc()
}

func (w *MetricsWrapper) TrainingFinished(family string, d time.Duration, ok bool) {
	w.m.TrainingActive.Dec()
	result := ResultOK
	if !ok {
		result = ResultError
		w.m.ErrorsTotal.Inc()
	}
	w.m.TrainingRuns.WithLabelValues(family, result).Inc()
	w.m.TrainingDuration.WithLabelValues(family).Observe(d.Seconds())
}

func (w *MetricsWrapper) ModelScore(family, metric string, value float64) {
	w.m.ModelScores.WithLabelValues(family, metric).Set(value)
}

// Feature extraction

func (w *MetricsWrapper) ExtractionDuration(d time.Duration) {
	w.m.ExtractionDuration.Observe(d.Seconds())
}

func (w *MetricsWrapper) BatchesExtracted(n int) {
	w.m.BatchesExtracted.Add(float64(n))
}

func (w *MetricsWrapper) FeatureErrorsInc() {
	w.m.FeatureErrors.Inc()
}

// Storage

func (w *MetricsWrapper) StoreOperation(op, result string) {
	w.m.StoreOperations.WithLabelValues(op, result).Inc()
	if result == ResultError {
		w.m.ErrorsTotal.Inc()
	}
}

func (w *MetricsWrapper) DatasetsUploaded() MetricsCounter {
	return &CounterWrapper{w.m.DatasetsUploaded}
}

func (w *MetricsWrapper) RegistryModels() MetricsGauge {
	return &GaugeWrapper{w.m.RegistryModels}
}

// Service

func (w *MetricsWrapper) WSClients() MetricsGauge {
	return &GaugeWrapper{w.m.WSClients}
}

func (w *MetricsWrapper) HTTPRequest(route string, code int) {
	w.m.HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
