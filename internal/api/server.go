// Package api serves the workbench over HTTP: dataset upload and feature
// extraction, training runs, the model registry, the on-disk model store,
// report exports and a WebSocket stream of training progress.
//
// Every core action runs under one lock, so actions never interleave and
// the registry needs no locking of its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"batchml/internal/cfg"
	"batchml/internal/dataset"
	"batchml/internal/metrics"
	"batchml/internal/ml"
	"batchml/internal/storage"
	"batchml/internal/trainer"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config holds the service settings.
type Config struct {
	Port           int
	BatchSize      int
	Dataset        dataset.Options
	TestFraction   float64
	Seed           int64
	WindowSize     int
	CacheSize      int
	MaxUploadBytes int64
	RequestTimeout time.Duration
	DatasetTTL     time.Duration
}

// NewConfig derives the service settings from the loaded configuration.
func NewConfig(s cfg.Settings) Config {
	return Config{
		Port:           s.Port,
		BatchSize:      s.BatchSize,
		Dataset:        dataset.Options{Target: s.TargetColumn, Exclude: s.ExcludeColumns},
		TestFraction:   s.TestFraction,
		Seed:           s.RandomSeed,
		WindowSize:     s.WindowSize,
		CacheSize:      s.DatasetCacheSize,
		MaxUploadBytes: s.MaxUploadBytes(),
		RequestTimeout: s.RequestTimeout,
		DatasetTTL:     s.DatasetTTL,
	}
}

// Deps are the components the server drives.
type Deps struct {
	Datasets *storage.DatasetStore
	Models   *storage.ModelStore
	Registry *ml.Registry
	Metrics  *metrics.MetricsWrapper // optional
	Gatherer prometheus.Gatherer     // optional, serves /metrics when set
}

// Server is the HTTP front of the workbench.
type Server struct {
	cfg      Config
	datasets *storage.DatasetStore
	models   *storage.ModelStore
	registry *ml.Registry
	trainer  *trainer.Trainer
	metrics  *metrics.MetricsWrapper
	cache    *lru.Cache // dataset id -> *features.Table
	hub      *Hub
	router   *mux.Router
	server   *http.Server

	actionMu sync.Mutex // serialises core actions
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewServer wires the routes. The event hub runs from construction on;
// call Shutdown to release it.
func NewServer(c Config, d Deps) (*Server, error) {
	if d.Datasets == nil || d.Models == nil || d.Registry == nil {
		return nil, errors.New("api: datasets, models and registry are required")
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1
	}
	cache, err := lru.New(c.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset cache: %w", err)
	}

	opts := []trainer.Option{}
	var gauge metrics.MetricsGauge
	if d.Metrics != nil {
		opts = append(opts, trainer.WithMetrics(d.Metrics))
		gauge = d.Metrics.WSClients()
	}

	s := &Server{
		cfg:      c,
		datasets: d.Datasets,
		models:   d.Models,
		registry: d.Registry,
		trainer:  trainer.New(d.Models, d.Registry, opts...),
		metrics:  d.Metrics,
		cache:    cache,
		hub:      NewHub(gauge),
		stop:     make(chan struct{}),
		now:      time.Now,
	}

	r := mux.NewRouter()
	r.Use(s.observe)

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/datasets", s.handleUpload).Methods(http.MethodPost)
	sub.HandleFunc("/datasets", s.handleListDatasets).Methods(http.MethodGet)
	sub.HandleFunc("/datasets/{id}", s.handleGetDataset).Methods(http.MethodGet)
	sub.HandleFunc("/datasets/{id}", s.handleDeleteDataset).Methods(http.MethodDelete)
	sub.HandleFunc("/train", s.handleTrain).Methods(http.MethodPost)
	sub.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	sub.HandleFunc("/models", s.handleClearModels).Methods(http.MethodDelete)
	sub.HandleFunc("/models/{name}", s.handleGetModel).Methods(http.MethodGet)
	sub.HandleFunc("/models/{name}/predictions.csv", s.handlePredictionsCSV).Methods(http.MethodGet)
	sub.HandleFunc("/models/{name}/compare/{other}", s.handleCompare).Methods(http.MethodGet)
	sub.HandleFunc("/comparison.csv", s.handleComparisonCSV).Methods(http.MethodGet)
	sub.HandleFunc("/saved", s.handleListSaved).Methods(http.MethodGet)
	sub.HandleFunc("/saved", s.handleClearSaved).Methods(http.MethodDelete)
	sub.HandleFunc("/saved/load-all", s.handleLoadAll).Methods(http.MethodPost)
	sub.HandleFunc("/saved/{name}/load", s.handleLoadSaved).Methods(http.MethodPost)
	sub.HandleFunc("/saved/{name}", s.handleDeleteSaved).Methods(http.MethodDelete)
	sub.HandleFunc("/storage", s.handleStorage).Methods(http.MethodGet)
	sub.HandleFunc("/families", s.handleFamilies).Methods(http.MethodGet)
	sub.HandleFunc("/scalers", s.handleScalers).Methods(http.MethodGet)

	r.Handle("/ws/events", s.hub).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router = r

	writeTimeout := c.RequestTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the event hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start loads saved models into the registry, starts dataset expiry when a
// TTL is configured and serves until Shutdown. It blocks like
// http.Server.ListenAndServe and returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.actionMu.Lock()
	loaded, total := s.models.LoadAllInto(s.registry)
	s.syncRegistryGauge()
	s.actionMu.Unlock()
	log.Info().Int("loaded", loaded).Int("total", total).Msg("Loaded saved models")

	if s.cfg.DatasetTTL > 0 {
		go s.expireDatasets()
	}

	log.Info().Str("address", s.server.Addr).Msg("Starting workbench server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the event hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.hub.Close()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown workbench server")
		return err
	}
	log.Info().Msg("Workbench server stopped")
	return nil
}

// expireDatasets drops uploaded datasets older than the TTL.
func (s *Server) expireDatasets() {
	interval := s.cfg.DatasetTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneDatasets()
		case <-s.stop:
			return
		}
	}
}

func (s *Server) pruneDatasets() int {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	n, err := s.datasets.Prune(s.now().Add(-s.cfg.DatasetTTL))
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune datasets")
		return 0
	}
	if n > 0 {
		s.cache.Purge()
		log.Info().Int("removed", n).Msg("Expired uploaded datasets")
	}
	return n
}

func (s *Server) syncRegistryGauge() {
	if s.metrics != nil {
		s.metrics.RegistryModels().Set(float64(s.registry.Len()))
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		// The WebSocket upgrade needs the original writer.
		if route == "/ws/events" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		if s.metrics != nil {
			s.metrics.HTTPRequest(route, rec.code)
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.code).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"models":     s.registryLen(),
		"ws_clients": s.hub.Clients(),
	})
}

func (s *Server) registryLen() int {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()
	return s.registry.Len()
}
