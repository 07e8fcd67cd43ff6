package api

import (
	"encoding/json"
	"net/http"
	"time"

	"batchml/internal/common"
	"batchml/internal/estimator"
	"batchml/internal/features"
	"batchml/internal/ml"
	"batchml/internal/report"
	"batchml/internal/storage"
	"batchml/internal/trainer"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// TrainRequest is the body of POST /api/train. Zero values fall back to the
// service defaults.
type TrainRequest struct {
	DatasetID    string          `json:"dataset_id"`
	Family       string          `json:"family"`
	Params       json.RawMessage `json:"params,omitempty"`
	TestFraction float64         `json:"test_fraction,omitempty"`
	Seed         *int64          `json:"seed,omitempty"`
	SaveName     string          `json:"save_name,omitempty"`
	Scaler       string          `json:"scaler,omitempty"`
	RunID        string          `json:"run_id,omitempty"` // lets clients subscribe before posting
}

// TrainResponse carries the run outcome. Exactly one of Success and Failure
// is set.
type TrainResponse struct {
	RunID string `json:"run_id"`
	trainer.Result
}

// ModelSummary is a registry entry as listed by GET /api/models.
type ModelSummary struct {
	Name     string           `json:"name"`
	Family   estimator.Family `json:"family"`
	Display  string           `json:"display_name"`
	Metrics  ml.Metrics       `json:"metrics"`
	TestRows int              `json:"test_rows"`
	SavedAt  *time.Time       `json:"saved_at,omitempty"`
}

// ModelDetail is a registry entry with everything kept about it.
type ModelDetail struct {
	ModelSummary
	Params            json.RawMessage          `json:"params"`
	Predictions       ml.Predictions           `json:"predictions"`
	FeatureImportance map[string]float64       `json:"feature_importance,omitempty"`
	TopFeatures       []estimator.FeatureScore `json:"top_features,omitempty"`
}

// FamilyInfo describes a supported family and its default parameters.
type FamilyInfo struct {
	ID      estimator.Family `json:"id"`
	Name    string           `json:"name"`
	Default json.RawMessage  `json:"default_params"`
}

// LoadAllResponse is the body of POST /api/saved/load-all.
type LoadAllResponse struct {
	Loaded int `json:"loaded"`
	Total  int `json:"total"`
}

func summarize(rec *ml.ModelRecord) ModelSummary {
	out := ModelSummary{
		Name:     rec.Name,
		Family:   rec.Family,
		Display:  rec.Family.DisplayName(),
		Metrics:  rec.Metrics,
		TestRows: len(rec.Predictions.YTest),
	}
	if !rec.SavedAt.IsZero() {
		at := rec.SavedAt
		out.SavedAt = &at
	}
	return out
}

// params resolves the family and decodes raw over its defaults. The
// sequence family takes its window from the service settings unless raw
// sets one.
func (s *Server) params(family string, raw json.RawMessage) (estimator.Params, error) {
	f, err := estimator.ParseFamily(family)
	if err != nil {
		return nil, err
	}
	base, err := estimator.DefaultParams(f)
	if err != nil {
		return nil, err
	}
	if sp, ok := base.(*estimator.SequenceParams); ok && s.cfg.WindowSize > 0 {
		sp.WindowSize = s.cfg.WindowSize
	}
	return estimator.DecodeParamsOver(base, raw)
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.DatasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id is required")
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	params, err := s.params(req.Family, req.Params)
	if err != nil {
		s.rejectRun(w, runID, err)
		return
	}
	scaler := estimator.ScalerNone
	if req.Scaler != "" {
		if scaler, err = estimator.ParseScalerKind(req.Scaler); err != nil {
			s.rejectRun(w, runID, err)
			return
		}
	}
	fraction := req.TestFraction
	if fraction == 0 {
		fraction = s.cfg.TestFraction
	}
	seed := s.cfg.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	table, err := s.table(req.DatasetID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	split, err := features.SplitTable(table, fraction, seed)
	if err != nil {
		s.rejectRun(w, runID, err)
		return
	}

	family := params.Family()
	s.hub.Publish(Event{Type: EventStarted, RunID: runID, Family: family})

	res := s.trainer.TrainAndSave(trainer.Request{
		XTrain:       split.XTrain,
		YTrain:       split.YTrain,
		XTest:        split.XTest,
		YTest:        split.YTest,
		Params:       params,
		SaveName:     req.SaveName,
		FeatureNames: split.Names,
		Scaler:       scaler,
		Progress: func(p estimator.Progress) {
			s.hub.Publish(Event{Type: EventProgress, RunID: runID, Family: family, Progress: &p})
		},
	})
	s.syncRegistryGauge()

	resp := TrainResponse{RunID: runID, Result: res}
	if !res.OK() {
		s.hub.Publish(Event{Type: EventFailed, RunID: runID, Family: family, Message: res.Failure.Message})
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	s.hub.Publish(Event{Type: EventFinished, RunID: runID, Family: family, Message: res.Success.Name})
	writeJSON(w, http.StatusOK, resp)
}

// rejectRun reports a run that failed validation before training started.
func (s *Server) rejectRun(w http.ResponseWriter, runID string, err error) {
	msg := "Error training model: " + err.Error()
	s.hub.Publish(Event{Type: EventFailed, RunID: runID, Message: msg})

	code := statusFor(err)
	if code == http.StatusInternalServerError {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, TrainResponse{
		RunID:  runID,
		Result: trainer.Result{Failure: &trainer.Failure{Stage: trainer.StageValidate, Message: msg, Err: err}},
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	records := s.registry.Records()
	out := make([]ModelSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, summarize(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearModels(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	n := s.registry.Len()
	s.registry.Clear()
	s.syncRegistryGauge()
	log.Info().Int("models", n).Msg("Cleared model registry")
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

// record looks up a registry entry or writes a 404. Callers hold actionMu.
func (s *Server) record(w http.ResponseWriter, r *http.Request) (*ml.ModelRecord, bool) {
	return s.recordNamed(w, mux.Vars(r)["name"])
}

func (s *Server) recordNamed(w http.ResponseWriter, name string) (*ml.ModelRecord, bool) {
	rec, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, (&common.UnknownModelError{Model: name}).Error())
		return nil, false
	}
	return rec, true
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	params, err := estimator.EncodeParams(rec.Params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ModelDetail{
		ModelSummary:      summarize(rec),
		Params:            params,
		Predictions:       rec.Predictions,
		FeatureImportance: rec.FeatureImportance,
		TopFeatures:       rec.TopFeatures(10),
	})
}

// handleCompare relates the metrics of {name} to those of {other}.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	a, ok := s.record(w, r)
	if !ok {
		return
	}
	b, ok := s.recordNamed(w, mux.Vars(r)["other"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ml.Compare(a, b))
}

func (s *Server) handlePredictionsCSV(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	rec, ok := s.record(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions_`+storage.Sanitize(rec.Name)+`.csv"`)
	if err := report.WritePredictions(w, rec.Predictions); err != nil {
		log.Error().Err(err).Str("model", rec.Name).Msg("Failed to write predictions export")
	}
}

func (s *Server) handleComparisonCSV(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="model_comparison.csv"`)
	if err := report.WriteComparison(w, s.registry.Records()); err != nil {
		log.Error().Err(err).Msg("Failed to write comparison export")
	}
}

func (s *Server) handleListSaved(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	writeJSON(w, http.StatusOK, s.models.List())
}

func (s *Server) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	loaded, total := s.models.LoadAllInto(s.registry)
	s.syncRegistryGauge()
	writeJSON(w, http.StatusOK, LoadAllResponse{Loaded: loaded, Total: total})
}

func (s *Server) handleLoadSaved(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	rec, err := s.models.Load(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "saved model not found: "+name)
		return
	}
	s.registry.Put(rec)
	s.syncRegistryGauge()
	writeJSON(w, http.StatusOK, summarize(rec))
}

func writeOutcome(w http.ResponseWriter, out storage.Outcome) {
	code := http.StatusOK
	if !out.OK {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, out)
}

func (s *Server) handleDeleteSaved(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	writeOutcome(w, s.models.Delete(mux.Vars(r)["name"]))
}

func (s *Server) handleClearSaved(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	writeOutcome(w, s.models.ClearAll())
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	writeJSON(w, http.StatusOK, s.models.StorageInfo())
}

func (s *Server) handleFamilies(w http.ResponseWriter, r *http.Request) {
	out := make([]FamilyInfo, 0, len(estimator.Families()))
	for _, f := range estimator.Families() {
		p, err := estimator.DefaultParams(f)
		if err != nil {
			continue
		}
		raw, err := estimator.EncodeParams(p)
		if err != nil {
			continue
		}
		out = append(out, FamilyInfo{ID: f, Name: f.DisplayName(), Default: raw})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScalers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, estimator.ScalerKinds())
}
