package api

import (
	"errors"
	"net/http"
	"strconv"

	"batchml/internal/common"
	"batchml/internal/dataset"
	"batchml/internal/features"
	"batchml/internal/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const multipartMemory = 8 << 20

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	var schema *common.SchemaError
	switch {
	case errors.As(err, &schema),
		common.IsInsufficientData(err),
		common.IsInvalidParameter(err),
		common.IsInvalidSequence(err):
		return http.StatusUnprocessableEntity
	case common.IsUnknownModel(err):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrDatasetNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) extractionMetrics() features.MetricsTracker {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

// handleUpload reads a CSV or xlsx file from the "file" form field,
// extracts the feature table and stores it under a new id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart upload: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	batchSize := s.cfg.BatchSize
	if v := r.FormValue("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < common.MinBatchSize || n > common.MaxBatchSize {
			writeError(w, http.StatusBadRequest, "batch_size must be an integer between 3 and 10000")
			return
		}
		batchSize = n
	}

	format, err := dataset.DetectFormat(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	raw, err := dataset.Read(file, format, s.cfg.Dataset)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	table, err := features.ExtractWithMetrics(raw, batchSize, s.extractionMetrics())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	info := storage.DatasetInfo{
		ID:          uuid.NewString(),
		Name:        header.Filename,
		RawRows:     raw.Rows,
		Columns:     raw.Features,
		Excluded:    raw.Excluded,
		BatchSize:   batchSize,
		Batches:     table.Len(),
		DroppedRows: raw.Rows - table.Len()*batchSize,
		Width:       table.Width(),
		CreatedAt:   s.now(),
	}
	if err := s.datasets.Put(info, table); err != nil {
		log.Error().Err(err).Str("dataset", info.Name).Msg("Failed to store dataset")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Add(info.ID, table)
	if s.metrics != nil {
		s.metrics.DatasetsUploaded().Inc()
	}

	log.Info().
		Str("id", info.ID).
		Str("name", info.Name).
		Int("raw_rows", info.RawRows).
		Int("batches", info.Batches).
		Int("dropped_rows", info.DroppedRows).
		Msg("Dataset uploaded")

	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	infos, err := s.datasets.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []storage.DatasetInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	info, _, err := s.datasets.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.actionMu.Lock()
	defer s.actionMu.Unlock()

	removed, err := s.datasets.Delete(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cache.Remove(id)
	if !removed {
		writeError(w, http.StatusNotFound, storage.ErrDatasetNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// table returns the feature table of a dataset, from the cache when hot.
// Callers hold actionMu.
func (s *Server) table(id string) (*features.Table, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(*features.Table), nil
	}
	_, table, err := s.datasets.Get(id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, table)
	return table, nil
}
