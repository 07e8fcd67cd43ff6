// Package storage persists trained models and uploaded datasets.
//
// Models live under a root directory split into two parallel diskv stores:
// models/<key>.model holds the xz-compressed binary artifact and
// metadata/<key>.json holds a readable description of the same model. Both
// files of a key are always written, read and removed as a pair.
//
// Uploaded feature tables are kept in a BoltDB file (see DatasetStore).
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"batchml/internal/common"
	"batchml/internal/estimator"
	"batchml/internal/ml"

	"github.com/peterbourgon/diskv"
	"github.com/rs/zerolog/log"
	"github.com/ulikunitz/xz"
)

// Outcome is the result of a mutating store operation. Store operations
// never return errors for I/O failures; they report them here.
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary is one entry of List.
type Summary struct {
	Name    string     `json:"name"`
	SavedAt string     `json:"saved_at"`
	Metrics ml.Metrics `json:"metrics"`
}

// Info describes disk usage of the store.
type Info struct {
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeMB    float64 `json:"total_size_mb"`
	ModelCount     int     `json:"model_count"`
	Location       string  `json:"location"`
	Error          string  `json:"error,omitempty"`
}

// StoreMetrics receives store operation counts. Result is "ok" or "error".
type StoreMetrics interface {
	StoreOperation(op, result string)
}

// metadataDoc is the on-disk JSON form of a model's metadata.
type metadataDoc struct {
	ModelName   string          `json:"model_name"`
	ModelFamily string          `json:"model_family"`
	Metrics     ml.Metrics      `json:"metrics"`
	Params      json.RawMessage `json:"params"`
	Predictions predictionsDoc  `json:"predictions"`
	SavedAt     string          `json:"saved_at"`
}

type predictionsDoc struct {
	YPred             []float64          `json:"y_pred"`
	YTest             []float64          `json:"y_test"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

// ModelStore keeps model artifacts and metadata on disk. It performs no
// locking; callers serialize access.
type ModelStore struct {
	root      string
	artifacts *diskv.Diskv
	metadata  *diskv.Diskv
	metrics   StoreMetrics
	now       func() time.Time
}

// StoreOption configures a ModelStore.
type StoreOption func(*ModelStore)

// WithStoreMetrics reports operations to m.
func WithStoreMetrics(m StoreMetrics) StoreOption {
	return func(s *ModelStore) { s.metrics = m }
}

// WithClock replaces the clock used for saved_at timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *ModelStore) { s.now = now }
}

// NewModelStore returns a store rooted at root. Directories are created
// lazily on the first save.
func NewModelStore(root string, opts ...StoreOption) *ModelStore {
	s := &ModelStore{
		root: root,
		artifacts: diskv.New(diskv.Options{
			BasePath:     filepath.Join(root, common.ModelsDirName),
			Transform:    flatTransform,
			CacheSizeMax: 0,
			PathPerm:     0o755,
			FilePerm:     0o644,
			Compression:  xzCompression{},
		}),
		metadata: diskv.New(diskv.Options{
			BasePath:     filepath.Join(root, common.MetadataDirName),
			Transform:    flatTransform,
			CacheSizeMax: 0,
			PathPerm:     0o755,
			FilePerm:     0o644,
		}),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the storage directory.
func (s *ModelStore) Root() string { return s.root }

func flatTransform(string) []string { return []string{} }

// Sanitize maps a model name to its storage key: whitespace and path
// separators become underscores.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}

func artifactKey(name string) string { return Sanitize(name) + common.ArtifactExt }
func metadataKey(name string) string { return Sanitize(name) + common.MetadataExt }

// Save writes rec under its name, replacing any previous entry.
func (s *ModelStore) Save(rec *ml.ModelRecord) (out Outcome) {
	defer func() { s.observe("save", out.OK) }()

	if rec == nil || strings.TrimSpace(rec.Name) == "" {
		return Outcome{Message: "Error saving model: model name is empty"}
	}
	if rec.Artifact == nil {
		return Outcome{Message: fmt.Sprintf("Error saving model %s: no trained artifact", rec.Name)}
	}

	var artifact bytes.Buffer
	if err := estimator.EncodeArtifact(&artifact, rec.Artifact); err != nil {
		return s.failed("save", rec.Name, err)
	}

	params := rec.Params
	if params == nil {
		params = rec.Artifact.Params
	}
	rawParams, err := estimator.EncodeParams(params)
	if err != nil {
		return s.failed("save", rec.Name, err)
	}

	savedAt := s.now()
	doc := metadataDoc{
		ModelName:   rec.Name,
		ModelFamily: string(rec.Artifact.Family),
		Metrics:     rec.Metrics,
		Params:      rawParams,
		Predictions: predictionsDoc{
			YPred:             nonNil(rec.Predictions.YPred),
			YTest:             nonNil(rec.Predictions.YTest),
			FeatureImportance: rec.FeatureImportance,
		},
		SavedAt: savedAt.Format(common.SavedAtLayout),
	}
	if doc.Predictions.FeatureImportance == nil {
		doc.Predictions.FeatureImportance = map[string]float64{}
	}
	meta, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return s.failed("save", rec.Name, err)
	}

	if err := s.artifacts.Write(artifactKey(rec.Name), artifact.Bytes()); err != nil {
		return s.failed("save", rec.Name, err)
	}
	if err := s.metadata.Write(metadataKey(rec.Name), meta); err != nil {
		return s.failed("save", rec.Name, err)
	}

	rec.SavedAt = savedAt
	log.Info().
		Str("model", rec.Name).
		Str("family", string(rec.Artifact.Family)).
		Int("artifact_bytes", artifact.Len()).
		Msg("Model saved")
	return Outcome{OK: true, Message: fmt.Sprintf("Model %s saved successfully", rec.Name)}
}

// Load reads the model stored under name. It returns (nil, nil) when either
// file of the pair is missing and a *common.PersistenceError when a file
// cannot be decoded. Load never creates files.
func (s *ModelStore) Load(name string) (*ml.ModelRecord, error) {
	aKey, mKey := artifactKey(name), metadataKey(name)
	if !s.artifacts.Has(aKey) || !s.metadata.Has(mKey) {
		return nil, nil
	}

	rec, err := s.load(name, aKey, mKey)
	if err != nil {
		perr := &common.PersistenceError{Op: "load", Name: name, Err: err}
		log.Error().Err(err).Str("model", name).Msg("Failed to load model")
		s.observe("load", false)
		return nil, perr
	}
	s.observe("load", true)
	return rec, nil
}

func (s *ModelStore) load(name, aKey, mKey string) (*ml.ModelRecord, error) {
	doc, err := s.readMetadata(mKey)
	if err != nil {
		return nil, err
	}

	stream, err := s.artifacts.ReadStream(aKey, false)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	defer stream.Close()
	artifact, err := estimator.DecodeArtifact(stream)
	if err != nil {
		return nil, err
	}

	params := artifact.Params
	if len(doc.Params) > 0 {
		if p, err := estimator.DecodeParams(artifact.Family, doc.Params); err == nil {
			params = p
		} else {
			log.Warn().Err(err).Str("model", name).Msg("Stored params unreadable, using artifact params")
		}
	}

	savedAt, err := time.ParseInLocation(common.SavedAtLayout, doc.SavedAt, time.Local)
	if err != nil {
		savedAt = time.Time{}
	}

	recName := doc.ModelName
	if recName == "" {
		recName = name
	}
	var importance map[string]float64
	if len(doc.Predictions.FeatureImportance) > 0 {
		importance = doc.Predictions.FeatureImportance
	}

	return &ml.ModelRecord{
		Name:     recName,
		Family:   artifact.Family,
		Artifact: artifact,
		Metrics:  doc.Metrics,
		Params:   params,
		Predictions: ml.Predictions{
			YPred: nonNil(doc.Predictions.YPred),
			YTest: nonNil(doc.Predictions.YTest),
		},
		FeatureImportance: importance,
		SavedAt:           savedAt,
	}, nil
}

func (s *ModelStore) readMetadata(key string) (*metadataDoc, error) {
	raw, err := s.metadata.Read(key)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &doc, nil
}

// Delete removes both files stored under name. Missing files are not an
// error.
func (s *ModelStore) Delete(name string) (out Outcome) {
	defer func() { s.observe("delete", out.OK) }()

	for _, pair := range []struct {
		d   *diskv.Diskv
		key string
	}{
		{s.artifacts, artifactKey(name)},
		{s.metadata, metadataKey(name)},
	} {
		if !pair.d.Has(pair.key) {
			continue
		}
		if err := pair.d.Erase(pair.key); err != nil {
			return s.failed("delete", name, err)
		}
	}
	log.Info().Str("model", name).Msg("Model deleted")
	return Outcome{OK: true, Message: fmt.Sprintf("Model %s deleted successfully", name)}
}

// List describes every stored model from its metadata alone, sorted by key.
// Unreadable metadata files are logged and skipped.
func (s *ModelStore) List() []Summary {
	keys := s.metadataKeys()
	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		doc, err := s.readMetadata(key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable metadata")
			continue
		}
		name := doc.ModelName
		if name == "" {
			name = strings.TrimSuffix(key, common.MetadataExt)
		}
		out = append(out, Summary{Name: name, SavedAt: doc.SavedAt, Metrics: doc.Metrics})
	}
	return out
}

func (s *ModelStore) metadataKeys() []string {
	cancel := make(chan struct{})
	defer close(cancel)

	var keys []string
	for key := range s.metadata.Keys(cancel) {
		if strings.HasSuffix(key, common.MetadataExt) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadAllInto loads every stored model whose name is not yet in reg. It
// returns how many were loaded and how many are stored.
func (s *ModelStore) LoadAllInto(reg *ml.Registry) (loaded, total int) {
	summaries := s.List()
	for _, sum := range summaries {
		if reg.Has(sum.Name) {
			continue
		}
		rec, err := s.Load(sum.Name)
		if err != nil || rec == nil {
			continue
		}
		reg.Put(rec)
		loaded++
	}
	log.Info().Int("loaded", loaded).Int("total", len(summaries)).Msg("Loaded saved models")
	return loaded, len(summaries)
}

// ClearAll removes every stored model and recreates the empty layout.
func (s *ModelStore) ClearAll() (out Outcome) {
	defer func() { s.observe("clear", out.OK) }()

	if err := os.RemoveAll(s.root); err != nil {
		return s.failed("clear", "*", err)
	}
	for _, dir := range []string{common.ModelsDirName, common.MetadataDirName} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
			return s.failed("clear", "*", err)
		}
	}
	log.Warn().Str("root", s.root).Msg("Model store cleared")
	return Outcome{OK: true, Message: "All saved models cleared"}
}

// StorageInfo sums the size of every file under the root and counts the
// artifacts. On failure it returns zero values and sets Error.
func (s *ModelStore) StorageInfo() Info {
	info := Info{Location: s.root}
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return info
	}

	var size int64
	var count int
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		size += fi.Size()
		if strings.HasSuffix(d.Name(), common.ArtifactExt) {
			count++
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("root", s.root).Msg("Failed to read storage info")
		return Info{Location: s.root, Error: err.Error()}
	}

	info.TotalSizeBytes = size
	info.TotalSizeMB = math.Round(float64(size)/(1024*1024)*100) / 100
	info.ModelCount = count
	return info
}

func (s *ModelStore) failed(op, name string, err error) Outcome {
	perr := &common.PersistenceError{Op: op, Name: name, Err: err}
	log.Error().Err(err).Str("op", op).Str("model", name).Msg("Model store operation failed")
	return Outcome{Message: "Error: " + perr.Error()}
}

func (s *ModelStore) observe(op string, ok bool) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	s.metrics.StoreOperation(op, result)
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

// xzCompression lets diskv store artifacts xz-compressed.
type xzCompression struct{}

func (xzCompression) Writer(dst io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(dst)
}

func (xzCompression) Reader(src io.Reader) (io.ReadCloser, error) {
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}
