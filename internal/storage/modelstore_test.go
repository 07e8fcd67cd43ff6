package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"batchml/internal/common"
	"batchml/internal/estimator"
	"batchml/internal/ml"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	ops []string
}

func (m *recordingMetrics) StoreOperation(op, result string) {
	m.ops = append(m.ops, op+":"+result)
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 30, 0, time.Local)
}

func trainedRecord(t *testing.T, name string, mae float64) *ml.ModelRecord {
	t.Helper()

	X := [][]float64{{1, 2}, {2, 1}, {3, 4}, {4, 3}}
	y := []float64{3, 5, 7, 9}
	params := estimator.NewLinearParams()
	artifact, err := estimator.Train(params, X, y)
	require.NoError(t, err)

	return &ml.ModelRecord{
		Name:     name,
		Family:   estimator.Linear,
		Artifact: artifact,
		Metrics:  ml.Metrics{MAE: mae, MSE: 0.5, RMSE: 0.7071, MAPE: 12.5, R2: 0.91},
		Params:   params,
		Predictions: ml.Predictions{
			YPred: []float64{1.5, 2.25},
			YTest: []float64{1, 2},
		},
		FeatureImportance: map[string]float64{"a_mean": 0.75, "b_std": -0.25},
	}
}

func newTestStore(t *testing.T, opts ...StoreOption) *ModelStore {
	t.Helper()
	opts = append([]StoreOption{WithClock(fixedClock)}, opts...)
	return NewModelStore(filepath.Join(t.TempDir(), "saved_models"), opts...)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Random_Forest_v2", Sanitize("Random Forest v2"))
	assert.Equal(t, "a_b_c", Sanitize(`a/b\c`))
	assert.Equal(t, "tab_here", Sanitize("tab\there"))
	assert.Equal(t, "plain", Sanitize("plain"))
}

func TestModelStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	rec := trainedRecord(t, "Model A", 0.25)

	out := s.Save(rec)
	require.True(t, out.OK, out.Message)
	assert.Contains(t, out.Message, "Model A")

	assert.FileExists(t, filepath.Join(s.Root(), common.ModelsDirName, "Model_A.model"))
	assert.FileExists(t, filepath.Join(s.Root(), common.MetadataDirName, "Model_A.json"))

	got, err := s.Load("Model A")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Model A", got.Name)
	assert.Equal(t, estimator.Linear, got.Family)
	assert.InDelta(t, rec.Metrics.MAE, got.Metrics.MAE, 1e-12)
	assert.InDelta(t, rec.Metrics.R2, got.Metrics.R2, 1e-12)
	assert.InDeltaSlice(t, rec.Predictions.YPred, got.Predictions.YPred, 1e-12)
	assert.InDeltaSlice(t, rec.Predictions.YTest, got.Predictions.YTest, 1e-12)
	assert.Equal(t, rec.FeatureImportance, got.FeatureImportance)
	assert.Equal(t, rec.Params, got.Params)
	assert.True(t, fixedClock().Equal(got.SavedAt))

	// the loaded artifact predicts like the saved one
	X := [][]float64{{5, 6}, {0, 1}}
	want, err := estimator.Predict(rec.Artifact, X, nil)
	require.NoError(t, err)
	have, err := estimator.Predict(got.Artifact, X, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Pred, have.Pred, 1e-12)
}

func TestModelStore_MetadataDocument(t *testing.T) {
	s := newTestStore(t)
	rec := trainedRecord(t, "doc check", 1)
	rec.FeatureImportance = nil
	require.True(t, s.Save(rec).OK)

	raw, err := os.ReadFile(filepath.Join(s.Root(), common.MetadataDirName, "doc_check.json"))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "doc check", doc["model_name"])
	assert.Equal(t, "linear", doc["model_family"])
	assert.Equal(t, "2024-03-09 14:05:30", doc["saved_at"])

	metrics := doc["metrics"].(map[string]any)
	for _, name := range ml.MetricNames {
		assert.Contains(t, metrics, name)
	}
	preds := doc["predictions"].(map[string]any)
	assert.Equal(t, []any{1.5, 2.25}, preds["y_pred"])
	assert.Equal(t, []any{1.0, 2.0}, preds["y_test"])
	assert.Equal(t, map[string]any{}, preds["feature_importance"])
	assert.Equal(t, map[string]any{"fit_intercept": true}, doc["params"])
}

func TestModelStore_Overwrite(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.Save(trainedRecord(t, "Model A", 1)).OK)
	require.True(t, s.Save(trainedRecord(t, "Model A", 2)).OK)

	got, err := s.Load("Model A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2.0, got.Metrics.MAE)
	assert.Len(t, s.List(), 1)
}

func TestModelStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Load("Nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, statErr := os.Stat(s.Root())
	assert.True(t, os.IsNotExist(statErr), "load must not create the store")
}

func TestModelStore_DanglingPairIsAbsent(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.Save(trainedRecord(t, "half", 1)).OK)
	require.NoError(t, os.Remove(filepath.Join(s.Root(), common.MetadataDirName, "half.json")))

	got, err := s.Load("half")
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.True(t, s.Save(trainedRecord(t, "other half", 1)).OK)
	require.NoError(t, os.Remove(filepath.Join(s.Root(), common.ModelsDirName, "other_half.model")))
	got, err = s.Load("other half")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestModelStore_LoadCorrupt(t *testing.T) {
	m := &recordingMetrics{}
	s := newTestStore(t, WithStoreMetrics(m))
	require.True(t, s.Save(trainedRecord(t, "broken", 1)).OK)

	path := filepath.Join(s.Root(), common.ModelsDirName, "broken.model")
	require.NoError(t, os.WriteFile(path, []byte("not an artifact"), 0o644))

	got, err := s.Load("broken")
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, common.IsPersistence(err))
	assert.Equal(t, []string{"save:ok", "load:error"}, m.ops)
}

func TestModelStore_DeleteIdempotent(t *testing.T) {
	s := newTestStore(t)

	out := s.Delete("never saved")
	assert.True(t, out.OK, out.Message)

	require.True(t, s.Save(trainedRecord(t, "gone", 1)).OK)
	assert.True(t, s.Delete("gone").OK)
	assert.True(t, s.Delete("gone").OK)

	got, err := s.Load("gone")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestModelStore_ListCountsSavesMinusDeletes(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.List())

	for _, name := range []string{"a", "b", "c"} {
		require.True(t, s.Save(trainedRecord(t, name, 1)).OK)
	}
	require.True(t, s.Delete("b").OK)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "c", list[1].Name)
	assert.Equal(t, "2024-03-09 14:05:30", list[0].SavedAt)
	assert.Equal(t, 1.0, list[0].Metrics.MAE)
}

func TestModelStore_ListSkipsUnreadableMetadata(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.Save(trainedRecord(t, "good", 1)).OK)
	bad := filepath.Join(s.Root(), common.MetadataDirName, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "good", list[0].Name)
}

func TestModelStore_LoadAllInto(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"first", "second", "third"} {
		require.True(t, s.Save(trainedRecord(t, name, 1)).OK)
	}

	reg := ml.NewRegistry()
	existing := &ml.ModelRecord{Name: "second", Family: estimator.Baseline}
	reg.Put(existing)

	loaded, total := s.LoadAllInto(reg)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 3, total)
	assert.Equal(t, 3, reg.Len())

	rec, _ := reg.Get("second")
	assert.Same(t, existing, rec, "registered models are not replaced")

	loaded, total = s.LoadAllInto(reg)
	assert.Equal(t, 0, loaded)
	assert.Equal(t, 3, total)
}

func TestModelStore_ClearAll(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.Save(trainedRecord(t, "x", 1)).OK)
	require.True(t, s.Save(trainedRecord(t, "y", 1)).OK)

	out := s.ClearAll()
	require.True(t, out.OK, out.Message)

	assert.Empty(t, s.List())
	assert.DirExists(t, filepath.Join(s.Root(), common.ModelsDirName))
	assert.DirExists(t, filepath.Join(s.Root(), common.MetadataDirName))

	// the store stays usable
	require.True(t, s.Save(trainedRecord(t, "z", 1)).OK)
	assert.Len(t, s.List(), 1)
}

func TestModelStore_StorageInfo(t *testing.T) {
	s := newTestStore(t)

	info := s.StorageInfo()
	assert.Equal(t, s.Root(), info.Location)
	assert.Zero(t, info.ModelCount)
	assert.Zero(t, info.TotalSizeBytes)
	assert.Empty(t, info.Error)

	require.True(t, s.Save(trainedRecord(t, "one", 1)).OK)
	require.True(t, s.Save(trainedRecord(t, "two", 1)).OK)

	info = s.StorageInfo()
	assert.Equal(t, 2, info.ModelCount)
	assert.Positive(t, info.TotalSizeBytes)
	assert.GreaterOrEqual(t, info.TotalSizeMB, 0.0)
	assert.Empty(t, info.Error)
}

func TestModelStore_SaveRejectsIncompleteRecords(t *testing.T) {
	m := &recordingMetrics{}
	s := newTestStore(t, WithStoreMetrics(m))

	assert.False(t, s.Save(nil).OK)
	assert.False(t, s.Save(&ml.ModelRecord{Name: "  "}).OK)

	out := s.Save(&ml.ModelRecord{Name: "no artifact"})
	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "no trained artifact")

	assert.Equal(t, []string{"save:error", "save:error", "save:error"}, m.ops)
	assert.Empty(t, s.List())
}

func TestModelStore_SaveFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	// the root is a regular file, so directories cannot be created under it
	s := NewModelStore(blocker)
	out := s.Save(trainedRecord(t, "m", 1))
	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "Error")
}
