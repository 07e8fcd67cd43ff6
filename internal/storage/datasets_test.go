package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"batchml/internal/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDatasetStore(t *testing.T) *DatasetStore {
	t.Helper()
	s, err := NewDatasetStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTable() *features.Table {
	return &features.Table{
		X:     [][]float64{{1, 2}, {3, 4}},
		Y:     []float64{10, 20},
		Names: []string{"a_mean", "a_std"},
	}
}

func TestNewDatasetStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDatasetStore(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, datasetsFile))
	assert.NoError(t, err, "database file was not created")
}

func TestNewDatasetStore_InvalidPath(t *testing.T) {
	_, err := NewDatasetStore(filepath.Join(t.TempDir(), "missing", "dir"))
	assert.Error(t, err)
}

func TestDatasetStore_CloseTwice(t *testing.T) {
	s, err := NewDatasetStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestDatasetStore_PutGet(t *testing.T) {
	s := openDatasetStore(t)
	info := DatasetInfo{
		ID:        "ds-1",
		Name:      "prices.xlsx",
		RawRows:   100,
		Columns:   []string{"a"},
		Excluded:  []string{"Date"},
		BatchSize: 48,
		Batches:   2,
		Width:     2,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	info.DroppedRows = info.RawRows - info.Batches*info.BatchSize

	require.NoError(t, s.Put(info, sampleTable()))

	gotInfo, gotTable, err := s.Get("ds-1")
	require.NoError(t, err)
	assert.Equal(t, info, *gotInfo)
	assert.Equal(t, sampleTable(), gotTable)
	assert.Equal(t, 4, gotInfo.DroppedRows)
}

func TestDatasetStore_GetMissing(t *testing.T) {
	s := openDatasetStore(t)
	_, _, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestDatasetStore_PutValidation(t *testing.T) {
	s := openDatasetStore(t)
	assert.Error(t, s.Put(DatasetInfo{}, sampleTable()))
	assert.Error(t, s.Put(DatasetInfo{ID: "x"}, nil))
}

func TestDatasetStore_ListNewestFirst(t *testing.T) {
	s := openDatasetStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new", "mid"} {
		offset := map[string]time.Duration{"old": 0, "mid": time.Hour, "new": 2 * time.Hour}[id]
		require.NoError(t, s.Put(DatasetInfo{ID: id, Batches: i, CreatedAt: base.Add(offset)}, sampleTable()))
	}

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "old", list[2].ID)
}

func TestDatasetStore_Delete(t *testing.T) {
	s := openDatasetStore(t)
	require.NoError(t, s.Put(DatasetInfo{ID: "d"}, sampleTable()))

	existed, err := s.Delete("d")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete("d")
	require.NoError(t, err)
	assert.False(t, existed)

	_, _, err = s.Get("d")
	assert.ErrorIs(t, err, ErrDatasetNotFound)
}

func TestDatasetStore_Prune(t *testing.T) {
	s := openDatasetStore(t)
	now := time.Now()
	require.NoError(t, s.Put(DatasetInfo{ID: "stale", CreatedAt: now.Add(-48 * time.Hour)}, sampleTable()))
	require.NoError(t, s.Put(DatasetInfo{ID: "fresh", CreatedAt: now}, sampleTable()))

	removed, err := s.Prune(now.Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fresh", list[0].ID)
}
