package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"batchml/internal/api"
	"batchml/internal/dataset"
	"batchml/internal/ml"
	"batchml/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	client *Client
	server *api.Server
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	dir := t.TempDir()

	datasets, err := storage.NewDatasetStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { datasets.Close() })

	srv, err := api.NewServer(api.Config{
		BatchSize:      5,
		Dataset:        dataset.DefaultOptions(),
		TestFraction:   0.25,
		Seed:           3,
		WindowSize:     3,
		CacheSize:      4,
		MaxUploadBytes: 1 << 20,
	}, api.Deps{
		Datasets: datasets,
		Models:   storage.NewModelStore(filepath.Join(dir, "models")),
		Registry: ml.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(srv.Hub().Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testService{client: New(ts.URL, 30*time.Second), server: srv}
}

func writeSample(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,a,b,TARGET\n")
	for i := 0; i < rows; i++ {
		bv := math.Sin(float64(i) / 4)
		fmt.Fprintf(&b, "2024-02-01,%d,%.6f,%.6f\n", i, bv, float64(i)*0.3+bv)
	}
	path := filepath.Join(t.TempDir(), "sample.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func (s *testService) dataset(t *testing.T) *storage.DatasetInfo {
	t.Helper()
	info, err := s.client.UploadDataset(context.Background(), writeSample(t, 100), 0)
	require.NoError(t, err)
	return info
}

func TestClient_Health(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.client.Health(context.Background()))

	down := New("http://127.0.0.1:1", time.Second)
	assert.Error(t, down.Health(context.Background()))
}

func TestClient_Datasets(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	info, err := svc.client.UploadDataset(ctx, writeSample(t, 100), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, info.BatchSize)
	assert.Equal(t, 10, info.Batches)
	assert.Equal(t, []string{"Date"}, info.Excluded)

	list, err := svc.client.Datasets(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.client.DeleteDataset(ctx, info.ID))
	err = svc.client.DeleteDataset(ctx, info.ID)
	assert.True(t, IsNotFound(err), "%v", err)

	_, err = svc.client.UploadDataset(ctx, filepath.Join(t.TempDir(), "missing.csv"), 0)
	assert.Error(t, err)
}

func TestClient_Train(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	info := svc.dataset(t)

	resp, err := svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "tree", SaveName: "tree"})
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "tree", resp.Success.Name)
	assert.True(t, resp.Success.Saved)

	resp, err = svc.client.Train(ctx, api.TrainRequest{
		DatasetID: info.ID,
		Family:    "gbm",
		Params:    json.RawMessage(`{"learning_rate": 0}`),
	})
	require.NoError(t, err)
	require.False(t, resp.OK())
	assert.Contains(t, resp.Failure.Message, "learning_rate")

	_, err = svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "perceptron"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Contains(t, apiErr.Message, "perceptron")
}

func TestClient_ModelsAndExports(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	info := svc.dataset(t)

	_, err := svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "linear", SaveName: "lin reg"})
	require.NoError(t, err)

	models, err := svc.client.Models(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "lin reg", models[0].Name)

	detail, err := svc.client.Model(ctx, "lin reg")
	require.NoError(t, err)
	assert.Len(t, detail.Predictions.YTest, 5)

	_, err = svc.client.Model(ctx, "ghost")
	assert.True(t, IsNotFound(err))

	var buf bytes.Buffer
	require.NoError(t, svc.client.PredictionsCSV(ctx, "lin reg", &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "Index,Actual,Predicted,Error,Absolute Error"))

	buf.Reset()
	require.NoError(t, svc.client.ComparisonCSV(ctx, &buf))
	assert.Contains(t, buf.String(), "lin reg,")

	_, err = svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "dummy", SaveName: "dummy"})
	require.NoError(t, err)
	cmp, err := svc.client.Compare(ctx, "lin reg", "dummy")
	require.NoError(t, err)
	assert.Equal(t, "lin reg", cmp.A)
	assert.Equal(t, "dummy", cmp.B)

	_, err = svc.client.Compare(ctx, "lin reg", "ghost")
	assert.True(t, IsNotFound(err))

	n, err := svc.client.ClearModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestClient_SavedModels(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	info := svc.dataset(t)

	for _, name := range []string{"a", "b"} {
		_, err := svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "dummy", SaveName: name})
		require.NoError(t, err)
	}
	_, err := svc.client.ClearModels(ctx)
	require.NoError(t, err)

	saved, err := svc.client.Saved(ctx)
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	summary, err := svc.client.LoadSaved(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", summary.Name)

	loaded, err := svc.client.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.LoadAllResponse{Loaded: 1, Total: 2}, loaded)

	out, err := svc.client.DeleteSaved(ctx, "a")
	require.NoError(t, err)
	assert.True(t, out.OK)

	si, err := svc.client.StorageInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, si.ModelCount)

	out, err = svc.client.ClearSaved(ctx)
	require.NoError(t, err)
	assert.True(t, out.OK)

	saved, err = svc.client.Saved(ctx)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestClient_Families(t *testing.T) {
	svc := newTestService(t)

	families, err := svc.client.Families(context.Background())
	require.NoError(t, err)
	require.Len(t, families, 8)
	assert.Equal(t, "Recurrent Network", families[7].Name)

	scalers, err := svc.client.Scalers(context.Background())
	require.NoError(t, err)
	require.Len(t, scalers, 4)
	assert.Equal(t, "minmax", string(scalers[2].Kind))
}

func TestClient_Events(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info := svc.dataset(t)

	stream, err := svc.client.Events(ctx)
	require.NoError(t, err)
	defer stream.Close()
	require.Eventually(t, func() bool { return svc.server.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	events := make(chan api.Event, 64)
	streamErr := make(chan error, 1)
	go func() { streamErr <- stream.Stream(ctx, "run-42", events) }()

	// Another run on the same stream is filtered out
	_, err = svc.client.Train(ctx, api.TrainRequest{DatasetID: info.ID, Family: "dummy", RunID: "other"})
	require.NoError(t, err)

	_, err = svc.client.Train(ctx, api.TrainRequest{
		DatasetID: info.ID,
		Family:    "xgboost",
		Params:    json.RawMessage(`{"n_estimators": 4}`),
		RunID:     "run-42",
	})
	require.NoError(t, err)

	require.NoError(t, <-streamErr)
	close(events)

	var types []string
	for ev := range events {
		assert.Equal(t, "run-42", ev.RunID)
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, api.EventStarted, types[0])
	assert.Contains(t, types, api.EventProgress)
	assert.Equal(t, api.EventFinished, types[len(types)-1])
}

func TestEventStream_StopsOnContext(t *testing.T) {
	svc := newTestService(t)

	stream, err := svc.client.Events(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = stream.Stream(ctx, "", make(chan api.Event))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventsURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8501":  "ws://localhost:8501/ws/events",
		"https://ml.example.com": "wss://ml.example.com/ws/events",
		"localhost:8501":         "ws://localhost:8501/ws/events",
	}
	for base, want := range tests {
		assert.Equal(t, want, eventsURL(base), base)
	}
}
