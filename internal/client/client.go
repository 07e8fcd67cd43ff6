// Package client talks to a running workbench service over its HTTP API
// and its WebSocket event stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"batchml/internal/api"
	"batchml/internal/estimator"
	"batchml/internal/ml"
	"batchml/internal/storage"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx answer of the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workbench: %d %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Minute) // training runs block the request
	}
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// BaseURL returns the service address.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.rest.R().SetContext(ctx).SetError(&api.ErrorResponse{})
}

// check turns transport errors and non-2xx answers into errors.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := strings.TrimSpace(resp.String())
	if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Error != "" {
		msg = e.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

// Health checks that the service answers.
func (c *Client) Health(ctx context.Context) error {
	return check(c.request(ctx).Get(c.base + "/health"))
}

// UploadDataset sends a CSV or xlsx file for feature extraction. A zero
// batchSize uses the service default.
func (c *Client) UploadDataset(ctx context.Context, path string, batchSize int) (*storage.DatasetInfo, error) {
	var info storage.DatasetInfo
	req := c.request(ctx).SetFile("file", path).SetResult(&info)
	if batchSize > 0 {
		req.SetFormData(map[string]string{"batch_size": strconv.Itoa(batchSize)})
	}
	if err := check(req.Post(c.base + "/api/datasets")); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Datasets(ctx context.Context) ([]storage.DatasetInfo, error) {
	var out []storage.DatasetInfo
	if err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/datasets")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	return check(c.request(ctx).SetPathParam("id", id).Delete(c.base + "/api/datasets/{id}"))
}

// Train runs one training job. A run that fails inside the service is not an
// error: the response carries the Failure.
func (c *Client) Train(ctx context.Context, req api.TrainRequest) (*api.TrainResponse, error) {
	resp, err := c.rest.R().SetContext(ctx).SetBody(req).Post(c.base + "/api/train")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var out api.TrainResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("failed to decode training result: %w", err)
		}
		return &out, nil
	}

	var e api.ErrorResponse
	msg := strings.TrimSpace(resp.String())
	if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return nil, &APIError{Status: resp.StatusCode(), Message: msg}
}

// Models lists the in-memory registry of the service.
func (c *Client) Models(ctx context.Context) ([]api.ModelSummary, error) {
	var out []api.ModelSummary
	if err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/models")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Model(ctx context.Context, name string) (*api.ModelDetail, error) {
	var out api.ModelDetail
	err := check(c.request(ctx).SetPathParam("name", name).SetResult(&out).Get(c.base + "/api/models/{name}"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearModels empties the registry and returns how many models it held.
func (c *Client) ClearModels(ctx context.Context) (int, error) {
	var out map[string]int
	if err := check(c.request(ctx).SetResult(&out).Delete(c.base + "/api/models")); err != nil {
		return 0, err
	}
	return out["cleared"], nil
}

// Saved lists the models in the service's model store.
func (c *Client) Saved(ctx context.Context) ([]storage.Summary, error) {
	var out []storage.Summary
	if err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/saved")); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadAll(ctx context.Context) (api.LoadAllResponse, error) {
	var out api.LoadAllResponse
	err := check(c.request(ctx).SetResult(&out).Post(c.base + "/api/saved/load-all"))
	return out, err
}

func (c *Client) LoadSaved(ctx context.Context, name string) (*api.ModelSummary, error) {
	var out api.ModelSummary
	err := check(c.request(ctx).SetPathParam("name", name).SetResult(&out).Post(c.base + "/api/saved/{name}/load"))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSaved removes a stored model. Store failures come back as an
// Outcome with OK false.
func (c *Client) DeleteSaved(ctx context.Context, name string) (storage.Outcome, error) {
	return c.outcome(c.rest.R().SetContext(ctx).SetPathParam("name", name).Delete(c.base + "/api/saved/{name}"))
}

// ClearSaved removes every stored model.
func (c *Client) ClearSaved(ctx context.Context) (storage.Outcome, error) {
	return c.outcome(c.rest.R().SetContext(ctx).Delete(c.base + "/api/saved"))
}

func (c *Client) outcome(resp *resty.Response, err error) (storage.Outcome, error) {
	if err != nil {
		return storage.Outcome{}, fmt.Errorf("request failed: %w", err)
	}
	var out storage.Outcome
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return storage.Outcome{}, &APIError{Status: resp.StatusCode(), Message: strings.TrimSpace(resp.String())}
	}
	return out, nil
}

func (c *Client) StorageInfo(ctx context.Context) (storage.Info, error) {
	var out storage.Info
	err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/storage"))
	return out, err
}

func (c *Client) Families(ctx context.Context) ([]api.FamilyInfo, error) {
	var out []api.FamilyInfo
	if err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/families")); err != nil {
		return nil, err
	}
	return out, nil
}

// Compare relates the metrics of registry model a to those of model b.
func (c *Client) Compare(ctx context.Context, a, b string) (ml.Comparison, error) {
	var out ml.Comparison
	err := check(c.request(ctx).
		SetPathParams(map[string]string{"name": a, "other": b}).
		SetResult(&out).
		Get(c.base + "/api/models/{name}/compare/{other}"))
	return out, err
}

// Scalers lists the input scalings a training request may ask for.
func (c *Client) Scalers(ctx context.Context) ([]estimator.ScalerInfo, error) {
	var out []estimator.ScalerInfo
	if err := check(c.request(ctx).SetResult(&out).Get(c.base + "/api/scalers")); err != nil {
		return nil, err
	}
	return out, nil
}

// PredictionsCSV copies the predictions export of a registry model to w.
func (c *Client) PredictionsCSV(ctx context.Context, name string, w io.Writer) error {
	return c.download(c.request(ctx).SetPathParam("name", name), "/api/models/{name}/predictions.csv", w)
}

// ComparisonCSV copies the comparison export of the registry to w.
func (c *Client) ComparisonCSV(ctx context.Context, w io.Writer) error {
	return c.download(c.request(ctx), "/api/comparison.csv", w)
}

func (c *Client) download(req *resty.Request, path string, w io.Writer) error {
	resp, err := req.Get(c.base + path)
	if err := check(resp, err); err != nil {
		return err
	}
	if _, err := w.Write(resp.Body()); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}
