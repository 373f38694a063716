// Package client provides typed bindings for invoking a remote registry:
// triggering ingest jobs and catalog rebuilds without direct access to the
// catalog database or buckets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FailureKind classifies where an invocation went wrong.
type FailureKind string

const (
	// FailureTransport means the request never produced a well-formed
	// invocation response (connection errors, non-200 statuses).
	FailureTransport FailureKind = "transport"
	// FailureHandler means the remote handler itself failed outside the
	// registry's error contract.
	FailureHandler FailureKind = "handler"
	// FailureApplication means the invocation completed but the operation
	// reported failure in its response payload.
	FailureApplication FailureKind = "application"
)

// InvocationError is returned for any failed invocation. Kind tells the
// caller whether to blame the network, the handler, or the operation.
type InvocationError struct {
	Kind       FailureKind
	Operation  string
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *InvocationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s failure", e.Operation, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.ErrorType != "" {
		fmt.Fprintf(&b, " [%s]", e.ErrorType)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// IngestUpdate reports the outcome for a single dataset within a job.
type IngestUpdate struct {
	Dataset          string `json:"dataset"`
	NumFilesUpdated  int    `json:"num_files_updated"`
	FilesContributed int    `json:"files_contributed"`
	Error            string `json:"error,omitempty"`
}

// IngestResponse is the parsed result of a successful ingest invocation.
type IngestResponse struct {
	Success            bool           `json:"success"`
	Error              string         `json:"error,omitempty"`
	NumDatasetsUpdated int            `json:"num_datasets_updated"`
	Updates            []IngestUpdate `json:"updates"`
}

// CatalogerUpdate reports one regenerated endpoint catalog.
type CatalogerUpdate struct {
	Endpoint           string `json:"endpoint"`
	NumDatasetsUpdated int    `json:"num_datasets_updated"`
}

// CatalogerResponse is the parsed result of a catalog rebuild invocation.
type CatalogerResponse struct {
	Success             bool              `json:"success"`
	Error               string            `json:"error,omitempty"`
	NumEndpointsUpdated int               `json:"num_endpoints_updated"`
	Updates             []CatalogerUpdate `json:"updates"`
}

type Client struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		logger:  zap.NewNop(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest asks the remote registry to run the ingester against jobFolder,
// a sub folder of the registry's upload bucket.
func (c *Client) Ingest(ctx context.Context, jobFolder string) (*IngestResponse, error) {
	body, err := c.invoke(ctx, "ingest", "/api/v1/ingest", map[string]string{
		"job_folder": jobFolder,
	})
	if err != nil {
		return nil, err
	}

	var resp IngestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &InvocationError{
			Kind:      FailureHandler,
			Operation: "ingest",
			Message:   fmt.Sprintf("unexpected response payload: %v", err),
		}
	}
	if !resp.Success {
		return &resp, &InvocationError{
			Kind:      FailureApplication,
			Operation: "ingest",
			Message:   resp.Error,
		}
	}
	return &resp, nil
}

// RebuildCatalog asks the remote registry to regenerate catalog files for
// every endpoint in the catalog database.
func (c *Client) RebuildCatalog(ctx context.Context) (*CatalogerResponse, error) {
	body, err := c.invoke(ctx, "catalog rebuild", "/api/v1/catalog/rebuild", struct{}{})
	if err != nil {
		return nil, err
	}

	var resp CatalogerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &InvocationError{
			Kind:      FailureHandler,
			Operation: "catalog rebuild",
			Message:   fmt.Sprintf("unexpected response payload: %v", err),
		}
	}
	if !resp.Success {
		return &resp, &InvocationError{
			Kind:      FailureApplication,
			Operation: "catalog rebuild",
			Message:   resp.Error,
		}
	}
	return &resp, nil
}

func (c *Client) invoke(ctx context.Context, op, path string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("invoking registry", zap.String("operation", op), zap.String("path", path))

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &InvocationError{
			Kind:      FailureTransport,
			Operation: op,
			Message:   err.Error(),
		}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &InvocationError{
			Kind:       FailureTransport,
			Operation:  op,
			StatusCode: res.StatusCode,
			Message:    err.Error(),
		}
	}

	if res.StatusCode != http.StatusOK {
		return nil, &InvocationError{
			Kind:       FailureTransport,
			Operation:  op,
			StatusCode: res.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	// Handler failures come back as a 200 with an errorType payload.
	var herr struct {
		ErrorType    string `json:"errorType"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &herr); err == nil && herr.ErrorType != "" {
		return nil, &InvocationError{
			Kind:      FailureHandler,
			Operation: op,
			ErrorType: herr.ErrorType,
			Message:   herr.ErrorMessage,
		}
	}

	return body, nil
}
