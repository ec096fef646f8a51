package management

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/nutanix/nai-llm/pkg/logging"
)

const (
	// DefaultInferenceAddress is the serving runtime's inference endpoint.
	DefaultInferenceAddress = "http://localhost:8080"
	// DefaultManagementAddress is the serving runtime's management endpoint.
	DefaultManagementAddress = "http://localhost:8081"
	// DefaultMetricsAddress is the serving runtime's metrics endpoint.
	DefaultMetricsAddress = "http://localhost:8082"
)

// Client issues management, inference, and metrics calls against a live
// serving runtime. Every non-2xx response is terminal for that invocation;
// the client performs no retries.
type Client struct {
	log        logging.Logger
	httpClient *http.Client
	inference  string
	management string
	metrics    string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithInferenceAddress overrides the inference base URL.
func WithInferenceAddress(addr string) Option {
	return func(c *Client) {
		if addr != "" {
			c.inference = strings.TrimRight(addr, "/")
		}
	}
}

// WithManagementAddress overrides the management base URL.
func WithManagementAddress(addr string) Option {
	return func(c *Client) {
		if addr != "" {
			c.management = strings.TrimRight(addr, "/")
		}
	}
}

// WithMetricsAddress overrides the metrics base URL.
func WithMetricsAddress(addr string) Option {
	return func(c *Client) {
		if addr != "" {
			c.metrics = strings.TrimRight(addr, "/")
		}
	}
}

// NewClient creates a management client for the runtime's default ports.
func NewClient(log logging.Logger, opts ...Option) *Client {
	client := &Client{
		log:        log,
		httpClient: http.DefaultClient,
		inference:  DefaultInferenceAddress,
		management: DefaultManagementAddress,
		metrics:    DefaultMetricsAddress,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Worker is the per-worker state reported by the runtime.
type Worker struct {
	ID          string `json:"id"`
	StartTime   string `json:"startTime"`
	Status      string `json:"status"`
	MemoryUsage int64  `json:"memoryUsage"`
	PID         int    `json:"pid"`
	GPU         bool   `json:"gpu"`
}

// ModelStatus is the runtime's description of one registered model version.
type ModelStatus struct {
	ModelName     string   `json:"modelName"`
	ModelVersion  string   `json:"modelVersion"`
	ModelURL      string   `json:"modelUrl"`
	Runtime       string   `json:"runtime"`
	MinWorkers    int      `json:"minWorkers"`
	MaxWorkers    int      `json:"maxWorkers"`
	BatchSize     int      `json:"batchSize"`
	MaxBatchDelay int      `json:"maxBatchDelay"`
	Workers       []Worker `json:"workers"`
}

// Describe queries the runtime for a model's registration metadata. version
// may be empty to describe the default version.
func (c *Client) Describe(ctx context.Context, name, version string) ([]ModelStatus, error) {
	route := c.management + "/models/" + url.PathEscape(name)
	if version != "" {
		route += "/" + url.PathEscape(version)
	}
	body, err := c.do(ctx, http.MethodGet, route, "", nil)
	if err != nil {
		return nil, fmt.Errorf("describe model %q: %w", name, err)
	}
	var statuses []ModelStatus
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, fmt.Errorf("describe model %q: decode response: %w", name, err)
	}
	return statuses, nil
}

// RegisterOptions configure model registration.
type RegisterOptions struct {
	// URL is the archive location: a file name within the model store or a
	// fetchable URL.
	URL string
	// InitialWorkers is the worker count to start with.
	InitialWorkers int
	// Synchronous makes the call block until the workers are up.
	Synchronous bool
	// BatchSize and MaxBatchDelay configure request batching.
	BatchSize     int
	MaxBatchDelay int
	// ResponseTimeout is the per-request timeout in seconds.
	ResponseTimeout int
}

// Register registers an archive with the runtime.
func (c *Client) Register(ctx context.Context, opts RegisterOptions) error {
	query := url.Values{}
	query.Set("url", opts.URL)
	if opts.InitialWorkers > 0 {
		query.Set("initial_workers", strconv.Itoa(opts.InitialWorkers))
	}
	if opts.Synchronous {
		query.Set("synchronous", "true")
	}
	if opts.BatchSize > 0 {
		query.Set("batch_size", strconv.Itoa(opts.BatchSize))
	}
	if opts.MaxBatchDelay > 0 {
		query.Set("max_batch_delay", strconv.Itoa(opts.MaxBatchDelay))
	}
	if opts.ResponseTimeout > 0 {
		query.Set("response_timeout", strconv.Itoa(opts.ResponseTimeout))
	}
	route := c.management + "/models?" + query.Encode()
	if _, err := c.do(ctx, http.MethodPost, route, "", nil); err != nil {
		return fmt.Errorf("register %q: %w", opts.URL, err)
	}
	return nil
}

// ScaleOptions reconfigure a registered model. Nil fields are omitted from
// the request entirely, leaving the existing configuration untouched; an
// all-nil ScaleOptions is a no-op on the server.
type ScaleOptions struct {
	MinWorkers    *int
	MaxWorkers    *int
	BatchSize     *int
	MaxBatchDelay *int
	Synchronous   bool
}

// Scale adjusts worker and batching configuration for a model. version may
// be empty to target the default version.
func (c *Client) Scale(ctx context.Context, name, version string, opts ScaleOptions) error {
	query := url.Values{}
	setIfPresent := func(key string, value *int) {
		if value != nil {
			query.Set(key, strconv.Itoa(*value))
		}
	}
	setIfPresent("min_worker", opts.MinWorkers)
	setIfPresent("max_worker", opts.MaxWorkers)
	setIfPresent("batch_size", opts.BatchSize)
	setIfPresent("max_batch_delay", opts.MaxBatchDelay)
	if opts.Synchronous {
		query.Set("synchronous", "true")
	}

	route := c.management + "/models/" + url.PathEscape(name)
	if version != "" {
		route += "/" + url.PathEscape(version)
	}
	if encoded := query.Encode(); encoded != "" {
		route += "?" + encoded
	}
	if _, err := c.do(ctx, http.MethodPut, route, "", nil); err != nil {
		return fmt.Errorf("scale model %q: %w", name, err)
	}
	return nil
}

// Unregister removes a model version from the runtime. version may be empty
// to remove the default version.
func (c *Client) Unregister(ctx context.Context, name, version string) error {
	route := c.management + "/models/" + url.PathEscape(name)
	if version != "" {
		route += "/" + url.PathEscape(version)
	}
	if _, err := c.do(ctx, http.MethodDelete, route, "", nil); err != nil {
		return fmt.Errorf("unregister model %q: %w", name, err)
	}
	return nil
}

// RegisteredModel is one entry of the runtime's model listing.
type RegisteredModel struct {
	ModelName string `json:"modelName"`
	ModelURL  string `json:"modelUrl"`
}

// List returns all models registered with the runtime.
func (c *Client) List(ctx context.Context) ([]RegisteredModel, error) {
	body, err := c.do(ctx, http.MethodGet, c.management+"/models", "", nil)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var listing struct {
		Models []RegisteredModel `json:"models"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("list models: decode response: %w", err)
	}
	return listing.Models, nil
}

// SetDefault marks a registered version as the model's default. The current
// default is left unchanged on failure.
func (c *Client) SetDefault(ctx context.Context, name, version string) error {
	route := c.management + "/models/" + url.PathEscape(name) + "/" + url.PathEscape(version) + "/set-default"
	if _, err := c.do(ctx, http.MethodPut, route, "", nil); err != nil {
		return fmt.Errorf("set default version %q for model %q: %w", version, name, err)
	}
	return nil
}

// Predict runs inference on the named model with a raw payload.
func (c *Client) Predict(ctx context.Context, name, contentType string, payload io.Reader) ([]byte, error) {
	route := c.inference + "/predictions/" + url.PathEscape(name)
	body, err := c.do(ctx, http.MethodPost, route, contentType, payload)
	if err != nil {
		return nil, fmt.Errorf("predict with model %q: %w", name, err)
	}
	return body, nil
}

// Ping checks the runtime's inference endpoint liveness.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, c.inference+"/ping", "", nil); err != nil {
		return fmt.Errorf("ping runtime: %w", err)
	}
	return nil
}

// Ready reports whether every worker of the model's default version is READY.
func (c *Client) Ready(ctx context.Context, name string) (bool, error) {
	statuses, err := c.Describe(ctx, name, "")
	if err != nil {
		return false, err
	}
	if len(statuses) == 0 {
		return false, nil
	}
	for _, status := range statuses {
		if len(status.Workers) == 0 {
			return false, nil
		}
		for _, worker := range status.Workers {
			if worker.Status != "READY" {
				return false, nil
			}
		}
	}
	return true, nil
}

// Metrics fetches and decodes the runtime's Prometheus metrics.
func (c *Client) Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.metrics+"/metrics", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metrics: %w", &CallError{StatusCode: resp.StatusCode})
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return families, nil
}

// do issues a request and returns the response body, mapping error statuses
// to the package's error taxonomy.
func (c *Client) do(ctx context.Context, method, route, contentType string, payload io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, route, payload)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrModelNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrConflict
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &CallError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
