package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/TimurManjosov/flagkit/internal/engine"
	"github.com/TimurManjosov/flagkit/internal/snapshot"
)

// ErrNotModified is returned by FetchFeatures when the server's payload
// still matches the given ETag.
var ErrNotModified = errors.New("features not modified")

// Client is an HTTP client for the flagkit remote evaluation API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// EvalRequest carries the user context for a remote evaluation.
type EvalRequest struct {
	Attributes       engine.Attributes  `json:"attributes,omitempty"`
	ForcedVariations map[string]int     `json:"forcedVariations,omitempty"`
	Keys             []string           `json:"keys,omitempty"`
	Experiment       *engine.Experiment `json:"experiment,omitempty"`
}

// EvalAllResponse is the body of POST /v1/features/eval.
type EvalAllResponse struct {
	Features    map[string]*engine.FeatureResult `json:"features"`
	ETag        string                           `json:"etag"`
	EvaluatedAt string                           `json:"evaluatedAt"`
}

// FetchFeatures downloads the served payload. With a non-empty etag the
// request is conditional and ErrNotModified reports an unchanged payload.
func (c *Client) FetchFeatures(ctx context.Context, etag string) (*snapshot.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/features", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return snapshot.Parse(raw)
}

// EvalFeature evaluates one feature remotely.
func (c *Client) EvalFeature(ctx context.Context, key string, in EvalRequest) (*engine.FeatureResult, error) {
	var out engine.FeatureResult
	if err := c.post(ctx, "/v1/features/"+url.PathEscape(key)+"/eval", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvalAll evaluates in.Keys, or every feature when Keys is empty.
func (c *Client) EvalAll(ctx context.Context, in EvalRequest) (*EvalAllResponse, error) {
	var out EvalAllResponse
	if err := c.post(ctx, "/v1/features/eval", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run runs in.Experiment remotely.
func (c *Client) Run(ctx context.Context, in EvalRequest) (*engine.ExperimentResult, error) {
	if in.Experiment == nil {
		return nil, errors.New("experiment is required")
	}
	var out engine.ExperimentResult
	if err := c.post(ctx, "/v1/experiments/run", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
