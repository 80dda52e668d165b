// Package jobctl provides an HTTP client for the print host's job API.
package jobctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jamesprial/upswatch/internal/config"
	"github.com/jamesprial/upswatch/internal/pause"
)

const (
	defaultTimeout = 10 * time.Second
	jobPath        = "/api/job"
	apiKeyHeader   = "X-Api-Key"
)

// Job states reported by the job API.
const (
	StatePrinting            = "Printing"
	StatePrintingFromSD      = "Printing from SD"
	StateStarting            = "Starting"
	StateStartingPrintFromSD = "Starting print from SD"
	StateResuming            = "Resuming"
	StatePaused              = "Paused"
	StatePausing             = "Pausing"
)

// HTTPClient talks to the job API over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	jobURL     string
	apiKey     string
}

var _ pause.JobController = (*HTTPClient)(nil)

// NewHTTPClient constructs an HTTPClient from cfg. It returns an error if
// cfg.URL is empty. A zero or negative timeout falls back to 10 seconds.
func NewHTTPClient(cfg config.JobConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jobctl: URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		jobURL:     strings.TrimRight(cfg.URL, "/") + jobPath,
		apiKey:     cfg.APIKey,
	}, nil
}

type jobResponse struct {
	State string `json:"state"`
}

type commandRequest struct {
	Command string   `json:"command"`
	Action  string   `json:"action"`
	Tags    []string `json:"tags,omitempty"`
}

// ParseState maps a job state string onto JobStatus.
func ParseState(state string) pause.JobStatus {
	st := pause.JobStatus{State: state}
	switch state {
	case StatePrinting, StatePrintingFromSD, StateStarting, StateStartingPrintFromSD, StateResuming:
		st.Printing = true
	case StatePaused:
		st.Paused = true
	case StatePausing:
		st.Pausing = true
	}
	return st
}

// Status fetches the current job state.
func (c *HTTPClient) Status(ctx context.Context) (pause.JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jobURL, nil)
	if err != nil {
		return pause.JobStatus{}, fmt.Errorf("jobctl: create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return pause.JobStatus{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var body jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return pause.JobStatus{}, fmt.Errorf("jobctl: decode response: %w", err)
	}
	return ParseState(body.State), nil
}

// PauseJob asks the job API to pause the running job, attaching tags.
func (c *HTTPClient) PauseJob(ctx context.Context, tags []string) error {
	bodyBytes, err := json.Marshal(commandRequest{Command: "pause", Action: "pause", Tags: tags})
	if err != nil {
		return fmt.Errorf("jobctl: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.jobURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("jobctl: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobctl: request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("jobctl: authentication failed (HTTP %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusConflict:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("jobctl: no job in a pausable state (HTTP 409)")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("jobctl: unexpected HTTP status %d", resp.StatusCode)
	}
	return resp, nil
}
