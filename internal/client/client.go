package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultWaitTimeout  = 120 * time.Second
	defaultHTTPTimeout  = 10 * time.Second
)

// ErrUnexpectedStatus reports a poll response that was not HTTP 200.
// WaitOutput treats these as transient and keeps polling.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// Client talks to the ragpdf backend: it sends workflow events and
// polls the runs they trigger until a terminal state.
type Client struct {
	baseURL    string
	eventKey   string
	httpClient *http.Client
}

func New(baseURL, eventKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		eventKey:   eventKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// RunStatus is one run as reported by the backend.
type RunStatus struct {
	RunID  string                 `json:"run_id"`
	Status string                 `json:"status"`
	Output map[string]interface{} `json:"output"`
	Error  string                 `json:"error"`
}

// Result is the outcome of waiting for an event's run.
type Result struct {
	Success bool
	Status  string
	Output  map[string]interface{}
	Err     string
}

// Outcome classifies a run status string.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// StatusOutcome maps a backend status to success, failure or pending.
// The accepted strings cover the statuses different engine versions
// have used for finished runs.
func StatusOutcome(status string) Outcome {
	switch status {
	case "Completed", "Succeeded", "Finished":
		return OutcomeSuccess
	case "Failed", "Cancelled":
		return OutcomeFailure
	default:
		return OutcomePending
	}
}

// Send posts an event to the intake endpoint and returns its id.
func (c *Client) Send(ctx context.Context, name string, data interface{}) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"name": name,
		"data": data,
	})
	if err != nil {
		return "", fmt.Errorf("encode event failed: %w", err)
	}

	url := fmt.Sprintf("%s/e/%s", c.baseURL, c.eventKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send event failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("send event failed: status %d", resp.StatusCode)
	}

	var parsed struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode send response failed: %w", err)
	}
	if len(parsed.IDs) == 0 {
		return "", errors.New("event accepted but no id returned")
	}
	return parsed.IDs[0], nil
}

// EventRuns lists the runs the backend created for an event.
func (c *Client) EventRuns(ctx context.Context, eventID string) ([]RunStatus, error) {
	url := fmt.Sprintf("%s/v1/events/%s/runs", c.baseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list runs failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var parsed struct {
		Data []RunStatus `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode runs failed: %w", err)
	}
	return parsed.Data, nil
}

// WaitOptions tunes WaitOutput. Zero values fall back to the defaults
// of 500ms between polls and 120s overall.
type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// OnPoll is invoked after each poll that saw a run, with the run's
	// status and the elapsed/timeout ratio capped at 1.0. The ratio is
	// wall-clock progress, not backend progress.
	OnPoll func(status string, progress float64)
}

// WaitOutput polls the event's first run until it reaches a terminal
// state or the timeout elapses. Request errors abort the wait; non-200
// responses and events with no runs yet are polled through.
func (c *Client) WaitOutput(ctx context.Context, eventID string, opts WaitOptions) Result {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for time.Now().Before(deadline) {
		runs, err := c.EventRuns(ctx, eventID)
		if err != nil && !errors.Is(err, ErrUnexpectedStatus) {
			return Result{Err: err.Error()}
		}

		if len(runs) > 0 {
			run := runs[0]
			if opts.OnPoll != nil {
				progress := time.Since(start).Seconds() / timeout.Seconds()
				if progress > 1 {
					progress = 1
				}
				opts.OnPoll(run.Status, progress)
			}

			switch StatusOutcome(run.Status) {
			case OutcomeSuccess:
				return Result{Success: true, Status: run.Status, Output: run.Output}
			case OutcomeFailure:
				return Result{Status: run.Status, Err: fmt.Sprintf("Run %s", run.Status)}
			}
		}

		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err().Error()}
		case <-time.After(interval):
		}
	}
	return Result{Err: "Timeout"}
}

// CancelRun asks the backend to cancel a queued run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	url := fmt.Sprintf("%s/v1/runs/%s/cancel", c.baseURL, runID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cancel run failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var parsed struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && parsed.Error != "" {
			return fmt.Errorf("cancel run failed: %s", parsed.Error)
		}
		return fmt.Errorf("cancel run failed: status %d", resp.StatusCode)
	}
	return nil
}

// Healthy checks that the backend is up and serving the flow app.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/flow", nil)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Status fetches the backend health report. The report is returned
// even when the backend answers 503 because a dependency is down.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	var report map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode health report failed: %w", err)
	}
	return report, nil
}

// Introspect fetches the registered workflow functions.
func (c *Client) Introspect(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/flow", nil)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("introspect failed: status %d", resp.StatusCode)
	}

	var report map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode introspection failed: %w", err)
	}
	return report, nil
}
