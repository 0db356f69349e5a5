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
	"sync"
	"time"

	"github.com/promptvault/comfyhistory/graphapi"
)

// ErrWaitTimeout reports that a job did not finish within the wait window.
var ErrWaitTimeout = errors.New("timed out waiting for job result")

// PollInterval is the delay between history polls.
const PollInterval = 500 * time.Millisecond

// JobState tracks a submitted job through its lifecycle:
// idle -> submitted -> polling -> completed | timed_out | cancelled | error.
type JobState string

const (
	StateIdle      JobState = "idle"
	StateSubmitted JobState = "submitted"
	StatePolling   JobState = "polling"
	StateCompleted JobState = "completed"
	StateTimedOut  JobState = "timed_out"
	StateCancelled JobState = "cancelled"
	StateError     JobState = "error"
)

// Job is one submitted prompt.
type Job struct {
	PromptID string

	client *Client
	mu     sync.Mutex
	state  JobState
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// DataOutput identifies one file produced by a job.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the output bundle of a single node.
type NodeOutput struct {
	Images []DataOutput `json:"images"`
}

// HistoryResult is one finished job as reported by the history endpoint.
type HistoryResult struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// FirstImage returns the first image of the result, or nil when the job
// produced none.
func (r *HistoryResult) FirstImage() *DataOutput {
	if r == nil {
		return nil
	}
	for _, out := range r.Outputs {
		if len(out.Images) > 0 {
			img := out.Images[0]
			return &img
		}
	}
	return nil
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

type promptErrorMessage struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// request performs one HTTP call against the negotiated endpoint variant,
// falling back to the other variant once when the negotiated one fails.
// A successful fallback flips the cached prefix.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, int, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
	}

	data, status, err := c.doOnce(ctx, method, c.endpoint(ctx, path), query, body)
	if err == nil && status != http.StatusNotFound {
		return data, status, nil
	}

	altData, altStatus, altErr := c.doOnce(ctx, method, c.altEndpoint(ctx, path), query, body)
	if altErr == nil && altStatus != http.StatusNotFound {
		c.flipPrefix()
		return altData, altStatus, nil
	}
	if err == nil {
		return data, status, nil
	}
	return nil, 0, fmt.Errorf("%s %s failed on both endpoint variants: %w", method, path, err)
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, query url.Values, body []byte) ([]byte, int, error) {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

func (c *Client) flipPrefix() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefix == apiPrefix {
		c.prefix = ""
	} else {
		c.prefix = apiPrefix
	}
	c.negotiated = true
}

// Submit queues a prompt mapping for execution and returns the tracked job.
func (c *Client) Submit(ctx context.Context, prompt graphapi.Prompt) (*Job, error) {
	payload := graphapi.QueueRequest{ClientID: c.clientID, Prompt: prompt}
	data, status, err := c.request(ctx, http.MethodPost, "/prompt", nil, payload)
	if err != nil {
		return nil, err
	}

	var queued queueResponse
	if jerr := json.Unmarshal(data, &queued); jerr == nil && queued.PromptID != "" && status < 300 {
		c.logger.Debug("queued prompt", "prompt_id", queued.PromptID)
		return &Job{PromptID: queued.PromptID, client: c, state: StateSubmitted}, nil
	}

	var perr promptErrorMessage
	if jerr := json.Unmarshal(data, &perr); jerr == nil && perr.Error.Message != "" {
		return nil, fmt.Errorf("server rejected prompt: %s", perr.Error.Message)
	}
	return nil, fmt.Errorf("server rejected prompt (status %d): %s", status, string(data))
}

// History fetches the result for a prompt id, returning nil when the job has
// not finished yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryResult, error) {
	data, status, err := c.request(ctx, http.MethodGet, "/history/"+promptID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 300 {
		return nil, fmt.Errorf("history request failed with status %d", status)
	}

	results := make(map[string]*HistoryResult)
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", err)
	}
	return results[promptID], nil
}

// Wait polls the history endpoint until the job's result appears or the
// timeout elapses. Timeout expiry returns ErrWaitTimeout; context
// cancellation marks the job cancelled and returns the context error.
func (j *Job) Wait(ctx context.Context, timeout time.Duration) (*HistoryResult, error) {
	j.setState(StatePolling)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		result, err := j.client.History(ctx, j.PromptID)
		if err != nil {
			if ctx.Err() != nil {
				j.setState(StateCancelled)
				return nil, ctx.Err()
			}
			j.client.logger.Debug("history poll failed", "prompt_id", j.PromptID, "error", err)
		} else if result != nil {
			j.setState(StateCompleted)
			return result, nil
		}

		select {
		case <-ctx.Done():
			j.setState(StateCancelled)
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}

	j.setState(StateTimedOut)
	return nil, fmt.Errorf("prompt %s: %w", j.PromptID, ErrWaitTimeout)
}

// View downloads one rendered image.
func (c *Client) View(ctx context.Context, img DataOutput) ([]byte, error) {
	query := url.Values{}
	query.Add("filename", img.Filename)
	query.Add("subfolder", img.Subfolder)
	imgType := img.Type
	if imgType == "" {
		imgType = "output"
	}
	query.Add("type", imgType)

	data, status, err := c.request(ctx, http.MethodGet, "/view", query, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("image download failed with status %d", status)
	}
	return data, nil
}

// cancelPaths are the known interrupt/cancel endpoints, tried in order.
// Older servers only answer some of them.
var cancelPaths = []string{
	"/api/interrupt",
	"/interrupt",
	"/api/cancel",
	"/prompt_cancel",
	"/api/queue/cancel",
	"/queue/cancel",
}

// Cancel fires a best-effort cancellation for an in-flight job. It does not
// confirm the server-side abort; the first endpoint that accepts the request
// wins.
func (j *Job) Cancel(ctx context.Context) error {
	err := j.client.CancelPrompt(ctx, j.PromptID)
	if err == nil {
		j.mu.Lock()
		// A job that already reached a terminal state keeps it.
		if j.state == StateSubmitted || j.state == StatePolling {
			j.state = StateCancelled
		}
		j.mu.Unlock()
	}
	return err
}

// CancelPrompt sends the interrupt/cancel request for a prompt id.
func (c *Client) CancelPrompt(ctx context.Context, promptID string) error {
	payload, err := json.Marshal(map[string]string{"prompt_id": promptID})
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range cancelPaths {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, status, err := c.doOnce(reqCtx, http.MethodPost, c.baseURL+path, nil, payload)
		cancel()
		if err == nil && status < 300 {
			c.logger.Debug("cancel accepted", "prompt_id", promptID, "path", path)
			return nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		} else {
			errs = append(errs, fmt.Errorf("%s: status %d", path, status))
		}
	}
	return fmt.Errorf("failed to cancel prompt %s: %w", promptID, errors.Join(errs...))
}
