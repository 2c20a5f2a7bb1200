package searchbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// WorkerClient wraps the worker's HTTP endpoints for the three exposed
// tools, auto-spawning the worker binary when its health check fails.
type WorkerClient struct {
	BaseURL    string
	HTTPClient *http.Client
	WorkerBin  string
	WorkerArgs []string
}

// NewWorkerClient builds a client with a 10-second per-request timeout.
func NewWorkerClient(baseURL, workerBin string, workerArgs []string) *WorkerClient {
	return &WorkerClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		WorkerBin:  workerBin,
		WorkerArgs: workerArgs,
	}
}

func (c *WorkerClient) healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ensureWorker probes GET /health; if the worker is down it spawns the
// worker binary and polls health for up to ~35s, per spec.md §4.7.
func (c *WorkerClient) ensureWorker(ctx context.Context) error {
	if c.healthy(ctx) {
		return nil
	}
	if c.WorkerBin == "" {
		return fmt.Errorf("worker unreachable and no worker binary configured to spawn")
	}

	log.Info().Str("binary", c.WorkerBin).Msg("worker unreachable; attempting to spawn")
	cmd := exec.Command(c.WorkerBin, c.WorkerArgs...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn worker: %w", err)
	}

	deadline := time.Now().Add(35 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		if c.healthy(ctx) {
			return nil
		}
	}
	return fmt.Errorf("worker did not become healthy within 35s of spawning")
}

func (c *WorkerClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.ensureWorker(ctx); err != nil {
		return err
	}
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *WorkerClient) postJSON(ctx context.Context, path string, body any, out any) error {
	if err := c.ensureWorker(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("worker %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Search wraps GET /search.
func (c *WorkerClient) Search(ctx context.Context, params map[string]string) (any, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	var out any
	if err := c.getJSON(ctx, "/search", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timeline wraps GET /timeline.
func (c *WorkerClient) Timeline(ctx context.Context, params map[string]string) (any, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	var out any
	if err := c.getJSON(ctx, "/timeline", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetObservations wraps POST /observations/batch.
func (c *WorkerClient) GetObservations(ctx context.Context, ids []int64, project string) (any, error) {
	var out any
	if err := c.postJSON(ctx, "/observations/batch", map[string]any{"ids": ids, "project": project}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
