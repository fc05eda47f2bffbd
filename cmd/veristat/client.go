// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// client is a thin wrapper over the daemon HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{
		base: strings.TrimRight(addr, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit enqueues a dataset and returns the allocated run id.
func (c *client) Submit(ctx context.Context, filePath string, runConfig map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"file_path":  filePath,
		"run_config": runConfig,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return "", apiError(resp)
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.RunID, nil
}

// WaitTerminal polls the run until the queue reports a terminal status.
func (c *client) WaitTerminal(ctx context.Context, runID string) (string, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var job struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := c.getJSON(ctx, "/v1/runs/"+runID, &job); err != nil {
			return "", err
		}
		switch job.Status {
		case "completed":
			return job.Message, nil
		case "failed":
			return "", fmt.Errorf("run failed: %s", job.Message)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// PrintJSON fetches path and pretty-prints the JSON response.
func (c *client) PrintJSON(ctx context.Context, path string, w io.Writer) error {
	var v any
	if err := c.getJSON(ctx, path, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintRaw fetches path and copies the body through untouched.
func (c *client) PrintRaw(ctx context.Context, path string, w io.Writer) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *client) getJSON(ctx context.Context, path string, into any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func (c *client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// apiError turns a non-2xx response into an error, preferring the
// daemon's own message when it sent one.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("daemon returned %s", resp.Status)
}
