// Package e2e provides end-to-end testing utilities for deckhand.
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/opsline/deckhand/internal/core/trigger"
)

// =============================================================================
// Wire Types
// =============================================================================

// The response mirrors below are deliberately separate from the server's own
// DTOs: the tests pin the wire contract, not the Go types behind it.

type targetResp struct {
	Name         string   `json:"name"`
	Executor     string   `json:"executor"`
	Dir          string   `json:"dir"`
	Branch       string   `json:"branch"`
	ActiveRunID  string   `json:"active_run_id,omitempty"`
	QueuedRunIDs []string `json:"queued_run_ids,omitempty"`
}

type listTargetsResp struct {
	Targets []targetResp `json:"targets"`
	Total   int          `json:"total"`
}

type stepResp struct {
	Name     string `json:"name"`
	Command  string `json:"command,omitempty"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

type runResp struct {
	ID       string     `json:"id"`
	Target   string     `json:"target"`
	Trigger  string     `json:"trigger"`
	Ref      string     `json:"ref,omitempty"`
	Commit   string     `json:"commit,omitempty"`
	Status   string     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Steps    []stepResp `json:"steps"`
	Created  time.Time  `json:"created_at"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
}

type listRunsResp struct {
	Runs  []runResp `json:"runs"`
	Total int       `json:"total"`
}

type deployAcceptedResp struct {
	RunID  string `json:"run_id"`
	Target string `json:"target"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	Status string `json:"status"`
}

type hookAcceptedResp struct {
	Ref      string               `json:"ref"`
	Commit   string               `json:"commit,omitempty"`
	Deploys  []deployAcceptedResp `json:"deploys"`
	Ignored  []string             `json:"ignored,omitempty"`
	Rejected []string             `json:"rejected,omitempty"`
}

type laneResp struct {
	Target       string   `json:"target"`
	ActiveRunID  string   `json:"active_run_id,omitempty"`
	QueuedRunIDs []string `json:"queued_run_ids,omitempty"`
}

type queueResp struct {
	Lanes []laneResp `json:"lanes"`
}

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// HTTP Helpers
// =============================================================================

// httpGet performs an unauthenticated GET.
func httpGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := testClient.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp
}

// apiGet performs a GET with the management API bearer token.
func apiGet(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp
}

// apiPost performs a POST with the bearer token and a JSON body.
func apiPost(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

// postHook delivers a push payload with the given signature header.
func postHook(t *testing.T, payload []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/hooks/push", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(trigger.SignatureHeader, signature)
	}
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("POST /hooks/push failed: %v", err)
	}
	return resp
}

// signedPushPayload builds a push event body and its valid signature.
func signedPushPayload(t *testing.T, ref, commit string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"ref":   ref,
		"after": commit,
		"repository": map[string]any{
			"full_name": "acme/shop",
		},
		"head_commit": map[string]any{
			"id":      commit,
			"message": "deploy me",
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return payload, trigger.Sign([]byte(testHookSecret), payload)
}

// decodeJSON reads and unmarshals a response body into dst, then closes it.
func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("Failed to decode response %q: %v", string(body), err)
	}
}

// =============================================================================
// Run Polling
// =============================================================================

// getRun fetches one run through the API.
func getRun(t *testing.T, runID string) runResp {
	t.Helper()
	resp := apiGet(t, "/api/v1/runs/"+runID)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("GET run %s: status %d body %s", runID, resp.StatusCode, body)
	}
	var run runResp
	decodeJSON(t, resp, &run)
	return run
}

// waitForRun polls a run until it settles or the timeout expires.
func waitForRun(t *testing.T, runID string, timeout time.Duration) runResp {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run := getRun(t, runID)
		if run.Status == "succeeded" || run.Status == "failed" {
			return run
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run %s did not settle within %v", runID, timeout)
	return runResp{}
}

// =============================================================================
// Logging
// =============================================================================

// testLogger returns a logger that stays quiet during the run.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}
