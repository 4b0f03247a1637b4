// Package notify delivers run outcomes to an external HTTP endpoint.
// Delivery is best effort: a notification failure is logged and never
// affects the run it reports on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsline/deckhand/internal/core/domain"
)

// Config holds notifier configuration.
type Config struct {
	// URL receives a POST per finished run. Empty disables the notifier.
	URL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	Timeout time.Duration
}

// Client posts run summaries to the configured endpoint. It satisfies the
// dispatcher's Notifier interface.
type Client struct {
	url        string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new notification client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:       cfg.URL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "notifier"),
	}
}

// =============================================================================
// Event Types
// =============================================================================

// Event is the JSON body posted for each finished run.
type Event struct {
	Event      string     `json:"event"`
	Target     string     `json:"target"`
	RunID      string     `json:"run_id"`
	Trigger    string     `json:"trigger"`
	Ref        string     `json:"ref,omitempty"`
	Commit     string     `json:"commit,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Steps      []StepInfo `json:"steps,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepInfo summarizes one executed step without its captured output.
type StepInfo struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// EventFromRun builds the notification body for a finished run.
func EventFromRun(run *domain.Run) Event {
	event := Event{
		Event:      "deploy.finished",
		Target:     run.Target,
		RunID:      run.ID,
		Trigger:    string(run.Trigger),
		Ref:        run.Ref,
		Commit:     run.Commit,
		Status:     string(run.Status),
		Error:      run.ErrorMessage,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
	}
	for _, step := range run.Steps {
		info := StepInfo{
			Name:     step.Name,
			Status:   string(step.Status),
			ExitCode: step.ExitCode,
		}
		if d := step.Duration(); d > 0 {
			info.Duration = d.Round(time.Millisecond).String()
		}
		event.Steps = append(event.Steps, info)
	}
	return event
}

// =============================================================================
// Delivery
// =============================================================================

// RunFinished posts the run summary. Errors are logged, never returned;
// the run already settled and nothing here may change that.
func (c *Client) RunFinished(ctx context.Context, run *domain.Run) {
	if err := c.post(ctx, EventFromRun(run)); err != nil {
		c.logger.Warn("run notification failed",
			"run_id", run.ID,
			"target", run.Target,
			"error", err,
		)
		return
	}
	c.logger.Debug("run notification delivered", "run_id", run.ID, "status", run.Status)
}

func (c *Client) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
