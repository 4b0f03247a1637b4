package api

import (
	"time"

	"github.com/opsline/deckhand/internal/core/domain"
	"github.com/opsline/deckhand/internal/core/verify"
	"github.com/opsline/deckhand/internal/shell/workers"
)

// =============================================================================
// Request Types
// =============================================================================

// TriggerDeployRequest is the request body for a manual deploy.
type TriggerDeployRequest struct {
	// Ref optionally overrides the deployed ref. Defaults to the target's
	// configured branch.
	Ref string `json:"ref,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// TargetResponse describes a configured deploy target. Credential references
// never appear here.
type TargetResponse struct {
	Name        string `json:"name"`
	Executor    string `json:"executor"`
	Host        string `json:"host,omitempty"`
	Port        int    `json:"port,omitempty"`
	User        string `json:"user,omitempty"`
	Dir         string `json:"dir"`
	Branch      string `json:"branch"`
	ComposeFile string `json:"compose_file"`

	ActiveRunID  string      `json:"active_run_id,omitempty"`
	QueuedRunIDs []string    `json:"queued_run_ids,omitempty"`
	LastRun      *RunSummary `json:"last_run,omitempty"`
}

// RunSummary is the compact run representation used in lists.
type RunSummary struct {
	ID         string     `json:"id"`
	Target     string     `json:"target"`
	Trigger    string     `json:"trigger"`
	Ref        string     `json:"ref,omitempty"`
	Commit     string     `json:"commit,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunResponse is the full run representation including step results.
type RunResponse struct {
	RunSummary
	Steps []StepResponse `json:"steps"`
}

// StepResponse is one executed step of a run.
type StepResponse struct {
	Name       string    `json:"name"`
	Command    string    `json:"command,omitempty"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ListTargetsResponse is the response for listing targets.
type ListTargetsResponse struct {
	Targets []TargetResponse `json:"targets"`
	Total   int              `json:"total"`
}

// ListRunsResponse is the response for listing runs.
type ListRunsResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// DeployAcceptedResponse acknowledges an accepted deploy request.
type DeployAcceptedResponse struct {
	RunID  string `json:"run_id"`
	Target string `json:"target"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	Status string `json:"status"`
}

// HookAcceptedResponse acknowledges a push event, including the targets it
// was dispatched to and those it was ignored for.
type HookAcceptedResponse struct {
	Ref      string                   `json:"ref"`
	Commit   string                   `json:"commit,omitempty"`
	Deploys  []DeployAcceptedResponse `json:"deploys"`
	Ignored  []string                 `json:"ignored,omitempty"`
	Rejected []string                 `json:"rejected,omitempty"`
}

// ContainersResponse reports live container state for one target. Source
// names where the observation came from: the Docker socket for local
// targets, compose ps over the executor otherwise.
type ContainersResponse struct {
	Target     string                   `json:"target"`
	Source     string                   `json:"source"`
	Containers []ContainerStateResponse `json:"containers"`
}

// ContainerStateResponse is one observed container.
type ContainerStateResponse struct {
	Name       string              `json:"name"`
	Service    string              `json:"service"`
	State      string              `json:"state"`
	ExitCode   int                 `json:"exit_code"`
	Health     string              `json:"health,omitempty"`
	Restarts   int                 `json:"restarts"`
	Publishers []PublisherResponse `json:"publishers,omitempty"`
}

// PublisherResponse is one host port binding on an observed container.
type PublisherResponse struct {
	HostIP        string `json:"host_ip,omitempty"`
	TargetPort    uint32 `json:"target_port"`
	PublishedPort uint32 `json:"published_port"`
	Protocol      string `json:"protocol"`
}

// QueueResponse reports every lane's dispatch state.
type QueueResponse struct {
	Lanes []workers.LaneStatus `json:"lanes"`
}

// ErrorResponse is the error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// =============================================================================
// Converters
// =============================================================================

func targetToResponse(t domain.Target) TargetResponse {
	return TargetResponse{
		Name:        t.Name,
		Executor:    string(t.Executor),
		Host:        t.Host,
		Port:        t.Port,
		User:        t.User,
		Dir:         t.Dir,
		Branch:      t.Branch,
		ComposeFile: t.ComposeFile,
	}
}

func runToSummary(r *domain.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Target:     r.Target,
		Trigger:    string(r.Trigger),
		Ref:        r.Ref,
		Commit:     r.Commit,
		Status:     string(r.Status),
		Error:      r.ErrorMessage,
		CreatedAt:  r.CreatedAt,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		RunSummary: runToSummary(r),
		Steps:      make([]StepResponse, 0, len(r.Steps)),
	}
	for _, s := range r.Steps {
		resp.Steps = append(resp.Steps, StepResponse{
			Name:       s.Name,
			Command:    s.Command,
			Status:     string(s.Status),
			ExitCode:   s.ExitCode,
			Output:     s.Output,
			StartedAt:  s.StartedAt,
			FinishedAt: s.FinishedAt,
		})
	}
	return resp
}

func containersToResponse(states []verify.ContainerState) []ContainerStateResponse {
	out := make([]ContainerStateResponse, 0, len(states))
	for _, s := range states {
		c := ContainerStateResponse{
			Name:     s.Name,
			Service:  s.Service,
			State:    s.State,
			ExitCode: s.ExitCode,
			Health:   s.Health,
			Restarts: s.Restarts,
		}
		for _, p := range s.Publishers {
			c.Publishers = append(c.Publishers, PublisherResponse{
				HostIP:        p.HostIP,
				TargetPort:    p.TargetPort,
				PublishedPort: p.PublishedPort,
				Protocol:      p.Protocol,
			})
		}
		out = append(out, c)
	}
	return out
}
