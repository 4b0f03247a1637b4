// Package verify provides pure functions for post-deploy state evaluation.
// This is part of the Functional Core - no I/O, no Docker calls; callers
// hand in observed container state and get a verdict back.
package verify

import (
	"fmt"
	"sort"

	"github.com/opsline/deckhand/internal/core/manifest"
)

// =============================================================================
// Observed State
// =============================================================================

// Container states as reported by compose ps and the engine API.
const (
	StateRunning    = "running"
	StateExited     = "exited"
	StateRestarting = "restarting"
	StateCreated    = "created"
	StatePaused     = "paused"
	StateDead       = "dead"
)

// Health check states. Empty means the container has no health check.
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthStarting  = "starting"
)

// Publisher is one host port binding on an observed container.
type Publisher struct {
	HostIP        string
	TargetPort    uint32
	PublishedPort uint32
	Protocol      string
}

// ContainerState is one observed container, normalized from compose ps
// output or the Docker engine API.
type ContainerState struct {
	Name       string
	Service    string
	State      string
	ExitCode   int
	Health     string
	Restarts   int
	Publishers []Publisher
}

// =============================================================================
// Evaluation
// =============================================================================

// Report is the outcome of checking observed state against the manifest.
//
// Problems fail verification. Notes are observations the run surfaces
// without acting on them: restart counts, health check states. A service
// under restart: always can be mid-crash-loop and still look running at
// sample time; the notes are how that shows up without turning the sample
// into a gate.
type Report struct {
	Healthy  bool
	Problems []string
	Notes    []string
}

// Evaluate checks observed containers against the manifest's declared
// services and host ports.
//
// The contract after a teardown and restart is exactly one running
// container per declared service, with every declared host port bound.
// Dependency edges between services order startup only; they are not
// consulted here and no readiness waiting happens on their account.
func Evaluate(m *manifest.Manifest, observed []ContainerState) Report {
	var report Report

	byService := make(map[string][]ContainerState)
	for _, c := range observed {
		byService[c.Service] = append(byService[c.Service], c)
	}

	boundPorts := make(map[uint32]bool)
	for _, c := range observed {
		if c.State != StateRunning {
			continue
		}
		for _, p := range c.Publishers {
			if p.PublishedPort != 0 {
				boundPorts[p.PublishedPort] = true
			}
		}
	}

	for _, svc := range m.Services {
		containers := byService[svc.Name]
		delete(byService, svc.Name)

		running := 0
		for _, c := range containers {
			switch c.State {
			case StateRunning:
				running++
			case StateRestarting:
				report.Problems = append(report.Problems,
					fmt.Sprintf("service %s: container %s is restarting", svc.Name, c.Name))
			default:
				report.Problems = append(report.Problems,
					fmt.Sprintf("service %s: container %s is %s (exit code %d)",
						svc.Name, c.Name, c.State, c.ExitCode))
			}
		}

		switch {
		case len(containers) == 0:
			report.Problems = append(report.Problems,
				fmt.Sprintf("service %s: no container found", svc.Name))
		case running > 1:
			report.Problems = append(report.Problems,
				fmt.Sprintf("service %s: %d running containers, want exactly one", svc.Name, running))
		}

		for _, port := range svc.Ports {
			if port.Published == 0 {
				continue
			}
			if !boundPorts[port.Published] {
				report.Problems = append(report.Problems,
					fmt.Sprintf("service %s: published port %d not bound", svc.Name, port.Published))
			}
		}

		for _, c := range containers {
			if c.Restarts > 0 {
				report.Notes = append(report.Notes,
					fmt.Sprintf("service %s: container %s restarted %d times", svc.Name, c.Name, c.Restarts))
			}
			switch c.Health {
			case HealthUnhealthy:
				report.Notes = append(report.Notes,
					fmt.Sprintf("service %s: health check reports unhealthy", svc.Name))
			case HealthStarting:
				report.Notes = append(report.Notes,
					fmt.Sprintf("service %s: health check still starting", svc.Name))
			}
		}
	}

	// Whatever is left was not declared in the manifest
	leftover := make([]string, 0, len(byService))
	for name := range byService {
		leftover = append(leftover, name)
	}
	sort.Strings(leftover)
	for _, name := range leftover {
		for _, c := range byService[name] {
			report.Problems = append(report.Problems,
				fmt.Sprintf("container %s: service %s not in manifest", c.Name, name))
		}
	}

	report.Healthy = len(report.Problems) == 0
	return report
}
