package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Compose ps Output Parsing
// =============================================================================

// ErrInvalidPSOutput indicates compose ps output that is not valid JSON.
var ErrInvalidPSOutput = errors.New("invalid compose ps output")

// psEntry matches the JSON emitted by docker compose ps --format json.
type psEntry struct {
	Name       string `json:"Name"`
	Service    string `json:"Service"`
	State      string `json:"State"`
	Health     string `json:"Health"`
	ExitCode   int    `json:"ExitCode"`
	Publishers []struct {
		URL           string `json:"URL"`
		TargetPort    uint32 `json:"TargetPort"`
		PublishedPort uint32 `json:"PublishedPort"`
		Protocol      string `json:"Protocol"`
	} `json:"Publishers"`
}

// ParsePS parses docker compose ps --format json output into container
// states. Compose emits one JSON object per line since v2.21 and a single
// JSON array before that; both forms are accepted. Empty output means no
// containers and is not an error.
func ParsePS(output string) ([]ContainerState, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, nil
	}

	var entries []psEntry
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &entries); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPSOutput, err)
		}
	} else {
		for _, line := range strings.Split(trimmed, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var entry psEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPSOutput, err)
			}
			entries = append(entries, entry)
		}
	}

	states := make([]ContainerState, 0, len(entries))
	for _, e := range entries {
		state := ContainerState{
			Name:     e.Name,
			Service:  e.Service,
			State:    strings.ToLower(e.State),
			Health:   strings.ToLower(e.Health),
			ExitCode: e.ExitCode,
		}
		for _, p := range e.Publishers {
			state.Publishers = append(state.Publishers, Publisher{
				HostIP:        p.URL,
				TargetPort:    p.TargetPort,
				PublishedPort: p.PublishedPort,
				Protocol:      p.Protocol,
			})
		}
		states = append(states, state)
	}
	return states, nil
}
