// Package dockerx inspects containers through the local Docker socket.
// It serves live status for targets deployed on the daemon's own host;
// remote targets are inspected over SSH instead.
package dockerx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/opsline/deckhand/internal/core/verify"
)

// Compose attaches these labels to every container it creates; they are how
// containers are matched back to a deployment without tracking IDs.
const (
	labelProject = "com.docker.compose.project"
	labelService = "com.docker.compose.service"
)

// ErrDaemonUnreachable indicates the Docker daemon could not be reached.
var ErrDaemonUnreachable = errors.New("docker daemon unreachable")

// Inspector reads container state from the local Docker daemon.
type Inspector struct {
	cli *client.Client
}

// NewInspector creates an inspector. An empty host uses the environment's
// default Docker socket.
func NewInspector(host string) (*Inspector, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Inspector{cli: cli}, nil
}

// Ping checks that the Docker daemon is reachable.
func (i *Inspector) Ping(ctx context.Context) error {
	if _, err := i.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	return nil
}

// Close releases the client connection.
func (i *Inspector) Close() error {
	return i.cli.Close()
}

// ProjectContainers returns the state of every container belonging to a
// compose project, including stopped ones. Restart counts and health come
// from a per-container inspect; a container that disappears between the
// list and the inspect is dropped rather than failing the whole report.
func (i *Inspector) ProjectContainers(ctx context.Context, project string) ([]verify.ContainerState, error) {
	f := filters.NewArgs()
	f.Add("label", labelProject+"="+project)

	containers, err := i.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers for project %s: %w", project, err)
	}

	var states []verify.ContainerState
	for _, c := range containers {
		d, err := i.inspectDetail(ctx, c.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("inspect container %s: %w", c.ID, err)
		}
		states = append(states, containerState(c, d))
	}
	return states, nil
}

// detail carries the fields the list endpoint does not report.
type detail struct {
	restarts int
	health   string
	exitCode int
	declared []verify.Publisher
}

func (i *Inspector) inspectDetail(ctx context.Context, id string) (detail, error) {
	resp, err := i.cli.ContainerInspect(ctx, id)
	if err != nil {
		return detail{}, err
	}

	d := detail{restarts: resp.RestartCount}
	if resp.State != nil {
		d.exitCode = resp.State.ExitCode
		if resp.State.Health != nil {
			d.health = resp.State.Health.Status
		}
	}
	if resp.HostConfig != nil {
		d.declared = declaredPublishers(resp.HostConfig.PortBindings)
	}
	return d, nil
}

// declaredPublishers converts the bindings a container was created with.
// Stopped containers report nothing on the list endpoint, so their
// configured ports come from here.
func declaredPublishers(bindings nat.PortMap) []verify.Publisher {
	var pubs []verify.Publisher
	for port, hosts := range bindings {
		for _, h := range hosts {
			published, err := nat.ParsePort(h.HostPort)
			if err != nil {
				continue
			}
			pubs = append(pubs, verify.Publisher{
				HostIP:        h.HostIP,
				TargetPort:    uint32(port.Int()),
				PublishedPort: uint32(published),
				Protocol:      port.Proto(),
			})
		}
	}
	sort.Slice(pubs, func(a, b int) bool {
		if pubs[a].TargetPort != pubs[b].TargetPort {
			return pubs[a].TargetPort < pubs[b].TargetPort
		}
		return pubs[a].PublishedPort < pubs[b].PublishedPort
	})
	return pubs
}

// containerState maps one listed container onto the evaluation core's view.
func containerState(c container.Summary, d detail) verify.ContainerState {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	var publishers []verify.Publisher
	for _, p := range c.Ports {
		publishers = append(publishers, verify.Publisher{
			HostIP:        p.IP,
			TargetPort:    uint32(p.PrivatePort),
			PublishedPort: uint32(p.PublicPort),
			Protocol:      p.Type,
		})
	}
	if len(publishers) == 0 {
		publishers = d.declared
	}

	return verify.ContainerState{
		Name:       name,
		Service:    c.Labels[labelService],
		State:      strings.ToLower(c.State),
		ExitCode:   d.exitCode,
		Health:     strings.ToLower(d.health),
		Restarts:   d.restarts,
		Publishers: publishers,
	}
}
