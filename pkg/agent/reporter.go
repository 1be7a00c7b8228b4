package agent

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/namespaces"

	"github.com/piccolo-project/piccolo/pkg/types"
)

// DefaultNamespace is the containerd namespace the agent enumerates.
const DefaultNamespace = "piccolo"

// ContainerReporter lists the local container set via containerd,
// translating its runtime-level task status into the raw flags the
// Resource State Machine consumes (spec §4.7's "container-state
// reporting").
type ContainerReporter struct {
	client    *containerd.Client
	namespace string
}

// NewContainerReporter dials the local containerd socket. socketPath
// defaults to containerd's standard socket when empty.
func NewContainerReporter(socketPath string) (*ContainerReporter, error) {
	if socketPath == "" {
		socketPath = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("agent: connect to containerd: %w", err)
	}
	return &ContainerReporter{client: client, namespace: DefaultNamespace}, nil
}

// Close releases the containerd client.
func (r *ContainerReporter) Close() error { return r.client.Close() }

// List enumerates every container in the agent's namespace with its
// derived raw lifecycle flags and pullpiri.* annotations.
func (r *ContainerReporter) List(ctx context.Context) ([]types.Container, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("agent: list containers: %w", err)
	}

	out := make([]types.Container, 0, len(containers))
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}

		raw := types.ContainerRawFlags{}
		task, err := c.Task(ctx, nil)
		if err != nil {
			// No task attached: the container was created but never
			// started, or its task already exited and was reaped.
			raw.Exited = true
		} else {
			status, err := task.Status(ctx)
			if err != nil {
				raw.Exited = true
			} else {
				switch status.Status {
				case containerd.Running:
					raw.Running = true
				case containerd.Paused:
					raw.Paused = true
				case containerd.Stopped:
					if status.ExitStatus != 0 {
						raw.Dead = true
					} else {
						raw.Exited = true
					}
				default:
					raw.Exited = true
				}
			}
		}

		out = append(out, types.Container{
			ID:          c.ID(),
			Name:        c.ID(),
			Image:       info.Image,
			Annotations: info.Labels,
			Raw:         raw,
		})
	}

	return out, nil
}
