// Package dispatch carries workloads to connected peers and runs the ones a
// peer receives, after the local authority has granted every resource they need.
package dispatch

import (
	"fmt"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/permissions"
)

// Task is one workload sent to a peer.
type Task struct {
	ID        string                        `json:"id"`
	App       applications.Application      `json:"app"`
	Container corev1.Container              `json:"container"`
	Requests  []permissions.ResourceRequest `json:"requests,omitempty"`
}

func NewTask(app applications.Application, container corev1.Container, requests ...permissions.ResourceRequest) Task {
	return Task{
		ID:        uuid.NewString(),
		App:       app,
		Container: container,
		Requests:  requests,
	}
}

// Required is every resource the task needs: the explicit requests followed by
// the application's own permissions, without duplicates.
func (t Task) Required() []permissions.ResourceRequest {
	seen := make(map[permissions.Resource]bool, len(t.Requests))
	out := make([]permissions.ResourceRequest, 0, len(t.Requests))
	for _, r := range t.Requests {
		if !seen[r.Resource] {
			seen[r.Resource] = true
			out = append(out, r)
		}
	}
	for _, res := range t.App.Permissions() {
		if !seen[res] {
			seen[res] = true
			out = append(out, permissions.NewResourceRequest(res, nil))
		}
	}
	return out
}

// ParseContainer reads a single Kubernetes container spec from YAML or JSON.
func ParseContainer(manifest []byte) (corev1.Container, error) {
	var c corev1.Container
	if len(manifest) == 0 {
		return c, fmt.Errorf("container manifest is empty")
	}
	if err := yaml.Unmarshal(manifest, &c); err != nil {
		return c, fmt.Errorf("parse container: %w", err)
	}
	if c.Name == "" {
		return c, fmt.Errorf("container manifest missing name")
	}
	if c.Image == "" {
		return c, fmt.Errorf("container %s missing image", c.Name)
	}
	return c, nil
}

// Response is the outcome reported by the receiving peer.
type Response struct {
	TaskID   string                 `json:"task_id"`
	OK       bool                   `json:"ok"`
	Error    string                 `json:"error,omitempty"`
	Denied   []permissions.Resource `json:"denied,omitempty"`
	ExitCode int                    `json:"exit_code"`
}
