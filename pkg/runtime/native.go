package runtime

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/dispatch"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/permissions"
	"github.com/beemesh/distributor/pkg/podman"
)

// ContainerRunner runs one container to completion; *podman.Client is one.
type ContainerRunner interface {
	RunContainer(ctx context.Context, spec podman.ContainerSpec) (int, error)
}

// NativeEnv runs workloads directly on this host inside containers.
type NativeEnv struct {
	env.RemoteEnv
	probe  env.Probe
	runner ContainerRunner
}

var (
	_ env.ExecEnv     = (*NativeEnv)(nil)
	_ dispatch.Runner = (*NativeEnv)(nil)
)

func NewNativeEnv(p env.Probe, envType env.EnvType, runner ContainerRunner) (*NativeEnv, error) {
	data, err := env.InitRemoteEnv(p, envType)
	if err != nil {
		return nil, err
	}
	return &NativeEnv{RemoteEnv: data, probe: p, runner: runner}, nil
}

func (n *NativeEnv) CurrentMem() (uint64, error) { return env.CurrentMem(n.probe) }
func (n *NativeEnv) LoadAvg() (float64, error)   { return env.LoadAvg(n.probe) }

// Run starts the container with exactly the granted resources visible to it.
func (n *NativeEnv) Run(ctx context.Context, app applications.Application, c corev1.Container, granted []permissions.Resource) (int, error) {
	if c.Image == "" {
		return -1, fmt.Errorf("container %s: no image", c.Name)
	}
	spec := podman.SpecFor(app, c, granted)
	log.Infow("running workload", "app", app.Identity(), "container", spec.Name, "mounts", len(spec.Mounts), "network", spec.Network)
	code, err := n.runner.RunContainer(ctx, spec)
	if err != nil {
		return code, fmt.Errorf("run %s: %w", spec.Name, err)
	}
	return code, nil
}
