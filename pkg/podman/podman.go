// Package podman runs granted workloads in podman containers. The permission
// set decides what the container sees: every granted path becomes a bind
// mount and without a network grant the container has no network namespace.
package podman

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/containers"
	"github.com/containers/podman/v5/pkg/specgen"
	logging "github.com/ipfs/go-log/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	corev1 "k8s.io/api/core/v1"

	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/permissions"
)

var log = logging.Logger("podman")

// ContainerSpec is everything needed to run one workload container.
type ContainerSpec struct {
	Name       string
	Image      string
	Entrypoint []string
	Command    []string
	Env        map[string]string
	WorkDir    string
	Labels     map[string]string
	Mounts     []specs.Mount
	Network    bool
}

// Client wraps a Podman API connection.
type Client struct {
	conn   context.Context
	socket string
}

func NewClient(ctx context.Context, socket string) (*Client, error) {
	conn, err := bindings.NewConnection(ctx, socket)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to podman socket %s: %w", socket, err)
	}
	log.Infow("connected to podman", "socket", socket)
	return &Client{conn: conn, socket: socket}, nil
}

// RunContainer creates and starts the container, waits for it to exit and
// removes it. Cancelling ctx kills the container.
func (c *Client) RunContainer(ctx context.Context, spec ContainerSpec) (int, error) {
	resp, err := containers.CreateWithSpec(c.conn, spec.generator(), nil)
	if err != nil {
		return -1, fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	id := resp.ID
	defer func() {
		if _, err := containers.Remove(c.conn, id, new(containers.RemoveOptions).WithForce(true)); err != nil {
			log.Warnw("remove container", "id", id, "err", err)
		}
	}()

	if err := containers.Start(c.conn, id, nil); err != nil {
		return -1, fmt.Errorf("failed to start container %s: %w", spec.Name, err)
	}
	log.Infow("started container", "name", spec.Name, "id", id, "image", spec.Image, "network", spec.Network)

	type waitResult struct {
		code int32
		err  error
	}
	done := make(chan waitResult, 1)
	go func() {
		code, err := containers.Wait(c.conn, id, nil)
		done <- waitResult{code, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return -1, fmt.Errorf("failed to wait for container %s: %w", spec.Name, res.err)
		}
		return int(res.code), nil
	case <-ctx.Done():
		if err := containers.Kill(c.conn, id, nil); err != nil {
			log.Warnw("kill container", "id", id, "err", err)
		}
		<-done
		return -1, ctx.Err()
	}
}

func (s ContainerSpec) generator() *specgen.SpecGenerator {
	g := specgen.NewSpecGenerator(s.Image, false)
	g.Name = s.Name
	g.Entrypoint = s.Entrypoint
	g.Command = s.Command
	g.Env = s.Env
	g.WorkDir = s.WorkDir
	g.Labels = s.Labels
	g.Mounts = s.Mounts
	if !s.Network {
		g.NetNS = specgen.Namespace{NSMode: specgen.NoNetwork}
	}
	return g
}

// MountsFor binds every granted path at the same location inside the
// container. Paths are read-only unless write is granted and noexec unless
// execute is granted. Overlapping grants on one path are merged.
func MountsFor(granted []permissions.Resource) []specs.Mount {
	type access struct{ read, write, exec bool }
	paths := make(map[string]*access)
	for _, r := range granted {
		if r.IsNetwork() || !path.IsAbs(r.Path()) {
			continue
		}
		a := paths[r.Path()]
		if a == nil {
			a = &access{}
			paths[r.Path()] = a
		}
		a.read = a.read || r.AllowsRead()
		a.write = a.write || r.AllowsWrite()
		a.exec = a.exec || r.AllowsExecute()
	}

	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	mounts := make([]specs.Mount, 0, len(keys))
	for _, p := range keys {
		a := paths[p]
		opts := []string{"rbind", "ro"}
		if a.write {
			opts[1] = "rw"
		}
		if !a.exec {
			opts = append(opts, "noexec")
		}
		mounts = append(mounts, specs.Mount{Destination: p, Type: "bind", Source: p, Options: opts})
	}
	return mounts
}

// NetworkFor reports whether any network range was granted. Podman cannot
// restrict egress to the granted ranges, so one grant opens the network.
func NetworkFor(granted []permissions.Resource) bool {
	for _, r := range granted {
		if r.IsNetwork() {
			return true
		}
	}
	return false
}

// SpecFor translates a Kubernetes container and its grants into a spec.
// Kubernetes command is the image entrypoint and args are its command.
func SpecFor(app applications.Application, c corev1.Container, granted []permissions.Resource) ContainerSpec {
	env := make(map[string]string, len(c.Env))
	for _, e := range c.Env {
		if e.ValueFrom == nil {
			env[e.Name] = e.Value
		}
	}
	id := app.Identity()
	return ContainerSpec{
		Name:       containerName(id.String(), c.Name),
		Image:      c.Image,
		Entrypoint: c.Command,
		Command:    c.Args,
		Env:        env,
		WorkDir:    c.WorkingDir,
		Labels: map[string]string{
			"beemesh.app":     id.Name,
			"beemesh.version": id.Version,
			"beemesh.owner":   app.Owner(),
		},
		Mounts:  MountsFor(granted),
		Network: NetworkFor(granted),
	}
}

func containerName(app, container string) string {
	name := strings.ToLower(app + "-" + container)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
