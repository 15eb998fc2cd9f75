package dispatch

import (
	"context"
	"errors"
	"io"

	logging "github.com/ipfs/go-log/v2"
	corev1 "k8s.io/api/core/v1"

	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/permissions"
	"github.com/beemesh/distributor/pkg/transport"
)

var log = logging.Logger("dispatch")

// Runner executes a granted workload and returns its exit code. granted holds
// every resource the workload may use.
type Runner interface {
	Run(ctx context.Context, app applications.Application, container corev1.Container, granted []permissions.Resource) (int, error)
}

// Server answers tasks arriving on inbound streams.
type Server struct {
	Authority *permissions.Table
	Runner    Runner
}

// Serve handles tasks from s until the peer closes it or ctx ends. Serve closes s.
func (srv *Server) Serve(ctx context.Context, s transport.Stream) {
	defer s.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		var task Task
		if err := transport.ReadJSON(s, &task); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugw("stream closed", "peer", s.RemotePeer(), "err", err)
			}
			return
		}
		resp := srv.Handle(ctx, s.Hash().String(), task)
		if err := transport.WriteJSON(s, resp); err != nil {
			log.Warnw("write response", "peer", s.RemotePeer(), "task", task.ID, "err", err)
			return
		}
	}
}

// Handle decides and runs one task for the peer with the given hex hash. A
// single denied resource refuses the whole task.
func (srv *Server) Handle(ctx context.Context, peerHash string, task Task) Response {
	resp := Response{TaskID: task.ID}
	app := task.App.Identity()

	required := task.Required()
	denied := srv.Authority.DecideAll(peerHash, app.APIKey, required)
	if len(denied) > 0 {
		resp.Error = "permission denied"
		resp.Denied = denied
		log.Infow("task refused", "task", task.ID, "app", app, "denied", len(denied))
		return resp
	}

	granted := make([]permissions.Resource, len(required))
	for i, r := range required {
		granted[i] = r.Resource
	}
	code, err := srv.Runner.Run(ctx, task.App, task.Container, granted)
	resp.ExitCode = code
	if err != nil {
		resp.Error = err.Error()
		log.Warnw("task failed", "task", task.ID, "app", app, "err", err)
		return resp
	}
	resp.OK = code == 0
	log.Infow("task finished", "task", task.ID, "app", app, "exit", code)
	return resp
}
