package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/beemesh/distributor/pkg/applications"
	"github.com/beemesh/distributor/pkg/dispatch"
	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/permissions"
	"github.com/beemesh/distributor/pkg/scheduler"
)

type submitFlags struct {
	manifest    string
	app         string
	version     string
	apiKey      string
	owner       string
	permissions []string
	requests    []string
	replicas    int
	trusted     bool
	minMemMiB   uint64
	minCPUs     uint16
	timeout     time.Duration
}

func (f submitFlags) build() (applications.Application, []permissions.ResourceRequest, error) {
	perms, err := parseResources(f.permissions)
	if err != nil {
		return applications.Application{}, nil, err
	}
	reqRes, err := parseResources(f.requests)
	if err != nil {
		return applications.Application{}, nil, err
	}
	reqs := make([]permissions.ResourceRequest, len(reqRes))
	for i, r := range reqRes {
		reqs[i] = permissions.NewResourceRequest(r, nil)
	}
	app := applications.NewApplication(f.app, f.version, f.apiKey, f.owner).
		Permissions(perms...).
		Build()
	return app, reqs, nil
}

func parseResources(raw []string) ([]permissions.Resource, error) {
	out := make([]permissions.Resource, 0, len(raw))
	for _, s := range raw {
		r, err := permissions.ParseResource(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func submitCmd() *cobra.Command {
	var f submitFlags
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Dispatch a container to the best ranked peers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manifest, err := os.ReadFile(f.manifest)
			if err != nil {
				return err
			}
			container, err := dispatch.ParseContainer(manifest)
			if err != nil {
				return err
			}
			app, reqs, err := f.build()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
			defer cancel()
			store, dir, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			netw, err := openNetwork(ctx, cfg)
			if err != nil {
				return err
			}
			defer netw.Close()

			d := distributor.Empty[env.ExecEnv](netw, distributor.WithConnectTimeout(cfg.Distributor.ConnectTimeout)).
				Database(dir)
			defer d.Close()

			opts := scheduler.Options{RequireTrusted: f.trusted, MinMemory: f.minMemMiB << 20, MinCPUs: f.minCPUs}
			assign := scheduler.Assign(f.replicas, scheduler.Rank(dir, opts))
			if len(assign) == 0 {
				return fmt.Errorf("no peer satisfies the placement constraints")
			}
			log.Infow("placing workload", "app", app.Identity(), "plan", scheduler.Describe(assign))

			failed := run(ctx, cmd.OutOrStdout(), d, assign, func() dispatch.Task {
				return dispatch.NewTask(app, container, reqs...)
			})
			if failed > 0 {
				return fmt.Errorf("%d of %d replicas failed", failed, f.replicas)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.manifest, "manifest", "f", "", "container manifest (YAML or JSON)")
	cmd.Flags().StringVar(&f.app, "app", "", "application name")
	cmd.Flags().StringVar(&f.version, "app-version", "0.0.0", "application version")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "application API key")
	cmd.Flags().StringVar(&f.owner, "owner", "", "application owner")
	cmd.Flags().StringSliceVar(&f.permissions, "permission", nil, "resource the application always needs, e.g. r-/data")
	cmd.Flags().StringSliceVar(&f.requests, "request", nil, "extra resource for this run, e.g. n-10.0.0.0/8")
	cmd.Flags().IntVar(&f.replicas, "replicas", 1, "number of copies to run")
	cmd.Flags().BoolVar(&f.trusted, "trusted", false, "only place on attested environments")
	cmd.Flags().Uint64Var(&f.minMemMiB, "min-mem", 0, "minimum total memory in MiB")
	cmd.Flags().Uint16Var(&f.minCPUs, "min-cpus", 0, "minimum processor count")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Minute, "overall deadline")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

// dispatcher is the part of a distributor run needs.
type dispatcher interface {
	Connect(ctx context.Context, hash identity.PeerHash) error
	Dispatch(ctx context.Context, hash identity.PeerHash, task dispatch.Task) (dispatch.Response, error)
}

// run connects to every assigned peer and sends it its share of tasks one by
// one. It prints one line per replica and returns how many failed.
func run(ctx context.Context, w io.Writer, d dispatcher, assign map[identity.PeerHash]int, newTask func() dispatch.Task) int {
	hashes := make([]identity.PeerHash, 0, len(assign))
	for h := range assign {
		hashes = append(hashes, h)
	}
	slices.SortFunc(hashes, identity.PeerHash.Compare)

	failed := 0
	for _, hash := range hashes {
		n := assign[hash]
		if err := d.Connect(ctx, hash); err != nil {
			fmt.Fprintf(w, "%s\tconnect failed: %v\n", hash.Short(), err)
			failed += n
			continue
		}
		for i := 0; i < n; i++ {
			task := newTask()
			resp, err := d.Dispatch(ctx, hash, task)
			switch {
			case err != nil:
				fmt.Fprintf(w, "%s\t%s\terror: %v\n", hash.Short(), task.ID, err)
				failed++
			case !resp.OK:
				fmt.Fprintf(w, "%s\t%s\trefused: %s %v exit=%d\n", hash.Short(), task.ID, resp.Error, resp.Denied, resp.ExitCode)
				failed++
			default:
				fmt.Fprintf(w, "%s\t%s\tok\n", hash.Short(), task.ID)
			}
		}
	}
	return failed
}
