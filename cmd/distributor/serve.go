package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/beemesh/distributor/internal/config"
	"github.com/beemesh/distributor/internal/metrics"
	"github.com/beemesh/distributor/pkg/dispatch"
	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/permissions"
	"github.com/beemesh/distributor/pkg/podman"
	"github.com/beemesh/distributor/pkg/registry"
	"github.com/beemesh/distributor/pkg/runtime"
	"github.com/beemesh/distributor/pkg/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the distributor daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	envType, err := env.ParseEnvType(cfg.Node.EnvType)
	if err != nil {
		return err
	}
	establish, err := parseHashes(cfg.Distributor.Establish)
	if err != nil {
		return err
	}
	authority := permissions.NewTable()
	if cfg.Authority.File != "" {
		perms, err := permissions.LoadFile(cfg.Authority.File)
		if err != nil {
			return err
		}
		authority = permissions.NewTable(perms...)
	}

	store, dir, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Infow("directory loaded", "peers", len(dir), "path", cfg.Storage.Path)

	var replicator *registry.Replicator
	if cfg.Raft.Enabled {
		fsm := registry.NewFSM(dir, store)
		r, err := registry.NewRaft(cfg.Raft, fsm, store.RaftStore())
		if err != nil {
			return err
		}
		replicator = registry.NewReplicator(r, fsm, cfg.Raft.ApplyTimeout)
		defer func() {
			if err := replicator.Shutdown(); err != nil {
				log.Warnw("raft shutdown", "err", err)
			}
		}()
	}

	probe := env.SystemProbe{}
	host, err := env.InitHostEnv(probe, cfg.Node, envType, cfg.Node.Public)
	if err != nil {
		return err
	}
	log.Infow("host environment", "os", host.OSName(), "arch", host.ArchName(),
		"mem", host.TotalMem(), "cpus", host.CPUCount(), "mhz", host.CPUSpeed(), "env", host.EnvType(), "public", host.IsPublic())

	pc, err := podman.NewClient(ctx, cfg.Podman.Socket)
	if err != nil {
		return err
	}
	native, err := runtime.NewNativeEnv(probe, envType, pc)
	if err != nil {
		return err
	}

	netw, err := openNetwork(ctx, cfg)
	if err != nil {
		return err
	}
	defer netw.Close()

	m := metrics.NewDistributor(prometheus.DefaultRegisterer)
	d := distributor.Load(netw, dir, native,
		distributor.WithConnectTimeout(cfg.Distributor.ConnectTimeout),
		distributor.WithMetrics(m))

	srv := &dispatch.Server{Authority: authority, Runner: native}
	netw.Handle(func(s transport.Stream) {
		d.AppendIncoming(s)
		srv.Serve(ctx, s)
		d.Drop(s)
	})

	if err := d.Establish(ctx, establish); err != nil {
		log.Warnw("establish incomplete", "err", err, "connected", len(d.Connections()), "requested", len(establish))
	}

	var announcer *registry.Announcer
	if netw.DHT != nil {
		announcer, err = registry.NewAnnouncer(netw.DHT, netw.ID(), cfg.Discovery.Namespace, cfg.Node.ProtocolID)
		if err != nil {
			return err
		}
	}
	var lan chan peer.AddrInfo
	if cfg.Node.EnableMDNS {
		lan = make(chan peer.AddrInfo, 16)
		err := netw.StartMDNS(transport.DefaultMDNSService, func(info peer.AddrInfo) {
			select {
			case lan <- info:
			default:
				log.Debugw("mdns backlog full, dropping", "peer", info.ID)
			}
		})
		if err != nil {
			return err
		}
	}
	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		syncLoop(ctx, cfg.Discovery.Interval, d, store, announcer, replicator, lan)
	}()

	metricsSrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server", "err", err)
		}
	}()

	log.Infow("distributor running", "id", netw.ID(), "addrs", netw.AddrInfo().Addrs, "hash", identity.HashFromID(netw.ID()))
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	final := stopDistributor(shutdownCtx, d, store, syncDone)
	log.Infow("distributor stopped", "peers", len(final))
	return nil
}

type directorySaver interface {
	PutAll(ctx context.Context, dir distributor.Directory) error
}

// stopDistributor waits until background, the last goroutine writing to d, has
// returned, then collapses d and saves the final directory.
func stopDistributor[E env.ExecEnv](ctx context.Context, d *distributor.Distributor[E], store directorySaver, background <-chan struct{}) distributor.Directory {
	<-background
	final, _ := d.Collapse()
	if err := store.PutAll(ctx, final); err != nil {
		log.Warnw("saving directory", "err", err)
	}
	return final
}

// syncLoop exchanges the directory with the raft cluster and refreshes peer
// addresses from the DHT every interval and from mDNS as peers show up. The
// leader publishes local entries the cluster has not seen.
func syncLoop(ctx context.Context, interval time.Duration, d *distributor.Distributor[*runtime.NativeEnv],
	store *registry.SQLiteStore, announcer *registry.Announcer, replicator *registry.Replicator, lan <-chan peer.AddrInfo) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case info := <-lan:
			refreshAddrs(ctx, d, store, []peer.AddrInfo{info})
			continue
		case <-ticker.C:
		}

		if replicator != nil {
			publishLocal(d.Directory(), replicator)
			d.Database(replicator.Directory())
		}
		if announcer == nil {
			continue
		}
		if err := announcer.Announce(ctx); err != nil {
			log.Warnw("announce", "err", err)
		}
		infos, err := announcer.Discover(ctx)
		if err != nil {
			log.Warnw("discover", "err", err)
			continue
		}
		refreshAddrs(ctx, d, store, infos)
	}
}

func refreshAddrs(ctx context.Context, d *distributor.Distributor[*runtime.NativeEnv], store *registry.SQLiteStore, infos []peer.AddrInfo) {
	dir := d.Directory()
	n := registry.Refresh(dir, infos)
	if n == 0 {
		return
	}
	d.Database(dir)
	if err := store.PutAll(ctx, dir); err != nil {
		log.Warnw("saving refreshed addresses", "err", err)
	}
	log.Infow("peer addresses refreshed", "updated", n, "discovered", len(infos))
}

func publishLocal(local distributor.Directory, replicator *registry.Replicator) {
	if !replicator.IsLeader() {
		return
	}
	replicated := replicator.Directory()
	for hash, host := range local {
		if _, ok := replicated[hash]; ok {
			continue
		}
		if err := replicator.Put(host); err != nil {
			log.Warnw("replicating peer", "peer", hash.Short(), "err", err)
			return
		}
	}
}
