package main

import (
	"context"
	"fmt"

	"github.com/beemesh/distributor/internal/config"
	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/registry"
	"github.com/beemesh/distributor/pkg/transport"
)

func openStore(ctx context.Context, cfg *config.Config) (*registry.SQLiteStore, distributor.Directory, error) {
	store, err := registry.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	dir, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return store, dir, nil
}

func openNetwork(ctx context.Context, cfg *config.Config) (*transport.Network, error) {
	tcfg, err := transport.ConfigFromNode(cfg.Node, cfg.Distributor.DialRate, cfg.Distributor.DialBurst)
	if err != nil {
		return nil, err
	}
	return transport.NewNetwork(ctx, tcfg)
}

func parseHashes(raw []string) ([]identity.PeerHash, error) {
	out := make([]identity.PeerHash, 0, len(raw))
	for _, s := range raw {
		h, err := identity.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("peer hash %q: %w", s, err)
		}
		out = append(out, h)
	}
	return out, nil
}
