package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/beemesh/distributor/pkg/distributor"
	"github.com/beemesh/distributor/pkg/env"
	"github.com/beemesh/distributor/pkg/identity"
	"github.com/beemesh/distributor/pkg/remote"
)

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage the peer directory",
	}
	cmd.AddCommand(peersListCmd(), peersAddCmd(), peersRemoveCmd())
	return cmd
}

func peersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known peers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, dir, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return printDirectory(cmd.OutOrStdout(), dir)
		},
	}
}

func printDirectory(w io.Writer, dir distributor.Directory) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tPEER\tOS/ARCH\tMEM\tCPUS\tENV\tTRUSTED")
	hashes := make([]identity.PeerHash, 0, len(dir))
	for hash := range dir {
		hashes = append(hashes, hash)
	}
	slices.SortFunc(hashes, identity.PeerHash.Compare)
	for _, hash := range hashes {
		h := dir[hash]
		e := h.EnvData()
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%d MiB\t%d\t%s\t%t\n",
			hash.Short(), h.Peer.ID, e.OSName(), e.ArchName(), e.TotalMem()>>20, e.CPUCount(), e.EnvType(), e.Trusted())
	}
	return tw.Flush()
}

type hostFlags struct {
	osName  string
	arch    string
	memMiB  uint64
	cpus    uint16
	mhz     uint16
	envType string
	trusted bool
}

func (f hostFlags) host(addr string) (remote.Host, error) {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return remote.Host{}, fmt.Errorf("peer address %q: %w", addr, err)
	}
	envType, err := env.ParseEnvType(f.envType)
	if err != nil {
		return remote.Host{}, err
	}
	data := env.NewRemoteEnv(f.osName, f.arch, f.memMiB<<20, f.cpus, f.mhz, envType).SetTrusted(f.trusted)
	return remote.NewHost(*info, data), nil
}

func peersAddCmd() *cobra.Command {
	var f hostFlags
	cmd := &cobra.Command{
		Use:   "add <multiaddr/p2p/id>",
		Short: "Add or replace a peer with the environment it reported",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := f.host(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Put(cmd.Context(), h); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h.Hash())
			return nil
		},
	}
	cmd.Flags().StringVar(&f.osName, "os", "linux", "operating system the peer reported")
	cmd.Flags().StringVar(&f.arch, "arch", "x86_64", "architecture the peer reported")
	cmd.Flags().Uint64Var(&f.memMiB, "mem", 0, "total memory in MiB")
	cmd.Flags().Uint16Var(&f.cpus, "cpus", 1, "processor count")
	cmd.Flags().Uint16Var(&f.mhz, "mhz", 0, "processor speed in MHz")
	cmd.Flags().StringVar(&f.envType, "env-type", "inherit", "environment type (inherit, paillier, other:<name>)")
	cmd.Flags().BoolVar(&f.trusted, "trusted", false, "mark the environment as attested")
	return cmd
}

func peersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <hash>",
		Short: "Remove a peer from the directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := identity.ParseHash(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, _, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Delete(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("peer %s is not in the directory", hash.Short())
			}
			return nil
		},
	}
}
