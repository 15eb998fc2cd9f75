package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/beemesh/distributor/pkg/identity"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a node identity for node.private_key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := identity.NewNodeKey()
			if err != nil {
				return err
			}
			encoded, err := key.Encode()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private_key: %s\n", encoded)
			fmt.Fprintf(out, "peer_id:     %s\n", key.ID)
			fmt.Fprintf(out, "hash:        %s\n", key.Hash)
			return nil
		},
	}
}
