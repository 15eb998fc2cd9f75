// Command distributor runs a beemesh distributor node: it keeps the peer
// directory, connects to peers and runs the tasks they are allowed to run.
package main

import (
	"fmt"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"github.com/beemesh/distributor/internal/config"
)

var log = logging.Logger("beemesh")

var (
	version  = "dev"
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "distributor",
		Short:        "Run code on remote systems over a libp2p mesh",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./distributor.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	root.AddCommand(
		serveCmd(),
		peersCmd(),
		submitCmd(),
		keygenCmd(),
		versionCmd(),
	)
	return root
}

// loadConfig reads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := setLogLevel(level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setLogLevel(level string) error {
	if err := logging.SetLogLevel("*", level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "distributor %s\n", version)
		},
	}
}
