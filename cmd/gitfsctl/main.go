// Command gitfsctl is an operator tool for inspecting a running gitfsd
// cache: enumerating environments and remotes, resolving a path the way
// find_file would, and watching the update loop live.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/utilitywarehouse/gitfs/pkg/gitfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "gitfsctl",
		Short:         "inspect and drive a gitfs cache from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "/etc/gitfs/config.yaml", "absolute path to the config file")

	cmd.AddCommand(
		newEnvsCmd(&configPath),
		newRemotesCmd(&configPath),
		newFindCmd(&configPath),
		newStatusCmd(&configPath),
		newCatCmd(&configPath),
	)

	return cmd
}

// openPool loads the config at *configPath and constructs a RepoPool
// attached to its existing on-disk cache, without fetching anything.
func openPool(ctx context.Context, configPath string) (*gitfs.RepoPool, error) {
	viper.SetConfigFile(configPath)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg gitfs.Config
	unknown, err := gitfs.DecodeConfig(viper.AllSettings(), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	for _, key := range unknown {
		log.Error("ignoring unrecognized config key", "key", key)
	}

	pool, err := gitfs.New(ctx, cfg, log, nil)
	if err != nil {
		return nil, fmt.Errorf("constructing repo pool: %w", err)
	}
	if _, err := pool.Init(ctx); err != nil {
		return nil, fmt.Errorf("attaching remotes: %w", err)
	}
	return pool, nil
}
