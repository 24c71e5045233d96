package main

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newRemotesCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remotes",
		Short: "list the configured remotes and their cache directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, *configPath)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("URI", "MOUNTPOINT", "ROOT", "HASH", "CACHEDIR")
			for _, rs := range pool.Remotes() {
				_ = table.Append([]string{rs.URI, rs.MountPoint, rs.Root, rs.Hash, rs.CacheDir})
			}
			return table.Render()
		},
	}
	return cmd
}
