package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newEnvsCmd(configPath *string) *cobra.Command {
	var ignoreCache bool

	cmd := &cobra.Command{
		Use:   "envs",
		Short: "list the exposed environments across all remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := openPool(ctx, *configPath)
			if err != nil {
				return err
			}

			envs, err := pool.Envs(ctx, ignoreCache)
			if err != nil {
				return fmt.Errorf("listing environments: %w", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.Header("ENVIRONMENT")
			for _, e := range envs {
				_ = table.Append([]string{e})
			}
			return table.Render()
		},
	}

	cmd.Flags().BoolVar(&ignoreCache, "ignore-cache", false, "recompute from the repositories instead of trusting envs.p")
	return cmd
}
