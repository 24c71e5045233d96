package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFindCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find <env> <path>",
		Short: "resolve path inside env the way find_file would, and print the materialized location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, path := args[0], args[1]

			pool, err := openPool(ctx, *configPath)
			if err != nil {
				return err
			}

			result, err := pool.FindFile(ctx, path, env)
			if err != nil {
				return fmt.Errorf("resolving %s in %s: %w", path, env, err)
			}
			if result.Path == "" {
				return fmt.Errorf("%s not found in environment %q", path, env)
			}

			hash, err := pool.FileHash(ctx, env, result)
			if err != nil {
				return fmt.Errorf("hashing %s: %w", result.Path, err)
			}

			fmt.Printf("path:  %s\n", result.Path)
			fmt.Printf("%s: %s\n", hash.HashType, hash.Hash)
			return nil
		},
	}
	return cmd
}
