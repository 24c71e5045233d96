package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/utilitywarehouse/gitfs/pkg/gitfs"
)

func newCatCmd(configPath *string) *cobra.Command {
	var (
		loc  int64
		gzip int
	)

	cmd := &cobra.Command{
		Use:   "cat <env> <path>",
		Short: "print a chunk of a file the way serve_file would stream it to the master",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, path := args[0], args[1]

			ctx := cmd.Context()
			pool, err := openPool(ctx, *configPath)
			if err != nil {
				return err
			}

			found, err := pool.FindFile(ctx, path, env)
			if err != nil {
				return err
			}
			if found.Path == "" {
				return fmt.Errorf("%s not found in %s", path, env)
			}

			chunk, err := pool.ServeFile(ctx, gitfs.ServeFileRequest{Loc: loc, SaltEnv: env, Gzip: gzip}, found)
			if err != nil {
				return err
			}

			_, err = os.Stdout.Write(chunk.Data)
			return err
		},
	}

	cmd.Flags().Int64Var(&loc, "loc", 0, "byte offset to start reading from")
	cmd.Flags().IntVar(&gzip, "gzip", 0, "gzip compression level to apply, 0 disables it")

	return cmd
}
