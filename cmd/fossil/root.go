// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fossil-scm/fossil-core/fossilhash"
	"github.com/fossil-scm/fossil-core/internal/fossillog"
	"github.com/fossil-scm/fossil-core/repo"
)

var (
	repoPath string
	verbose  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fossil",
		Short:         "A distributed version-control repository in a single file",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				fossillog.SetRoot(fossillog.New(zapcore.DebugLevel))
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&repoPath, "repository", "", "path to the repository file (required by most subcommands)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newResolveCmd(),
		newCommitCmd(),
		newCheckoutCmd(),
		newUpdateCmd(),
		newPurgeCmd(),
		newSyncCmd(),
	)
	return root
}

// openRepo opens the repository named by the --repository flag under
// the hash policy and hooks a command needs; it is the one place the
// CLI touches repo.Open.
func openRepo(ctx context.Context) (*repo.Repo, error) {
	if repoPath == "" {
		return nil, usageErrorf("--repository is required")
	}
	return repo.Open(ctx, repoPath, repo.Options{Policy: fossilhash.PolicyAcceptBoth})
}
