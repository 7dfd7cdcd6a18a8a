// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd exposes the planning half of sync (§4.9): deciding what
// would be offered to a peer. The wire exchange itself is out of
// scope; a real transport would call syncplan.Planner the same way.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect what a sync round would push",
	}
	cmd.AddCommand(newSyncPendingCmd())
	return cmd
}

func newSyncPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending-push",
		Short: "List RIDs eligible to offer to a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			rids, err := r.Sync.PendingPush(cmd.Context())
			if err != nil {
				return err
			}
			for _, rid := range rids {
				fmt.Fprintln(cmd.OutOrStdout(), rid)
			}
			return nil
		},
	}
}
