// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge RID...",
		Short: "Move the given RIDs to the graveyard, honoring delta dependencies",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("purge requires at least one RID")
			}
			rids := make([]int64, len(args))
			for i, a := range args {
				rid, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return usageErrorf("invalid RID %q: %v", a, err)
				}
				rids[i] = rid
			}

			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			peid, err := r.Purge.Purge(cmd.Context(), rids, time.Now().Unix())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purge event %d: %d RID(s) moved to the graveyard\n", peid, len(rids))
			return nil
		},
	}
	cmd.AddCommand(newPurgeUndoCmd())
	return cmd
}

func newPurgeUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo PEID",
		Short: "Reinstate every artifact a purge event moved to the graveyard",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("undo takes exactly one PEID argument")
			}
			peid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return usageErrorf("invalid PEID %q: %v", args[0], err)
			}

			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			reinstated, err := r.Purge.Undo(cmd.Context(), peid)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reinstated %d RID(s)\n", len(reinstated))
			return nil
		},
	}
}
