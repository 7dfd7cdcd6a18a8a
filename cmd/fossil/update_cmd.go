// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fossil-scm/fossil-core/checkout"
)

// newUpdateCmd exposes update.c's update_cmd: merge the working
// directory's local edits into a different check-in and switch to it,
// as distinct from "checkout", which merges nothing and refuses to
// overwrite an existing file whose content differs from the check-in's.
func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update VERSION DIR",
		Short: "Merge local edits in DIR into VERSION and switch the checkout to it",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("update takes VERSION and DIR arguments")
			}
			version, dir := args[0], args[1]

			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			tree, err := r.OpenCheckout(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer tree.Close()

			result, targetRid, err := r.UpdateTo(cmd.Context(), tree, version)
			if err != nil {
				return err
			}

			var added, merged, deleted, unchanged int
			for _, f := range result.Files {
				switch f.Action {
				case checkout.UpdateAdded:
					added++
				case checkout.UpdateMerged, checkout.UpdateFastForward:
					merged++
				case checkout.UpdateDeleted:
					deleted++
				case checkout.UpdateConflict:
					fmt.Fprintf(cmd.OutOrStdout(), "CONFLICT %s\n", f.Path)
				default:
					unchanged++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated to rid %d: %d added, %d changed, %d deleted, %d unchanged, %d conflict(s)\n",
				targetRid, added, merged, deleted, unchanged, result.Conflicts)
			if result.Conflicts > 0 {
				return fmt.Errorf("%d file(s) have merge conflicts; resolve them before committing", result.Conflicts)
			}
			return nil
		},
	}
}
