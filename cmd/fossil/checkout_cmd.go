// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkout REV DIR",
		Short: "Materialize REV (any name resolve accepts) into the working directory DIR",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("checkout takes REV and DIR arguments")
			}
			rev, dir := args[0], args[1]

			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			rid, err := r.Resolve.Resolve(cmd.Context(), rev, "")
			if err != nil {
				return err
			}
			body, err := r.Blobs.Get(cmd.Context(), rid)
			if err != nil {
				return err
			}

			tree, err := r.OpenCheckout(cmd.Context(), dir)
			if err != nil {
				return err
			}
			defer tree.Close()

			if err := tree.LoadFrom(cmd.Context(), rid, body); err != nil {
				return err
			}
			if err := tree.MaterializeToDisk(cmd.Context(), false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked out rid %d into %s\n", rid, dir)
			return nil
		},
	}
	return cmd
}
