// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fossil-scm/fossil-core/resolve"
)

func newResolveCmd() *cobra.Command {
	var typeHint string
	cmd := &cobra.Command{
		Use:   "resolve NAME",
		Short: "Resolve a hash, prefix, tag, branch, or date to a RID",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("resolve takes exactly one NAME argument")
			}
			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			rid, err := r.Resolve.Resolve(cmd.Context(), args[0], resolve.Type(typeHint))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rid)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeHint, "type", "", "narrow resolution to one artifact kind: ci, w, or e")
	return cmd
}
