// Copyright 2024 The Fossil-core Authors
// This file is part of fossil-core.

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fossil-scm/fossil-core/blobstore"
	"github.com/fossil-scm/fossil-core/fossilhash"
)

func newCommitCmd() *cobra.Command {
	var private bool
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Store the artifact on stdin, crosslink it, and propagate any tags it declares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read artifact from stdin: %w", err)
			}
			r, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			rid, h, err := r.Record(cmd.Context(), raw, fossilhash.AlgoSha1, blobstore.PutOptions{Private: private})
			if err != nil {
				return err
			}
			if rid == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "shunned: no artifact stored")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", rid, h.Hex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "mark the artifact private (never offered to peers)")
	return cmd
}
