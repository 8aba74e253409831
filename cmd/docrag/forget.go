package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewForgetCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:     "forget <document-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a document, its vectors and its chat history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.Forget(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("forget %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			return nil
		},
	}
}
