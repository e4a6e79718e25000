package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func identifierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identifier Channel [key=value ...]",
		Short: "Print the canonical identifier for a channel",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIdentifier(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}
}
