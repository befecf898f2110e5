package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wisp version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
