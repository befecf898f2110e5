package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/repo"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty wisp repo in the current directory",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Init(root)
	if err != nil {
		return err
	}
	defer r.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized empty wisp repo in %s\n", root)
	return nil
}
