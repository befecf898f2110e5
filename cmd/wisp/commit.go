package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/repo"
)

var commitMessage string

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record the working copy's current state as a new commit",
	RunE:  runCommit,
}

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit description")
	rootCmd.AddCommand(commitCmd)
}

func runCommit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	c, err := r.Commit(cmd.Context(), commitMessage)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Committed %s\n", c.ID)
	return nil
}
