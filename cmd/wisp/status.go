package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/repo"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the working copy has uncommitted changes",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	st, err := r.Status(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !st.Changed {
		fmt.Fprintln(out, "The working copy is clean.")
		return nil
	}
	fmt.Fprintf(out, "Working copy changes (tree %s, recorded %s)\n", st.WorkingID, st.RecordedID)
	return nil
}
