package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/repo"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history for the current workspace",
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 10, "maximum number of commits to show (0 for unlimited)")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	commits, err := r.Log(cmd.Context(), logLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, c := range commits {
		fmt.Fprintf(out, "%s  %s\n", c.ID, firstLine(c.Description))
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
