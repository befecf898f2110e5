package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/antgroup/wisp/internal/repo"
)

// gcGracePeriod keeps recently written unreachable objects around briefly,
// so a commit still being assembled by a concurrent operation is never
// swept out from under it.
const gcGracePeriod = 15 * time.Minute

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove objects unreachable from any head, bookmark, or tag",
	RunE:  runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	r, err := repo.Open(root)
	if err != nil {
		return err
	}
	defer r.Close()

	summary, err := r.GC(cmd.Context(), time.Now().Add(-gcGracePeriod).Unix())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}
