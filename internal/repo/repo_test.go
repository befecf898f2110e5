package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/werr"
)

func TestInitThenOpenRoundTrips(t *testing.T) {
	root := t.TempDir()

	r, err := Init(root)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(root)
	require.NoError(t, err)
	defer r2.Close()

	commits, err := r2.Log(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, commits, "a freshly initialized repo has no commits yet, only the root sentinel")
}

func TestInitTwiceFails(t *testing.T) {
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = Init(root)
	require.Error(t, err)
	require.True(t, werr.Is(err, werr.KindInvalidArgument))
}

func TestStatusReportsCleanThenChanged(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	st, err := r.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Changed)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))

	st, err = r.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.Changed)
}

func TestCommitRecordsSnapshotAndAdvancesLog(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))

	c, err := r.Commit(ctx, "first commit")
	require.NoError(t, err)
	require.False(t, c.ID.IsZero())
	require.Equal(t, "first commit", c.Description)

	commits, err := r.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, c.ID, commits[0].ID)

	st, err := r.Status(ctx)
	require.NoError(t, err)
	require.False(t, st.Changed, "status should be clean immediately after a commit")
}

func TestCommitWithNoChangesFails(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Commit(ctx, "nothing to see here")
	require.Error(t, err)
	require.True(t, werr.Is(err, werr.KindInvalidArgument))
}

func TestGCNeverRemovesReachableHistoryEvenWithAggressiveCutoff(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644))
	c, err := r.Commit(ctx, "first")
	require.NoError(t, err)

	// A cutoff far in the future would sweep every unreachable object
	// regardless of age; the commit and its tree must still survive
	// because they're reachable from the workspace head.
	summary, err := r.GC(ctx, time.Now().Add(time.Hour).Unix())
	require.NoError(t, err)
	require.Contains(t, summary, "removed")

	commits, err := r.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	require.Equal(t, c.ID, commits[0].ID)
}

func TestCommitTwiceChainsParents(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	r, err := Init(root)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v1"), 0644))
	first, err := r.Commit(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("v2"), 0644))
	second, err := r.Commit(ctx, "v2")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ParentIDs[0])

	commits, err := r.Log(ctx, 0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	require.Equal(t, second.ID, commits[0].ID)
	require.Equal(t, first.ID, commits[1].ID)
}
