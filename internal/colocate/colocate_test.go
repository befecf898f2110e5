package colocate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/store/gitadapter"
)

func idFor(b byte) objhash.ID {
	var raw [1]byte
	raw[0] = b
	return objhash.Of(raw[:])
}

func TestReconcileImportsNewBranchAsLocalBookmark(t *testing.T) {
	view := refs.NewView()
	c1 := idFor(1)

	Reconcile(view, "default", gitadapter.ImportedRefs{
		Heads: map[string]objhash.ID{"main": c1},
	})

	require.Equal(t, refs.Normal(c1), view.LocalBookmarks["main"].Local)
	require.Equal(t, refs.Normal(c1), view.GitRefs[gitadapter.HeadsPrefix+"/main"])
}

func TestReconcileDivergentBookmarkMoveConflicts(t *testing.T) {
	view := refs.NewView()
	base, ours, theirs := idFor(1), idFor(2), idFor(3)

	Reconcile(view, "default", gitadapter.ImportedRefs{Heads: map[string]objhash.ID{"main": base}})
	view.SetLocalBookmark("main", refs.Normal(ours))

	Reconcile(view, "default", gitadapter.ImportedRefs{Heads: map[string]objhash.ID{"main": theirs}})

	target := view.LocalBookmarks["main"].Local
	require.True(t, target.IsConflict())
	require.ElementsMatch(t, []objhash.ID{ours, theirs}, target.Normalize().Adds)
}

func TestReconcileDeletedGitBranchMergesAgainstAbsent(t *testing.T) {
	view := refs.NewView()
	c1 := idFor(1)

	Reconcile(view, "default", gitadapter.ImportedRefs{Heads: map[string]objhash.ID{"main": c1}})
	require.Contains(t, view.LocalBookmarks, "main")

	// The bookmark was never moved locally, so an upstream delete (the
	// branch no longer appears in the imported set) propagates cleanly.
	Reconcile(view, "default", gitadapter.ImportedRefs{})
	require.NotContains(t, view.LocalBookmarks, "main")
	require.NotContains(t, view.GitRefs, gitadapter.HeadsPrefix+"/main")
}

func TestReconcileHeadAdoptsExternalCheckout(t *testing.T) {
	view := refs.NewView()
	c1, c2 := idFor(1), idFor(2)

	// Establish a prior mirror (as if a first reconciliation already ran)
	// before the external checkout this test exercises.
	view.GitHead = refs.Normal(c1)
	view.Heads[c1] = struct{}{}
	view.Workspaces["default"] = c1

	// External `git checkout` moves HEAD to c2 with no bookmark following.
	Reconcile(view, "default", gitadapter.ImportedRefs{Head: gitadapter.HeadState{Commit: c2}})
	require.Equal(t, c2, view.Workspaces["default"])
	require.Contains(t, view.Heads, c2)
	require.NotContains(t, view.Heads, c1, "abandoned working-copy commit with no bookmark should be dropped")
}

func TestReconcileHeadKeepsOldCommitIfBookmarkStillTargetsIt(t *testing.T) {
	view := refs.NewView()
	c1, c2 := idFor(1), idFor(2)

	view.GitHead = refs.Normal(c1)
	view.Heads[c1] = struct{}{}
	view.Workspaces["default"] = c1
	view.SetLocalBookmark("keep-me", refs.Normal(c1))

	Reconcile(view, "default", gitadapter.ImportedRefs{
		Heads: map[string]objhash.ID{"keep-me": c1},
		Head:  gitadapter.HeadState{Commit: c2},
	})
	require.Equal(t, c2, view.Workspaces["default"])
	require.Contains(t, view.Heads, c1, "a bookmark still targets the old commit, so it must not be abandoned")
}

func TestReconcileHeadUnbornBranchClearsGitHead(t *testing.T) {
	view := refs.NewView()
	view.GitHead = refs.Normal(idFor(1))

	Reconcile(view, "default", gitadapter.ImportedRefs{Head: gitadapter.HeadState{}})

	require.False(t, view.GitHead.Present())
}

func TestPrepareExportPointsHeadAtMatchingBookmark(t *testing.T) {
	view := refs.NewView()
	c1 := idFor(1)
	view.SetLocalBookmark("main", refs.Normal(c1))
	view.Workspaces["default"] = c1

	heads, _, head := PrepareExport(view, "default")

	require.Equal(t, c1, heads["main"])
	require.Equal(t, "main", head.Branch)
	require.True(t, head.Commit.IsZero())
}

func TestPrepareExportBreaksTiesByLexicographicallySmallestName(t *testing.T) {
	view := refs.NewView()
	c1 := idFor(1)
	view.SetLocalBookmark("zeta", refs.Normal(c1))
	view.SetLocalBookmark("alpha", refs.Normal(c1))
	view.Workspaces["default"] = c1

	_, _, head := PrepareExport(view, "default")

	require.Equal(t, "alpha", head.Branch)
}

func TestPrepareExportDetachesWhenNoBookmarkMatches(t *testing.T) {
	view := refs.NewView()
	c1 := idFor(1)
	view.Workspaces["default"] = c1

	heads, _, head := PrepareExport(view, "default")

	require.Empty(t, heads)
	require.Empty(t, head.Branch)
	require.Equal(t, c1, head.Commit)
}

func TestPrepareExportOmitsConflictedBookmarksAndTags(t *testing.T) {
	view := refs.NewView()
	c1, c2 := idFor(1), idFor(2)
	view.SetLocalBookmark("main", refs.RefTarget{Adds: []objhash.ID{c1, c2}})
	view.Tags["v1"] = refs.RefTarget{Adds: []objhash.ID{c1, c2}}

	heads, tags, _ := PrepareExport(view, "default")

	require.NotContains(t, heads, "main")
	require.NotContains(t, tags, "v1")
}
