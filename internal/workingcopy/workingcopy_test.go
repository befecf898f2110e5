package workingcopy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store/native"
)

func newTestWorkingCopy(t *testing.T) (*WorkingCopy, *native.Store) {
	t.Helper()
	root := t.TempDir()
	backend, err := native.Open(filepath.Join(root, "objects-store"))
	require.NoError(t, err)
	wc, err := Open(filepath.Join(root, "work"), filepath.Join(root, "work", ".wisp"), "default", backend)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "work"), 0755))
	return wc, backend
}

func TestSnapshotTracksNewAndChangedFiles(t *testing.T) {
	ctx := context.Background()
	wc, _ := newTestWorkingCopy(t)

	require.NoError(t, wc.StartMutation())
	require.NoError(t, os.WriteFile(filepath.Join(wc.root, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(wc.root, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(wc.root, "sub", "b.txt"), []byte("world"), 0644))

	treeID, changed, err := wc.Snapshot(ctx, SnapshotConfig{MaxParallelism: 2})
	require.NoError(t, err)
	require.True(t, changed)
	require.False(t, treeID.IsZero())
	require.NoError(t, wc.Finish(objhash.Of([]byte("op1"))))

	// Reopening sees the same tree id without re-walking anything new.
	wc2, err := Open(wc.root, wc.stateDir, "default", wc.backend)
	require.NoError(t, err)
	require.Equal(t, treeID, wc2.TreeID())

	require.NoError(t, wc2.StartMutation())
	treeID2, changed2, err := wc2.Snapshot(ctx, SnapshotConfig{})
	require.NoError(t, err)
	require.False(t, changed2)
	require.Equal(t, treeID, treeID2)
	require.NoError(t, wc2.Finish(objhash.Of([]byte("op1"))))
}

func TestSnapshotDeletesRemovedFiles(t *testing.T) {
	ctx := context.Background()
	wc, _ := newTestWorkingCopy(t)

	require.NoError(t, wc.StartMutation())
	require.NoError(t, os.WriteFile(filepath.Join(wc.root, "a.txt"), []byte("hello"), 0644))
	_, _, err := wc.Snapshot(ctx, SnapshotConfig{})
	require.NoError(t, err)
	require.NoError(t, wc.Finish(objhash.Of([]byte("op1"))))

	require.NoError(t, wc.StartMutation())
	require.NoError(t, os.Remove(filepath.Join(wc.root, "a.txt")))
	treeID, changed, err := wc.Snapshot(ctx, SnapshotConfig{})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, wc.backend.EmptyTreeID(ctx), treeID)
	require.NoError(t, wc.Finish(objhash.Of([]byte("op2"))))
}

func TestCheckoutMaterializesAndRemoves(t *testing.T) {
	ctx := context.Background()
	wc, backend := newTestWorkingCopy(t)

	fileID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("content-a")))
	require.NoError(t, err)
	tree := &object.Tree{Entries: []*object.TreeEntry{{Name: "a.txt", Kind: object.EntryFile, ID: fileID}}}
	treeID, err := backend.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	require.NoError(t, wc.StartMutation())
	stats, err := wc.Checkout(ctx, backend.EmptyTreeID(ctx), treeID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Added)
	require.Equal(t, 0, stats.Removed)
	data, err := os.ReadFile(filepath.Join(wc.root, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "content-a", string(data))
	require.NoError(t, wc.Finish(objhash.Of([]byte("op1"))))

	require.NoError(t, wc.StartMutation())
	stats2, err := wc.Checkout(ctx, treeID, backend.EmptyTreeID(ctx))
	require.NoError(t, err)
	require.Equal(t, 1, stats2.Removed)
	_, err = os.Stat(filepath.Join(wc.root, "a.txt"))
	require.True(t, os.IsNotExist(err))
	require.NoError(t, wc.Finish(objhash.Of([]byte("op2"))))
}

func TestCheckoutFileBecomesDirectory(t *testing.T) {
	ctx := context.Background()
	wc, backend := newTestWorkingCopy(t)

	fileID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("was-a-file")))
	require.NoError(t, err)
	oldTree := &object.Tree{Entries: []*object.TreeEntry{{Name: "x", Kind: object.EntryFile, ID: fileID}}}
	oldTreeID, err := backend.WriteTree(ctx, "", oldTree)
	require.NoError(t, err)

	innerID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("now-a-dir")))
	require.NoError(t, err)
	innerTree := &object.Tree{Entries: []*object.TreeEntry{{Name: "y", Kind: object.EntryFile, ID: innerID}}}
	innerTreeID, err := backend.WriteTree(ctx, "x", innerTree)
	require.NoError(t, err)
	newTree := &object.Tree{Entries: []*object.TreeEntry{{Name: "x", Kind: object.EntryTree, ID: innerTreeID}}}
	newTreeID, err := backend.WriteTree(ctx, "", newTree)
	require.NoError(t, err)

	require.NoError(t, wc.StartMutation())
	_, err = wc.Checkout(ctx, backend.EmptyTreeID(ctx), oldTreeID)
	require.NoError(t, err)
	require.NoError(t, wc.Finish(objhash.Of([]byte("op1"))))

	require.NoError(t, wc.StartMutation())
	_, err = wc.Checkout(ctx, oldTreeID, newTreeID)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(wc.root, "x"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
	data, err := os.ReadFile(filepath.Join(wc.root, "x", "y"))
	require.NoError(t, err)
	require.Equal(t, "now-a-dir", string(data))
	require.NoError(t, wc.Finish(objhash.Of([]byte("op2"))))
}

func TestConflictMarkerRoundTripsThroughSnapshot(t *testing.T) {
	ctx := context.Background()
	wc, backend := newTestWorkingCopy(t)

	addID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("ours")))
	require.NoError(t, err)
	baseID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("base")))
	require.NoError(t, err)
	theirsID, err := backend.WriteFile(ctx, bytes.NewReader([]byte("theirs")))
	require.NoError(t, err)
	seq := object.MergedTreeSequence{addID, baseID, theirsID}

	blobID, err := writeConflictBlob(ctx, backend, seq)
	require.NoError(t, err)
	tree := &object.Tree{Entries: []*object.TreeEntry{{Name: "c.txt", Kind: object.EntryConflict, ID: blobID}}}
	treeID, err := backend.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	require.NoError(t, wc.StartMutation())
	_, err = wc.Checkout(ctx, backend.EmptyTreeID(ctx), treeID)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(wc.root, "c.txt"))
	require.NoError(t, err)
	require.True(t, looksLikeConflict(data))
	require.NoError(t, wc.Finish(objhash.Of([]byte("op1"))))

	// Leave the conflict markers untouched: re-snapshot should recognize and
	// re-encode the same three-term sequence, not treat it as a plain file.
	require.NoError(t, wc.StartMutation())
	newTreeID, changed, err := wc.Snapshot(ctx, SnapshotConfig{})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, treeID, newTreeID)
	require.NoError(t, wc.Finish(objhash.Of([]byte("op2"))))

	// Resolve by hand-editing the file to plain content: next snapshot
	// should see it as a fully-resolved plain file.
	require.NoError(t, wc.StartMutation())
	require.NoError(t, os.WriteFile(filepath.Join(wc.root, "c.txt"), []byte("resolved"), 0644))
	resolvedTreeID, changed, err := wc.Snapshot(ctx, SnapshotConfig{})
	require.NoError(t, err)
	require.True(t, changed)
	resolvedTree, err := backend.ReadTree(ctx, "", resolvedTreeID)
	require.NoError(t, err)
	require.Equal(t, object.EntryFile, resolvedTree.Entry("c.txt").Kind)
	require.NoError(t, wc.Finish(objhash.Of([]byte("op3"))))
}

func TestApplyChangesMergeJoin(t *testing.T) {
	ts := newTreeState()
	ts.Files = []FileEntry{
		{Path: "a", State: FileState{Kind: object.EntryFile, ID: objhash.Of([]byte("a"))}},
		{Path: "b", State: FileState{Kind: object.EntryFile, ID: objhash.Of([]byte("b"))}},
		{Path: "c", State: FileState{Kind: object.EntryFile, ID: objhash.Of([]byte("c"))}},
	}
	changed := []FileEntry{
		{Path: "b", State: FileState{Kind: object.EntryFile, ID: objhash.Of([]byte("b2"))}},
		{Path: "d", State: FileState{Kind: object.EntryFile, ID: objhash.Of([]byte("d"))}},
	}
	deleted := map[string]struct{}{"a": {}}

	ts.applyChanges(changed, deleted)

	byPath := ts.byPath()
	_, stillThere := byPath["a"]
	require.False(t, stillThere)
	require.Equal(t, objhash.Of([]byte("b2")), byPath["b"].ID)
	require.Equal(t, objhash.Of([]byte("c")), byPath["c"].ID)
	require.Equal(t, objhash.Of([]byte("d")), byPath["d"].ID)
	require.Len(t, ts.Files, 3)
}

func TestMatcherIntersection(t *testing.T) {
	m := buildMatcher([]string{"src"}, map[string]struct{}{"src/a.go": {}, "docs/b.md": {}})
	require.True(t, m.Matches("src/a.go"))
	require.False(t, m.Matches("docs/b.md")) // outside sparse prefix
	require.False(t, m.Matches("src/c.go"))  // not in changed set

	unrestricted := buildMatcher(nil, nil)
	require.True(t, unrestricted.Matches("anything/at/all"))
}
