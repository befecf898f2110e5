package rebase

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/index"
	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
)

// memBackend is a minimal in-memory store.Backend for exercising the rebase
// engine without touching disk.
type memBackend struct {
	commits map[objhash.ID]*object.Commit
	trees   map[objhash.ID]*object.Tree
	empty   objhash.ID
}

func newMemBackend() *memBackend {
	b := &memBackend{commits: map[objhash.ID]*object.Commit{}, trees: map[objhash.ID]*object.Tree{}}
	empty := &object.Tree{}
	b.empty = empty.ComputeID()
	b.trees[b.empty] = empty
	return b
}

func (b *memBackend) ReadCommit(ctx context.Context, id objhash.ID) (*object.Commit, error) {
	return b.commits[id], nil
}
func (b *memBackend) WriteCommit(ctx context.Context, c *object.Commit) (objhash.ID, error) {
	id := c.ComputeID()
	b.commits[id] = c
	return id, nil
}
func (b *memBackend) ReadTree(ctx context.Context, prefix string, id objhash.ID) (*object.Tree, error) {
	return b.trees[id], nil
}
func (b *memBackend) WriteTree(ctx context.Context, prefix string, t *object.Tree) (objhash.ID, error) {
	id := t.ComputeID()
	b.trees[id] = t
	return id, nil
}
func (b *memBackend) ReadFile(ctx context.Context, id objhash.ID) (io.ReadCloser, error) {
	return nil, nil
}
func (b *memBackend) WriteFile(ctx context.Context, r io.Reader) (objhash.ID, error) {
	return objhash.ZeroID, nil
}
func (b *memBackend) RootCommitID(ctx context.Context) objhash.ID { return objhash.ZeroID }
func (b *memBackend) EmptyTreeID(ctx context.Context) objhash.ID  { return b.empty }
func (b *memBackend) GC(ctx context.Context, reachable map[objhash.ID]struct{}, cutoff int64) error {
	return nil
}
func (b *memBackend) GetCopyRecords(ctx context.Context, filter func(string) bool, src, dst objhash.ID) (<-chan store.CopyRecord, error) {
	ch := make(chan store.CopyRecord)
	close(ch)
	return ch, nil
}
func (b *memBackend) Close() error { return nil }

var _ store.Backend = (*memBackend)(nil)

func sig(name string) object.Signature {
	return object.Signature{Name: name, Email: name + "@example.com"}
}

func mustTree(b *memBackend, entries ...*object.TreeEntry) objhash.ID {
	t := &object.Tree{Entries: entries}
	id := t.ComputeID()
	b.trees[id] = t
	return id
}

func mustCommit(b *memBackend, idx *index.Index, changeID byte, tree objhash.ID, parents ...objhash.ID) objhash.ID {
	var cid objhash.ChangeID
	cid[0] = changeID
	c := &object.Commit{ChangeID: cid, RootTreeID: tree, ParentIDs: parents, Author: sig("a"), Committer: sig("a")}
	c.ComputeID()
	b.commits[c.ID] = c
	idx.AddCommit(c.ID, cid, parents)
	return c.ID
}

// TestRebaseDescendantsPropagatesSingleParentEdit builds A -> B -> C, then
// directly rewrites A to A' (changing its tree) and checks that B and C are
// both rebuilt on top of A' while keeping their own tree content.
func TestRebaseDescendantsPropagatesSingleParentEdit(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	idx := index.NewEmpty(t.TempDir())

	treeA := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a1"))})
	aID := mustCommit(b, idx, 1, treeA)
	treeB := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a1"))}, &object.TreeEntry{Name: "b.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("b1"))})
	bID := mustCommit(b, idx, 2, treeB, aID)
	treeC := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a1"))}, &object.TreeEntry{Name: "b.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("b1"))}, &object.TreeEntry{Name: "c.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("c1"))})
	cID := mustCommit(b, idx, 3, treeC, bID)

	// Rewrite A: edit a.txt.
	newTreeA := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a2"))})
	aPrime := mustCommit(b, idx, 1, newTreeA)

	eng := New(b, idx)
	eng.Replace(aID, aPrime)

	results, err := eng.RebaseDescendants(ctx, []objhash.ID{cID})
	require.NoError(t, err)

	byOld := map[objhash.ID]Result{}
	for _, r := range results {
		byOld[r.Old] = r
	}
	require.Contains(t, byOld, aID)
	require.Contains(t, byOld, bID)
	require.Contains(t, byOld, cID)

	bResult := byOld[bID]
	require.Len(t, bResult.New, 1)
	newB, err := b.ReadCommit(ctx, bResult.New[0])
	require.NoError(t, err)
	newBTree, err := b.ReadTree(ctx, "", newB.RootTreeID)
	require.NoError(t, err)
	require.NotNil(t, newBTree.Entry("b.txt"))
	require.Equal(t, objhash.Of([]byte("a2")), newBTree.Entry("a.txt").ID)
}

// TestRebaseDescendantsAbandonReattachesToGrandparent checks that abandoning
// a commit reattaches its child to its own parent.
func TestRebaseDescendantsAbandonReattachesToGrandparent(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	idx := index.NewEmpty(t.TempDir())

	treeRoot := mustTree(b)
	rootID := mustCommit(b, idx, 0, treeRoot)
	treeA := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a1"))})
	aID := mustCommit(b, idx, 1, treeA, rootID)
	treeB := mustTree(b, &object.TreeEntry{Name: "a.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("a1"))}, &object.TreeEntry{Name: "b.txt", Kind: object.EntryFile, ID: objhash.Of([]byte("b1"))})
	bID := mustCommit(b, idx, 2, treeB, aID)

	eng := New(b, idx)
	eng.Abandon(aID)

	results, err := eng.RebaseDescendants(ctx, []objhash.ID{bID})
	require.NoError(t, err)

	byOld := map[objhash.ID]Result{}
	for _, r := range results {
		byOld[r.Old] = r
	}
	require.Contains(t, byOld, aID)
	require.Empty(t, byOld[aID].New)

	bResult := byOld[bID]
	require.Len(t, bResult.New, 1)
	newB, err := b.ReadCommit(ctx, bResult.New[0])
	require.NoError(t, err)
	require.Equal(t, []objhash.ID{rootID}, newB.ParentIDs)
}
