package object

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/objhash"
)

func testSig(name string) Signature {
	return Signature{Name: name, Email: name + "@example.com", When: time.Unix(1700000000, 0).UTC()}
}

func TestCommitContentAddressing(t *testing.T) {
	c1 := &Commit{
		ChangeID:    objhash.ChangeID{1},
		RootTreeID:  objhash.Of([]byte("tree")),
		Author:      testSig("a"),
		Committer:   testSig("a"),
		Description: "hello",
	}
	c2 := &Commit{
		ChangeID:    objhash.ChangeID{1},
		RootTreeID:  objhash.Of([]byte("tree")),
		Author:      testSig("a"),
		Committer:   testSig("a"),
		Description: "hello",
	}
	require.Equal(t, c1.ComputeID(), c2.ComputeID(), "equal content must yield equal id")

	c2.Description = "different"
	require.NotEqual(t, c1.ID, c2.ComputeID())
}

func TestTreeSubtreeOrder(t *testing.T) {
	tr := &Tree{Entries: []*TreeEntry{
		{Name: "b", Kind: EntryFile},
		{Name: "a.txt", Kind: EntryFile},
		{Name: "a", Kind: EntryTree},
	}}
	tr.ComputeID()
	// "a" is a directory so it sorts as "a/", which comes after "a.txt"
	// (both ahead of 'b') because '.' < '/' in the name but here the
	// subtree name suffix controls ordering relative to siblings sharing
	// the "a" prefix.
	require.Equal(t, "a.txt", tr.Entries[0].Name)
	require.Equal(t, "a", tr.Entries[1].Name)
	require.Equal(t, "b", tr.Entries[2].Name)
}

func TestTreeMergeReplacesByName(t *testing.T) {
	base := &Tree{Entries: []*TreeEntry{
		{Name: "f1", Kind: EntryFile, ID: objhash.Of([]byte("1"))},
		{Name: "f2", Kind: EntryFile, ID: objhash.Of([]byte("2"))},
	}}
	merged := base.Merge(&TreeEntry{Name: "f1", Kind: EntryFile, ID: objhash.Of([]byte("1-new"))})
	require.Equal(t, objhash.Of([]byte("1-new")), merged.Entry("f1").ID)
	require.Equal(t, objhash.Of([]byte("2")), merged.Entry("f2").ID)
}

func TestMergedTreeSequenceResolved(t *testing.T) {
	single := NewMergedTreeSequence(objhash.Of([]byte("x")))
	require.True(t, single.Resolved())
	id, ok := single.ResolvedID()
	require.True(t, ok)
	require.Equal(t, objhash.Of([]byte("x")), id)

	conflict := MergedTreeSequence{objhash.Of([]byte("a")), objhash.Of([]byte("base")), objhash.Of([]byte("b"))}
	require.False(t, conflict.Resolved())
	require.Len(t, conflict.Adds(), 2)
	require.Len(t, conflict.Removes(), 1)
}

func TestMergeTreesThreeWay(t *testing.T) {
	base := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("base"))}}}
	a := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("a-change"))}}}
	b := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("base"))}}}

	merged, conflict, err := MergeTrees(base, a, b, nil, nil)
	require.NoError(t, err)
	require.False(t, conflict)
	require.Equal(t, objhash.Of([]byte("a-change")), merged.Entry("f").ID)
}

func TestMergeTreesConflict(t *testing.T) {
	base := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("base"))}}}
	a := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("a-change"))}}}
	b := &Tree{Entries: []*TreeEntry{{Name: "f", Kind: EntryFile, ID: objhash.Of([]byte("b-change"))}}}

	merged, conflict, err := MergeTrees(base, a, b, nil, nil)
	require.NoError(t, err)
	require.True(t, conflict)
	require.Equal(t, EntryConflict, merged.Entry("f").Kind)
}
