package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/objhash"
)

func idFromByte(b byte) objhash.ID {
	var id objhash.ID
	id[0] = b
	return objhash.Of(id[:])
}

func changeFromByte(b byte) objhash.ChangeID {
	var c objhash.ChangeID
	c[0] = b
	return c
}

// buildLinearChain builds A -> B -> C (parents-first) and returns their
// positions.
func buildLinearChain(t *testing.T) (*Index, map[string]Position) {
	t.Helper()
	idx := NewEmpty(t.TempDir())
	root := idx.AddCommit(idFromByte(0), changeFromByte(0), nil)
	a := idx.AddCommit(idFromByte(1), changeFromByte(1), nil)
	require.Equal(t, uint32(0), idx.Generation(a))
	b := idx.AddCommit(idFromByte(2), changeFromByte(2), []objhash.ID{idFromByte(1)})
	c := idx.AddCommit(idFromByte(3), changeFromByte(3), []objhash.ID{idFromByte(2)})
	return idx, map[string]Position{"root": root, "a": a, "b": b, "c": c}
}

func TestGenerationIsOnePlusMaxParent(t *testing.T) {
	idx, pos := buildLinearChain(t)
	require.Equal(t, uint32(0), idx.Generation(pos["a"]))
	require.Equal(t, uint32(1), idx.Generation(pos["b"]))
	require.Equal(t, uint32(2), idx.Generation(pos["c"]))
}

func TestIsAncestor(t *testing.T) {
	idx, pos := buildLinearChain(t)
	require.True(t, idx.IsAncestor(pos["a"], pos["c"]))
	require.True(t, idx.IsAncestor(pos["a"], pos["a"]))
	require.False(t, idx.IsAncestor(pos["c"], pos["a"]))
}

func TestHeadsIsAntichain(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	a := idx.AddCommit(idFromByte(1), changeFromByte(1), nil)
	b := idx.AddCommit(idFromByte(2), changeFromByte(2), []objhash.ID{idFromByte(1)})
	e := idx.AddCommit(idFromByte(3), changeFromByte(3), []objhash.ID{idFromByte(1)})

	heads := idx.Heads([]Position{a, b, e})
	require.ElementsMatch(t, []Position{b, e}, heads)
}

func TestCommonAncestors(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	a := idx.AddCommit(idFromByte(1), changeFromByte(1), nil)
	idx.AddCommit(idFromByte(2), changeFromByte(2), []objhash.ID{idFromByte(1)}) // b
	idx.AddCommit(idFromByte(3), changeFromByte(3), []objhash.ID{idFromByte(1)}) // e, sibling of b
	bPos, _ := idx.CommitIDToPos(idFromByte(2))
	ePos, _ := idx.CommitIDToPos(idFromByte(3))

	common := idx.CommonAncestors([]Position{bPos}, []Position{ePos})
	require.ElementsMatch(t, []Position{a}, common)
}

func TestWalkRevsEmitsWantedNotUnwanted(t *testing.T) {
	idx, pos := buildLinearChain(t)
	w := idx.WalkRevs([]Position{pos["c"]}, []Position{pos["a"]})
	var got []Position
	for {
		p, ok := w.Next()
		if !ok {
			break
		}
		got = append(got, p)
	}
	require.Contains(t, got, pos["c"])
	require.Contains(t, got, pos["b"])
	require.NotContains(t, got, pos["a"])
}

func TestResolveCommitIDPrefix(t *testing.T) {
	idx, pos := buildLinearChain(t)
	full := idx.CommitID(pos["c"])
	res, found := idx.ResolveCommitIDPrefix(objhash.HexPrefix(full.String()))
	require.Equal(t, Single, res)
	require.Equal(t, pos["c"], found)
}

func TestResolvePrefixNoMatch(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	idx.AddCommit(idFromByte(1), changeFromByte(1), nil)
	res, _ := idx.ResolveCommitIDPrefix(objhash.HexPrefix("ffffffff"))
	require.Equal(t, NoMatch, res)
}

func TestEmptyIndexBoundaries(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	require.Equal(t, 0, idx.NumCommits())
	require.Empty(t, idx.Heads(nil))
	res, _ := idx.ResolveCommitIDPrefix("ab")
	require.Equal(t, NoMatch, res)
}

func TestRootOnlyIndexHasOneHeadGenerationZero(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	root := idx.AddCommit(idFromByte(0), changeFromByte(0), nil)
	require.Equal(t, uint32(0), idx.Generation(root))
	heads := idx.Heads([]Position{root})
	require.Equal(t, []Position{root}, heads)
}

func TestAddCommitMissingParentPanics(t *testing.T) {
	idx := NewEmpty(t.TempDir())
	require.Panics(t, func() {
		idx.AddCommit(idFromByte(9), changeFromByte(9), []objhash.ID{idFromByte(100)})
	})
}

func TestSaveAndReopenPreservesAncestry(t *testing.T) {
	dir := t.TempDir()
	idx := NewEmpty(dir)
	idx.AddCommit(idFromByte(1), changeFromByte(1), nil)
	idx.AddCommit(idFromByte(2), changeFromByte(2), []objhash.ID{idFromByte(1)})
	name, err := idx.Save()
	require.NoError(t, err)
	require.NotEmpty(t, name)

	reopened, err := Open(dir, name)
	require.NoError(t, err)
	a, ok := reopened.CommitIDToPos(idFromByte(1))
	require.True(t, ok)
	b, ok := reopened.CommitIDToPos(idFromByte(2))
	require.True(t, ok)
	require.True(t, reopened.IsAncestor(a, b))
	require.Equal(t, uint32(1), reopened.Generation(b))
}
