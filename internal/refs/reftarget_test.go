package refs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/objhash"
)

func idFor(b byte) objhash.ID {
	var raw [1]byte
	raw[0] = b
	return objhash.Of(raw[:])
}

func TestNormalizeIsIdempotent(t *testing.T) {
	a, b := idFor(1), idFor(2)
	t1 := RefTarget{Adds: []objhash.ID{a, b}, Removes: []objhash.ID{a}}
	once := t1.Normalize()
	twice := once.Normalize()
	require.Equal(t, once, twice)
	require.Equal(t, []objhash.ID{b}, once.Adds)
	require.Empty(t, once.Removes)
}

func TestThreeWayMergeSameTargetTakesIt(t *testing.T) {
	a := idFor(1)
	base := Normal(a)
	require.Equal(t, Normal(a), ThreeWayMerge(base, Normal(a), Normal(a)))
}

func TestThreeWayMergeUnchangedSideTakesOther(t *testing.T) {
	base := Normal(idFor(1))
	moved := Normal(idFor(2))
	require.Equal(t, moved, ThreeWayMerge(base, moved, base))
	require.Equal(t, moved, ThreeWayMerge(base, base, moved))
}

func TestThreeWayMergeDivergentMoveConflicts(t *testing.T) {
	base := Normal(idFor(1))
	toB := Normal(idFor(2))
	toC := Normal(idFor(3))
	merged := ThreeWayMerge(base, toB, toC)
	require.True(t, merged.IsConflict())
	require.ElementsMatch(t, []objhash.ID{idFor(2), idFor(3)}, merged.Adds)
	require.Equal(t, []objhash.ID{idFor(1)}, merged.Removes)
}

// TestThreeWayMergeMovedVsDeleted covers spec §9 Scenario D: one side moves
// a bookmark, the other deletes it. The result is present (still requires
// resolution) and conflicted.
func TestThreeWayMergeMovedVsDeleted(t *testing.T) {
	base := Normal(idFor(1))
	moved := Normal(idFor(2))
	deleted := Absent()
	merged := ThreeWayMerge(base, moved, deleted)
	require.True(t, merged.Present())
	require.True(t, merged.IsConflict())
	require.Equal(t, []objhash.ID{idFor(2)}, merged.Normalize().Adds)
}

func TestThreeWayMergeBothDeletedIsAbsent(t *testing.T) {
	base := Normal(idFor(1))
	merged := ThreeWayMerge(base, Absent(), Absent())
	require.False(t, merged.Present())
}

func TestAsNormalOnlyForCleanPresent(t *testing.T) {
	id, ok := Normal(idFor(1)).AsNormal()
	require.True(t, ok)
	require.Equal(t, idFor(1), id)

	_, ok = Absent().AsNormal()
	require.False(t, ok)

	conflict := RefTarget{Adds: []objhash.ID{idFor(1), idFor(2)}, Removes: []objhash.ID{idFor(3)}}
	_, ok = conflict.AsNormal()
	require.False(t, ok)
}
