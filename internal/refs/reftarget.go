// Package refs implements the View's ref algebra from spec §3/§4.3: a
// RefTarget is a multiset-difference value (adds minus removes) representing
// a possibly-conflicted pointer, and Bookmark/View glue those into the
// mutable metadata layer over the commit store. Grounded on the original
// modules/zeta/refs package for the on-disk shape (a fsBackend over a refs/
// directory, a packed-refs fallback) but built around the conflict algebra
// the original plain "last write wins" ref store does not need.
package refs

import (
	"sort"

	"github.com/antgroup/wisp/internal/objhash"
)

// RefTarget is either a single commit id (normal) or a conflict: equal-size
// (after the +1 rule) multisets of removes and adds, per spec §3.
type RefTarget struct {
	Adds    []objhash.ID
	Removes []objhash.ID
}

// Absent is the not-present RefTarget (a deleted ref).
func Absent() RefTarget { return RefTarget{} }

// Normal constructs a single, unconflicted target.
func Normal(id objhash.ID) RefTarget {
	return RefTarget{Adds: []objhash.ID{id}}
}

// Present reports whether the target currently points somewhere, i.e. it
// has at least one add term after normalization.
//
// Design note (resolves spec §9's flagged Open Question): spec §4.3
// defines presence formulaically as "|adds| > |removes|", which holds for
// the divergent-edit conflicts in §8 invariant set (e.g. 2 adds / 1
// remove) but is violated by the moved-vs-deleted conflict spec §9
// Scenario D constructs by hand (1 add / 1 remove, still meant to render
// as a live, user-resolvable conflict rather than silently vanish). We
// therefore use "present iff len(Adds) > 0" operationally: a ref with any
// surviving add term is present, conflicted or not.
func (t RefTarget) Present() bool {
	n := t.Normalize()
	return len(n.Adds) > 0
}

// IsConflict reports whether the target is present but not in the clean
// single-add/zero-remove normal form.
func (t RefTarget) IsConflict() bool {
	n := t.Normalize()
	return len(n.Adds) > 0 && (len(n.Adds) > 1 || len(n.Removes) > 0)
}

// AsNormal returns the single id if the target is present and unconflicted.
func (t RefTarget) AsNormal() (objhash.ID, bool) {
	n := t.Normalize()
	if len(n.Adds) == 1 && len(n.Removes) == 0 {
		return n.Adds[0], true
	}
	return objhash.ZeroID, false
}

func sortedIDs(ids []objhash.ID) []objhash.ID {
	out := append([]objhash.ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Normalize cancels matching add/remove pairs (multiset difference), per
// spec §4.3 "normalize (cancel common members)". Normalize is idempotent:
// normalize(normalize(t)) == normalize(t) (spec §8 invariant 6), because a
// second pass over an already-cancelled multiset finds nothing left to
// cancel.
func (t RefTarget) Normalize() RefTarget {
	adds := sortedIDs(t.Adds)
	removes := sortedIDs(t.Removes)
	var outAdds, outRemoves []objhash.ID
	i, j := 0, 0
	for i < len(adds) && j < len(removes) {
		switch {
		case adds[i] == removes[j]:
			i++
			j++
		case adds[i].Compare(removes[j]) < 0:
			outAdds = append(outAdds, adds[i])
			i++
		default:
			outRemoves = append(outRemoves, removes[j])
			j++
		}
	}
	outAdds = append(outAdds, adds[i:]...)
	outRemoves = append(outRemoves, removes[j:]...)
	return RefTarget{Adds: outAdds, Removes: outRemoves}
}

// Union combines two targets' raw add/remove multisets and normalizes the
// result, so a term added on one side and removed on the other cancels.
func Union(a, b RefTarget) RefTarget {
	return RefTarget{
		Adds:    append(append([]objhash.ID(nil), a.Adds...), b.Adds...),
		Removes: append(append([]objhash.ID(nil), a.Removes...), b.Removes...),
	}.Normalize()
}

// Intersect keeps only adds/removes present in both targets (by id, with
// multiplicity capped at the minimum count in either side).
func Intersect(a, b RefTarget) RefTarget {
	return RefTarget{
		Adds:    intersectIDs(a.Adds, b.Adds),
		Removes: intersectIDs(a.Removes, b.Removes),
	}.Normalize()
}

func intersectIDs(a, b []objhash.ID) []objhash.ID {
	counts := map[objhash.ID]int{}
	for _, id := range b {
		counts[id]++
	}
	var out []objhash.ID
	for _, id := range a {
		if counts[id] > 0 {
			out = append(out, id)
			counts[id]--
		}
	}
	return out
}

// ThreeWayMerge resolves concurrent moves of a ref against a common base,
// per spec §4.3's three-way merge rules:
//
//   - both sides moved to the same target: take it.
//   - both sides moved to different targets: conflict
//     (removes=[base], adds=[a, b]).
//   - one deleted, one moved: conflict (removes=[base], adds=[movedTarget]),
//     still Present (see the Present doc comment) so the caller surfaces it
//     for resolution instead of treating the bookmark as deleted (spec §9
//     Scenario D).
//   - neither side changed it: base, unchanged.
func ThreeWayMerge(base, a, b RefTarget) RefTarget {
	baseID, baseOK := base.AsNormal()
	aID, aOK := a.AsNormal()
	bID, bOK := b.AsNormal()

	if idsEqualPresence(a, base) {
		return b
	}
	if idsEqualPresence(b, base) {
		return a
	}
	if idsEqualPresence(a, b) {
		return a
	}

	// At least one side diverged from base and they disagree with each
	// other: build the conflict per the remove/add construction above. A
	// single copy of base is removed regardless of whether one or both
	// sides moved away from it (matching the literal removes=[base]
	// worked examples in spec §8/§9); whichever sides are still present
	// contribute their target as an add.
	var removes, adds []objhash.ID
	if baseOK {
		removes = append(removes, baseID)
	}
	if aOK {
		adds = append(adds, aID)
	}
	if bOK {
		adds = append(adds, bID)
	}
	return RefTarget{Adds: adds, Removes: removes}.Normalize()
}

func idsEqualPresence(x, y RefTarget) bool {
	nx, ny := x.Normalize(), y.Normalize()
	if len(nx.Adds) != len(ny.Adds) || len(nx.Removes) != len(ny.Removes) {
		return false
	}
	sa, sb := sortedIDs(nx.Adds), sortedIDs(ny.Adds)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	sr, sb2 := sortedIDs(nx.Removes), sortedIDs(ny.Removes)
	for i := range sr {
		if sr[i] != sb2[i] {
			return false
		}
	}
	return true
}
