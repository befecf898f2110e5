package object

import (
	"github.com/antgroup/wisp/internal/objhash"
)

// MergeTrees performs a three-way merge of two trees against a common base,
// at tree-entry granularity. This is the tree-level analogue of the
// original diff3.Merge (modules/diff3, text-line granularity): instead of
// diffing lines, we diff entries by path and resolve name-by-name, since the
// rebase engine (spec §4.4) needs to merge whole directory trees, not files.
//
// A conflicting entry is recorded as an EntryConflict whose ID is side a's
// entry id (side b's when a deleted the entry); the caller (rebase engine) is responsible for expanding
// true file-level conflicts into MergedTreeSequence when needed. Sub-trees
// that differ on both sides are merged recursively via the supplied
// loadTree callback so multi-level directory conflicts are resolved, not
// just flattened.
type TreeLoader func(id objhash.ID) (*Tree, error)

// TreeWriter persists a merged subtree and returns its canonical backend id.
// MergeTrees calls this for every subtree it merges recursively, since a
// subtree's id is only meaningful once the backend has actually stored it
// (the backend's id scheme need not match Tree.ComputeID's bare content
// hash -- see native.Store.hashPayload's kind-tagged variant).
type TreeWriter func(*Tree) (objhash.ID, error)

func MergeTrees(base, a, b *Tree, load TreeLoader, write TreeWriter) (*Tree, bool, error) {
	names := map[string]struct{}{}
	baseByName := entryMap(base)
	aByName := entryMap(a)
	bByName := entryMap(b)
	for n := range baseByName {
		names[n] = struct{}{}
	}
	for n := range aByName {
		names[n] = struct{}{}
	}
	for n := range bByName {
		names[n] = struct{}{}
	}

	var out []*TreeEntry
	conflicted := false
	for name := range names {
		be := baseByName[name]
		ae := aByName[name]
		cb := bByName[name]

		switch {
		case ae.Equal(cb):
			// Both sides agree (including both-deleted => ae==cb==nil).
			if ae != nil {
				out = append(out, ae.Clone())
			}
		case ae.Equal(be):
			// Only b side changed it.
			if cb != nil {
				out = append(out, cb.Clone())
			}
		case cb.Equal(be):
			// Only a side changed it.
			if ae != nil {
				out = append(out, ae.Clone())
			}
		case ae != nil && cb != nil && ae.Kind == EntryTree && cb.Kind == EntryTree:
			// Both sides changed it to (possibly different) subtrees:
			// recurse instead of flattening to a conflict.
			baseSub, aSub, bSub, err := loadThree(be, ae, cb, load)
			if err != nil {
				return nil, false, err
			}
			mergedSub, subConflict, err := MergeTrees(baseSub, aSub, bSub, load, write)
			if err != nil {
				return nil, false, err
			}
			id := mergedSub.ComputeID()
			if write != nil {
				if id, err = write(mergedSub); err != nil {
					return nil, false, err
				}
			}
			out = append(out, &TreeEntry{Name: name, Kind: EntryTree, ID: id})
			conflicted = conflicted || subConflict
		default:
			// True conflict: both sides changed it incompatibly. Keep a's
			// version but flag the conflict; the working copy layer
			// renders the real conflict markers from the commit's
			// recorded MergedTreeSequence, not from this tree alone.
			conflicted = true
			if ae != nil {
				out = append(out, &TreeEntry{Name: name, Kind: EntryConflict, ID: ae.ID})
			} else if cb != nil {
				out = append(out, &TreeEntry{Name: name, Kind: EntryConflict, ID: cb.ID})
			}
		}
	}
	sortEntries(out)
	return &Tree{Entries: out}, conflicted, nil
}

func entryMap(t *Tree) map[string]*TreeEntry {
	m := make(map[string]*TreeEntry, len(t.Entries))
	for _, e := range t.Entries {
		m[e.Name] = e
	}
	return m
}

func loadThree(base, a, b *TreeEntry, load TreeLoader) (*Tree, *Tree, *Tree, error) {
	baseTree, err := loadOrEmpty(base, load)
	if err != nil {
		return nil, nil, nil, err
	}
	aTree, err := loadOrEmpty(a, load)
	if err != nil {
		return nil, nil, nil, err
	}
	bTree, err := loadOrEmpty(b, load)
	if err != nil {
		return nil, nil, nil, err
	}
	return baseTree, aTree, bTree, nil
}

func loadOrEmpty(e *TreeEntry, load TreeLoader) (*Tree, error) {
	if e == nil || e.Kind != EntryTree {
		return &Tree{}, nil
	}
	return load(e.ID)
}
