package oplog

import (
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
)

// LoadHeads resolves every current op-head filename to its Operation.
func LoadHeads(store *Store, opHeads *OpHeadsStore) ([]*Operation, error) {
	ids, err := opHeads.List()
	if err != nil {
		return nil, err
	}
	out := make([]*Operation, 0, len(ids))
	for _, id := range ids {
		op, err := store.ReadOperation(id)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

// MergeHeads resolves the current set of op-heads into one base View ready
// for a new Transaction: a single head is used as-is; multiple concurrent
// heads (spec §4.3's "concurrent operation merge") are folded together
// pairwise, each pair three-way-merged against their operation-DAG lowest
// common ancestor.
func MergeHeads(store *Store, heads []*Operation) (*refs.View, []objhash.ID, error) {
	if len(heads) == 0 {
		return refs.NewView(), nil, nil
	}
	parentIDs := make([]objhash.ID, len(heads))
	for i, h := range heads {
		parentIDs[i] = h.ID
	}
	mergedView, err := store.ReadView(heads[0].ViewID)
	if err != nil {
		return nil, nil, err
	}
	mergedOpID := heads[0].ID
	for _, head := range heads[1:] {
		lcaID, err := lowestCommonAncestor(store, mergedOpID, head.ID)
		if err != nil {
			return nil, nil, err
		}
		lcaOp, err := store.ReadOperation(lcaID)
		if err != nil {
			return nil, nil, err
		}
		baseView, err := store.ReadView(lcaOp.ViewID)
		if err != nil {
			return nil, nil, err
		}
		headView, err := store.ReadView(head.ViewID)
		if err != nil {
			return nil, nil, err
		}
		mergedView = mergeViews(baseView, mergedView, headView)
		mergedOpID = head.ID // only used to anchor the next pairwise LCA walk
	}
	return mergedView, parentIDs, nil
}

// lowestCommonAncestor finds a common ancestor of a and b in the operation
// DAG by BFS-expanding b's ancestry against a's full ancestor set. This is a
// "some common ancestor found first by breadth", not necessarily the unique
// lowest one in a DAG with multiple merge points — acceptable here because
// operations merge idempotently (re-merging already-incorporated changes is
// a no-op via RefTarget's cancellation), so a slightly-higher ancestor only
// costs a larger three-way diff, never an incorrect result.
func lowestCommonAncestor(store *Store, a, b objhash.ID) (objhash.ID, error) {
	ancestorsA, err := ancestorSet(store, a)
	if err != nil {
		return objhash.ZeroID, err
	}
	if _, ok := ancestorsA[b]; ok {
		return b, nil
	}
	visited := map[objhash.ID]struct{}{}
	queue := []objhash.ID{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		if _, ok := ancestorsA[cur]; ok {
			return cur, nil
		}
		op, err := store.ReadOperation(cur)
		if err != nil {
			return objhash.ZeroID, err
		}
		queue = append(queue, op.ParentIDs...)
	}
	return a, nil // disjoint histories: fall back to a itself as the base
}

func ancestorSet(store *Store, start objhash.ID) (map[objhash.ID]struct{}, error) {
	out := map[objhash.ID]struct{}{}
	queue := []objhash.ID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := out[cur]; ok {
			continue
		}
		out[cur] = struct{}{}
		op, err := store.ReadOperation(cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, op.ParentIDs...)
	}
	return out, nil
}

// mergeViews three-way-merges two Views against their common ancestor base,
// per spec §4.3: bookmarks/tags/git-refs use the RefTarget algebra
// (refs.ThreeWayMerge / refs.MergeBookmarks); heads and public-heads are
// unioned (the next load's Heads computation over the commit index is what
// actually prunes non-maximal elements, so a superset here is harmless);
// workspaces resolve via the same RefTarget machinery, breaking a genuine
// concurrent-checkout conflict by deterministically preferring a's value (an
// explicit, documented design decision: spec leaves cross-workspace
// checkout races to higher-level policy the same way it does for ref
// conflicts with no matching base).
func mergeViews(base, a, b *refs.View) *refs.View {
	out := refs.NewView()
	for id := range a.Heads {
		out.Heads[id] = struct{}{}
	}
	for id := range b.Heads {
		out.Heads[id] = struct{}{}
	}
	for id := range a.PublicHeads {
		out.PublicHeads[id] = struct{}{}
	}
	for id := range b.PublicHeads {
		out.PublicHeads[id] = struct{}{}
	}

	wsNames := map[string]struct{}{}
	for ws := range base.Workspaces {
		wsNames[ws] = struct{}{}
	}
	for ws := range a.Workspaces {
		wsNames[ws] = struct{}{}
	}
	for ws := range b.Workspaces {
		wsNames[ws] = struct{}{}
	}
	for ws := range wsNames {
		baseT := wsTarget(base, ws)
		aT := wsTarget(a, ws)
		bT := wsTarget(b, ws)
		merged := refs.ThreeWayMerge(baseT, aT, bT)
		if id, ok := merged.AsNormal(); ok {
			out.Workspaces[ws] = id
		} else if id, ok := aT.AsNormal(); ok {
			out.Workspaces[ws] = id
		}
	}

	out.LocalBookmarks = refs.MergeBookmarks(base.LocalBookmarks, a.LocalBookmarks, b.LocalBookmarks)

	for name := range unionTagNames(base.Tags, a.Tags, b.Tags) {
		out.Tags[name] = refs.ThreeWayMerge(base.Tags[name], a.Tags[name], b.Tags[name])
	}
	for name := range unionTagNames(base.GitRefs, a.GitRefs, b.GitRefs) {
		out.GitRefs[name] = refs.ThreeWayMerge(base.GitRefs[name], a.GitRefs[name], b.GitRefs[name])
	}
	out.GitHead = refs.ThreeWayMerge(base.GitHead, a.GitHead, b.GitHead)
	return out
}

func wsTarget(v *refs.View, ws string) refs.RefTarget {
	if id, ok := v.Workspaces[ws]; ok {
		return refs.Normal(id)
	}
	return refs.Absent()
}

func unionTagNames(maps ...map[string]refs.RefTarget) map[string]struct{} {
	out := map[string]struct{}{}
	for _, m := range maps {
		for name := range m {
			out[name] = struct{}{}
		}
	}
	return out
}
