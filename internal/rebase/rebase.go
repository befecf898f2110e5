// Package rebase implements the descendant-rebase engine of spec §4.4: given
// a set of directly rewritten or abandoned commits, it walks every
// descendant in the repo reachable from the current heads and reconstructs
// it on top of the substituted parents, carrying each descendant's own edits
// forward via a three-way tree merge (object.MergeTrees) against the
// old/new parent trees. Grounded on the original modules/zeta/backend
// pack-objects.go walk-and-rewrite shape (topological traversal building new
// objects from old ones) but built around change-id-preserving rewrite and
// divergence the original packer never needs to reason about.
package rebase

import (
	"context"
	"sort"

	"github.com/antgroup/wisp/internal/index"
	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
)

// maxDivergence caps the cartesian product of parent-substitution options
// considered for any one descendant, per spec §4.4 "divergent rewrite
// Cartesian product capping". Combinations beyond the cap are dropped
// deterministically (by sorted parent-tuple order) rather than silently
// picked at random.
const maxDivergence = 8

// Engine accumulates directly-requested rewrites/abandons for one rebase
// pass and then propagates them to every descendant.
type Engine struct {
	backend store.Backend
	idx     *index.Index

	replacements map[objhash.ID][]objhash.ID // old id -> new id(s); populated directly and by propagation
	abandoned    map[objhash.ID]struct{}
}

// New returns an Engine operating against backend for commit/tree IO and idx
// for ancestry queries. idx must already contain every commit the caller
// will name as a rewrite root or rebase boundary.
func New(backend store.Backend, idx *index.Index) *Engine {
	return &Engine{
		backend:      backend,
		idx:          idx,
		replacements: map[objhash.ID][]objhash.ID{},
		abandoned:    map[objhash.ID]struct{}{},
	}
}

// Replace records that old has been directly rewritten to newID. Calling
// Replace more than once for the same old records a divergent rewrite: both
// targets propagate to descendants, each producing its own rebased copy.
func (e *Engine) Replace(old, newID objhash.ID) {
	e.replacements[old] = append(e.replacements[old], newID)
}

// Abandon records that old has been dropped entirely; its descendants are
// reattached to its own parents (recursively, if those are also abandoned).
func (e *Engine) Abandon(old objhash.ID) {
	e.abandoned[old] = struct{}{}
}

// Result is what RebaseDescendants produced for one original commit.
type Result struct {
	Old    objhash.ID
	New    []objhash.ID // empty if Old was abandoned outright with no surviving copy
	Divergent bool
}

// RebaseDescendants walks every commit reachable from heads, skips the
// directly-named roots (the caller already wrote those), and rebuilds every
// descendant whose resolved parent set differs from its recorded one. It
// returns one Result per commit actually touched (roots included, so the
// caller can update bookmarks/working-copy pointers uniformly), in the order
// commits were processed (ancestors before descendants).
func (e *Engine) RebaseDescendants(ctx context.Context, heads []objhash.ID) ([]Result, error) {
	if err := e.checkCycles(); err != nil {
		return nil, err
	}

	headPositions := make([]index.Position, 0, len(heads))
	for _, h := range heads {
		if pos, ok := e.idx.CommitIDToPos(h); ok {
			headPositions = append(headPositions, pos)
		}
	}
	walk := e.idx.WalkRevs(headPositions, nil)
	var positions []index.Position
	for {
		pos, ok := walk.Next()
		if !ok {
			break
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] }) // ancestors first

	var results []Result
	for _, pos := range positions {
		oldID := e.idx.CommitID(pos)
		if _, isAbandoned := e.abandoned[oldID]; isAbandoned {
			results = append(results, Result{Old: oldID})
			continue
		}
		if targets, isRoot := e.replacements[oldID]; isRoot {
			// Directly-rewritten root: already written by the caller, just
			// surface it so bookmark/working-copy updates see it.
			results = append(results, Result{Old: oldID, New: targets, Divergent: len(targets) > 1})
			continue
		}

		// Parents come from the index, so a commit that needs no rewrite
		// (such as the root sentinel, which is never written to the store)
		// is skipped without being read.
		var parentIDs []objhash.ID
		for _, p := range e.idx.Parents(pos) {
			parentIDs = append(parentIDs, e.idx.CommitID(p))
		}
		combos, changed, err := e.resolveParentCombos(parentIDs)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}

		commit, err := e.backend.ReadCommit(ctx, oldID)
		if err != nil {
			return nil, err
		}

		newIDs := make([]objhash.ID, 0, len(combos))
		for _, combo := range combos {
			newCommit, err := e.rebuildCommit(ctx, commit, combo)
			if err != nil {
				return nil, err
			}
			newID, err := e.backend.WriteCommit(ctx, newCommit)
			if err != nil {
				return nil, err
			}
			e.idx.AddCommit(newID, commit.ChangeID, combo)
			newIDs = append(newIDs, newID)
		}
		e.replacements[oldID] = newIDs
		results = append(results, Result{Old: oldID, New: newIDs, Divergent: len(newIDs) > 1})
	}
	return results, nil
}

// resolveParentCombos computes, for an unmodified descendant's original
// parent list, the cartesian product of each parent's substitution options
// (abandon-flattened, divergence-expanded), deduplicated and with redundant
// ancestor parents collapsed (spec §4.4 "degenerate merge collapse"). changed
// is false when every parent resolves to exactly itself, meaning the
// descendant needs no rewrite at all.
func (e *Engine) resolveParentCombos(parents []objhash.ID) ([][]objhash.ID, bool, error) {
	changed := false
	optionsPerParent := make([][]objhash.ID, len(parents))
	for i, p := range parents {
		opts := e.resolve(p, map[objhash.ID]struct{}{})
		if len(opts) != 1 || opts[0] != p {
			changed = true
		}
		optionsPerParent[i] = opts
	}
	if !changed {
		return nil, false, nil
	}

	combos := cartesianProduct(optionsPerParent)
	combos = capCombos(combos, maxDivergence)

	out := make([][]objhash.ID, 0, len(combos))
	seen := map[string]struct{}{}
	for _, combo := range combos {
		collapsed := e.collapseRedundantParents(dedupeIDs(combo))
		key := comboKey(collapsed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, collapsed)
	}
	return out, true, nil
}

// resolve flattens a single old parent id into its current substitution
// target(s): itself if untouched, its replacement(s) if rewritten, or the
// (recursively resolved) substitution of its own parents if abandoned.
// visiting guards against cycles already rejected by checkCycles.
func (e *Engine) resolve(id objhash.ID, visiting map[objhash.ID]struct{}) []objhash.ID {
	if _, ok := visiting[id]; ok {
		return []objhash.ID{id}
	}
	visiting[id] = struct{}{}

	if _, abandoned := e.abandoned[id]; abandoned {
		pos, ok := e.idx.CommitIDToPos(id)
		if !ok {
			return nil
		}
		var out []objhash.ID
		for _, p := range e.idx.Parents(pos) {
			pid := e.idx.CommitID(p)
			out = append(out, e.resolve(pid, visiting)...)
		}
		return dedupeIDs(out)
	}
	if targets, ok := e.replacements[id]; ok {
		return append([]objhash.ID(nil), targets...)
	}
	return []objhash.ID{id}
}

// collapseRedundantParents drops any parent that is an ancestor of another
// parent in the same list (a merge commit that would otherwise carry a
// parent made redundant by substitution), per spec §4.4.
func (e *Engine) collapseRedundantParents(ids []objhash.ID) []objhash.ID {
	if len(ids) <= 1 {
		return ids
	}
	positions := make([]index.Position, len(ids))
	ok := make([]bool, len(ids))
	for i, id := range ids {
		positions[i], ok[i] = e.idx.CommitIDToPos(id)
	}
	redundant := make([]bool, len(ids))
	for i := range ids {
		if !ok[i] {
			continue
		}
		for j := range ids {
			if i == j || !ok[j] || redundant[j] {
				continue
			}
			if i != j && e.idx.IsAncestor(positions[i], positions[j]) && positions[i] != positions[j] {
				redundant[i] = true
				break
			}
		}
	}
	var out []objhash.ID
	for i, id := range ids {
		if !redundant[i] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return ids[:1]
	}
	return out
}

// rebuildCommit reconstructs commit on top of newParents: same change-id,
// author, committer, and description, but a freshly merged root tree that
// carries the commit's own edits forward via a three-way merge against each
// changed parent's old/new tree (object.MergeTrees), and a recomputed id.
func (e *Engine) rebuildCommit(ctx context.Context, commit *object.Commit, newParents []objhash.ID) (*object.Commit, error) {
	tree := commit.RootTreeID
	load := func(id objhash.ID) (*object.Tree, error) { return e.backend.ReadTree(ctx, "", id) }
	write := func(t *object.Tree) (objhash.ID, error) { return e.backend.WriteTree(ctx, "", t) }

	for i, oldParent := range commit.ParentIDs {
		if i >= len(newParents) {
			break
		}
		newParent := newParents[i]
		if newParent == oldParent {
			continue
		}
		oldParentCommit, err := e.backend.ReadCommit(ctx, oldParent)
		if err != nil {
			return nil, err
		}
		newParentCommit, err := e.backend.ReadCommit(ctx, newParent)
		if err != nil {
			return nil, err
		}
		baseTree, err := load(oldParentCommit.RootTreeID)
		if err != nil {
			return nil, err
		}
		newParentTree, err := load(newParentCommit.RootTreeID)
		if err != nil {
			return nil, err
		}
		ownTree, err := load(tree)
		if err != nil {
			return nil, err
		}
		merged, _, err := object.MergeTrees(baseTree, newParentTree, ownTree, load, write)
		if err != nil {
			return nil, err
		}
		newTreeID, err := e.backend.WriteTree(ctx, "", merged)
		if err != nil {
			return nil, err
		}
		tree = newTreeID
	}

	out := &object.Commit{
		ChangeID:    commit.ChangeID,
		ParentIDs:   append([]objhash.ID(nil), newParents...),
		RootTreeID:  tree,
		Author:      commit.Author,
		Committer:   commit.Committer,
		Description: commit.Description,
	}
	out.ComputeID()
	return out, nil
}

// Rewrite returns id's current final target(s) after a RebaseDescendants
// pass: itself if id was never touched, its replacement(s) if it was
// rewritten (directly or as a propagated descendant), or the flattened
// substitution of its own ancestors if it was abandoned. Callers use this to
// remap anything that names a commit outside the rebase itself — bookmarks,
// working-copy pointers, view heads — once rebasing is done.
func (e *Engine) Rewrite(id objhash.ID) []objhash.ID {
	return e.resolve(id, map[objhash.ID]struct{}{})
}

// checkCycles rejects a replacements graph where a rewrite target is itself
// (directly or transitively, through chained rewrites only — abandons
// always terminate at an untouched ancestor) a key that eventually maps
// back to the original id, per spec §4.4's CycleDetected pre-check.
func (e *Engine) checkCycles() error {
	const (
		white = iota
		gray
		black
	)
	color := map[objhash.ID]int{}
	var visit func(id objhash.ID) error
	visit = func(id objhash.ID) error {
		switch color[id] {
		case gray:
			return werr.CycleDetected("rebase.checkCycles", nil)
		case black:
			return nil
		}
		color[id] = gray
		for _, next := range e.replacements[id] {
			if _, isKey := e.replacements[next]; isKey {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range e.replacements {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func dedupeIDs(ids []objhash.ID) []objhash.ID {
	seen := map[objhash.ID]struct{}{}
	out := make([]objhash.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func comboKey(ids []objhash.ID) string {
	b := make([]byte, 0, len(ids)*32)
	for _, id := range ids {
		b = append(b, id[:]...)
	}
	return string(b)
}

func cartesianProduct(options [][]objhash.ID) [][]objhash.ID {
	result := [][]objhash.ID{{}}
	for _, opts := range options {
		var next [][]objhash.ID
		for _, prefix := range result {
			for _, opt := range opts {
				combo := append(append([]objhash.ID(nil), prefix...), opt)
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}

// capCombos keeps at most n combinations, choosing deterministically by
// sorted tuple key so capping never depends on map/slice iteration order.
func capCombos(combos [][]objhash.ID, n int) [][]objhash.ID {
	if len(combos) <= n {
		return combos
	}
	sort.Slice(combos, func(i, j int) bool { return comboKey(combos[i]) < comboKey(combos[j]) })
	return combos[:n]
}
