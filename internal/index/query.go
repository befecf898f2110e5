package index

import (
	"container/heap"
	"sort"
)

// posHeap is a max-heap of Positions ordered by generation (ties broken by
// position), used by IsAncestor-adjacent algorithms exactly as spec §4.2
// describes for common_ancestors/heads.
type posHeap struct {
	idx  *Index
	data []Position
}

func (h *posHeap) Len() int { return len(h.data) }
func (h *posHeap) Less(i, j int) bool {
	gi, gj := h.idx.Generation(h.data[i]), h.idx.Generation(h.data[j])
	if gi != gj {
		return gi > gj
	}
	return h.data[i] > h.data[j]
}
func (h *posHeap) Swap(i, j int)      { h.data[i], h.data[j] = h.data[j], h.data[i] }
func (h *posHeap) Push(x any)         { h.data = append(h.data, x.(Position)) }
func (h *posHeap) Pop() any {
	n := len(h.data)
	v := h.data[n-1]
	h.data = h.data[:n-1]
	return v
}

func newPosHeap(idx *Index, seed []Position) *posHeap {
	h := &posHeap{idx: idx, data: append([]Position(nil), seed...)}
	heap.Init(h)
	return h
}

// IsAncestor reports whether a is an ancestor of (or equal to) b, via a DFS
// from b pruned once the current generation drops to or below
// generation(a), per spec §4.2.
func (idx *Index) IsAncestor(a, b Position) bool {
	if a == b {
		return true
	}
	genA := idx.Generation(a)
	visited := map[Position]struct{}{}
	stack := []Position{b}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}
		if cur == a {
			return true
		}
		if idx.Generation(cur) <= genA {
			continue
		}
		stack = append(stack, idx.Parents(cur)...)
	}
	return false
}

// CommonAncestors returns heads(ancestors(set1) ∩ ancestors(set2)), computed
// with the two-heap advance-the-larger-side algorithm from spec §4.2.
func (idx *Index) CommonAncestors(set1, set2 []Position) []Position {
	h1 := newPosHeap(idx, set1)
	h2 := newPosHeap(idx, set2)
	seen1 := map[Position]struct{}{}
	seen2 := map[Position]struct{}{}
	for _, p := range set1 {
		seen1[p] = struct{}{}
	}
	for _, p := range set2 {
		seen2[p] = struct{}{}
	}

	var matches []Position
	matched := map[Position]struct{}{}

	for h1.Len() > 0 && h2.Len() > 0 {
		top1 := h1.data[0]
		top2 := h2.data[0]
		g1, g2 := idx.Generation(top1), idx.Generation(top2)
		switch {
		case top1 == top2:
			if _, ok := matched[top1]; !ok {
				matched[top1] = struct{}{}
				matches = append(matches, top1)
			}
			heap.Pop(h1)
			heap.Pop(h2)
			advance(idx, h1, top1, seen1)
			advance(idx, h2, top1, seen2)
		case g1 >= g2:
			heap.Pop(h1)
			advance(idx, h1, top1, seen1)
			if _, ok := seen2[top1]; ok {
				if _, ok2 := matched[top1]; !ok2 {
					matched[top1] = struct{}{}
					matches = append(matches, top1)
				}
			}
		default:
			heap.Pop(h2)
			advance(idx, h2, top2, seen2)
			if _, ok := seen1[top2]; ok {
				if _, ok2 := matched[top2]; !ok2 {
					matched[top2] = struct{}{}
					matches = append(matches, top2)
				}
			}
		}
	}
	return idx.Heads(matches)
}

func advance(idx *Index, h *posHeap, from Position, seen map[Position]struct{}) {
	for _, p := range idx.Parents(from) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			heap.Push(h, p)
		}
	}
}

// Heads returns the antichain of candidates none of which is an ancestor of
// another, per spec §4.2's work-heap algorithm.
func (idx *Index) Heads(candidates []Position) []Position {
	if len(candidates) == 0 {
		return nil
	}
	uniq := dedupe(candidates)
	isCandidate := map[Position]struct{}{}
	for _, c := range uniq {
		isCandidate[c] = struct{}{}
	}
	minGen := idx.Generation(uniq[0])
	for _, c := range uniq {
		if g := idx.Generation(c); g < minGen {
			minGen = g
		}
	}

	visited := map[Position]struct{}{}
	work := newPosHeap(idx, uniq)
	for _, c := range uniq {
		visited[c] = struct{}{}
	}
	excluded := map[Position]struct{}{}

	for work.Len() > 0 {
		top := work.data[0]
		if idx.Generation(top) < minGen {
			break
		}
		heap.Pop(work)
		for _, p := range idx.Parents(top) {
			if _, ok := isCandidate[p]; ok {
				excluded[p] = struct{}{}
			}
			if _, ok := visited[p]; !ok {
				visited[p] = struct{}{}
				heap.Push(work, p)
			}
		}
	}

	var heads []Position
	for _, c := range uniq {
		if _, ok := excluded[c]; !ok {
			heads = append(heads, c)
		}
	}
	return heads
}

func dedupe(in []Position) []Position {
	seen := map[Position]struct{}{}
	out := make([]Position, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// TopoOrder sorts input by descending position (parents sort after children
// never happens since positions are assigned parent-first; descending
// position is therefore a valid reverse-topological/children-first order).
func (idx *Index) TopoOrder(input []Position) []Position {
	out := append([]Position(nil), input...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

// wantedKind discriminates RevWalk queue entries.
type wantedKind int

const (
	wanted wantedKind = iota
	unwanted
)

type walkItem struct {
	pos  Position
	kind wantedKind
}

type walkHeap struct {
	idx  *Index
	data []walkItem
}

func (h *walkHeap) Len() int { return len(h.data) }
func (h *walkHeap) Less(i, j int) bool {
	gi, gj := h.idx.Generation(h.data[i].pos), h.idx.Generation(h.data[j].pos)
	if gi != gj {
		return gi > gj
	}
	if h.data[i].pos != h.data[j].pos {
		return h.data[i].pos > h.data[j].pos
	}
	return h.data[i].kind == unwanted && h.data[j].kind == wanted
}
func (h *walkHeap) Swap(i, j int) { h.data[i], h.data[j] = h.data[j], h.data[i] }
func (h *walkHeap) Push(x any)    { h.data = append(h.data, x.(walkItem)) }
func (h *walkHeap) Pop() any {
	n := len(h.data)
	v := h.data[n-1]
	h.data = h.data[:n-1]
	return v
}

// RevWalk is the single-priority-queue walk from spec §4.2: it pops the
// entry with the highest (generation, position), an Unwanted entry ahead of
// a Wanted one at the same position, skips ones already visited, emits wanted
// commits, and propagates parents; it stops once only Unwanted entries
// remain in the queue.
type RevWalk struct {
	idx      *Index
	h        *walkHeap
	visited  map[Position]struct{}
	depth    map[Position]int // known shortest depth from a wanted root, for FilterByGeneration
	minDepth int
	maxDepth int
}

// WalkRevs builds a RevWalk seeded with wanted and unwanted position sets.
func (idx *Index) WalkRevs(wantedPos, unwantedPos []Position) *RevWalk {
	h := &walkHeap{idx: idx}
	heap.Init(h)
	depth := map[Position]int{}
	for _, p := range wantedPos {
		heap.Push(h, walkItem{pos: p, kind: wanted})
		depth[p] = 0
	}
	for _, p := range unwantedPos {
		heap.Push(h, walkItem{pos: p, kind: unwanted})
	}
	return &RevWalk{idx: idx, h: h, visited: map[Position]struct{}{}, depth: depth, maxDepth: -1}
}

// FilterByGeneration restricts emission to commits whose tracked depth from
// a wanted root falls within [min, max] (max < 0 means unbounded), per spec
// §4.2's generation-range filter.
func (w *RevWalk) FilterByGeneration(min, max int) {
	w.minDepth = min
	w.maxDepth = max
}

// Next pops and returns the next wanted position in the walk, or ok=false
// once the walk is exhausted.
func (w *RevWalk) Next() (pos Position, ok bool) {
	for w.h.Len() > 0 {
		onlyUnwanted := true
		for _, it := range w.h.data {
			if it.kind == wanted {
				onlyUnwanted = false
				break
			}
		}
		if onlyUnwanted {
			return 0, false
		}

		item := heap.Pop(w.h).(walkItem)
		if _, seen := w.visited[item.pos]; seen {
			// A position may be re-queued from both a wanted and an
			// unwanted path; once visited as unwanted it stays excluded.
			continue
		}
		w.visited[item.pos] = struct{}{}
		d := w.depth[item.pos]
		for _, p := range w.idx.Parents(item.pos) {
			if nd, ok := w.depth[p]; !ok || d+1 < nd {
				w.depth[p] = d + 1
			}
			heap.Push(w.h, walkItem{pos: p, kind: item.kind})
		}
		if item.kind != wanted {
			continue
		}
		if d < w.minDepth {
			continue
		}
		if w.maxDepth >= 0 && d > w.maxDepth {
			continue
		}
		return item.pos, true
	}
	return 0, false
}
