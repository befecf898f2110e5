package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// mutableEntry is one not-yet-saved commit appended to the in-memory tip
// segment by AddCommit.
type mutableEntry struct {
	commitID   objhash.ID
	changeID   objhash.ChangeID
	generation uint32
	parents    []Position
}

// Index is the whole stack: zero or more immutable on-disk segments plus one
// mutable in-memory segment accepting new commits, per spec §4.2.
type Index struct {
	dir      string // index/segments
	segments []*segment // oldest..newest, each with base already assigned
	mutable  []mutableEntry
	byID     map[objhash.ID]Position // fast path for ids added this session
}

// Open loads the segment chain starting at tipSegmentName (as recorded by an
// index/operations/<op-id> pointer file) and returns an Index ready to
// accept new commits in a fresh mutable segment on top.
func Open(dir, tipSegmentName string) (*Index, error) {
	idx := &Index{dir: dir, byID: make(map[objhash.ID]Position)}
	var chain []*segment
	name := tipSegmentName
	for name != "" {
		seg, err := loadSegment(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		seg.name = name
		chain = append(chain, seg)
		name = seg.parentName
	}
	// chain is newest..oldest; reverse and assign bases oldest-first.
	idx.segments = make([]*segment, len(chain))
	var base Position
	for i := len(chain) - 1; i >= 0; i-- {
		seg := chain[i]
		seg.base = base
		idx.segments[len(chain)-1-i] = seg
		base += Position(seg.numLocal)
	}
	return idx, nil
}

// NewEmpty returns an Index with no segments at all (spec §8 "empty index
// returns num_commits = 0").
func NewEmpty(dir string) *Index {
	return &Index{dir: dir, byID: make(map[objhash.ID]Position)}
}

// NumCommits is the total committed-plus-pending entry count.
func (idx *Index) NumCommits() int {
	n := 0
	for _, s := range idx.segments {
		n += int(s.numLocal)
	}
	return n + len(idx.mutable)
}

func (idx *Index) totalBase() Position {
	var base Position
	for _, s := range idx.segments {
		base += Position(s.numLocal)
	}
	return base
}

// CommitIDToPos resolves a full commit id to its global position, searching
// the mutable tip then every segment newest-to-oldest per spec §4.2.
func (idx *Index) CommitIDToPos(id objhash.ID) (Position, bool) {
	if pos, ok := idx.byID[id]; ok {
		return pos, true
	}
	base := idx.totalBase()
	for i, e := range idx.mutable {
		if e.commitID == id {
			return base + Position(i), true
		}
	}
	for i := len(idx.segments) - 1; i >= 0; i-- {
		if pos, ok := idx.segments[i].searchExact(id); ok {
			return pos, true
		}
	}
	return 0, false
}

func (idx *Index) recordAt(pos Position) (commitID objhash.ID, changeID objhash.ChangeID, generation uint32, parents []Position, ok bool) {
	base := idx.totalBase()
	if pos >= base {
		e := idx.mutable[int(pos-base)]
		return e.commitID, e.changeID, e.generation, e.parents, true
	}
	for i := len(idx.segments) - 1; i >= 0; i-- {
		s := idx.segments[i]
		if pos >= s.base && pos < s.base+Position(s.numLocal) {
			rec := s.record(uint32(pos - s.base))
			return rec.commitID, rec.changeID, rec.generation, s.parentPositions(rec), true
		}
	}
	return objhash.ID{}, objhash.ChangeID{}, 0, nil, false
}

// Generation returns the generation number recorded at pos.
func (idx *Index) Generation(pos Position) uint32 {
	_, _, gen, _, _ := idx.recordAt(pos)
	return gen
}

// CommitID returns the commit id recorded at pos.
func (idx *Index) CommitID(pos Position) objhash.ID {
	id, _, _, _, _ := idx.recordAt(pos)
	return id
}

// ChangeID returns the change id recorded at pos.
func (idx *Index) ChangeID(pos Position) objhash.ChangeID {
	_, cid, _, _, _ := idx.recordAt(pos)
	return cid
}

// Parents returns the parent positions recorded at pos.
func (idx *Index) Parents(pos Position) []Position {
	_, _, _, parents, _ := idx.recordAt(pos)
	return parents
}

// AddCommit appends a new entry. Every parent must already be indexed;
// per spec §4.2 this is a caller-invariant and a missing parent panics
// rather than returning an error.
func (idx *Index) AddCommit(id objhash.ID, changeID objhash.ChangeID, parentIDs []objhash.ID) Position {
	if pos, ok := idx.CommitIDToPos(id); ok {
		return pos // writes are idempotent on id
	}
	parentPositions := make([]Position, len(parentIDs))
	var maxGen uint32
	haveParent := false
	for i, pid := range parentIDs {
		pos, ok := idx.CommitIDToPos(pid)
		if !ok {
			panic(fmt.Sprintf("index: add_commit: parent %s not indexed", pid))
		}
		parentPositions[i] = pos
		gen := idx.Generation(pos)
		if !haveParent || gen > maxGen {
			maxGen = gen
		}
		haveParent = true
	}
	generation := uint32(0)
	if haveParent {
		generation = maxGen + 1
	}
	base := idx.totalBase()
	localPos := Position(len(idx.mutable))
	idx.mutable = append(idx.mutable, mutableEntry{
		commitID:   id,
		changeID:   changeID,
		generation: generation,
		parents:    parentPositions,
	})
	pos := base + localPos
	idx.byID[id] = pos
	return pos
}

// Save flushes the mutable segment to disk as a new immutable segment,
// squashing with the previous tip when it has grown past half the parent
// segment's size (spec §4.2 "Squashing"), and returns the new tip's segment
// name for the caller to persist as an index/operations/<op-id> pointer.
func (idx *Index) Save() (string, error) {
	if len(idx.mutable) == 0 {
		if len(idx.segments) == 0 {
			return "", nil
		}
		return idx.segments[len(idx.segments)-1].name, nil
	}
	if err := os.MkdirAll(idx.dir, 0755); err != nil {
		return "", werr.IO("index.Save", err)
	}

	records, overflow := idx.buildRecords(idx.mutable, idx.totalBase())
	parentName := ""
	if len(idx.segments) > 0 {
		parentName = idx.segments[len(idx.segments)-1].name
	}

	newSize := uint32(len(records))
	squashed := false
	if len(idx.segments) > 0 {
		top := idx.segments[len(idx.segments)-1]
		if newSize*2 > top.numLocal {
			records, overflow, parentName = idx.squash(records, overflow, top)
			squashed = true
		}
	}

	content := encodeSegment(parentName, records, overflow)
	name := segmentName(content)
	path := filepath.Join(idx.dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		tmp, err := os.CreateTemp(idx.dir, "seg-")
		if err != nil {
			return "", werr.IO("index.Save", err)
		}
		if _, err := tmp.Write(content); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return "", werr.IO("index.Save", err)
		}
		if err := tmp.Close(); err != nil {
			return "", werr.IO("index.Save", err)
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return "", werr.IO("index.Save", err)
		}
	}

	seg, err := parseSegment(content, nil)
	if err != nil {
		return "", err
	}
	seg.name = name
	if squashed {
		// The new segment absorbs the previous tip entirely, so it
		// replaces it at the same base and chains to the tip's own
		// parent (computed by squash()).
		seg.base = idx.segments[len(idx.segments)-1].base
		idx.segments[len(idx.segments)-1] = seg
	} else {
		seg.base = idx.totalBase()
		idx.segments = append(idx.segments, seg)
	}
	idx.mutable = nil
	return name, nil
}

// squash merges the to-be-saved records with the entirety of top, producing
// one larger segment chained to top's own parent, so the stack stays O(log
// N) deep without needing to special-case multi-level cascades: the next
// Save() call re-evaluates whether the result is still oversized relative
// to its (new) parent and squashes again if so.
func (idx *Index) squash(records []commitRecord, overflow []Position, top *segment) ([]commitRecord, []Position, string) {
	merged := make([]commitRecord, 0, int(top.numLocal)+len(records))
	mergedOverflow := make([]Position, 0, len(overflow))
	for i := uint32(0); i < top.numLocal; i++ {
		rec := top.record(i)
		parents := top.parentPositions(rec)
		merged = append(merged, remapRecord(rec, parents, &mergedOverflow))
	}
	shift := uint32(len(mergedOverflow))
	for _, rec := range records {
		if rec.numParents > 1 {
			rec.overflowStart += shift
		}
		merged = append(merged, rec)
	}
	mergedOverflow = append(mergedOverflow, overflow...)
	return merged, mergedOverflow, top.parentName
}

func remapRecord(rec commitRecord, parents []Position, overflow *[]Position) commitRecord {
	out := rec
	if len(parents) > 0 {
		out.firstParentPos = parents[0]
	}
	if len(parents) > 1 {
		out.overflowStart = uint32(len(*overflow))
		*overflow = append(*overflow, parents[1:]...)
	}
	return out
}

// buildRecords converts pending mutable entries (whose parent positions are
// already global) into on-disk commitRecords plus an overflow table for
// non-binary (more than one parent) commits.
func (idx *Index) buildRecords(entries []mutableEntry, base Position) ([]commitRecord, []Position) {
	records := make([]commitRecord, len(entries))
	var overflow []Position
	for i, e := range entries {
		rec := commitRecord{
			generation: e.generation,
			numParents: uint32(len(e.parents)),
			changeID:   e.changeID,
			commitID:   e.commitID,
		}
		if len(e.parents) > 1 {
			rec.flags |= flagIsMerge
		}
		if len(e.parents) > 0 {
			rec.firstParentPos = e.parents[0]
		}
		if len(e.parents) > 1 {
			rec.overflowStart = uint32(len(overflow))
			overflow = append(overflow, e.parents[1:]...)
		}
		records[i] = rec
	}
	return records, overflow
}
