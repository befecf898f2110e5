// Package index implements the commit index of spec §4.2: a monotone stack
// of immutable segment files plus an in-memory mutable segment, supporting
// O(1)-ish ancestry queries and prefix resolution. The arena-plus-u32-index
// layout is the original habit in modules/git/gitobj/pack (a packfile .idx
// is itself a sorted-lookup-table-over-a-flat-record-array exactly like
// this); segment files here are mmap'd with github.com/edsrzf/mmap-go so
// binary search over the lookup table never requires reading the whole
// segment into memory, the way the original pack index reads stay mmap'd.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// Position is a dense, monotone, parent-first topological position. Global
// position = (sum of segment sizes below) + local position, per spec §3.
type Position uint32

const (
	graphRecordSize = 4 + 4 + 4 + 4 + 4 + objhash.ChangeIDSize + objhash.Size // 68 bytes
	lookupEntrySize = objhash.Size + 4
	overflowEntrySize = 4
)

const flagIsMerge = 1 << 0

// commitRecord is the decoded form of one graph-table record.
type commitRecord struct {
	flags          uint32
	generation     uint32
	numParents     uint32
	firstParentPos Position
	overflowStart  uint32
	changeID       objhash.ChangeID
	commitID       objhash.ID
}

// segment is one immutable, on-disk (or not-yet-saved in-memory) portion of
// the index. base is the global position of local position 0 within it.
type segment struct {
	name       string
	parentName string
	numLocal   uint32
	numOverflow uint32

	data mmap.MMap // nil for an in-memory segment that hasn't been saved
	raw  []byte    // backing bytes when not mmap'd (tests, or pre-save)

	graphOff    int
	lookupOff   int
	overflowOff int

	base Position // assigned once chained into a stack
}

func (s *segment) bytes() []byte {
	if s.data != nil {
		return s.data
	}
	return s.raw
}

func (s *segment) record(localPos uint32) commitRecord {
	b := s.bytes()
	off := s.graphOff + int(localPos)*graphRecordSize
	rec := commitRecord{
		flags:          binary.BigEndian.Uint32(b[off:]),
		generation:     binary.BigEndian.Uint32(b[off+4:]),
		numParents:     binary.BigEndian.Uint32(b[off+8:]),
		firstParentPos: Position(binary.BigEndian.Uint32(b[off+12:])),
		overflowStart:  binary.BigEndian.Uint32(b[off+16:]),
	}
	copy(rec.changeID[:], b[off+20:off+20+objhash.ChangeIDSize])
	copy(rec.commitID[:], b[off+20+objhash.ChangeIDSize:off+graphRecordSize])
	return rec
}

func (s *segment) overflowParent(idx uint32) Position {
	b := s.bytes()
	off := s.overflowOff + int(idx)*overflowEntrySize
	return Position(binary.BigEndian.Uint32(b[off:]))
}

// parentPositions returns every parent's global position for the commit
// described by rec, first parent then overflow parents in order.
func (s *segment) parentPositions(rec commitRecord) []Position {
	if rec.numParents == 0 {
		return nil
	}
	out := make([]Position, 0, rec.numParents)
	out = append(out, rec.firstParentPos)
	for i := uint32(0); i < rec.numParents-1; i++ {
		out = append(out, s.overflowParent(rec.overflowStart+i))
	}
	return out
}

// lookupEntry returns the commit id and local position stored at lookup
// slot i (slots are sorted by commit id ascending).
func (s *segment) lookupEntry(i uint32) (objhash.ID, uint32) {
	b := s.bytes()
	off := s.lookupOff + int(i)*lookupEntrySize
	var id objhash.ID
	copy(id[:], b[off:off+objhash.Size])
	pos := binary.BigEndian.Uint32(b[off+objhash.Size:])
	return id, pos
}

// searchExact binary-searches the lookup table for an exact id.
func (s *segment) searchExact(id objhash.ID) (Position, bool) {
	n := int(s.numLocal)
	i := sort.Search(n, func(i int) bool {
		got, _ := s.lookupEntry(uint32(i))
		return bytes.Compare(got[:], id[:]) >= 0
	})
	if i < n {
		got, localPos := s.lookupEntry(uint32(i))
		if got == id {
			return s.base + Position(localPos), true
		}
	}
	return 0, false
}

// prefixRange returns [lo, hi) bounding the lookup slots whose commit id
// hex-encodes with the given prefix.
func (s *segment) prefixRange(prefix objhash.HexPrefix) (lo, hi int) {
	n := int(s.numLocal)
	lo = sort.Search(n, func(i int) bool {
		got, _ := s.lookupEntry(uint32(i))
		return got.String() >= string(prefix)
	})
	upper := string(prefix) + "\xff"
	hi = sort.Search(n, func(i int) bool {
		got, _ := s.lookupEntry(uint32(i))
		return got.String() > upper
	})
	return lo, hi
}

// encode serializes a segment's tables (used both to persist to disk and to
// compute its content-derived name).
func encodeSegment(parentName string, records []commitRecord, overflow []Position) []byte {
	var buf bytes.Buffer
	writeU32 := func(v uint32) {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	writeU32(uint32(len(parentName)))
	buf.WriteString(parentName)
	writeU32(uint32(len(records)))
	writeU32(uint32(len(overflow)))

	for _, r := range records {
		writeU32(r.flags)
		writeU32(r.generation)
		writeU32(r.numParents)
		writeU32(uint32(r.firstParentPos))
		writeU32(r.overflowStart)
		buf.Write(r.changeID[:])
		buf.Write(r.commitID[:])
	}

	type lookupRow struct {
		id  objhash.ID
		pos uint32
	}
	rows := make([]lookupRow, len(records))
	for i, r := range records {
		rows[i] = lookupRow{id: r.commitID, pos: uint32(i)}
	}
	sort.Slice(rows, func(i, j int) bool { return bytes.Compare(rows[i].id[:], rows[j].id[:]) < 0 })
	for _, row := range rows {
		buf.Write(row.id[:])
		writeU32(row.pos)
	}

	for _, p := range overflow {
		writeU32(uint32(p))
	}
	return buf.Bytes()
}

func segmentName(content []byte) string {
	return objhash.Of(content).String()
}

// loadSegment parses a segment's header and validates its total length
// (spec §4.2 "Failure semantics": mismatch -> Corrupt), using mmap so the
// tables themselves are paged in on demand rather than read eagerly.
func loadSegment(path string) (*segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, werr.IO("index.loadSegment", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, werr.IO("index.loadSegment", err)
	}
	if info.Size() < 8 {
		return nil, werr.Corrupt("index.loadSegment", fmt.Errorf("segment too short"))
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, werr.IO("index.loadSegment", err)
	}
	return parseSegment(data, data)
}

func parseSegment(data []byte, keepAlive mmap.MMap) (*segment, error) {
	if len(data) < 4 {
		return nil, werr.Corrupt("index.parseSegment", fmt.Errorf("truncated header"))
	}
	parentNameLen := binary.BigEndian.Uint32(data[0:])
	off := 4
	if off+int(parentNameLen) > len(data) {
		return nil, werr.Corrupt("index.parseSegment", fmt.Errorf("truncated parent name"))
	}
	parentName := string(data[off : off+int(parentNameLen)])
	off += int(parentNameLen)
	if off+8 > len(data) {
		return nil, werr.Corrupt("index.parseSegment", fmt.Errorf("truncated counts"))
	}
	numLocal := binary.BigEndian.Uint32(data[off:])
	off += 4
	numOverflow := binary.BigEndian.Uint32(data[off:])
	off += 4

	graphOff := off
	graphLen := int(numLocal) * graphRecordSize
	lookupOff := graphOff + graphLen
	lookupLen := int(numLocal) * lookupEntrySize
	overflowOff := lookupOff + lookupLen
	overflowLen := int(numOverflow) * overflowEntrySize
	expected := overflowOff + overflowLen
	if expected != len(data) {
		return nil, werr.Corrupt("index.parseSegment", fmt.Errorf("length mismatch: want %d, have %d", expected, len(data)))
	}
	return &segment{
		parentName:  parentName,
		numLocal:    numLocal,
		numOverflow: numOverflow,
		data:        keepAlive,
		raw:         data,
		graphOff:    graphOff,
		lookupOff:   lookupOff,
		overflowOff: overflowOff,
	}, nil
}
