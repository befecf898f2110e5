package workingcopy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
)

const (
	conflictStart  = "<<<<<<< wisp conflict: add #1"
	conflictAdd    = "+++++++ wisp conflict: add #"
	conflictRemove = "%%%%%%% wisp conflict: remove #"
	conflictEnd    = ">>>>>>> wisp conflict end"
)

// encodeConflictSequence serializes a MergedTreeSequence as a small
// line-based blob (one "+ <id>" or "- <id>" line per term) so it can be
// content-addressed and stored as a regular file object; the tree entry for
// a conflicted path records this blob's id, per the object package's note
// that "the caller is responsible for expanding true file-level conflicts
// into MergedTreeSequence when needed".
func encodeConflictSequence(seq object.MergedTreeSequence) []byte {
	var buf bytes.Buffer
	for i, id := range seq {
		if i%2 == 0 {
			buf.WriteString("+ ")
		} else {
			buf.WriteString("- ")
		}
		buf.WriteString(id.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func decodeConflictSequence(data []byte) (object.MergedTreeSequence, error) {
	var seq object.MergedTreeSequence
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 3 {
			continue
		}
		id, err := objhash.FromHex(line[2:])
		if err != nil {
			return nil, werr.Corrupt("workingcopy.decodeConflictSequence", err)
		}
		seq = append(seq, id)
	}
	return seq, nil
}

// writeConflictBlob stores seq's encoding as a file object and returns its
// id, for use as an EntryConflict's ID.
func writeConflictBlob(ctx context.Context, backend store.Backend, seq object.MergedTreeSequence) (objhash.ID, error) {
	return backend.WriteFile(ctx, bytes.NewReader(encodeConflictSequence(seq)))
}

func readConflictSequence(ctx context.Context, backend store.Backend, blobID objhash.ID) (object.MergedTreeSequence, error) {
	r, err := backend.ReadFile(ctx, blobID)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, werr.IO("workingcopy.readConflictSequence", err)
	}
	return decodeConflictSequence(data)
}

// renderConflict materializes seq as a conflict-marker file, per spec
// §4.5's "conflict marker file (for file conflicts the engine can
// render)": each add term after the first is separated from the previous
// remove term by a marker line, numbered so parseConflict can recover the
// exact term boundaries on the next snapshot.
func renderConflict(ctx context.Context, backend store.Backend, seq object.MergedTreeSequence) ([]byte, error) {
	if len(seq) == 0 {
		return nil, werr.InvalidArgument("workingcopy.renderConflict", fmt.Errorf("empty conflict sequence"))
	}
	var buf bytes.Buffer
	addN, removeN := 0, 0
	for i, id := range seq {
		content, err := readAll(ctx, backend, id)
		if err != nil {
			return nil, err
		}
		if i%2 == 0 {
			addN++
			if addN == 1 {
				buf.WriteString(conflictStart)
			} else {
				fmt.Fprintf(&buf, "%s%d", conflictAdd, addN)
			}
		} else {
			removeN++
			fmt.Fprintf(&buf, "%s%d (base)", conflictRemove, removeN)
		}
		buf.WriteByte('\n')
		buf.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.WriteString(conflictEnd)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func readAll(ctx context.Context, backend store.Backend, id objhash.ID) ([]byte, error) {
	r, err := backend.ReadFile(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, werr.IO("workingcopy.readAll", err)
	}
	return data, nil
}

// looksLikeConflict reports whether data was produced by renderConflict,
// per spec §4.5 snapshot step "for files with existing conflict content:
// parse conflict markers back into a merged file-id sequence".
func looksLikeConflict(data []byte) bool {
	return bytes.HasPrefix(data, []byte(conflictStart))
}

// parseConflict reverses renderConflict, splitting data back into its
// alternating add/remove byte segments in original order. It returns
// ok=false if data isn't in the expected shape, in which case the caller
// should treat it as an ordinary (resolved) file instead.
func parseConflict(data []byte) (segments [][]byte, ok bool) {
	if !looksLikeConflict(data) {
		return nil, false
	}
	lines := strings.Split(string(data), "\n")
	var cur []string
	flush := func() {
		if cur != nil {
			segments = append(segments, []byte(strings.Join(cur, "\n")))
		}
	}
	started := false
	for _, line := range lines {
		switch {
		case line == conflictStart:
			started = true
			cur = []string{}
		case strings.HasPrefix(line, conflictAdd) || strings.HasPrefix(line, conflictRemove):
			if !started {
				return nil, false
			}
			flush()
			cur = []string{}
		case line == conflictEnd:
			flush()
			cur = nil
			return segments, true
		default:
			if started {
				cur = append(cur, line)
			}
		}
	}
	return nil, false // missing terminator: not a well-formed conflict file
}
