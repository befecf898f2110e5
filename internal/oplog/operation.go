// Package oplog implements the operation log and transaction layer of spec
// §4.3: every mutation to a repo's View (heads, bookmarks, workspaces) is
// recorded as an immutable Operation pointing at a content-addressed View
// snapshot, forming a DAG mirrored by the commit graph itself. Grounded on
// the original modules/zeta/reflog package for the on-disk shape (an
// append-style log guarded by exclusive lock files, atomic rename-based
// writes) generalized from "one log per ref" to "one DAG of operations
// shared by the whole repo".
package oplog

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/wisp/internal/objhash"
)

// Operation is one node in the operation DAG: it names its parent
// operation(s), the View it produced, and metadata about the command that
// produced it, per spec §4.3.
type Operation struct {
	ID          objhash.ID
	ParentIDs   []objhash.ID
	ViewID      objhash.ID
	Description string
	Start       time.Time
	End         time.Time
	Hostname    string
	Username    string
	Tags        map[string]string
}

func (op *Operation) encode(buf *bytes.Buffer) {
	buf.WriteString("view ")
	buf.WriteString(op.ViewID.String())
	buf.WriteByte('\n')
	for _, p := range op.ParentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}
	fmt.Fprintf(buf, "start %d\n", op.Start.UnixNano())
	fmt.Fprintf(buf, "end %d\n", op.End.UnixNano())
	buf.WriteString("hostname ")
	buf.WriteString(op.Hostname)
	buf.WriteByte('\n')
	buf.WriteString("username ")
	buf.WriteString(op.Username)
	buf.WriteByte('\n')
	tagNames := make([]string, 0, len(op.Tags))
	for k := range op.Tags {
		tagNames = append(tagNames, k)
	}
	sort.Strings(tagNames)
	for _, k := range tagNames {
		buf.WriteString("tag ")
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(op.Tags[k])
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.WriteString(op.Description)
}

// ComputeID fills and returns op.ID, the content hash of its encoded form.
func (op *Operation) ComputeID() objhash.ID {
	var buf bytes.Buffer
	op.encode(&buf)
	op.ID = objhash.Of(buf.Bytes())
	return op.ID
}

// Encode returns op's canonical on-disk byte form.
func (op *Operation) Encode() []byte {
	var buf bytes.Buffer
	op.encode(&buf)
	return buf.Bytes()
}

func decodeOperation(payload []byte) (*Operation, error) {
	op := &Operation{Tags: map[string]string{}}
	lines := strings.Split(string(payload), "\n")
	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if line == "" {
			i++
			break
		}
		switch {
		case strings.HasPrefix(line, "view "):
			id, err := objhash.FromHex(strings.TrimPrefix(line, "view "))
			if err != nil {
				return nil, err
			}
			op.ViewID = id
		case strings.HasPrefix(line, "parent "):
			id, err := objhash.FromHex(strings.TrimPrefix(line, "parent "))
			if err != nil {
				return nil, err
			}
			op.ParentIDs = append(op.ParentIDs, id)
		case strings.HasPrefix(line, "start "):
			ns, err := strconv.ParseInt(strings.TrimPrefix(line, "start "), 10, 64)
			if err != nil {
				return nil, err
			}
			op.Start = time.Unix(0, ns)
		case strings.HasPrefix(line, "end "):
			ns, err := strconv.ParseInt(strings.TrimPrefix(line, "end "), 10, 64)
			if err != nil {
				return nil, err
			}
			op.End = time.Unix(0, ns)
		case strings.HasPrefix(line, "hostname "):
			op.Hostname = strings.TrimPrefix(line, "hostname ")
		case strings.HasPrefix(line, "username "):
			op.Username = strings.TrimPrefix(line, "username ")
		case strings.HasPrefix(line, "tag "):
			kv := strings.TrimPrefix(line, "tag ")
			if eq := strings.IndexByte(kv, '='); eq >= 0 {
				op.Tags[kv[:eq]] = kv[eq+1:]
			}
		}
	}
	op.Description = strings.Join(lines[i:], "\n")
	return op, nil
}
