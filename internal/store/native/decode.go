package native

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
)

// decodeCommit parses the "tree/change/parent*/author/committer\n\nmessage"
// framing Commit.encode produces, the same line-oriented header-then-blank-
// line-then-body shape as the original object.Commit.Decode.
func decodeCommit(payload []byte) (*object.Commit, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	c := &object.Commit{}
	var body strings.Builder
	inBody := false
	for {
		line, err := r.ReadString('\n')
		if err != nil && len(line) == 0 {
			break
		}
		text := strings.TrimSuffix(line, "\n")
		if inBody {
			body.WriteString(line)
			if err != nil {
				break
			}
			continue
		}
		if text == "" {
			inBody = true
			continue
		}
		key, value, ok := strings.Cut(text, " ")
		if !ok {
			return nil, fmt.Errorf("malformed commit header: %q", text)
		}
		switch key {
		case "tree":
			id, perr := objhash.FromHex(value)
			if perr != nil {
				return nil, perr
			}
			c.RootTreeID = id
		case "change":
			cid, perr := objhash.ChangeIDFromHex(value)
			if perr != nil {
				return nil, perr
			}
			c.ChangeID = cid
		case "parent":
			id, perr := objhash.FromHex(value)
			if perr != nil {
				return nil, perr
			}
			c.ParentIDs = append(c.ParentIDs, id)
		case "author":
			sig, perr := decodeSignature(value)
			if perr != nil {
				return nil, perr
			}
			c.Author = sig
		case "committer":
			sig, perr := decodeSignature(value)
			if perr != nil {
				return nil, perr
			}
			c.Committer = sig
		}
		if err != nil {
			break
		}
	}
	c.Description = body.String()
	return c, nil
}

func decodeSignature(s string) (object.Signature, error) {
	open := strings.LastIndexByte(s, '<')
	closeIdx := strings.LastIndexByte(s, '>')
	if open < 0 || closeIdx < open {
		return object.Signature{}, fmt.Errorf("malformed signature: %q", s)
	}
	name := strings.TrimSpace(s[:open])
	email := s[open+1 : closeIdx]
	rest := strings.TrimSpace(s[closeIdx+1:])
	fields := strings.Fields(rest)
	when := time.Unix(0, 0).UTC()
	if len(fields) >= 1 {
		if sec, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			when = time.Unix(sec, 0).UTC()
		}
	}
	return object.Signature{Name: name, Email: email, When: when}, nil
}

// decodeTree parses lines of the form "<kind> <id> <name>[ x]" produced by
// Tree.encode.
func decodeTree(payload []byte) (*object.Tree, error) {
	t := &object.Tree{}
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed tree entry: %q", line)
		}
		kind, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, err
		}
		id, err := objhash.FromHex(fields[1])
		if err != nil {
			return nil, err
		}
		name := fields[2]
		executable := false
		if strings.HasSuffix(name, " x") {
			executable = true
			name = strings.TrimSuffix(name, " x")
		}
		t.Entries = append(t.Entries, &object.TreeEntry{
			Name:       name,
			Kind:       object.EntryKind(kind),
			ID:         id,
			Executable: executable,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
