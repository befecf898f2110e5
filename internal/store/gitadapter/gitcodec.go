package gitadapter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// gitTreeEntry is one entry of a real Git tree object.
type gitTreeEntry struct {
	Mode string
	Name string
	SHA  string // hex
}

func gitSubtreeSortKey(e gitTreeEntry) string {
	if e.Mode == "40000" {
		return e.Name + "/"
	}
	return e.Name + "\x00"
}

// encodeGitTree renders entries in Git's binary tree format: sorted
// "<mode> <name>\0<20-byte-sha1>" records concatenated together.
func encodeGitTree(entries []gitTreeEntry) ([]byte, error) {
	sorted := append([]gitTreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return gitSubtreeSortKey(sorted[i]) < gitSubtreeSortKey(sorted[j]) })
	var buf bytes.Buffer
	for _, e := range sorted {
		raw, err := hex.DecodeString(e.SHA)
		if err != nil || len(raw) != 20 {
			return nil, werr.Corrupt("gitadapter.encodeGitTree", fmt.Errorf("bad git sha %q", e.SHA))
		}
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode, e.Name)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func decodeGitTree(payload []byte) ([]gitTreeEntry, error) {
	var out []gitTreeEntry
	for len(payload) > 0 {
		sp := bytes.IndexByte(payload, ' ')
		nul := bytes.IndexByte(payload, 0)
		if sp < 0 || nul < 0 || nul < sp {
			return nil, werr.Corrupt("gitadapter.decodeGitTree", fmt.Errorf("malformed tree entry"))
		}
		mode := string(payload[:sp])
		name := string(payload[sp+1 : nul])
		if len(payload) < nul+1+20 {
			return nil, werr.Corrupt("gitadapter.decodeGitTree", fmt.Errorf("truncated tree entry"))
		}
		sha := hex.EncodeToString(payload[nul+1 : nul+21])
		out = append(out, gitTreeEntry{Mode: mode, Name: name, SHA: sha})
		payload = payload[nul+21:]
	}
	return out, nil
}

// gitCommitFields is the parsed form of a real Git commit object.
type gitCommitFields struct {
	Tree      string
	Parents   []string
	Author    string
	Committer string
	Message   string
}

func encodeGitCommit(f gitCommitFields) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", f.Tree)
	for _, p := range f.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", f.Author)
	fmt.Fprintf(&buf, "committer %s\n", f.Committer)
	buf.WriteByte('\n')
	buf.WriteString(f.Message)
	return buf.Bytes()
}

func decodeGitCommit(payload []byte) (gitCommitFields, error) {
	text := string(payload)
	headerEnd := strings.Index(text, "\n\n")
	if headerEnd < 0 {
		return gitCommitFields{}, werr.Corrupt("gitadapter.decodeGitCommit", fmt.Errorf("missing header/body separator"))
	}
	header, message := text[:headerEnd], text[headerEnd+2:]
	var f gitCommitFields
	f.Message = message
	for _, line := range strings.Split(header, "\n") {
		switch {
		case strings.HasPrefix(line, "tree "):
			f.Tree = strings.TrimPrefix(line, "tree ")
		case strings.HasPrefix(line, "parent "):
			f.Parents = append(f.Parents, strings.TrimPrefix(line, "parent "))
		case strings.HasPrefix(line, "author "):
			f.Author = strings.TrimPrefix(line, "author ")
		case strings.HasPrefix(line, "committer "):
			f.Committer = strings.TrimPrefix(line, "committer ")
		}
	}
	return f, nil
}

const changeIDTrailerPrefix = "change-id: "

// encodeCommitMessage appends a change-id trailer to description, per spec
// §4.1's "the adapter is responsible for preserving change-id metadata in a
// commit header".
func encodeCommitMessage(description string, changeID objhash.ChangeID) string {
	body := description
	if body != "" && !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body + "\n" + changeIDTrailerPrefix + changeID.String() + "\n"
}

func decodeCommitMessage(message string) (description string, changeID objhash.ChangeID, err error) {
	idx := strings.LastIndex(message, "\n\n"+changeIDTrailerPrefix)
	var trailer string
	switch {
	case idx >= 0:
		description, trailer = message[:idx], message[idx+2:]
	case strings.HasPrefix(message, "\n"+changeIDTrailerPrefix):
		trailer = message[1:] // empty description: only one "\n" precedes the trailer
	default:
		return "", objhash.ZeroChangeID, werr.Corrupt("gitadapter.decodeCommitMessage", fmt.Errorf("missing change-id trailer"))
	}
	rest := strings.TrimPrefix(trailer, changeIDTrailerPrefix)
	rest = strings.TrimSuffix(rest, "\n")
	changeID, err = objhash.ChangeIDFromHex(rest)
	if err != nil {
		return "", objhash.ZeroChangeID, werr.Corrupt("gitadapter.decodeCommitMessage", err)
	}
	return description, changeID, nil
}
