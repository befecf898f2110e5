// Package object implements the commit/tree data model of spec §3, grounded
// on the original modules/zeta/object package (commit/tree encode-decode,
// the TreeEntry "subtree order" sort, magic-prefixed framing) but reworked
// around the change-id and merged-tree-conflict semantics that the
// original object model does not have.
package object

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/antgroup/wisp/internal/objhash"
)

// Signature is an author or committer identity and timestamp, encoded the
// way the original object.Signature is: "Name <email> unix-seconds zone".
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// Commit is the immutable tuple from spec §3: id (content hash), change-id
// (stable identity across rewrites), ordered parent ids, root tree id,
// author/committer, and description.
type Commit struct {
	ID          objhash.ID
	ChangeID    objhash.ChangeID
	ParentIDs   []objhash.ID
	RootTreeID  objhash.ID
	Author      Signature
	Committer   Signature
	Description string
}

// IsRoot reports whether c is the distinguished root commit: empty parent
// list and empty tree, per spec §3.
func (c *Commit) IsRoot() bool {
	return len(c.ParentIDs) == 0 && c.RootTreeID.IsZero()
}

// encode serializes a commit deterministically so that content-addressing is
// stable; mirrors object.Commit.Encode's magic-prefixed header block in the
// original model, generalized with a change-id header line.
func (c *Commit) encode(buf *bytes.Buffer) {
	buf.WriteString("tree ")
	buf.WriteString(c.RootTreeID.String())
	buf.WriteByte('\n')
	buf.WriteString("change ")
	buf.WriteString(c.ChangeID.String())
	buf.WriteByte('\n')
	for _, p := range c.ParentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}
	buf.WriteString("author ")
	buf.WriteString(c.Author.String())
	buf.WriteByte('\n')
	buf.WriteString("committer ")
	buf.WriteString(c.Committer.String())
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	buf.WriteString(c.Description)
}

// ComputeID fills c.ID with the content hash of c's encoded form. Two
// commits with identical content produce identical ids (spec §4.1 "writes
// are idempotent on id").
func (c *Commit) ComputeID() objhash.ID {
	var buf bytes.Buffer
	c.encode(&buf)
	c.ID = objhash.Of(buf.Bytes())
	return c.ID
}

// Encode writes the commit's canonical byte form, for storage.
func (c *Commit) Encode() []byte {
	var buf bytes.Buffer
	c.encode(&buf)
	return buf.Bytes()
}

// EntryKind discriminates the variants from spec §3 "Entry variants".
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntrySymlink
	EntryTree
	EntryGitSubmodule
	EntryConflict
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntrySymlink:
		return "symlink"
	case EntryTree:
		return "tree"
	case EntryGitSubmodule:
		return "submodule"
	case EntryConflict:
		return "conflict"
	default:
		return "invalid"
	}
}

// TreeEntry is one name -> entry mapping within a Tree.
type TreeEntry struct {
	Name       string
	Kind       EntryKind
	ID         objhash.ID
	Executable bool // meaningful only for EntryFile
}

func (e *TreeEntry) Clone() *TreeEntry {
	c := *e
	return &c
}

func (e *TreeEntry) Equal(o *TreeEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Name == o.Name && e.Kind == o.Kind && e.ID == o.ID && e.Executable == o.Executable
}

// Tree is the mapping from path-component to entry described in spec §3.
// Entries are always kept in subtree order (see sortEntries) so encoding is
// deterministic and hashing is stable.
type Tree struct {
	ID      objhash.ID
	Entries []*TreeEntry
}

// subtreeName renders the sort key for an entry: subtrees sort as though
// their name ended in "/", exactly like the original object.SubtreeOrder,
// while every other entry sorts as though its name ended in NUL; so a file
// "a" sorts before a subtree "a", and "a.txt" ('.' < '/') also sorts before it.
func subtreeName(e *TreeEntry) string {
	if e.Kind == EntryTree {
		return e.Name + "/"
	}
	return e.Name + "\x00"
}

func sortEntries(entries []*TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return subtreeName(entries[i]) < subtreeName(entries[j])
	})
}

func (t *Tree) encode(buf *bytes.Buffer) {
	sortEntries(t.Entries)
	for _, e := range t.Entries {
		fmt.Fprintf(buf, "%d %s %s", e.Kind, e.ID.String(), e.Name)
		if e.Kind == EntryFile && e.Executable {
			buf.WriteString(" x")
		}
		buf.WriteByte('\n')
	}
}

func (t *Tree) ComputeID() objhash.ID {
	var buf bytes.Buffer
	t.encode(&buf)
	t.ID = objhash.Of(buf.Bytes())
	return t.ID
}

func (t *Tree) Encode() []byte {
	var buf bytes.Buffer
	t.encode(&buf)
	return buf.Bytes()
}

// Entry looks up an entry by name.
func (t *Tree) Entry(name string) *TreeEntry {
	for _, e := range t.Entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// Merge replaces or appends entries by name, analogous to the original
// object.Tree.Merge, and returns a new sorted Tree (id left uncomputed).
func (t *Tree) Merge(entries ...*TreeEntry) *Tree {
	byName := make(map[string]*TreeEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	out := make([]*TreeEntry, 0, len(t.Entries)+len(entries))
	for _, e := range t.Entries {
		if repl, ok := byName[e.Name]; ok {
			out = append(out, repl)
			delete(byName, e.Name)
		} else {
			out = append(out, e.Clone())
		}
	}
	for _, remaining := range byName {
		out = append(out, remaining)
	}
	sortEntries(out)
	return &Tree{Entries: out}
}

// Remove drops an entry by name, returning a new Tree.
func (t *Tree) Remove(name string) *Tree {
	out := make([]*TreeEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		if e.Name != name {
			out = append(out, e.Clone())
		}
	}
	return &Tree{Entries: out}
}

// Path is an ordered sequence of path components, per spec §3: repo-paths
// are always '/'-separated and relative to the workspace root regardless of
// host OS.
type Path struct {
	components []string
}

func NewPath(repoPath string) Path {
	repoPath = strings.Trim(repoPath, "/")
	if repoPath == "" {
		return Path{}
	}
	return Path{components: strings.Split(repoPath, "/")}
}

func (p Path) Components() []string { return p.components }

func (p Path) String() string {
	return strings.Join(p.components, "/")
}

func (p Path) Empty() bool { return len(p.components) == 0 }

// Parent returns the path with its last component removed, and ok=false if p
// is already the root.
func (p Path) Parent() (Path, bool) {
	if len(p.components) == 0 {
		return Path{}, false
	}
	return Path{components: p.components[:len(p.components)-1]}, true
}

func (p Path) Base() string {
	if len(p.components) == 0 {
		return ""
	}
	return p.components[len(p.components)-1]
}

func (p Path) Join(child string) Path {
	next := make([]string, len(p.components), len(p.components)+1)
	copy(next, p.components)
	return Path{components: append(next, child)}
}

// Compare orders paths lexicographically by component, as required by spec
// §3 "Paths sort lexicographically by component".
func (p Path) Compare(o Path) int {
	for i := 0; i < len(p.components) && i < len(o.components); i++ {
		if p.components[i] != o.components[i] {
			return strings.Compare(p.components[i], o.components[i])
		}
	}
	return len(p.components) - len(o.components)
}

// CleanRepoPath normalizes a filesystem path (which may use the host
// separator) into a '/'-separated repo path.
func CleanRepoPath(osPath string) string {
	return path.Clean(strings.ReplaceAll(osPath, "\\", "/"))
}

// MergedTreeSequence is the representation described in spec §3 for a merged
// (possibly conflicted) tree: an odd-length sequence of tree ids interpreted
// as alternating +/- terms. Length 1 means resolved.
type MergedTreeSequence []objhash.ID

func (m MergedTreeSequence) Resolved() bool {
	return len(m) == 1
}

func (m MergedTreeSequence) ResolvedID() (objhash.ID, bool) {
	if m.Resolved() {
		return m[0], true
	}
	return objhash.ZeroID, false
}

// Adds returns the positive (even-indexed, i.e. index 0,2,4,...) terms.
func (m MergedTreeSequence) Adds() []objhash.ID {
	var out []objhash.ID
	for i := 0; i < len(m); i += 2 {
		out = append(out, m[i])
	}
	return out
}

// Removes returns the negative terms.
func (m MergedTreeSequence) Removes() []objhash.ID {
	var out []objhash.ID
	for i := 1; i < len(m); i += 2 {
		out = append(out, m[i])
	}
	return out
}

func NewMergedTreeSequence(id objhash.ID) MergedTreeSequence {
	return MergedTreeSequence{id}
}
