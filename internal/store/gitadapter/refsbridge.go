package gitadapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// Colocated-Git reconciliation (spec §4.5/§6): the raw import/export half
// lives here, in terms of Git shas; internal/colocate drives the view-level
// three-way ref algebra on top of it. Grounded on the original
// modules/plumbing.Reference (HashReference/SymbolicReference) for the
// HEAD model and on pkg/zeta/odb/references.go's lock-then-rename ref
// writes (see refsfile.go), reimplemented as direct filesystem access
// instead of shelling out to `git update-ref`/`git for-each-ref`.
// HeadsPrefix etc. are exported so internal/colocate can key its
// per-ref-name View.GitRefs mirror consistently with what gets
// imported/exported here.
const (
	HeadsPrefix   = "refs/heads"
	TagsPrefix    = "refs/tags"
	RemotesPrefix = "refs/remotes"
	KeepPrefix    = "refs/jj/keep"
)

// HeadState mirrors Git's HEAD: either symbolic (Branch names the local
// branch it points at) or detached (Branch == "", Commit is the resolved
// target). Commit is the zero id for an unborn branch or a HEAD that
// resolves nowhere yet.
type HeadState struct {
	Branch string
	Commit objhash.ID
}

// ImportedRefs is one read-only snapshot of every ref this adapter
// understands, with Git shas already resolved to wisp ids (importing the
// underlying commit/tree/blob graph as needed for any sha the mapping
// hasn't seen before).
type ImportedRefs struct {
	Heads   map[string]objhash.ID            // branch name -> commit id
	Tags    map[string]objhash.ID            // tag name -> commit id (lightweight tags only)
	Remotes map[string]map[string]objhash.ID // remote -> branch -> commit id
	Head    HeadState
}

// ImportRefs reads every refs/heads, refs/tags, and refs/remotes/<remote>
// entry plus HEAD, importing any commit graph the mapping has not seen
// before (spec §6 "the core imports ... refs under refs/heads/,
// refs/tags/, refs/remotes/<remote>/"). Annotated tag objects (Git's "tag"
// object type, distinct from a lightweight tag's direct commit pointer) are
// skipped: this module's Tag is a bare RefTarget, with no slot for an
// annotated tag's separate message/tagger, so importing one would lose
// data silently instead of surfacing it.
func (s *Store) ImportRefs(ctx context.Context) (ImportedRefs, error) {
	out := ImportedRefs{
		Heads:   map[string]objhash.ID{},
		Tags:    map[string]objhash.ID{},
		Remotes: map[string]map[string]objhash.ID{},
	}
	heads, err := listRefNames(s.gitDir, HeadsPrefix)
	if err != nil {
		return out, err
	}
	for _, name := range heads {
		id, ok, err := s.importRefCommit(name)
		if err != nil {
			return out, err
		}
		if ok {
			out.Heads[strings.TrimPrefix(name, HeadsPrefix+"/")] = id
		}
	}
	tags, err := listRefNames(s.gitDir, TagsPrefix)
	if err != nil {
		return out, err
	}
	for _, name := range tags {
		id, ok, err := s.importRefCommit(name)
		if err != nil {
			return out, err
		}
		if ok {
			out.Tags[strings.TrimPrefix(name, TagsPrefix+"/")] = id
		}
	}
	remoteRefs, err := listRefNames(s.gitDir, RemotesPrefix)
	if err != nil {
		return out, err
	}
	for _, name := range remoteRefs {
		rest := strings.TrimPrefix(name, RemotesPrefix+"/")
		remote, branch, ok := strings.Cut(rest, "/")
		if !ok || branch == "HEAD" {
			continue // a remote's own HEAD symref, not a branch pointer
		}
		id, ok, err := s.importRefCommit(name)
		if err != nil {
			return out, err
		}
		if !ok {
			continue
		}
		if out.Remotes[remote] == nil {
			out.Remotes[remote] = map[string]objhash.ID{}
		}
		out.Remotes[remote][branch] = id
	}

	headSHA, headBranch, err := s.resolveHead()
	if err != nil {
		return out, err
	}
	out.Head.Branch = headBranch
	if headSHA != "" {
		id, err := s.importCommit(headSHA)
		if err != nil {
			return out, err
		}
		out.Head.Commit = id
	}
	return out, nil
}

// resolveHead reads HEAD and, if it is symbolic, follows it one level (Git
// never nests symrefs beyond HEAD -> refs/heads/<x> in normal operation).
// Returns ("", branchName, nil) for an unborn branch.
func (s *Store) resolveHead() (sha, branch string, err error) {
	target, symbolic, err := readGitRef(s.gitDir, "HEAD")
	if err != nil {
		return "", "", err
	}
	if symbolic == "" {
		return target, "", nil
	}
	branch = strings.TrimPrefix(symbolic, HeadsPrefix+"/")
	resolved, ok, err := resolveGitRefSHA(s.gitDir, symbolic)
	if err != nil {
		return "", branch, err
	}
	if !ok {
		return "", branch, nil
	}
	return resolved, branch, nil
}

// importRefCommit resolves name to a sha and imports it, returning ok=false
// for a ref that does not currently exist (already deleted on the Git side)
// or that names a non-commit object (an annotated tag).
func (s *Store) importRefCommit(name string) (objhash.ID, bool, error) {
	sha, ok, err := resolveGitRefSHA(s.gitDir, name)
	if err != nil || !ok {
		return objhash.ZeroID, false, err
	}
	objType, _, err := readLooseObject(s.gitDir, sha)
	if err != nil {
		return objhash.ZeroID, false, err
	}
	if objType != "commit" {
		return objhash.ZeroID, false, nil
	}
	id, err := s.importCommit(sha)
	if err != nil {
		return objhash.ZeroID, false, err
	}
	return id, true, nil
}

// importCommit maps a Git commit sha this adapter has not written itself to
// a wisp id, recursively importing its tree and parents first. Idempotent:
// a sha already in the mapping is returned directly without re-reading
// anything.
func (s *Store) importCommit(sha string) (objhash.ID, error) {
	if wispHex, ok := s.mapping.reverseLookup(sha); ok {
		return objhash.FromHex(wispHex)
	}
	objType, payload, err := readLooseObject(s.gitDir, sha)
	if err != nil {
		return objhash.ZeroID, err
	}
	if objType != "commit" {
		return objhash.ZeroID, werr.Corrupt("gitadapter.importCommit", fmt.Errorf("%s: expected commit, got %s", sha, objType))
	}
	fields, err := decodeGitCommit(payload)
	if err != nil {
		return objhash.ZeroID, err
	}
	if _, err := s.importTree(fields.Tree); err != nil {
		return objhash.ZeroID, err
	}
	for _, p := range fields.Parents {
		if _, err := s.importCommit(p); err != nil {
			return objhash.ZeroID, err
		}
	}
	// Hashed from the raw external bytes, not re-encoded through
	// encodeGitCommit: importing must never mint a new Git object for a
	// commit Git already wrote, only learn the wisp id naming it. ReadCommit
	// falls back to objhash.ChangeIDFromGitCommit when decodeCommitMessage
	// finds no change-id trailer, which is always the case here (an
	// externally-authored commit has no reason to carry one).
	id := hashPayload(kindCommit, payload)
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.importCommit", err)
	}
	return id, nil
}

// importTree is importCommit's tree-side counterpart: it hashes the
// imported subtree the same way WriteTree would (as an object.Tree built
// from the decoded entries), so a later wisp-authored tree with identical
// content resolves to the same id and reuses this mapping row instead of
// writing a duplicate Git object.
func (s *Store) importTree(sha string) (objhash.ID, error) {
	if sha == emptyGitTreeSHA() {
		return s.emptyTreeID, nil
	}
	if wispHex, ok := s.mapping.reverseLookup(sha); ok {
		return objhash.FromHex(wispHex)
	}
	objType, payload, err := readLooseObject(s.gitDir, sha)
	if err != nil {
		return objhash.ZeroID, err
	}
	if objType != "tree" {
		return objhash.ZeroID, werr.Corrupt("gitadapter.importTree", fmt.Errorf("%s: expected tree, got %s", sha, objType))
	}
	gitEntries, err := decodeGitTree(payload)
	if err != nil {
		return objhash.ZeroID, err
	}
	for _, ge := range gitEntries {
		switch ge.Mode {
		case "40000":
			if _, err := s.importTree(ge.SHA); err != nil {
				return objhash.ZeroID, err
			}
		case "160000":
			// Submodule gitlink: nothing of ours to import.
		default:
			if _, err := s.importBlob(ge.SHA); err != nil {
				return objhash.ZeroID, err
			}
		}
	}
	tree, err := s.decodeGitEntriesToTree(gitEntries)
	if err != nil {
		return objhash.ZeroID, err
	}
	id := hashPayload(kindTree, tree.Encode())
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.importTree", err)
	}
	return id, nil
}

func (s *Store) decodeGitEntriesToTree(gitEntries []gitTreeEntry) (*object.Tree, error) {
	t := &object.Tree{}
	for _, ge := range gitEntries {
		te, err := s.decodeTreeEntry(ge)
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, te)
	}
	return t, nil
}

func (s *Store) importBlob(sha string) (objhash.ID, error) {
	if wispHex, ok := s.mapping.reverseLookup(sha); ok {
		return objhash.FromHex(wispHex)
	}
	objType, payload, err := readLooseObject(s.gitDir, sha)
	if err != nil {
		return objhash.ZeroID, err
	}
	if objType != "blob" {
		return objhash.ZeroID, werr.Corrupt("gitadapter.importBlob", fmt.Errorf("%s: expected blob, got %s", sha, objType))
	}
	id := hashPayload(kindFile, payload)
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.importBlob", err)
	}
	return id, nil
}

// ExportRefs writes heads and tags, deleting any loose refs/heads/* or
// refs/tags/* ref file not named in the given maps (a bookmark/tag deletion
// mirrored outward; entries in packed-refs are not removed), then updates
// HEAD. Every id given must already have a mapping
// entry (have gone through WriteCommit, directly or via ImportRefs).
func (s *Store) ExportRefs(ctx context.Context, heads, tags map[string]objhash.ID, head HeadState) error {
	if err := s.exportRefSet(HeadsPrefix, heads); err != nil {
		return err
	}
	if err := s.exportRefSet(TagsPrefix, tags); err != nil {
		return err
	}
	if head.Branch != "" {
		if err := writeSymbolicGitRef(s.gitDir, "HEAD", HeadsPrefix+"/"+head.Branch); err != nil {
			return err
		}
		return nil
	}
	if head.Commit.IsZero() {
		return nil
	}
	entry, ok := s.mapping.get(head.Commit.String())
	if !ok {
		return werr.Corrupt("gitadapter.ExportRefs", fmt.Errorf("unmapped HEAD commit %s", head.Commit))
	}
	return writeGitRef(s.gitDir, "HEAD", entry.GitSHA)
}

func (s *Store) exportRefSet(prefix string, wanted map[string]objhash.ID) error {
	existing, err := listLooseRefNames(s.gitDir, prefix)
	if err != nil {
		return err
	}
	keep := map[string]struct{}{}
	names := make([]string, 0, len(wanted))
	for name := range wanted {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id := wanted[name]
		entry, ok := s.mapping.get(id.String())
		if !ok {
			return werr.Corrupt("gitadapter.exportRefSet", fmt.Errorf("unmapped ref target %s for %s/%s", id, prefix, name))
		}
		full := prefix + "/" + name
		if err := writeGitRef(s.gitDir, full, entry.GitSHA); err != nil {
			return err
		}
		keep[full] = struct{}{}
	}
	for _, full := range existing {
		if _, ok := keep[full]; ok {
			continue
		}
		if err := deleteGitRef(s.gitDir, full); err != nil {
			return err
		}
	}
	return nil
}

// WriteKeepRef anchors id against GC under the private
// refs/jj/keep/<commit-id> namespace (spec §6), so a reachable commit with
// no bookmark or workspace pointer still survives a colocated "git gc".
func (s *Store) WriteKeepRef(ctx context.Context, id objhash.ID) error {
	entry, ok := s.mapping.get(id.String())
	if !ok {
		return werr.Corrupt("gitadapter.WriteKeepRef", fmt.Errorf("unmapped commit %s", id))
	}
	return writeGitRef(s.gitDir, KeepPrefix+"/"+id.String(), entry.GitSHA)
}

// RemoveKeepRef drops the GC anchor for id, once the core's own index no
// longer needs to force its retention.
func (s *Store) RemoveKeepRef(ctx context.Context, id objhash.ID) error {
	return deleteGitRef(s.gitDir, KeepPrefix+"/"+id.String())
}
