package gitadapter

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
)

// kind tags distinguish what a wisp id names when it is hashed, mirroring
// native.Store's hashPayload: a commit, a tree, and a file payload must
// never collide on id even if their encoded bytes happen to coincide.
const (
	kindCommit uint16 = 1
	kindTree   uint16 = 2
	kindFile   uint16 = 3
)

// markerAuthor is the fixed author line stamped on every private marker
// commit gitadapter synthesizes to round-trip an EntryConflict tree entry
// through a real Git tree (spec §4.1's "the adapter is responsible for
// preserving change-id metadata" extends here to conflict entries, which
// Git's tree format has no native slot for). A real person never commits
// with this identity, so a marker commit is always recognizable even if
// the mapping index were ever lost and had to be rebuilt by a full scan.
const markerAuthor = "wisp-conflict-marker <noreply@invalid> 0 +0000"

// Store is the Git-adapter Object Store Interface backend of spec §4.1: a
// store.Backend that writes real Git loose objects under gitDir (a
// colocated ".git" directory) instead of this module's own sharded format.
type Store struct {
	gitDir  string
	mapping *mapping

	emptyTreeID  objhash.ID
	rootCommitID objhash.ID
}

// Open opens (creating if needed) a Git-adapter backend. gitDir is the
// colocated Git directory (".git"); stateDir holds the adapter's own
// id-mapping index, kept outside gitDir so a "git gc" on the colocated repo
// never touches it.
func Open(gitDir, stateDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(gitDir, "objects"), 0755); err != nil {
		return nil, werr.IO("gitadapter.Open", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, werr.IO("gitadapter.Open", err)
	}
	m, err := openMapping(stateDir)
	if err != nil {
		return nil, werr.IO("gitadapter.Open", err)
	}
	s := &Store{gitDir: gitDir, mapping: m}
	// Mirrors native.Open: these are pure content hashes of the zero-value
	// Commit/Tree, never written to the backend unless a caller explicitly
	// asks to store one (ReadTree special-cases the empty tree below so
	// EmptyTreeID is usable before any write ever happens).
	s.emptyTreeID = hashPayload(kindTree, (&object.Tree{}).Encode())
	s.rootCommitID = hashPayload(kindCommit, (&object.Commit{}).Encode())
	return s, nil
}

func (s *Store) Close() error { return nil }

func hashPayload(kind uint16, payload []byte) objhash.ID {
	h := objhash.NewHasher()
	_, _ = h.Write([]byte{byte(kind >> 8), byte(kind)})
	_, _ = h.Write(payload)
	return h.Sum()
}

func (s *Store) RootCommitID(ctx context.Context) objhash.ID { return s.rootCommitID }
func (s *Store) EmptyTreeID(ctx context.Context) objhash.ID  { return s.emptyTreeID }

// decodeGitSignature parses "Name <email> unix-seconds zone" back into a
// Signature, the inverse of object.Signature.String. Duplicated from
// native/decode.go's unexported decodeSignature since that helper isn't
// reusable across packages.
func decodeGitSignature(line string) (object.Signature, error) {
	open := strings.LastIndex(line, "<")
	close := strings.LastIndex(line, ">")
	if open < 0 || close < open {
		return object.Signature{}, werr.Corrupt("gitadapter.decodeGitSignature", fmt.Errorf("malformed signature %q", line))
	}
	name := strings.TrimSpace(line[:open])
	email := line[open+1 : close]
	rest := strings.Fields(line[close+1:])
	if len(rest) < 1 {
		return object.Signature{}, werr.Corrupt("gitadapter.decodeGitSignature", fmt.Errorf("missing timestamp in %q", line))
	}
	unixSec, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return object.Signature{}, werr.Corrupt("gitadapter.decodeGitSignature", err)
	}
	when := time.Unix(unixSec, 0).UTC()
	if len(rest) >= 2 {
		if loc, perr := time.Parse("-0700", rest[1]); perr == nil {
			when = time.Unix(unixSec, 0).In(loc.Location())
		}
	}
	return object.Signature{Name: name, Email: email, When: when}, nil
}

// --- commits ---

func (s *Store) ReadCommit(ctx context.Context, id objhash.ID) (*object.Commit, error) {
	entry, ok := s.mapping.get(id.String())
	if !ok {
		return nil, werr.NotFound("gitadapter.ReadCommit", fmt.Errorf("no mapping for %s", id))
	}
	objType, payload, err := readLooseObject(s.gitDir, entry.GitSHA)
	if err != nil {
		return nil, err
	}
	if objType != "commit" {
		return nil, werr.Corrupt("gitadapter.ReadCommit", fmt.Errorf("%s: expected commit, got %s", id, objType))
	}
	fields, err := decodeGitCommit(payload)
	if err != nil {
		return nil, err
	}
	treeID, err := s.resolveTreeID(fields.Tree)
	if err != nil {
		return nil, err
	}
	parents := make([]objhash.ID, 0, len(fields.Parents))
	for _, p := range fields.Parents {
		pid, ok := s.mapping.reverseLookup(p)
		if !ok {
			return nil, werr.Corrupt("gitadapter.ReadCommit", fmt.Errorf("unmapped parent %s", p))
		}
		parsed, err := objhash.FromHex(pid)
		if err != nil {
			return nil, werr.Corrupt("gitadapter.ReadCommit", err)
		}
		parents = append(parents, parsed)
	}
	author, err := decodeGitSignature(fields.Author)
	if err != nil {
		return nil, err
	}
	committer, err := decodeGitSignature(fields.Committer)
	if err != nil {
		return nil, err
	}
	description, changeID, err := decodeCommitMessage(fields.Message)
	if err != nil {
		// No change-id trailer: this commit was authored outside wisp (an
		// external `git commit` in the colocated working tree) and imported
		// via ImportRefs. Derive a stable change-id from its own commit id
		// instead of failing, per spec §6's change-id convention for
		// imported commits -- every later read of the same commit derives
		// the same change-id, so this is not a one-shot random assignment.
		changeID = objhash.ChangeIDFromGitCommit(id)
		description = strings.TrimRight(fields.Message, "\n")
	}
	c := &object.Commit{
		ID:          id,
		ChangeID:    changeID,
		ParentIDs:   parents,
		RootTreeID:  treeID,
		Author:      author,
		Committer:   committer,
		Description: description,
	}
	return c, nil
}

func (s *Store) WriteCommit(ctx context.Context, c *object.Commit) (objhash.ID, error) {
	treeSHA, err := s.resolveGitSHA(c.RootTreeID)
	if err != nil {
		return objhash.ZeroID, err
	}
	parents := make([]string, 0, len(c.ParentIDs))
	for _, p := range c.ParentIDs {
		entry, ok := s.mapping.get(p.String())
		if !ok {
			return objhash.ZeroID, werr.Corrupt("gitadapter.WriteCommit", fmt.Errorf("unmapped parent %s", p))
		}
		parents = append(parents, entry.GitSHA)
	}
	message := encodeCommitMessage(c.Description, c.ChangeID)
	payload := encodeGitCommit(gitCommitFields{
		Tree:      treeSHA,
		Parents:   parents,
		Author:    c.Author.String(),
		Committer: c.Committer.String(),
		Message:   message,
	})
	id := hashPayload(kindCommit, payload)
	sha, err := writeLooseObject(s.gitDir, "commit", payload)
	if err != nil {
		return objhash.ZeroID, err
	}
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.WriteCommit", err)
	}
	c.ID = id
	return id, nil
}

// --- trees ---

// resolveGitSHA returns the Git sha for a tree id already known to the
// mapping, special-casing the empty tree so it's usable before any write.
func (s *Store) resolveGitSHA(id objhash.ID) (string, error) {
	if id == s.emptyTreeID {
		sha, err := writeLooseObject(s.gitDir, "tree", nil)
		if err != nil {
			return "", err
		}
		return sha, nil
	}
	entry, ok := s.mapping.get(id.String())
	if !ok {
		return "", werr.Corrupt("gitadapter.resolveGitSHA", fmt.Errorf("unmapped tree %s", id))
	}
	return entry.GitSHA, nil
}

func (s *Store) resolveTreeID(sha string) (objhash.ID, error) {
	if sha == emptyGitTreeSHA() {
		return s.emptyTreeID, nil
	}
	wispHex, ok := s.mapping.reverseLookup(sha)
	if !ok {
		return objhash.ZeroID, werr.Corrupt("gitadapter.resolveTreeID", fmt.Errorf("unmapped tree %s", sha))
	}
	return objhash.FromHex(wispHex)
}

func (s *Store) ReadTree(ctx context.Context, pathPrefix string, id objhash.ID) (*object.Tree, error) {
	if id == s.emptyTreeID {
		return &object.Tree{ID: id}, nil
	}
	entry, ok := s.mapping.get(id.String())
	if !ok {
		return nil, werr.NotFound("gitadapter.ReadTree", fmt.Errorf("no mapping for %s", id))
	}
	objType, payload, err := readLooseObject(s.gitDir, entry.GitSHA)
	if err != nil {
		return nil, err
	}
	if objType != "tree" {
		return nil, werr.Corrupt("gitadapter.ReadTree", fmt.Errorf("%s: expected tree, got %s", id, objType))
	}
	gitEntries, err := decodeGitTree(payload)
	if err != nil {
		return nil, err
	}
	t := &object.Tree{ID: id}
	for _, ge := range gitEntries {
		te, err := s.decodeTreeEntry(ge)
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, te)
	}
	return t, nil
}

func (s *Store) decodeTreeEntry(ge gitTreeEntry) (*object.TreeEntry, error) {
	switch ge.Mode {
	case "40000":
		wispHex, ok := s.mapping.reverseLookup(ge.SHA)
		var id objhash.ID
		if ok {
			parsed, err := objhash.FromHex(wispHex)
			if err != nil {
				return nil, werr.Corrupt("gitadapter.decodeTreeEntry", err)
			}
			id = parsed
		} else if ge.SHA == emptyGitTreeSHA() {
			id = s.emptyTreeID
		} else {
			return nil, werr.Corrupt("gitadapter.decodeTreeEntry", fmt.Errorf("unmapped subtree %s", ge.SHA))
		}
		return &object.TreeEntry{Name: ge.Name, Kind: object.EntryTree, ID: id}, nil

	case "120000":
		blobID, err := s.blobIDForSHA(ge.SHA)
		if err != nil {
			return nil, err
		}
		return &object.TreeEntry{Name: ge.Name, Kind: object.EntrySymlink, ID: blobID}, nil

	case "160000":
		// Either a genuine external Git submodule gitlink, or one of our own
		// conflict-entry marker commits -- disambiguated by whether the
		// mapping recognizes the target commit sha as a marker (spec §4.1's
		// "round-tripping conflicted trees through a private marker commit").
		if key, ok := s.mapping.reverseLookup(ge.SHA); ok {
			if wispHex, isMarker := markerBlobHex(key); isMarker {
				parsed, err := objhash.FromHex(wispHex)
				if err != nil {
					return nil, werr.Corrupt("gitadapter.decodeTreeEntry", err)
				}
				return &object.TreeEntry{Name: ge.Name, Kind: object.EntryConflict, ID: parsed}, nil
			}
		}
		raw, err := hex.DecodeString(ge.SHA)
		if err != nil || len(raw) != 20 {
			return nil, werr.Corrupt("gitadapter.decodeTreeEntry", fmt.Errorf("bad submodule sha %q", ge.SHA))
		}
		var id objhash.ID
		copy(id[:], raw)
		return &object.TreeEntry{Name: ge.Name, Kind: object.EntryGitSubmodule, ID: id}, nil

	default:
		blobID, err := s.blobIDForSHA(ge.SHA)
		if err != nil {
			return nil, err
		}
		return &object.TreeEntry{Name: ge.Name, Kind: object.EntryFile, ID: blobID, Executable: ge.Mode == "100755"}, nil
	}
}

func (s *Store) blobIDForSHA(sha string) (objhash.ID, error) {
	wispHex, ok := s.mapping.reverseLookup(sha)
	if !ok {
		return objhash.ZeroID, werr.Corrupt("gitadapter.blobIDForSHA", fmt.Errorf("unmapped blob %s", sha))
	}
	return objhash.FromHex(wispHex)
}

var emptyGitTreeSHACache string

func emptyGitTreeSHA() string {
	if emptyGitTreeSHACache == "" {
		emptyGitTreeSHACache = gitHash("tree", nil)
	}
	return emptyGitTreeSHACache
}

func (s *Store) WriteTree(ctx context.Context, pathPrefix string, t *object.Tree) (objhash.ID, error) {
	id := hashPayload(kindTree, t.Encode())
	if id == s.emptyTreeID {
		if _, err := writeLooseObject(s.gitDir, "tree", nil); err != nil {
			return objhash.ZeroID, err
		}
		t.ID = id
		return id, nil
	}
	if _, ok := s.mapping.get(id.String()); ok {
		t.ID = id
		return id, nil
	}

	gitEntries := make([]gitTreeEntry, 0, len(t.Entries))
	for _, e := range t.Entries {
		ge, err := s.encodeTreeEntry(e)
		if err != nil {
			return objhash.ZeroID, err
		}
		gitEntries = append(gitEntries, ge)
	}
	payload, err := encodeGitTree(gitEntries)
	if err != nil {
		return objhash.ZeroID, err
	}
	sha, err := writeLooseObject(s.gitDir, "tree", payload)
	if err != nil {
		return objhash.ZeroID, err
	}
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.WriteTree", err)
	}
	t.ID = id
	return id, nil
}

func (s *Store) encodeTreeEntry(e *object.TreeEntry) (gitTreeEntry, error) {
	switch e.Kind {
	case object.EntryTree:
		sha, err := s.resolveGitSHA(e.ID)
		if err != nil {
			return gitTreeEntry{}, err
		}
		return gitTreeEntry{Mode: "40000", Name: e.Name, SHA: sha}, nil

	case object.EntrySymlink:
		entry, ok := s.mapping.get(e.ID.String())
		if !ok {
			return gitTreeEntry{}, werr.Corrupt("gitadapter.encodeTreeEntry", fmt.Errorf("unmapped symlink blob %s", e.ID))
		}
		return gitTreeEntry{Mode: "120000", Name: e.Name, SHA: entry.GitSHA}, nil

	case object.EntryGitSubmodule:
		return gitTreeEntry{Mode: "160000", Name: e.Name, SHA: hex.EncodeToString(e.ID.Bytes()[:20])}, nil

	case object.EntryConflict:
		blobEntry, ok := s.mapping.get(e.ID.String())
		if !ok {
			return gitTreeEntry{}, werr.Corrupt("gitadapter.encodeTreeEntry", fmt.Errorf("unmapped conflict blob %s", e.ID))
		}
		markerSHA, err := s.writeConflictMarker(blobEntry.GitSHA, e.ID)
		if err != nil {
			return gitTreeEntry{}, err
		}
		return gitTreeEntry{Mode: "160000", Name: e.Name, SHA: markerSHA}, nil

	default: // EntryFile
		entry, ok := s.mapping.get(e.ID.String())
		if !ok {
			return gitTreeEntry{}, werr.Corrupt("gitadapter.encodeTreeEntry", fmt.Errorf("unmapped file blob %s", e.ID))
		}
		mode := "100644"
		if e.Executable {
			mode = "100755"
		}
		return gitTreeEntry{Mode: mode, Name: e.Name, SHA: entry.GitSHA}, nil
	}
}

// writeConflictMarker builds (or reuses) the private marker commit for a
// conflict-entry blob: a one-entry tree pointing at blobSHA, wrapped in a
// commit with a fixed sentinel author, so a bare "160000" gitlink in the
// parent tree can be told apart from a real submodule on read. Idempotent:
// since both the tree and commit are content-addressed, re-synthesizing the
// marker for the same blob always yields the same commit sha.
func (s *Store) writeConflictMarker(blobSHA string, blobWispID objhash.ID) (string, error) {
	treePayload, err := encodeGitTree([]gitTreeEntry{{Mode: "100644", Name: "conflict", SHA: blobSHA}})
	if err != nil {
		return "", err
	}
	treeSHA, err := writeLooseObject(s.gitDir, "tree", treePayload)
	if err != nil {
		return "", err
	}
	commitPayload := encodeGitCommit(gitCommitFields{
		Tree:      treeSHA,
		Author:    markerAuthor,
		Committer: markerAuthor,
		Message:   "wisp conflict marker\n",
	})
	commitSHA, err := writeLooseObject(s.gitDir, "commit", commitPayload)
	if err != nil {
		return "", err
	}
	key := markerKey(blobWispID)
	if _, ok := s.mapping.get(key); !ok {
		if err := s.mapping.put(key, mappingEntry{GitSHA: commitSHA, Marker: true}); err != nil {
			return "", werr.IO("gitadapter.writeConflictMarker", err)
		}
	}
	return commitSHA, nil
}

const markerKeySuffix = "#conflict-marker"

// markerKey is the forward-mapping key a conflict marker commit is
// registered under: distinct from blobWispID's own key (which already maps
// to the plain blob sha), so this row exists purely to let
// reverseLookup(markerCommitSHA) recover the original conflict blob's wisp
// id via markerBlobHex.
func markerKey(blobWispID objhash.ID) string {
	return blobWispID.String() + markerKeySuffix
}

// markerBlobHex reports whether key names a conflict-marker row and, if so,
// the original conflict blob's wisp-id hex.
func markerBlobHex(key string) (string, bool) {
	if !strings.HasSuffix(key, markerKeySuffix) {
		return "", false
	}
	return strings.TrimSuffix(key, markerKeySuffix), true
}

// --- files ---

func (s *Store) ReadFile(ctx context.Context, id objhash.ID) (io.ReadCloser, error) {
	entry, ok := s.mapping.get(id.String())
	if !ok {
		return nil, werr.NotFound("gitadapter.ReadFile", fmt.Errorf("no mapping for %s", id))
	}
	objType, payload, err := readLooseObject(s.gitDir, entry.GitSHA)
	if err != nil {
		return nil, err
	}
	if objType != "blob" {
		return nil, werr.Corrupt("gitadapter.ReadFile", fmt.Errorf("%s: expected blob, got %s", id, objType))
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (s *Store) WriteFile(ctx context.Context, r io.Reader) (objhash.ID, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.WriteFile", err)
	}
	id := hashPayload(kindFile, payload)
	if _, ok := s.mapping.get(id.String()); ok {
		return id, nil
	}
	sha, err := writeLooseObject(s.gitDir, "blob", payload)
	if err != nil {
		return objhash.ZeroID, err
	}
	if err := s.mapping.put(id.String(), mappingEntry{GitSHA: sha}); err != nil {
		return objhash.ZeroID, werr.IO("gitadapter.WriteFile", err)
	}
	return id, nil
}

// --- maintenance ---

// GC is a no-op: Git's own "git gc"/"git prune" own the colocated object
// store's lifecycle, so this backend never sweeps it itself (spec §4.1's GC
// operation is satisfied by deferring to the colocated repo's native
// tooling rather than reimplementing mark-and-sweep against Git's pack
// format).
func (s *Store) GC(ctx context.Context, reachable map[objhash.ID]struct{}, cutoff int64) (int, error) {
	return 0, nil
}

// GetCopyRecords mirrors native.Store: rename/copy provenance is a
// diff-algorithm concern excluded by spec §1's Non-goals, not something
// either store backend computes itself.
func (s *Store) GetCopyRecords(ctx context.Context, pathFilter func(string) bool, src, dst objhash.ID) (<-chan store.CopyRecord, error) {
	ch := make(chan store.CopyRecord)
	close(ch)
	return ch, nil
}

var _ store.Backend = (*Store)(nil)
