// Package workingcopy implements the Working Copy subsystem of spec §4.5:
// a tree-state file on disk mapping tracked paths to (file-type, mtime,
// size), parallel snapshot, sparse-pattern intersection, materialized
// checkout with conflict rendering, and optional filesystem-monitor
// integration (colocated-Git reconciliation lives in package colocate).
// Grounded on the original
// modules/zeta/transport/workingarea (tree-state comparison, exec-bit
// probing) and modules/plumbing/format/ignore (gitignore-chain matching),
// reworked around the content-addressed commit/tree model of this module
// instead of the original own object format.
package workingcopy

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
)

// ExecFlag is a Normal file's executable-bit state: a concrete on/off
// value, or Ignore on filesystems that don't honor the bit (Ignore matches
// either value when comparing against a tracked state), per spec §4.5
// "exec-flag in {Exec(bool), Ignore}".
type ExecFlag int

const (
	ExecIgnore ExecFlag = iota
	ExecOn
	ExecOff
)

// Matches reports whether two exec flags are compatible for the
// "unchanged" comparison: Ignore matches anything, per spec §4.5
// "Executable-bit policy".
func (f ExecFlag) Matches(o ExecFlag) bool {
	return f == ExecIgnore || o == ExecIgnore || f == o
}

// FileState is the tracked metadata for one path: enough to detect a change
// without rehashing via a stat-only comparison, plus the object-store id
// and tree-entry kind the committed tree currently records for it (so an
// unchanged path's TreeEntry can be reconstructed without re-reading the
// tree). Kind is one of object.EntryFile, EntrySymlink, EntryGitSubmodule,
// or EntryConflict, per spec §4.5's "FileState: (file-type in
// {Normal{exec-flag}, Symlink, GitSubmodule}, mtime, size)" generalized
// with the conflict variant snapshot/checkout need to round-trip.
type FileState struct {
	Kind  object.EntryKind
	Exec  ExecFlag // meaningful only when Kind == object.EntryFile
	Mtime time.Time
	Size  int64
	ID    objhash.ID
}

// unchanged reports whether disk metadata other still matches the recorded
// state, per spec §4.5 step 3's "stat; compare {file-type, mtime, size}
// against tracked state".
func (s FileState) unchanged(other FileState) bool {
	return s.Kind == other.Kind && s.Exec.Matches(other.Exec) &&
		s.Size == other.Size && s.Mtime.Equal(other.Mtime)
}

// FileEntry pairs a repo-relative path with its FileState; TreeState keeps
// a slice of these sorted by path, per spec §4.5's "FileStates map is kept
// sorted by path".
type FileEntry struct {
	Path  string
	State FileState
}

// TreeState is the on-disk `tree_state` file: the recorded root tree id,
// the sorted per-path FileStates, sparse patterns, and a filesystem-monitor
// clock (here: an fsnotify-derived generation counter, since the pack
// carries fsnotify rather than a watchman client; see spec §4.5's "watchman
// clock" field).
type TreeState struct {
	TreeID         objhash.ID
	Files          []FileEntry
	SparsePatterns []string
	FSMonitorClock uint64
}

func newTreeState() *TreeState {
	return &TreeState{}
}

// byPath returns a map view for O(1) lookup during a snapshot walk; the
// canonical on-disk/serialized form stays the sorted slice.
func (ts *TreeState) byPath() map[string]FileState {
	m := make(map[string]FileState, len(ts.Files))
	for _, e := range ts.Files {
		m[e.Path] = e.State
	}
	return m
}

// applyChanges merges a sorted batch of (path, new-state) pairs and a set of
// deleted paths into ts.Files via a merge-join against the existing sorted
// slice, producing a new sorted sequence in O(n+m), per spec §4.5's
// "FileStates map ... updates use a merge-join ... in O(n+m)".
func (ts *TreeState) applyChanges(changed []FileEntry, deleted map[string]struct{}) {
	sort.Slice(changed, func(i, j int) bool { return changed[i].Path < changed[j].Path })
	changedByPath := make(map[string]FileState, len(changed))
	for _, c := range changed {
		changedByPath[c.Path] = c.State
	}

	out := make([]FileEntry, 0, len(ts.Files)+len(changed))
	seen := make(map[string]struct{}, len(changed))
	i, j := 0, 0
	for i < len(ts.Files) || j < len(changed) {
		switch {
		case i >= len(ts.Files):
			out = append(out, changed[j])
			seen[changed[j].Path] = struct{}{}
			j++
		case j >= len(changed):
			if _, isDeleted := deleted[ts.Files[i].Path]; !isDeleted {
				out = append(out, ts.Files[i])
			}
			i++
		case ts.Files[i].Path == changed[j].Path:
			out = append(out, changed[j])
			seen[changed[j].Path] = struct{}{}
			i++
			j++
		case ts.Files[i].Path < changed[j].Path:
			if _, isDeleted := deleted[ts.Files[i].Path]; !isDeleted {
				out = append(out, ts.Files[i])
			}
			i++
		default:
			out = append(out, changed[j])
			seen[changed[j].Path] = struct{}{}
			j++
		}
	}
	ts.Files = out
}

// Checkout is the on-disk `checkout` file: the operation this workspace's
// tree-state corresponds to, per spec §4.2's "workspace points at an
// operation id" and §4.5's on-disk state description.
type Checkout struct {
	OperationID objhash.ID
	WorkspaceID string
}

func loadJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, v)
}

func saveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
