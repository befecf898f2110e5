package workingcopy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dolthub/fslock"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
	"github.com/antgroup/wisp/internal/wlog"
)

// State is the working copy's lifecycle state from spec §4.5's state
// machine diagram.
type State int

const (
	StateClean State = iota
	StateLocked
)

// WorkingCopy is one workspace's on-disk state: the tracked-file tree-state,
// guarded by an exclusive lock for the duration of any mutation, per spec
// §4.5. Grounded on the original modules/zeta/transport/workingarea for
// the snapshot/checkout shape, generalized onto this module's
// content-addressed commit/tree model.
type WorkingCopy struct {
	root        string // workspace root on disk
	stateDir    string // <root>/.wisp (or a caller-chosen dir)
	workspaceID string
	backend     store.Backend

	lock   *fslock.Lock
	state  State
	dirty  bool
	ts     *TreeState
	co     *Checkout
	log    *wlog.Tracker
	fsmon  *fsMonitor // nil when fsmonitor integration is disabled
}

// Open loads (or initializes) the working copy rooted at root, with its
// state files under stateDir.
func Open(root, stateDir, workspaceID string, backend store.Backend) (*WorkingCopy, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, werr.IO("workingcopy.Open", err)
	}
	wc := &WorkingCopy{
		root:        root,
		stateDir:    stateDir,
		workspaceID: workspaceID,
		backend:     backend,
		state:       StateClean,
		log:         wlog.NewTracker("workingcopy"),
	}
	ts := newTreeState()
	if err := loadJSON(wc.treeStatePath(), ts); err != nil {
		return nil, werr.Corrupt("workingcopy.Open", err)
	}
	wc.ts = ts
	co := &Checkout{WorkspaceID: workspaceID}
	if err := loadJSON(wc.checkoutPath(), co); err != nil {
		return nil, werr.Corrupt("workingcopy.Open", err)
	}
	wc.co = co
	return wc, nil
}

func (wc *WorkingCopy) treeStatePath() string { return filepath.Join(wc.stateDir, "tree_state") }
func (wc *WorkingCopy) checkoutPath() string  { return filepath.Join(wc.stateDir, "checkout") }
func (wc *WorkingCopy) lockPath() string      { return filepath.Join(wc.stateDir, "working_copy.lock") }

// TreeID is the root tree id the on-disk state currently corresponds to.
func (wc *WorkingCopy) TreeID() objhash.ID { return wc.ts.TreeID }

// CheckoutInfo reports the {operation-id, workspace-id} the working copy was
// last recorded against.
func (wc *WorkingCopy) CheckoutInfo() Checkout { return *wc.co }

// SetSparsePatterns replaces the sparse pattern set consulted by future
// snapshot/checkout calls.
func (wc *WorkingCopy) SetSparsePatterns(patterns []string) { wc.ts.SparsePatterns = patterns }

// EnableFSMonitor turns on optional filesystem-monitor integration (spec
// §4.5 "optional filesystem monitor integration") for subsequent snapshots.
func (wc *WorkingCopy) EnableFSMonitor() error {
	mon, err := newFSMonitor(wc.root)
	if err != nil {
		return err
	}
	wc.fsmon = mon
	return nil
}

// StartMutation acquires the exclusive working-copy lock and transitions
// Clean -> Locked, per spec §4.5's state machine. It is an error to call
// StartMutation while already Locked.
func (wc *WorkingCopy) StartMutation() error {
	if wc.state == StateLocked {
		return werr.InvalidArgument("workingcopy.StartMutation", fmt.Errorf("already locked"))
	}
	lock := fslock.New(wc.lockPath())
	if err := lock.Lock(); err != nil {
		return werr.IO("workingcopy.StartMutation", err)
	}
	wc.lock = lock
	wc.state = StateLocked
	wc.dirty = false
	return nil
}

// Finish writes the tree-state and checkout files, releases the lock, and
// transitions Locked -> Clean. opID is the operation this working copy's
// state now corresponds to.
func (wc *WorkingCopy) Finish(opID objhash.ID) error {
	if wc.state != StateLocked {
		return werr.InvalidArgument("workingcopy.Finish", fmt.Errorf("not locked"))
	}
	if err := saveJSON(wc.treeStatePath(), wc.ts); err != nil {
		return werr.IO("workingcopy.Finish", err)
	}
	wc.co.OperationID = opID
	if err := saveJSON(wc.checkoutPath(), wc.co); err != nil {
		return werr.IO("workingcopy.Finish", err)
	}
	return wc.unlock()
}

// Reset drops any in-memory changes made since StartMutation and releases
// the lock without persisting tree-state, per spec §4.5's "terminal state
// on lock-drop without finish: changes to tree-state are discarded but
// files on disk remain (caller's responsibility to recover via reset)".
func (wc *WorkingCopy) Reset() error {
	if wc.state != StateLocked {
		return nil
	}
	ts := newTreeState()
	if err := loadJSON(wc.treeStatePath(), ts); err != nil {
		return werr.Corrupt("workingcopy.Reset", err)
	}
	wc.ts = ts
	return wc.unlock()
}

func (wc *WorkingCopy) unlock() error {
	wc.state = StateClean
	wc.dirty = false
	if wc.lock == nil {
		return nil
	}
	err := wc.lock.Unlock()
	wc.lock = nil
	if err != nil {
		return werr.IO("workingcopy.unlock", err)
	}
	return nil
}

// requireLocked panics if called outside a StartMutation/Finish bracket,
// mirroring spec §7's "caller-invariant violations ... panic".
func (wc *WorkingCopy) requireLocked(op string) {
	if wc.state != StateLocked {
		panic(fmt.Sprintf("%s: working copy is not locked", op))
	}
}

// buildTree writes a Tree object for the flat set of entries
// (repo-relative path -> entry), recursing into subdirectories via the
// backend, per spec §4.5 step 5's "build a new merged tree via incremental
// tree-builder".
func buildTree(ctx context.Context, backend store.Backend, pathPrefix string, entries map[string]*object.TreeEntry) (objhash.ID, error) {
	byTop := map[string]map[string]*object.TreeEntry{}
	t := &object.Tree{}
	for name, e := range entries {
		if !contains(name, '/') {
			t.Entries = append(t.Entries, e)
			continue
		}
		top, rest := splitFirst(name)
		if byTop[top] == nil {
			byTop[top] = map[string]*object.TreeEntry{}
		}
		child := e.Clone()
		child.Name = rest
		byTop[top][rest] = child
	}

	tops := make([]string, 0, len(byTop))
	for top := range byTop {
		tops = append(tops, top)
	}
	sort.Strings(tops)
	for _, top := range tops {
		childPrefix := top
		if pathPrefix != "" {
			childPrefix = pathPrefix + "/" + top
		}
		id, err := buildTree(ctx, backend, childPrefix, byTop[top])
		if err != nil {
			return objhash.ZeroID, err
		}
		t.Entries = append(t.Entries, &object.TreeEntry{Name: top, Kind: object.EntryTree, ID: id})
	}
	return backend.WriteTree(ctx, pathPrefix, t)
}

func contains(s string, b byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return true
		}
	}
	return false
}

func splitFirst(s string) (string, string) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}
