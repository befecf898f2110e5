// Package repo is the thin orchestration facade cmd/wisp drives: it opens
// (or initializes) a workspace's on-disk layout under ".wisp" and wires the
// object store, commit index, operation log, and working copy into the
// handful of end-to-end operations a CLI needs (init, status, commit, log).
// Grounded on the original pkg/zeta package, which plays the analogous
// role of gluing modules/zeta/backend, modules/zeta/refs, and
// modules/zeta/transport together behind the command layer -- generalized
// here from the original single always-native backend to a choice between
// internal/store/native and internal/store/gitadapter, and from the
// original plain ref store to this module's operation-log/View model.
package repo

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/antgroup/wisp/internal/colocate"
	"github.com/antgroup/wisp/internal/config"
	"github.com/antgroup/wisp/internal/index"
	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/oplog"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/store/gitadapter"
	"github.com/antgroup/wisp/internal/store/native"
	"github.com/antgroup/wisp/internal/werr"
	"github.com/antgroup/wisp/internal/wlog"
	"github.com/antgroup/wisp/internal/workingcopy"
)

// DefaultWorkspace names the sole workspace a freshly initialized repo gets;
// spec §4.5's multi-workspace support is reachable by opening additional
// WorkingCopy roots against the same backend, which this facade does not
// yet surface a command for.
const DefaultWorkspace = "default"

const metaDirName = ".wisp"

// Repo is one opened workspace: every subsystem spec §4 names, wired
// together. Colocated mode (a ".git" directory alongside metaDir) is
// detected once at Open/Init time and persists for the life of the Repo.
type Repo struct {
	root        string
	metaDir     string
	workspaceID string
	cfg         *config.Config

	backend store.Backend
	git     *gitadapter.Store // non-nil only in colocated mode

	idx     *index.Index
	opStore *oplog.Store
	opHeads *oplog.OpHeadsStore
	wc      *workingcopy.WorkingCopy

	log *wlog.Tracker
}

func metaDir(root string) string { return filepath.Join(root, metaDirName) }

func isColocated(root string) bool {
	info, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil && info.IsDir()
}

// Init creates a new repo rooted at root: the metadata directory, the
// chosen object-store backend, an empty index, and a first operation
// recording the root commit as the sole workspace's working-copy commit.
func Init(root string) (*Repo, error) {
	dir := metaDir(root)
	if _, err := os.Stat(dir); err == nil {
		return nil, werr.InvalidArgument("repo.Init", fmt.Errorf("%s already initialized", root))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, werr.IO("repo.Init", err)
	}
	r, err := open(root, dir, true)
	if err != nil {
		return nil, err
	}

	rootID := r.backend.RootCommitID(context.Background())
	// The root sentinel is never written to the object store (it's a pure
	// content hash, see store.Backend.RootCommitID), but it still has to be
	// indexed with no parents so the first real commit -- which names it as
	// a parent -- can resolve it via Index.CommitIDToPos instead of hitting
	// AddCommit's "parent not indexed" panic.
	r.idx.AddCommit(rootID, objhash.ChangeID{}, nil)

	baseView := refs.NewView()
	tx := oplog.NewTransaction(r.opStore, r.opHeads, r.backend, r.idx, nil, baseView, "initialize repo")
	tx.SetWorkingCopyCommit(r.workspaceID, rootID)
	tx.View().Heads[rootID] = struct{}{}
	op, err := tx.Commit(context.Background())
	if err != nil {
		return nil, err
	}
	if err := r.saveIndexTip(); err != nil {
		return nil, err
	}
	if err := r.wc.StartMutation(); err != nil {
		return nil, err
	}
	if _, err := r.wc.Checkout(context.Background(), objhash.ZeroID, r.backend.EmptyTreeID(context.Background())); err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	if err := r.wc.Finish(op.ID); err != nil {
		return nil, err
	}
	return r, nil
}

// Open loads an already-initialized repo rooted at root.
func Open(root string) (*Repo, error) {
	dir := metaDir(root)
	if _, err := os.Stat(dir); err != nil {
		return nil, werr.NotFound("repo.Open", fmt.Errorf("%s is not a wisp repo", root))
	}
	return open(root, dir, false)
}

func open(root, dir string, fresh bool) (*Repo, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	var backend store.Backend
	var git *gitadapter.Store
	if isColocated(root) {
		git, err = gitadapter.Open(filepath.Join(root, ".git"), filepath.Join(dir, "gitadapter"))
		if err != nil {
			return nil, err
		}
		backend = git
	} else {
		backend, err = native.Open(dir)
		if err != nil {
			return nil, err
		}
	}

	idxDir := filepath.Join(dir, "index", "segments")
	var idx *index.Index
	if fresh {
		idx = index.NewEmpty(idxDir)
	} else {
		tip, err := readIndexTip(dir)
		if err != nil {
			return nil, err
		}
		if tip == "" {
			idx = index.NewEmpty(idxDir)
		} else {
			idx, err = index.Open(idxDir, tip)
			if err != nil {
				return nil, err
			}
		}
	}

	opStore, err := oplog.Open(filepath.Join(dir, "oplog"))
	if err != nil {
		return nil, err
	}
	opHeads, err := oplog.OpenOpHeadsStore(filepath.Join(dir, "op_heads"))
	if err != nil {
		return nil, err
	}
	wc, err := workingcopy.Open(root, filepath.Join(dir, "workingcopy", DefaultWorkspace), DefaultWorkspace, backend)
	if err != nil {
		return nil, err
	}

	return &Repo{
		root:        root,
		metaDir:     dir,
		workspaceID: DefaultWorkspace,
		cfg:         cfg,
		backend:     backend,
		git:         git,
		idx:         idx,
		opStore:     opStore,
		opHeads:     opHeads,
		wc:          wc,
		log:         wlog.NewTracker("repo"),
	}, nil
}

func (r *Repo) indexTipPath() string { return filepath.Join(r.metaDir, "index_tip") }

func readIndexTip(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "index_tip"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", werr.IO("repo.readIndexTip", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// saveIndexTip persists the current segment chain's tip name, so the next
// Open knows where to resume the index from. Index.Save is idempotent when
// called a second time with nothing new pending (it just reports the
// existing tip), so this is safe to call right after a Transaction.Commit
// already flushed the mutable segment once.
func (r *Repo) saveIndexTip() error {
	name, err := r.idx.Save()
	if err != nil {
		return err
	}
	tmp := r.indexTipPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(name), 0644); err != nil {
		return werr.IO("repo.saveIndexTip", err)
	}
	return os.Rename(tmp, r.indexTipPath())
}

// Close releases the repo's open handles.
func (r *Repo) Close() error {
	return r.backend.Close()
}

// currentView resolves the merged View and parent op ids at the current
// op-heads, per spec §4.3's "load the repo" flow -- every Transaction this
// facade opens starts from this.
func (r *Repo) currentView() (*refs.View, []objhash.ID, error) {
	heads, err := oplog.LoadHeads(r.opStore, r.opHeads)
	if err != nil {
		return nil, nil, err
	}
	return oplog.MergeHeads(r.opStore, heads)
}

// importColocated runs the "before" half of spec §4.5's colocated-Git
// reconciliation ahead of a transaction, and exportColocated below runs the
// "after" half; both are no-ops in non-colocated mode.
func (r *Repo) importColocated(view *refs.View) error {
	if r.git == nil {
		return nil
	}
	imported, err := r.git.ImportRefs(context.Background())
	if err != nil {
		return err
	}
	colocate.Reconcile(view, r.workspaceID, imported)
	return nil
}

func (r *Repo) exportColocated(view *refs.View) error {
	if r.git == nil {
		return nil
	}
	heads, tags, head := colocate.PrepareExport(view, r.workspaceID)
	return r.git.ExportRefs(context.Background(), heads, tags, head)
}

func identity() object.Signature {
	name := os.Getenv("WISP_AUTHOR_NAME")
	if name == "" {
		name = "wisp"
	}
	email := os.Getenv("WISP_AUTHOR_EMAIL")
	if email == "" {
		email = "wisp@localhost"
	}
	return object.Signature{Name: name, Email: email, When: time.Now()}
}

// Status reports whether the working copy differs from its recorded tree,
// per spec §4.5's snapshot algorithm -- the read-only half of it, since the
// resulting tree-state is discarded rather than persisted.
type Status struct {
	Changed    bool
	WorkingID  objhash.ID
	RecordedID objhash.ID
}

func (r *Repo) Status(ctx context.Context) (Status, error) {
	view, _, err := r.currentView()
	if err != nil {
		return Status{}, err
	}
	recorded := view.Workspaces[r.workspaceID]

	if err := r.wc.StartMutation(); err != nil {
		return Status{}, err
	}
	newTreeID, changed, err := r.wc.Snapshot(ctx, workingcopy.SnapshotConfig{
		MaxNewFileSize: r.cfg.Core.MaxNewFileSize,
	})
	if resetErr := r.wc.Reset(); resetErr != nil && err == nil {
		err = resetErr
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Changed: changed, WorkingID: newTreeID, RecordedID: recorded}, nil
}

// Commit snapshots the working copy, writes a new commit on top of the
// workspace's current working-copy commit, and advances the operation log,
// per spec §4.3/§4.5. Returns the new commit. If the working copy has no
// changes relative to its parent, it returns werr.InvalidArgument.
func (r *Repo) Commit(ctx context.Context, message string) (*object.Commit, error) {
	view, parentOpIDs, err := r.currentView()
	if err != nil {
		return nil, err
	}
	if err := r.importColocated(view); err != nil {
		return nil, err
	}
	parentCommit := view.Workspaces[r.workspaceID]

	if err := r.wc.StartMutation(); err != nil {
		return nil, err
	}
	treeID, changed, err := r.wc.Snapshot(ctx, workingcopy.SnapshotConfig{
		MaxNewFileSize: r.cfg.Core.MaxNewFileSize,
	})
	if err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	if !changed {
		_ = r.wc.Reset()
		return nil, werr.InvalidArgument("repo.Commit", fmt.Errorf("nothing to commit"))
	}

	changeID, err := objhash.NewChangeID(rand.Reader)
	if err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	sig := identity()
	commit := &object.Commit{
		ChangeID:    changeID,
		ParentIDs:   []objhash.ID{parentCommit},
		RootTreeID:  treeID,
		Author:      sig,
		Committer:   sig,
		Description: message,
	}

	tx := oplog.NewTransaction(r.opStore, r.opHeads, r.backend, r.idx, parentOpIDs, view, "commit: "+message)
	commitID, err := tx.WriteCommit(ctx, commit)
	if err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	tx.SetWorkingCopyCommit(r.workspaceID, commitID)

	op, err := tx.Commit(ctx)
	if err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	if err := r.saveIndexTip(); err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	if err := r.exportColocated(tx.View()); err != nil {
		_ = r.wc.Reset()
		return nil, err
	}
	if err := r.wc.Finish(op.ID); err != nil {
		return nil, err
	}
	return commit, nil
}

// Log walks the workspace's current commit back through first-parent
// history, up to limit commits (0 means unlimited).
func (r *Repo) Log(ctx context.Context, limit int) ([]*object.Commit, error) {
	view, _, err := r.currentView()
	if err != nil {
		return nil, err
	}
	rootID := r.backend.RootCommitID(ctx)
	id := view.Workspaces[r.workspaceID]
	var out []*object.Commit
	for !id.IsZero() && id != rootID && (limit <= 0 || len(out) < limit) {
		c, err := r.backend.ReadCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if len(c.ParentIDs) == 0 {
			break
		}
		id = c.ParentIDs[0]
	}
	return out, nil
}

// GC sweeps objects unreachable from any head, bookmark, tag, or workspace
// commit, per spec §4.1's GC operation. It reports how much was reclaimed
// the way the original own prune command does, via human-readable counts.
func (r *Repo) GC(ctx context.Context, cutoff int64) (string, error) {
	view, _, err := r.currentView()
	if err != nil {
		return "", err
	}
	roots := map[objhash.ID]struct{}{}
	for id := range view.Heads {
		roots[id] = struct{}{}
	}
	for id := range view.PublicHeads {
		roots[id] = struct{}{}
	}
	for _, id := range view.Workspaces {
		roots[id] = struct{}{}
	}
	for _, b := range view.LocalBookmarks {
		for _, id := range b.Local.Normalize().Adds {
			roots[id] = struct{}{}
		}
	}
	for _, t := range view.Tags {
		for _, id := range t.Normalize().Adds {
			roots[id] = struct{}{}
		}
	}

	reachable := map[objhash.ID]struct{}{r.backend.RootCommitID(ctx): {}, r.backend.EmptyTreeID(ctx): {}}
	for root := range roots {
		if err := r.markReachable(ctx, root, reachable); err != nil {
			return "", err
		}
	}

	removed, err := r.backend.GC(ctx, reachable, cutoff)
	if err != nil {
		return "", err
	}
	r.log.StepNext("gc: swept %s objects", humanize.Comma(int64(removed)))
	return fmt.Sprintf("removed %s unreachable objects", humanize.Comma(int64(removed))), nil
}

// markReachable walks first- and merge-parents of id and every tree/file it
// touches, recording each visited id in reachable.
func (r *Repo) markReachable(ctx context.Context, id objhash.ID, reachable map[objhash.ID]struct{}) error {
	rootID := r.backend.RootCommitID(ctx)
	for !id.IsZero() && id != rootID {
		if _, seen := reachable[id]; seen {
			return nil
		}
		c, err := r.backend.ReadCommit(ctx, id)
		if err != nil {
			return err
		}
		reachable[id] = struct{}{}
		if err := r.markTree(ctx, "", c.RootTreeID, reachable); err != nil {
			return err
		}
		if len(c.ParentIDs) == 0 {
			return nil
		}
		for _, parent := range c.ParentIDs[1:] {
			if err := r.markReachable(ctx, parent, reachable); err != nil {
				return err
			}
		}
		id = c.ParentIDs[0]
	}
	return nil
}

func (r *Repo) markTree(ctx context.Context, pathPrefix string, id objhash.ID, reachable map[objhash.ID]struct{}) error {
	if _, seen := reachable[id]; seen {
		return nil
	}
	reachable[id] = struct{}{}
	if id == r.backend.EmptyTreeID(ctx) {
		return nil
	}
	t, err := r.backend.ReadTree(ctx, pathPrefix, id)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		switch e.Kind {
		case object.EntryTree:
			if err := r.markTree(ctx, pathPrefix+e.Name+"/", e.ID, reachable); err != nil {
				return err
			}
		default:
			reachable[e.ID] = struct{}{}
		}
	}
	return nil
}
