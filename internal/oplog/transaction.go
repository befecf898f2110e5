package oplog

import (
	"context"
	"time"

	"github.com/antgroup/wisp/internal/index"
	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/rebase"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
)

// Transaction is a MutableRepo opened at one or more parent operations: a
// cloned View plus the commit index's mutable tip segment, edited through
// the methods below and flushed to a new Operation by Commit, per spec
// §4.3's edit-then-commit transaction model. Grounded on the original
// modules/zeta/backend odb.go write-then-publish shape, generalized from
// "one object store write" to "one consistent batch of view edits plus a
// rebase pass".
type Transaction struct {
	store   *Store
	heads   *OpHeadsStore
	backend store.Backend
	idx     *index.Index

	parentOpIDs []objhash.ID
	view        *refs.View
	rebaser     *rebase.Engine

	description string
	start       time.Time
}

// NewTransaction opens a transaction on top of baseView (already merged, if
// there were multiple concurrent parent operations) at parentOpIDs.
func NewTransaction(opStore *Store, heads *OpHeadsStore, backend store.Backend, idx *index.Index, parentOpIDs []objhash.ID, baseView *refs.View, description string) *Transaction {
	return &Transaction{
		store:       opStore,
		heads:       heads,
		backend:     backend,
		idx:         idx,
		parentOpIDs: parentOpIDs,
		view:        baseView.Clone(),
		rebaser:     rebase.New(backend, idx),
		description: description,
		start:       time.Now(),
	}
}

// View exposes the transaction's working View for read-only inspection by
// the caller (e.g. to list current heads before editing).
func (tx *Transaction) View() *refs.View { return tx.view }

// WriteCommit writes c to the backend, indexes it, and adds it to the view's
// heads (removing any of its now-covered parents from the head set), per
// spec §4.3's "write_commit" edit operation.
func (tx *Transaction) WriteCommit(ctx context.Context, c *object.Commit) (objhash.ID, error) {
	id, err := tx.backend.WriteCommit(ctx, c)
	if err != nil {
		return objhash.ZeroID, err
	}
	tx.idx.AddCommit(id, c.ChangeID, c.ParentIDs)
	tx.addHead(id, c.ParentIDs)
	return id, nil
}

func (tx *Transaction) addHead(id objhash.ID, parents []objhash.ID) {
	tx.view.Heads[id] = struct{}{}
	for _, p := range parents {
		delete(tx.view.Heads, p)
	}
}

// SetWorkingCopyCommit records workspace's working-copy commit ("set_wc_commit").
func (tx *Transaction) SetWorkingCopyCommit(workspace string, commitID objhash.ID) {
	tx.view.Workspaces[workspace] = commitID
}

// SetLocalBookmark sets or deletes a local bookmark target.
func (tx *Transaction) SetLocalBookmark(name string, target refs.RefTarget) {
	tx.view.SetLocalBookmark(name, target)
}

// SetRemoteBookmark sets or deletes one remote's target for a bookmark.
func (tx *Transaction) SetRemoteBookmark(name, remote string, target refs.RefTarget, tracked bool) {
	tx.view.SetRemoteBookmark(name, remote, target, tracked)
}

// RecordAbandonedCommit marks id as abandoned for the rebase pass that runs
// at Commit time ("record_abandoned_commit").
func (tx *Transaction) RecordAbandonedCommit(id objhash.ID) {
	tx.rebaser.Abandon(id)
	delete(tx.view.Heads, id)
}

// RewriteCommit records that old has been directly rewritten to newID
// ("rewrite_commit"); descendants are fixed up when Commit runs the rebase
// pass to a fixed point.
func (tx *Transaction) RewriteCommit(old, newID objhash.ID) {
	tx.rebaser.Replace(old, newID)
}

// rebaseDescendants runs the descendant-rebase engine over the current
// heads and remaps every view reference (heads, public heads, workspaces,
// bookmarks) through the result, per spec §4.3's "invoke rebase_descendants
// to fixed point".
func (tx *Transaction) rebaseDescendants(ctx context.Context) error {
	heads := tx.view.HeadIDs()
	if _, err := tx.rebaser.RebaseDescendants(ctx, heads); err != nil {
		return err
	}

	newHeads := map[objhash.ID]struct{}{}
	for _, h := range heads {
		for _, n := range tx.rebaser.Rewrite(h) {
			newHeads[n] = struct{}{}
		}
	}
	tx.view.Heads = newHeads

	newPublic := map[objhash.ID]struct{}{}
	for id := range tx.view.PublicHeads {
		for _, n := range tx.rebaser.Rewrite(id) {
			newPublic[n] = struct{}{}
		}
	}
	tx.view.PublicHeads = newPublic

	for ws, id := range tx.view.Workspaces {
		targets := tx.rebaser.Rewrite(id)
		if len(targets) > 0 {
			// First target only: a workspace's working-copy pointer is a
			// single commit, never a conflict set, so a divergent rewrite of
			// its current commit just picks one side deterministically.
			tx.view.Workspaces[ws] = targets[0]
		} else {
			// id was abandoned with no surviving ancestor to reattach to
			// (resolve walked all the way past the root). A workspace can't
			// be left pointing at nothing, so it falls back to the root.
			tx.view.Workspaces[ws] = tx.backend.RootCommitID(ctx)
		}
	}
	for name, bm := range tx.view.LocalBookmarks {
		bm.Local = rewriteRefTarget(bm.Local, tx.rebaser.Rewrite)
		tx.view.LocalBookmarks[name] = bm
	}
	return nil
}

// rewriteRefTarget remaps every add/remove term of t through rewrite and
// renormalizes, per spec §4.3's rebase pass remapping every view reference
// -- including an already-conflicted bookmark's constituent terms, not just
// the clean single-add case.
func rewriteRefTarget(t refs.RefTarget, rewrite func(objhash.ID) []objhash.ID) refs.RefTarget {
	var out refs.RefTarget
	for _, id := range t.Adds {
		out.Adds = append(out.Adds, rewrite(id)...)
	}
	for _, id := range t.Removes {
		out.Removes = append(out.Removes, rewrite(id)...)
	}
	return out.Normalize()
}

// Commit runs the rebase pass to a fixed point, persists the resulting View
// and a new Operation describing this transaction, atomically advances the
// op-heads store past this transaction's parents, and returns the new
// Operation.
func (tx *Transaction) Commit(ctx context.Context) (*Operation, error) {
	if err := tx.rebaseDescendants(ctx); err != nil {
		return nil, werr.IO("oplog.Transaction.Commit", err)
	}
	if _, err := tx.idx.Save(); err != nil {
		return nil, err
	}
	viewID, err := tx.store.WriteView(tx.view)
	if err != nil {
		return nil, err
	}
	op := &Operation{
		ParentIDs:   tx.parentOpIDs,
		ViewID:      viewID,
		Description: tx.description,
		Start:       tx.start,
		End:         time.Now(),
	}
	opID, err := tx.store.WriteOperation(op)
	if err != nil {
		return nil, err
	}
	if err := tx.heads.Advance(tx.parentOpIDs, opID); err != nil {
		return nil, err
	}
	return op, nil
}
