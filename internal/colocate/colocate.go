// Package colocate drives the view-level half of spec §4.5's "colocated-Git
// reconciliation": before and after each transaction, bookmarks/tags are
// three-way-merged against whatever moved on the Git side since the last
// reconciliation, and the workspace's working-copy commit tracks an
// external `git checkout` of HEAD. internal/store/gitadapter owns the raw
// Git-sha-level import/export this package drives (see its refsbridge.go).
//
// Grounded on the original colocated-repo detection in
// pkg/zeta/backend.Database (a ".git" directory alongside the zeta
// metadata directory flips the backend into Git-compatible mode), adapted
// here into an explicit two-phase Reconcile/Export pair instead of the
// original always-on dual-write, since spec §3's RefTarget conflict
// algebra has no equivalent in the original model (which resolves ref races with
// plain compare-and-swap).
package colocate

import (
	"context"
	"sort"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/store/gitadapter"
)

// Reconcile merges a freshly imported snapshot of the colocated Git refs
// into view, per spec §4.5: every local/remote bookmark and tag is
// three-way-merged against the raw state mirrored the last time this ran
// (view.GitRefs), and an external HEAD move adopts the new target as the
// workspace's working-copy commit (spec §9 Scenario C).
func Reconcile(view *refs.View, workspaceID string, imported gitadapter.ImportedRefs) {
	reconcileRefSet(view, gitadapter.HeadsPrefix, imported.Heads, func(name string, target refs.RefTarget) {
		local := view.LocalBookmarks[name].Local
		merged := refs.ThreeWayMerge(view.GitRefs[gitadapter.HeadsPrefix+"/"+name], local, target)
		view.SetLocalBookmark(name, merged)
	})
	reconcileRefSet(view, gitadapter.TagsPrefix, imported.Tags, func(name string, target refs.RefTarget) {
		local := view.Tags[name]
		merged := refs.ThreeWayMerge(view.GitRefs[gitadapter.TagsPrefix+"/"+name], local, target)
		if merged.Present() {
			view.Tags[name] = merged
		} else {
			delete(view.Tags, name)
		}
	})
	for remote, branches := range imported.Remotes {
		flat := map[string]objhash.ID{}
		for name, id := range branches {
			flat[name] = id
		}
		prefix := gitadapter.RemotesPrefix + "/" + remote
		reconcileRefSet(view, prefix, flat, func(name string, target refs.RefTarget) {
			bm, ok := view.LocalBookmarks[name]
			if !ok {
				bm = refs.NewBookmark(name)
			}
			rt, hadRemote := bm.Remotes[remote]
			priorMirror := view.GitRefs[prefix+"/"+name]
			var local refs.RefTarget
			if hadRemote {
				local = rt.Target
			}
			merged := refs.ThreeWayMerge(priorMirror, local, target)
			// A remote-tracking branch imported from the colocated repo's
			// own refs/remotes is always tracked: it only exists because a
			// `git fetch`/`git push` already ran, which is the tracking
			// signal itself (spec §3 leaves the exact policy open; there is
			// no separate "set tracking" verb surfaced through Git refs).
			view.SetRemoteBookmark(name, remote, merged, true)
		})
	}

	reconcileHead(view, workspaceID, imported.Head)
}

// reconcileRefSet walks the union of names present either in the prior
// mirror (view.GitRefs, scoped to prefix) or in the freshly imported
// set, so a name Git deleted since the last reconciliation is merged
// against Absent() instead of silently skipped.
func reconcileRefSet(view *refs.View, prefix string, imported map[string]objhash.ID, merge func(name string, target refs.RefTarget)) {
	names := map[string]struct{}{}
	for full := range view.GitRefs {
		if name, ok := cutPrefix(full, prefix+"/"); ok {
			names[name] = struct{}{}
		}
	}
	for name := range imported {
		names[name] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	for _, name := range ordered {
		id, present := imported[name]
		target := refs.Absent()
		if present {
			target = refs.Normal(id)
		}
		merge(name, target)
		full := prefix + "/" + name
		if present {
			view.GitRefs[full] = target
		} else {
			delete(view.GitRefs, full)
		}
	}
}

func cutPrefix(s, prefix string) (string, bool) {
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", false
	}
	return s[len(prefix):], true
}

// reconcileHead implements spec §9 Scenario C: if HEAD's resolved commit
// differs from the last mirrored value, an external `git checkout` moved
// it -- adopt the new target as workspace's working-copy commit, and
// abandon the old one from the head set unless a bookmark still targets
// it. If HEAD is unchanged (or this is the first reconciliation for this
// workspace), the workspace commit is left alone; Export will re-point Git
// HEAD at it.
func reconcileHead(view *refs.View, workspaceID string, head gitadapter.HeadState) {
	priorMirror, hadMirror := view.GitHead.AsNormal()
	if head.Commit.IsZero() {
		view.GitHead = refs.Absent()
		return
	}
	view.GitHead = refs.Normal(head.Commit)
	view.Heads[head.Commit] = struct{}{}
	if !hadMirror || head.Commit == priorMirror {
		return
	}
	oldWC, hadWC := view.Workspaces[workspaceID]
	view.Workspaces[workspaceID] = head.Commit
	if !hadWC || oldWC == head.Commit {
		return
	}
	if !anyBookmarkTargets(view, oldWC) {
		delete(view.Heads, oldWC)
	}
}

func anyBookmarkTargets(view *refs.View, id objhash.ID) bool {
	for _, bm := range view.LocalBookmarks {
		if target, ok := bm.Local.AsNormal(); ok && target == id {
			return true
		}
	}
	return false
}

// PrepareExport derives the raw Git ref state view implies: every
// unconflicted local bookmark and tag, and HEAD pointed at workspaceID's
// working-copy commit -- symbolically at a bookmark that targets that
// commit if one exists (the lexicographically smallest name when several
// do), detached otherwise. Conflicted bookmarks/tags are
// left out: Git's ref format has no slot for spec §3's multi-valued
// RefTarget, so a conflict is exported as "whatever Git last had,
// untouched" rather than silently picking one side.
func PrepareExport(view *refs.View, workspaceID string) (heads, tags map[string]objhash.ID, head gitadapter.HeadState) {
	heads = map[string]objhash.ID{}
	for name, bm := range view.LocalBookmarks {
		if id, ok := bm.Local.AsNormal(); ok {
			heads[name] = id
		}
	}
	tags = map[string]objhash.ID{}
	for name, target := range view.Tags {
		if id, ok := target.AsNormal(); ok {
			tags[name] = id
		}
	}
	wc, ok := view.Workspaces[workspaceID]
	if !ok {
		return heads, tags, gitadapter.HeadState{}
	}
	var matching []string
	for name, id := range heads {
		if id == wc {
			matching = append(matching, name)
		}
	}
	if len(matching) > 0 {
		sort.Strings(matching)
		return heads, tags, gitadapter.HeadState{Branch: matching[0]}
	}
	return heads, tags, gitadapter.HeadState{Commit: wc}
}

// Sync runs one full reconciliation pass: import-then-merge (the "before"
// half of spec §4.5) followed immediately by export (the "after" half),
// for callers that do not need to inspect or edit the view in between (a
// read-only workspace load with no pending transaction, for instance).
// Callers that open a transaction between the two halves should call
// Reconcile and PrepareExport/gitadapter.Store.ExportRefs directly instead.
func Sync(ctx context.Context, gd *gitadapter.Store, view *refs.View, workspaceID string) error {
	imported, err := gd.ImportRefs(ctx)
	if err != nil {
		return err
	}
	Reconcile(view, workspaceID, imported)
	heads, tags, head := PrepareExport(view, workspaceID)
	if err := gd.ExportRefs(ctx, heads, tags, head); err != nil {
		return err
	}
	return nil
}
