package refs

import (
	"sort"

	"github.com/antgroup/wisp/internal/objhash"
)

// RemoteTarget is one remote's view of a bookmark, per spec §3: a target
// plus whether it is tracked (participates in local/remote merging) or not.
type RemoteTarget struct {
	Target  RefTarget
	Tracked bool
}

// Bookmark is a named pointer with a local target and zero or more remote
// targets, per spec §3.
type Bookmark struct {
	Name    string
	Local   RefTarget
	Remotes map[string]RemoteTarget // remote name -> target
}

// NewBookmark returns an untracked, absent bookmark named name.
func NewBookmark(name string) Bookmark {
	return Bookmark{Name: name, Remotes: map[string]RemoteTarget{}}
}

// TrackedRemotes returns the subset of b.Remotes participating in merges,
// sorted by remote name for deterministic iteration.
func (b Bookmark) TrackedRemotes() []string {
	var out []string
	for name, rt := range b.Remotes {
		if rt.Tracked {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// View is the mutable metadata snapshot an Operation points at, per spec §3:
// heads, public heads, per-workspace working-copy commits, local and remote
// bookmarks, tags, and the subset of raw git refs/HEAD mirrored for
// colocated-Git repositories.
type View struct {
	Heads          map[objhash.ID]struct{}
	PublicHeads    map[objhash.ID]struct{}
	Workspaces     map[string]objhash.ID // workspace name -> working-copy commit id
	LocalBookmarks map[string]Bookmark
	Tags           map[string]RefTarget
	GitRefs        map[string]RefTarget
	GitHead        RefTarget
}

// NewView returns an empty View with all maps initialized.
func NewView() *View {
	return &View{
		Heads:          map[objhash.ID]struct{}{},
		PublicHeads:    map[objhash.ID]struct{}{},
		Workspaces:     map[string]objhash.ID{},
		LocalBookmarks: map[string]Bookmark{},
		Tags:           map[string]RefTarget{},
		GitRefs:        map[string]RefTarget{},
	}
}

// Clone returns a deep copy so a Transaction can mutate it independently of
// the parent operation's View.
func (v *View) Clone() *View {
	out := NewView()
	for id := range v.Heads {
		out.Heads[id] = struct{}{}
	}
	for id := range v.PublicHeads {
		out.PublicHeads[id] = struct{}{}
	}
	for ws, id := range v.Workspaces {
		out.Workspaces[ws] = id
	}
	for name, bm := range v.LocalBookmarks {
		clone := Bookmark{Name: bm.Name, Local: bm.Local, Remotes: map[string]RemoteTarget{}}
		for rn, rt := range bm.Remotes {
			clone.Remotes[rn] = rt
		}
		out.LocalBookmarks[name] = clone
	}
	for name, t := range v.Tags {
		out.Tags[name] = t
	}
	for name, t := range v.GitRefs {
		out.GitRefs[name] = t
	}
	out.GitHead = v.GitHead
	return out
}

// HeadIDs returns the view's heads in a deterministic (sorted) order.
func (v *View) HeadIDs() []objhash.ID {
	out := make([]objhash.ID, 0, len(v.Heads))
	for id := range v.Heads {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// SetLocalBookmark sets (or deletes, when target is Absent) a local bookmark
// target, per spec §4.3's edit operations.
func (v *View) SetLocalBookmark(name string, target RefTarget) {
	bm, ok := v.LocalBookmarks[name]
	if !ok {
		bm = NewBookmark(name)
	}
	bm.Local = target
	if !target.Present() && len(bm.Remotes) == 0 {
		delete(v.LocalBookmarks, name)
		return
	}
	v.LocalBookmarks[name] = bm
}

// SetRemoteBookmark sets (or deletes) one remote's target for name.
func (v *View) SetRemoteBookmark(name, remote string, target RefTarget, tracked bool) {
	bm, ok := v.LocalBookmarks[name]
	if !ok {
		bm = NewBookmark(name)
	}
	if !target.Present() {
		delete(bm.Remotes, remote)
	} else {
		bm.Remotes[remote] = RemoteTarget{Target: target, Tracked: tracked}
	}
	if !bm.Local.Present() && len(bm.Remotes) == 0 {
		delete(v.LocalBookmarks, name)
		return
	}
	v.LocalBookmarks[name] = bm
}

// MergeBookmarks three-way-merges every bookmark present in base, a, or b
// (by name) into a fresh map, used by the operation-log merge per spec
// §4.3's "concurrent operation merge" flow.
func MergeBookmarks(base, a, b map[string]Bookmark) map[string]Bookmark {
	names := map[string]struct{}{}
	for n := range base {
		names[n] = struct{}{}
	}
	for n := range a {
		names[n] = struct{}{}
	}
	for n := range b {
		names[n] = struct{}{}
	}
	out := map[string]Bookmark{}
	for name := range names {
		baseBm, baseOK := base[name]
		aBm, aOK := a[name]
		bBm, bOK := b[name]
		merged := NewBookmark(name)
		if baseOK {
			merged.Local = baseBm.Local
		}
		localA := Absent()
		if aOK {
			localA = aBm.Local
		}
		localB := Absent()
		if bOK {
			localB = bBm.Local
		}
		merged.Local = ThreeWayMerge(merged.Local, localA, localB)

		for remote := range unionRemoteNames(baseBm, aBm, bBm) {
			baseRT, baseHas := baseBm.Remotes[remote]
			aRT, aHas := aBm.Remotes[remote]
			bRT, bHas := bBm.Remotes[remote]
			baseTarget := Absent()
			if baseHas {
				baseTarget = baseRT.Target
			}
			aTarget := Absent()
			if aHas {
				aTarget = aRT.Target
			}
			bTarget := Absent()
			if bHas {
				bTarget = bRT.Target
			}
			merged.Remotes[remote] = RemoteTarget{
				Target:  ThreeWayMerge(baseTarget, aTarget, bTarget),
				Tracked: aHas && aRT.Tracked || bHas && bRT.Tracked || baseHas && baseRT.Tracked,
			}
		}
		if merged.Local.Present() || len(merged.Remotes) > 0 {
			out[name] = merged
		}
	}
	return out
}

func unionRemoteNames(bms ...Bookmark) map[string]struct{} {
	out := map[string]struct{}{}
	for _, bm := range bms {
		for name := range bm.Remotes {
			out[name] = struct{}{}
		}
	}
	return out
}
