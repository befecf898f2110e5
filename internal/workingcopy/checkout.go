package workingcopy

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/store"
	"github.com/antgroup/wisp/internal/werr"
)

// CheckoutStats tallies the outcome of a Checkout, per spec §4.5's "return
// counts {updated, added, removed, skipped}".
type CheckoutStats struct {
	Updated int
	Added   int
	Removed int
	Skipped int
}

// Checkout streams the diff between oldTreeID and newTreeID under the
// current sparse matcher and materializes it onto disk, per spec §4.5's
// "Checkout (old-tree -> new-tree)" algorithm. The caller must already hold
// the working-copy lock.
func (wc *WorkingCopy) Checkout(ctx context.Context, oldTreeID, newTreeID objhash.ID) (CheckoutStats, error) {
	wc.requireLocked("workingcopy.Checkout")

	var stats CheckoutStats
	matcher := newSparseMatcher(wc.ts.SparsePatterns)
	existing := wc.ts.byPath()

	var changedEntries []FileEntry
	deleted := map[string]struct{}{}

	oldTree, err := loadTreeOrEmpty(ctx, wc.backend, oldTreeID)
	if err != nil {
		return stats, err
	}
	newTree, err := loadTreeOrEmpty(ctx, wc.backend, newTreeID)
	if err != nil {
		return stats, err
	}

	err = diffTrees(ctx, wc.backend, "", oldTree, newTree, func(repoPath string, oldEntry, newEntry *object.TreeEntry) error {
		if !matcher.Matches(repoPath) {
			return nil
		}
		abs := filepath.Join(wc.root, filepath.FromSlash(repoPath))
		switch {
		case newEntry == nil:
			// Deletion.
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return werr.IO("workingcopy.Checkout", err)
			}
			deleted[repoPath] = struct{}{}
			stats.Removed++
			return nil
		default:
			if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
				return werr.IO("workingcopy.Checkout", err)
			}
			if _, wasTracked := existing[repoPath]; !wasTracked {
				if collides, err := untrackedCollision(abs); err != nil {
					return err
				} else if collides {
					stats.Skipped++
					return nil
				}
			}
			state, err := wc.materialize(ctx, abs, newEntry)
			if err != nil {
				return err
			}
			changedEntries = append(changedEntries, FileEntry{Path: repoPath, State: state})
			if oldEntry == nil {
				stats.Added++
			} else {
				stats.Updated++
			}
			return nil
		}
	})
	if err != nil {
		return stats, err
	}

	wc.ts.applyChanges(changedEntries, deleted)
	wc.ts.TreeID = newTreeID
	wc.dirty = true
	return stats, nil
}

// untrackedCollision reports whether abs already exists on disk outside of
// tracked state, per spec §4.5 step 3: "when a path collides with an
// existing untracked file or directory, skip and count as skipped".
func untrackedCollision(abs string) (bool, error) {
	_, err := os.Lstat(abs)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, werr.IO("workingcopy.untrackedCollision", err)
}

// materialize writes newEntry's content to abs: a regular file with mode, a
// symlink (or, per spec's "Symlink policy", a regular file holding the
// target on platforms without symlinks), or a rendered conflict-marker
// file.
func (wc *WorkingCopy) materialize(ctx context.Context, abs string, e *object.TreeEntry) (FileState, error) {
	switch e.Kind {
	case object.EntryConflict:
		seq, err := readConflictSequence(ctx, wc.backend, e.ID)
		if err != nil {
			return FileState{}, err
		}
		content, err := renderConflict(ctx, wc.backend, seq)
		if err != nil {
			return FileState{}, err
		}
		if err := os.WriteFile(abs, content, 0644); err != nil {
			return FileState{}, werr.IO("workingcopy.materialize", err)
		}
		return wc.statWritten(abs, object.EntryConflict, e.ID, ExecOff)

	case object.EntrySymlink:
		content, err := readAll(ctx, wc.backend, e.ID)
		if err != nil {
			return FileState{}, err
		}
		if err := os.Symlink(string(content), abs); err != nil {
			_ = os.Remove(abs)
			// Symlink policy fallback: platforms without symlink support
			// store the target as a plain file's contents.
			if werr2 := os.WriteFile(abs, content, 0644); werr2 != nil {
				return FileState{}, werr.IO("workingcopy.materialize", werr2)
			}
			return wc.statWritten(abs, object.EntrySymlink, e.ID, ExecOff)
		}
		return wc.statWritten(abs, object.EntrySymlink, e.ID, ExecOff)

	default: // EntryFile, EntryGitSubmodule
		content, err := readAll(ctx, wc.backend, e.ID)
		if err != nil {
			return FileState{}, err
		}
		mode := os.FileMode(0644)
		exec := ExecOff
		if e.Executable {
			mode = 0755
			exec = ExecOn
		}
		if wc.execBitIgnored() {
			exec = ExecIgnore
		}
		if err := os.WriteFile(abs, content, mode); err != nil {
			return FileState{}, werr.IO("workingcopy.materialize", err)
		}
		return wc.statWritten(abs, e.Kind, e.ID, exec)
	}
}

func (wc *WorkingCopy) statWritten(abs string, kind object.EntryKind, id objhash.ID, exec ExecFlag) (FileState, error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return FileState{}, werr.IO("workingcopy.statWritten", err)
	}
	return FileState{Kind: kind, Exec: exec, Mtime: info.ModTime(), Size: info.Size(), ID: id}, nil
}

func loadTreeOrEmpty(ctx context.Context, backend store.Backend, id objhash.ID) (*object.Tree, error) {
	if id.IsZero() {
		return &object.Tree{}, nil
	}
	return backend.ReadTree(ctx, "", id)
}

// diffEntryFn is invoked once per path whose entry differs between the old
// and new tree (newEntry == nil means deleted).
type diffEntryFn func(repoPath string, oldEntry, newEntry *object.TreeEntry) error

// diffTrees streams a recursive diff of two trees in sorted path order, per
// spec §4.5 step 1's "stream the tree diff under the sparse matcher".
func diffTrees(ctx context.Context, backend store.Backend, prefix string, oldTree, newTree *object.Tree, fn diffEntryFn) error {
	oldByName := entryByName(oldTree)
	newByName := entryByName(newTree)
	names := map[string]struct{}{}
	for n := range oldByName {
		names[n] = struct{}{}
	}
	for n := range newByName {
		names[n] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)
	for _, name := range ordered {
		oe, ne := oldByName[name], newByName[name]
		repoPath := name
		if prefix != "" {
			repoPath = prefix + "/" + name
		}
		switch {
		case oe.Equal(ne):
			continue
		case oe != nil && ne != nil && oe.Kind == object.EntryTree && ne.Kind == object.EntryTree:
			oldSub, err := backend.ReadTree(ctx, repoPath, oe.ID)
			if err != nil {
				return err
			}
			newSub, err := backend.ReadTree(ctx, repoPath, ne.ID)
			if err != nil {
				return err
			}
			if err := diffTrees(ctx, backend, repoPath, oldSub, newSub, fn); err != nil {
				return err
			}
		case ne != nil && ne.Kind == object.EntryTree:
			// A file (or nothing) became a directory: remove any old
			// non-tree entry at this exact path first, then materialize
			// every entry of the new subtree.
			if oe != nil {
				if err := fn(repoPath, oe, nil); err != nil {
					return err
				}
			}
			newSub, err := backend.ReadTree(ctx, repoPath, ne.ID)
			if err != nil {
				return err
			}
			if err := diffTrees(ctx, backend, repoPath, &object.Tree{}, newSub, fn); err != nil {
				return err
			}
		case oe != nil && oe.Kind == object.EntryTree:
			// A directory became a file (or was removed): delete every
			// entry of the old subtree, then materialize the new entry (if
			// any) at this exact path.
			oldSub, err := backend.ReadTree(ctx, repoPath, oe.ID)
			if err != nil {
				return err
			}
			if err := diffTrees(ctx, backend, repoPath, oldSub, &object.Tree{}, fn); err != nil {
				return err
			}
			if ne != nil {
				if err := fn(repoPath, nil, ne); err != nil {
					return err
				}
			}
		default:
			if err := fn(repoPath, oe, ne); err != nil {
				return err
			}
		}
	}
	return nil
}

func entryByName(t *object.Tree) map[string]*object.TreeEntry {
	m := make(map[string]*object.TreeEntry, len(t.Entries))
	for _, e := range t.Entries {
		m[e.Name] = e
	}
	return m
}
