package workingcopy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// SnapshotConfig holds the per-call knobs spec §4.5 names for snapshot.
type SnapshotConfig struct {
	MaxNewFileSize int64 // spec §4.5 "honor max_new_file_size"; 0 means unlimited
	MaxParallelism int   // bounded pool size for spec §5's "small, bounded pool"
}

// Snapshot walks the workspace root under the current matcher, hashes
// changed files into the object store, and returns the resulting root
// tree id together with whether it differs from the recorded one, per spec
// §4.5's seven-step snapshot algorithm. The caller must already hold the
// working-copy lock (StartMutation); Snapshot leaves the lock held so a
// caller can chain a Checkout or a WriteCommit before Finish.
func (wc *WorkingCopy) Snapshot(ctx context.Context, cfg SnapshotConfig) (objhash.ID, bool, error) {
	wc.requireLocked("workingcopy.Snapshot")

	var changedPaths map[string]struct{}
	if wc.fsmon != nil {
		var clock uint64
		changedPaths, clock = wc.fsmon.snapshot()
		wc.ts.FSMonitorClock = clock
	}
	matcher := buildMatcher(wc.ts.SparsePatterns, changedPaths)

	existing := wc.ts.byPath()
	treeStateMtime := wc.statTreeStateMtime()

	type walkResult struct {
		path  string
		state FileState
		err   error
	}

	var (
		mu       sync.Mutex
		results  []walkResult
		touched  = map[string]struct{}{}
		pool     = cfg.MaxParallelism
	)
	if pool <= 0 {
		pool = 8
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pool)

	chain := newIgnoreChain()
	err := wc.walk(wc.root, "", chain, func(repoPath string, info os.FileInfo, isSymlink bool) error {
		if !matcher.Matches(repoPath) {
			return nil
		}
		mu.Lock()
		touched[repoPath] = struct{}{}
		mu.Unlock()
		prior, wasTracked := existing[repoPath]
		if wasTracked && prior.Kind == object.EntryGitSubmodule {
			// spec §4.5 step 3: "If already tracked and a GitSubmodule, skip."
			return nil
		}
		g.Go(func() error {
			st, changed, err := wc.statOne(gctx, repoPath, info, isSymlink, prior, wasTracked, treeStateMtime, cfg)
			if err != nil {
				return err
			}
			if changed {
				mu.Lock()
				results = append(results, walkResult{path: repoPath, state: st})
				mu.Unlock()
			}
			return nil
		})
		return nil
	})
	if err != nil {
		return objhash.ZeroID, false, err
	}
	if err := g.Wait(); err != nil {
		return objhash.ZeroID, false, err
	}

	deleted := map[string]struct{}{}
	for path := range existing {
		if _, stillPresent := touched[path]; !stillPresent && matcher.Matches(path) {
			deleted[path] = struct{}{}
		}
	}

	changedEntries := make([]FileEntry, 0, len(results))
	for _, r := range results {
		changedEntries = append(changedEntries, FileEntry{Path: r.path, State: r.state})
	}
	wc.ts.applyChanges(changedEntries, deleted)

	entries := make(map[string]*object.TreeEntry, len(wc.ts.Files))
	for _, e := range wc.ts.Files {
		entries[e.Path] = &object.TreeEntry{
			Name:       e.Path,
			Kind:       e.State.Kind,
			ID:         e.State.ID,
			Executable: e.State.Exec == ExecOn,
		}
	}

	newTreeID, err := buildTree(ctx, wc.backend, "", entries)
	if err != nil {
		return objhash.ZeroID, false, err
	}
	changed := newTreeID != wc.ts.TreeID
	wc.ts.TreeID = newTreeID
	wc.dirty = wc.dirty || changed
	return newTreeID, changed, nil
}

// statOne stats one already-matched path and, if it changed (or is newly
// tracked), reads and writes it to the object store, returning its new
// FileState. It returns changed=false when the path is unchanged and
// should keep its prior recorded FileState untouched.
func (wc *WorkingCopy) statOne(ctx context.Context, repoPath string, info os.FileInfo, isSymlink bool, prior FileState, wasTracked bool, treeStateMtime int64, cfg SnapshotConfig) (FileState, bool, error) {
	kind := object.EntryFile
	if isSymlink {
		kind = object.EntrySymlink
	}
	exec := ExecOff
	if !isSymlink && info.Mode()&0111 != 0 {
		exec = ExecOn
	}
	if wc.execBitIgnored() {
		exec = ExecIgnore
	}

	candidate := FileState{
		Kind:  kind,
		Exec:  exec,
		Mtime: info.ModTime(),
		Size:  info.Size(),
	}

	// Mtime race protection (spec §4.5): a file whose recorded mtime equals
	// or exceeds the tree-state file's own mtime is re-hashed regardless of
	// stat equality, since it may have changed within the same filesystem
	// timestamp granularity as the last snapshot.
	raceSuspect := info.ModTime().UnixNano() >= treeStateMtime
	if wasTracked && !raceSuspect && prior.unchanged(candidate) {
		return FileState{}, false, nil
	}

	if cfg.MaxNewFileSize > 0 && info.Size() > cfg.MaxNewFileSize && !wasTracked {
		return FileState{}, false, nil
	}

	abs := filepath.Join(wc.root, filepath.FromSlash(repoPath))
	var content []byte
	var err error
	if isSymlink {
		target, linkErr := os.Readlink(abs)
		if linkErr != nil {
			return FileState{}, false, werr.IO("workingcopy.statOne", linkErr)
		}
		content = []byte(target)
	} else {
		content, err = os.ReadFile(abs)
		if err != nil {
			return FileState{}, false, werr.IO("workingcopy.statOne", err)
		}
	}

	// Re-merge any on-disk conflict markers back into a MergedTreeSequence
	// (spec §4.5 step 3's "for files with existing conflict content: parse
	// conflict markers back into a merged file-id sequence").
	if wasTracked && prior.Kind == object.EntryConflict {
		if segments, ok := parseConflict(content); ok {
			seq := make(object.MergedTreeSequence, 0, len(segments))
			for _, seg := range segments {
				id, err := wc.backend.WriteFile(ctx, bytes.NewReader(seg))
				if err != nil {
					return FileState{}, false, err
				}
				seq = append(seq, id)
			}
			if len(seq) > 1 {
				blobID, err := writeConflictBlob(ctx, wc.backend, seq)
				if err != nil {
					return FileState{}, false, err
				}
				candidate.Kind = object.EntryConflict
				candidate.ID = blobID
				return candidate, true, nil
			}
			// Fully resolved: a single surviving segment is the plain file.
			candidate.Kind = object.EntryFile
			if len(seq) == 1 {
				candidate.ID = seq[0]
			}
			return candidate, true, nil
		}
	}

	id, err := wc.backend.WriteFile(ctx, bytes.NewReader(content))
	if err != nil {
		return FileState{}, false, err
	}
	candidate.ID = id
	return candidate, true, nil
}

func (wc *WorkingCopy) statTreeStateMtime() int64 {
	info, err := os.Stat(wc.treeStatePath())
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

// execBitIgnored probes whether the underlying filesystem honors the
// executable bit, per spec §4.5's "detected by a probe write and re-stat".
// Each call runs the probe afresh (the result is not cached): create a temp
// file, chmod it executable, and check whether the bit stuck.
func (wc *WorkingCopy) execBitIgnored() bool {
	f, err := os.CreateTemp(wc.stateDir, ".execprobe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	defer os.Remove(name)
	if err := os.Chmod(name, 0755); err != nil {
		return true
	}
	info, err := os.Stat(name)
	if err != nil {
		return true
	}
	return info.Mode()&0111 == 0
}

// walkFn is invoked once per matched filesystem entry during the snapshot
// walk, after .wisp/.git exclusion and gitignore-chain filtering.
type walkFn func(repoPath string, info os.FileInfo, isSymlink bool) error

// walk performs the parallel-eligible (the caller dispatches hashing onto
// goroutines; the directory traversal itself is sequential, matching the
// original directory-at-a-time ignore-chain accumulation) directory walk
// of spec §4.5 step 3, skipping .wisp and .git and applying the gitignore
// chain directory by directory.
func (wc *WorkingCopy) walk(dirAbs, dirRepoPath string, chain *ignoreChain, fn walkFn) error {
	entries, err := os.ReadDir(dirAbs)
	if err != nil {
		return werr.IO("workingcopy.walk", err)
	}
	chain = chain.withDir(dirAbs, dirRepoPath)
	for _, entry := range entries {
		name := entry.Name()
		if name == ".wisp" || name == ".git" {
			continue
		}
		repoPath := name
		if dirRepoPath != "" {
			repoPath = dirRepoPath + "/" + name
		}
		info, err := entry.Info()
		if err != nil {
			return werr.IO("workingcopy.walk", err)
		}
		isSymlink := info.Mode()&os.ModeSymlink != 0
		isDir := entry.IsDir() && !isSymlink
		if chain.ignored(repoPath, isDir) {
			continue
		}
		if isDir {
			if err := wc.walk(filepath.Join(dirAbs, name), repoPath, chain, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(repoPath, info, isSymlink); err != nil {
			return err
		}
	}
	return nil
}
