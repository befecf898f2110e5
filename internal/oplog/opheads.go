package oplog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/dolthub/fslock"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/werr"
)

// OpHeadsStore is the directory of op-id filenames naming the current
// leaves of the operation DAG, guarded by a single exclusive lock file so
// concurrent transactions' add/remove pairs never interleave, grounded on
// the original reflog.DB lockPath (an O_CREATE|O_EXCL-style exclusive lock
// held only for the duration of one filesystem mutation) generalized to use
// fslock's advisory OS lock instead of a second file's existence, since
// op-heads must also survive a process crash while holding the lock.
type OpHeadsStore struct {
	dir      string
	lockPath string
}

// OpenOpHeadsStore opens (creating if needed) an op-heads directory at dir.
func OpenOpHeadsStore(dir string) (*OpHeadsStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, werr.IO("oplog.OpenOpHeadsStore", err)
	}
	return &OpHeadsStore{dir: dir, lockPath: filepath.Join(dir, "op_heads.lock")}, nil
}

func (s *OpHeadsStore) withLock(fn func() error) error {
	lock := fslock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return werr.IO("oplog.opheads.lock", err)
	}
	defer lock.Unlock()
	return fn()
}

// List returns the current op-heads, sorted for determinism.
func (s *OpHeadsStore) List() ([]objhash.ID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, werr.IO("oplog.opheads.List", err)
	}
	var out []objhash.ID
	for _, e := range entries {
		if e.IsDir() || e.Name() == "op_heads.lock" {
			continue
		}
		id, err := objhash.FromHex(e.Name())
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out, nil
}

// Advance atomically replaces the parent op-heads (superseded, typically the
// transaction's own parent operation(s)) with newHead, per spec §4.3's
// "atomic op-heads swap". Advance is safe to retry: if superseded is no
// longer present (another process already advanced past it), the add still
// proceeds so a transaction racing a concurrent one doesn't get lost -- the
// next load sees both heads and merges them (spec §4.3 concurrent-operation
// merge).
func (s *OpHeadsStore) Advance(superseded []objhash.ID, newHead objhash.ID) error {
	return s.withLock(func() error {
		for _, id := range superseded {
			_ = os.Remove(filepath.Join(s.dir, id.String()))
		}
		f, err := os.OpenFile(filepath.Join(s.dir, newHead.String()), os.O_CREATE|os.O_WRONLY, 0444)
		if err != nil {
			return werr.IO("oplog.opheads.Advance", err)
		}
		return f.Close()
	})
}
