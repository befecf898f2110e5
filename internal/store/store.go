// Package store defines the abstract Object Store Interface of spec §4.1:
// a capability-set-polymorphic backend exposing content-addressed commits,
// trees, files, and symlinks, plus a distinguished root commit. Concrete
// backends (store/native, store/gitadapter) implement Backend.
package store

import (
	"context"
	"io"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
)

// CopyRecord is one (target, source) pairing yielded by GetCopyRecords.
type CopyRecord struct {
	Target string
	Source string
}

// Backend is the capability set every object-store implementation exposes,
// per the operation table in spec §4.1. Two writes of equal content must
// yield equal ids (content-addressing, idempotent writes); a write whose id
// already exists with different content cannot happen by construction, so
// the "Conflict" column is N/A to a content-addressed id.
type Backend interface {
	ReadCommit(ctx context.Context, id objhash.ID) (*object.Commit, error)
	WriteCommit(ctx context.Context, c *object.Commit) (objhash.ID, error)

	// ReadTree reads the tree named by id; pathPrefix is advisory context
	// (the repo path of the tree) that the native and gitadapter backends
	// both ignore.
	ReadTree(ctx context.Context, pathPrefix string, id objhash.ID) (*object.Tree, error)
	WriteTree(ctx context.Context, pathPrefix string, t *object.Tree) (objhash.ID, error)

	ReadFile(ctx context.Context, id objhash.ID) (io.ReadCloser, error)
	WriteFile(ctx context.Context, r io.Reader) (objhash.ID, error)

	RootCommitID(ctx context.Context) objhash.ID
	EmptyTreeID(ctx context.Context) objhash.ID

	// GC removes unreachable objects older than cutoff, given the set of
	// ids known to be reachable from preserved history. Returns the number
	// of objects removed.
	GC(ctx context.Context, reachable map[objhash.ID]struct{}, cutoff int64) (int, error)

	GetCopyRecords(ctx context.Context, pathFilter func(string) bool, src, dst objhash.ID) (<-chan CopyRecord, error)

	Close() error
}
