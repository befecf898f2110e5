package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/index"
	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/store/native"
)

func TestOperationEncodeDecodeRoundTrip(t *testing.T) {
	op := &Operation{
		ParentIDs:   []objhash.ID{objhash.Of([]byte("p1")), objhash.Of([]byte("p2"))},
		ViewID:      objhash.Of([]byte("view")),
		Description: "snapshot working copy",
		Start:       time.Unix(1000, 0),
		End:         time.Unix(1001, 0),
		Hostname:    "build-host",
		Username:    "alice",
		Tags:        map[string]string{"op.kind": "snapshot"},
	}
	payload := op.Encode()
	decoded, err := decodeOperation(payload)
	require.NoError(t, err)
	require.Equal(t, op.ParentIDs, decoded.ParentIDs)
	require.Equal(t, op.ViewID, decoded.ViewID)
	require.Equal(t, op.Description, decoded.Description)
	require.Equal(t, op.Hostname, decoded.Hostname)
	require.Equal(t, op.Tags, decoded.Tags)
}

func TestViewEncodeDecodeRoundTrip(t *testing.T) {
	v := refs.NewView()
	head := objhash.Of([]byte("head1"))
	v.Heads[head] = struct{}{}
	v.PublicHeads[head] = struct{}{}
	v.Workspaces["default"] = head
	v.SetLocalBookmark("main", refs.Normal(head))
	v.SetRemoteBookmark("main", "origin", refs.Normal(head), true)
	v.Tags["v1.0.0"] = refs.Normal(head)

	payload := encodeView(v)
	decoded, err := decodeView(payload)
	require.NoError(t, err)
	require.Contains(t, decoded.Heads, head)
	require.Contains(t, decoded.PublicHeads, head)
	require.Equal(t, head, decoded.Workspaces["default"])
	id, ok := decoded.LocalBookmarks["main"].Local.AsNormal()
	require.True(t, ok)
	require.Equal(t, head, id)
	require.True(t, decoded.LocalBookmarks["main"].Remotes["origin"].Tracked)
}

func TestOpHeadsStoreAdvance(t *testing.T) {
	dir := t.TempDir()
	heads, err := OpenOpHeadsStore(dir)
	require.NoError(t, err)

	a := objhash.Of([]byte("op-a"))
	require.NoError(t, heads.Advance(nil, a))
	list, err := heads.List()
	require.NoError(t, err)
	require.Equal(t, []objhash.ID{a}, list)

	b := objhash.Of([]byte("op-b"))
	require.NoError(t, heads.Advance([]objhash.ID{a}, b))
	list, err = heads.List()
	require.NoError(t, err)
	require.Equal(t, []objhash.ID{b}, list)
}

func TestTransactionCommitWritesOperationAndAdvancesHeads(t *testing.T) {
	ctx := context.Background()
	repoDir := t.TempDir()
	backend, err := native.Open(repoDir)
	require.NoError(t, err)
	idx := index.NewEmpty(t.TempDir())
	opStore, err := Open(t.TempDir())
	require.NoError(t, err)
	opHeads, err := OpenOpHeadsStore(t.TempDir())
	require.NoError(t, err)

	tx := NewTransaction(opStore, opHeads, backend, idx, nil, refs.NewView(), "initial commit")
	var changeID objhash.ChangeID
	changeID[0] = 1
	commit := &object.Commit{
		ChangeID:   changeID,
		RootTreeID: backend.EmptyTreeID(ctx),
		Author:     object.Signature{Name: "a", Email: "a@example.com"},
		Committer:  object.Signature{Name: "a", Email: "a@example.com"},
	}
	id, err := tx.WriteCommit(ctx, commit)
	require.NoError(t, err)
	tx.SetLocalBookmark("main", refs.Normal(id))

	op, err := tx.Commit(ctx)
	require.NoError(t, err)
	require.NotZero(t, op.ID)

	list, err := opHeads.List()
	require.NoError(t, err)
	require.Equal(t, []objhash.ID{op.ID}, list)

	reloaded, err := opStore.ReadOperation(op.ID)
	require.NoError(t, err)
	view, err := opStore.ReadView(reloaded.ViewID)
	require.NoError(t, err)
	require.Contains(t, view.Heads, id)
	bmID, ok := view.LocalBookmarks["main"].Local.AsNormal()
	require.True(t, ok)
	require.Equal(t, id, bmID)
}
