package native

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/object"
)

func TestWriteReadCommitRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	tr := &object.Tree{Entries: []*object.TreeEntry{
		{Name: "a.txt", Kind: object.EntryFile, ID: s.hashPayload(kindFile, []byte("hi"))},
	}}
	treeID, err := s.WriteTree(ctx, "", tr)
	require.NoError(t, err)

	c := &object.Commit{
		RootTreeID: treeID,
		Author:     object.Signature{Name: "a", Email: "a@x.com", When: time.Unix(1700000000, 0).UTC()},
		Committer:  object.Signature{Name: "a", Email: "a@x.com", When: time.Unix(1700000000, 0).UTC()},
		Description: "msg\n",
	}
	id, err := s.WriteCommit(ctx, c)
	require.NoError(t, err)

	got, err := s.ReadCommit(ctx, id)
	require.NoError(t, err)
	require.Equal(t, c.RootTreeID, got.RootTreeID)
	require.Equal(t, c.Description, got.Description)

	gotTree, err := s.ReadTree(ctx, "", treeID)
	require.NoError(t, err)
	require.Len(t, gotTree.Entries, 1)
	require.Equal(t, "a.txt", gotTree.Entries[0].Name)
}

func TestWriteIsIdempotentOnContent(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	id1, err := s.WriteFile(ctx, bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	id2, err := s.WriteFile(ctx, bytes.NewReader([]byte("same content")))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	r, err := s.ReadFile(ctx, id1)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "same content", string(data))
}

func TestEmptyTreeIDIsStable(t *testing.T) {
	s1, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s1.Close()
	s2, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s2.Close()
	ctx := context.Background()
	require.Equal(t, s1.EmptyTreeID(ctx), s2.EmptyTreeID(ctx))
	require.Equal(t, s1.RootCommitID(ctx), s2.RootCommitID(ctx))
}

func TestReadMissingIsNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	_, err = s.ReadCommit(context.Background(), s.EmptyTreeID(context.Background()))
	require.Error(t, err)
}
