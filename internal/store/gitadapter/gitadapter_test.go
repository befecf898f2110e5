package gitadapter

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "git"), filepath.Join(dir, "state"))
	require.NoError(t, err)
	return s
}

func TestLooseObjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sha, err := writeLooseObject(dir, "blob", []byte("hello world"))
	require.NoError(t, err)
	objType, payload, err := readLooseObject(dir, sha)
	require.NoError(t, err)
	require.Equal(t, "blob", objType)
	require.Equal(t, "hello world", string(payload))

	// Idempotent: writing the same content twice yields the same sha.
	sha2, err := writeLooseObject(dir, "blob", []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, sha, sha2)
}

func TestGitTreeCodecRoundTrip(t *testing.T) {
	entries := []gitTreeEntry{
		{Mode: "100644", Name: "zzz.txt", SHA: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
		{Mode: "40000", Name: "aaa", SHA: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
	}
	payload, err := encodeGitTree(entries)
	require.NoError(t, err)
	decoded, err := decodeGitTree(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	// Subtrees sort as though suffixed with "/", so "aaa/" < "zzz.txt\x00".
	require.Equal(t, "aaa", decoded[0].Name)
	require.Equal(t, "zzz.txt", decoded[1].Name)
}

func TestCommitMessageChangeIDTrailerRoundTrip(t *testing.T) {
	cid, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	msg := encodeCommitMessage("fix the thing", cid)
	desc, decoded, err := decodeCommitMessage(msg)
	require.NoError(t, err)
	require.Equal(t, "fix the thing", desc)
	require.Equal(t, cid, decoded)
}

func TestSignatureRoundTrip(t *testing.T) {
	sig := object.Signature{Name: "Ada Lovelace", Email: "ada@example.com", When: time.Unix(1700000000, 0).UTC()}
	decoded, err := decodeGitSignature(sig.String())
	require.NoError(t, err)
	require.Equal(t, sig.Name, decoded.Name)
	require.Equal(t, sig.Email, decoded.Email)
	require.Equal(t, sig.When.Unix(), decoded.When.Unix())
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := s.WriteFile(ctx, bytes.NewReader([]byte("payload bytes")))
	require.NoError(t, err)
	r, err := s.ReadFile(ctx, id)
	require.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "payload bytes", buf.String())

	// Idempotent: same content, same id.
	id2, err := s.WriteFile(ctx, bytes.NewReader([]byte("payload bytes")))
	require.NoError(t, err)
	require.Equal(t, id, id2)
}

func TestTreeWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fileID, err := s.WriteFile(ctx, bytes.NewReader([]byte("file content")))
	require.NoError(t, err)

	tree := &object.Tree{Entries: []*object.TreeEntry{
		{Name: "a.txt", Kind: object.EntryFile, ID: fileID},
	}}
	treeID, err := s.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	readBack, err := s.ReadTree(ctx, "", treeID)
	require.NoError(t, err)
	require.Len(t, readBack.Entries, 1)
	require.Equal(t, "a.txt", readBack.Entries[0].Name)
	require.Equal(t, object.EntryFile, readBack.Entries[0].Kind)
	require.Equal(t, fileID, readBack.Entries[0].ID)
}

func TestEmptyTreeReadableWithoutWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	empty, err := s.ReadTree(ctx, "", s.EmptyTreeID(ctx))
	require.NoError(t, err)
	require.Len(t, empty.Entries, 0)
}

func TestCommitWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fileID, err := s.WriteFile(ctx, bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	tree := &object.Tree{Entries: []*object.TreeEntry{{Name: "x", Kind: object.EntryFile, ID: fileID}}}
	treeID, err := s.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	cid, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	sig := object.Signature{Name: "A", Email: "a@x.com", When: time.Unix(1600000000, 0).UTC()}
	commit := &object.Commit{
		ChangeID:    cid,
		RootTreeID:  treeID,
		Author:      sig,
		Committer:   sig,
		Description: "initial commit",
	}
	commitID, err := s.WriteCommit(ctx, commit)
	require.NoError(t, err)

	readBack, err := s.ReadCommit(ctx, commitID)
	require.NoError(t, err)
	require.Equal(t, cid, readBack.ChangeID)
	require.Equal(t, treeID, readBack.RootTreeID)
	require.Equal(t, "initial commit", readBack.Description)
	require.Equal(t, sig.Name, readBack.Author.Name)
	require.Empty(t, readBack.ParentIDs)
}

func TestCommitWithParentRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sig := object.Signature{Name: "A", Email: "a@x.com", When: time.Unix(1600000000, 0).UTC()}

	cid1, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	parentCommit := &object.Commit{ChangeID: cid1, RootTreeID: s.EmptyTreeID(ctx), Author: sig, Committer: sig, Description: "first"}
	parentID, err := s.WriteCommit(ctx, parentCommit)
	require.NoError(t, err)

	cid2, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	childCommit := &object.Commit{
		ChangeID:    cid2,
		ParentIDs:   []objhash.ID{parentID},
		RootTreeID:  s.EmptyTreeID(ctx),
		Author:      sig,
		Committer:   sig,
		Description: "second",
	}
	childID, err := s.WriteCommit(ctx, childCommit)
	require.NoError(t, err)

	readBack, err := s.ReadCommit(ctx, childID)
	require.NoError(t, err)
	require.Equal(t, []objhash.ID{parentID}, readBack.ParentIDs)
}

func TestConflictEntryRoundTripsThroughMarkerCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	blobID, err := s.WriteFile(ctx, bytes.NewReader([]byte("+ abc\n- def\n")))
	require.NoError(t, err)

	tree := &object.Tree{Entries: []*object.TreeEntry{
		{Name: "conflicted.txt", Kind: object.EntryConflict, ID: blobID},
	}}
	treeID, err := s.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	readBack, err := s.ReadTree(ctx, "", treeID)
	require.NoError(t, err)
	require.Len(t, readBack.Entries, 1)
	require.Equal(t, object.EntryConflict, readBack.Entries[0].Kind)
	require.Equal(t, blobID, readBack.Entries[0].ID)
}

func TestGenuineSubmoduleGitlinkIsNotMistakenForConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	var submoduleID objhash.ID
	copy(submoduleID[:], raw[:])

	tree := &object.Tree{Entries: []*object.TreeEntry{
		{Name: "vendor/lib", Kind: object.EntryGitSubmodule, ID: submoduleID},
	}}
	treeID, err := s.WriteTree(ctx, "", tree)
	require.NoError(t, err)

	readBack, err := s.ReadTree(ctx, "", treeID)
	require.NoError(t, err)
	require.Len(t, readBack.Entries, 1)
	require.Equal(t, object.EntryGitSubmodule, readBack.Entries[0].Kind)
	require.Equal(t, submoduleID, readBack.Entries[0].ID)
}
