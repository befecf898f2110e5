package gitadapter

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antgroup/wisp/internal/object"
	"github.com/antgroup/wisp/internal/objhash"
)

// writeExternalCommit writes a commit loose object directly, the way a
// plain `git commit` would, with none of this adapter's change-id trailer
// -- simulating a commit wisp never authored.
func writeExternalCommit(t *testing.T, s *Store, treeSHA string, parents []string, message string) string {
	t.Helper()
	payload := encodeGitCommit(gitCommitFields{
		Tree:      treeSHA,
		Parents:   parents,
		Author:    "External Author <ext@example.com> 1700000000 +0000",
		Committer: "External Author <ext@example.com> 1700000000 +0000",
		Message:   message,
	})
	sha, err := writeLooseObject(s.gitDir, "commit", payload)
	require.NoError(t, err)
	return sha
}

func TestImportRefsResolvesExternalBranchHeadAndTag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fileID, err := s.WriteFile(ctx, bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	tree := &object.Tree{Entries: []*object.TreeEntry{{Name: "a.txt", Kind: object.EntryFile, ID: fileID}}}
	treeID, err := s.WriteTree(ctx, "", tree)
	require.NoError(t, err)
	treeEntry, ok := s.mapping.get(treeID.String())
	require.True(t, ok)

	commitSHA := writeExternalCommit(t, s, treeEntry.GitSHA, nil, "external work\n")
	require.NoError(t, writeGitRef(s.gitDir, "refs/heads/main", commitSHA))
	require.NoError(t, writeGitRef(s.gitDir, "refs/tags/v1", commitSHA))
	require.NoError(t, writeSymbolicGitRef(s.gitDir, "HEAD", "refs/heads/main"))

	imported, err := s.ImportRefs(ctx)
	require.NoError(t, err)
	require.Contains(t, imported.Heads, "main")
	require.Contains(t, imported.Tags, "v1")
	require.Equal(t, imported.Heads["main"], imported.Tags["v1"])
	require.Equal(t, "main", imported.Head.Branch)
	require.Equal(t, imported.Heads["main"], imported.Head.Commit)

	commit, err := s.ReadCommit(ctx, imported.Heads["main"])
	require.NoError(t, err)
	require.Equal(t, "external work", commit.Description)
	require.Equal(t, treeID, commit.RootTreeID)
	require.Empty(t, commit.ParentIDs)

	// Deterministic: re-reading derives the same change-id every time.
	again, err := s.ReadCommit(ctx, imported.Heads["main"])
	require.NoError(t, err)
	require.Equal(t, commit.ChangeID, again.ChangeID)
	require.Equal(t, objhash.ChangeIDFromGitCommit(commit.ID), commit.ChangeID)
}

func TestImportRefsFollowsParentChain(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	emptySHA, err := s.resolveGitSHA(s.EmptyTreeID(ctx))
	require.NoError(t, err)

	firstSHA := writeExternalCommit(t, s, emptySHA, nil, "first\n")
	secondSHA := writeExternalCommit(t, s, emptySHA, []string{firstSHA}, "second\n")
	require.NoError(t, writeGitRef(s.gitDir, "refs/heads/main", secondSHA))

	imported, err := s.ImportRefs(ctx)
	require.NoError(t, err)
	second, err := s.ReadCommit(ctx, imported.Heads["main"])
	require.NoError(t, err)
	require.Len(t, second.ParentIDs, 1)

	first, err := s.ReadCommit(ctx, second.ParentIDs[0])
	require.NoError(t, err)
	require.Equal(t, "first", first.Description)
}

func TestExportRefsWritesHeadsTagsAndHead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cid, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	sig := object.Signature{Name: "A", Email: "a@x.com"}
	commit := &object.Commit{ChangeID: cid, RootTreeID: s.EmptyTreeID(ctx), Author: sig, Committer: sig, Description: "root"}
	commitID, err := s.WriteCommit(ctx, commit)
	require.NoError(t, err)

	err = s.ExportRefs(ctx, map[string]objhash.ID{"main": commitID}, map[string]objhash.ID{"v1": commitID}, HeadState{Branch: "main"})
	require.NoError(t, err)

	headData, err := os.ReadFile(filepath.Join(s.gitDir, "HEAD"))
	require.NoError(t, err)
	require.Equal(t, "ref: refs/heads/main\n", string(headData))

	sha, ok, err := resolveGitRefSHA(s.gitDir, "refs/heads/main")
	require.NoError(t, err)
	require.True(t, ok)
	entry, ok := s.mapping.get(commitID.String())
	require.True(t, ok)
	require.Equal(t, entry.GitSHA, sha)

	tagSHA, ok, err := resolveGitRefSHA(s.gitDir, "refs/tags/v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, entry.GitSHA, tagSHA)

	// A second export that drops "main" removes the stale ref file.
	err = s.ExportRefs(ctx, map[string]objhash.ID{}, map[string]objhash.ID{"v1": commitID}, HeadState{Commit: commitID})
	require.NoError(t, err)
	_, _, err = readGitRef(s.gitDir, "refs/heads/main")
	require.Error(t, err)
}

func TestKeepRefRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cid, err := objhash.NewChangeID(rand.Reader)
	require.NoError(t, err)
	sig := object.Signature{Name: "A", Email: "a@x.com"}
	commit := &object.Commit{ChangeID: cid, RootTreeID: s.EmptyTreeID(ctx), Author: sig, Committer: sig, Description: "anchor"}
	commitID, err := s.WriteCommit(ctx, commit)
	require.NoError(t, err)

	require.NoError(t, s.WriteKeepRef(ctx, commitID))
	sha, ok, err := resolveGitRefSHA(s.gitDir, KeepPrefix+"/"+commitID.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, sha)

	require.NoError(t, s.RemoveKeepRef(ctx, commitID))
	_, ok, err = resolveGitRefSHA(s.gitDir, KeepPrefix+"/"+commitID.String())
	require.NoError(t, err)
	require.False(t, ok)
}
