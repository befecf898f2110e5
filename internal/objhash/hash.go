// Package objhash defines the content-hash and change-id primitives shared by
// every core subsystem: commits, trees, files, and index segments are all
// named by the BLAKE3 digest of their encoded form.
package objhash

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sort"

	"github.com/zeebo/blake3"
)

const (
	// Size is the digest size, in bytes, of a content hash.
	Size = 32
	// HexSize is the length of a hash's lowercase hex encoding.
	HexSize = Size * 2
	// ChangeIDSize is the length, in bytes, of a change-id.
	ChangeIDSize = 16
)

// ID is a BLAKE3 content hash: a commit-id, tree-id, or file-id.
type ID [Size]byte

// ZeroID is the absence of an id; it never names a stored object.
var ZeroID ID

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) IsZero() bool {
	return id == ZeroID
}

func (id ID) Bytes() []byte {
	return id[:]
}

// Compare orders ids lexicographically by their raw bytes.
func (id ID) Compare(o ID) int {
	return bytes.Compare(id[:], o[:])
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromHex parses a full 64-character hex id.
func FromHex(s string) (ID, error) {
	var id ID
	if len(s) != HexSize {
		return id, errors.New("objhash: wrong hex length for id")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], raw)
	return id, nil
}

// Hasher streams content and yields an ID, mirroring plumbing.Hasher in the
// original hash package.
type Hasher struct {
	h *blake3.Hasher
}

func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

func (h *Hasher) Sum() ID {
	var id ID
	copy(id[:], h.h.Sum(nil))
	return id
}

// Of hashes a single byte slice in one shot.
func Of(b []byte) ID {
	h := NewHasher()
	_, _ = h.Write(b)
	return h.Sum()
}

// OfReader hashes an io.Reader to completion.
func OfReader(r io.Reader) (ID, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return ZeroID, err
	}
	return h.Sum(), nil
}

// ChangeID is the stable 16-byte identity of a logical change; it survives
// rewrites of the commit it is attached to.
type ChangeID [ChangeIDSize]byte

var ZeroChangeID ChangeID

func (c ChangeID) String() string {
	return hex.EncodeToString(c[:])
}

func (c ChangeID) Compare(o ChangeID) int {
	return bytes.Compare(c[:], o[:])
}

func ChangeIDFromHex(s string) (ChangeID, error) {
	var c ChangeID
	if len(s) != ChangeIDSize*2 {
		return c, errors.New("objhash: wrong hex length for change-id")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return c, err
	}
	copy(c[:], raw)
	return c, nil
}

// NewChangeID draws a fresh random change-id. Generation is delegated to the
// caller-supplied random source so tests can make it deterministic.
func NewChangeID(random io.Reader) (ChangeID, error) {
	var c ChangeID
	if _, err := io.ReadFull(random, c[:]); err != nil {
		return c, err
	}
	return c, nil
}

// ChangeIDFromGitCommit derives a change-id deterministically from an
// imported Git commit id by reversing its bytes, per spec §6 "Change-id
// convention", so prefix collisions between change-ids and commit-ids
// derived this way are extremely improbable.
func ChangeIDFromGitCommit(commitID ID) ChangeID {
	var c ChangeID
	for i := 0; i < ChangeIDSize; i++ {
		c[i] = commitID[Size-1-i]
	}
	return c
}

// HexPrefix is a partial, lowercase hex string used for prefix resolution of
// either an ID or a ChangeID.
type HexPrefix string

func (p HexPrefix) Valid() bool {
	if len(p) == 0 {
		return false
	}
	for _, r := range p {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// SortIDs sorts ids in place, ascending.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
}
