package oplog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/antgroup/wisp/internal/objhash"
	"github.com/antgroup/wisp/internal/refs"
	"github.com/antgroup/wisp/internal/werr"
)

var opMagic = [4]byte{'W', 'P', 0, 1}

const (
	kindOperation uint16 = 1
	kindView      uint16 = 2
)

// Store persists Operations and Views content-addressed under dir, in the
// same temp-file-then-rename, magic-framed shape as store/native (grounded
// on the same file_storer.go pattern): op-log entries are metadata,
// not GC'd objects, but they still benefit from idempotent, race-free
// writes since concurrent transactions may compute the same View or even
// the same Operation independently.
type Store struct {
	dir      string
	incoming string
}

// Open opens (creating if needed) an operation store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "operations"), 0755); err != nil {
		return nil, werr.IO("oplog.Open", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "views"), 0755); err != nil {
		return nil, werr.IO("oplog.Open", err)
	}
	incoming := filepath.Join(dir, "incoming")
	if err := os.MkdirAll(incoming, 0755); err != nil {
		return nil, werr.IO("oplog.Open", err)
	}
	return &Store{dir: dir, incoming: incoming}, nil
}

func (s *Store) opPath(id objhash.ID) string  { return filepath.Join(s.dir, "operations", id.String()) }
func (s *Store) viewPath(id objhash.ID) string { return filepath.Join(s.dir, "views", id.String()) }

func (s *Store) writeFramed(dest string, kind uint16, payload []byte) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	tmp, err := os.CreateTemp(s.incoming, "op-")
	if err != nil {
		return werr.IO("oplog.write", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if err := writeOpFrame(tmp, kind, payload); err != nil {
		_ = tmp.Close()
		return werr.IO("oplog.write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return werr.IO("oplog.write", err)
	}
	if err := tmp.Close(); err != nil {
		return werr.IO("oplog.write", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil
		}
		return werr.IO("oplog.write", err)
	}
	return os.Chmod(dest, 0444)
}

func writeOpFrame(w io.Writer, kind uint16, payload []byte) error {
	if _, err := w.Write(opMagic[:]); err != nil {
		return err
	}
	var kb [2]byte
	binary.BigEndian.PutUint16(kb[:], kind)
	if _, err := w.Write(kb[:]); err != nil {
		return err
	}
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], uint64(len(payload)))
	if _, err := w.Write(lb[:]); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := zw.Write(payload); err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}

func readOpFrame(r io.Reader) (kind uint16, payload []byte, err error) {
	var magic [4]byte
	if _, err = io.ReadFull(r, magic[:]); err != nil {
		return 0, nil, err
	}
	if magic != opMagic {
		return 0, nil, fmt.Errorf("oplog: bad frame magic")
	}
	var kb [2]byte
	if _, err = io.ReadFull(r, kb[:]); err != nil {
		return 0, nil, err
	}
	kind = binary.BigEndian.Uint16(kb[:])
	var lb [8]byte
	if _, err = io.ReadFull(r, lb[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint64(lb[:])
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, nil, err
	}
	defer zr.Close()
	payload, err = io.ReadAll(io.LimitReader(zr, int64(length)+1))
	if err != nil {
		return 0, nil, err
	}
	if uint64(len(payload)) != length {
		return 0, nil, werr.Corrupt("oplog.readFrame", fmt.Errorf("expected %d bytes, got %d", length, len(payload)))
	}
	return kind, payload, nil
}

func (s *Store) readFramed(path string, wantKind uint16) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, werr.NotFound("oplog.read", err)
	}
	if err != nil {
		return nil, werr.IO("oplog.read", err)
	}
	defer f.Close()
	kind, payload, err := readOpFrame(f)
	if err != nil {
		return nil, werr.Corrupt("oplog.read", err)
	}
	if kind != wantKind {
		return nil, werr.Corrupt("oplog.read", fmt.Errorf("expected kind %d, got %d", wantKind, kind))
	}
	return payload, nil
}

// WriteView persists v and returns its content id.
func (s *Store) WriteView(v *refs.View) (objhash.ID, error) {
	payload := encodeView(v)
	id := objhash.Of(payload)
	if err := s.writeFramed(s.viewPath(id), kindView, payload); err != nil {
		return objhash.ZeroID, err
	}
	return id, nil
}

// ReadView loads the View previously stored under id.
func (s *Store) ReadView(id objhash.ID) (*refs.View, error) {
	payload, err := s.readFramed(s.viewPath(id), kindView)
	if err != nil {
		return nil, err
	}
	return decodeView(payload)
}

// WriteOperation persists op (computing its id first) and returns the id.
func (s *Store) WriteOperation(op *Operation) (objhash.ID, error) {
	id := op.ComputeID()
	if err := s.writeFramed(s.opPath(id), kindOperation, op.Encode()); err != nil {
		return objhash.ZeroID, err
	}
	return id, nil
}

// ReadOperation loads the Operation stored under id.
func (s *Store) ReadOperation(id objhash.ID) (*Operation, error) {
	payload, err := s.readFramed(s.opPath(id), kindOperation)
	if err != nil {
		return nil, err
	}
	op, err := decodeOperation(payload)
	if err != nil {
		return nil, werr.Corrupt("oplog.ReadOperation", err)
	}
	op.ID = id
	return op, nil
}
