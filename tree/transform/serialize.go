package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/breezy-team/treekit/internal/codec"
	"github.com/breezy-team/treekit/tree"
)

// SerialFormat identifies the on-wire session layout this package
// writes and accepts.
const SerialFormat = "treekit-transform-1"

// zstdEncoder and zstdDecoder are reused across calls to avoid
// repeated initialization overhead. Both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("transform: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transform: zstd decoder initialization failed: " + err.Error())
	}
}

// serialHeader is the leading CBOR record of a serialized session. It
// carries the whole pending-change ledger; staged content follows as
// ContentCount discrete records.
type serialHeader struct {
	Format           string                  `cbor:"format"`
	ID               string                  `cbor:"id"`
	IDCounter        int                     `cbor:"id_counter"`
	NewName          map[TransID]string      `cbor:"new_name,omitempty"`
	NewParent        map[TransID]TransID     `cbor:"new_parent,omitempty"`
	NewExecutability map[TransID]bool        `cbor:"new_executability,omitempty"`
	NewID            map[TransID]tree.FileID `cbor:"new_id,omitempty"`
	TreePathIDs      map[string]TransID      `cbor:"tree_path_ids,omitempty"`
	RemovedID        []TransID               `cbor:"removed_id,omitempty"`
	RemovedContents  []TransID               `cbor:"removed_contents,omitempty"`
	NonPresentIDs    map[tree.FileID]TransID `cbor:"non_present_ids,omitempty"`
	ContentCount     int                     `cbor:"content_count"`
}

// serialContent is one staged content record. File bytes travel
// zstd-compressed; Size is the uncompressed length and is verified on
// load.
type serialContent struct {
	ID     TransID   `cbor:"id"`
	Kind   tree.Kind `cbor:"kind"`
	Target string    `cbor:"target,omitempty"`
	Blob   []byte    `cbor:"blob,omitempty"`
	Size   int64     `cbor:"size,omitempty"`
}

// Serialize writes the session's pending changes and staged content to
// w so Deserialize can reconstruct an equivalent session later,
// possibly in another process. Only a session still accepting changes
// can be serialized.
func (s *Session) Serialize(ctx context.Context, w io.Writer) error {
	if err := s.ensureBuilding(); err != nil {
		return err
	}
	header := serialHeader{
		Format:           SerialFormat,
		ID:               s.id,
		IDCounter:        s.idCounter,
		NewName:          s.newName,
		NewParent:        s.newParent,
		NewExecutability: s.newExecutability,
		NewID:            s.newID,
		TreePathIDs:      s.treePathIDs,
		RemovedID:        sortedHandles(s.removedID),
		RemovedContents:  sortedHandles(s.removedContents),
		NonPresentIDs:    s.nonPresentIDs,
		ContentCount:     len(s.newContents),
	}
	enc := codec.NewEncoder(w)
	if err := enc.Encode(header); err != nil {
		return fmt.Errorf("encoding session header: %w", err)
	}

	for _, id := range sortedHandles(s.newContents) {
		if err := ctx.Err(); err != nil {
			return err
		}
		record := serialContent{ID: id, Kind: s.newContents[id]}
		switch record.Kind {
		case tree.KindFile:
			raw, err := s.readLimboFile(id)
			if err != nil {
				return err
			}
			record.Blob = zstdEncoder.EncodeAll(raw, nil)
			record.Size = int64(len(raw))
		case tree.KindSymlink:
			record.Target = s.symlinkTargets[id]
		}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("encoding content for handle %d: %w", id, err)
		}
	}
	return nil
}

func (s *Session) readLimboFile(id TransID) ([]byte, error) {
	p, ok := s.limboFiles[id]
	if !ok {
		return nil, fmt.Errorf("handle %d has no staged bytes", id)
	}
	f, err := s.fsys.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Deserialize reads a session serialized by Serialize and reconstructs
// it against wt, staging all content again. The tree may have moved on
// since the session was written; conflicts from that surface through
// FindConflicts as usual.
func Deserialize(ctx context.Context, wt tree.WorkingTree, r io.Reader, opts *Options) (*Session, error) {
	s, err := New(wt, opts)
	if err != nil {
		return nil, err
	}
	if err := s.load(ctx, r); err != nil {
		ferr := s.Finalize()
		if ferr != nil {
			return nil, fmt.Errorf("%w (finalizing: %v)", err, ferr)
		}
		return nil, err
	}
	return s, nil
}

func (s *Session) load(ctx context.Context, r io.Reader) error {
	dec := codec.NewDecoder(r)
	var header serialHeader
	if err := dec.Decode(&header); err != nil {
		return fmt.Errorf("decoding session header: %w", err)
	}
	if header.Format != SerialFormat {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, header.Format)
	}

	s.id = header.ID
	s.idCounter = header.IDCounter
	for id, name := range header.NewName {
		s.newName[id] = name
	}
	for id, parent := range header.NewParent {
		s.newParent[id] = parent
	}
	for id, exec := range header.NewExecutability {
		s.newExecutability[id] = exec
	}
	for id, fid := range header.NewID {
		s.newID[id] = fid
		s.rNewID[fid] = id
	}
	for _, id := range header.RemovedID {
		s.removedID[id] = struct{}{}
	}
	for _, id := range header.RemovedContents {
		s.removedContents[id] = struct{}{}
	}
	for fid, id := range header.NonPresentIDs {
		s.nonPresentIDs[fid] = id
	}
	clear(s.treePathIDs)
	clear(s.treeIDPaths)
	for p, id := range header.TreePathIDs {
		s.treePathIDs[p] = id
		s.treeIDPaths[id] = p
	}
	root, ok := s.treePathIDs["."]
	if !ok {
		return fmt.Errorf("%w: header carries no root handle", ErrUnsupportedFormat)
	}
	s.root = root

	for i := 0; i < header.ContentCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var record serialContent
		if err := dec.Decode(&record); err != nil {
			return fmt.Errorf("decoding content record %d: %w", i, err)
		}
		if err := s.replayContent(record); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) replayContent(record serialContent) error {
	switch record.Kind {
	case tree.KindFile:
		raw, err := zstdDecoder.DecodeAll(record.Blob, make([]byte, 0, record.Size))
		if err != nil {
			return fmt.Errorf("decompressing content for handle %d: %w", record.ID, err)
		}
		if int64(len(raw)) != record.Size {
			return fmt.Errorf("content for handle %d: got %d bytes, expected %d",
				record.ID, len(raw), record.Size)
		}
		return s.CreateFile(record.ID, bytes.NewReader(raw))
	case tree.KindDirectory:
		return s.CreateDirectory(record.ID)
	case tree.KindSymlink:
		return s.CreateSymlink(record.ID, record.Target)
	default:
		return fmt.Errorf("%w: content kind %s", ErrUnsupportedFormat, record.Kind)
	}
}
