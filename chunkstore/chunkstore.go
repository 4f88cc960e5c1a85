package chunkstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mwforge/chainstate/mmr"
)

// ChunkStore implements mmr.NodeAppender and mmr.PresenceSet over a
// sequence of fixed-capacity chunk files. It is the storage engine behind
// each of the three txhashset MMRs (§4.1, §4.2).
type ChunkStore struct {
	height  uint8
	factory BackendFactory
	open    map[uint32]Backend
	manifest *manifest
	tombs   *TombstoneLog
}

var _ mmr.NodeAppender = (*ChunkStore)(nil)
var _ mmr.PresenceSet = (*ChunkStore)(nil)

// Open creates or resumes a chunk store rooted at dir, with chunks sized to
// hold 2^height node slots each.
func Open(dir string, height uint8) (*ChunkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: creating store directory: %w", err)
	}

	manifestBackend, err := OpenLocalChunk(dir, "MANIFEST")
	if err != nil {
		return nil, err
	}
	m, err := loadManifest(manifestBackend)
	if err != nil {
		return nil, err
	}

	tombBackend, err := OpenLocalChunk(dir, "TOMBSTONES")
	if err != nil {
		return nil, err
	}
	tombs, err := OpenTombstoneLog(tombBackend)
	if err != nil {
		return nil, err
	}

	cs := &ChunkStore{
		height:   height,
		factory:  LocalBackendFactory(filepath.Join(dir, "chunks")),
		open:     make(map[uint32]Backend),
		manifest: m,
		tombs:    tombs,
	}

	tail, err := cs.chunk(m.tailIndex)
	if err != nil {
		return nil, err
	}
	size, err := tail.Size()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		header := ChunkHeader{Height: height, ChunkIndex: m.tailIndex, FirstNode: ChunkFirstNode(height, m.tailIndex)}
		if _, err := tail.Append(header.Encode()); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

func (cs *ChunkStore) chunk(index uint32) (Backend, error) {
	if b, ok := cs.open[index]; ok {
		return b, nil
	}
	b, err := cs.factory(index)
	if err != nil {
		return nil, err
	}
	cs.open[index] = b
	return b, nil
}

// Size returns the total number of nodes appended across the whole store.
func (cs *ChunkStore) Size() uint64 { return cs.manifest.totalNodes }

// Get implements mmr.NodeGetter.
func (cs *ChunkStore) Get(i uint64) ([]byte, error) {
	if i >= cs.manifest.totalNodes {
		return nil, ErrNodeNotFound
	}
	present, err := cs.tombs.IsPresent(i)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrNodePruned
	}

	index := ChunkIndexOf(i, cs.height)
	offset := ChunkOffsetOf(i, cs.height)
	backend, err := cs.chunk(index)
	if err != nil {
		return nil, err
	}
	byteOffset := int64(NodeDataStart() + offset*ValueBytes)
	return backend.ReadAt(byteOffset, ValueBytes)
}

// Append implements mmr.NodeAppender: writes value at the next global mmr
// position, rolling over to a new chunk file once the current one fills.
func (cs *ChunkStore) Append(value []byte) (uint64, error) {
	if uint64(len(value)) != ValueBytes {
		return 0, fmt.Errorf("chunkstore: node value must be %d bytes, got %d", ValueBytes, len(value))
	}

	if cs.manifest.tailCount == ChunkCapacity(cs.height) {
		cs.manifest.tailIndex++
		cs.manifest.tailCount = 0
		next, err := cs.chunk(cs.manifest.tailIndex)
		if err != nil {
			return 0, err
		}
		header := ChunkHeader{
			Height:     cs.height,
			ChunkIndex: cs.manifest.tailIndex,
			FirstNode:  ChunkFirstNode(cs.height, cs.manifest.tailIndex),
		}
		if _, err := next.Append(header.Encode()); err != nil {
			return 0, err
		}
	}

	tail, err := cs.chunk(cs.manifest.tailIndex)
	if err != nil {
		return 0, err
	}
	if _, err := tail.Append(value); err != nil {
		return 0, err
	}

	position := cs.manifest.totalNodes
	cs.manifest.tailCount++
	cs.manifest.totalNodes++
	if err := cs.manifest.save(); err != nil {
		return 0, err
	}
	return position, nil
}

// IsPresent implements mmr.PresenceSet.
func (cs *ChunkStore) IsPresent(i uint64) (bool, error) { return cs.tombs.IsPresent(i) }

// SetAbsent implements mmr.PresenceSet.
func (cs *ChunkStore) SetAbsent(i uint64) error { return cs.tombs.SetAbsent(i) }

// SetPresent restores a previously-tombstoned position, used to undo a
// spend on rewind.
func (cs *ChunkStore) SetPresent(i uint64) error { return cs.tombs.SetPresent(i) }

// PrunedCount reports how many node positions have been tombstoned.
func (cs *ChunkStore) PrunedCount() int { return cs.tombs.PrunedCount() }

// Truncate rewinds the store to hold exactly newSize nodes, used when a
// reorg discards blocks and their mmr entries must be unwound (§4.4 rewind).
// It only ever truncates the tail chunk (and any chunks after the target
// chunk are dropped); chunks entirely before the truncation point are left
// untouched since their node data remains valid.
func (cs *ChunkStore) Truncate(newSize uint64) error {
	if newSize > cs.manifest.totalNodes {
		return fmt.Errorf("chunkstore: cannot truncate to %d nodes, store only has %d", newSize, cs.manifest.totalNodes)
	}
	targetChunk := ChunkIndexOf(newSize, cs.height)
	if newSize > 0 && ChunkOffsetOf(newSize, cs.height) == 0 {
		targetChunk--
	}
	targetOffset := newSize - ChunkFirstNode(cs.height, targetChunk)
	oldTail := cs.manifest.tailIndex

	backend, err := cs.chunk(targetChunk)
	if err != nil {
		return err
	}
	if err := backend.Truncate(int64(NodeDataStart() + targetOffset*ValueBytes)); err != nil {
		return err
	}
	for c := targetChunk + 1; c <= oldTail; c++ {
		later, err := cs.chunk(c)
		if err != nil {
			return err
		}
		if err := later.Truncate(0); err != nil {
			return err
		}
	}

	cs.manifest.tailIndex = targetChunk
	cs.manifest.tailCount = targetOffset
	cs.manifest.totalNodes = newSize
	return cs.manifest.save()
}

// Close flushes and releases every open chunk backend.
func (cs *ChunkStore) Close() error {
	var firstErr error
	for _, b := range cs.open {
		if err := b.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := cs.tombs.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
