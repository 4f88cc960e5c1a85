package mmr

import (
	"encoding/binary"
	"hash"
)

// HashWriteUint64 writes v to hasher as 8 big-endian bytes. Every interior
// and bagged-root hash incorporates a position or size value this way, so
// that a node's hash is tied to where it sits in the structure and cannot be
// replayed at a different position.
func HashWriteUint64(hasher hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	hasher.Write(buf[:])
}

// HashPosPair returns H(pos || a || b), resetting hasher first.
func HashPosPair(hasher hash.Hash, pos uint64, a, b []byte) []byte {
	hasher.Reset()
	HashWriteUint64(hasher, pos)
	hasher.Write(a)
	hasher.Write(b)
	return hasher.Sum(nil)
}

// HashSizePair returns H(size || a || b), resetting hasher first. Used for
// bagging peaks into a single root, where the commit value is the mmr size
// rather than a node position.
func HashSizePair(hasher hash.Hash, size uint64, a, b []byte) []byte {
	hasher.Reset()
	HashWriteUint64(hasher, size)
	hasher.Write(a)
	hasher.Write(b)
	return hasher.Sum(nil)
}
