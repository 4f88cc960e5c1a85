package chunkstore

// ValueBytes is the width of every stored node: a hash output (§4.1).
const ValueBytes = 32

// FixedHeaderSlots reserves room at the front of a chunk for bookkeeping
// fields, leaving headroom for future fields without a data migration
// (grounded on the teacher's reserved massif header slots).
const FixedHeaderSlots = 4

// FixedHeaderSize is the byte width of the chunk header.
const FixedHeaderSize = ValueBytes * FixedHeaderSlots

// ChunkCapacity returns the number of node slots a chunk of the given
// height holds. Chunking here is pure storage pagination: every mmr node
// (leaves and the interior nodes promoted above them) is still appended in
// the same single global position order as an unchunked store would use;
// the chunk boundary just bounds how large any one backing file grows and
// gives pruning a natural unit of garbage collection, the way the teacher's
// massif files bound blob size (§4.2).
func ChunkCapacity(height uint8) uint64 {
	return uint64(1) << height
}

// ChunkIndexOf and ChunkOffsetOf locate the chunk and the node-slot offset
// (counted in nodes, not bytes) within it that holds global mmr position i.
func ChunkIndexOf(i uint64, height uint8) uint32 {
	return uint32(i / ChunkCapacity(height))
}

func ChunkOffsetOf(i uint64, height uint8) uint64 {
	return i % ChunkCapacity(height)
}

// ChunkFirstNode returns the first global mmr position stored in the chunk
// at chunkIndex.
func ChunkFirstNode(height uint8, chunkIndex uint32) uint64 {
	return uint64(chunkIndex) * ChunkCapacity(height)
}

// NodeDataStart is the first byte of a chunk's node data, following the
// fixed header.
func NodeDataStart() uint64 {
	return FixedHeaderSize
}

// NodeCountFromDataLen recovers the number of nodes stored in a chunk given
// its total on-disk length, the way the teacher recovers node counts from
// blob ContentLength without needing to parse the node data itself.
func NodeCountFromDataLen(dataLen int) (uint64, error) {
	if uint64(dataLen) < NodeDataStart() {
		return 0, ErrHeaderTooShort
	}
	rem := uint64(dataLen) - NodeDataStart()
	if rem%ValueBytes != 0 {
		return 0, ErrCorruptChunkLength
	}
	return rem / ValueBytes, nil
}
