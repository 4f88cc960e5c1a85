package chunkstore

import (
	"encoding/binary"
)

// ChunkHeader is the fixed-width record at the front of every chunk file,
// recording enough to identify and bound-check the chunk independent of any
// other chunk (grounded on the teacher's MassifStart header).
type ChunkHeader struct {
	Height     uint8
	ChunkIndex uint32
	FirstNode  uint64
}

// Encode writes h in its canonical fixed-width layout.
func (h ChunkHeader) Encode() []byte {
	buf := make([]byte, FixedHeaderSize)
	buf[0] = h.Height
	binary.BigEndian.PutUint32(buf[4:8], h.ChunkIndex)
	binary.BigEndian.PutUint64(buf[8:16], h.FirstNode)
	return buf
}

// DecodeChunkHeader parses the fixed header from the front of chunk data.
func DecodeChunkHeader(data []byte) (ChunkHeader, error) {
	var h ChunkHeader
	if len(data) < int(FixedHeaderSize) {
		return h, ErrHeaderTooShort
	}
	h.Height = data[0]
	h.ChunkIndex = binary.BigEndian.Uint32(data[4:8])
	h.FirstNode = binary.BigEndian.Uint64(data[8:16])
	return h, nil
}
