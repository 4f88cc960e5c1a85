package chunkstore

import "encoding/binary"

// manifest is the tiny piece of state that can't be recovered purely from
// probing chunk files: which chunk is currently being written to, and how
// many nodes it holds so far. Kept as its own small backend so opening the
// store never requires scanning every chunk to find the tail.
type manifest struct {
	backend    Backend
	tailIndex  uint32
	tailCount  uint64
	totalNodes uint64
}

const manifestSize = 20 // tailIndex(4) + tailCount(8) + totalNodes(8)

func loadManifest(backend Backend) (*manifest, error) {
	size, err := backend.Size()
	if err != nil {
		return nil, err
	}
	m := &manifest{backend: backend}
	if size == 0 {
		return m, m.save()
	}
	data, err := backend.ReadAt(0, manifestSize)
	if err != nil {
		return nil, err
	}
	m.tailIndex = binary.BigEndian.Uint32(data[0:4])
	m.tailCount = binary.BigEndian.Uint64(data[4:12])
	m.totalNodes = binary.BigEndian.Uint64(data[12:20])
	return m, nil
}

func (m *manifest) save() error {
	buf := make([]byte, manifestSize)
	binary.BigEndian.PutUint32(buf[0:4], m.tailIndex)
	binary.BigEndian.PutUint64(buf[4:12], m.tailCount)
	binary.BigEndian.PutUint64(buf[12:20], m.totalNodes)
	if err := m.backend.Truncate(0); err != nil {
		return err
	}
	if _, err := m.backend.Append(buf); err != nil {
		return err
	}
	return m.backend.Flush()
}
