package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backend is the minimal capability set a chunk storage medium must offer:
// append new bytes, read a byte range, truncate (used by rewind), and
// flush. Modelled on the teacher's path-based object store abstraction,
// narrowed from a full object-store API to exactly the operations the mmr
// node store needs.
type Backend interface {
	Append(data []byte) (offset int64, err error)
	ReadAt(offset int64, length int) ([]byte, error)
	Truncate(size int64) error
	Size() (int64, error)
	Flush() error
	Close() error
}

// LocalFileBackend stores one chunk per regular file beneath a root
// directory, keyed by chunk index. It is the reference backend used by
// tests and single-node deployments; a remote object-store backend can
// implement the same Backend interface without touching the chunk layout
// logic above it.
type LocalFileBackend struct {
	root string
	name string
	f    *os.File
}

// OpenLocalChunk opens (creating if necessary) the file backing the chunk
// named name beneath root.
func OpenLocalChunk(root, name string) (*LocalFileBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: creating chunk directory: %w", err)
	}
	path := filepath.Join(root, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: opening chunk file: %w", err)
	}
	return &LocalFileBackend{root: root, name: name, f: f}, nil
}

func (b *LocalFileBackend) Append(data []byte) (int64, error) {
	offset, err := b.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := b.f.Write(data); err != nil {
		return 0, err
	}
	return offset, nil
}

func (b *LocalFileBackend) ReadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := b.f.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (b *LocalFileBackend) Truncate(size int64) error {
	return b.f.Truncate(size)
}

func (b *LocalFileBackend) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalFileBackend) Flush() error { return b.f.Sync() }
func (b *LocalFileBackend) Close() error { return b.f.Close() }

// ChunkName returns the canonical on-disk name for a chunk, ordered so a
// directory listing sorts chunks numerically.
func ChunkName(chunkIndex uint32) string {
	return fmt.Sprintf("%010d.chunk", chunkIndex)
}

// BackendFactory opens (creating if needed) the backend for a given chunk
// index, abstracting over local files vs. a remote object store.
type BackendFactory func(chunkIndex uint32) (Backend, error)

// LocalBackendFactory returns a BackendFactory that opens local files under
// root.
func LocalBackendFactory(root string) BackendFactory {
	return func(chunkIndex uint32) (Backend, error) {
		return OpenLocalChunk(root, ChunkName(chunkIndex))
	}
}
