// Package blockstore durably persists full blocks, keyed by hash and by
// height, so get_block can answer historical queries beyond the in-memory
// reorg window the acceptance pipeline keeps for its own replay (§7
// coreapi). Blocks are appended to a flat file via chunkstore.Backend and
// located through a bbolt index, the same split chunkstore/posindex already
// use for the mmr leaf data.
package blockstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mwforge/chainstate/chunkstore"
	"github.com/mwforge/chainstate/consensus"
)

var (
	bucketLocationByHash = []byte("block_location_by_hash")
	bucketHashByHeight   = []byte("block_hash_by_height")
	bucketHashByOutput   = []byte("block_hash_by_output_commitment")
)

// location is the byte offset and length of one encoded block within the
// append-only log.
type location struct {
	offset int64
	length int64
}

func (l location) Bytes() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], uint64(l.offset))
	binary.BigEndian.PutUint64(buf[8:16], uint64(l.length))
	return buf
}

func locationFromBytes(b []byte) location {
	return location{
		offset: int64(binary.BigEndian.Uint64(b[0:8])),
		length: int64(binary.BigEndian.Uint64(b[8:16])),
	}
}

// Store is a durable, append-only log of full blocks plus a bbolt index
// resolving a hash, a height, or an output commitment to the block that
// contains it. A block is written once, on first sight, and never
// rewritten: a side-branch block and a later-demoted canonical block both
// stay retrievable by hash, only the height index tracks which hash is
// currently canonical (§4.4 reorg).
type Store struct {
	log *chunkstore.LocalFileBackend
	db  *bolt.DB
}

// Open creates or resumes a block store rooted at dir.
func Open(dir string) (*Store, error) {
	blob, err := chunkstore.OpenLocalChunk(dir, "blocks.log")
	if err != nil {
		return nil, fmt.Errorf("blockstore: opening block log: %w", err)
	}
	db, err := bolt.Open(dir+"/blocks.db", 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("blockstore: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLocationByHash, bucketHashByHeight, bucketHashByOutput} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("blockstore: create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = blob.Close()
		_ = db.Close()
		return nil, err
	}
	return &Store{log: blob, db: db}, nil
}

func (s *Store) Close() error {
	dbErr := s.db.Close()
	blobErr := s.log.Close()
	if dbErr != nil {
		return dbErr
	}
	return blobErr
}

// Put appends block's encoding to the log and indexes it by hash and, when
// markCanonical is true, by height too. A block reaching this store for the
// second time (a side branch that later becomes canonical) is not
// re-appended; only the height index is updated.
func (s *Store) Put(block consensus.Block, hash consensus.Hash, markCanonical bool) error {
	var loc location
	var have bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLocationByHash).Get(hash[:])
		if v != nil {
			loc = locationFromBytes(v)
			have = true
		}
		return nil
	}); err != nil {
		return err
	}

	if !have {
		data := block.Bytes()
		offset, err := s.log.Append(data)
		if err != nil {
			return err
		}
		if err := s.log.Flush(); err != nil {
			return err
		}
		loc = location{offset: offset, length: int64(len(data))}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if !have {
			if err := tx.Bucket(bucketLocationByHash).Put(hash[:], loc.Bytes()); err != nil {
				return err
			}
			outputs := tx.Bucket(bucketHashByOutput)
			for _, out := range block.Body.Outputs {
				if err := outputs.Put(out.Commitment[:], hash[:]); err != nil {
					return err
				}
			}
		}
		if markCanonical {
			heightKey := heightBytes(block.Header.Height)
			if err := tx.Bucket(bucketHashByHeight).Put(heightKey, hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkCanonical records that height's canonical block is hash, without
// touching the log. Used when a reorg changes which previously-stored block
// is canonical at a given height.
func (s *Store) MarkCanonical(height uint64, hash consensus.Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHashByHeight).Put(heightBytes(height), hash[:])
	})
}

// GetByHash returns the full block stored under hash, if any.
func (s *Store) GetByHash(hash consensus.Hash) (consensus.Block, bool, error) {
	var loc location
	var ok bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketLocationByHash).Get(hash[:])
		if v == nil {
			return nil
		}
		loc = locationFromBytes(v)
		ok = true
		return nil
	}); err != nil {
		return consensus.Block{}, false, err
	}
	if !ok {
		return consensus.Block{}, false, nil
	}
	return s.read(loc)
}

// GetByHeight returns the block currently recorded as canonical at height.
func (s *Store) GetByHeight(height uint64) (consensus.Block, bool, error) {
	var hash consensus.Hash
	var ok bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHashByHeight).Get(heightBytes(height))
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		ok = true
		return nil
	}); err != nil {
		return consensus.Block{}, false, err
	}
	if !ok {
		return consensus.Block{}, false, nil
	}
	return s.GetByHash(hash)
}

// GetByOutputCommitment returns the block that created the output
// commitment c, regardless of whether that output is still unspent.
func (s *Store) GetByOutputCommitment(c consensus.Commitment) (consensus.Block, bool, error) {
	var hash consensus.Hash
	var ok bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHashByOutput).Get(c[:])
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		ok = true
		return nil
	}); err != nil {
		return consensus.Block{}, false, err
	}
	if !ok {
		return consensus.Block{}, false, nil
	}
	return s.GetByHash(hash)
}

func (s *Store) read(loc location) (consensus.Block, bool, error) {
	data, err := s.log.ReadAt(loc.offset, int(loc.length))
	if err != nil {
		return consensus.Block{}, false, err
	}
	var block consensus.Block
	if err := block.Read(bytes.NewReader(data)); err != nil {
		return consensus.Block{}, false, err
	}
	return block, true, nil
}

func heightBytes(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
