package chain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mwforge/chainstate/chunkstore"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/hashing"
	"github.com/mwforge/chainstate/mmr"
)

var (
	bucketHeadersByHash   = []byte("headers_by_hash")
	bucketCanonicalHeight = []byte("canonical_hash_by_height")
	bucketMMRSizeByHeight = []byte("header_mmr_size_by_height")
	bucketMeta            = []byte("meta")
	keyTipHash            = []byte("tip_hash")
)

type headerEntry struct {
	Header          consensus.Header
	TotalDifficulty uint64
}

func encodeHeaderEntry(e headerEntry) []byte {
	headerBytes := e.Header.Bytes()
	buf := make([]byte, 0, len(headerBytes)+8)
	var td [8]byte
	binary.BigEndian.PutUint64(td[:], e.TotalDifficulty)
	buf = append(buf, td[:]...)
	buf = append(buf, headerBytes...)
	return buf
}

func decodeHeaderEntry(data []byte) (headerEntry, error) {
	if len(data) < 8 {
		return headerEntry{}, errors.New("chain: truncated header entry")
	}
	var e headerEntry
	e.TotalDifficulty = binary.BigEndian.Uint64(data[:8])
	if err := (&e.Header).Read(bytes.NewReader(data[8:])); err != nil {
		return headerEntry{}, err
	}
	return e, nil
}

// HeaderStore persists every accepted header (on the tip chain or a side
// branch) plus a header MMR over the canonical chain, used to check a
// candidate header's prev_root against the MMR-of-headers at its parent
// (§4.4 header validation rule 4).
type HeaderStore struct {
	db  *bolt.DB
	mmr *chunkstore.ChunkStore
}

// OpenHeaderStore creates or resumes a header store rooted at dir.
func OpenHeaderStore(dir string, chunkHeight uint8) (*HeaderStore, error) {
	db, err := bolt.Open(dir+"/headers.db", 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("chain: open header db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeadersByHash, bucketCanonicalHeight, bucketMMRSizeByHeight, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	headerMMR, err := chunkstore.Open(dir+"/headermmr", chunkHeight)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chain: open header mmr: %w", err)
	}
	return &HeaderStore{db: db, mmr: headerMMR}, nil
}

func (hs *HeaderStore) Close() error {
	err1 := hs.mmr.Close()
	err2 := hs.db.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func sum256(data []byte) []byte { return hashing.Sum256(data) }

func headerHash(h consensus.Header) consensus.Hash {
	return h.HashValue(sum256)
}

// HeaderHash is the canonical block hash of h, exported for callers outside
// the chain package (the coreapi facade's get_block hash lookups).
func HeaderHash(h consensus.Header) consensus.Hash {
	return headerHash(h)
}

// ByHash returns a previously stored header (canonical or side-branch).
func (hs *HeaderStore) ByHash(hash consensus.Hash) (consensus.Header, uint64, bool, error) {
	var entry headerEntry
	var ok bool
	err := hs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeadersByHash).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeHeaderEntry(v)
		if err != nil {
			return err
		}
		entry = e
		ok = true
		return nil
	})
	return entry.Header, entry.TotalDifficulty, ok, err
}

// ByHeight returns the canonical header at height, if any.
func (hs *HeaderStore) ByHeight(height uint64) (consensus.Header, bool, error) {
	var hash consensus.Hash
	var ok bool
	err := hs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCanonicalHeight).Get(heightKeyBytes(height))
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		ok = true
		return nil
	})
	if err != nil || !ok {
		return consensus.Header{}, false, err
	}
	header, _, found, err := hs.ByHash(hash)
	return header, found, err
}

// Tip returns the current canonical chain head.
func (hs *HeaderStore) Tip() (consensus.Header, uint64, bool, error) {
	var hash consensus.Hash
	var ok bool
	err := hs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyTipHash)
		if v == nil {
			return nil
		}
		copy(hash[:], v)
		ok = true
		return nil
	})
	if err != nil || !ok {
		return consensus.Header{}, 0, false, err
	}
	header, td, found, err := hs.ByHash(hash)
	return header, td, found, err
}

// PutSideBranch stores header without making it canonical, for branches
// that are not (yet) the heaviest chain.
func (hs *HeaderStore) PutSideBranch(header consensus.Header, totalDifficulty uint64) error {
	hash := headerHash(header)
	return hs.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeadersByHash).Put(hash[:], encodeHeaderEntry(headerEntry{header, totalDifficulty}))
	})
}

// HeaderRoot returns the current canonical header-MMR root: what a
// candidate header's prev_root must match against its parent (§4.4 rule 4).
func (hs *HeaderStore) HeaderRoot() (consensus.Hash, error) {
	size := hs.mmr.Size()
	root, err := mmr.Root(hs.mmr, hashing.New(), size)
	if err != nil {
		return consensus.Hash{}, err
	}
	var out consensus.Hash
	copy(out[:], root)
	return out, nil
}

// RootAtHeight recomputes the header-MMR root as it stood right after the
// canonical header at height was appended, used to check a candidate
// block's prev_root against its parent (§4.4 header validation rule 4).
func (hs *HeaderStore) RootAtHeight(height uint64) (consensus.Hash, error) {
	var size uint64
	var ok bool
	if err := hs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMMRSizeByHeight).Get(heightKeyBytes(height))
		if v == nil {
			return nil
		}
		size = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	}); err != nil {
		return consensus.Hash{}, err
	}
	if !ok {
		return consensus.Hash{}, fmt.Errorf("chain: no header mmr size recorded at height %d", height)
	}
	root, err := mmr.Root(hs.mmr, hashing.New(), size)
	if err != nil {
		return consensus.Hash{}, err
	}
	var out consensus.Hash
	copy(out[:], root)
	return out, nil
}

// Extend appends header as the new canonical tip: the header MMR is
// authoritative for prev_root checks, so this always grows by exactly one
// leaf and never backfills.
func (hs *HeaderStore) Extend(header consensus.Header, totalDifficulty uint64) error {
	hash := headerHash(header)
	leaf := sum256(header.Bytes())
	_, mmrSize, err := mmr.AppendLeaf(hs.mmr, hashing.New(), leaf)
	if err != nil {
		return err
	}
	return hs.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeadersByHash).Put(hash[:], encodeHeaderEntry(headerEntry{header, totalDifficulty})); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCanonicalHeight).Put(heightKeyBytes(header.Height), hash[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMMRSizeByHeight).Put(heightKeyBytes(header.Height), heightKeyBytes(mmrSize)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyTipHash, hash[:])
	})
}

// RewindTo truncates the canonical chain and header MMR back to height,
// used when a reorg switches the canonical branch (§4.4 extension/reorg).
func (hs *HeaderStore) RewindTo(currentHeight, targetHeight uint64) error {
	if targetHeight > currentHeight {
		return errors.New("chain: rewind target above current height")
	}
	var targetSize uint64
	if err := hs.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMMRSizeByHeight).Get(heightKeyBytes(targetHeight))
		if v == nil {
			return errors.New("chain: missing header mmr size at rewind target")
		}
		targetSize = binary.BigEndian.Uint64(v)
		return nil
	}); err != nil {
		return err
	}
	if err := hs.mmr.Truncate(targetSize); err != nil {
		return err
	}
	return hs.db.Update(func(tx *bolt.Tx) error {
		heights := tx.Bucket(bucketCanonicalHeight)
		sizes := tx.Bucket(bucketMMRSizeByHeight)
		for h := currentHeight; h > targetHeight; h-- {
			if err := heights.Delete(heightKeyBytes(h)); err != nil {
				return err
			}
			if err := sizes.Delete(heightKeyBytes(h)); err != nil {
				return err
			}
		}
		v := heights.Get(heightKeyBytes(targetHeight))
		if v == nil {
			return errors.New("chain: missing canonical hash at rewind target")
		}
		return tx.Bucket(bucketMeta).Put(keyTipHash, v)
	})
}

func heightKeyBytes(height uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return buf
}
