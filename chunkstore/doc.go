// Package chunkstore implements the chunked, append-only storage backend
// the three txhashset MMRs are built on (§4.2). Each logical MMR is split
// into fixed-height chunks; once a chunk is sealed, later pruning only ever
// tombstones entries within it, it is never rewritten. A chunk begins with
// a small header recording its subtree height, its chunk index and the
// global index of its first node; it carries no peak hashes from earlier
// chunks.
package chunkstore

import "errors"

var (
	ErrChunkSealed       = errors.New("chunkstore: chunk is sealed and accepts no further leaves")
	ErrNodeNotFound       = errors.New("chunkstore: node position not present in this store")
	ErrNodePruned         = errors.New("chunkstore: node position has been pruned")
	ErrHeaderTooShort     = errors.New("chunkstore: chunk header is shorter than the fixed header size")
	ErrCorruptChunkLength = errors.New("chunkstore: chunk data length is not a whole number of entries")
)
