// Package mmr implements a Merkle Mountain Range: an append-only binary
// hash structure whose shape is fully determined by its size.
//
// A node's position is its 1-based post-order insertion index. Leaves and
// interior nodes share the same index space; interior nodes are inserted
// automatically by AppendLeaf whenever two existing siblings can be combined.
//
// The approach mirrors the well known mimblewimble pmmr construction: the
// post order traversal of a binary tree is identical to the natural append
// order of an MMR, so navigation (parent, sibling, peak) is pure binary
// arithmetic over the position, and the full tree never needs to be
// materialised.
//
// References this draws on for the index-height and peak-bagging arithmetic:
//   - https://github.com/mimblewimble/grin/blob/master/core/src/core/pmmr.rs
//   - https://github.com/opentimestamps/opentimestamps-server/blob/master/doc/merkle-mountain-range.md
package mmr

import "errors"

// ErrInvalidPosition is returned when a supplied node position cannot exist
// in an MMR of the given size.
var ErrInvalidPosition = errors.New("mmr: invalid position")

// ErrInvalidProof is returned when a supplied proof does not reconstruct the
// expected root.
var ErrInvalidProof = errors.New("mmr: invalid proof")

// ErrInvalidSize is returned when a value claimed to be an MMR size does not
// correspond to any valid MMR shape.
var ErrInvalidSize = errors.New("mmr: invalid size")
