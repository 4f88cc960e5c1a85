package mmr

import "hash"

// InclusionProofPath returns the 0-based mmr indices of the sibling nodes
// needed to walk from i up to the peak that commits it, within an mmr whose
// last valid index is mmrLastIndex.
func InclusionProofPath(mmrLastIndex uint64, i uint64) []uint64 {
	var iSibling uint64
	var path []uint64

	g := IndexHeight(i)

	for {
		siblingOffset := uint64(2) << g

		if IndexHeight(i+1) > g {
			// i is the right child; its sibling is behind it, and the
			// parent is stored immediately after i.
			iSibling = i - siblingOffset + 1
			i++
		} else {
			// i is the left child; its sibling is ahead of it, and the
			// parent is stored immediately after that sibling.
			iSibling = i + siblingOffset - 1
			i += siblingOffset
		}

		if iSibling > mmrLastIndex {
			return path
		}
		path = append(path, iSibling)
		g++
	}
}

// InclusionProof resolves InclusionProofPath against store, returning the
// sibling hashes rather than their indices.
func InclusionProof(store NodeGetter, mmrLastIndex uint64, i uint64) ([][]byte, error) {
	if i > mmrLastIndex {
		return nil, ErrInvalidPosition
	}
	path := InclusionProofPath(mmrLastIndex, i)
	proof := make([][]byte, 0, len(path))
	for _, idx := range path {
		v, err := store.Get(idx)
		if err != nil {
			return nil, err
		}
		proof = append(proof, v)
	}
	return proof, nil
}

// IncludedRoot recomputes the accumulator peak that commits nodeHash at
// index i given its inclusion proof. Both leaf and interior nodes are
// handled identically.
func IncludedRoot(hasher hash.Hash, i uint64, nodeHash []byte, proof [][]byte) []byte {
	root := nodeHash
	g := IndexHeight(i)

	for _, sibling := range proof {
		if IndexHeight(i+1) > g {
			i++
			root = HashPosPair(hasher, i+1, sibling, root)
		} else {
			i += 2 << g
			root = HashPosPair(hasher, i+1, root, sibling)
		}
		g++
	}
	return root
}
