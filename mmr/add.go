package mmr

import "hash"

// AddHashedLeaf appends a single leaf hash to the mmr and back-fills any
// interior nodes that the new leaf now completes.
//
// Because the post-order append sequence of an MMR is the same as the
// left-to-right, children-first traversal of its binary tree, adding one
// leaf can "unlock" any number of waiting parent nodes: each time the node
// we just stored would, together with its left sibling, complete a parent,
// we store that parent too and check again.
//
// Returns the mmr size after the leaf (and any back-filled parents) have
// been added. This is also the 0-based index of the next leaf to be added.
func AddHashedLeaf(store NodeAppender, hasher hash.Hash, hashedLeaf []byte) (uint64, error) {
	_, size, err := AppendLeaf(store, hasher, hashedLeaf)
	return size, err
}

// AppendLeaf is AddHashedLeaf but additionally returns the leaf's own
// 0-based mmr index, which is needed by callers (e.g. the output MMR) that
// must remember where a specific leaf landed for later proof or spend
// lookups.
func AppendLeaf(store NodeAppender, hasher hash.Hash, hashedLeaf []byte) (leafIndex uint64, size uint64, err error) {
	var i uint64

	height := uint64(0)

	if i, err = store.Append(hashedLeaf); err != nil {
		return 0, 0, err
	}
	leafIndex = i

	for IndexHeight(i+1) > height {
		iLeft := i + 1 - (2 << height)
		iRight := i

		left, err := store.Get(iLeft)
		if err != nil {
			return 0, 0, err
		}
		right, err := store.Get(iRight)
		if err != nil {
			return 0, 0, err
		}

		// The parent commits its own position to prevent a node proven at
		// one position being replayed as valid at another.
		parent := HashPosPair(hasher, i+2, left, right)

		if i, err = store.Append(parent); err != nil {
			return 0, 0, err
		}
		height++
	}
	return leafIndex, i + 1, nil
}
