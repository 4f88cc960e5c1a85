package mmr

import "hash"

// PeakHashes reads the node hash at each peak position for the given mmr
// size, in ascending position order.
func PeakHashes(store NodeGetter, mmrSize uint64) ([][]byte, error) {
	positions := Peaks(mmrSize)
	if positions == nil {
		return nil, ErrInvalidSize
	}
	hashes := make([][]byte, len(positions))
	for idx, pos := range positions {
		v, err := store.Get(pos - 1)
		if err != nil {
			return nil, err
		}
		hashes[idx] = v
	}
	return hashes, nil
}

// Root computes the bagged-peaks root for the mmr of the given size: the
// single value produced by folding all mountain peaks together, starting
// from the right-most (shortest) peak and working left. Each fold step
// commits to the mmr size, so a root can never be replayed as valid for a
// different sized tree.
//
// Root(0) is nil: the empty mmr has no root.
func Root(store NodeGetter, hasher hash.Hash, mmrSize uint64) ([]byte, error) {
	if mmrSize == 0 {
		return nil, nil
	}
	peaks, err := PeakHashes(store, mmrSize)
	if err != nil {
		return nil, err
	}
	return bagPeaks(hasher, mmrSize, peaks), nil
}

// bagPeaks folds peaks (ascending position / descending height order) into
// a single root, right to left. The fold is seeded from the right-most peak
// with H(size || peak), so even a single-peak mmr commits to its size
// instead of returning the bare peak hash.
func bagPeaks(hasher hash.Hash, mmrSize uint64, peaks [][]byte) []byte {
	if len(peaks) == 0 {
		return nil
	}
	hasher.Reset()
	HashWriteUint64(hasher, mmrSize)
	hasher.Write(peaks[len(peaks)-1])
	root := hasher.Sum(nil)
	for i := len(peaks) - 2; i >= 0; i-- {
		root = HashSizePair(hasher, mmrSize, root, peaks[i])
	}
	return root
}
