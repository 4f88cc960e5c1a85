package mmr

import (
	"bytes"
	"hash"
)

// Verify checks that leafHash is included in the mmr of the given size at
// position i (0-based index), given its inclusion proof and read access to
// the store holding the current peaks. A merkle_proof only reaches as far
// as the peak that owns i (InclusionProofPath stops there), so membership is
// checked against that specific peak rather than against a bagged mono-root,
// which no single-peak proof can ever reconstruct on its own.
func Verify(store NodeGetter, hasher hash.Hash, size uint64, i uint64, leafHash []byte, proof [][]byte) (bool, error) {
	peaks, err := PeakHashes(store, size)
	if err != nil {
		return false, err
	}
	return VerifyAccumulator(hasher, peaks, size, i, leafHash, proof), nil
}

// VerifyAccumulator checks that leafHash is included in the compact
// accumulator (ordered peak hashes) for the mmr of the given size, without
// requiring the bagged mono-root. Used when the caller only holds the peak
// list rather than a single bagged root (e.g. the in-progress tip state).
func VerifyAccumulator(hasher hash.Hash, peaks [][]byte, size uint64, i uint64, leafHash []byte, proof [][]byte) bool {
	if i >= size {
		return false
	}
	path := InclusionProofPath(size-1, i)
	if len(path) != len(proof) {
		return false
	}
	// The peak committing i is len(path) steps up from i.
	peakPos := i
	g := IndexHeight(i)
	for range proof {
		if IndexHeight(peakPos+1) > g {
			peakPos++
		} else {
			peakPos += 2 << g
		}
		g++
	}
	positions := Peaks(size)
	peakIdx := -1
	for idx, p := range positions {
		if p-1 == peakPos {
			peakIdx = idx
			break
		}
	}
	if peakIdx < 0 || peakIdx >= len(peaks) {
		return false
	}
	got := IncludedRoot(hasher, i, leafHash, proof)
	return bytes.Equal(got, peaks[peakIdx])
}
