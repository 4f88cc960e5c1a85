// Package hashing is the node's chosen hash framework: the concrete hash
// function used to build mmr leaves, and the domain-separated helpers that
// turn output/kernel fields into the byte strings the mmr and signature
// adapters operate on.
//
// blake2b-256 is used throughout, matching the hash chosen by the reference
// mimblewimble implementations this core is modelled on.
package hashing

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// New returns a fresh hash.Hash using the node's chosen hash framework.
func New() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors for an oversized key, and we never pass one.
		panic(err)
	}
	return h
}

// Sum256 hashes data in one shot.
func Sum256(data ...[]byte) []byte {
	h := New()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// WriteUint64 writes v to h as 8 big-endian bytes, the same position/length
// encoding used by the mmr package so node and leaf hashes can be verified
// by anyone holding only this package and the mmr package.
func WriteUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

// OutputLeaf returns H(features || commitment), the output-mmr leaf hash
// input for a given output (§3, §4.3).
func OutputLeaf(features byte, commitment []byte) []byte {
	h := New()
	h.Write([]byte{features})
	h.Write(commitment)
	return h.Sum(nil)
}

// RangeproofLeaf returns H(rangeproof).
func RangeproofLeaf(rangeproof []byte) []byte {
	return Sum256(rangeproof)
}

// KernelLeaf returns H(features || fee || lock_height || excess || excess_sig).
func KernelLeaf(features byte, fee, lockHeight uint64, excess, excessSig []byte) []byte {
	h := New()
	h.Write([]byte{features})
	WriteUint64(h, fee)
	WriteUint64(h, lockHeight)
	h.Write(excess)
	h.Write(excessSig)
	return h.Sum(nil)
}

// KernelSignatureMessage returns the message a kernel's excess_signature is
// computed over: fee and lock_height, big-endian fixed width, hashed under
// this package's hash framework before signing/verifying (§6).
func KernelSignatureMessage(fee, lockHeight uint64) []byte {
	h := New()
	WriteUint64(h, fee)
	WriteUint64(h, lockHeight)
	return h.Sum(nil)
}
