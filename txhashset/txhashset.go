// Package txhashset maintains the authenticated chain state as three
// parallel MMRs — output, rangeproof, and kernel — backed by chunkstore and
// indexed by posindex, and enforces the commitment-sum invariant across
// them on every block (§4.3).
package txhashset

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mwforge/chainstate/chunkstore"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/hashing"
	"github.com/mwforge/chainstate/mmr"
	"github.com/mwforge/chainstate/posindex"
)

var (
	ErrSizeMismatch       = errors.New("txhashset: output and rangeproof mmr sizes diverged")
	ErrUnknownInput       = errors.New("txhashset: input commitment is not an unspent output")
	ErrLeafHashMismatch   = errors.New("txhashset: stored leaf hash does not match input")
	ErrRootMismatch       = errors.New("txhashset: computed root does not match header")
	ErrSumMismatch        = errors.New("txhashset: commitment-sum equation does not balance")
	ErrNoSavedDiff        = errors.New("txhashset: no saved diff for the requested header")
	ErrRangeProofRejected = errors.New("txhashset: rangeproof failed verification")
)

// TxHashSet is the complete authenticated chain state.
type TxHashSet struct {
	outputStore     *chunkstore.ChunkStore
	rangeproofStore *chunkstore.ChunkStore
	kernelStore     *chunkstore.ChunkStore

	positions *posindex.Index
	diffs     *DiffLog
	state     *runningState

	rangeproofs cryptoadapt.RangeProofVerifier
}

// Open creates or resumes a TxHashSet rooted at dir.
func Open(dir string, chunkHeight uint8, verifier cryptoadapt.RangeProofVerifier) (*TxHashSet, error) {
	outputStore, err := chunkstore.Open(dir+"/output", chunkHeight)
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening output mmr: %w", err)
	}
	rangeproofStore, err := chunkstore.Open(dir+"/rangeproof", chunkHeight)
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening rangeproof mmr: %w", err)
	}
	kernelStore, err := chunkstore.Open(dir+"/kernel", chunkHeight)
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening kernel mmr: %w", err)
	}
	positions, err := posindex.Open(dir + "/positions.db")
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening position index: %w", err)
	}
	diffs, err := OpenDiffLog(dir + "/diffs")
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening diff log: %w", err)
	}
	state, err := openRunningState(dir + "/state.bin")
	if err != nil {
		return nil, fmt.Errorf("txhashset: opening running state: %w", err)
	}

	return &TxHashSet{
		outputStore:     outputStore,
		rangeproofStore: rangeproofStore,
		kernelStore:     kernelStore,
		positions:       positions,
		diffs:           diffs,
		state:           state,
		rangeproofs:     verifier,
	}, nil
}

func (t *TxHashSet) Close() error {
	var firstErr error
	for _, c := range []func() error{t.outputStore.Close, t.rangeproofStore.Close, t.kernelStore.Close, t.positions.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Roots is the three MMR roots plus the output mmr size (which the
// rangeproof mmr size always equals), as compared against a block header on
// apply (§4.4 rule 4, §4.3 J1).
type Roots struct {
	OutputRoot     consensus.Hash
	RangeproofRoot consensus.Hash
	KernelRoot     consensus.Hash
	Size           uint64
}

// OutputExists reports whether c is currently a live (unspent) output.
func (t *TxHashSet) OutputExists(c consensus.Commitment) (bool, error) {
	_, ok, err := t.positions.OutputPosition(c)
	return ok, err
}

// OutputCreatedHeight returns the height an unspent output's commitment was
// created at, for coinbase maturity checks (§4.4 body validation rule 5).
func (t *TxHashSet) OutputCreatedHeight(c consensus.Commitment) (uint64, bool, error) {
	return t.positions.OutputCreatedHeight(c)
}

// OutputFeatures returns the features an unspent output's commitment was
// recorded with, for get_output_by_commitment (§7 coreapi).
func (t *TxHashSet) OutputFeatures(c consensus.Commitment) (consensus.OutputFeatures, bool, error) {
	return t.positions.OutputFeatures(c)
}

// KernelByExcess resolves an excess commitment to its full kernel, the
// height it was included at, and its kernel-mmr leaf position, for
// get_kernel_by_excess (§7 coreapi). The kernel mmr itself only stores leaf
// hashes, so the raw encoding is kept in the position index alongside it.
func (t *TxHashSet) KernelByExcess(excess consensus.Commitment) (consensus.Kernel, uint64, uint64, bool, error) {
	pos, ok, err := t.positions.KernelPosition(excess)
	if err != nil || !ok {
		return consensus.Kernel{}, 0, 0, false, err
	}
	height, ok, err := t.positions.KernelHeight(excess)
	if err != nil || !ok {
		return consensus.Kernel{}, 0, 0, false, err
	}
	data, ok, err := t.positions.KernelData(excess)
	if err != nil || !ok {
		return consensus.Kernel{}, 0, 0, false, err
	}
	var k consensus.Kernel
	if err := k.Read(bytes.NewReader(data)); err != nil {
		return consensus.Kernel{}, 0, 0, false, err
	}
	return k, height, pos, true, nil
}

// IsCoinbaseOutput reports whether the unspent output at c carries coinbase
// features. A commitment that is not currently a live output reports false.
func (t *TxHashSet) IsCoinbaseOutput(c consensus.Commitment) (bool, error) {
	features, ok, err := t.positions.OutputFeatures(c)
	if err != nil || !ok {
		return false, err
	}
	return features == consensus.CoinbaseOutput, nil
}

// Balance is the running commitment-sum accumulator behind I2, exposed so a
// fast-sync snapshot can carry the exact totals a recipient needs to check
// the equation without resumming every exported output and kernel (§3 I2).
type Balance struct {
	UnspentSum consensus.Commitment
	ExcessSum  consensus.Commitment
	OffsetSum  consensus.Commitment
	Supply     uint64
}

// CurrentBalance returns the running commitment-sum accumulator as of the
// current tip.
func (t *TxHashSet) CurrentBalance() Balance {
	s := t.state.snapshot()
	return Balance{UnspentSum: s.UnspentSum, ExcessSum: s.ExcessSum, OffsetSum: s.OffsetSum, Supply: s.Supply}
}

// ForEachLiveOutput calls fn for every currently unspent output, in
// commitment order, used by fast-sync export to walk the live state without
// replaying the full output mmr (§4.3 fast-sync producer).
func (t *TxHashSet) ForEachLiveOutput(fn func(c consensus.Commitment, position, createdHeight uint64, features consensus.OutputFeatures) error) error {
	return t.positions.ForEachOutput(fn)
}

// ForEachKernel calls fn for every kernel ever included on the canonical
// chain, in excess-commitment order. Kernels are never pruned, so a
// fast-sync snapshot carries the complete kernel history rather than a
// horizon-relative subset (§3).
func (t *TxHashSet) ForEachKernel(fn func(excess consensus.Commitment, position, height uint64, data []byte) error) error {
	return t.positions.ForEachKernel(fn)
}

// OutputPeaks returns the ordered peak hashes of the output mmr at its
// current size, the compact accumulator a fast-sync snapshot signs instead
// of the full mmr (§4.3).
func (t *TxHashSet) OutputPeaks() ([][]byte, uint64, error) {
	size := t.outputStore.Size()
	peaks, err := mmr.PeakHashes(t.outputStore, size)
	return peaks, size, err
}

// KernelPeaks returns the ordered peak hashes of the kernel mmr at its
// current size.
func (t *TxHashSet) KernelPeaks() ([][]byte, uint64, error) {
	size := t.kernelStore.Size()
	peaks, err := mmr.PeakHashes(t.kernelStore, size)
	return peaks, size, err
}

// CurrentRoots computes the three current MMR roots.
func (t *TxHashSet) CurrentRoots() (Roots, error) {
	size := t.outputStore.Size()
	if size != t.rangeproofStore.Size() {
		return Roots{}, ErrSizeMismatch
	}
	outRoot, err := mmr.Root(t.outputStore, hashing.New(), size)
	if err != nil {
		return Roots{}, err
	}
	rpRoot, err := mmr.Root(t.rangeproofStore, hashing.New(), size)
	if err != nil {
		return Roots{}, err
	}
	kSize := t.kernelStore.Size()
	kRoot, err := mmr.Root(t.kernelStore, hashing.New(), kSize)
	if err != nil {
		return Roots{}, err
	}

	var r Roots
	copy(r.OutputRoot[:], outRoot)
	copy(r.RangeproofRoot[:], rpRoot)
	copy(r.KernelRoot[:], kRoot)
	r.Size = size
	return r, nil
}
