// Package fastsync exports and imports horizon-anchored snapshots of the
// authenticated chain state, so a new or far-behind peer can adopt a recent
// height as its starting point instead of replaying every block back to
// genesis (§4.3 fast-sync producer/consumer, §8 scenario S6).
//
// A snapshot carries the live output set, the full kernel history, the mmr
// peak accumulators, and the running commitment-sum totals, wrapped in a
// COSE Sign1 message so an importer can authenticate it before trusting it.
package fastsync

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/hashing"
	"github.com/mwforge/chainstate/mmr"
	"github.com/mwforge/chainstate/txhashset"
)

// OutputRecord is one live output as carried in a snapshot: enough to
// restore posindex's live-output entry and to recompute the output mmr's
// peak accumulator check (§4.3).
type OutputRecord struct {
	Features      uint8  `cbor:"1,keyasint"`
	Commitment    []byte `cbor:"2,keyasint"`
	Position      uint64 `cbor:"3,keyasint"`
	CreatedHeight uint64 `cbor:"4,keyasint"`
}

// KernelRecord is one kernel, live or long since spent-around, as carried
// in a snapshot. Kernels are never pruned (§3), so a snapshot's kernel list
// is the complete kernel history up to the horizon, not a horizon-relative
// subset.
type KernelRecord struct {
	Features         uint8  `cbor:"1,keyasint"`
	Fee              uint64 `cbor:"2,keyasint"`
	LockHeight       uint64 `cbor:"3,keyasint"`
	ExcessCommitment []byte `cbor:"4,keyasint"`
	ExcessSignature  []byte `cbor:"5,keyasint"`
	Position         uint64 `cbor:"6,keyasint"`
	Height           uint64 `cbor:"7,keyasint"`
}

// Snapshot is the complete horizon-anchored chain state a fast-sync consumer
// adopts in place of replaying history (§4.3).
type Snapshot struct {
	// ID is a google/uuid-generated random identifier, stored as raw bytes
	// rather than the uuid.UUID array type so cbor encodes it as a byte
	// string instead of an array of sixteen small integers.
	ID []byte `cbor:"0,keyasint"`

	HorizonHeight uint64 `cbor:"1,keyasint"`
	HorizonHash   []byte `cbor:"2,keyasint"`

	OutputRoot     []byte `cbor:"3,keyasint"`
	RangeproofRoot []byte `cbor:"4,keyasint"`
	KernelRoot     []byte `cbor:"5,keyasint"`
	Size           uint64 `cbor:"6,keyasint"`

	// OutputPeaks/KernelPeaks are the ordered mmr peak hashes at Size and at
	// the kernel mmr's own size: the compact accumulators an importer bags
	// back into OutputRoot/KernelRoot without replaying the pruned tree
	// leaf-by-leaf (§4.3, mirroring how a header commits to a bagged root
	// rather than the full tree).
	OutputPeaks [][]byte `cbor:"7,keyasint"`
	KernelPeaks [][]byte `cbor:"8,keyasint"`
	KernelSize  uint64   `cbor:"9,keyasint"`

	UnspentSum []byte `cbor:"10,keyasint"`
	ExcessSum  []byte `cbor:"11,keyasint"`
	OffsetSum  []byte `cbor:"12,keyasint"`
	Supply     uint64 `cbor:"13,keyasint"`

	Outputs []OutputRecord `cbor:"14,keyasint"`
	Kernels []KernelRecord `cbor:"15,keyasint"`
}

// Export gathers the live output set, full kernel history, mmr peak
// accumulators and running balance as of state's current tip, anchored to
// horizon (the header this snapshot claims to reflect).
func Export(state *txhashset.TxHashSet, horizon consensus.Header) (*Snapshot, error) {
	roots, err := state.CurrentRoots()
	if err != nil {
		return nil, fmt.Errorf("fastsync: computing current roots: %w", err)
	}
	outPeaks, outSize, err := state.OutputPeaks()
	if err != nil {
		return nil, fmt.Errorf("fastsync: reading output mmr peaks: %w", err)
	}
	kernPeaks, kernSize, err := state.KernelPeaks()
	if err != nil {
		return nil, fmt.Errorf("fastsync: reading kernel mmr peaks: %w", err)
	}
	balance := state.CurrentBalance()

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("fastsync: generating snapshot id: %w", err)
	}

	snap := &Snapshot{
		ID:             id[:],
		HorizonHeight:  horizon.Height,
		OutputRoot:     roots.OutputRoot.Bytes(),
		RangeproofRoot: roots.RangeproofRoot.Bytes(),
		KernelRoot:     roots.KernelRoot.Bytes(),
		Size:           outSize,
		OutputPeaks:    outPeaks,
		KernelPeaks:    kernPeaks,
		KernelSize:     kernSize,
		UnspentSum:     balance.UnspentSum.Bytes(),
		ExcessSum:      balance.ExcessSum.Bytes(),
		OffsetSum:      balance.OffsetSum.Bytes(),
		Supply:         balance.Supply,
	}

	if err := state.ForEachLiveOutput(func(c consensus.Commitment, position, createdHeight uint64, features consensus.OutputFeatures) error {
		snap.Outputs = append(snap.Outputs, OutputRecord{
			Features:      uint8(features),
			Commitment:    append([]byte(nil), c.Bytes()...),
			Position:      position,
			CreatedHeight: createdHeight,
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("fastsync: walking live outputs: %w", err)
	}

	if err := state.ForEachKernel(func(excess consensus.Commitment, position, height uint64, data []byte) error {
		var k consensus.Kernel
		if err := k.Read(bytes.NewReader(data)); err != nil {
			return err
		}
		snap.Kernels = append(snap.Kernels, KernelRecord{
			Features:         uint8(k.Features),
			Fee:              k.Fee,
			LockHeight:       k.LockHeight,
			ExcessCommitment: append([]byte(nil), excess.Bytes()...),
			ExcessSignature:  append([]byte(nil), k.ExcessSignature...),
			Position:         position,
			Height:           height,
		})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("fastsync: walking kernel history: %w", err)
	}

	return snap, nil
}

// Sign cbor-encodes snapshot and wraps it in a signed COSE Sign1 message, so
// an importer can authenticate the producer before trusting the snapshot as
// a sync starting point (§4.3).
func Sign(snapshot *Snapshot, signer cose.Signer) ([]byte, error) {
	payload, err := cbor.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("fastsync: encoding snapshot: %w", err)
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{},
		},
		Payload: payload,
	}

	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("fastsync: signing snapshot: %w", err)
	}
	return msg.MarshalCBOR()
}

// ErrSignatureInvalid is returned by Open when the COSE signature does not
// verify against the supplied verifier.
var ErrSignatureInvalid = errors.New("fastsync: snapshot signature failed verification")

// Open verifies the COSE signature over a signed snapshot and, on success,
// decodes and returns the snapshot. Callers should still run Verify before
// adopting the result as chain state (§4.3).
func Open(data []byte, verifier cose.Verifier) (*Snapshot, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, fmt.Errorf("fastsync: decoding cose message: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	var snap Snapshot
	if err := cbor.Unmarshal(msg.Payload, &snap); err != nil {
		return nil, fmt.Errorf("fastsync: decoding snapshot payload: %w", err)
	}
	return &snap, nil
}

// peakStore adapts a flat list of peak hashes into an mmr.NodeGetter over
// just their peak positions, so mmr.Root can bag them back into a single
// root without needing the rest of the (pruned, never transmitted) tree.
type peakStore struct {
	size    uint64
	peakPos map[uint64]int
	peaks   [][]byte
}

func newPeakStore(size uint64, peaks [][]byte) (*peakStore, error) {
	positions := mmr.Peaks(size)
	if len(positions) != len(peaks) {
		return nil, fmt.Errorf("fastsync: expected %d peaks for mmr size %d, got %d", len(positions), size, len(peaks))
	}
	idx := make(map[uint64]int, len(positions))
	for i, p := range positions {
		idx[p-1] = i
	}
	return &peakStore{size: size, peakPos: idx, peaks: peaks}, nil
}

func (p *peakStore) Get(i uint64) ([]byte, error) {
	idx, ok := p.peakPos[i]
	if !ok {
		return nil, fmt.Errorf("fastsync: position %d is not a peak of the transmitted accumulator", i)
	}
	return p.peaks[idx], nil
}

// ErrRootMismatch reports that a snapshot's declared root does not match
// the root its own peak accumulator bags to.
var ErrRootMismatch = errors.New("fastsync: peak accumulator does not bag to the declared root")

// ErrBalanceMismatch reports that a snapshot's exported outputs and kernels
// do not sum to its declared running balance, meaning I2 would not hold for
// the imported state.
var ErrBalanceMismatch = errors.New("fastsync: exported outputs and kernels do not satisfy the commitment-sum equation")

// ErrKernelSignature reports a kernel in the snapshot whose signature does
// not verify against its own excess commitment.
var ErrKernelSignature = errors.New("fastsync: kernel signature failed verification")

// Verify checks a decoded snapshot's internal consistency: that the output
// and kernel peak accumulators bag to the declared roots, that every kernel
// signature verifies, and that the exported live outputs and kernels
// together satisfy the commitment-sum equation against the declared running
// balance (§3 I2, §4.3).
//
// Verify does not re-check rangeproofs: the snapshot carries only output
// commitments and mmr positions, not raw rangeproof bytes, because the
// rangeproof mmr itself never retains them either (only their hashes). A
// fast-sync consumer trusts that rangeproofs were checked when each output
// was first accepted onto the chain, the same trust boundary §4.2 pruning
// already draws for chunkstore-backed leaves.
func Verify(snap *Snapshot) error {
	outStore, err := newPeakStore(snap.Size, snap.OutputPeaks)
	if err != nil {
		return err
	}
	outRoot, err := mmr.Root(outStore, hashing.New(), snap.Size)
	if err != nil {
		return fmt.Errorf("fastsync: bagging output peaks: %w", err)
	}
	if !bytes.Equal(outRoot, snap.OutputRoot) {
		return ErrRootMismatch
	}

	kernStore, err := newPeakStore(snap.KernelSize, snap.KernelPeaks)
	if err != nil {
		return err
	}
	kernRoot, err := mmr.Root(kernStore, hashing.New(), snap.KernelSize)
	if err != nil {
		return fmt.Errorf("fastsync: bagging kernel peaks: %w", err)
	}
	if !bytes.Equal(kernRoot, snap.KernelRoot) {
		return ErrRootMismatch
	}

	unspentSum := consensus.ZeroCommitment
	for _, o := range snap.Outputs {
		var c consensus.Commitment
		if len(o.Commitment) != consensus.CommitmentSize {
			return fmt.Errorf("fastsync: output commitment has wrong length %d", len(o.Commitment))
		}
		copy(c[:], o.Commitment)
		sum, err := cryptoadapt.SumCommitments(unspentSum, c)
		if err != nil {
			return fmt.Errorf("fastsync: summing exported outputs: %w", err)
		}
		unspentSum = sum
	}
	var declaredUnspent consensus.Commitment
	copy(declaredUnspent[:], snap.UnspentSum)
	if !cryptoadapt.Equal(unspentSum, declaredUnspent) {
		return ErrBalanceMismatch
	}

	excessSum := consensus.ZeroCommitment
	for _, k := range snap.Kernels {
		var excess consensus.Commitment
		if len(k.ExcessCommitment) != consensus.CommitmentSize {
			return fmt.Errorf("fastsync: kernel excess has wrong length %d", len(k.ExcessCommitment))
		}
		copy(excess[:], k.ExcessCommitment)
		ok, err := cryptoadapt.VerifyKernelSignature(excess, k.Fee, k.LockHeight, k.ExcessSignature)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrKernelSignature, err)
		}
		if !ok {
			return ErrKernelSignature
		}
		sum, err := cryptoadapt.SumCommitments(excessSum, excess)
		if err != nil {
			return fmt.Errorf("fastsync: summing exported kernels: %w", err)
		}
		excessSum = sum
	}
	var declaredExcess consensus.Commitment
	copy(declaredExcess[:], snap.ExcessSum)
	if !cryptoadapt.Equal(excessSum, declaredExcess) {
		return ErrBalanceMismatch
	}

	var offsetSum consensus.Commitment
	copy(offsetSum[:], snap.OffsetSum)
	rhs, err := cryptoadapt.SumCommitments(declaredExcess, offsetSum, cryptoadapt.CommitValue(snap.Supply))
	if err != nil {
		return fmt.Errorf("fastsync: checking commitment-sum equation: %w", err)
	}
	if !cryptoadapt.Equal(declaredUnspent, rhs) {
		return ErrBalanceMismatch
	}

	return nil
}
