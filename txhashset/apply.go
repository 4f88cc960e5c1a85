package txhashset

import (
	"bytes"
	"fmt"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/hashing"
	"github.com/mwforge/chainstate/mmr"
	"github.com/mwforge/chainstate/posindex"
)

// ApplyBlock applies block on top of the current state: resolves and spends
// inputs, appends outputs/rangeproofs/kernels, checks the three roots
// against header, and checks the commitment-sum equation (§4.3 apply_block).
// On any validation failure the store is left exactly as it was before the
// call — nothing is appended or spent.
func (t *TxHashSet) ApplyBlock(block consensus.Block) (Roots, error) {
	header := block.Header
	diff := BlockDiff{
		Height:          header.Height,
		PriorSize:       t.outputStore.Size(),
		PriorKernelSize: t.kernelStore.Size(),
		Prior:           t.state.snapshot(),
	}

	committed := false
	var spentPositions []uint64
	defer func() {
		if committed {
			return
		}
		// A rejected block must leave the store exactly as it was: undo
		// every spend and append made below before returning.
		for _, pos := range spentPositions {
			_ = t.outputStore.SetPresent(pos)
			_ = t.rangeproofStore.SetPresent(pos)
		}
		_ = t.outputStore.Truncate(diff.PriorSize)
		_ = t.rangeproofStore.Truncate(diff.PriorSize)
		_ = t.kernelStore.Truncate(diff.PriorKernelSize)
	}()

	batch := posindex.NewBatch()
	newUnspent := t.state.UnspentSum
	newExcess := t.state.ExcessSum

	// (a) resolve and spend inputs.
	for _, in := range block.Body.Inputs {
		pos, ok, err := t.positions.OutputPosition(in.Commitment)
		if err != nil {
			return Roots{}, err
		}
		if !ok {
			return Roots{}, fmt.Errorf("%w: %s", ErrUnknownInput, in.Commitment)
		}
		stored, err := t.outputStore.Get(pos)
		if err != nil {
			return Roots{}, err
		}
		want := hashing.OutputLeaf(byte(in.Features), in.Commitment[:])
		if !bytes.Equal(stored, want) {
			return Roots{}, ErrLeafHashMismatch
		}

		if err := t.outputStore.SetAbsent(pos); err != nil {
			return Roots{}, err
		}
		if err := t.rangeproofStore.SetAbsent(pos); err != nil {
			return Roots{}, err
		}
		spentPositions = append(spentPositions, pos)

		createdHeight, _, err := t.positions.OutputCreatedHeight(in.Commitment)
		if err != nil {
			return Roots{}, err
		}
		features, _, err := t.positions.OutputFeatures(in.Commitment)
		if err != nil {
			return Roots{}, err
		}

		diff.SpentOutputs = append(diff.SpentOutputs, spentOutputDiff{
			Commitment:    in.Commitment,
			Position:      pos,
			CreatedHeight: createdHeight,
			Features:      features,
		})
		batch.SpendOutput(in.Commitment, header.Height)

		neg, err := cryptoadapt.NegateCommitment(in.Commitment)
		if err != nil {
			return Roots{}, err
		}
		newUnspent, err = cryptoadapt.SumCommitments(newUnspent, neg)
		if err != nil {
			return Roots{}, err
		}
	}

	// (b) append outputs and rangeproofs in lockstep (I1).
	for _, out := range block.Body.Outputs {
		leaf := hashing.OutputLeaf(byte(out.Features), out.Commitment[:])
		outPos, _, err := mmr.AppendLeaf(t.outputStore, hashing.New(), leaf)
		if err != nil {
			return Roots{}, err
		}
		rpLeaf := hashing.RangeproofLeaf(out.RangeProof)
		if _, _, err := mmr.AppendLeaf(t.rangeproofStore, hashing.New(), rpLeaf); err != nil {
			return Roots{}, err
		}

		diff.NewOutputs = append(diff.NewOutputs, out.Commitment)
		batch.AddOutput(out.Commitment, outPos, header.Height, out.Features)

		newUnspent, err = cryptoadapt.SumCommitments(newUnspent, out.Commitment)
		if err != nil {
			return Roots{}, err
		}
	}

	// (c) append kernels; never pruned.
	for _, k := range block.Body.Kernels {
		leaf := hashing.KernelLeaf(byte(k.Features), k.Fee, k.LockHeight, k.ExcessCommitment[:], k.ExcessSignature)
		kPos, _, err := mmr.AppendLeaf(t.kernelStore, hashing.New(), leaf)
		if err != nil {
			return Roots{}, err
		}
		batch.AddKernel(k.ExcessCommitment, kPos, header.Height, k.Bytes())
		diff.NewKernels = append(diff.NewKernels, k.ExcessCommitment)

		newExcess, err = cryptoadapt.SumCommitments(newExcess, k.ExcessCommitment)
		if err != nil {
			return Roots{}, err
		}
	}

	// (d) compare roots against the header.
	roots, err := t.CurrentRoots()
	if err != nil {
		return Roots{}, err
	}
	if roots.OutputRoot != header.OutputRoot || roots.RangeproofRoot != header.RangeproofRoot || roots.KernelRoot != header.KernelRoot {
		return Roots{}, ErrRootMismatch
	}

	// (e) verify the commitment-sum equation (I2/J3).
	newOffset, err := cryptoadapt.SumCommitments(t.state.OffsetSum, mustCommitOffset(header.TotalKernelOffset))
	if err != nil {
		return Roots{}, err
	}
	newSupply := t.state.Supply + consensus.BlockSubsidy(t.state.Supply)

	lhs := newUnspent
	rhs, err := cryptoadapt.SumCommitments(newExcess, newOffset, cryptoadapt.CommitValue(newSupply))
	if err != nil {
		return Roots{}, err
	}
	if lhs != rhs {
		return Roots{}, ErrSumMismatch
	}

	if err := t.positions.Apply(batch); err != nil {
		return Roots{}, err
	}
	if err := t.diffs.Put(diff); err != nil {
		return Roots{}, err
	}

	t.state.UnspentSum = newUnspent
	t.state.ExcessSum = newExcess
	t.state.OffsetSum = newOffset
	t.state.Supply = newSupply
	if err := t.state.save(); err != nil {
		return Roots{}, err
	}

	committed = true
	return roots, nil
}

// CandidateRoots computes the mmr roots that would result from appending
// body's outputs, rangeproofs, and kernels on top of the current state, then
// rolls the append back. A block producer uses this to fill in a header
// template's roots before a miner solves its proof-of-work; it does not
// touch spent inputs, so it is only valid for bodies that add outputs and
// kernels without spending any (§4.3 block template).
func (t *TxHashSet) CandidateRoots(body consensus.Body) (Roots, error) {
	outSize := t.outputStore.Size()
	kSize := t.kernelStore.Size()

	appendErr := func() error {
		for _, out := range body.Outputs {
			leaf := hashing.OutputLeaf(byte(out.Features), out.Commitment[:])
			if _, _, err := mmr.AppendLeaf(t.outputStore, hashing.New(), leaf); err != nil {
				return err
			}
			rpLeaf := hashing.RangeproofLeaf(out.RangeProof)
			if _, _, err := mmr.AppendLeaf(t.rangeproofStore, hashing.New(), rpLeaf); err != nil {
				return err
			}
		}
		for _, k := range body.Kernels {
			leaf := hashing.KernelLeaf(byte(k.Features), k.Fee, k.LockHeight, k.ExcessCommitment[:], k.ExcessSignature)
			if _, _, err := mmr.AppendLeaf(t.kernelStore, hashing.New(), leaf); err != nil {
				return err
			}
		}
		return nil
	}()

	var roots Roots
	var rootsErr error
	if appendErr == nil {
		roots, rootsErr = t.CurrentRoots()
	}

	err := appendErr
	if err == nil {
		err = rootsErr
	}
	if terr := t.outputStore.Truncate(outSize); terr != nil && err == nil {
		err = terr
	}
	if terr := t.rangeproofStore.Truncate(outSize); terr != nil && err == nil {
		err = terr
	}
	if terr := t.kernelStore.Truncate(kSize); terr != nil && err == nil {
		err = terr
	}
	return roots, err
}

func mustCommitOffset(offset consensus.Scalar) consensus.Commitment {
	c, err := cryptoadapt.CommitOffset(offset)
	if err != nil {
		// A header only reaches apply_block after header validation has
		// parsed its scalar fields; an invalid offset here means a caller
		// skipped that step.
		panic(fmt.Sprintf("txhashset: invalid total kernel offset scalar: %v", err))
	}
	return c
}

// Rewind restores the three MMRs and the position index to the state they
// had when the block at targetHeight was the tip, undoing every block above
// it in strictly descending height order (§4.3 rewind, §8 Property 5).
func (t *TxHashSet) Rewind(currentHeight, targetHeight uint64) error {
	for h := currentHeight; h > targetHeight; h-- {
		diff, ok, err := t.diffs.Get(h)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoSavedDiff
		}

		if err := t.outputStore.Truncate(diff.PriorSize); err != nil {
			return err
		}
		if err := t.rangeproofStore.Truncate(diff.PriorSize); err != nil {
			return err
		}
		if err := t.kernelStore.Truncate(diff.PriorKernelSize); err != nil {
			return err
		}

		batch := posindex.NewBatch()
		for _, spent := range diff.SpentOutputs {
			batch.AddOutput(spent.Commitment, spent.Position, spent.CreatedHeight, spent.Features)
			if err := t.outputStore.SetPresent(spent.Position); err != nil {
				return err
			}
			if err := t.rangeproofStore.SetPresent(spent.Position); err != nil {
				return err
			}
		}
		for _, added := range diff.NewOutputs {
			batch.UnwindOutput(added)
		}
		for _, excess := range diff.NewKernels {
			batch.UnwindKernel(excess)
		}
		if err := t.positions.Apply(batch); err != nil {
			return err
		}

		t.state.UnspentSum = diff.Prior.UnspentSum
		t.state.ExcessSum = diff.Prior.ExcessSum
		t.state.OffsetSum = diff.Prior.OffsetSum
		t.state.Supply = diff.Prior.Supply
		if err := t.state.save(); err != nil {
			return err
		}
		if err := t.diffs.Delete(h); err != nil {
			return err
		}
	}
	return nil
}

// MerkleProof resolves commitment to its output-mmr position and produces a
// membership proof against the current output mmr (§4.3 merkle_proof).
func (t *TxHashSet) MerkleProof(commitment consensus.Commitment) ([][]byte, uint64, error) {
	pos, ok, err := t.positions.OutputPosition(commitment)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrUnknownInput
	}
	size := t.outputStore.Size()
	proof, err := mmr.InclusionProof(t.outputStore, size-1, pos)
	if err != nil {
		return nil, 0, err
	}
	return proof, pos, nil
}
