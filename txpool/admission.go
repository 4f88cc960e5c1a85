package txpool

import (
	"fmt"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

// ChainView is the read-only slice of chain state admission needs: whether
// an input resolves to a live UTXO, and coinbase maturity data for it. The
// pool never mutates chain state; txhashset.TxHashSet and chain.HeaderStore
// satisfy this through thin method-value adapters at the call site.
type ChainView interface {
	OutputExists(commitment consensus.Commitment) (bool, error)
	OutputCreatedHeight(commitment consensus.Commitment) (uint64, bool, error)
	IsCoinbaseOutput(commitment consensus.Commitment) (bool, error)
	TipHeight() uint64
}

// validateIsolated checks a transaction against itself alone: sortedness,
// no duplicate outputs, every kernel signature, every rangeproof, and that
// at least one kernel carries a nonzero fee (§4.5 Admission bullet 1).
func (p *Pool) validateIsolated(tx consensus.Transaction) error {
	body := tx.Body
	if err := consensus.VerifySorted(body.Inputs, body.Outputs, body.Kernels); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsorted, err)
	}
	if err := consensus.VerifyNoDuplicateOutputs(body.Outputs); err != nil {
		return fmt.Errorf("%w: %v", ErrDuplicateOutput, err)
	}
	if Weight(body) > p.cfg.MaxTxWeight {
		return fmt.Errorf("%w: weight %d > max %d", ErrOversizedTx, Weight(body), p.cfg.MaxTxWeight)
	}

	var fee uint64
	for _, k := range body.Kernels {
		ok, err := cryptoadapt.VerifyKernelSignature(k.ExcessCommitment, k.Fee, k.LockHeight, k.ExcessSignature)
		if err != nil || !ok {
			return fmt.Errorf("%w: excess %s", ErrBadKernelSig, k.ExcessCommitment)
		}
		fee += k.Fee
	}
	if fee == 0 {
		return ErrNoFee
	}

	for _, out := range body.Outputs {
		if !p.rangeProofs.Verify(out.Commitment, out.RangeProof) {
			return fmt.Errorf("%w: commitment %s", ErrBadRangeProof, out.Commitment)
		}
	}
	return nil
}

// validateAgainstTip checks every input resolves against the live UTXO set
// and respects coinbase maturity (§4.5 Admission bullet 2).
func (p *Pool) validateAgainstTip(body consensus.Body) error {
	tip := p.view.TipHeight()
	for _, in := range body.Inputs {
		exists, err := p.view.OutputExists(in.Commitment)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrUnknownInput, in.Commitment)
		}
		isCoinbase, err := p.view.IsCoinbaseOutput(in.Commitment)
		if err != nil {
			return err
		}
		if !isCoinbase {
			continue
		}
		originHeight, ok, err := p.view.OutputCreatedHeight(in.Commitment)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if tip+1-originHeight < p.cfg.CoinbaseMaturity {
			return fmt.Errorf("%w: origin height %d, tip+1 %d, maturity %d", ErrCoinbaseImmature, originHeight, tip+1, p.cfg.CoinbaseMaturity)
		}
	}
	return nil
}
