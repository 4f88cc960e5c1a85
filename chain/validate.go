package chain

import (
	"fmt"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/posindex"
)

// PowVerifier checks a header's declared proof-of-work solution against its
// edge-bits and difficulty target. Mining is out of scope; only the
// verification oracle is (§1 non-goals, §4.4 header validation rules 2-3).
type PowVerifier interface {
	Verify(header consensus.Header) (bool, error)
	// Target returns the recomputed difficulty target for a header given
	// its ancestry (the prior window of headers, oldest first).
	Target(ancestry []consensus.Header) uint64
}

// AcceptAllPow is a stand-in PowVerifier for tests and for chains running
// without real proof-of-work (e.g. a permissioned deployment); it accepts
// any solution and reports the parent's difficulty as the target.
type AcceptAllPow struct{}

func (AcceptAllPow) Verify(consensus.Header) (bool, error) { return true, nil }
func (AcceptAllPow) Target(ancestry []consensus.Header) uint64 {
	if len(ancestry) == 0 {
		return 1
	}
	return ancestry[len(ancestry)-1].TotalDifficulty
}

// ValidateHeader checks header against its parent per §4.4 header
// validation rules 1, 2, 3. prevRoot is the header-MMR root at the parent
// (rule 4) and is checked by the caller, which alone knows the header
// store's current root.
func ValidateHeader(cfg config.Config, header, prev consensus.Header, now int64, pow PowVerifier, ancestry []consensus.Header) error {
	if header.Version < consensus.MinHeaderVersion || header.Version > consensus.MaxHeaderVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, header.Version)
	}
	if header.Height != prev.Height+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrBadHeight, header.Height, prev.Height+1)
	}
	if header.Timestamp <= prev.Timestamp {
		return fmt.Errorf("%w: timestamp %d not after parent %d", ErrBadTimestamp, header.Timestamp, prev.Timestamp)
	}
	if header.Timestamp > now+cfg.MaxFutureSkewSeconds {
		return fmt.Errorf("%w: timestamp %d more than %ds ahead of %d", ErrBadTimestamp, header.Timestamp, cfg.MaxFutureSkewSeconds, now)
	}

	target := pow.Target(ancestry)
	if header.TotalDifficulty < prev.TotalDifficulty+target {
		return fmt.Errorf("%w: total difficulty %d does not account for target %d over parent %d", ErrBadDifficulty, header.TotalDifficulty, target, prev.TotalDifficulty)
	}
	ok, err := pow.Verify(header)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBadProofOfWork
	}
	return nil
}

// BodyValidationDeps are the oracles body validation needs but does not
// own: rangeproof and kernel-signature verification are genuinely opaque
// per §1, and output maturity/duplicate checks need the live position
// index and block heights.
type BodyValidationDeps struct {
	RangeProofs cryptoadapt.RangeProofVerifier
	Positions   *posindex.Index
	// OutputHeight returns the height an unspent output's commitment was
	// created at, used for coinbase maturity (rule 5).
	OutputHeight func(commitment consensus.Commitment) (uint64, bool, error)
	// IsCoinbase reports whether the stored output at commitment carries
	// coinbase features, used together with OutputHeight for rule 5.
	IsCoinbase func(commitment consensus.Commitment) (bool, error)
}

// ValidateBody checks everything in §4.4 body validation except the
// commitment-sum equation (rule 4), which txhashset.ApplyBlock checks as
// part of applying the block (it needs the running accumulator state that
// only the writer holds).
func ValidateBody(cfg config.Config, deps BodyValidationDeps, tipHeight uint64, block consensus.Block) error {
	body := block.Body

	if err := consensus.VerifySorted(body.Inputs, body.Outputs, body.Kernels); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsorted, err)
	}
	if err := consensus.VerifyNoDuplicateOutputs(body.Outputs); err != nil {
		return fmt.Errorf("%w: %v", ErrDuplicateCommitment, err)
	}

	for _, k := range body.Kernels {
		ok, err := cryptoadapt.VerifyKernelSignature(k.ExcessCommitment, k.Fee, k.LockHeight, k.ExcessSignature)
		if err != nil || !ok {
			return fmt.Errorf("%w: excess %s", ErrBadKernelSig, k.ExcessCommitment)
		}
		if k.Features == consensus.HeightLockedKernel && tipHeight < k.LockHeight {
			return fmt.Errorf("%w: lock_height %d > tip %d", ErrHeightLocked, k.LockHeight, tipHeight)
		}
	}

	for _, out := range body.Outputs {
		if !deps.RangeProofs.Verify(out.Commitment, out.RangeProof) {
			return fmt.Errorf("%w: commitment %s", ErrBadRangeProof, out.Commitment)
		}
	}

	for _, in := range body.Inputs {
		isCoinbase, err := deps.IsCoinbase(in.Commitment)
		if err != nil {
			return err
		}
		if !isCoinbase {
			continue
		}
		originHeight, ok, err := deps.OutputHeight(in.Commitment)
		if err != nil {
			return err
		}
		if !ok {
			continue // caught as ErrUnknownInput by txhashset.ApplyBlock
		}
		if tipHeight+1-originHeight < cfg.CoinbaseMaturity {
			return fmt.Errorf("%w: origin height %d, tip+1 %d, maturity %d", ErrCoinbaseImmature, originHeight, tipHeight+1, cfg.CoinbaseMaturity)
		}
	}

	return nil
}
