package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

func TestValidateHeaderAcceptsWellFormedSuccessor(t *testing.T) {
	cfg := config.Default()
	parent := sampleHeader(0, consensus.Hash{})
	child := sampleHeader(1, headerHash(parent))
	child.TotalDifficulty = parent.TotalDifficulty * 2

	err := ValidateHeader(cfg, child, parent, child.Timestamp+1, AcceptAllPow{}, []consensus.Header{parent})
	require.NoError(t, err)
}

func TestValidateHeaderRejectsWrongHeight(t *testing.T) {
	cfg := config.Default()
	parent := sampleHeader(0, consensus.Hash{})
	child := sampleHeader(5, headerHash(parent))

	err := ValidateHeader(cfg, child, parent, child.Timestamp+1, AcceptAllPow{}, []consensus.Header{parent})
	require.ErrorIs(t, err, ErrBadHeight)
}

func TestValidateHeaderRejectsNonIncreasingTimestamp(t *testing.T) {
	cfg := config.Default()
	parent := sampleHeader(0, consensus.Hash{})
	child := sampleHeader(1, headerHash(parent))
	child.Timestamp = parent.Timestamp

	err := ValidateHeader(cfg, child, parent, child.Timestamp+1, AcceptAllPow{}, []consensus.Header{parent})
	require.ErrorIs(t, err, ErrBadTimestamp)
}

func TestValidateHeaderRejectsFutureTimestamp(t *testing.T) {
	cfg := config.Default()
	parent := sampleHeader(0, consensus.Hash{})
	child := sampleHeader(1, headerHash(parent))
	child.Timestamp = parent.Timestamp + cfg.MaxFutureSkewSeconds + 1000

	err := ValidateHeader(cfg, child, parent, parent.Timestamp+1, AcceptAllPow{}, []consensus.Header{parent})
	require.ErrorIs(t, err, ErrBadTimestamp)
}

func TestValidateHeaderRejectsInsufficientDifficulty(t *testing.T) {
	cfg := config.Default()
	parent := sampleHeader(0, consensus.Hash{})
	child := sampleHeader(1, headerHash(parent))
	child.TotalDifficulty = parent.TotalDifficulty // did not account for target

	err := ValidateHeader(cfg, child, parent, child.Timestamp+1, AcceptAllPow{}, []consensus.Header{parent})
	require.ErrorIs(t, err, ErrBadDifficulty)
}

func TestValidateBodyRejectsUnsortedOutputs(t *testing.T) {
	cfg := config.Default()
	deps := BodyValidationDeps{
		RangeProofs: cryptoadapt.NullRangeProofVerifier{},
		OutputHeight: func(consensus.Commitment) (uint64, bool, error) {
			return 0, false, nil
		},
		IsCoinbase: func(consensus.Commitment) (bool, error) { return false, nil },
	}

	var a, b consensus.Commitment
	a[0], b[0] = 2, 1 // deliberately out of canonical order
	body := consensus.Body{
		Outputs: consensus.OutputList{
			{Commitment: a, RangeProof: []byte{1}},
			{Commitment: b, RangeProof: []byte{1}},
		},
	}
	block := consensus.Block{Header: consensus.Header{Height: 1}, Body: body}

	err := ValidateBody(cfg, deps, 0, block)
	require.ErrorIs(t, err, ErrUnsorted)
}

func TestValidateBodyRejectsImmatureCoinbaseSpend(t *testing.T) {
	cfg := config.Default()
	var spent consensus.Commitment
	spent[0] = 7

	deps := BodyValidationDeps{
		RangeProofs: cryptoadapt.NullRangeProofVerifier{},
		OutputHeight: func(consensus.Commitment) (uint64, bool, error) {
			return 10, true, nil // created at height 10
		},
		IsCoinbase: func(consensus.Commitment) (bool, error) { return true, nil },
	}

	body := consensus.Body{Inputs: consensus.InputList{{Commitment: spent}}}
	block := consensus.Block{Header: consensus.Header{Height: 20}, Body: body}

	// tipHeight=19 (spending at height 20): 19+1-10 = 10 confirmations, well
	// short of the default 1440-block coinbase maturity.
	err := ValidateBody(cfg, deps, 19, block)
	require.ErrorIs(t, err, ErrCoinbaseImmature)
}

func TestValidateBodyAcceptsMatureCoinbaseSpend(t *testing.T) {
	cfg := config.New(config.WithCoinbaseMaturity(5))
	var spent consensus.Commitment
	spent[0] = 7

	deps := BodyValidationDeps{
		RangeProofs: cryptoadapt.NullRangeProofVerifier{},
		OutputHeight: func(consensus.Commitment) (uint64, bool, error) {
			return 10, true, nil
		},
		IsCoinbase: func(consensus.Commitment) (bool, error) { return true, nil },
	}

	body := consensus.Body{Inputs: consensus.InputList{{Commitment: spent}}}
	block := consensus.Block{Header: consensus.Header{Height: 20}, Body: body}

	// tipHeight=19: 19+1-10 = 10 >= maturity of 5.
	err := ValidateBody(cfg, deps, 19, block)
	require.NoError(t, err)
}

func TestValidateBodyRejectsUnreachedLockHeight(t *testing.T) {
	cfg := config.Default()
	deps := BodyValidationDeps{
		RangeProofs: cryptoadapt.NullRangeProofVerifier{},
		OutputHeight: func(consensus.Commitment) (uint64, bool, error) {
			return 0, false, nil
		},
		IsCoinbase: func(consensus.Commitment) (bool, error) { return false, nil },
	}

	blind := randBlind(t)
	sig, err := cryptoadapt.SignKernel(blind, 0, 100)
	require.NoError(t, err)
	excess, err := cryptoadapt.Commit(blind, 0)
	require.NoError(t, err)

	body := consensus.Body{Kernels: consensus.KernelList{{
		Features:         consensus.HeightLockedKernel,
		LockHeight:       100,
		ExcessCommitment: excess,
		ExcessSignature:  sig,
	}}}
	block := consensus.Block{Header: consensus.Header{Height: 50}, Body: body}

	err = ValidateBody(cfg, deps, 50, block)
	require.ErrorIs(t, err, ErrHeightLocked)
}
