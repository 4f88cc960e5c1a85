package txhashset

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/hashing"
	"github.com/mwforge/chainstate/mmr"
)

func randBlind(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func openTestSet(t *testing.T) *TxHashSet {
	t.Helper()
	set, err := Open(filepath.Join(t.TempDir(), "txhashset"), 3, cryptoadapt.NullRangeProofVerifier{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })
	return set
}

// coinbaseBody builds a single-coinbase-output body that balances the
// commitment-sum equation with a zero kernel offset when it is the first
// block applied to an empty set.
func coinbaseBody(t *testing.T) consensus.Body {
	t.Helper()
	return coinbaseBodyWithReward(t, consensus.BlockSubsidy(0))
}

// coinbaseBodyWithReward is coinbaseBody minting reward, which must be
// consensus.BlockSubsidy of the total minted by the blocks below it.
func coinbaseBodyWithReward(t *testing.T, reward uint64) consensus.Body {
	t.Helper()
	blind := randBlind(t)

	outCommit, err := cryptoadapt.Commit(blind, reward)
	require.NoError(t, err)
	excessCommit, err := cryptoadapt.Commit(blind, 0)
	require.NoError(t, err)
	sig, err := cryptoadapt.SignKernel(blind, 0, 0)
	require.NoError(t, err)

	body := consensus.Body{
		Outputs: consensus.OutputList{{
			Features:   consensus.CoinbaseOutput,
			Commitment: outCommit,
			RangeProof: []byte{1, 2, 3},
		}},
		Kernels: consensus.KernelList{{
			Features:         consensus.CoinbaseKernel,
			ExcessCommitment: excessCommit,
			ExcessSignature:  sig,
		}},
	}
	body.Inputs = consensus.InputList{}
	return body
}

// buildBlock replays every already-applied body in a scratch txhashset,
// appends body on top, and reads off the roots that produces — giving a
// self-consistent header for ApplyBlock to check without hand-deriving mmr
// roots in the test.
func buildBlock(t *testing.T, height uint64, priorBodies []consensus.Body, body consensus.Body) consensus.Block {
	t.Helper()
	scratch, err := Open(filepath.Join(t.TempDir(), "scratch"), 3, cryptoadapt.NullRangeProofVerifier{})
	require.NoError(t, err)
	defer scratch.Close()

	for _, prior := range append(append([]consensus.Body{}, priorBodies...), body) {
		for _, out := range prior.Outputs {
			_, _, err := mmr.AppendLeaf(scratch.outputStore, hashing.New(), hashing.OutputLeaf(byte(out.Features), out.Commitment[:]))
			require.NoError(t, err)
			_, _, err = mmr.AppendLeaf(scratch.rangeproofStore, hashing.New(), hashing.RangeproofLeaf(out.RangeProof))
			require.NoError(t, err)
		}
		for _, k := range prior.Kernels {
			_, _, err := mmr.AppendLeaf(scratch.kernelStore, hashing.New(), hashing.KernelLeaf(byte(k.Features), k.Fee, k.LockHeight, k.ExcessCommitment[:], k.ExcessSignature))
			require.NoError(t, err)
		}
	}
	roots, err := scratch.CurrentRoots()
	require.NoError(t, err)

	block := consensus.Block{
		Header: consensus.Header{
			Height:         height,
			OutputRoot:     roots.OutputRoot,
			RangeproofRoot: roots.RangeproofRoot,
			KernelRoot:     roots.KernelRoot,
		},
		Body: body,
	}
	block.Sort()
	return block
}

func TestApplyBlockGenesisCoinbaseBalances(t *testing.T) {
	set := openTestSet(t)
	block := buildBlock(t, 1, nil, coinbaseBody(t))

	roots, err := set.ApplyBlock(block)
	require.NoError(t, err)
	require.Equal(t, block.Header.OutputRoot, roots.OutputRoot)
}

func TestApplyBlockRejectsBadRoot(t *testing.T) {
	set := openTestSet(t)
	block := buildBlock(t, 1, nil, coinbaseBody(t))
	block.Header.OutputRoot[0] ^= 0xff

	_, err := set.ApplyBlock(block)
	require.ErrorIs(t, err, ErrRootMismatch)
}

func TestRewindRestoresPriorState(t *testing.T) {
	set := openTestSet(t)
	body1 := coinbaseBody(t)
	block1 := buildBlock(t, 1, nil, body1)
	_, err := set.ApplyBlock(block1)
	require.NoError(t, err)

	rootsAfter1, err := set.CurrentRoots()
	require.NoError(t, err)

	body2 := coinbaseBodyWithReward(t, consensus.BlockSubsidy(consensus.BlockSubsidy(0)))
	block2 := buildBlock(t, 2, []consensus.Body{body1}, body2)
	_, err = set.ApplyBlock(block2)
	require.NoError(t, err)

	require.NoError(t, set.Rewind(2, 1))

	rootsAfterRewind, err := set.CurrentRoots()
	require.NoError(t, err)
	require.Equal(t, rootsAfter1.OutputRoot, rootsAfterRewind.OutputRoot)
	require.Equal(t, rootsAfter1.KernelRoot, rootsAfterRewind.KernelRoot)
}
