package chain

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/txhashset"
)

func testLogger() logger.Logger {
	return logger.Sugar.WithServiceName("chain_test")
}

func randBlind(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func openTestState(t *testing.T) *txhashset.TxHashSet {
	t.Helper()
	set, err := txhashset.Open(filepath.Join(t.TempDir(), "txhashset"), 3, cryptoadapt.NullRangeProofVerifier{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })
	return set
}

func openTestHeaders(t *testing.T) *HeaderStore {
	t.Helper()
	hs, err := OpenHeaderStore(t.TempDir(), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hs.Close() })
	return hs
}

func newTestPipeline(t *testing.T, cfg config.Config, state *txhashset.TxHashSet, headers *HeaderStore) *Pipeline {
	t.Helper()
	return NewPipeline(cfg, headers, state, AcceptAllPow{}, cryptoadapt.NullRangeProofVerifier{}, testLogger())
}

// coinbaseBody builds a single-coinbase-output body that balances the
// commitment-sum equation with a zero kernel offset when it is the first
// block applied to an empty state.
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

// buildGenesis builds a self-consistent height-0 block against state, which
// must be freshly opened and empty.
func buildGenesis(t *testing.T, state *txhashset.TxHashSet, body consensus.Body) consensus.Block {
	t.Helper()
	roots, err := state.CandidateRoots(body)
	require.NoError(t, err)

	block := consensus.Block{
		Header: consensus.Header{
			Version:         consensus.MinHeaderVersion,
			Height:          0,
			Timestamp:       1000,
			OutputRoot:      roots.OutputRoot,
			RangeproofRoot:  roots.RangeproofRoot,
			KernelRoot:      roots.KernelRoot,
			TotalDifficulty: 1,
		},
		Body: body,
	}
	block.Sort()
	return block
}

// buildNext builds a block extending parent against state (which must
// already hold every block up to and including parent) and headers (which
// must already have parent as its canonical header at parent.Height),
// doubling total difficulty so it clears AcceptAllPow's retarget under
// ValidateHeader.
func buildNext(t *testing.T, state *txhashset.TxHashSet, headers *HeaderStore, parent consensus.Header, body consensus.Body) consensus.Block {
	t.Helper()
	roots, err := state.CandidateRoots(body)
	require.NoError(t, err)
	prevRoot, err := headers.RootAtHeight(parent.Height)
	require.NoError(t, err)

	block := consensus.Block{
		Header: consensus.Header{
			Version:         consensus.MinHeaderVersion,
			Height:          parent.Height + 1,
			PrevHash:        headerHash(parent),
			PrevRoot:        prevRoot,
			Timestamp:       parent.Timestamp + 1,
			OutputRoot:      roots.OutputRoot,
			RangeproofRoot:  roots.RangeproofRoot,
			KernelRoot:      roots.KernelRoot,
			TotalDifficulty: parent.TotalDifficulty * 2,
		},
		Body: body,
	}
	block.Sort()
	return block
}
