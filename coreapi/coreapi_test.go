package coreapi

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/blockstore"
	"github.com/mwforge/chainstate/chain"
	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/txhashset"
	"github.com/mwforge/chainstate/txpool"
)

func testLogger() logger.Logger {
	return logger.Sugar.WithServiceName("coreapi_test")
}

func randBlind(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// fakeView is a minimal txpool.ChainView backed directly by the txhashset
// and a fixed tip height, standing in for the small adapter a wiring layer
// would otherwise compose from txhashset.TxHashSet and chain.HeaderStore.
type fakeView struct {
	state *txhashset.TxHashSet
	tip   uint64
}

func (f fakeView) OutputExists(c consensus.Commitment) (bool, error)            { return f.state.OutputExists(c) }
func (f fakeView) OutputCreatedHeight(c consensus.Commitment) (uint64, bool, error) {
	return f.state.OutputCreatedHeight(c)
}
func (f fakeView) IsCoinbaseOutput(c consensus.Commitment) (bool, error) { return f.state.IsCoinbaseOutput(c) }
func (f fakeView) TipHeight() uint64                                     { return f.tip }

type fixedRelay struct{ peer txpool.PeerID }

func (r fixedRelay) SelectRelay() txpool.PeerID { return r.peer }

// testNode wires one pipeline, header store, txhashset, block store and
// pool together, mirroring what a node's startup code would assemble before
// handing the pieces to coreapi.New.
type testNode struct {
	cfg     config.Config
	state   *txhashset.TxHashSet
	headers *chain.HeaderStore
	blocks  *blockstore.Store
	pipe    *chain.Pipeline
	pool    *txpool.Pool
	api     *API
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	// Maturity 1 lets a test spend the genesis coinbase while the pool's
	// view reports a tip at height 0.
	cfg := config.New(config.WithCoinbaseMaturity(1))

	state, err := txhashset.Open(filepath.Join(t.TempDir(), "txhashset"), 3, cryptoadapt.NullRangeProofVerifier{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = state.Close() })

	headers, err := chain.OpenHeaderStore(t.TempDir(), 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = headers.Close() })

	blocks, err := blockstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blocks.Close() })

	pipe := chain.NewPipeline(cfg, headers, state, chain.AcceptAllPow{}, cryptoadapt.NullRangeProofVerifier{}, testLogger())
	pipe.SetBlockStore(blocks)

	pool := txpool.New(cfg, fakeView{state: state, tip: 0}, cryptoadapt.NullRangeProofVerifier{}, fixedRelay{peer: "relay"}, txpool.NullBroadcaster{}, testLogger(), 1000)

	api := New(pipe, state, pool, blocks)
	return &testNode{cfg: cfg, state: state, headers: headers, blocks: blocks, pipe: pipe, pool: pool, api: api}
}

// coinbaseGenesis builds a self-consistent height-0 block with a single
// coinbase output, the same shape chain's own tests build.
func coinbaseGenesis(t *testing.T, state *txhashset.TxHashSet) (consensus.Block, []byte) {
	t.Helper()
	reward := consensus.BlockSubsidy(0)
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
		Inputs: consensus.InputList{},
	}

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
	return block, blind
}

func TestSubmitBlockThenGetOutputByCommitment(t *testing.T) {
	node := newTestNode(t)
	block, _ := coinbaseGenesis(t, node.state)

	outcome, err := node.api.SubmitBlock(block, 1000)
	require.NoError(t, err)
	require.Equal(t, chain.OutcomeConnected, outcome)

	commitment := block.Body.Outputs[0].Commitment
	lookup, err := node.api.GetOutputByCommitment(commitment)
	require.NoError(t, err)
	require.Equal(t, consensus.CoinbaseOutput, lookup.Features)
	require.Equal(t, uint64(0), lookup.BlockHeight)
	// The genesis output is the output mmr's only node, so it is its own
	// peak and its proof holds no sibling hashes.
	require.Equal(t, uint64(0), lookup.Position)
	require.Empty(t, lookup.MerkleProof)
}

func TestGetOutputByCommitmentUnknownReturnsNotFound(t *testing.T) {
	node := newTestNode(t)
	_, err := node.api.GetOutputByCommitment(consensus.Commitment{0xff})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetKernelByExcessRoundTripsAndRespectsHeightRange(t *testing.T) {
	node := newTestNode(t)
	block, _ := coinbaseGenesis(t, node.state)

	outcome, err := node.api.SubmitBlock(block, 1000)
	require.NoError(t, err)
	require.Equal(t, chain.OutcomeConnected, outcome)

	excess := block.Body.Kernels[0].ExcessCommitment

	lookup, err := node.api.GetKernelByExcess(excess, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), lookup.BlockHeight)
	require.Equal(t, block.Body.Kernels[0].ExcessCommitment, lookup.Kernel.ExcessCommitment)

	_, err = node.api.GetKernelByExcess(excess, 1, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestGetKernelByExcessUnknownReturnsNotFound(t *testing.T) {
	node := newTestNode(t)
	_, err := node.api.GetKernelByExcess(consensus.Commitment{0xee}, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTxHashSetRootsMatchesSubmittedGenesis(t *testing.T) {
	node := newTestNode(t)
	block, _ := coinbaseGenesis(t, node.state)

	_, err := node.api.SubmitBlock(block, 1000)
	require.NoError(t, err)

	roots, err := node.api.TxHashSetRoots()
	require.NoError(t, err)
	require.Equal(t, block.Header.OutputRoot, roots.OutputRoot)
	require.Equal(t, block.Header.KernelRoot, roots.KernelRoot)
}

func TestGetBlockByHashHeightAndCommitment(t *testing.T) {
	node := newTestNode(t)
	block, _ := coinbaseGenesis(t, node.state)

	outcome, err := node.api.SubmitBlock(block, 1000)
	require.NoError(t, err)
	require.Equal(t, chain.OutcomeConnected, outcome)

	hash := chain.HeaderHash(block.Header)
	byHash, err := node.api.GetBlock(BlockLocator{Hash: &hash})
	require.NoError(t, err)
	require.Equal(t, block.Header.Height, byHash.Header.Height)
	require.Len(t, byHash.Body.Outputs, 1)

	height := uint64(0)
	byHeight, err := node.api.GetBlock(BlockLocator{Height: &height})
	require.NoError(t, err)
	require.Equal(t, hash, chain.HeaderHash(byHeight.Header))

	commitment := block.Body.Outputs[0].Commitment
	byCommitment, err := node.api.GetBlock(BlockLocator{Commitment: &commitment})
	require.NoError(t, err)
	require.Equal(t, hash, chain.HeaderHash(byCommitment.Header))
}

func TestGetBlockUnknownHashReturnsNotFound(t *testing.T) {
	node := newTestNode(t)
	var hash consensus.Hash
	hash[0] = 0xab
	_, err := node.api.GetBlock(BlockLocator{Hash: &hash})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetBlockWithoutBlockStoreReturnsNotFound(t *testing.T) {
	node := newTestNode(t)
	api := New(node.pipe, node.state, node.pool, nil)
	var hash consensus.Hash
	_, err := api.GetBlock(BlockLocator{Hash: &hash})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitTransactionDelegatesToPool(t *testing.T) {
	node := newTestNode(t)
	block, _ := coinbaseGenesis(t, node.state)

	outcome, err := node.api.SubmitBlock(block, 1000)
	require.NoError(t, err)
	require.Equal(t, chain.OutcomeConnected, outcome)

	inCommit := block.Body.Outputs[0].Commitment
	inValue := consensus.BlockSubsidy(0)
	fee := uint64(10)

	outBlind := randBlind(t)
	outCommit, err := cryptoadapt.Commit(outBlind, inValue-fee)
	require.NoError(t, err)

	kernelBlind := randBlind(t)
	excessCommit, err := cryptoadapt.Commit(kernelBlind, 0)
	require.NoError(t, err)
	sig, err := cryptoadapt.SignKernel(kernelBlind, fee, 0)
	require.NoError(t, err)

	tx := consensus.Transaction{
		Body: consensus.Body{
			Inputs:  consensus.InputList{{Features: consensus.CoinbaseOutput, Commitment: inCommit}},
			Outputs: consensus.OutputList{{Features: consensus.PlainOutput, Commitment: outCommit, RangeProof: []byte{9}}},
			Kernels: consensus.KernelList{{Features: consensus.PlainKernel, Fee: fee, ExcessCommitment: excessCommit, ExcessSignature: sig}},
		},
	}
	tx.Sort()

	result := node.api.SubmitTransaction(tx, txpool.SourceLocal, 1001)
	require.True(t, result.Admitted)
	require.NoError(t, result.Err)
}
