package chain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/consensus"
)

func sampleHeader(height uint64, prevHash consensus.Hash) consensus.Header {
	return consensus.Header{
		Version:         consensus.MinHeaderVersion,
		Height:          height,
		PrevHash:        prevHash,
		Timestamp:       1000 + int64(height),
		TotalDifficulty: height + 1,
	}
}

func TestHeaderStoreExtendAndTip(t *testing.T) {
	hs := openTestHeaders(t)

	genesis := sampleHeader(0, consensus.Hash{})
	require.NoError(t, hs.Extend(genesis, genesis.TotalDifficulty))

	tip, td, ok, err := hs.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis, tip)
	require.Equal(t, genesis.TotalDifficulty, td)

	h1 := sampleHeader(1, headerHash(genesis))
	require.NoError(t, hs.Extend(h1, h1.TotalDifficulty))

	tip, _, ok, err = hs.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h1, tip)

	byHeight, ok, err := hs.ByHeight(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis, byHeight)
}

func TestHeaderStoreRootAtHeightChangesAsChainGrows(t *testing.T) {
	hs := openTestHeaders(t)

	genesis := sampleHeader(0, consensus.Hash{})
	require.NoError(t, hs.Extend(genesis, genesis.TotalDifficulty))
	rootAtGenesis, err := hs.RootAtHeight(0)
	require.NoError(t, err)

	h1 := sampleHeader(1, headerHash(genesis))
	require.NoError(t, hs.Extend(h1, h1.TotalDifficulty))
	rootAtH1, err := hs.RootAtHeight(1)
	require.NoError(t, err)

	require.NotEqual(t, rootAtGenesis, rootAtH1)

	// The root at height 0 is unaffected by appending height 1.
	rootAtGenesisAgain, err := hs.RootAtHeight(0)
	require.NoError(t, err)
	require.Equal(t, rootAtGenesis, rootAtGenesisAgain)
}

func TestHeaderStoreRewindRestoresExactPriorRoot(t *testing.T) {
	hs := openTestHeaders(t)

	genesis := sampleHeader(0, consensus.Hash{})
	require.NoError(t, hs.Extend(genesis, genesis.TotalDifficulty))
	rootAtGenesis, err := hs.RootAtHeight(0)
	require.NoError(t, err)

	h1 := sampleHeader(1, headerHash(genesis))
	require.NoError(t, hs.Extend(h1, h1.TotalDifficulty))
	h2 := sampleHeader(2, headerHash(h1))
	require.NoError(t, hs.Extend(h2, h2.TotalDifficulty))

	require.NoError(t, hs.RewindTo(2, 0))

	tip, _, ok, err := hs.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis, tip)

	rootAfterRewind, err := hs.RootAtHeight(0)
	require.NoError(t, err)
	require.Equal(t, rootAtGenesis, rootAfterRewind)

	_, ok, err = hs.ByHeight(1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHeaderStorePutSideBranchDoesNotMoveTip(t *testing.T) {
	hs := openTestHeaders(t)

	genesis := sampleHeader(0, consensus.Hash{})
	require.NoError(t, hs.Extend(genesis, genesis.TotalDifficulty))

	side := sampleHeader(1, headerHash(genesis))
	side.Nonce = 99 // distinguish it from any canonical header at height 1
	require.NoError(t, hs.PutSideBranch(side, side.TotalDifficulty))

	tip, _, ok, err := hs.Tip()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, genesis, tip)

	stored, _, ok, err := hs.ByHash(headerHash(side))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, side, stored)
}
