package txpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
)

// TestReconcileDropsConnectedAndConflictingEntries covers Property 6: after
// a block connects, no pool entry may still share a commitment with any of
// its inputs or outputs.
func TestReconcileDropsConnectedAndConflictingEntries(t *testing.T) {
	view := newFakeView()
	includedIn, _ := freshOutput(t, 100)
	view.spendable[includedIn] = false
	survivorIn, _ := freshOutput(t, 50)
	view.spendable[survivorIn] = false

	p := newTestPool(t, config.Default(), view, nil, nil, 1000)

	included := spendTx(t, includedIn, 100, 1)
	res := p.Admit(included, SourceFluff, 1000)
	require.NoError(t, res.Err)

	survivor := spendTx(t, survivorIn, 50, 1)
	res = p.Admit(survivor, SourceFluff, 1001)
	require.NoError(t, res.Err)

	block := consensus.Block{
		Header: consensus.Header{Height: 7},
		Body: consensus.Body{
			Inputs:  consensus.InputList{included.Body.Inputs[0]},
			Outputs: consensus.OutputList{included.Body.Outputs[0]},
		},
	}

	result := p.OnBlockConnected(block)
	require.Equal(t, 1, result.Dropped)
	require.Equal(t, 1, result.Kept)
	require.Len(t, result.Conflicts, 1)

	mem, stem := p.Len()
	require.Equal(t, 1, mem)
	require.Equal(t, 0, stem)

	// The block spent includedIn on-chain, so the view no longer lists it
	// and a new spend of it fails the tip check.
	delete(view.spendable, includedIn)
	reuse := spendTx(t, includedIn, 100, 3)
	res = p.Admit(reuse, SourceFluff, 1002)
	require.ErrorIs(t, res.Err, ErrUnknownInput, "includedIn is spent on-chain now, so view must reject it directly")
}

func TestReconcileDropsStempoolEntryTooAndStempoolSurvivorKept(t *testing.T) {
	view := newFakeView()
	droppedIn, _ := freshOutput(t, 100)
	view.spendable[droppedIn] = false
	keptIn, _ := freshOutput(t, 50)
	view.spendable[keptIn] = false

	p := newTestPool(t, config.Default(), view, fixedRelay{peer: "relay-a"}, nil, 1000)

	dropped := spendTx(t, droppedIn, 100, 1)
	res := p.Admit(dropped, SourceStem, 1000)
	require.NoError(t, res.Err)

	kept := spendTx(t, keptIn, 50, 1)
	res = p.Admit(kept, SourceStem, 1001)
	require.NoError(t, res.Err)

	block := consensus.Block{
		Body: consensus.Body{Inputs: consensus.InputList{dropped.Body.Inputs[0]}},
	}
	result := p.OnBlockConnected(block)
	require.Equal(t, 1, result.Dropped)

	mem, stem := p.Len()
	require.Equal(t, 0, mem)
	require.Equal(t, 1, stem)
}
