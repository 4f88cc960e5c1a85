package txpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

func TestCutThroughRemovesMatchedCommitment(t *testing.T) {
	shared, _ := freshOutput(t, 10)
	other, _ := freshOutput(t, 20)

	inputs := consensus.InputList{{Commitment: shared}}
	outputs := consensus.OutputList{{Commitment: shared}, {Commitment: other}}

	keptInputs, keptOutputs := cutThrough(inputs, outputs)
	require.Empty(t, keptInputs)
	require.Len(t, keptOutputs, 1)
	require.Equal(t, other, keptOutputs[0].Commitment)
}

func TestCutThroughNoOverlapLeavesBothUnchanged(t *testing.T) {
	inCommit, _ := freshOutput(t, 10)
	outCommit, _ := freshOutput(t, 20)

	inputs := consensus.InputList{{Commitment: inCommit}}
	outputs := consensus.OutputList{{Commitment: outCommit}}

	keptInputs, keptOutputs := cutThrough(inputs, outputs)
	require.Equal(t, inputs, keptInputs)
	require.Equal(t, outputs, keptOutputs)
}

func TestAggregateSumsOffsets(t *testing.T) {
	a, err := randScalar(t)
	require.NoError(t, err)
	b, err := randScalar(t)
	require.NoError(t, err)

	entries := []*Entry{
		{Tx: consensus.Transaction{Offset: a}},
		{Tx: consensus.Transaction{Offset: b}},
	}
	agg, err := aggregate(entries)
	require.NoError(t, err)

	want, err := cryptoadapt.SumScalars(a, b)
	require.NoError(t, err)
	require.Equal(t, want, agg.Offset)
}

func randScalar(t *testing.T) (consensus.Scalar, error) {
	t.Helper()
	var s consensus.Scalar
	copy(s[:], randBlind(t))
	return s, nil
}
