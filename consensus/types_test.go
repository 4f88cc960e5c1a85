package consensus

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func commitmentFrom(b byte) Commitment {
	var c Commitment
	c[0] = b
	return c
}

func TestOutputListSortsByCommitment(t *testing.T) {
	outputs := OutputList{
		{Commitment: commitmentFrom(3)},
		{Commitment: commitmentFrom(1)},
		{Commitment: commitmentFrom(2)},
	}
	sort.Sort(outputs)
	require.True(t, sort.IsSorted(outputs))
	require.Equal(t, byte(1), outputs[0].Commitment[0])
	require.Equal(t, byte(3), outputs[2].Commitment[0])
}

func TestVerifySortedRejectsUnsorted(t *testing.T) {
	outputs := OutputList{
		{Commitment: commitmentFrom(3)},
		{Commitment: commitmentFrom(1)},
	}
	err := VerifySorted(nil, outputs, nil)
	require.ErrorIs(t, err, ErrBodyNotSorted)
}

func TestVerifyNoDuplicateOutputs(t *testing.T) {
	outputs := OutputList{{Commitment: commitmentFrom(1)}, {Commitment: commitmentFrom(1)}}
	require.Error(t, VerifyNoDuplicateOutputs(outputs))

	outputs = OutputList{{Commitment: commitmentFrom(1)}, {Commitment: commitmentFrom(2)}}
	require.NoError(t, VerifyNoDuplicateOutputs(outputs))
}

func TestOutputRoundTrip(t *testing.T) {
	out := Output{Features: CoinbaseOutput, Commitment: commitmentFrom(9), RangeProof: []byte{1, 2, 3}}
	var got Output
	require.NoError(t, got.Read(bytes.NewReader(out.Bytes())))
	require.Equal(t, out, got)
}

func TestKernelRoundTrip(t *testing.T) {
	k := Kernel{
		Features:         HeightLockedKernel,
		Fee:              7,
		LockHeight:       100,
		ExcessCommitment: commitmentFrom(4),
		ExcessSignature:  []byte{9, 9, 9},
	}
	var got Kernel
	require.NoError(t, got.Read(bytes.NewReader(k.Bytes())))
	require.Equal(t, k, got)
}

func TestBlockSubsidyDecaysToTailEmission(t *testing.T) {
	full := BlockSubsidy(0)
	require.Greater(t, full, TailEmissionPerBlock)
	require.Equal(t, TailEmissionPerBlock, BlockSubsidy(MineableCap))
}
