package cryptoadapt

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/consensus"
)

func randBlind(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestCommitDeterministic(t *testing.T) {
	blind := randBlind(t)
	c1, err := Commit(blind, 100)
	require.NoError(t, err)
	c2, err := Commit(blind, 100)
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}

func TestCommitSumBalances(t *testing.T) {
	// r1*G + v*H  -  r1*G  -  v*H  ==  0, modelled as a 2-input sum check:
	// commit(r1, v) + negate(commit(r1, 0)) + negate(commit(0, v)) == Zero
	r1 := randBlind(t)
	zero := make([]byte, 32)

	whole, err := Commit(r1, 100)
	require.NoError(t, err)

	blindOnly, err := Commit(r1, 0)
	require.NoError(t, err)
	negBlindOnly, err := NegateCommitment(blindOnly)
	require.NoError(t, err)

	valueOnly := CommitValue(100)
	negValueOnly, err := NegateCommitment(valueOnly)
	require.NoError(t, err)

	sum, err := SumCommitments(whole, negBlindOnly, negValueOnly)
	require.NoError(t, err)

	identity, err := Commit(zero, 0)
	require.NoError(t, err)
	require.Equal(t, identity, sum)
}

func TestKernelSignatureRoundTrip(t *testing.T) {
	excessBlind := randBlind(t)
	sig, err := SignKernel(excessBlind, 10, 0)
	require.NoError(t, err)

	excess, err := Commit(excessBlind, 0)
	require.NoError(t, err)

	ok, err := VerifyKernelSignature(excess, 10, 0, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifyKernelSignature(excess, 11, 0, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNullRangeProofVerifier(t *testing.T) {
	var v NullRangeProofVerifier
	require.True(t, v.Verify(consensus.Commitment{}, []byte{1}))
	require.False(t, v.Verify(consensus.Commitment{}, nil))
}
