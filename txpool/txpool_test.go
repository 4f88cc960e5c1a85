package txpool

import (
	"crypto/rand"
	"testing"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

func testLogger() logger.Logger {
	return logger.Sugar.WithServiceName("txpool_test")
}

func randBlind(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 32)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// fakeView is a ChainView stub: every commitment in spendable is a known
// UTXO whose map value says whether it is a coinbase output; everything
// else is unknown.
type fakeView struct {
	tip        uint64
	spendable  map[consensus.Commitment]bool // value is "is coinbase"
	originHeight map[consensus.Commitment]uint64
}

func newFakeView() *fakeView {
	return &fakeView{
		spendable:    make(map[consensus.Commitment]bool),
		originHeight: make(map[consensus.Commitment]uint64),
	}
}

func (v *fakeView) OutputExists(c consensus.Commitment) (bool, error) {
	_, ok := v.spendable[c]
	return ok, nil
}

func (v *fakeView) OutputCreatedHeight(c consensus.Commitment) (uint64, bool, error) {
	h, ok := v.originHeight[c]
	return h, ok, nil
}

func (v *fakeView) IsCoinbaseOutput(c consensus.Commitment) (bool, error) {
	return v.spendable[c], nil
}

func (v *fakeView) TipHeight() uint64 { return v.tip }

// fixedRelay always selects the same peer, keeping dandelion epoch routing
// deterministic in tests.
type fixedRelay struct{ peer PeerID }

func (f fixedRelay) SelectRelay() PeerID { return f.peer }

// recordingBroadcaster captures every stem/broadcast send for assertions.
type recordingBroadcaster struct {
	stems      []consensus.Transaction
	broadcasts []consensus.Transaction
}

func (r *recordingBroadcaster) SendStem(tx consensus.Transaction, _ PeerID) error {
	r.stems = append(r.stems, tx)
	return nil
}

func (r *recordingBroadcaster) Broadcast(tx consensus.Transaction) error {
	r.broadcasts = append(r.broadcasts, tx)
	return nil
}

// spendTx builds a single-input, single-output, single-kernel transaction
// spending inCommit for inValue, paying fee and returning the rest to a
// fresh output. The kernel signature verifies; the commitment-sum equation
// is not balanced, since the pool never checks it (that's the chain's job).
func spendTx(t *testing.T, inCommit consensus.Commitment, inValue, fee uint64) consensus.Transaction {
	t.Helper()
	outBlind := randBlind(t)
	outCommit, err := cryptoadapt.Commit(outBlind, inValue-fee)
	require.NoError(t, err)

	kernelBlind := randBlind(t)
	excess, err := cryptoadapt.Commit(kernelBlind, 0)
	require.NoError(t, err)
	sig, err := cryptoadapt.SignKernel(kernelBlind, fee, 0)
	require.NoError(t, err)

	tx := consensus.Transaction{
		Body: consensus.Body{
			Inputs:  consensus.InputList{{Features: consensus.PlainOutput, Commitment: inCommit}},
			Outputs: consensus.OutputList{{Features: consensus.PlainOutput, Commitment: outCommit, RangeProof: []byte{1}}},
			Kernels: consensus.KernelList{{Features: consensus.PlainKernel, Fee: fee, ExcessCommitment: excess, ExcessSignature: sig}},
		},
	}
	tx.Sort()
	return tx
}

// chainedSpendTx builds a transaction spending an output created by a prior
// pool entry, identified by outCommit/outValue, producing its own fresh
// output so a second transaction can chain off of it in turn.
func chainedSpendTx(t *testing.T, outCommit consensus.Commitment, outValue, fee uint64) consensus.Transaction {
	t.Helper()
	return spendTx(t, outCommit, outValue, fee)
}

func freshOutput(t *testing.T, value uint64) (consensus.Commitment, []byte) {
	t.Helper()
	blind := randBlind(t)
	c, err := cryptoadapt.Commit(blind, value)
	require.NoError(t, err)
	return c, blind
}

func newTestPool(t *testing.T, cfg config.Config, view ChainView, relay PeerSelector, out Broadcaster, now int64) *Pool {
	t.Helper()
	if view == nil {
		view = newFakeView()
	}
	if relay == nil {
		relay = fixedRelay{peer: "peer-a"}
	}
	if out == nil {
		out = &recordingBroadcaster{}
	}
	return New(cfg, view, cryptoadapt.NullRangeProofVerifier{}, relay, out, testLogger(), now)
}
