package txpool

import (
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/hashing"
)

// Source distinguishes how a candidate transaction arrived, which decides
// its stem/fluff routing on admission (§4.5 Admission/Stem path).
type Source int

const (
	SourceLocal Source = iota
	SourceStem
	SourceFluff
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceStem:
		return "stem"
	default:
		return "fluff"
	}
}

// PeerID names an outbound relay peer. The pool only ever treats it as an
// opaque routing key; the p2p layer that resolves and dials it is out of
// scope (§1 Non-goals).
type PeerID string

// Entry is one transaction staged in either pool.
type Entry struct {
	Hash            consensus.Hash
	Tx              consensus.Transaction
	Source          Source
	ReceivedAt      int64
	EmbargoDeadline int64 // only meaningful while the entry sits in the stempool
}

// TxHash returns the canonical hash of tx's body, used as the pool's lookup
// key. Kernel offsets are per-transaction until aggregation, so the offset
// is folded into the hash alongside the body.
func TxHash(tx consensus.Transaction) consensus.Hash {
	var out consensus.Hash
	copy(out[:], hashing.Sum256(tx.Offset[:], tx.Body.Bytes()))
	return out
}

// Weight is the simple per-entry cost the pool enforces max_tx_weight
// against: one unit per input, output and kernel.
func Weight(body consensus.Body) uint64 {
	return uint64(len(body.Inputs) + len(body.Outputs) + len(body.Kernels))
}

// commitments returns every commitment tx's body touches, input or output,
// used to maintain the reconciliation index.
func commitments(body consensus.Body) []consensus.Commitment {
	out := make([]consensus.Commitment, 0, len(body.Inputs)+len(body.Outputs))
	for _, in := range body.Inputs {
		out = append(out, in.Commitment)
	}
	for _, o := range body.Outputs {
		out = append(out, o.Commitment)
	}
	return out
}

func inputCommitments(body consensus.Body) []consensus.Commitment {
	out := make([]consensus.Commitment, 0, len(body.Inputs))
	for _, in := range body.Inputs {
		out = append(out, in.Commitment)
	}
	return out
}

func outputCommitments(body consensus.Body) []consensus.Commitment {
	out := make([]consensus.Commitment, 0, len(body.Outputs))
	for _, o := range body.Outputs {
		out = append(out, o.Commitment)
	}
	return out
}
