// Package txpool stages unconfirmed transactions for relay and block
// inclusion. It splits admission between a stempool (Dandelion stem-phase
// staging, each entry carrying an embargo deadline) and a mempool (ordinary
// relay), with a per-node epoch manager choosing a stem or fluff posture and
// an outbound relay peer for each epoch (§4.5).
package txpool

import "errors"

// Reasons a candidate transaction never makes it into either pool. These
// map onto §7's Pool(Conflict | Unknown UTXO | Expired) kind: rejection
// here is never fatal to the submitting peer.
var (
	ErrAlreadyKnown      = errors.New("txpool: transaction already staged")
	ErrUnsorted          = errors.New("txpool: inputs, outputs or kernels are not canonically sorted")
	ErrDuplicateOutput   = errors.New("txpool: duplicate output commitment within transaction")
	ErrBadKernelSig      = errors.New("txpool: kernel excess signature does not verify")
	ErrBadRangeProof     = errors.New("txpool: rangeproof does not verify")
	ErrNoFee             = errors.New("txpool: transaction carries no explicit fee")
	ErrUnknownInput      = errors.New("txpool: input commitment is not a known unspent output")
	ErrCoinbaseImmature  = errors.New("txpool: input spends a coinbase output before maturity")
	ErrConflict          = errors.New("txpool: commitment already staged by another pool entry")
	ErrOversizedTx       = errors.New("txpool: transaction exceeds max_tx_weight")
)
