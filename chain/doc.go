// Package chain implements the block-acceptance pipeline: header and body
// validation, the per-block state machine, the orphan cache, and reorg
// handling against a txhashset.TxHashSet (§4.4).
package chain

import "errors"

var (
	ErrBadVersion        = errors.New("chain: header version out of accepted range")
	ErrBadHeight         = errors.New("chain: height is not prev height + 1")
	ErrBadTimestamp      = errors.New("chain: timestamp not strictly after parent or too far in the future")
	ErrBadDifficulty     = errors.New("chain: difficulty target does not match recomputed target")
	ErrBadProofOfWork     = errors.New("chain: proof of work does not verify under the declared edge bits")
	ErrBadPrevRoot       = errors.New("chain: prev_root does not match the header mmr at the parent")
	ErrUnsorted          = errors.New("chain: body is not canonically sorted")
	ErrBadKernelSig      = errors.New("chain: kernel signature does not verify")
	ErrBadRangeProof     = errors.New("chain: rangeproof does not verify")
	ErrCoinbaseImmature  = errors.New("chain: input spends a coinbase output before maturity")
	ErrHeightLocked      = errors.New("chain: kernel lock_height has not been reached")
	ErrDuplicateCommitment = errors.New("chain: output commitment already unspent")
	ErrUnknownParent     = errors.New("chain: parent header is unknown")
	ErrOrphan            = errors.New("chain: block's parent has not been seen")
	ErrReorgTooDeep      = errors.New("chain: candidate branch forks deeper than the configured fork horizon")
	ErrMissingBranchData = errors.New("chain: a block body needed to replay this branch is not cached")
)
