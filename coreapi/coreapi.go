// Package coreapi is the node's read/write facade: the operations a
// transport (REST, JSON-RPC, whatever a deployment wires up) would expose
// to wallets, miners and explorers. Transport itself is out of scope (§1
// Non-goals); this package is the boundary that transport would sit behind
// (§7).
package coreapi

import (
	"errors"
	"fmt"

	"github.com/mwforge/chainstate/blockstore"
	"github.com/mwforge/chainstate/chain"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/txhashset"
	"github.com/mwforge/chainstate/txpool"
)

// ErrNotFound is returned by every lookup method when the requested entity
// does not exist in the current chain state.
var ErrNotFound = errors.New("coreapi: not found")

// API composes the node's owned components into the handful of read and
// write operations an external caller needs.
type API struct {
	pipeline *chain.Pipeline
	state    *txhashset.TxHashSet
	pool     *txpool.Pool
	blocks   *blockstore.Store // optional; nil disables get_block by hash/height
}

// New builds a facade over an already-running node's components. blocks may
// be nil, in which case GetBlock always returns ErrNotFound.
func New(pipeline *chain.Pipeline, state *txhashset.TxHashSet, pool *txpool.Pool, blocks *blockstore.Store) *API {
	return &API{pipeline: pipeline, state: state, pool: pool, blocks: blocks}
}

// SubmitBlock runs block through the acceptance pipeline and, when it
// connects to the tip, reconciles the transaction pool against it so any
// now-included or now-conflicting entries are dropped (§4.5 Reconciliation).
func (a *API) SubmitBlock(block consensus.Block, now int64) (chain.Outcome, error) {
	outcome, err := a.pipeline.SubmitBlock(block, now)
	if outcome == chain.OutcomeConnected {
		a.pool.OnBlockConnected(block)
	}
	return outcome, err
}

// SubmitTransaction offers tx to the pool for admission, routing it by
// source into stem or fluff relay as the dandelion state machine decides
// (§4.5 Admission).
func (a *API) SubmitTransaction(tx consensus.Transaction, source txpool.Source, now int64) txpool.AdmitResult {
	return a.pool.Admit(tx, source, now)
}

// OutputLookup is the resolved answer to get_output_by_commitment: the
// output's features, its position in the output mmr, the height it was
// created at, and a membership proof that reaches the peak of the current
// output mmr holding it, not the bagged output root (§7).
type OutputLookup struct {
	Features    consensus.OutputFeatures
	Position    uint64
	BlockHeight uint64
	MerkleProof [][]byte
}

// GetOutputByCommitment resolves an unspent output's commitment to its
// features, position, creation height, and inclusion proof. A spent or
// never-created commitment reports ErrNotFound (§7).
func (a *API) GetOutputByCommitment(c consensus.Commitment) (OutputLookup, error) {
	exists, err := a.state.OutputExists(c)
	if err != nil {
		return OutputLookup{}, err
	}
	if !exists {
		return OutputLookup{}, ErrNotFound
	}
	features, ok, err := a.state.OutputFeatures(c)
	if err != nil {
		return OutputLookup{}, err
	}
	if !ok {
		return OutputLookup{}, ErrNotFound
	}
	height, ok, err := a.state.OutputCreatedHeight(c)
	if err != nil {
		return OutputLookup{}, err
	}
	if !ok {
		return OutputLookup{}, ErrNotFound
	}
	proof, pos, err := a.state.MerkleProof(c)
	if errors.Is(err, txhashset.ErrUnknownInput) {
		return OutputLookup{}, ErrNotFound
	}
	if err != nil {
		return OutputLookup{}, err
	}
	return OutputLookup{
		Features:    features,
		Position:    pos,
		BlockHeight: height,
		MerkleProof: proof,
	}, nil
}

// KernelLookup is the resolved answer to get_kernel_by_excess (§7).
type KernelLookup struct {
	Kernel      consensus.Kernel
	BlockHeight uint64
	MMRPosition uint64
}

// ErrOutOfRange reports a kernel found outside the caller's requested
// [minHeight, maxHeight] search window.
var ErrOutOfRange = errors.New("coreapi: kernel found outside requested height range")

// GetKernelByExcess resolves an excess commitment to its full kernel, block
// height, and kernel-mmr position, restricted to kernels included at a
// height within [minHeight, maxHeight] (§7). A zero maxHeight means no upper
// bound.
func (a *API) GetKernelByExcess(excess consensus.Commitment, minHeight, maxHeight uint64) (KernelLookup, error) {
	k, height, pos, ok, err := a.state.KernelByExcess(excess)
	if err != nil {
		return KernelLookup{}, err
	}
	if !ok {
		return KernelLookup{}, ErrNotFound
	}
	if height < minHeight || (maxHeight > 0 && height > maxHeight) {
		return KernelLookup{}, fmt.Errorf("%w: kernel at height %d, range [%d,%d]", ErrOutOfRange, height, minHeight, maxHeight)
	}
	return KernelLookup{Kernel: k, BlockHeight: height, MMRPosition: pos}, nil
}

// TxHashSetRoots returns the three current MMR roots (§7).
func (a *API) TxHashSetRoots() (txhashset.Roots, error) {
	return a.state.CurrentRoots()
}

// BlockLocator selects how GetBlock resolves a requested block: exactly one
// field should be set.
type BlockLocator struct {
	Hash       *consensus.Hash
	Height     *uint64
	Commitment *consensus.Commitment // an output commitment the block created
}

// GetBlock resolves a block by hash, height, or an output commitment it
// created (§7). Requires a wired block store; without one every call
// reports ErrNotFound.
func (a *API) GetBlock(locator BlockLocator) (consensus.Block, error) {
	if a.blocks == nil {
		return consensus.Block{}, ErrNotFound
	}
	switch {
	case locator.Hash != nil:
		block, ok, err := a.blocks.GetByHash(*locator.Hash)
		if err != nil {
			return consensus.Block{}, err
		}
		if !ok {
			return consensus.Block{}, ErrNotFound
		}
		return block, nil
	case locator.Height != nil:
		block, ok, err := a.blocks.GetByHeight(*locator.Height)
		if err != nil {
			return consensus.Block{}, err
		}
		if !ok {
			return consensus.Block{}, ErrNotFound
		}
		return block, nil
	case locator.Commitment != nil:
		block, ok, err := a.blocks.GetByOutputCommitment(*locator.Commitment)
		if err != nil {
			return consensus.Block{}, err
		}
		if !ok {
			return consensus.Block{}, ErrNotFound
		}
		return block, nil
	default:
		return consensus.Block{}, errors.New("coreapi: get_block locator has no field set")
	}
}
