package chain

import (
	"fmt"
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mwforge/chainstate/blockstore"
	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
	"github.com/mwforge/chainstate/txhashset"
)

// Outcome reports what happened to a submitted block (§4.4 "A block moves
// through Unknown -> HeaderValidated -> BodyValidated -> Connected |
// SideBranch | Orphan | Rejected").
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeOrphan
	OutcomeDuplicate
	OutcomeSideBranch
	OutcomeConnected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeOrphan:
		return "orphan"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeSideBranch:
		return "side_branch"
	case OutcomeConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ancestryWindowSize is how many prior canonical headers ValidateHeader's
// difficulty retarget gets to look at.
const ancestryWindowSize = 64

// Pipeline is the block-acceptance state machine. It owns the header store
// and the authenticated chain state, and is the only component allowed to
// mutate either (§4.4).
type Pipeline struct {
	cfg         config.Config
	headers     *HeaderStore
	state       *txhashset.TxHashSet
	pow         PowVerifier
	rangeProofs cryptoadapt.RangeProofVerifier
	orphans     *OrphanCache
	log         logger.Logger

	// blocks durably records every connected or side-branch block so
	// get_block can answer historical queries past the in-memory reorg
	// window below. Nil in tests that only exercise acceptance logic.
	blocks *blockstore.Store

	mu sync.Mutex

	// sideBlocks caches full blocks received on a non-canonical branch, so a
	// later reorg can replay them without a separate block-body store.
	sideBlocks map[consensus.Hash]consensus.Block

	// recentCanonical caches the last cfg.ForkHorizon+1 canonical blocks by
	// height, so an aborted reorg can restore the prior tip by replaying them
	// forward again (reorgs deeper than ForkHorizon are rejected outright, so
	// this cache never needs to hold more).
	recentCanonical map[uint64]consensus.Block
}

// NewPipeline builds a Pipeline over an already-open header store and chain
// state. rangeProofs must be the same verifier state was opened with.
func NewPipeline(cfg config.Config, headers *HeaderStore, state *txhashset.TxHashSet, pow PowVerifier, rangeProofs cryptoadapt.RangeProofVerifier, log logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:             cfg,
		headers:         headers,
		state:           state,
		pow:             pow,
		rangeProofs:     rangeProofs,
		orphans:         NewOrphanCache(cfg.MaxOrphans),
		log:             log,
		sideBlocks:      make(map[consensus.Hash]consensus.Block),
		recentCanonical: make(map[uint64]consensus.Block),
	}
}

// SetBlockStore wires a durable block store into the pipeline. Optional:
// a pipeline with no block store still accepts and validates blocks, it
// just can't answer get_block queries past its in-memory reorg window.
func (p *Pipeline) SetBlockStore(blocks *blockstore.Store) {
	p.blocks = blocks
}

// SubmitBlock runs block through the acceptance pipeline: header validation,
// parent resolution, body validation, and (for an extension of the current
// tip or a heavier side branch) state mutation. now is the caller's wall
// clock, threaded through rather than read internally so tests stay
// deterministic.
func (p *Pipeline) SubmitBlock(block consensus.Block, now int64) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := headerHash(block.Header)
	_, _, known, err := p.headers.ByHash(hash)
	if err != nil {
		return OutcomeRejected, err
	}
	if known {
		p.log.Debugf("submit_block: %x already known", hash)
		return OutcomeDuplicate, nil
	}

	var outcome Outcome
	if block.Header.Height == 0 {
		outcome, err = p.acceptGenesis(block, hash)
	} else {
		var parent consensus.Header
		var ok bool
		parent, _, ok, err = p.headers.ByHash(block.Header.PrevHash)
		if err != nil {
			return OutcomeRejected, err
		}
		if !ok {
			p.orphans.Add(block, block.Header.PrevHash)
			p.log.Infof("submit_block: %x orphaned, parent %x not seen", hash, block.Header.PrevHash)
			return OutcomeOrphan, nil
		}
		outcome, err = p.accept(block, hash, parent, now)
	}
	if err != nil {
		p.log.Infof("submit_block: %x rejected: %v", hash, err)
		return OutcomeRejected, err
	}

	if outcome == OutcomeConnected {
		p.reviveOrphans(hash, now)
	}
	return outcome, nil
}

// acceptGenesis connects the chain's first block, which has no parent
// header to validate against.
func (p *Pipeline) acceptGenesis(block consensus.Block, hash consensus.Hash) (Outcome, error) {
	if _, _, hasTip, err := p.headers.Tip(); err != nil {
		return OutcomeRejected, err
	} else if hasTip {
		return OutcomeRejected, fmt.Errorf("chain: genesis already set, got another height-0 block %x", hash)
	}
	return p.connectTip(block, hash, 0)
}

// accept validates block against its already-resolved parent and routes it
// to tip extension or side-branch handling.
func (p *Pipeline) accept(block consensus.Block, hash consensus.Hash, parent consensus.Header, now int64) (Outcome, error) {
	ancestry, err := p.ancestryWindow(parent.Height, ancestryWindowSize)
	if err != nil {
		return OutcomeRejected, err
	}

	if err := p.validateHeaderAgainstParent(block.Header, parent, ancestry, now); err != nil {
		return OutcomeRejected, err
	}

	tip, _, hasTip, err := p.headers.Tip()
	if err != nil {
		return OutcomeRejected, err
	}
	extendsTip := hasTip && headerHash(tip) == block.Header.PrevHash

	if extendsTip {
		return p.connectTip(block, hash, parent.Height)
	}
	return p.acceptSideBranch(block, hash)
}

// validateHeaderAgainstParent runs ValidateHeader and, only when parent is
// itself on the canonical chain, the header-mmr prev_root check (rule 4):
// a side branch's parent was never appended to the canonical header mmr, so
// there is no root to check it against (§4.4 simplification).
func (p *Pipeline) validateHeaderAgainstParent(header, parent consensus.Header, ancestry []consensus.Header, now int64) error {
	if err := ValidateHeader(p.cfg, header, parent, now, p.pow, ancestry); err != nil {
		return err
	}
	canonicalAtParentHeight, found, err := p.headers.ByHeight(parent.Height)
	if err != nil {
		return err
	}
	if !found || headerHash(canonicalAtParentHeight) != headerHash(parent) {
		return nil
	}
	wantRoot, err := p.headers.RootAtHeight(parent.Height)
	if err != nil {
		return err
	}
	if header.PrevRoot != wantRoot {
		return fmt.Errorf("%w: at height %d", ErrBadPrevRoot, parent.Height)
	}
	return nil
}

func (p *Pipeline) ancestryWindow(parentHeight uint64, n int) ([]consensus.Header, error) {
	var window []consensus.Header
	start := uint64(0)
	if parentHeight+1 > uint64(n) {
		start = parentHeight + 1 - uint64(n)
	}
	for h := start; h <= parentHeight; h++ {
		header, ok, err := p.headers.ByHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		window = append(window, header)
	}
	return window, nil
}

// connectTip applies block directly on top of the current chain state.
func (p *Pipeline) connectTip(block consensus.Block, hash consensus.Hash, tipHeight uint64) (Outcome, error) {
	deps := BodyValidationDeps{
		RangeProofs:  p.rangeProofs,
		OutputHeight: p.state.OutputCreatedHeight,
		IsCoinbase:   p.state.IsCoinbaseOutput,
	}
	if err := ValidateBody(p.cfg, deps, tipHeight, block); err != nil {
		return OutcomeRejected, err
	}
	if _, err := p.state.ApplyBlock(block); err != nil {
		return OutcomeRejected, err
	}
	if err := p.headers.Extend(block.Header, block.Header.TotalDifficulty); err != nil {
		// The state mutation already committed; the header store is now the
		// only inconsistent piece. There is no cheap way back from here
		// short of a process restart replaying from the diff log.
		return OutcomeRejected, fmt.Errorf("chain: state applied but header store rejected it: %w", err)
	}
	p.rememberCanonical(block.Header.Height, block)
	if p.blocks != nil {
		if err := p.blocks.Put(block, hash, true); err != nil {
			return OutcomeRejected, fmt.Errorf("chain: state applied but block store rejected it: %w", err)
		}
	}
	p.log.Infof("submit_block: %x connected at height %d", hash, block.Header.Height)
	return OutcomeConnected, nil
}

// acceptSideBranch stores block without touching chain state, and triggers a
// reorg if it makes the side branch heavier than the current tip.
func (p *Pipeline) acceptSideBranch(block consensus.Block, hash consensus.Hash) (Outcome, error) {
	if err := p.headers.PutSideBranch(block.Header, block.Header.TotalDifficulty); err != nil {
		return OutcomeRejected, err
	}
	p.sideBlocks[hash] = block
	if p.blocks != nil {
		if err := p.blocks.Put(block, hash, false); err != nil {
			return OutcomeRejected, err
		}
	}

	tip, tipTD, hasTip, err := p.headers.Tip()
	if err != nil {
		return OutcomeRejected, err
	}
	if hasTip && block.Header.TotalDifficulty <= tipTD {
		p.log.Debugf("submit_block: %x stored as side branch, total difficulty %d <= tip %d", hash, block.Header.TotalDifficulty, tipTD)
		return OutcomeSideBranch, nil
	}

	if err := p.reorgTo(hash, tip); err != nil {
		return OutcomeRejected, err
	}
	return OutcomeConnected, nil
}

// reorgTo switches the canonical chain to the branch ending at newTipHash,
// which must be heavier than oldTip. On any failure during replay the prior
// tip is restored and the error is returned (§4.4 reorg, §8 Property 5).
func (p *Pipeline) reorgTo(newTipHash consensus.Hash, oldTip consensus.Header) error {
	branch, forkHeight, err := p.branchBack(newTipHash)
	if err != nil {
		return err
	}
	if oldTip.Height-forkHeight > p.cfg.ForkHorizon {
		return fmt.Errorf("%w: fork at %d, tip at %d, horizon %d", ErrReorgTooDeep, forkHeight, oldTip.Height, p.cfg.ForkHorizon)
	}

	restore := make([]consensus.Block, 0, oldTip.Height-forkHeight)
	for h := forkHeight + 1; h <= oldTip.Height; h++ {
		b, ok := p.recentCanonical[h]
		if !ok {
			return fmt.Errorf("%w: canonical block at height %d not cached", ErrMissingBranchData, h)
		}
		restore = append(restore, b)
	}

	if err := p.state.Rewind(oldTip.Height, forkHeight); err != nil {
		return err
	}
	if err := p.headers.RewindTo(oldTip.Height, forkHeight); err != nil {
		return err
	}

	if err := p.replay(branch, forkHeight); err != nil {
		if restoreErr := p.restoreAfterFailedReorg(forkHeight, restore); restoreErr != nil {
			return fmt.Errorf("chain: reorg failed (%v) and restoring the prior tip also failed: %w", err, restoreErr)
		}
		return err
	}

	for _, b := range restore {
		delete(p.recentCanonical, b.Header.Height)
	}
	p.log.Infof("reorg: switched to %x at height %d, fork at %d", newTipHash, branch[len(branch)-1].Header.Height, forkHeight)
	return nil
}

// branchBack walks PrevHash pointers from tipHash back to the first header
// that is canonical at its own height (the fork point), returning the
// branch's blocks oldest-first and the fork height.
func (p *Pipeline) branchBack(tipHash consensus.Hash) ([]consensus.Block, uint64, error) {
	var reversed []consensus.Block
	hash := tipHash
	for {
		block, ok := p.sideBlocks[hash]
		if !ok {
			canonical, _, found, err := p.headers.ByHash(hash)
			if err != nil {
				return nil, 0, err
			}
			if !found {
				return nil, 0, fmt.Errorf("%w: %x", ErrMissingBranchData, hash)
			}
			return reverse(reversed), canonical.Height, nil
		}
		reversed = append(reversed, block)

		canonicalAtHeight, found, err := p.headers.ByHeight(block.Header.Height)
		if err != nil {
			return nil, 0, err
		}
		if found && headerHash(canonicalAtHeight) == hash {
			return reverse(reversed), block.Header.Height, nil
		}
		hash = block.Header.PrevHash
	}
}

func reverse(blocks []consensus.Block) []consensus.Block {
	out := make([]consensus.Block, len(blocks))
	for i, b := range blocks {
		out[len(blocks)-1-i] = b
	}
	return out
}

// replay applies branch's blocks in order starting from forkHeight, which
// must already be the tip of both p.state and p.headers.
func (p *Pipeline) replay(branch []consensus.Block, forkHeight uint64) error {
	tipHeight := forkHeight
	for _, b := range branch {
		deps := BodyValidationDeps{
			RangeProofs:  p.rangeProofs,
			OutputHeight: p.state.OutputCreatedHeight,
			IsCoinbase:   p.state.IsCoinbaseOutput,
		}
		if err := ValidateBody(p.cfg, deps, tipHeight, b); err != nil {
			return err
		}
		if _, err := p.state.ApplyBlock(b); err != nil {
			return err
		}
		if err := p.headers.Extend(b.Header, b.Header.TotalDifficulty); err != nil {
			return err
		}
		p.rememberCanonical(b.Header.Height, b)
		delete(p.sideBlocks, headerHash(b.Header))
		if p.blocks != nil {
			if err := p.blocks.MarkCanonical(b.Header.Height, headerHash(b.Header)); err != nil {
				return err
			}
		}
		tipHeight = b.Header.Height
	}
	return nil
}

// restoreAfterFailedReorg unwinds whatever prefix of the failed branch did
// get applied, back to forkHeight, then replays the original blocks forward
// to put the chain back exactly where it was.
func (p *Pipeline) restoreAfterFailedReorg(forkHeight uint64, original []consensus.Block) error {
	tip, _, hasTip, err := p.headers.Tip()
	if err != nil {
		return err
	}
	if hasTip && tip.Height > forkHeight {
		if err := p.state.Rewind(tip.Height, forkHeight); err != nil {
			return err
		}
		if err := p.headers.RewindTo(tip.Height, forkHeight); err != nil {
			return err
		}
	}
	return p.replay(original, forkHeight)
}

func (p *Pipeline) rememberCanonical(height uint64, block consensus.Block) {
	p.recentCanonical[height] = block
	if height <= p.cfg.ForkHorizon {
		return
	}
	delete(p.recentCanonical, height-p.cfg.ForkHorizon-1)
}

// reviveOrphans re-submits every block that was waiting on parentHash, now
// that it has arrived.
func (p *Pipeline) reviveOrphans(parentHash consensus.Hash, now int64) {
	for _, orphan := range p.orphans.Resolve(parentHash) {
		hash := headerHash(orphan.Header)
		parent, _, ok, err := p.headers.ByHash(orphan.Header.PrevHash)
		if err != nil || !ok {
			continue
		}
		outcome, err := p.accept(orphan, hash, parent, now)
		if err != nil {
			p.log.Infof("submit_block: revived orphan %x rejected: %v", hash, err)
			continue
		}
		if outcome == OutcomeConnected {
			p.reviveOrphans(hash, now)
		}
	}
}
