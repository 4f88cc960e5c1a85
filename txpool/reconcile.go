package txpool

import "github.com/mwforge/chainstate/consensus"

// ReconcileResult summarizes what happened to every staged entry when a
// block connected (§4.5 Reconciliation, observable warnings).
type ReconcileResult struct {
	Kept      int
	Dropped   int
	Conflicts []consensus.Hash
}

// OnBlockConnected drops every pool entry whose inputs or outputs conflict
// with block, in O(n+m) using an index over block's commitments (n = pool
// size, m = block commitments). A dropped entry was either fully included
// or now double-spends against the new tip; both cases are resolved the
// same way here (§4.5 Reconciliation, Property 6).
func (p *Pool) OnBlockConnected(block consensus.Block) ReconcileResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	blockCommitments := make(map[consensus.Commitment]struct{}, len(block.Body.Inputs)+len(block.Body.Outputs))
	for _, in := range block.Body.Inputs {
		blockCommitments[in.Commitment] = struct{}{}
	}
	for _, out := range block.Body.Outputs {
		blockCommitments[out.Commitment] = struct{}{}
	}

	result := ReconcileResult{}
	result.Dropped += p.dropConflicting(p.mempool, blockCommitments, &result)
	result.Dropped += p.dropConflicting(p.stempool, blockCommitments, &result)
	result.Kept = len(p.mempool) + len(p.stempool)

	p.log.Infof("txpool: block connected at height %d, kept=%d dropped=%d", block.Header.Height, result.Kept, result.Dropped)
	return result
}

func (p *Pool) dropConflicting(pool map[consensus.Hash]*Entry, blockCommitments map[consensus.Commitment]struct{}, result *ReconcileResult) int {
	dropped := 0
	for hash, entry := range pool {
		conflicts := false
		for _, c := range commitments(entry.Tx.Body) {
			if _, inBlock := blockCommitments[c]; inBlock {
				conflicts = true
				break
			}
		}
		if !conflicts {
			continue
		}
		delete(pool, hash)
		p.unindex(entry.Tx.Body, hash)
		result.Conflicts = append(result.Conflicts, hash)
		dropped++
	}
	return dropped
}
