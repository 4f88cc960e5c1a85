package txpool

import (
	"sync"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mwforge/chainstate/config"
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

// Broadcaster is the p2p relay collaborator: stem hands a single transaction
// to one chosen peer, fluff broadcasts to the whole outbound set. The
// transport itself is out of scope (§1 Non-goals); this is the interface the
// core drives it through (§6).
type Broadcaster interface {
	SendStem(tx consensus.Transaction, to PeerID) error
	Broadcast(tx consensus.Transaction) error
}

// NullBroadcaster discards every send; useful for tests and for running the
// pool without a wired p2p layer.
type NullBroadcaster struct{}

func (NullBroadcaster) SendStem(consensus.Transaction, PeerID) error { return nil }
func (NullBroadcaster) Broadcast(consensus.Transaction) error        { return nil }

// PeerSelector picks this epoch's outbound dandelion relay. A real node
// chooses from its current outbound peer set; tests and single-peer
// deployments can return a fixed value.
type PeerSelector interface {
	SelectRelay() PeerID
}

// Pool is the stempool+mempool pair plus the dandelion epoch state
// driving stem/fluff routing between them (§4.5).
type Pool struct {
	cfg         config.Config
	view        ChainView
	rangeProofs cryptoadapt.RangeProofVerifier
	relays      PeerSelector
	out         Broadcaster
	log         logger.Logger

	mu sync.Mutex

	mempool  map[consensus.Hash]*Entry
	stempool map[consensus.Hash]*Entry
	// byInput and byOutput index a staged entry's input/output commitments
	// back to its hash, kept separate because a commitment created as one
	// entry's output and spent as another's input is legitimate unconfirmed
	// chaining, not a conflict; a same-role collision is (§4.5 Admission).
	byInput  map[consensus.Commitment]consensus.Hash
	byOutput map[consensus.Commitment]consensus.Hash

	epoch dandelionEpoch
}

// New builds an empty pool. view, rangeProofs, relays and out are the
// collaborators admission and the dandelion tick need; now is the wall
// clock at construction, seeding the first epoch.
func New(cfg config.Config, view ChainView, rangeProofs cryptoadapt.RangeProofVerifier, relays PeerSelector, out Broadcaster, log logger.Logger, now int64) *Pool {
	p := &Pool{
		cfg:         cfg,
		view:        view,
		rangeProofs: rangeProofs,
		relays:      relays,
		out:         out,
		log:         log,
		mempool:     make(map[consensus.Hash]*Entry),
		stempool:    make(map[consensus.Hash]*Entry),
		byInput:     make(map[consensus.Commitment]consensus.Hash),
		byOutput:    make(map[consensus.Commitment]consensus.Hash),
	}
	p.epoch = newDandelionEpoch(cfg, relays, now)
	return p
}

// AdmitResult reports what admission decided, including whether the caller
// must now relay the transaction and to whom.
type AdmitResult struct {
	Admitted bool
	Err      error
	// StemTo is set when the caller must forward tx to a single peer in
	// stem phase (local origination, or a freshly staged received stem tx
	// does not itself trigger a forward — only aggregation does).
	StemTo PeerID
	// Broadcast is set when the caller must broadcast tx to all peers
	// (immediate loop-detected fluff, or a fluff-source admission).
	Broadcast bool
}

// Admit runs a candidate transaction through isolation, tip-consistency and
// pool-conflict checks, then routes it by source into the stempool or
// mempool (§4.5 Admission, Stem path).
func (p *Pool) Admit(tx consensus.Transaction, source Source, now int64) AdmitResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := TxHash(tx)
	if _, ok := p.mempool[hash]; ok {
		return AdmitResult{Err: ErrAlreadyKnown}
	}
	if _, ok := p.stempool[hash]; ok {
		return AdmitResult{Err: ErrAlreadyKnown}
	}

	if err := p.validateIsolated(tx); err != nil {
		return AdmitResult{Err: err}
	}
	if err := p.validateAgainstTip(tx.Body); err != nil {
		return AdmitResult{Err: err}
	}

	switch source {
	case SourceLocal:
		return p.admitLocal(tx, hash, now)
	case SourceStem:
		return p.admitStem(tx, hash, now)
	default:
		return p.admitFluff(tx, hash, now)
	}
}

func (p *Pool) admitLocal(tx consensus.Transaction, hash consensus.Hash, now int64) AdmitResult {
	if p.conflictsWithPool(tx.Body) {
		return AdmitResult{Err: ErrConflict}
	}
	p.stageStem(tx, hash, SourceLocal, now)
	// A locally originated transaction always enters stem phase and is
	// forwarded to this epoch's relay, even if the node itself is
	// currently in fluff mode for received traffic (§4.5 Stem path).
	p.log.Debugf("txpool: local tx %x staged, forwarding to relay %s", hash, p.epoch.relay)
	return AdmitResult{Admitted: true, StemTo: p.epoch.relay}
}

func (p *Pool) admitStem(tx consensus.Transaction, hash consensus.Hash, now int64) AdmitResult {
	if p.conflictsWithPool(tx.Body) {
		// Loop detection: a received stem tx whose inputs or outputs
		// collide with an entry already staged in the same role has gone
		// around once too often (or double-spends it). Fluff it immediately
		// rather than continuing to stem it (§4.5 Stem path). A tx whose
		// input simply spends another staged entry's output is ordinary
		// unconfirmed chaining and is not a collision.
		p.stageFluff(tx, hash, now)
		p.log.Infof("txpool: stem tx %x conflicts with a staged entry, fluffing", hash)
		return AdmitResult{Admitted: true, Broadcast: true}
	}
	p.stageStem(tx, hash, SourceStem, now)
	return AdmitResult{Admitted: true}
}

func (p *Pool) admitFluff(tx consensus.Transaction, hash consensus.Hash, now int64) AdmitResult {
	if p.conflictsWithPool(tx.Body) {
		return AdmitResult{Err: ErrConflict}
	}
	p.stageFluff(tx, hash, now)
	return AdmitResult{Admitted: true, Broadcast: true}
}

func (p *Pool) stageStem(tx consensus.Transaction, hash consensus.Hash, source Source, now int64) {
	entry := &Entry{Hash: hash, Tx: tx, Source: source, ReceivedAt: now, EmbargoDeadline: now + p.cfg.DandelionEmbargoSeconds}
	p.stempool[hash] = entry
	p.index(tx.Body, hash)
}

func (p *Pool) stageFluff(tx consensus.Transaction, hash consensus.Hash, now int64) {
	entry := &Entry{Hash: hash, Tx: tx, Source: SourceFluff, ReceivedAt: now}
	p.mempool[hash] = entry
	p.index(tx.Body, hash)
}

func (p *Pool) index(body consensus.Body, hash consensus.Hash) {
	for _, c := range inputCommitments(body) {
		p.byInput[c] = hash
	}
	for _, c := range outputCommitments(body) {
		p.byOutput[c] = hash
	}
}

// conflictsWithPool reports whether body has a same-role collision with any
// already-staged entry: one of its inputs matches another entry's staged
// input, or one of its outputs matches another entry's staged output. A
// body whose input spends another staged entry's output is ordinary
// unconfirmed chaining and is not reported as a conflict (§4.5 Admission).
func (p *Pool) conflictsWithPool(body consensus.Body) bool {
	for _, c := range inputCommitments(body) {
		if _, ok := p.byInput[c]; ok {
			return true
		}
	}
	for _, c := range outputCommitments(body) {
		if _, ok := p.byOutput[c]; ok {
			return true
		}
	}
	return false
}

func (p *Pool) unindex(body consensus.Body, hash consensus.Hash) {
	for _, c := range inputCommitments(body) {
		if p.byInput[c] == hash {
			delete(p.byInput, c)
		}
	}
	for _, c := range outputCommitments(body) {
		if p.byOutput[c] == hash {
			delete(p.byOutput, c)
		}
	}
}

// Len reports the current mempool and stempool sizes.
func (p *Pool) Len() (mempool, stempool int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.mempool), len(p.stempool)
}
