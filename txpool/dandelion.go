package txpool

import (
	"math/rand"

	"github.com/mwforge/chainstate/config"
)

// dandelionEpoch is the per-node state §4.5 describes: the current epoch's
// start time, the chosen outbound relay, and the stem/fluff posture for
// traffic this node originates or forwards this epoch.
type dandelionEpoch struct {
	start   int64
	relay   PeerID
	stem    bool
	rng     *rand.Rand
	selector PeerSelector
}

func newDandelionEpoch(cfg config.Config, selector PeerSelector, now int64) dandelionEpoch {
	e := dandelionEpoch{start: now, selector: selector, rng: rand.New(rand.NewSource(now))}
	e.roll(cfg)
	return e
}

func (e *dandelionEpoch) roll(cfg config.Config) {
	e.relay = e.selector.SelectRelay()
	e.stem = e.rng.Float64() < cfg.DandelionStemProbability
}

// advance rolls a fresh epoch (new relay, new stem/fluff coin flip) once
// cfg.DandelionEpochSeconds has elapsed since the current epoch started.
func (e *dandelionEpoch) advance(cfg config.Config, now int64) bool {
	if now-e.start < cfg.DandelionEpochSeconds {
		return false
	}
	e.start = now
	e.roll(cfg)
	return true
}

// Tick advances the dandelion timers: epoch rollover, aggregation of
// pending stem entries past their wait, and embargo-expiry self-fluffing.
// A real node calls this on a fixed ~10s schedule (§5 dandelion monitor).
func (p *Pool) Tick(now int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.epoch.advance(p.cfg, now)
	p.aggregateDue(now)
	p.fluffExpired(now)
}

// aggregateDue aggregates every stempool entry that has sat past
// DandelionAggregationSeconds into a single cut-through transaction and
// forwards it per the epoch's current posture (§4.5 Stem path).
func (p *Pool) aggregateDue(now int64) {
	var due []*Entry
	for _, e := range p.stempool {
		if now-e.ReceivedAt >= p.cfg.DandelionAggregationSeconds {
			due = append(due, e)
		}
	}
	if len(due) == 0 {
		return
	}

	agg, err := aggregate(due)
	if err != nil {
		p.log.Infof("txpool: aggregation of %d stem entries failed: %v", len(due), err)
		return
	}

	for _, e := range due {
		delete(p.stempool, e.Hash)
		p.unindex(e.Tx.Body, e.Hash)
	}

	hash := TxHash(agg)
	if p.epoch.stem {
		p.stempool[hash] = &Entry{Hash: hash, Tx: agg, Source: SourceStem, ReceivedAt: now, EmbargoDeadline: now + p.cfg.DandelionEmbargoSeconds}
		p.index(agg.Body, hash)
		if err := p.out.SendStem(agg, p.epoch.relay); err != nil {
			p.log.Infof("txpool: forwarding aggregated stem tx %x to %s failed: %v", hash, p.epoch.relay, err)
		}
		return
	}

	p.mempool[hash] = &Entry{Hash: hash, Tx: agg, Source: SourceFluff, ReceivedAt: now}
	p.index(agg.Body, hash)
	if err := p.out.Broadcast(agg); err != nil {
		p.log.Infof("txpool: broadcasting aggregated tx %x failed: %v", hash, err)
	}
}

// fluffExpired self-fluffs any stempool entry whose embargo deadline has
// passed without being seen fluffed elsewhere, the safety valve of §4.5 /
// Property 7.
func (p *Pool) fluffExpired(now int64) {
	for hash, e := range p.stempool {
		if now < e.EmbargoDeadline {
			continue
		}
		delete(p.stempool, hash)
		e.Source = SourceFluff
		p.mempool[hash] = e
		if err := p.out.Broadcast(e.Tx); err != nil {
			p.log.Infof("txpool: embargo-expiry broadcast of %x failed: %v", hash, err)
		}
	}
}
