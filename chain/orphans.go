package chain

import (
	"container/list"
	"sync"

	"github.com/mwforge/chainstate/consensus"
)

// orphanEntry is one orphan block plus the list element backing its LRU
// position, so eviction can splice it out of both the map and the list in
// O(1) (§4.4 "Orphans are retained in a bounded cache... with LRU eviction").
type orphanEntry struct {
	block      consensus.Block
	missing    consensus.Hash
	listElem   *list.Element
}

// OrphanCache holds blocks whose parent header has not yet been seen,
// indexed by that missing parent's hash so they can be re-evaluated the
// moment the parent arrives. Bounded by maxOrphans with LRU eviction.
type OrphanCache struct {
	mu    sync.Mutex
	max   int
	byParent map[consensus.Hash][]*orphanEntry
	order *list.List // most-recently-added at the back
}

func NewOrphanCache(maxOrphans int) *OrphanCache {
	return &OrphanCache{
		max:      maxOrphans,
		byParent: make(map[consensus.Hash][]*orphanEntry),
		order:    list.New(),
	}
}

// Add records block as an orphan waiting on missingParent. If the cache is
// at capacity, the least-recently-added orphan is evicted first.
func (c *OrphanCache) Add(block consensus.Block, missingParent consensus.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.order.Len() >= c.max {
		c.evictOldestLocked()
	}

	entry := &orphanEntry{block: block, missing: missingParent}
	entry.listElem = c.order.PushBack(entry)
	c.byParent[missingParent] = append(c.byParent[missingParent], entry)
}

func (c *OrphanCache) evictOldestLocked() {
	oldest := c.order.Front()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*orphanEntry)
	c.removeEntryLocked(entry)
}

func (c *OrphanCache) removeEntryLocked(entry *orphanEntry) {
	c.order.Remove(entry.listElem)
	siblings := c.byParent[entry.missing]
	for i, e := range siblings {
		if e == entry {
			siblings = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(siblings) == 0 {
		delete(c.byParent, entry.missing)
	} else {
		c.byParent[entry.missing] = siblings
	}
}

// Resolve removes and returns every orphan waiting on parentHash, for
// re-evaluation now that the parent has arrived.
func (c *OrphanCache) Resolve(parentHash consensus.Hash) []consensus.Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.byParent[parentHash]
	if len(entries) == 0 {
		return nil
	}
	blocks := make([]consensus.Block, 0, len(entries))
	for _, e := range entries {
		c.order.Remove(e.listElem)
		blocks = append(blocks, e.block)
	}
	delete(c.byParent, parentHash)
	return blocks
}

func (c *OrphanCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
