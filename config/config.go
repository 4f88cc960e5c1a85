// Package config holds the node's tunable consensus and pool parameters
// (§6 "Configurable options"), supplied as functional options over sensible
// defaults the way the teacher's storage and reader layers configure
// themselves.
package config

import "github.com/mwforge/chainstate/consensus"

// Config collects every option §6 enumerates as configurable rather than
// hardcoded.
type Config struct {
	// ChunkCutoffHeight is the chunk subtree height used by every chunked
	// mmr store (output, rangeproof, kernel, header).
	ChunkCutoffHeight uint8

	// TombstoneLogMax holds a pruned-entry count for the tombstone log. No
	// package reads it: chunk files are never compacted, and the tombstone
	// log only grows.
	TombstoneLogMax int

	// CoinbaseMaturity is the number of confirmations before a coinbase
	// output becomes spendable.
	CoinbaseMaturity uint64

	// ForkHorizon bounds how many blocks a reorg may rewind; deeper forks
	// require fast-sync instead.
	ForkHorizon uint64

	// MaxFutureSkewSeconds bounds how far ahead of the local clock a
	// candidate header's timestamp may be.
	MaxFutureSkewSeconds int64

	DandelionEpochSeconds      int64
	DandelionStemProbability   float64
	DandelionEmbargoSeconds    int64
	DandelionAggregationSeconds int64

	// MaxOrphans caps the orphan cache; beyond this, the oldest orphan is
	// evicted to admit a new one.
	MaxOrphans int

	MaxBlockWeight uint64
	MaxTxWeight    uint64
}

// Option mutates a Config under construction.
type Option func(*Config)

// Default returns the node's out-of-the-box configuration.
func Default() Config {
	return Config{
		ChunkCutoffHeight:           8,
		TombstoneLogMax:             4096,
		CoinbaseMaturity:            consensus.DefaultCoinbaseMaturity,
		ForkHorizon:                 consensus.DefaultForkHorizon,
		MaxFutureSkewSeconds:        consensus.MaxFutureBlockSeconds,
		DandelionEpochSeconds:       600,
		DandelionStemProbability:    0.9,
		DandelionEmbargoSeconds:     180,
		DandelionAggregationSeconds: 30,
		MaxOrphans:                  64,
		MaxBlockWeight:              4_000_000,
		MaxTxWeight:                 200_000,
	}
}

// New builds a Config starting from Default and applying opts in order.
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithChunkCutoffHeight(h uint8) Option {
	return func(c *Config) { c.ChunkCutoffHeight = h }
}

func WithTombstoneLogMax(n int) Option {
	return func(c *Config) { c.TombstoneLogMax = n }
}

func WithCoinbaseMaturity(blocks uint64) Option {
	return func(c *Config) { c.CoinbaseMaturity = blocks }
}

func WithForkHorizon(blocks uint64) Option {
	return func(c *Config) { c.ForkHorizon = blocks }
}

func WithMaxFutureSkewSeconds(seconds int64) Option {
	return func(c *Config) { c.MaxFutureSkewSeconds = seconds }
}

func WithDandelionEpochSeconds(seconds int64) Option {
	return func(c *Config) { c.DandelionEpochSeconds = seconds }
}

func WithDandelionStemProbability(p float64) Option {
	return func(c *Config) { c.DandelionStemProbability = p }
}

func WithDandelionEmbargoSeconds(seconds int64) Option {
	return func(c *Config) { c.DandelionEmbargoSeconds = seconds }
}

func WithDandelionAggregationSeconds(seconds int64) Option {
	return func(c *Config) { c.DandelionAggregationSeconds = seconds }
}

func WithMaxOrphans(n int) Option {
	return func(c *Config) { c.MaxOrphans = n }
}

func WithMaxBlockWeight(weight uint64) Option {
	return func(c *Config) { c.MaxBlockWeight = weight }
}

func WithMaxTxWeight(weight uint64) Option {
	return func(c *Config) { c.MaxTxWeight = weight }
}
