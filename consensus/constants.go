package consensus

// Consensus constants. Several of these are exposed as node Config values
// (config.Config) rather than hardcoded, per the configurable options
// enumerated in §6; the values here are the defaults / protocol minimums.
const (
	// MinHeaderVersion and MaxHeaderVersion bound accepted header versions
	// (§4.4 header validation rule 1).
	MinHeaderVersion uint16 = 1
	MaxHeaderVersion uint16 = 1

	// MaxFutureBlockSeconds is the default max_future_skew: how far a
	// block's timestamp may lie ahead of the validating node's clock.
	MaxFutureBlockSeconds int64 = 12 * 60

	// DefaultCoinbaseMaturity resolves Open Question (c): the source
	// disagreed on 1000 vs 1440 blocks vs "24 hours" of maturity. It is a
	// config.Config value (coinbase_maturity); this is only the default.
	DefaultCoinbaseMaturity uint64 = 1440

	// DefaultForkHorizon bounds how many blocks a reorg may rewind before
	// fast-sync is required instead (§4.4, §9).
	DefaultForkHorizon uint64 = 1440

	// EmissionSpeedFactor and MineableCap drive the block subsidy halving
	// schedule; TailEmission is the fixed per-block reward paid out once
	// the mineable supply is exhausted.
	EmissionSpeedFactor  = 20
	MineableCap          = uint64(21_000_000) << 20
	TailEmissionPerBlock = uint64(1) << 20
)

// BlockSubsidy returns the newly minted coinbase value for the next block,
// given the total already minted in all prior blocks: the unmined part of
// MineableCap shifted right by EmissionSpeedFactor, never less than
// TailEmissionPerBlock. The reward shrinks a little with every block rather
// than halving at fixed heights.
func BlockSubsidy(alreadyGenerated uint64) uint64 {
	if alreadyGenerated >= MineableCap {
		return TailEmissionPerBlock
	}
	remaining := MineableCap - alreadyGenerated
	reward := remaining >> EmissionSpeedFactor
	if reward < TailEmissionPerBlock {
		return TailEmissionPerBlock
	}
	return reward
}
