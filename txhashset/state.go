package txhashset

import (
	"encoding/binary"
	"os"

	"github.com/mwforge/chainstate/consensus"
)

// runningState is the incrementally-maintained accumulator that lets I2 (the
// commitment-sum equation) be checked in O(1) per block instead of
// resumming every unspent output and kernel on the chain (§3 I2, §4.3 J3).
type runningState struct {
	UnspentSum consensus.Commitment
	ExcessSum  consensus.Commitment
	OffsetSum  consensus.Commitment
	Supply     uint64
	path       string
}

const runningStateSize = consensus.CommitmentSize*3 + 8

func openRunningState(path string) (*runningState, error) {
	s := &runningState{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) != runningStateSize {
		return s, nil
	}
	copy(s.UnspentSum[:], data[0:33])
	copy(s.ExcessSum[:], data[33:66])
	copy(s.OffsetSum[:], data[66:99])
	s.Supply = binary.BigEndian.Uint64(data[99:107])
	return s, nil
}

func (s *runningState) save() error {
	buf := make([]byte, runningStateSize)
	copy(buf[0:33], s.UnspentSum[:])
	copy(buf[33:66], s.ExcessSum[:])
	copy(buf[66:99], s.OffsetSum[:])
	binary.BigEndian.PutUint64(buf[99:107], s.Supply)
	return os.WriteFile(s.path, buf, 0o644)
}

func (s *runningState) snapshot() runningState {
	return runningState{UnspentSum: s.UnspentSum, ExcessSum: s.ExcessSum, OffsetSum: s.OffsetSum, Supply: s.Supply}
}
