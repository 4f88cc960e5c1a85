// Package posindex is the persistent ordered index mapping a commitment to
// its mmr leaf position within the output and kernel MMRs, and tracking
// which output positions are currently spent. Block validation needs O(1)
// "is this commitment an unspent output" and "what mmr position does this
// excess live at" lookups; replaying the whole mmr to answer either would
// make every block validation O(chain length) (§4.2, §4.4 I2/I3/I4).
package posindex

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mwforge/chainstate/consensus"
)

var (
	bucketOutputPosition = []byte("output_position_by_commitment")
	bucketOutputSpent    = []byte("output_spent_by_commitment")
	bucketOutputHeight   = []byte("output_created_height_by_commitment")
	bucketOutputFeatures = []byte("output_features_by_commitment")
	bucketKernelPosition = []byte("kernel_position_by_excess")
	bucketKernelHeight   = []byte("kernel_height_by_excess")
	bucketKernelData     = []byte("kernel_data_by_excess")
)

// Index is a bbolt-backed store keyed by commitment bytes.
type Index struct {
	db *bolt.DB
}

// Open creates or resumes the index at path.
func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("posindex: open bbolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketOutputPosition, bucketOutputSpent, bucketOutputHeight, bucketOutputFeatures, bucketKernelPosition, bucketKernelHeight, bucketKernelData} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("posindex: create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func positionBytes(pos uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	return buf
}

// PutOutput records an unspent output's commitment at its output-mmr leaf
// position.
func (idx *Index) PutOutput(c consensus.Commitment, position uint64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputPosition).Put(c[:], positionBytes(position))
	})
}

// OutputPosition returns the output-mmr leaf position for a live commitment.
func (idx *Index) OutputPosition(c consensus.Commitment) (uint64, bool, error) {
	var pos uint64
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOutputPosition).Get(c[:])
		if v == nil {
			return nil
		}
		pos = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return pos, ok, err
}

// MarkSpent records the height at which a commitment was spent, so the
// entry can still answer historical "was this ever an output" queries
// after RemoveOutput drops it from the live set (used by fast-sync and
// block explorers, not by the hot validation path).
func (idx *Index) MarkSpent(c consensus.Commitment, spentHeight uint64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputSpent).Put(c[:], positionBytes(spentHeight))
	})
}

// SpentHeight returns the height a commitment was spent at, if recorded.
func (idx *Index) SpentHeight(c consensus.Commitment) (uint64, bool, error) {
	var height uint64
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOutputSpent).Get(c[:])
		if v == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return height, ok, err
}

// RemoveOutput drops a commitment from the live unspent set, on spend.
func (idx *Index) RemoveOutput(c consensus.Commitment) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutputPosition).Delete(c[:])
	})
}

// OutputCreatedHeight returns the height an unspent output's commitment was
// first appended at, used for coinbase maturity checks (§4.4 body
// validation rule 5).
func (idx *Index) OutputCreatedHeight(c consensus.Commitment) (uint64, bool, error) {
	var height uint64
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOutputHeight).Get(c[:])
		if v == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return height, ok, err
}

// OutputFeatures returns the features an unspent output's commitment was
// recorded with.
func (idx *Index) OutputFeatures(c consensus.Commitment) (consensus.OutputFeatures, bool, error) {
	var features consensus.OutputFeatures
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOutputFeatures).Get(c[:])
		if v == nil {
			return nil
		}
		features = consensus.OutputFeatures(v[0])
		ok = true
		return nil
	})
	return features, ok, err
}

// PutKernel records a kernel's excess commitment at its kernel-mmr leaf
// position, for get_kernel_by_excess lookups (§7 coreapi).
func (idx *Index) PutKernel(excess consensus.Commitment, position uint64) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKernelPosition).Put(excess[:], positionBytes(position))
	})
}

// KernelPosition returns the kernel-mmr leaf position for an excess
// commitment.
func (idx *Index) KernelPosition(excess consensus.Commitment) (uint64, bool, error) {
	var pos uint64
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKernelPosition).Get(excess[:])
		if v == nil {
			return nil
		}
		pos = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return pos, ok, err
}

// KernelHeight returns the block height a kernel's excess commitment was
// included at.
func (idx *Index) KernelHeight(excess consensus.Commitment) (uint64, bool, error) {
	var height uint64
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKernelHeight).Get(excess[:])
		if v == nil {
			return nil
		}
		height = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return height, ok, err
}

// KernelData returns the raw encoded kernel for an excess commitment, since
// the kernel mmr itself only stores leaf hashes (§7 get_kernel_by_excess).
func (idx *Index) KernelData(excess consensus.Commitment) ([]byte, bool, error) {
	var data []byte
	var ok bool
	err := idx.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKernelData).Get(excess[:])
		if v == nil {
			return nil
		}
		data = append([]byte(nil), v...)
		ok = true
		return nil
	})
	return data, ok, err
}

// ForEachOutput calls fn for every currently unspent output commitment,
// in commitment-byte order, along with its mmr position, creation height
// and features. Iteration stops at the first error fn returns (used by
// fast-sync export to walk the live output set without replaying the mmr).
func (idx *Index) ForEachOutput(fn func(c consensus.Commitment, position, createdHeight uint64, features consensus.OutputFeatures) error) error {
	return idx.db.View(func(tx *bolt.Tx) error {
		positions := tx.Bucket(bucketOutputPosition)
		heights := tx.Bucket(bucketOutputHeight)
		features := tx.Bucket(bucketOutputFeatures)
		return positions.ForEach(func(k, v []byte) error {
			var c consensus.Commitment
			copy(c[:], k)
			position := binary.BigEndian.Uint64(v)
			var createdHeight uint64
			if hv := heights.Get(k); hv != nil {
				createdHeight = binary.BigEndian.Uint64(hv)
			}
			var f consensus.OutputFeatures
			if fv := features.Get(k); fv != nil {
				f = consensus.OutputFeatures(fv[0])
			}
			return fn(c, position, createdHeight, f)
		})
	})
}

// ForEachKernel calls fn for every kernel ever included, in excess-commitment
// byte order, along with its mmr position, inclusion height and raw encoded
// form. Kernels are never pruned (§3), so this enumerates the full kernel
// history, not just a live subset.
func (idx *Index) ForEachKernel(fn func(excess consensus.Commitment, position, height uint64, data []byte) error) error {
	return idx.db.View(func(tx *bolt.Tx) error {
		positions := tx.Bucket(bucketKernelPosition)
		heights := tx.Bucket(bucketKernelHeight)
		data := tx.Bucket(bucketKernelData)
		return positions.ForEach(func(k, v []byte) error {
			var excess consensus.Commitment
			copy(excess[:], k)
			position := binary.BigEndian.Uint64(v)
			var height uint64
			if hv := heights.Get(k); hv != nil {
				height = binary.BigEndian.Uint64(hv)
			}
			return fn(excess, position, height, data.Get(k))
		})
	})
}

// Batch applies a set of output/kernel index mutations atomically, used
// when applying or rewinding a block so the index can never observe a
// partially-applied block (§4.4 apply_block/rewind).
type addedOutput struct {
	position      uint64
	createdHeight uint64
	features      consensus.OutputFeatures
}

type addedKernel struct {
	position uint64
	height   uint64
	data     []byte
}

type Batch struct {
	outputsAdded   map[consensus.Commitment]addedOutput
	outputsRemoved map[consensus.Commitment]uint64 // value is the spend height
	outputsUnwound []consensus.Commitment
	kernelsAdded   map[consensus.Commitment]addedKernel
	kernelsUnwound []consensus.Commitment
}

func NewBatch() *Batch {
	return &Batch{
		outputsAdded:   make(map[consensus.Commitment]addedOutput),
		outputsRemoved: make(map[consensus.Commitment]uint64),
		kernelsAdded:   make(map[consensus.Commitment]addedKernel),
	}
}

// AddOutput records a live output's mmr position, creation height, and
// features, either on first append or on rewind-restore of a previously
// spent output.
func (b *Batch) AddOutput(c consensus.Commitment, position, createdHeight uint64, features consensus.OutputFeatures) {
	b.outputsAdded[c] = addedOutput{position: position, createdHeight: createdHeight, features: features}
}

func (b *Batch) SpendOutput(c consensus.Commitment, spentHeight uint64) {
	b.outputsRemoved[c] = spentHeight
}

// UnwindOutput removes c from the live set without recording a spend
// marker: used by rewind to undo an output that was only ever added by the
// block being unwound, as opposed to one genuinely spent by a later block.
func (b *Batch) UnwindOutput(c consensus.Commitment) {
	b.outputsUnwound = append(b.outputsUnwound, c)
}

// AddKernel records a kernel's mmr position, including height, and raw
// encoded form, keyed by excess commitment, so get_kernel_by_excess can
// answer without replaying the kernel mmr (§7 coreapi).
func (b *Batch) AddKernel(excess consensus.Commitment, position, height uint64, data []byte) {
	b.kernelsAdded[excess] = addedKernel{position: position, height: height, data: data}
}

// UnwindKernel drops a kernel's recorded data on rewind, mirroring
// UnwindOutput.
func (b *Batch) UnwindKernel(excess consensus.Commitment) {
	b.kernelsUnwound = append(b.kernelsUnwound, excess)
}

// Apply commits every mutation in the batch within a single bbolt
// transaction.
func (idx *Index) Apply(b *Batch) error {
	return idx.db.Update(func(tx *bolt.Tx) error {
		outPos := tx.Bucket(bucketOutputPosition)
		outSpent := tx.Bucket(bucketOutputSpent)
		outHeight := tx.Bucket(bucketOutputHeight)
		outFeatures := tx.Bucket(bucketOutputFeatures)
		kernelPos := tx.Bucket(bucketKernelPosition)
		kernelHeight := tx.Bucket(bucketKernelHeight)
		kernelData := tx.Bucket(bucketKernelData)

		for c, added := range b.outputsAdded {
			if err := outPos.Put(c[:], positionBytes(added.position)); err != nil {
				return err
			}
			if err := outHeight.Put(c[:], positionBytes(added.createdHeight)); err != nil {
				return err
			}
			if err := outFeatures.Put(c[:], []byte{byte(added.features)}); err != nil {
				return err
			}
		}
		for c, height := range b.outputsRemoved {
			if err := outPos.Delete(c[:]); err != nil {
				return err
			}
			if err := outHeight.Delete(c[:]); err != nil {
				return err
			}
			if err := outFeatures.Delete(c[:]); err != nil {
				return err
			}
			if err := outSpent.Put(c[:], positionBytes(height)); err != nil {
				return err
			}
		}
		for _, c := range b.outputsUnwound {
			if err := outPos.Delete(c[:]); err != nil {
				return err
			}
			if err := outHeight.Delete(c[:]); err != nil {
				return err
			}
			if err := outFeatures.Delete(c[:]); err != nil {
				return err
			}
		}
		for c, added := range b.kernelsAdded {
			if err := kernelPos.Put(c[:], positionBytes(added.position)); err != nil {
				return err
			}
			if err := kernelHeight.Put(c[:], positionBytes(added.height)); err != nil {
				return err
			}
			if err := kernelData.Put(c[:], added.data); err != nil {
				return err
			}
		}
		for _, c := range b.kernelsUnwound {
			if err := kernelPos.Delete(c[:]); err != nil {
				return err
			}
			if err := kernelHeight.Delete(c[:]); err != nil {
				return err
			}
			if err := kernelData.Delete(c[:]); err != nil {
				return err
			}
		}
		return nil
	})
}
