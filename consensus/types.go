// Package consensus defines the core Mimblewimble data model: commitments,
// outputs, inputs, kernels, headers and blocks, their canonical byte
// encoding, and the consensus constants the pipeline validates blocks
// against (§3, §6).
package consensus

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// CommitmentSize is the width of a Pedersen commitment: a compressed
// secp256k1 point.
const CommitmentSize = 33

// Commitment is r*G + v*H, hiding a value behind a blinding factor.
type Commitment [CommitmentSize]byte

// ZeroCommitment is the distinguished identity-like "no value" commitment,
// used as the starting accumulator for commitment sums.
var ZeroCommitment = Commitment{}

func (c Commitment) Bytes() []byte { return c[:] }

func (c Commitment) String() string { return fmt.Sprintf("%x", c[:]) }

// Less gives the canonical byte ordering used to sort outputs and inputs.
func (c Commitment) Less(other Commitment) bool {
	return bytes.Compare(c[:], other[:]) < 0
}

// OutputFeatures distinguishes coinbase rewards from ordinary outputs.
type OutputFeatures uint8

const (
	PlainOutput    OutputFeatures = 0
	CoinbaseOutput OutputFeatures = 1
)

func (f OutputFeatures) String() string {
	if f == CoinbaseOutput {
		return "Coinbase"
	}
	return "Plain"
}

// KernelFeatures selects the kernel's consensus behaviour.
type KernelFeatures uint8

const (
	PlainKernel       KernelFeatures = 0
	CoinbaseKernel    KernelFeatures = 1
	HeightLockedKernel KernelFeatures = 2
)

func (f KernelFeatures) String() string {
	switch f {
	case CoinbaseKernel:
		return "Coinbase"
	case HeightLockedKernel:
		return "HeightLocked"
	default:
		return "Plain"
	}
}

// Output is a UTXO candidate: at most one output per commitment may be
// unspent at any instant (I4).
type Output struct {
	Features    OutputFeatures
	Commitment  Commitment
	RangeProof  []byte
}

// Bytes is the canonical encoding used for sorting and hashing.
func (o Output) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(o.Features))
	buf.Write(o.Commitment[:])
	_ = binary.Write(buf, binary.BigEndian, uint32(len(o.RangeProof)))
	buf.Write(o.RangeProof)
	return buf.Bytes()
}

func (o *Output) Read(r io.Reader) error {
	var featureByte [1]byte
	if _, err := io.ReadFull(r, featureByte[:]); err != nil {
		return err
	}
	o.Features = OutputFeatures(featureByte[0])
	if _, err := io.ReadFull(r, o.Commitment[:]); err != nil {
		return err
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	o.RangeProof = make([]byte, n)
	_, err := io.ReadFull(r, o.RangeProof)
	return err
}

// OutputList sorts by canonical commitment byte order (§3).
type OutputList []Output

func (l OutputList) Len() int           { return len(l) }
func (l OutputList) Less(i, j int) bool { return l[i].Commitment.Less(l[j].Commitment) }
func (l OutputList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// Input references an existing UTXO by commitment; its features must match
// the referenced output's (I3).
type Input struct {
	Features   OutputFeatures
	Commitment Commitment
}

func (in Input) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(in.Features))
	buf.Write(in.Commitment[:])
	return buf.Bytes()
}

func (in *Input) Read(r io.Reader) error {
	var featureByte [1]byte
	if _, err := io.ReadFull(r, featureByte[:]); err != nil {
		return err
	}
	in.Features = OutputFeatures(featureByte[0])
	_, err := io.ReadFull(r, in.Commitment[:])
	return err
}

type InputList []Input

func (l InputList) Len() int           { return len(l) }
func (l InputList) Less(i, j int) bool { return l[i].Commitment.Less(l[j].Commitment) }
func (l InputList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// Kernel is the per-transaction consensus artifact: fee, any height lock,
// and the excess commitment/signature pair proving the transaction balances
// to zero (§3).
type Kernel struct {
	Features        KernelFeatures
	Fee             uint64
	LockHeight      uint64
	ExcessCommitment Commitment
	ExcessSignature []byte
}

func (k Kernel) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(k.Features))
	_ = binary.Write(buf, binary.BigEndian, k.Fee)
	_ = binary.Write(buf, binary.BigEndian, k.LockHeight)
	buf.Write(k.ExcessCommitment[:])
	_ = binary.Write(buf, binary.BigEndian, uint32(len(k.ExcessSignature)))
	buf.Write(k.ExcessSignature)
	return buf.Bytes()
}

func (k *Kernel) Read(r io.Reader) error {
	var featureByte [1]byte
	if _, err := io.ReadFull(r, featureByte[:]); err != nil {
		return err
	}
	k.Features = KernelFeatures(featureByte[0])
	if err := binary.Read(r, binary.BigEndian, &k.Fee); err != nil {
		return err
	}
	if err := binary.Read(r, binary.BigEndian, &k.LockHeight); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, k.ExcessCommitment[:]); err != nil {
		return err
	}
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return err
	}
	k.ExcessSignature = make([]byte, n)
	_, err := io.ReadFull(r, k.ExcessSignature)
	return err
}

// KernelList sorts by the canonical kernel byte serialization (§3).
type KernelList []Kernel

func (l KernelList) Len() int           { return len(l) }
func (l KernelList) Less(i, j int) bool { return bytes.Compare(l[i].Bytes(), l[j].Bytes()) < 0 }
func (l KernelList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// SortBody sorts inputs, outputs and kernels into their canonical order.
// Required before hashing or serializing a block or transaction body (§3, §4.4).
func SortBody(inputs InputList, outputs OutputList, kernels KernelList) {
	sort.Sort(inputs)
	sort.Sort(outputs)
	sort.Sort(kernels)
}

var ErrBodyNotSorted = errors.New("consensus: inputs, outputs or kernels are not canonically sorted")

// VerifySorted returns ErrBodyNotSorted if any of the three lists are not in
// canonical order (§4.4 body validation rule 1).
func VerifySorted(inputs InputList, outputs OutputList, kernels KernelList) error {
	if !sort.IsSorted(inputs) || !sort.IsSorted(outputs) || !sort.IsSorted(kernels) {
		return ErrBodyNotSorted
	}
	return nil
}

// VerifyNoDuplicateOutputs returns an error if two outputs in the same body
// share a commitment.
func VerifyNoDuplicateOutputs(outputs OutputList) error {
	seen := make(map[Commitment]struct{}, len(outputs))
	for _, o := range outputs {
		if _, ok := seen[o.Commitment]; ok {
			return fmt.Errorf("consensus: duplicate output commitment %s in body", o.Commitment)
		}
		seen[o.Commitment] = struct{}{}
	}
	return nil
}
