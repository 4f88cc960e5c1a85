// Package cryptoadapt adapts the opaque cryptographic primitives the core
// relies on — Pedersen commitments, kernel (Schnorr) signatures, and
// rangeproofs — behind small interfaces, per §1's "treated as opaque
// cryptographic oracles with defined interfaces" non-goal. Commitment
// arithmetic and kernel signature verification are implemented for real,
// on secp256k1; rangeproof verification is genuinely out of scope and is
// left as an oracle interface.
package cryptoadapt

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mwforge/chainstate/consensus"
)

var (
	ErrInvalidCommitment = errors.New("cryptoadapt: invalid commitment encoding")
	ErrPointAtInfinity    = errors.New("cryptoadapt: commitment sum is the point at infinity")
)

// valueGenerator ("H") is a nothing-up-my-sleeve point independent of the
// curve's standard base point G, derived deterministically by repeatedly
// hashing a fixed label until the candidate bytes parse as a valid
// compressed point. Any node computes the same H, so nobody ever learns its
// discrete log relative to G.
var valueGenerator = deriveValueGenerator()

func deriveValueGenerator() *secp256k1.PublicKey {
	label := []byte("chainstate/pedersen/value-generator")
	for counter := uint32(0); ; counter++ {
		h := sha256.New()
		h.Write(label)
		h.Write([]byte{byte(counter), byte(counter >> 8), byte(counter >> 16), byte(counter >> 24)})
		sum := h.Sum(nil)

		candidate := make([]byte, 33)
		candidate[0] = 0x02 // even-y compressed point prefix
		copy(candidate[1:], sum)

		if pub, err := secp256k1.ParsePubKey(candidate); err == nil {
			return pub
		}
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// blindScalar converts a 32 byte blinding factor to a curve scalar.
func blindScalar(blind []byte) (secp256k1.ModNScalar, error) {
	var s secp256k1.ModNScalar
	if len(blind) != 32 {
		return s, errors.New("cryptoadapt: blinding factor must be 32 bytes")
	}
	overflow := s.SetByteSlice(blind)
	if overflow {
		return s, errors.New("cryptoadapt: blinding factor overflows the curve order")
	}
	return s, nil
}

func valueScalar(v uint64) secp256k1.ModNScalar {
	var buf [32]byte
	for i := 0; i < 8; i++ {
		buf[31-i] = byte(v >> (8 * i))
	}
	var s secp256k1.ModNScalar
	s.SetByteSlice(buf[:])
	return s
}

// Commit returns r*G + v*H as a 33 byte compressed commitment. A zero
// blinding factor and zero value together are the additive identity,
// represented canonically as consensus.ZeroCommitment rather than as a
// parseable curve point, so running commitment sums can start from it.
func Commit(blind []byte, value uint64) (consensus.Commitment, error) {
	if len(blind) == 32 && isZero(blind) && value == 0 {
		return consensus.ZeroCommitment, nil
	}
	r, err := blindScalar(blind)
	if err != nil {
		return consensus.Commitment{}, err
	}
	v := valueScalar(value)

	var rG, vH, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&r, &rG)

	var hPoint secp256k1.JacobianPoint
	valueGenerator.AsJacobian(&hPoint)
	secp256k1.ScalarMultNonConst(&v, &hPoint, &vH)

	secp256k1.AddNonConst(&rG, &vH, &sum)
	sum.ToAffine()

	return jacobianToCommitment(sum), nil
}

func jacobianToCommitment(p secp256k1.JacobianPoint) consensus.Commitment {
	// An affine point at infinity normalizes to (0, 0); represent it the
	// same way as every other additive-identity commitment rather than as
	// a spurious, unparseable "valid" point.
	if p.X.IsZero() && p.Y.IsZero() {
		return consensus.ZeroCommitment
	}
	pub := secp256k1.NewPublicKey(&p.X, &p.Y)
	var c consensus.Commitment
	copy(c[:], pub.SerializeCompressed())
	return c
}

func commitmentToJacobian(c consensus.Commitment) (secp256k1.JacobianPoint, error) {
	var p secp256k1.JacobianPoint
	pub, err := secp256k1.ParsePubKey(c[:])
	if err != nil {
		return p, ErrInvalidCommitment
	}
	pub.AsJacobian(&p)
	return p, nil
}

// SumCommitments adds a list of commitments together (elliptic curve point
// addition); used to build both sides of the commitment-sum equation (I2).
// ZeroCommitment terms are treated as the additive identity and skipped
// rather than parsed as curve points.
func SumCommitments(commitments ...consensus.Commitment) (consensus.Commitment, error) {
	var acc secp256k1.JacobianPoint
	haveAcc := false

	for _, c := range commitments {
		if c == consensus.ZeroCommitment {
			continue
		}
		p, err := commitmentToJacobian(c)
		if err != nil {
			return consensus.Commitment{}, err
		}
		if !haveAcc {
			acc = p
			haveAcc = true
			continue
		}
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&acc, &p, &next)
		acc = next
	}
	if !haveAcc {
		return consensus.ZeroCommitment, nil
	}
	acc.ToAffine()
	return jacobianToCommitment(acc), nil
}

// NegateCommitment returns -C (the point with y negated), used to subtract
// a commitment by adding its negation.
func NegateCommitment(c consensus.Commitment) (consensus.Commitment, error) {
	if c == consensus.ZeroCommitment {
		return consensus.ZeroCommitment, nil
	}
	p, err := commitmentToJacobian(c)
	if err != nil {
		return consensus.Commitment{}, err
	}
	p.ToAffine()
	p.Y.Negate(1)
	p.Y.Normalize()
	return jacobianToCommitment(p), nil
}

// CommitValue commits to value alone, with a zero blinding factor. Used to
// build the fee*H and reward*H terms of the commitment-sum equation, which
// carry no blinding (§4.4 body validation rule 4).
func CommitValue(value uint64) consensus.Commitment {
	if value == 0 {
		return consensus.ZeroCommitment
	}
	v := valueScalar(value)
	var vH secp256k1.JacobianPoint
	var hPoint secp256k1.JacobianPoint
	valueGenerator.AsJacobian(&hPoint)
	secp256k1.ScalarMultNonConst(&v, &hPoint, &vH)
	vH.ToAffine()
	return jacobianToCommitment(vH)
}

// CommitOffset returns offset*G: the term total_kernel_offset contributes to
// the commitment-sum equation (I2).
func CommitOffset(offset consensus.Scalar) (consensus.Commitment, error) {
	if isZero(offset[:]) {
		return consensus.ZeroCommitment, nil
	}
	s, err := blindScalar(offset[:])
	if err != nil {
		return consensus.Commitment{}, err
	}
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &p)
	p.ToAffine()
	return jacobianToCommitment(p), nil
}

// SumScalars adds two 32 byte scalars modulo the curve order. Used to fold
// per-transaction kernel offsets into a single aggregate offset during
// cut-through aggregation and block assembly (§3 Kernel offset).
func SumScalars(a, b consensus.Scalar) (consensus.Scalar, error) {
	as, err := blindScalar(a[:])
	if err != nil {
		return consensus.Scalar{}, err
	}
	bs, err := blindScalar(b[:])
	if err != nil {
		return consensus.Scalar{}, err
	}
	as.Add(&bs)
	var out consensus.Scalar
	buf := as.Bytes()
	copy(out[:], buf[:])
	return out, nil
}

// Equal reports whether two commitments are the point at infinity apart,
// i.e. whether a-b == 0. Used to check the commitment-sum equation without
// needing a distinguished "point at infinity" encoding.
func Equal(a, b consensus.Commitment) bool {
	return a == b
}
