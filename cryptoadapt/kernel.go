package cryptoadapt

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/hashing"
)

// SignKernel produces the excess signature over a kernel's fee/lock_height
// message, using the excess blinding factor as the signing key. The
// corresponding public key is the excess commitment's point (§3 Kernel,
// §6 kernel_signature_message).
func SignKernel(excessBlind []byte, fee, lockHeight uint64) ([]byte, error) {
	priv := secp256k1.PrivKeyFromBytes(excessBlind)
	msg := hashing.KernelSignatureMessage(fee, lockHeight)
	sig, err := schnorr.Sign(priv, msg)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifyKernelSignature checks that sig is a valid Schnorr signature by the
// key embedded in excess over the canonical fee/lock_height message. This is
// I1 ("every kernel's excess_signature verifies against excess_commitment
// and the kernel's own fee and lock_height").
func VerifyKernelSignature(excess consensus.Commitment, fee, lockHeight uint64, sig []byte) (bool, error) {
	pub, err := secp256k1.ParsePubKey(excess[:])
	if err != nil {
		return false, ErrInvalidCommitment
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return false, err
	}
	msg := hashing.KernelSignatureMessage(fee, lockHeight)
	return parsed.Verify(msg, pub), nil
}

// RangeProofVerifier checks that a commitment's hidden value lies in the
// valid, non-negative range. The proof system itself (e.g. Bulletproofs) is
// a cryptographic oracle outside this engine's scope (§1 Non-goals); callers
// supply a concrete implementation.
type RangeProofVerifier interface {
	Verify(commitment consensus.Commitment, proof []byte) bool
}

// NullRangeProofVerifier accepts any non-empty proof. It exists so the
// block-acceptance pipeline and its tests can run without a real rangeproof
// backend wired in; production deployments must supply a real verifier.
type NullRangeProofVerifier struct{}

func (NullRangeProofVerifier) Verify(_ consensus.Commitment, proof []byte) bool {
	return len(proof) > 0
}
