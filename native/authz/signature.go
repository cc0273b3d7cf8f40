package authz

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65

var personalPrefix = []byte("\x19Ethereum Signed Message:\n32")

// PersonalDigest applies the personal-message prefix to a 32-byte message
// hash. Off-ledger signers sign the prefixed digest.
func PersonalDigest(message [32]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(personalPrefix, message[:]))
	return out
}

// Signatures is the signature-based Port variant: authority is proven by a
// recoverable secp256k1 signature from an identity that holds the capability.
type Signatures struct {
	oracle Oracle
}

// NewSignatures binds the signature variant to the supplied oracle.
func NewSignatures(oracle Oracle) *Signatures {
	return &Signatures{oracle: oracle}
}

// RecoverSigner returns the identity that produced sig over digest. Both the
// 0/1 and 27/28 recovery id conventions are accepted; high-s signatures are
// rejected.
func RecoverSigner(digest [32]byte, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if len(sig) != signatureLength {
		return signer, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, signatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !ethcrypto.ValidateSignatureValues(normalized[64], r, s, true) {
		return signer, fmt.Errorf("%w: malformed values", ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return signer, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return [20]byte(ethcrypto.PubkeyToAddress(*pub)), nil
}

// RequireSigned recovers the signer of digest and checks it holds capability.
func (s *Signatures) RequireSigned(capability Capability, digest [32]byte, sig []byte) ([20]byte, error) {
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		return signer, err
	}
	if s == nil || s.oracle == nil || !s.oracle.HasRole(string(capability), signer[:]) {
		return signer, fmt.Errorf("%w: %x lacks %s", ErrUnauthorizedSigner, signer, capability)
	}
	return signer, nil
}
