package authz

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	ledgererrors "daoledger/core/errors"
	"daoledger/crypto"
)

func TestRolesRequire(t *testing.T) {
	oracle := Static{}
	admin := [20]byte{0x01}
	oracle.Grant(CapPoolAdmin, admin)
	port := NewRoles(oracle)

	if err := port.Require(CapPoolAdmin, admin); err != nil {
		t.Fatalf("expected admin to pass: %v", err)
	}
	err := port.Require(CapDistributor, admin)
	if !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("expected ErrMissingCapability, got %v", err)
	}
	if ledgererrors.KindOf(err) != ledgererrors.KindAuthorization {
		t.Fatalf("expected authorization kind")
	}
	if err := port.Require(CapPoolAdmin, [20]byte{}); !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("zero identity must never be authorized, got %v", err)
	}
	var unset *Roles
	if err := unset.Require(CapPoolAdmin, admin); !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("nil port must deny, got %v", err)
	}
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("  Instructor ")
	if err != nil || c != CapInstructor {
		t.Fatalf("unexpected parse result %q %v", c, err)
	}
	if _, err := ParseCapability("root"); err == nil {
		t.Fatalf("expected unknown capability error")
	}
	if len(Capabilities()) != 9 {
		t.Fatalf("unexpected capability count %d", len(Capabilities()))
	}
}

func TestSignaturesRequireSigned(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := key.PubKey().Address().Raw()
	oracle := Static{}
	oracle.Grant(CapInstructor, signer)
	port := NewSignatures(oracle)

	var message [32]byte
	copy(message[:], ethcrypto.Keccak256([]byte("course-101")))
	digest := PersonalDigest(message)
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := port.RequireSigned(CapInstructor, digest, sig)
	if err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if got != signer {
		t.Fatalf("unexpected signer %x", got)
	}

	// 27/28 recovery ids are accepted.
	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	if _, err := port.RequireSigned(CapInstructor, digest, legacy); err != nil {
		t.Fatalf("expected legacy recovery id to verify: %v", err)
	}

	if _, err := port.RequireSigned(CapRewarder, digest, sig); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected ErrUnauthorizedSigner, got %v", err)
	}
}

func TestRecoverSignerRejectsMalformed(t *testing.T) {
	var digest [32]byte
	if _, err := RecoverSigner(digest, []byte{0x01, 0x02}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for short sig, got %v", err)
	}
	zero := make([]byte, 65)
	if _, err := RecoverSigner(digest, zero); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for zero sig, got %v", err)
	}
}

func TestTamperedDigestRecoversDifferentSigner(t *testing.T) {
	key, _ := crypto.GeneratePrivateKey()
	signer := key.PubKey().Address().Raw()
	oracle := Static{}
	oracle.Grant(CapInstructor, signer)
	port := NewSignatures(oracle)

	var message [32]byte
	message[0] = 1
	sig, _ := key.Sign(PersonalDigest(message))
	message[0] = 2
	if _, err := port.RequireSigned(CapInstructor, PersonalDigest(message), sig); err == nil {
		t.Fatalf("expected tampered digest to fail authorization")
	}
}
