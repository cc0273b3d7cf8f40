package training

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"daoledger/native/authz"
)

var completionTag = []byte("daoledger/training/completion/v1")

// Domain binds signed completions to one ledger deployment so an instructor
// signature cannot be replayed on another chain or verifier.
type Domain struct {
	ChainID  uint64
	Verifier [20]byte
}

// CompletionMessage hashes the authorized tuple (learner, campaign, nonce,
// chain context).
func CompletionMessage(domain Domain, learner [20]byte, campaignID string, nonce uint64) [32]byte {
	campaign := CampaignKey(campaignID)
	var nums [16]byte
	binary.BigEndian.PutUint64(nums[0:8], nonce)
	binary.BigEndian.PutUint64(nums[8:16], domain.ChainID)
	return ethcrypto.Keccak256Hash(completionTag, learner[:], campaign[:], nums[:], domain.Verifier[:])
}

// CompletionDigest returns the personal-message digest an instructor signs.
func CompletionDigest(domain Domain, learner [20]byte, campaignID string, nonce uint64) [32]byte {
	return authz.PersonalDigest(CompletionMessage(domain, learner, campaignID, nonce))
}
