package training

import (
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"daoledger/native/pool"
)

// PoolPrefix prefixes the derived name of a campaign's backing pool.
const PoolPrefix = "training:"

// Campaign ids must leave room for PoolPrefix in the derived pool name.
const maxCampaignIDLength = pool.MaxNameLength - len(PoolPrefix)

// Grant modes recorded on completion records.
const (
	ModeSignature = "signature"
	ModeDirect    = "direct"
)

// NormalizeCampaignID trims and lowercases a campaign identifier.
func NormalizeCampaignID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if normalized == "" {
		return "", fmt.Errorf("%w: id required", ErrInvalidCampaign)
	}
	if len(normalized) > maxCampaignIDLength {
		return "", fmt.Errorf("%w: id longer than %d bytes", ErrInvalidCampaign, maxCampaignIDLength)
	}
	return normalized, nil
}

// CampaignKey hashes a normalized campaign id for use in storage keys and
// signed digests.
func CampaignKey(id string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(id))
}

// Campaign is a training reward program backed by a pool.
type Campaign struct {
	ID        string
	PoolID    pool.ID
	PoolName  string
	Reward    *uint256.Int
	Budget    *uint256.Int
	Active    bool
	Creator   [20]byte
	CreatedAt int64
	UpdatedAt int64
}

// Clone returns a deep copy of the campaign.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Reward = cloneAmount(c.Reward)
	clone.Budget = cloneAmount(c.Budget)
	return &clone
}

// CompletionRecord proves a learner was rewarded for a campaign. It is never
// rewritten.
type CompletionRecord struct {
	Learner    [20]byte
	CampaignID string
	Reward     *uint256.Int
	Timestamp  int64
	Mode       string
	Authority  [20]byte
	Digest     [32]byte
}

// LearnerStats aggregates a learner's completions.
type LearnerStats struct {
	Completions uint64
	TotalEarned *uint256.Int
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}

type storedCampaign struct {
	ID        string
	PoolID    [32]byte
	PoolName  string
	Reward    []byte
	Budget    []byte
	Active    bool
	Creator   [20]byte
	CreatedAt uint64
	UpdatedAt uint64
}

func newStoredCampaign(c *Campaign) *storedCampaign {
	return &storedCampaign{
		ID:        c.ID,
		PoolID:    c.PoolID,
		PoolName:  c.PoolName,
		Reward:    cloneAmount(c.Reward).Bytes(),
		Budget:    cloneAmount(c.Budget).Bytes(),
		Active:    c.Active,
		Creator:   c.Creator,
		CreatedAt: uint64(c.CreatedAt),
		UpdatedAt: uint64(c.UpdatedAt),
	}
}

func (s *storedCampaign) toCampaign() *Campaign {
	return &Campaign{
		ID:        s.ID,
		PoolID:    pool.ID(s.PoolID),
		PoolName:  s.PoolName,
		Reward:    new(uint256.Int).SetBytes(s.Reward),
		Budget:    new(uint256.Int).SetBytes(s.Budget),
		Active:    s.Active,
		Creator:   s.Creator,
		CreatedAt: int64(s.CreatedAt),
		UpdatedAt: int64(s.UpdatedAt),
	}
}

type storedCompletion struct {
	Learner    [20]byte
	CampaignID string
	Reward     []byte
	Timestamp  uint64
	Mode       string
	Authority  [20]byte
	Digest     [32]byte
}

func newStoredCompletion(r *CompletionRecord) *storedCompletion {
	return &storedCompletion{
		Learner:    r.Learner,
		CampaignID: r.CampaignID,
		Reward:     cloneAmount(r.Reward).Bytes(),
		Timestamp:  uint64(r.Timestamp),
		Mode:       r.Mode,
		Authority:  r.Authority,
		Digest:     r.Digest,
	}
}

func (s *storedCompletion) toRecord() *CompletionRecord {
	return &CompletionRecord{
		Learner:    s.Learner,
		CampaignID: s.CampaignID,
		Reward:     new(uint256.Int).SetBytes(s.Reward),
		Timestamp:  int64(s.Timestamp),
		Mode:       s.Mode,
		Authority:  s.Authority,
		Digest:     s.Digest,
	}
}

type storedStats struct {
	Completions uint64
	TotalEarned []byte
}
