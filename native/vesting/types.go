package vesting

import (
	"encoding/hex"
	"strings"

	"github.com/holiman/uint256"
)

// Schedule captures a single grant. Total, Start, Cliff, Duration and
// Category never change after creation; only Released and Revoked move.
// Cliff and Duration are offsets in seconds relative to Start.
type Schedule struct {
	ID          [32]byte
	Beneficiary [20]byte
	Total       *uint256.Int
	Released    *uint256.Int
	Start       int64
	Cliff       int64
	Duration    int64
	Revocable   bool
	Revoked     bool
	Category    string
	CreatedAt   int64
	RevokedAt   int64
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Total = cloneAmount(s.Total)
	clone.Released = cloneAmount(s.Released)
	return &clone
}

// IDHex renders the schedule identifier.
func (s *Schedule) IDHex() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.ID[:])
}

// CliffEnd returns the first instant at which anything is releasable.
func (s *Schedule) CliffEnd() int64 { return s.Start + s.Cliff }

// End returns the instant at which the schedule is fully vested.
func (s *Schedule) End() int64 { return s.Start + s.Duration }

// Summary aggregates every schedule of a beneficiary at a point in time.
type Summary struct {
	Beneficiary [20]byte
	Schedules   int
	Active      int
	Total       *uint256.Int
	Vested      *uint256.Int
	Released    *uint256.Int
	Releasable  *uint256.Int
}

// NormalizeCategory trims and lowercases a category tag.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}

type storedSchedule struct {
	ID          [32]byte
	Beneficiary [20]byte
	Total       []byte
	Released    []byte
	Start       uint64
	Cliff       uint64
	Duration    uint64
	Revocable   bool
	Revoked     bool
	Category    string
	CreatedAt   uint64
	RevokedAt   uint64
}

func toStored(s *Schedule) *storedSchedule {
	return &storedSchedule{
		ID:          s.ID,
		Beneficiary: s.Beneficiary,
		Total:       cloneAmount(s.Total).Bytes(),
		Released:    cloneAmount(s.Released).Bytes(),
		Start:       uint64(s.Start),
		Cliff:       uint64(s.Cliff),
		Duration:    uint64(s.Duration),
		Revocable:   s.Revocable,
		Revoked:     s.Revoked,
		Category:    s.Category,
		CreatedAt:   uint64(s.CreatedAt),
		RevokedAt:   uint64(s.RevokedAt),
	}
}

func (s *storedSchedule) toSchedule() *Schedule {
	return &Schedule{
		ID:          s.ID,
		Beneficiary: s.Beneficiary,
		Total:       new(uint256.Int).SetBytes(s.Total),
		Released:    new(uint256.Int).SetBytes(s.Released),
		Start:       int64(s.Start),
		Cliff:       int64(s.Cliff),
		Duration:    int64(s.Duration),
		Revocable:   s.Revocable,
		Revoked:     s.Revoked,
		Category:    s.Category,
		CreatedAt:   int64(s.CreatedAt),
		RevokedAt:   int64(s.RevokedAt),
	}
}
