package pool

import (
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ID is the interned identifier of a pool. It is derived from the normalised
// pool name so that every component referring to "team" or " Team " lands on
// the same budget envelope.
type ID [32]byte

// MaxNameLength bounds a normalized pool name.
const MaxNameLength = 64

// NormalizeName trims and lowercases a pool name.
func NormalizeName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", fmt.Errorf("%w: name required", ErrInvalidName)
	}
	if len(normalized) > MaxNameLength {
		return "", fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	for _, r := range normalized {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: control character in name", ErrInvalidName)
		}
	}
	return normalized, nil
}

// IDFromName interns a pool name.
func IDFromName(name string) (ID, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return ID{}, err
	}
	return ID(ethcrypto.Keccak256Hash([]byte("pool:"), []byte(normalized))), nil
}

// MustID is IDFromName for compile-time constant names.
func MustID(name string) ID {
	id, err := IDFromName(name)
	if err != nil {
		panic(err)
	}
	return id
}

// Hex returns the lowercase hex encoding of the identifier.
func (id ID) Hex() string { return hex.EncodeToString(id[:]) }

// Pool is a budget envelope. Allocated tracks the value committed to the pool,
// Distributed the value already paid out of it and Reserved the share held by
// other engines (vesting schedules) that distributions may not touch. A zero
// Limit means the pool is uncapped.
type Pool struct {
	ID          ID
	Name        string
	Limit       *uint256.Int
	Allocated   *uint256.Int
	Distributed *uint256.Int
	Reserved    *uint256.Int
	Active      bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Capped reports whether a limit is configured.
func (p *Pool) Capped() bool {
	return p != nil && p.Limit != nil && !p.Limit.IsZero()
}

// Available returns allocated minus distributed and reserved.
func (p *Pool) Available() *uint256.Int {
	if p == nil || p.Allocated == nil {
		return uint256.NewInt(0)
	}
	spent, overflow := new(uint256.Int).AddOverflow(cloneAmount(p.Distributed), cloneAmount(p.Reserved))
	if overflow || spent.Gt(p.Allocated) {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(p.Allocated, spent)
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Limit = cloneAmount(p.Limit)
	clone.Allocated = cloneAmount(p.Allocated)
	clone.Distributed = cloneAmount(p.Distributed)
	clone.Reserved = cloneAmount(p.Reserved)
	return &clone
}

// Validate checks the conservation invariant
// distributed + reserved <= allocated <= limit.
func (p *Pool) Validate() error {
	if p == nil {
		return fmt.Errorf("pool: nil pool")
	}
	spent, overflow := new(uint256.Int).AddOverflow(cloneAmount(p.Distributed), cloneAmount(p.Reserved))
	if overflow || spent.Gt(p.Allocated) {
		return fmt.Errorf("pool %s: distributed %s + reserved %s exceeds allocated %s", p.Name, cloneAmount(p.Distributed).Dec(), cloneAmount(p.Reserved).Dec(), p.Allocated.Dec())
	}
	if p.Capped() && p.Allocated.Gt(p.Limit) {
		return fmt.Errorf("pool %s: allocated %s exceeds limit %s", p.Name, p.Allocated.Dec(), p.Limit.Dec())
	}
	return nil
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}

type storedPool struct {
	ID          [32]byte
	Name        string
	Limit       []byte
	Allocated   []byte
	Distributed []byte
	Active      bool
	CreatedAt   uint64
	UpdatedAt   uint64
	Reserved    []byte `rlp:"optional"`
}

func toStored(p *Pool) *storedPool {
	return &storedPool{
		ID:          p.ID,
		Name:        p.Name,
		Limit:       cloneAmount(p.Limit).Bytes(),
		Allocated:   cloneAmount(p.Allocated).Bytes(),
		Distributed: cloneAmount(p.Distributed).Bytes(),
		Active:      p.Active,
		CreatedAt:   uint64(p.CreatedAt),
		UpdatedAt:   uint64(p.UpdatedAt),
		Reserved:    cloneAmount(p.Reserved).Bytes(),
	}
}

func (s *storedPool) toPool() *Pool {
	return &Pool{
		ID:          ID(s.ID),
		Name:        s.Name,
		Limit:       new(uint256.Int).SetBytes(s.Limit),
		Allocated:   new(uint256.Int).SetBytes(s.Allocated),
		Distributed: new(uint256.Int).SetBytes(s.Distributed),
		Reserved:    new(uint256.Int).SetBytes(s.Reserved),
		Active:      s.Active,
		CreatedAt:   int64(s.CreatedAt),
		UpdatedAt:   int64(s.UpdatedAt),
	}
}

type storedAmount struct {
	Amount []byte
}
