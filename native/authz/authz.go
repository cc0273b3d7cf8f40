// Package authz implements the capability port consumed by the ledger
// engines. Two variants are provided: Roles answers "does caller hold
// capability X" against the role oracle, and Signatures recovers the signer of
// a digest and checks the signer holds the capability instead.
package authz

import (
	"fmt"
	"strings"

	ledgererrors "daoledger/core/errors"
)

// Capability is an abstract permission checked by an authorization oracle.
type Capability string

const (
	CapVestingAdmin  Capability = "vesting_admin"
	CapPoolAdmin     Capability = "pool_admin"
	CapAllocator     Capability = "allocator"
	CapDistributor   Capability = "distributor"
	CapCampaignAdmin Capability = "campaign_admin"
	// CapInstructor signs completion attestations for delegated grants.
	CapInstructor Capability = "instructor"
	// CapRewarder asserts completions directly without a signature.
	CapRewarder     Capability = "rewarder"
	CapTaskManager  Capability = "task_manager"
	CapTaskReviewer Capability = "task_reviewer"
)

var allCapabilities = []Capability{
	CapVestingAdmin,
	CapPoolAdmin,
	CapAllocator,
	CapDistributor,
	CapCampaignAdmin,
	CapInstructor,
	CapRewarder,
	CapTaskManager,
	CapTaskReviewer,
}

// Capabilities returns every capability known to the ledger.
func Capabilities() []Capability {
	return append([]Capability(nil), allCapabilities...)
}

// ParseCapability normalises a capability name.
func ParseCapability(name string) (Capability, error) {
	normalized := Capability(strings.ToLower(strings.TrimSpace(name)))
	for _, c := range allCapabilities {
		if c == normalized {
			return c, nil
		}
	}
	return "", fmt.Errorf("authz: unknown capability %q", name)
}

var (
	ErrMissingCapability  = ledgererrors.New(ledgererrors.KindAuthorization, "authz: missing capability")
	ErrInvalidSignature   = ledgererrors.New(ledgererrors.KindAuthorization, "authz: invalid signature")
	ErrUnauthorizedSigner = ledgererrors.New(ledgererrors.KindAuthorization, "authz: unauthorized signer")
)

// Oracle answers whether an identity holds a role. core/state.Manager
// satisfies it.
type Oracle interface {
	HasRole(role string, addr []byte) bool
}

// Port is the capability check injected into every admin-gated operation.
type Port interface {
	Require(capability Capability, caller [20]byte) error
}

// Roles is the role-based Port variant.
type Roles struct {
	oracle Oracle
}

// NewRoles binds the role variant to the supplied oracle.
func NewRoles(oracle Oracle) *Roles {
	return &Roles{oracle: oracle}
}

// Require fails with ErrMissingCapability unless caller holds capability.
func (r *Roles) Require(capability Capability, caller [20]byte) error {
	if r == nil || r.oracle == nil {
		return fmt.Errorf("%w: no oracle configured", ErrMissingCapability)
	}
	if caller == ([20]byte{}) || !r.oracle.HasRole(string(capability), caller[:]) {
		return fmt.Errorf("%w: %s", ErrMissingCapability, capability)
	}
	return nil
}

// Static is a fixed in-memory oracle, handy for wiring tests and bootstrap.
type Static map[Capability]map[[20]byte]bool

// Grant adds caller to capability.
func (s Static) Grant(capability Capability, caller [20]byte) {
	members, ok := s[capability]
	if !ok {
		members = make(map[[20]byte]bool)
		s[capability] = members
	}
	members[caller] = true
}

// HasRole implements Oracle.
func (s Static) HasRole(role string, addr []byte) bool {
	if len(addr) != 20 {
		return false
	}
	var key [20]byte
	copy(key[:], addr)
	return s[Capability(role)][key]
}
