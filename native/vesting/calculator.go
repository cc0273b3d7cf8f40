package vesting

import "github.com/holiman/uint256"

// VestedAmount returns the portion of the schedule earned at now.
//
// Vesting is linear from Start, not from the cliff end, so the amount jumps by
// Total*Cliff/Duration when the cliff expires. Revoked schedules are frozen at
// their released amount.
func VestedAmount(s *Schedule, now int64) *uint256.Int {
	if s == nil || s.Total == nil {
		return uint256.NewInt(0)
	}
	if s.Revoked {
		return cloneAmount(s.Released)
	}
	if now < s.CliffEnd() {
		return uint256.NewInt(0)
	}
	if s.Duration <= 0 || now >= s.End() {
		return s.Total.Clone()
	}
	elapsed := uint256.NewInt(uint64(now - s.Start))
	duration := uint256.NewInt(uint64(s.Duration))
	vested, overflow := new(uint256.Int).MulDivOverflow(s.Total, elapsed, duration)
	if overflow {
		// elapsed < duration so the quotient is below Total.
		return s.Total.Clone()
	}
	return vested
}

// ReleasableAmount returns vested minus released, clamped at zero.
func ReleasableAmount(s *Schedule, now int64) *uint256.Int {
	vested := VestedAmount(s, now)
	released := uint256.NewInt(0)
	if s != nil {
		released = cloneAmount(s.Released)
	}
	out, underflow := new(uint256.Int).SubOverflow(vested, released)
	if underflow {
		return uint256.NewInt(0)
	}
	return out
}
