package vesting

import (
	"encoding/hex"
	"strconv"

	"github.com/holiman/uint256"

	"daoledger/core/types"
)

const (
	EventTypeScheduleCreated  = "vesting.schedule.created"
	EventTypeScheduleReleased = "vesting.schedule.released"
	EventTypeScheduleRevoked  = "vesting.schedule.revoked"
	EventTypeReleasedAll      = "vesting.released_all"
)

func scheduleAttributes(s *Schedule) map[string]string {
	attrs := make(map[string]string)
	if s == nil {
		return attrs
	}
	attrs["id"] = s.IDHex()
	attrs["beneficiary"] = hex.EncodeToString(s.Beneficiary[:])
	attrs["total"] = cloneAmount(s.Total).Dec()
	attrs["released"] = cloneAmount(s.Released).Dec()
	attrs["start"] = strconv.FormatInt(s.Start, 10)
	attrs["cliff"] = strconv.FormatInt(s.Cliff, 10)
	attrs["duration"] = strconv.FormatInt(s.Duration, 10)
	attrs["revocable"] = strconv.FormatBool(s.Revocable)
	attrs["revoked"] = strconv.FormatBool(s.Revoked)
	if s.Category != "" {
		attrs["category"] = s.Category
	}
	return attrs
}

// NewScheduleCreatedEvent returns the payload for a newly created schedule.
func NewScheduleCreatedEvent(s *Schedule, caller [20]byte) *types.Event {
	attrs := scheduleAttributes(s)
	attrs["caller"] = hex.EncodeToString(caller[:])
	return &types.Event{Type: EventTypeScheduleCreated, Attributes: attrs}
}

// NewScheduleReleasedEvent returns the payload emitted when amount moved to
// the beneficiary.
func NewScheduleReleasedEvent(s *Schedule, amount *uint256.Int) *types.Event {
	attrs := scheduleAttributes(s)
	attrs["amount"] = cloneAmount(amount).Dec()
	return &types.Event{Type: EventTypeScheduleReleased, Attributes: attrs}
}

// NewScheduleRevokedEvent returns the payload emitted on revocation.
func NewScheduleRevokedEvent(s *Schedule, caller [20]byte, unvested *uint256.Int) *types.Event {
	attrs := scheduleAttributes(s)
	attrs["caller"] = hex.EncodeToString(caller[:])
	attrs["unvested"] = cloneAmount(unvested).Dec()
	return &types.Event{Type: EventTypeScheduleRevoked, Attributes: attrs}
}

// NewReleasedAllEvent summarises an aggregate release.
func NewReleasedAllEvent(beneficiary [20]byte, count int, total *uint256.Int) *types.Event {
	return &types.Event{Type: EventTypeReleasedAll, Attributes: map[string]string{
		"beneficiary": hex.EncodeToString(beneficiary[:]),
		"schedules":   strconv.Itoa(count),
		"amount":      cloneAmount(total).Dec(),
	}}
}
