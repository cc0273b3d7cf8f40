package pool

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"daoledger/core/types"
)

const (
	EventTypePoolCreated          = "pool.created"
	EventTypePoolFunded           = "pool.funded"
	EventTypePoolDistributed      = "pool.distributed"
	EventTypePoolBatchDistributed = "pool.batch_distributed"
	EventTypePoolLimitUpdated     = "pool.limit_updated"
	EventTypePoolStatusUpdated    = "pool.status_updated"
	EventTypePoolDeallocated      = "pool.deallocated"
)

func poolAttributes(p *Pool) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["id"] = p.ID.Hex()
	attrs["name"] = p.Name
	attrs["limit"] = cloneAmount(p.Limit).Dec()
	attrs["allocated"] = cloneAmount(p.Allocated).Dec()
	attrs["distributed"] = cloneAmount(p.Distributed).Dec()
	attrs["reserved"] = cloneAmount(p.Reserved).Dec()
	attrs["active"] = strconv.FormatBool(p.Active)
	return attrs
}

func newPoolEvent(eventType string, p *Pool) *types.Event {
	return &types.Event{Type: eventType, Attributes: poolAttributes(p)}
}

// NewCreatedEvent returns the payload for a newly created pool.
func NewCreatedEvent(p *Pool) *types.Event { return newPoolEvent(EventTypePoolCreated, p) }

// NewFundedEvent returns the payload emitted when allocation grows.
func NewFundedEvent(p *Pool, caller [20]byte, amount *uint256.Int) *types.Event {
	evt := newPoolEvent(EventTypePoolFunded, p)
	evt.Attributes["amount"] = cloneAmount(amount).Dec()
	if caller != ([20]byte{}) {
		evt.Attributes["caller"] = hex.EncodeToString(caller[:])
	}
	return evt
}

// NewDistributedEvent returns the payload for a single distribution.
func NewDistributedEvent(p *Pool, recipient [20]byte, amount *uint256.Int, reason string) *types.Event {
	evt := newPoolEvent(EventTypePoolDistributed, p)
	evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	evt.Attributes["amount"] = cloneAmount(amount).Dec()
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		evt.Attributes["reason"] = trimmed
	}
	return evt
}

// NewBatchDistributedEvent summarises a batch distribution.
func NewBatchDistributedEvent(p *Pool, count int, total *uint256.Int, reason string) *types.Event {
	evt := newPoolEvent(EventTypePoolBatchDistributed, p)
	evt.Attributes["count"] = strconv.Itoa(count)
	evt.Attributes["total"] = cloneAmount(total).Dec()
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		evt.Attributes["reason"] = trimmed
	}
	return evt
}

// NewLimitUpdatedEvent returns the payload for a limit change.
func NewLimitUpdatedEvent(p *Pool, previous *uint256.Int) *types.Event {
	evt := newPoolEvent(EventTypePoolLimitUpdated, p)
	evt.Attributes["previousLimit"] = cloneAmount(previous).Dec()
	return evt
}

// NewStatusUpdatedEvent returns the payload for an activation toggle.
func NewStatusUpdatedEvent(p *Pool) *types.Event { return newPoolEvent(EventTypePoolStatusUpdated, p) }

// NewDeallocatedEvent returns the payload emitted when a reservation is
// returned to the pool.
func NewDeallocatedEvent(p *Pool, amount *uint256.Int) *types.Event {
	evt := newPoolEvent(EventTypePoolDeallocated, p)
	evt.Attributes["amount"] = cloneAmount(amount).Dec()
	return evt
}
