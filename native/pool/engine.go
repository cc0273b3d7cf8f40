package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	"daoledger/core/types"
	"daoledger/native/authz"
	"daoledger/native/common"
)

var (
	poolPrefix      = []byte("pool/def/")
	poolIndexKey    = []byte("pool/index")
	recipientPrefix = []byte("pool/recipient/")
)

func poolKey(id ID) []byte {
	return append(append([]byte(nil), poolPrefix...), id[:]...)
}

func recipientKey(id ID, recipient [20]byte) []byte {
	key := append(append([]byte(nil), recipientPrefix...), id[:]...)
	return append(key, recipient[:]...)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte) ([][]byte, error)
}

type transferer interface {
	Transfer(from, to [20]byte, amount *uint256.Int) error
	BalanceOf(addr [20]byte) (*uint256.Int, error)
}

// Engine owns every budget envelope: training campaigns, bounty categories,
// vesting categories and plain allocation pools.
type Engine struct {
	state   engineState
	bank    transferer
	auth    authz.Port
	pauses  common.PauseView
	emitter events.Emitter
	nowFn   func() int64
	vault   [20]byte
}

// NewEngine creates a pool engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the value-transfer capability.
func (e *Engine) SetBank(b transferer) { e.bank = b }

// SetAuthorizer configures the capability port.
func (e *Engine) SetAuthorizer(port authz.Port) { e.auth = port }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetVault configures the account distributions are paid from.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// Vault returns the configured payout account.
func (e *Engine) Vault() [20]byte { return e.vault }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(types.Envelope{Evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) require(capability authz.Capability, caller [20]byte) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authorizer configured", authz.ErrMissingCapability)
	}
	return e.auth.Require(capability, caller)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(e.pauses, common.ModulePool)
}

func (e *Engine) load(id ID) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedPool
	ok, err := e.state.KVGet(poolKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id.Hex())
	}
	return stored.toPool(), nil
}

func (e *Engine) store(p *Pool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return e.state.KVPut(poolKey(p.ID), toStored(p))
}

// Pool returns a copy of the pool identified by id.
func (e *Engine) Pool(id ID) (*Pool, error) {
	p, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// PoolByName resolves the interned identifier and returns the pool.
func (e *Engine) PoolByName(name string) (*Pool, error) {
	id, err := IDFromName(name)
	if err != nil {
		return nil, err
	}
	return e.Pool(id)
}

// Exists reports whether a pool has been created for id.
func (e *Engine) Exists(id ID) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.KVGet(poolKey(id), nil)
}

// Pools lists every pool in creation order.
func (e *Engine) Pools() ([]*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.KVGetList(poolIndexKey)
	if err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(ids))
	for _, raw := range ids {
		var id ID
		copy(id[:], raw)
		p, err := e.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RecipientTotal returns the cumulative value distributed to recipient from
// the pool.
func (e *Engine) RecipientTotal(id ID, recipient [20]byte) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedAmount
	ok, err := e.state.KVGet(recipientKey(id, recipient), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).SetBytes(stored.Amount), nil
}

// CreatePool registers a new budget envelope. A zero or nil limit leaves the
// pool uncapped.
func (e *Engine) CreatePool(caller [20]byte, name string, limit *uint256.Int) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapPoolAdmin, caller); err != nil {
		return nil, err
	}
	return e.create(name, limit)
}

func (e *Engine) create(name string, limit *uint256.Int) (*Pool, error) {
	normalized, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	id, err := IDFromName(normalized)
	if err != nil {
		return nil, err
	}
	exists, err := e.Exists(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, normalized)
	}
	now := e.now()
	p := &Pool{
		ID:          id,
		Name:        normalized,
		Limit:       cloneAmount(limit),
		Allocated:   uint256.NewInt(0),
		Distributed: uint256.NewInt(0),
		Reserved:    uint256.NewInt(0),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store(p); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(poolIndexKey, id[:]); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(p))
	return p.Clone(), nil
}

// Provision creates a pool and allocates funding to it in one step. Other
// engines use it to open the envelope backing a campaign; capability checks are
// the caller's responsibility.
func (e *Engine) Provision(name string, limit, funding *uint256.Int) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if funding != nil && !funding.IsZero() && limit != nil && !limit.IsZero() && funding.Gt(limit) {
		return nil, fmt.Errorf("%w: funding %s above limit %s", ErrLimitExceeded, funding.Dec(), limit.Dec())
	}
	p, err := e.create(name, limit)
	if err != nil {
		return nil, err
	}
	if funding == nil || funding.IsZero() {
		return p, nil
	}
	return e.allocate([20]byte{}, p.ID, funding, false)
}

// FundPool grows the pool's allocation.
func (e *Engine) FundPool(caller [20]byte, id ID, amount *uint256.Int) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapAllocator, caller); err != nil {
		return nil, err
	}
	return e.allocate(caller, id, amount, false)
}

// Allocate reserves amount against the pool's limit on behalf of another
// engine. The reservation counts towards Allocated but is held out of
// Available, so Distribute and Payout cannot spend it. Unlike FundPool it
// refuses inactive pools.
func (e *Engine) Allocate(id ID, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.allocate([20]byte{}, id, amount, true)
	return err
}

func (e *Engine) allocate(caller [20]byte, id ID, amount *uint256.Int, reserve bool) (*Pool, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	p, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if reserve && !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrPoolInactive, p.Name)
	}
	next, overflow := new(uint256.Int).AddOverflow(p.Allocated, amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	if p.Capped() && next.Gt(p.Limit) {
		return nil, fmt.Errorf("%w: %s allocated %s + %s > limit %s", ErrLimitExceeded, p.Name, p.Allocated.Dec(), amount.Dec(), p.Limit.Dec())
	}
	p.Allocated = next
	if reserve {
		p.Reserved = new(uint256.Int).Add(cloneAmount(p.Reserved), amount)
	}
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(p, caller, amount))
	return p.Clone(), nil
}

// Deallocate releases part of a reservation made through Allocate and shrinks
// the allocation by the same amount.
func (e *Engine) Deallocate(id ID, amount *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	p, err := e.load(id)
	if err != nil {
		return err
	}
	reserved := cloneAmount(p.Reserved)
	if reserved.Lt(amount) {
		return fmt.Errorf("%w: %s reserved %s, requested %s", ErrDeallocateExceedsReserved, p.Name, reserved.Dec(), amount.Dec())
	}
	p.Reserved = new(uint256.Int).Sub(reserved, amount)
	p.Allocated = new(uint256.Int).Sub(p.Allocated, amount)
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return err
	}
	e.emit(NewDeallocatedEvent(p, amount))
	return nil
}

// Distribute pays amount from the pool to recipient.
func (e *Engine) Distribute(caller [20]byte, id ID, recipient [20]byte, amount *uint256.Int, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.require(authz.CapDistributor, caller); err != nil {
		return err
	}
	return e.payout(id, recipient, amount, reason)
}

// Payout is Distribute without the caller capability check. Engines that gate
// their own operations (training grants, bounty approvals) pay through it.
func (e *Engine) Payout(id ID, recipient [20]byte, amount *uint256.Int, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return e.payout(id, recipient, amount, reason)
}

func (e *Engine) payout(id ID, recipient [20]byte, amount *uint256.Int, reason string) error {
	if recipient == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	p, err := e.load(id)
	if err != nil {
		return err
	}
	if err := e.checkSpend(p, amount); err != nil {
		return err
	}
	if err := e.checkVault(amount); err != nil {
		return err
	}
	p.Distributed = new(uint256.Int).Add(p.Distributed, amount)
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return err
	}
	if err := e.creditRecipient(id, recipient, amount); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.vault, recipient, amount); err != nil {
		return err
	}
	e.emit(NewDistributedEvent(p, recipient, amount, reason))
	return nil
}

// DistributeBatch pays every (recipient, amount) pair from the pool as one
// unit: the whole batch is validated and the aggregate checked against the
// pool balance before anything is written, so either every payment lands or
// none does.
func (e *Engine) DistributeBatch(caller [20]byte, id ID, recipients [][20]byte, amounts []*uint256.Int, reason string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.require(authz.CapDistributor, caller); err != nil {
		return err
	}
	if len(recipients) != len(amounts) {
		return fmt.Errorf("%w: %d recipients, %d amounts", ErrBatchLengthMismatch, len(recipients), len(amounts))
	}
	if len(recipients) == 0 {
		return ErrEmptyBatch
	}
	total := uint256.NewInt(0)
	for i := range recipients {
		if recipients[i] == ([20]byte{}) {
			return fmt.Errorf("%w: index %d", ErrInvalidRecipient, i)
		}
		if amounts[i] == nil || amounts[i].IsZero() {
			return fmt.Errorf("%w: index %d", ErrInvalidAmount, i)
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, amounts[i])
		if overflow {
			return ErrAmountOverflow
		}
	}
	p, err := e.load(id)
	if err != nil {
		return err
	}
	if err := e.checkSpend(p, total); err != nil {
		return err
	}
	if err := e.checkVault(total); err != nil {
		return err
	}
	p.Distributed = new(uint256.Int).Add(p.Distributed, total)
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return err
	}
	for i := range recipients {
		if err := e.creditRecipient(id, recipients[i], amounts[i]); err != nil {
			return err
		}
	}
	for i := range recipients {
		if err := e.bank.Transfer(e.vault, recipients[i], amounts[i]); err != nil {
			return err
		}
		e.emit(NewDistributedEvent(p, recipients[i], amounts[i], reason))
	}
	e.emit(NewBatchDistributedEvent(p, len(recipients), total, reason))
	return nil
}

func (e *Engine) checkSpend(p *Pool, amount *uint256.Int) error {
	if !p.Active {
		return fmt.Errorf("%w: %s", ErrPoolInactive, p.Name)
	}
	available := p.Available()
	if available.Lt(amount) {
		return fmt.Errorf("%w: %s available %s requested %s", ErrInsufficientPoolBalance, p.Name, available.Dec(), amount.Dec())
	}
	return nil
}

func (e *Engine) checkVault(amount *uint256.Int) error {
	if e.bank == nil {
		return errNilBank
	}
	bal, err := e.bank.BalanceOf(e.vault)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: vault holds %s requested %s", ErrVaultUnderfunded, bal.Dec(), amount.Dec())
	}
	return nil
}

func (e *Engine) creditRecipient(id ID, recipient [20]byte, amount *uint256.Int) error {
	current, err := e.RecipientTotal(id, recipient)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return ErrAmountOverflow
	}
	return e.state.KVPut(recipientKey(id, recipient), &storedAmount{Amount: next.Bytes()})
}

// UpdateLimit changes the pool cap. A zero limit removes the cap.
func (e *Engine) UpdateLimit(caller [20]byte, id ID, newLimit *uint256.Int) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapPoolAdmin, caller); err != nil {
		return nil, err
	}
	p, err := e.load(id)
	if err != nil {
		return nil, err
	}
	limit := cloneAmount(newLimit)
	if !limit.IsZero() && limit.Lt(p.Allocated) {
		return nil, fmt.Errorf("%w: %s limit %s < allocated %s", ErrLimitBelowAllocated, p.Name, limit.Dec(), p.Allocated.Dec())
	}
	previous := p.Limit
	p.Limit = limit
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return nil, err
	}
	e.emit(NewLimitUpdatedEvent(p, previous))
	return p.Clone(), nil
}

// SetActive toggles distribution eligibility without touching the counters.
func (e *Engine) SetActive(caller [20]byte, id ID, active bool) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapPoolAdmin, caller); err != nil {
		return nil, err
	}
	return e.setActive(id, active)
}

// SetActiveInternal toggles a pool on behalf of another engine.
func (e *Engine) SetActiveInternal(id ID, active bool) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.setActive(id, active)
}

func (e *Engine) setActive(id ID, active bool) (*Pool, error) {
	p, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if p.Active == active {
		return p.Clone(), nil
	}
	p.Active = active
	p.UpdatedAt = e.now()
	if err := e.store(p); err != nil {
		return nil, err
	}
	e.emit(NewStatusUpdatedEvent(p))
	return p.Clone(), nil
}

// Describe renders a one-line summary used in logs.
func Describe(p *Pool) string {
	if p == nil {
		return "<nil pool>"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s allocated=%s distributed=%s reserved=%s", p.Name, p.Allocated.Dec(), p.Distributed.Dec(), cloneAmount(p.Reserved).Dec())
	if p.Capped() {
		fmt.Fprintf(&b, " limit=%s", p.Limit.Dec())
	}
	if !p.Active {
		b.WriteString(" inactive")
	}
	return b.String()
}
