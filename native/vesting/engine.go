package vesting

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"daoledger/core/events"
	"daoledger/core/types"
	"daoledger/native/authz"
	"daoledger/native/common"
	"daoledger/native/pool"
)

var (
	schedulePrefix    = []byte("vesting/schedule/")
	beneficiaryPrefix = []byte("vesting/beneficiary/")
	sequenceKey       = []byte("vesting/sequence")
)

func scheduleKey(id [32]byte) []byte {
	return append(append([]byte(nil), schedulePrefix...), id[:]...)
}

func beneficiaryKey(addr [20]byte) []byte {
	return append(append([]byte(nil), beneficiaryPrefix...), addr[:]...)
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

// budgets is the slice of the pool ledger that category budgets need.
type budgets interface {
	Exists(id pool.ID) (bool, error)
	Allocate(id pool.ID, amount *uint256.Int) error
	Deallocate(id pool.ID, amount *uint256.Int) error
}

// Engine is the schedule ledger. Released tokens are paid from the vesting
// vault; category budgets are reserved in the pool ledger.
type Engine struct {
	state   engineState
	bank    transferer
	budgets budgets
	auth    authz.Port
	pauses  common.PauseView
	emitter events.Emitter
	nowFn   func() int64
	vault   [20]byte
}

// NewEngine creates a vesting engine with a no-op emitter.
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

// SetBudgets configures the ledger holding category budgets.
func (e *Engine) SetBudgets(b budgets) { e.budgets = b }

// SetAuthorizer configures the capability port.
func (e *Engine) SetAuthorizer(port authz.Port) { e.auth = port }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetVault configures the account vested tokens are paid from.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

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

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return common.Guard(e.pauses, common.ModuleVesting)
}

func (e *Engine) require(capability authz.Capability, caller [20]byte) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authorizer configured", authz.ErrMissingCapability)
	}
	return e.auth.Require(capability, caller)
}

// CategoryPool returns the pool identifier backing a category.
func CategoryPool(category string) (pool.ID, error) {
	return pool.IDFromName(NormalizeCategory(category))
}

// ScheduleParams describes a new grant. Start zero means "now".
type ScheduleParams struct {
	Beneficiary [20]byte
	Amount      *uint256.Int
	Start       int64
	Cliff       int64
	Duration    int64
	Revocable   bool
	Category    string
}

func (p ScheduleParams) validate(now int64) error {
	if p.Beneficiary == ([20]byte{}) {
		return fmt.Errorf("%w: beneficiary required", ErrInvalidSchedule)
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidSchedule)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidSchedule)
	}
	if p.Cliff < 0 || p.Cliff > p.Duration {
		return fmt.Errorf("%w: cliff %d outside [0, %d]", ErrInvalidSchedule, p.Cliff, p.Duration)
	}
	if p.Start != 0 && p.Start < now {
		return fmt.Errorf("%w: start %d in the past", ErrInvalidSchedule, p.Start)
	}
	if p.Start < 0 || now < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidSchedule)
	}
	start := p.Start
	if start == 0 {
		start = now
	}
	if start > math.MaxInt64-p.Duration {
		return fmt.Errorf("%w: schedule end overflows", ErrInvalidSchedule)
	}
	return nil
}

// CreateSchedule registers a new grant and reserves its amount against the
// category budget.
func (e *Engine) CreateSchedule(caller [20]byte, params ScheduleParams) (*Schedule, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapVestingAdmin, caller); err != nil {
		return nil, err
	}
	now := e.now()
	if err := params.validate(now); err != nil {
		return nil, err
	}
	category := NormalizeCategory(params.Category)
	var categoryID pool.ID
	if category != "" {
		id, err := e.categoryPool(category)
		if err != nil {
			return nil, err
		}
		categoryID = id
	}
	start := params.Start
	if start == 0 {
		start = now
	}
	seq, err := e.nextSequence()
	if err != nil {
		return nil, err
	}
	id := scheduleID(params.Beneficiary, params.Amount, start, now, seq)
	exists, err := e.state.KVGet(scheduleKey(id), nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %x", ErrScheduleIDCollision, id)
	}
	if category != "" {
		if err := e.budgets.Allocate(categoryID, params.Amount); err != nil {
			if errors.Is(err, pool.ErrLimitExceeded) {
				return nil, fmt.Errorf("%w: %s: %v", ErrCategoryBudgetExceeded, category, err)
			}
			return nil, err
		}
	}
	s := &Schedule{
		ID:          id,
		Beneficiary: params.Beneficiary,
		Total:       params.Amount.Clone(),
		Released:    uint256.NewInt(0),
		Start:       start,
		Cliff:       params.Cliff,
		Duration:    params.Duration,
		Revocable:   params.Revocable,
		Category:    category,
		CreatedAt:   now,
	}
	if err := e.store(s); err != nil {
		return nil, err
	}
	if err := e.state.KVAppend(beneficiaryKey(s.Beneficiary), id[:]); err != nil {
		return nil, err
	}
	e.emit(NewScheduleCreatedEvent(s, caller))
	return s.Clone(), nil
}

func (e *Engine) categoryPool(category string) (pool.ID, error) {
	if e.budgets == nil {
		return pool.ID{}, fmt.Errorf("%w: %s (no budget ledger)", ErrUnknownCategory, category)
	}
	id, err := CategoryPool(category)
	if err != nil {
		return pool.ID{}, fmt.Errorf("%w: %v", ErrUnknownCategory, err)
	}
	ok, err := e.budgets.Exists(id)
	if err != nil {
		return pool.ID{}, err
	}
	if !ok {
		return pool.ID{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return id, nil
}

func scheduleID(beneficiary [20]byte, amount *uint256.Int, start, now int64, seq uint64) [32]byte {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(start))
	binary.BigEndian.PutUint64(buf[8:16], uint64(now))
	binary.BigEndian.PutUint64(buf[16:24], seq)
	amt := amount.Bytes32()
	return ethcrypto.Keccak256Hash(beneficiary[:], amt[:], buf[:])
}

func (e *Engine) nextSequence() (uint64, error) {
	var seq uint64
	if _, err := e.state.KVGet(sequenceKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := e.state.KVPut(sequenceKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (e *Engine) load(id [32]byte) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored storedSchedule
	ok, err := e.state.KVGet(scheduleKey(id), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrScheduleNotFound, id)
	}
	return stored.toSchedule(), nil
}

func (e *Engine) store(s *Schedule) error {
	if s.Released.Gt(s.Total) {
		return fmt.Errorf("vesting: schedule %s released %s exceeds total %s", s.IDHex(), s.Released.Dec(), s.Total.Dec())
	}
	return e.state.KVPut(scheduleKey(s.ID), toStored(s))
}

func (e *Engine) checkVault(amount *uint256.Int) error {
	bal, err := e.bank.BalanceOf(e.vault)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: vault holds %s requested %s", ErrVaultUnderfunded, bal.Dec(), amount.Dec())
	}
	return nil
}

// Release pays the schedule's releasable amount to its beneficiary. The
// beneficiary or a vesting admin may trigger it.
func (e *Engine) Release(caller [20]byte, id [32]byte) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	s, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if caller != s.Beneficiary {
		if err := e.require(authz.CapVestingAdmin, caller); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotBeneficiary, err)
		}
	}
	if s.Revoked {
		return nil, ErrScheduleRevoked
	}
	amount := ReleasableAmount(s, e.now())
	if amount.IsZero() {
		return nil, ErrNothingToRelease
	}
	if err := e.checkVault(amount); err != nil {
		return nil, err
	}
	s.Released = new(uint256.Int).Add(s.Released, amount)
	if err := e.store(s); err != nil {
		return nil, err
	}
	if err := e.bank.Transfer(e.vault, s.Beneficiary, amount); err != nil {
		return nil, err
	}
	e.emit(NewScheduleReleasedEvent(s, amount))
	return amount, nil
}

// ReleaseAll releases every non-revoked schedule owned by caller with a single
// aggregate transfer.
func (e *Engine) ReleaseAll(caller [20]byte) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	schedules, err := e.SchedulesOf(caller)
	if err != nil {
		return nil, err
	}
	now := e.now()
	total := uint256.NewInt(0)
	type pending struct {
		schedule *Schedule
		amount   *uint256.Int
	}
	var updates []pending
	for _, s := range schedules {
		if s.Revoked {
			continue
		}
		amount := ReleasableAmount(s, now)
		if amount.IsZero() {
			continue
		}
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, amount)
		if overflow {
			return nil, fmt.Errorf("%w: aggregate overflow", ErrInvalidSchedule)
		}
		updates = append(updates, pending{schedule: s, amount: amount})
	}
	if total.IsZero() {
		return nil, ErrNothingToRelease
	}
	if err := e.checkVault(total); err != nil {
		return nil, err
	}
	for _, u := range updates {
		u.schedule.Released = new(uint256.Int).Add(u.schedule.Released, u.amount)
		if err := e.store(u.schedule); err != nil {
			return nil, err
		}
	}
	if err := e.bank.Transfer(e.vault, caller, total); err != nil {
		return nil, err
	}
	for _, u := range updates {
		e.emit(NewScheduleReleasedEvent(u.schedule, u.amount))
	}
	e.emit(NewReleasedAllEvent(caller, len(updates), total))
	return total, nil
}

// Revoke stops a revocable schedule. Anything vested but unreleased is paid
// out first; the unvested remainder is returned to the category budget.
func (e *Engine) Revoke(caller [20]byte, id [32]byte) (*Schedule, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.require(authz.CapVestingAdmin, caller); err != nil {
		return nil, err
	}
	s, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !s.Revocable {
		return nil, ErrNotRevocable
	}
	if s.Revoked {
		return nil, ErrAlreadyRevoked
	}
	now := e.now()
	owed := ReleasableAmount(s, now)
	if !owed.IsZero() {
		if err := e.checkVault(owed); err != nil {
			return nil, err
		}
	}
	released := new(uint256.Int).Add(s.Released, owed)
	unvested := new(uint256.Int).Sub(s.Total, released)
	if s.Category != "" && !unvested.IsZero() && e.budgets != nil {
		categoryID, err := CategoryPool(s.Category)
		if err != nil {
			return nil, err
		}
		if err := e.budgets.Deallocate(categoryID, unvested); err != nil {
			return nil, err
		}
	}
	s.Released = released
	s.Revoked = true
	s.RevokedAt = now
	if err := e.store(s); err != nil {
		return nil, err
	}
	if !owed.IsZero() {
		if err := e.bank.Transfer(e.vault, s.Beneficiary, owed); err != nil {
			return nil, err
		}
		e.emit(NewScheduleReleasedEvent(s, owed))
	}
	e.emit(NewScheduleRevokedEvent(s, caller, unvested))
	return s.Clone(), nil
}

// Schedule returns a copy of the schedule identified by id.
func (e *Engine) Schedule(id [32]byte) (*Schedule, error) {
	return e.load(id)
}

// SchedulesOf lists the schedules of beneficiary in creation order.
func (e *Engine) SchedulesOf(beneficiary [20]byte) ([]*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.KVGetList(beneficiaryKey(beneficiary))
	if err != nil {
		return nil, err
	}
	out := make([]*Schedule, 0, len(ids))
	for _, raw := range ids {
		var id [32]byte
		copy(id[:], raw)
		s, err := e.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Releasable returns the amount the schedule would release at now.
func (e *Engine) Releasable(id [32]byte, now int64) (*uint256.Int, error) {
	s, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if s.Revoked {
		return uint256.NewInt(0), nil
	}
	return ReleasableAmount(s, now), nil
}

// Summary aggregates the beneficiary's schedules at now.
func (e *Engine) Summary(beneficiary [20]byte, now int64) (*Summary, error) {
	schedules, err := e.SchedulesOf(beneficiary)
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		Beneficiary: beneficiary,
		Schedules:   len(schedules),
		Total:       uint256.NewInt(0),
		Vested:      uint256.NewInt(0),
		Released:    uint256.NewInt(0),
		Releasable:  uint256.NewInt(0),
	}
	for _, s := range schedules {
		if !s.Revoked {
			sum.Active++
		}
		sum.Total.Add(sum.Total, s.Total)
		sum.Vested.Add(sum.Vested, VestedAmount(s, now))
		sum.Released.Add(sum.Released, s.Released)
		if !s.Revoked {
			sum.Releasable.Add(sum.Releasable, ReleasableAmount(s, now))
		}
	}
	return sum, nil
}
