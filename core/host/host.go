package host

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/core/state"
	"daoledger/native/authz"
	"daoledger/native/bank"
	"daoledger/native/bounty"
	"daoledger/native/common"
	"daoledger/native/pool"
	"daoledger/native/training"
	"daoledger/native/vesting"
	"daoledger/storage"
)

// Observer is notified after every transition.
type Observer func(operation string, err error, elapsed time.Duration)

// Config carries the deployment parameters shared by the engines.
type Config struct {
	Domain       training.Domain
	VestingVault [20]byte
	RewardsVault [20]byte
	Pauses       common.PauseView
	Now          func() int64
}

// Option customises a Host.
type Option func(*Host)

// WithLogger sets the logger used for transition diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSink sets the emitter committed events are flushed to.
func WithSink(sink events.Emitter) Option {
	return func(h *Host) { h.sink = sink }
}

// WithObserver registers a transition observer.
func WithObserver(obs Observer) Option {
	return func(h *Host) { h.observer = obs }
}

// Host runs ledger operations as atomic transitions over a single state
// manager. Operations are serialised; a failed operation leaves neither state
// changes nor events behind.
type Host struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	buffer   *events.Buffer
	sink     events.Emitter
	logger   *slog.Logger
	observer Observer
	nowFn    func() int64

	Bank     *bank.Ledger
	Pools    *pool.Engine
	Vesting  *vesting.Engine
	Training *training.Engine
	Bounty   *bounty.Engine
}

// New wires every engine against db.
func New(db storage.Database, cfg Config, opts ...Option) *Host {
	h := &Host{
		db:     db,
		state:  state.NewManager(db),
		buffer: &events.Buffer{},
		sink:   events.NoopEmitter{},
		logger: slog.Default(),
		nowFn:  cfg.Now,
	}
	if h.nowFn == nil {
		h.nowFn = func() int64 { return time.Now().Unix() }
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.sink == nil {
		h.sink = events.NoopEmitter{}
	}

	roles := authz.NewRoles(h.state)
	signatures := authz.NewSignatures(h.state)

	h.Bank = bank.NewLedger(h.state)
	h.Bank.SetEmitter(h.buffer)

	h.Pools = pool.NewEngine()
	h.Pools.SetState(h.state)
	h.Pools.SetBank(h.Bank)
	h.Pools.SetAuthorizer(roles)
	h.Pools.SetPauses(cfg.Pauses)
	h.Pools.SetEmitter(h.buffer)
	h.Pools.SetNowFunc(h.nowFn)
	h.Pools.SetVault(cfg.RewardsVault)

	h.Vesting = vesting.NewEngine()
	h.Vesting.SetState(h.state)
	h.Vesting.SetBank(h.Bank)
	h.Vesting.SetBudgets(h.Pools)
	h.Vesting.SetAuthorizer(roles)
	h.Vesting.SetPauses(cfg.Pauses)
	h.Vesting.SetEmitter(h.buffer)
	h.Vesting.SetNowFunc(h.nowFn)
	h.Vesting.SetVault(cfg.VestingVault)

	h.Training = training.NewEngine()
	h.Training.SetState(h.state)
	h.Training.SetPools(h.Pools)
	h.Training.SetBalances(h.Bank)
	h.Training.SetAuthorizer(roles)
	h.Training.SetSignatures(signatures)
	h.Training.SetPauses(cfg.Pauses)
	h.Training.SetEmitter(h.buffer)
	h.Training.SetNowFunc(h.nowFn)
	h.Training.SetDomain(cfg.Domain)

	h.Bounty = bounty.NewEngine()
	h.Bounty.SetState(h.state)
	h.Bounty.SetPools(h.Pools)
	h.Bounty.SetBalances(h.Bank)
	h.Bounty.SetAuthorizer(roles)
	h.Bounty.SetPauses(cfg.Pauses)
	h.Bounty.SetEmitter(h.buffer)
	h.Bounty.SetNowFunc(h.nowFn)
	return h
}

// Now returns the host clock.
func (h *Host) Now() int64 { return h.nowFn() }

// SetSink replaces the committed-event sink.
func (h *Host) SetSink(sink events.Emitter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	h.sink = sink
}

// Execute runs fn as one transition. On error the state journal is reverted
// and buffered events are dropped; on success state is committed to storage
// and events are flushed to the sink.
func (h *Host) Execute(operation string, fn func() error) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := time.Now()
	snapshot := h.state.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			err = ledgererrors.New(ledgererrors.KindInternal, fmt.Sprintf("%s: panic: %v", operation, r))
		}
		if err != nil {
			h.state.RevertToSnapshot(snapshot)
			h.buffer.Discard()
			h.logger.Debug("transition failed",
				slog.String("component", "host"),
				slog.String("operation", operation),
				slog.String("kind", ledgererrors.KindOf(err).String()),
				slog.Any("error", err))
		} else if commitErr := h.state.Commit(); commitErr != nil {
			h.state.Discard()
			h.buffer.Discard()
			err = ledgererrors.New(ledgererrors.KindInternal, fmt.Sprintf("%s: commit: %v", operation, commitErr))
			h.logger.Error("commit failed",
				slog.String("component", "host"),
				slog.String("operation", operation),
				slog.Any("error", commitErr))
		} else {
			h.buffer.Flush(h.sink)
		}
		if h.observer != nil {
			h.observer(operation, err, time.Since(start))
		}
	}()
	return fn()
}

// View runs fn against committed state without allowing it to persist
// anything.
func (h *Host) View(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := h.state.Snapshot()
	defer func() {
		h.state.RevertToSnapshot(snapshot)
		h.buffer.Discard()
	}()
	return fn()
}

// GrantRole assigns capability to addr.
func (h *Host) GrantRole(capability authz.Capability, addr [20]byte) error {
	return h.Execute("authz.grant", func() error {
		return h.state.SetRole(string(capability), addr[:])
	})
}

// RevokeRole removes capability from addr.
func (h *Host) RevokeRole(capability authz.Capability, addr [20]byte) error {
	return h.Execute("authz.revoke", func() error {
		return h.state.RemoveRole(string(capability), addr[:])
	})
}

// HasRole reports whether addr holds capability.
func (h *Host) HasRole(capability authz.Capability, addr [20]byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.HasRole(string(capability), addr[:])
}

// Mint credits amount to addr. Operators use it to seed vaults.
func (h *Host) Mint(addr [20]byte, amount *uint256.Int) error {
	return h.Execute("bank.credit", func() error {
		return h.Bank.Credit(addr, amount)
	})
}

// Close releases the underlying database.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db != nil {
		h.db.Close()
	}
}
