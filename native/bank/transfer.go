package bank

import (
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/core/types"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeCredit   = "bank.credit"
)

var (
	ErrInsufficientBalance = ledgererrors.New(ledgererrors.KindResource, "bank: insufficient balance")
	ErrInvalidAmount       = ledgererrors.New(ledgererrors.KindValidation, "bank: amount must be positive")
	ErrBalanceOverflow     = ledgererrors.New(ledgererrors.KindResource, "bank: balance overflow")
	errNilState            = ledgererrors.New(ledgererrors.KindInternal, "bank: state not configured")
)

type balanceState interface {
	Balance(addr [20]byte) (*uint256.Int, error)
	SetBalance(addr [20]byte, amount *uint256.Int) error
}

// Ledger is the fungible-balance store the reward engines instruct to move
// value between identities.
type Ledger struct {
	state   balanceState
	emitter events.Emitter
}

// NewLedger binds a ledger to the state backend.
func NewLedger(state balanceState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || l.emitter == nil || evt == nil {
		return
	}
	l.emitter.Emit(types.Envelope{Evt: evt})
}

// BalanceOf returns the balance held by addr.
func (l *Ledger) BalanceOf(addr [20]byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.Balance(addr)
}

// Transfer moves amount from one identity to another. A zero amount is a
// no-op.
func (l *Ledger) Transfer(from, to [20]byte, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	fromBal, err := l.state.Balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := l.state.Balance(to)
	if err != nil {
		return err
	}
	nextTo, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.state.SetBalance(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.state.SetBalance(to, nextTo); err != nil {
		return err
	}
	l.emit(&types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"from":   hex.EncodeToString(from[:]),
		"to":     hex.EncodeToString(to[:]),
		"amount": amount.Dec(),
	}})
	return nil
}

// Credit mints amount into addr. Hosts use it to seed reward vaults.
func (l *Ledger) Credit(addr [20]byte, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	bal, err := l.state.Balance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.state.SetBalance(addr, next); err != nil {
		return err
	}
	l.emit(&types.Event{Type: EventTypeCredit, Attributes: map[string]string{
		"to":     hex.EncodeToString(addr[:]),
		"amount": amount.Dec(),
	}})
	return nil
}
