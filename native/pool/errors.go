package pool

import ledgererrors "daoledger/core/errors"

var (
	ErrInvalidName               = ledgererrors.New(ledgererrors.KindValidation, "pool: invalid name")
	ErrInvalidAmount             = ledgererrors.New(ledgererrors.KindValidation, "pool: amount must be positive")
	ErrInvalidRecipient          = ledgererrors.New(ledgererrors.KindValidation, "pool: recipient required")
	ErrBatchLengthMismatch       = ledgererrors.New(ledgererrors.KindValidation, "pool: recipients and amounts length mismatch")
	ErrEmptyBatch                = ledgererrors.New(ledgererrors.KindValidation, "pool: empty batch")
	ErrAmountOverflow            = ledgererrors.New(ledgererrors.KindValidation, "pool: amount overflow")
	ErrAlreadyInitialized        = ledgererrors.New(ledgererrors.KindPrecondition, "pool: already initialized")
	ErrPoolNotFound              = ledgererrors.New(ledgererrors.KindPrecondition, "pool: not found")
	ErrPoolInactive              = ledgererrors.New(ledgererrors.KindPrecondition, "pool: inactive")
	ErrLimitBelowAllocated       = ledgererrors.New(ledgererrors.KindPrecondition, "pool: limit below allocated")
	ErrDeallocateExceedsReserved = ledgererrors.New(ledgererrors.KindPrecondition, "pool: deallocation exceeds reservation")
	ErrLimitExceeded             = ledgererrors.New(ledgererrors.KindResource, "pool: limit exceeded")
	ErrInsufficientPoolBalance   = ledgererrors.New(ledgererrors.KindResource, "pool: insufficient pool balance")
	ErrVaultUnderfunded          = ledgererrors.New(ledgererrors.KindResource, "pool: reward vault underfunded")
	errNilState                  = ledgererrors.New(ledgererrors.KindInternal, "pool engine: state not configured")
	errNilBank                   = ledgererrors.New(ledgererrors.KindInternal, "pool engine: bank not configured")
)
