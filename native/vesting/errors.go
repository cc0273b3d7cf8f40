package vesting

import ledgererrors "daoledger/core/errors"

var (
	ErrInvalidSchedule        = ledgererrors.New(ledgererrors.KindValidation, "vesting: invalid schedule")
	ErrUnknownCategory        = ledgererrors.New(ledgererrors.KindValidation, "vesting: unknown category")
	ErrScheduleNotFound       = ledgererrors.New(ledgererrors.KindPrecondition, "vesting: schedule not found")
	ErrScheduleRevoked        = ledgererrors.New(ledgererrors.KindPrecondition, "vesting: schedule revoked")
	ErrNotRevocable           = ledgererrors.New(ledgererrors.KindPrecondition, "vesting: schedule not revocable")
	ErrAlreadyRevoked         = ledgererrors.New(ledgererrors.KindPrecondition, "vesting: schedule already revoked")
	ErrNothingToRelease       = ledgererrors.New(ledgererrors.KindPrecondition, "vesting: nothing to release")
	ErrNotBeneficiary         = ledgererrors.New(ledgererrors.KindAuthorization, "vesting: caller is not the beneficiary")
	ErrCategoryBudgetExceeded = ledgererrors.New(ledgererrors.KindResource, "vesting: category budget exceeded")
	ErrVaultUnderfunded       = ledgererrors.New(ledgererrors.KindResource, "vesting: vault underfunded")
	ErrScheduleIDCollision    = ledgererrors.New(ledgererrors.KindInternal, "vesting: schedule id collision")
	errNilState               = ledgererrors.New(ledgererrors.KindInternal, "vesting engine: state not configured")
	errNilBank                = ledgererrors.New(ledgererrors.KindInternal, "vesting engine: bank not configured")
)
