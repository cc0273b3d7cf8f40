package bounty

import ledgererrors "daoledger/core/errors"

var (
	ErrInvalidTask        = ledgererrors.New(ledgererrors.KindValidation, "bounty: invalid task")
	ErrInvalidDifficulty  = ledgererrors.New(ledgererrors.KindValidation, "bounty: difficulty must be between 1 and 5")
	ErrEmptySubmission    = ledgererrors.New(ledgererrors.KindValidation, "bounty: submission reference required")
	ErrTaskNotFound       = ledgererrors.New(ledgererrors.KindPrecondition, "bounty: task not found")
	ErrInvalidTransition  = ledgererrors.New(ledgererrors.KindPrecondition, "bounty: invalid status transition")
	ErrDeadlinePassed     = ledgererrors.New(ledgererrors.KindPrecondition, "bounty: deadline passed")
	ErrNotAssignee        = ledgererrors.New(ledgererrors.KindAuthorization, "bounty: caller is not the assignee")
	ErrInsufficientBudget = ledgererrors.New(ledgererrors.KindResource, "bounty: insufficient pool balance for reward")
	errNilState           = ledgererrors.New(ledgererrors.KindInternal, "bounty engine: state not configured")
	errNilPools           = ledgererrors.New(ledgererrors.KindInternal, "bounty engine: pool ledger not configured")
)
