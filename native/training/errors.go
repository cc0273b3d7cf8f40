package training

import ledgererrors "daoledger/core/errors"

var (
	ErrInvalidCampaign  = ledgererrors.New(ledgererrors.KindValidation, "training: invalid campaign")
	ErrInvalidLearner   = ledgererrors.New(ledgererrors.KindValidation, "training: learner required")
	ErrInvalidReward    = ledgererrors.New(ledgererrors.KindValidation, "training: invalid reward")
	ErrCampaignExists   = ledgererrors.New(ledgererrors.KindPrecondition, "training: campaign already exists")
	ErrCampaignNotFound = ledgererrors.New(ledgererrors.KindPrecondition, "training: campaign not found")
	ErrCampaignInactive = ledgererrors.New(ledgererrors.KindPrecondition, "training: campaign inactive")
	ErrAlreadyCompleted = ledgererrors.New(ledgererrors.KindPrecondition, "training: already completed")
	ErrDigestConsumed   = ledgererrors.New(ledgererrors.KindPrecondition, "training: authorization already consumed")
	ErrBudgetExhausted  = ledgererrors.New(ledgererrors.KindResource, "training: campaign budget exhausted")
	ErrVaultUnderfunded = ledgererrors.New(ledgererrors.KindResource, "training: reward vault underfunded")
	errNilState         = ledgererrors.New(ledgererrors.KindInternal, "training engine: state not configured")
	errNilPools         = ledgererrors.New(ledgererrors.KindInternal, "training engine: pool ledger not configured")
)
