package vesting

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/core/state"
	"daoledger/native/authz"
	"daoledger/native/bank"
	"daoledger/native/pool"
	"daoledger/storage"
)

var (
	admin       = [20]byte{0xAD}
	vault       = [20]byte{0xEE}
	beneficiary = [20]byte{0x01}
	stranger    = [20]byte{0x02}
)

type fixture struct {
	engine   *Engine
	pools    *pool.Engine
	ledger   *bank.Ledger
	recorder *events.Recorder
	clock    int64
}

func newFixture(t *testing.T, vaultFunds uint64) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	if vaultFunds > 0 {
		require.NoError(t, ledger.Credit(vault, uint256.NewInt(vaultFunds)))
	}
	oracle := authz.Static{}
	oracle.Grant(authz.CapVestingAdmin, admin)
	oracle.Grant(authz.CapDistributor, admin)
	port := authz.NewRoles(oracle)

	f := &fixture{ledger: ledger, recorder: &events.Recorder{}}
	clock := func() int64 { return f.clock }

	pools := pool.NewEngine()
	pools.SetState(mgr)
	pools.SetBank(ledger)
	pools.SetAuthorizer(port)
	pools.SetNowFunc(clock)
	_, err := pools.Provision("team", uint256.NewInt(2000), nil)
	require.NoError(t, err)

	engine := NewEngine()
	engine.SetState(mgr)
	engine.SetBank(ledger)
	engine.SetBudgets(pools)
	engine.SetAuthorizer(port)
	engine.SetVault(vault)
	engine.SetEmitter(f.recorder)
	engine.SetNowFunc(clock)
	f.engine = engine
	f.pools = pools
	return f
}

func (f *fixture) balance(t *testing.T, addr [20]byte) uint64 {
	t.Helper()
	bal, err := f.ledger.BalanceOf(addr)
	require.NoError(t, err)
	return bal.Uint64()
}

func scenarioParams() ScheduleParams {
	return ScheduleParams{
		Beneficiary: beneficiary,
		Amount:      uint256.NewInt(1200),
		Start:       0,
		Cliff:       100,
		Duration:    1000,
		Category:    "team",
	}
}

func TestScheduleLifecycleScenario(t *testing.T) {
	f := newFixture(t, 10_000)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	require.Equal(t, int64(0), s.Start)

	f.clock = 50
	_, err = f.engine.Release(beneficiary, s.ID)
	require.ErrorIs(t, err, ErrNothingToRelease)

	f.clock = 150
	amount, err := f.engine.Release(beneficiary, s.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(180), amount.Uint64())

	f.clock = 1000
	releasable, err := f.engine.Releasable(s.ID, f.clock)
	require.NoError(t, err)
	require.Equal(t, uint64(1020), releasable.Uint64())
	amount, err = f.engine.Release(beneficiary, s.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1020), amount.Uint64())

	require.Equal(t, uint64(1200), f.balance(t, beneficiary))
	require.Equal(t, uint64(8800), f.balance(t, vault))

	_, err = f.engine.Release(beneficiary, s.ID)
	require.ErrorIs(t, err, ErrNothingToRelease)
	require.Equal(t, ledgererrors.KindPrecondition, ledgererrors.KindOf(err))
}

func TestCreateScheduleValidation(t *testing.T) {
	f := newFixture(t, 0)
	f.clock = 500
	cases := map[string]func(p *ScheduleParams){
		"zero beneficiary": func(p *ScheduleParams) { p.Beneficiary = [20]byte{} },
		"zero amount":      func(p *ScheduleParams) { p.Amount = uint256.NewInt(0) },
		"nil amount":       func(p *ScheduleParams) { p.Amount = nil },
		"zero duration":    func(p *ScheduleParams) { p.Duration = 0 },
		"cliff > duration": func(p *ScheduleParams) { p.Cliff = 1001 },
		"start in past":    func(p *ScheduleParams) { p.Start = 499 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			params := scenarioParams()
			mutate(&params)
			_, err := f.engine.CreateSchedule(admin, params)
			require.ErrorIs(t, err, ErrInvalidSchedule)
			require.Equal(t, ledgererrors.KindValidation, ledgererrors.KindOf(err))
		})
	}

	params := scenarioParams()
	params.Category = "marketing"
	_, err := f.engine.CreateSchedule(admin, params)
	require.ErrorIs(t, err, ErrUnknownCategory)

	_, err = f.engine.CreateSchedule(stranger, scenarioParams())
	require.ErrorIs(t, err, authz.ErrMissingCapability)

	schedules, err := f.engine.SchedulesOf(beneficiary)
	require.NoError(t, err)
	require.Empty(t, schedules)
}

func TestCategoryBudget(t *testing.T) {
	f := newFixture(t, 0)
	first := scenarioParams()
	first.Amount = uint256.NewInt(1500)
	_, err := f.engine.CreateSchedule(admin, first)
	require.NoError(t, err)

	second := scenarioParams()
	second.Amount = uint256.NewInt(501)
	_, err = f.engine.CreateSchedule(admin, second)
	require.ErrorIs(t, err, ErrCategoryBudgetExceeded)
	require.Equal(t, ledgererrors.KindResource, ledgererrors.KindOf(err))

	second.Amount = uint256.NewInt(500)
	_, err = f.engine.CreateSchedule(admin, second)
	require.NoError(t, err)

	p, err := f.pools.PoolByName("team")
	require.NoError(t, err)
	require.Equal(t, uint64(2000), p.Allocated.Uint64())
}

func TestScheduleIDsUnique(t *testing.T) {
	f := newFixture(t, 0)
	params := scenarioParams()
	params.Amount = uint256.NewInt(10)
	params.Category = ""
	seen := make(map[[32]byte]bool)
	for i := 0; i < 5; i++ {
		s, err := f.engine.CreateSchedule(admin, params)
		require.NoError(t, err)
		require.False(t, seen[s.ID], "duplicate id")
		seen[s.ID] = true
	}
}

func TestReleaseRequiresBeneficiaryOrAdmin(t *testing.T) {
	f := newFixture(t, 10_000)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	f.clock = 500

	_, err = f.engine.Release(stranger, s.ID)
	require.ErrorIs(t, err, ErrNotBeneficiary)

	amount, err := f.engine.Release(admin, s.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(600), amount.Uint64())
	require.Equal(t, uint64(600), f.balance(t, beneficiary))
}

// reentrantBank calls back into the engine from inside the transfer.
type reentrantBank struct {
	*bank.Ledger
	engine  *Engine
	id      [32]byte
	reentry error
	calls   int
}

func (b *reentrantBank) Transfer(from, to [20]byte, amount *uint256.Int) error {
	b.calls++
	if b.calls == 1 {
		_, b.reentry = b.engine.Release(to, b.id)
	}
	return b.Ledger.Transfer(from, to, amount)
}

func TestReleaseCommitsBeforeTransfer(t *testing.T) {
	f := newFixture(t, 10_000)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)

	rb := &reentrantBank{Ledger: f.ledger, engine: f.engine, id: s.ID}
	f.engine.SetBank(rb)
	f.clock = 500

	amount, err := f.engine.Release(beneficiary, s.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(600), amount.Uint64())
	require.ErrorIs(t, rb.reentry, ErrNothingToRelease)
	require.Equal(t, uint64(600), f.balance(t, beneficiary))

	stored, err := f.engine.Schedule(s.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(600), stored.Released.Uint64())
}

func TestReleaseAll(t *testing.T) {
	f := newFixture(t, 10_000)
	a, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	other := scenarioParams()
	other.Amount = uint256.NewInt(400)
	other.Cliff = 0
	other.Duration = 200
	other.Revocable = true
	b, err := f.engine.CreateSchedule(admin, other)
	require.NoError(t, err)

	_, err = f.engine.ReleaseAll(beneficiary)
	require.ErrorIs(t, err, ErrNothingToRelease)

	f.clock = 100
	total, err := f.engine.ReleaseAll(beneficiary)
	require.NoError(t, err)
	// 1200*100/1000 + 400*100/200
	require.Equal(t, uint64(320), total.Uint64())
	require.Equal(t, uint64(320), f.balance(t, beneficiary))

	_, err = f.engine.Revoke(admin, b.ID)
	require.NoError(t, err)

	f.clock = 200
	total, err = f.engine.ReleaseAll(beneficiary)
	require.NoError(t, err)
	require.Equal(t, uint64(120), total.Uint64())

	summary, err := f.engine.Summary(beneficiary, f.clock)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Schedules)
	require.Equal(t, 1, summary.Active)
	require.Equal(t, uint64(440), summary.Released.Uint64())
	require.True(t, summary.Releasable.IsZero())

	sa, err := f.engine.Schedule(a.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(240), sa.Released.Uint64())

	types := f.recorder.Types()
	require.Equal(t, EventTypeReleasedAll, types[len(types)-1])
}

func TestRevokeReleasesVestedAndFreezes(t *testing.T) {
	f := newFixture(t, 10_000)
	params := scenarioParams()
	params.Revocable = true
	s, err := f.engine.CreateSchedule(admin, params)
	require.NoError(t, err)

	f.clock = 150
	revoked, err := f.engine.Revoke(admin, s.ID)
	require.NoError(t, err)
	require.True(t, revoked.Revoked)
	require.Equal(t, uint64(180), revoked.Released.Uint64())
	require.Equal(t, uint64(180), f.balance(t, beneficiary))

	p, err := f.pools.PoolByName("team")
	require.NoError(t, err)
	require.Equal(t, uint64(180), p.Allocated.Uint64())
	require.Equal(t, uint64(180), p.Reserved.Uint64())
	require.True(t, p.Available().IsZero())

	for _, now := range []int64{151, 999, 1000, 100_000} {
		f.clock = now
		require.Equal(t, uint64(180), VestedAmount(revoked, now).Uint64())
		_, err := f.engine.Release(beneficiary, s.ID)
		require.ErrorIs(t, err, ErrScheduleRevoked)
	}

	_, err = f.engine.Revoke(admin, s.ID)
	require.ErrorIs(t, err, ErrAlreadyRevoked)
}

func TestRevokeRequiresRevocable(t *testing.T) {
	f := newFixture(t, 10_000)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	_, err = f.engine.Revoke(admin, s.ID)
	require.ErrorIs(t, err, ErrNotRevocable)
	_, err = f.engine.Revoke(stranger, s.ID)
	require.True(t, errors.Is(err, authz.ErrMissingCapability))
}

func TestCategoryReservationNotDistributable(t *testing.T) {
	f := newFixture(t, 10_000)
	params := scenarioParams()
	params.Amount = uint256.NewInt(2000)
	params.Revocable = true
	s, err := f.engine.CreateSchedule(admin, params)
	require.NoError(t, err)

	team := pool.MustID("team")
	err = f.pools.Distribute(admin, team, stranger, uint256.NewInt(2000), "")
	require.ErrorIs(t, err, pool.ErrInsufficientPoolBalance)
	err = f.pools.Payout(team, stranger, uint256.NewInt(1), "")
	require.ErrorIs(t, err, pool.ErrInsufficientPoolBalance)

	p, err := f.pools.Pool(team)
	require.NoError(t, err)
	require.Equal(t, uint64(2000), p.Reserved.Uint64())
	require.True(t, p.Distributed.IsZero())

	f.clock = 50
	revoked, err := f.engine.Revoke(admin, s.ID)
	require.NoError(t, err)
	require.True(t, revoked.Released.IsZero())

	p, err = f.pools.Pool(team)
	require.NoError(t, err)
	require.True(t, p.Allocated.IsZero())
	require.True(t, p.Reserved.IsZero())
	require.Zero(t, f.balance(t, stranger))
}

type failingBudgets struct {
	*pool.Engine
}

func (failingBudgets) Deallocate(pool.ID, *uint256.Int) error {
	return pool.ErrDeallocateExceedsReserved
}

func TestRevokeFailureLeavesScheduleUntouched(t *testing.T) {
	f := newFixture(t, 10_000)
	params := scenarioParams()
	params.Revocable = true
	s, err := f.engine.CreateSchedule(admin, params)
	require.NoError(t, err)
	f.engine.SetBudgets(failingBudgets{f.pools})

	f.clock = 150
	_, err = f.engine.Revoke(admin, s.ID)
	require.ErrorIs(t, err, pool.ErrDeallocateExceedsReserved)

	stored, err := f.engine.Schedule(s.ID)
	require.NoError(t, err)
	require.False(t, stored.Revoked)
	require.True(t, stored.Released.IsZero())
	require.Zero(t, f.balance(t, beneficiary))
}

func TestReleaseConservation(t *testing.T) {
	f := newFixture(t, 10_000)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	for now := int64(0); now <= 1100; now += 37 {
		f.clock = now
		_, _ = f.engine.Release(beneficiary, s.ID)
		stored, err := f.engine.Schedule(s.ID)
		require.NoError(t, err)
		require.False(t, stored.Released.Gt(VestedAmount(stored, now)))
		require.Equal(t, stored.Released.Uint64(), f.balance(t, beneficiary))
	}
}

func TestVaultUnderfunded(t *testing.T) {
	f := newFixture(t, 100)
	s, err := f.engine.CreateSchedule(admin, scenarioParams())
	require.NoError(t, err)
	f.clock = 500
	_, err = f.engine.Release(beneficiary, s.ID)
	require.ErrorIs(t, err, ErrVaultUnderfunded)
	stored, err := f.engine.Schedule(s.ID)
	require.NoError(t, err)
	require.True(t, stored.Released.IsZero())
}
