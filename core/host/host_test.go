package host

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daoledger/core/events"
	ledgererrors "daoledger/core/errors"
	"daoledger/native/authz"
	"daoledger/native/bank"
	"daoledger/native/common"
	"daoledger/native/pool"
	"daoledger/native/vesting"
	"daoledger/storage"
)

var (
	operator     = [20]byte{0x0F}
	vestingVault = [20]byte{0xE1}
	rewardsVault = [20]byte{0xE2}
	holder       = [20]byte{0x01}
)

func newTestHost(t *testing.T, db storage.Database, sink events.Emitter) *Host {
	t.Helper()
	h := New(db, Config{
		VestingVault: vestingVault,
		RewardsVault: rewardsVault,
		Now:          func() int64 { return 0 },
	}, WithSink(sink))
	for _, capability := range authz.Capabilities() {
		require.NoError(t, h.GrantRole(capability, operator))
	}
	return h
}

func TestExecuteCommitsAndFlushes(t *testing.T) {
	rec := &events.Recorder{}
	h := newTestHost(t, storage.NewMemDB(), rec)
	require.NoError(t, h.Mint(rewardsVault, uint256.NewInt(500)))

	err := h.Execute("pool.create", func() error {
		_, err := h.Pools.CreatePool(operator, "grants", uint256.NewInt(100))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{bank.EventTypeCredit, pool.EventTypePoolCreated}, rec.Types())
}

func TestExecuteRevertsOnError(t *testing.T) {
	rec := &events.Recorder{}
	h := newTestHost(t, storage.NewMemDB(), rec)
	require.NoError(t, h.Execute("pool.create", func() error {
		_, err := h.Pools.CreatePool(operator, "grants", uint256.NewInt(100))
		return err
	}))
	before := len(rec.Events)

	boom := errors.New("boom")
	err := h.Execute("pool.fund", func() error {
		if _, err := h.Pools.FundPool(operator, pool.MustID("grants"), uint256.NewInt(60)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, rec.Events, before)

	require.NoError(t, h.View(func() error {
		p, err := h.Pools.PoolByName("grants")
		require.NoError(t, err)
		require.True(t, p.Allocated.IsZero())
		return nil
	}))
}

func TestExecuteRecoversPanics(t *testing.T) {
	h := newTestHost(t, storage.NewMemDB(), nil)
	err := h.Execute("explode", func() error { panic("bad") })
	require.Error(t, err)
	require.Equal(t, ledgererrors.KindInternal, ledgererrors.KindOf(err))
}

func TestObserverSeesOutcome(t *testing.T) {
	var seen []string
	h := New(storage.NewMemDB(), Config{}, WithObserver(func(op string, err error, _ time.Duration) {
		outcome := "ok"
		if err != nil {
			outcome = ledgererrors.KindOf(err).String()
		}
		seen = append(seen, op+":"+outcome)
	}))
	_ = h.Execute("pool.create", func() error {
		_, err := h.Pools.CreatePool(operator, "grants", nil)
		return err
	})
	require.Equal(t, []string{"pool.create:authorization"}, seen)
}

func TestPausedModule(t *testing.T) {
	h := New(storage.NewMemDB(), Config{Pauses: common.Pauses{common.ModuleVesting: true}})
	require.NoError(t, h.GrantRole(authz.CapVestingAdmin, operator))
	err := h.Execute("vesting.create", func() error {
		_, err := h.Vesting.CreateSchedule(operator, vesting.ScheduleParams{
			Beneficiary: holder, Amount: uint256.NewInt(1), Duration: 1,
		})
		return err
	})
	require.ErrorIs(t, err, common.ErrModulePaused)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	h := newTestHost(t, db, nil)
	require.NoError(t, h.Mint(vestingVault, uint256.NewInt(1_000)))
	var id [32]byte
	require.NoError(t, h.Execute("vesting.create", func() error {
		s, err := h.Vesting.CreateSchedule(operator, vesting.ScheduleParams{
			Beneficiary: holder, Amount: uint256.NewInt(1_000), Duration: 10,
		})
		if err != nil {
			return err
		}
		id = s.ID
		return nil
	}))
	h.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	reopened := New(db, Config{VestingVault: vestingVault, Now: func() int64 { return 5 }})
	defer reopened.Close()
	require.True(t, reopened.HasRole(authz.CapVestingAdmin, operator))
	require.NoError(t, reopened.Execute("vesting.release", func() error {
		amount, err := reopened.Vesting.Release(holder, id)
		if err != nil {
			return err
		}
		require.Equal(t, uint64(500), amount.Uint64())
		return nil
	}))
	require.NoError(t, reopened.View(func() error {
		bal, err := reopened.Bank.BalanceOf(holder)
		require.NoError(t, err)
		require.Equal(t, uint64(500), bal.Uint64())
		return nil
	}))
}
