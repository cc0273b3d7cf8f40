package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"daoledger/config"
	"daoledger/core/host"
	"daoledger/crypto"
	"daoledger/native/authz"
	"daoledger/native/pool"
	"daoledger/storage"
)

const admin = "0x000000000000000000000000000000000000000f"

func bootstrapConfig() *config.Config {
	cfg := config.Default()
	cfg.Domain.Verifier = "0x00000000000000000000000000000000000000aa"
	cfg.Vaults.SeedRewards = "5000"
	cfg.Roles = []config.RoleGrant{{Capability: "vesting_admin", Addresses: []string{admin}}}
	cfg.Pools = []config.PoolSpec{
		{Name: "team", Limit: "2000", Funding: "1500"},
		{Name: "ecosystem"},
	}
	return cfg
}

func TestBootstrapIsIdempotent(t *testing.T) {
	cfg := bootstrapConfig()
	require.NoError(t, config.Validate(cfg))
	hcfg, err := hostConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, uint64(1), hcfg.Domain.ChainID)

	path := filepath.Join(t.TempDir(), "ledger")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	h := host.New(db, hcfg)
	require.NoError(t, bootstrap(h, hcfg, cfg, logger))
	require.NoError(t, bootstrap(h, hcfg, cfg, logger))
	h.Close()

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	h = host.New(db, hcfg)
	defer h.Close()
	require.NoError(t, bootstrap(h, hcfg, cfg, logger))

	addr, err := crypto.ParseAddress(admin)
	require.NoError(t, err)
	require.True(t, h.HasRole(authz.CapVestingAdmin, addr))

	require.NoError(t, h.View(func() error {
		balance, err := h.Bank.BalanceOf(hcfg.RewardsVault)
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(5000), balance)

		team, err := h.Pools.PoolByName("team")
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(1500), team.Allocated)
		require.Equal(t, uint256.NewInt(2000), team.Limit)

		eco, err := h.Pools.PoolByName("ecosystem")
		require.NoError(t, err)
		require.False(t, eco.Capped())
		return nil
	}))
}

func TestBootstrapRejectsOverfundedPool(t *testing.T) {
	cfg := bootstrapConfig()
	cfg.Pools = []config.PoolSpec{{Name: "team", Limit: "10", Funding: "11"}}
	hcfg, err := hostConfig(cfg)
	require.NoError(t, err)
	h := host.New(storage.NewMemDB(), hcfg)
	err = bootstrap(h, hcfg, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, err, pool.ErrLimitExceeded)

	require.NoError(t, h.View(func() error {
		exists, err := h.Pools.Exists(pool.MustID("team"))
		require.NoError(t, err)
		require.False(t, exists)
		return nil
	}))
}
