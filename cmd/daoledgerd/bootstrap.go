package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/holiman/uint256"

	"daoledger/config"
	"daoledger/core/host"
	"daoledger/crypto"
	"daoledger/native/authz"
	"daoledger/native/pool"
	"daoledger/native/training"
)

// hostConfig derives the engine parameters from the node configuration.
func hostConfig(cfg *config.Config) (host.Config, error) {
	var out host.Config
	vesting, err := crypto.ParseAddress(cfg.Vaults.Vesting)
	if err != nil {
		return out, fmt.Errorf("vesting vault: %w", err)
	}
	rewards, err := crypto.ParseAddress(cfg.Vaults.Rewards)
	if err != nil {
		return out, fmt.Errorf("rewards vault: %w", err)
	}
	domain := training.Domain{ChainID: cfg.Domain.ChainID}
	if strings.TrimSpace(cfg.Domain.Verifier) != "" {
		if domain.Verifier, err = crypto.ParseAddress(cfg.Domain.Verifier); err != nil {
			return out, fmt.Errorf("verifier: %w", err)
		}
	}
	out = host.Config{
		Domain:       domain,
		VestingVault: vesting,
		RewardsVault: rewards,
		Pauses:       cfg.Pauses.View(),
	}
	return out, nil
}

// bootstrap applies configured roles, vault seeds and pools. Each step checks
// current state first so restarts are no-ops.
func bootstrap(h *host.Host, hcfg host.Config, cfg *config.Config, logger *slog.Logger) error {
	for _, grant := range cfg.Roles {
		capability, err := authz.ParseCapability(grant.Capability)
		if err != nil {
			return err
		}
		for _, raw := range grant.Addresses {
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return err
			}
			if h.HasRole(capability, addr) {
				continue
			}
			if err := h.GrantRole(capability, addr); err != nil {
				return fmt.Errorf("grant %s: %w", capability, err)
			}
			logger.Info("role granted",
				slog.String("capability", string(capability)),
				slog.String("address", raw))
		}
	}

	seeds := []struct {
		name  string
		vault [20]byte
		raw   string
	}{
		{"vesting", hcfg.VestingVault, cfg.Vaults.SeedVesting},
		{"rewards", hcfg.RewardsVault, cfg.Vaults.SeedRewards},
	}
	for _, seed := range seeds {
		amount, err := config.ParseAmount(seed.raw)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			continue
		}
		var balance *uint256.Int
		if err := h.View(func() error {
			var err error
			balance, err = h.Bank.BalanceOf(seed.vault)
			return err
		}); err != nil {
			return err
		}
		if !balance.IsZero() {
			continue
		}
		if err := h.Mint(seed.vault, amount); err != nil {
			return fmt.Errorf("seed %s vault: %w", seed.name, err)
		}
		logger.Info("vault seeded", slog.String("module", seed.name), slog.String("amount", amount.Dec()))
	}

	for _, spec := range cfg.Pools {
		id, err := pool.IDFromName(spec.Name)
		if err != nil {
			return err
		}
		var exists bool
		if err := h.View(func() error {
			var err error
			exists, err = h.Pools.Exists(id)
			return err
		}); err != nil {
			return err
		}
		if exists {
			continue
		}
		limit, err := config.ParseAmount(spec.Limit)
		if err != nil {
			return err
		}
		funding, err := config.ParseAmount(spec.Funding)
		if err != nil {
			return err
		}
		if err := h.Execute("pool.provision", func() error {
			_, err := h.Pools.Provision(spec.Name, limit, funding)
			return err
		}); err != nil {
			return fmt.Errorf("provision pool %s: %w", spec.Name, err)
		}
		logger.Info("pool provisioned", slog.String("pool", spec.Name))
	}
	return nil
}
