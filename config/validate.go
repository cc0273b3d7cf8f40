package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"daoledger/crypto"
	"daoledger/native/authz"
	"daoledger/native/pool"
	"daoledger/native/training"
)

// Validate checks the configuration for values the node cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config: nil")
	}
	if cfg.Domain.ChainID == 0 {
		return errors.New("domain: ChainID must be non-zero")
	}
	if strings.TrimSpace(cfg.Domain.Verifier) != "" {
		if _, err := crypto.ParseAddress(cfg.Domain.Verifier); err != nil {
			return fmt.Errorf("domain: Verifier: %w", err)
		}
	}
	vesting, err := crypto.ParseAddress(cfg.Vaults.Vesting)
	if err != nil {
		return fmt.Errorf("vaults: Vesting: %w", err)
	}
	rewards, err := crypto.ParseAddress(cfg.Vaults.Rewards)
	if err != nil {
		return fmt.Errorf("vaults: Rewards: %w", err)
	}
	if vesting == rewards {
		return errors.New("vaults: Vesting and Rewards must differ")
	}
	if _, err := ParseAmount(cfg.Vaults.SeedVesting); err != nil {
		return fmt.Errorf("vaults: SeedVesting: %w", err)
	}
	if _, err := ParseAmount(cfg.Vaults.SeedRewards); err != nil {
		return fmt.Errorf("vaults: SeedRewards: %w", err)
	}
	for i, grant := range cfg.Roles {
		if _, err := authz.ParseCapability(grant.Capability); err != nil {
			return fmt.Errorf("roles[%d]: %w", i, err)
		}
		for _, addr := range grant.Addresses {
			if _, err := crypto.ParseAddress(addr); err != nil {
				return fmt.Errorf("roles[%d]: address %q: %w", i, addr, err)
			}
		}
	}
	seen := make(map[string]struct{}, len(cfg.Pools))
	for i, spec := range cfg.Pools {
		name, err := pool.NormalizeName(spec.Name)
		if err != nil {
			return fmt.Errorf("pools[%d]: %w", i, err)
		}
		if strings.HasPrefix(name, training.PoolPrefix) {
			return fmt.Errorf("pools[%d]: prefix %q is reserved for campaigns", i, training.PoolPrefix)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("pools[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		limit, err := ParseAmount(spec.Limit)
		if err != nil {
			return fmt.Errorf("pools[%d]: Limit: %w", i, err)
		}
		funding, err := ParseAmount(spec.Funding)
		if err != nil {
			return fmt.Errorf("pools[%d]: Funding: %w", i, err)
		}
		if !limit.IsZero() && funding.Gt(limit) {
			return fmt.Errorf("pools[%d]: Funding %s above Limit %s", i, funding.Dec(), limit.Dec())
		}
	}
	if strings.TrimSpace(cfg.Webhook.Endpoint) != "" && strings.TrimSpace(cfg.Webhook.SecretEnv) == "" {
		return errors.New("webhook: SecretEnv required when Endpoint is set")
	}
	if strings.TrimSpace(cfg.Gateway.AuthSecretEnv) == "" && (cfg.Gateway.AuthIssuer != "" || cfg.Gateway.AuthAudience != "") {
		return fmt.Errorf("gateway: AuthIssuer and AuthAudience require AuthSecretEnv")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry: SampleRatio %v outside [0,1]", r)
	}
	return nil
}

// ParseAmount parses a decimal base-unit amount. Empty means zero.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}
