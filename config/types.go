package config

import (
	"daoledger/native/common"
)

// Domain binds signed completion attestations to one deployment.
type Domain struct {
	ChainID  uint64 `toml:"ChainID"`
	Verifier string `toml:"Verifier"`
}

// Vaults names the accounts that back payouts.
type Vaults struct {
	Vesting string `toml:"Vesting"`
	Rewards string `toml:"Rewards"`
	// Seed mints initial balances into the vaults on first start.
	SeedVesting string `toml:"SeedVesting,omitempty"`
	SeedRewards string `toml:"SeedRewards,omitempty"`
}

// RoleGrant assigns a capability to a set of addresses at bootstrap.
type RoleGrant struct {
	Capability string   `toml:"Capability"`
	Addresses  []string `toml:"Addresses"`
}

// PoolSpec provisions a pool at bootstrap. Amounts are decimal base units; an
// empty or zero Limit leaves the pool uncapped.
type PoolSpec struct {
	Name    string `toml:"Name"`
	Limit   string `toml:"Limit"`
	Funding string `toml:"Funding"`
}

// Pauses lists modules whose mutating operations are halted.
type Pauses struct {
	Pool     bool `toml:"Pool"`
	Vesting  bool `toml:"Vesting"`
	Training bool `toml:"Training"`
	Bounty   bool `toml:"Bounty"`
}

// View converts the flags into the guard consulted by the engines.
func (p Pauses) View() common.Pauses {
	return common.Pauses{
		common.ModulePool:     p.Pool,
		common.ModuleVesting:  p.Vesting,
		common.ModuleTraining: p.Training,
		common.ModuleBounty:   p.Bounty,
	}
}

// Indexer configures the SQL audit sink. An empty DSN disables it.
type Indexer struct {
	DSN string `toml:"DSN"`
}

// Webhook forwards committed events to an HTTP endpoint when Endpoint is set.
// The HMAC secret is read from the environment variable named by SecretEnv.
type Webhook struct {
	Endpoint    string   `toml:"Endpoint"`
	SecretEnv   string   `toml:"SecretEnv"`
	Events      []string `toml:"Events"`
	MaxAttempts int      `toml:"MaxAttempts"`
}

// Gateway tunes the HTTP query surface.
type Gateway struct {
	AllowedOrigins []string `toml:"AllowedOrigins"`
	RatePerSecond  float64  `toml:"RatePerSecond"`
	Burst          int      `toml:"Burst"`
	LogRequests    bool     `toml:"LogRequests"`
	// AuthSecretEnv names the environment variable holding the HS256 secret
	// for audit export tokens. Empty leaves the export unauthenticated.
	AuthSecretEnv string `toml:"AuthSecretEnv"`
	AuthIssuer    string `toml:"AuthIssuer"`
	AuthAudience  string `toml:"AuthAudience"`
}

// Telemetry configures OTLP export. Headers uses the key=value,key=value form
// of OTEL_EXPORTER_OTLP_HEADERS.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}
