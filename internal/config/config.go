// Package config loads the daemon configuration from the environment.
// All variables share the RECOVERYD_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/keeperhq/recoveryd/internal/pkg/types"
	"github.com/keeperhq/recoveryd/internal/pkg/validator"
)

// envPrefix namespaces every environment variable this package reads.
const envPrefix = "recoveryd"

// ProviderSpec is one RPC provider entry, written as "name=url" in the
// RECOVERYD_RPC_PROVIDERS list. List order sets provider priority.
type ProviderSpec struct {
	Name string
	URL  string
}

// Decode implements envconfig.Decoder.
func (p *ProviderSpec) Decode(value string) error {
	name, url, ok := strings.Cut(value, "=")
	if !ok || name == "" || url == "" {
		return fmt.Errorf("provider entry %q is not in name=url form", value)
	}

	p.Name = strings.TrimSpace(name)
	p.URL = strings.TrimSpace(url)
	return nil
}

// Redis configures the optional mission status mirror. The mirror is
// enabled when Addr is set.
type Redis struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Username string `envconfig:"REDIS_USERNAME"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB"`
}

// Enabled reports whether the mirror should be wired.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Config is the complete daemon configuration.
type Config struct {
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"false"`

	Providers          []ProviderSpec `envconfig:"RPC_PROVIDERS" required:"true" validate:"min=1"`
	ProviderTimeout    time.Duration  `envconfig:"PROVIDER_TIMEOUT" default:"5s"`
	ProviderMaxRetries uint           `envconfig:"PROVIDER_MAX_RETRIES" default:"3"`
	ProbeFanOut        int            `envconfig:"PROVIDER_PROBE_FANOUT" default:"4"`

	SourceAddress      string `envconfig:"SOURCE_ADDRESS" validate:"required"`
	DestinationAddress string `envconfig:"DESTINATION_ADDRESS" validate:"required"`

	// SignerEndpoint is the signer daemon assembling and signing raw
	// transactions, normally on loopback.
	SignerEndpoint string `envconfig:"SIGNER_ENDPOINT" default:"http://127.0.0.1:4700" validate:"url"`

	VaultPath     string `envconfig:"VAULT_PATH" default:"data/vault.json"`
	VaultPassword string `envconfig:"VAULT_PASSWORD"`
	StatePath     string `envconfig:"STATE_PATH" default:"data/state.json"`

	BridgeMaker       string       `envconfig:"BRIDGE_MAKER_ADDRESS" validate:"required"`
	TransitSigningKey string       `envconfig:"TRANSIT_SIGNING_KEY"`
	BridgeReserve     types.Amount `envconfig:"BRIDGE_RESERVE" default:"0.001"`
	MintThreshold     types.Amount `envconfig:"MINT_THRESHOLD" default:"0"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"15s"`

	Redis Redis
}

// Load reads and validates the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, err
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
