package runtime

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// Config holds bank configuration.
type Config struct {
	// ComputeUnitLimit is the per-transaction compute budget.
	ComputeUnitLimit uint64 `yaml:"compute_unit_limit"`

	// SlotsPerEpoch derives the clock epoch from the slot.
	SlotsPerEpoch uint64 `yaml:"slots_per_epoch"`

	// MaxCPIDepth is the maximum cross-program invocation nesting below the
	// top-level instruction.
	MaxCPIDepth int `yaml:"max_cpi_depth"`

	// SkipSignatureVerification accepts unsigned transactions. Tests only.
	SkipSignatureVerification bool `yaml:"skip_signature_verification"`

	// GenesisUnixTimestamp is the clock timestamp at slot 0.
	GenesisUnixTimestamp int64 `yaml:"genesis_unix_timestamp"`

	Rent     RentConfig     `yaml:"rent"`
	Accounts AccountsConfig `yaml:"accounts"`
	Ledger   LedgerConfig   `yaml:"ledger"`

	// Logger receives structured bank logs.
	Logger logrus.FieldLogger `yaml:"-"`

	// Registerer receives bank metrics. Nil disables metrics.
	Registerer prometheus.Registerer `yaml:"-"`
}

// RentConfig holds the rent sysvar parameters.
type RentConfig struct {
	LamportsPerByteYear uint64  `yaml:"lamports_per_byte_year"`
	ExemptionThreshold  float64 `yaml:"exemption_threshold"`
	BurnPercent         uint8   `yaml:"burn_percent"`
}

// AccountsConfig selects the account store.
type AccountsConfig struct {
	// Path is the BadgerDB directory. Empty keeps accounts in memory.
	Path string `yaml:"path"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`
}

// LedgerConfig selects the transaction ledger.
type LedgerConfig struct {
	// Path is the BoltDB file. Empty disables the ledger.
	Path string `yaml:"path"`

	// NoSync disables fsync after each write.
	NoSync bool `yaml:"no_sync"`
}

// DefaultConfig returns the default bank configuration.
func DefaultConfig() Config {
	rent := svm.DefaultRent()
	return Config{
		ComputeUnitLimit: svm.CUDefault,
		SlotsPerEpoch:    432_000,
		MaxCPIDepth:      svm.CPIDepthMax,
		Rent: RentConfig{
			LamportsPerByteYear: rent.LamportsPerByteYear,
			ExemptionThreshold:  rent.ExemptionThreshold,
			BurnPercent:         rent.BurnPercent,
		},
		Accounts: AccountsConfig{SyncWrites: true},
		Logger:   logrus.StandardLogger(),
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the bank cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.ComputeUnitLimit == 0:
		return fmt.Errorf("%w: compute_unit_limit must be positive", ErrInvalidConfig)
	case c.SlotsPerEpoch == 0:
		return fmt.Errorf("%w: slots_per_epoch must be positive", ErrInvalidConfig)
	case c.MaxCPIDepth < 0:
		return fmt.Errorf("%w: max_cpi_depth must not be negative", ErrInvalidConfig)
	case c.Rent.ExemptionThreshold < 0:
		return fmt.Errorf("%w: rent exemption_threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) rent() svm.Rent {
	return svm.Rent{
		LamportsPerByteYear: c.Rent.LamportsPerByteYear,
		ExemptionThreshold:  c.Rent.ExemptionThreshold,
		BurnPercent:         c.Rent.BurnPercent,
	}
}
