// Package scenario runs scripted staking sessions against a bank: it creates a
// mint, a vault and funded users, initializes a pool, and applies a list of
// stake, unstake, admin and clock steps, checking each result.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/staking"
)

var (
	// ErrInvalidScenario is returned for a malformed scenario file.
	ErrInvalidScenario = errors.New("invalid scenario")

	// ErrUnexpectedResult is returned when a step fails without an expected
	// error, or succeeds or fails differently than expected.
	ErrUnexpectedResult = errors.New("unexpected step result")
)

// Scenario is one scripted session.
type Scenario struct {
	Pool  Pool              `yaml:"pool"`
	Users map[string]uint64 `yaml:"users"`
	Steps []Step            `yaml:"steps"`
}

// Pool describes the mint and contract configuration.
type Pool struct {
	// TokenProgram is "token" or "token-2022".
	TokenProgram string       `yaml:"token_program"`
	Decimals     uint8        `yaml:"decimals"`
	TransferFee  *TransferFee `yaml:"transfer_fee,omitempty"`

	// Rewards is minted to the vault after Init to fund interest.
	Rewards uint64 `yaml:"rewards"`

	MinimumStakeAmount  uint64 `yaml:"minimum_stake_amount"`
	MinimumLockDuration uint64 `yaml:"minimum_lock_duration"`
	NormalApy           uint64 `yaml:"normal_apy"`
	LockedApy           uint64 `yaml:"locked_apy"`
	EarlyWithdrawalFee  uint64 `yaml:"early_withdrawal_fee"`
	FeeBasisPoints      uint64 `yaml:"fee_basis_points"`
	MaxFee              uint64 `yaml:"max_fee"`
}

// TransferFee is a Token-2022 transfer fee schedule.
type TransferFee struct {
	BasisPoints uint16 `yaml:"basis_points"`
	MaximumFee  uint64 `yaml:"maximum_fee"`
}

// Step is one action. Exactly one action field is set.
type Step struct {
	Stake                *StakeStep          `yaml:"stake,omitempty"`
	Unstake              *UnstakeStep        `yaml:"unstake,omitempty"`
	UpdateApy            *ApyStep            `yaml:"update_apy,omitempty"`
	UpdateTransferConfig *TransferConfigStep `yaml:"update_transfer_config,omitempty"`
	SetTransferFee       *TransferFee        `yaml:"set_transfer_fee,omitempty"`

	// Warp advances the clock by a Go duration such as "36h".
	Warp string `yaml:"warp,omitempty"`

	// ExpectError names the staking error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// StakeStep stakes for a user.
type StakeStep struct {
	User         string `yaml:"user"`
	Type         string `yaml:"type"`
	Amount       uint64 `yaml:"amount"`
	LockDuration uint64 `yaml:"lock_duration,omitempty"`
}

// UnstakeStep unstakes a user's whole position.
type UnstakeStep struct {
	User string `yaml:"user"`
}

// ApyStep updates the pool APYs.
type ApyStep struct {
	Normal uint64 `yaml:"normal"`
	Locked uint64 `yaml:"locked"`
}

// TransferConfigStep updates the recorded transfer config.
type TransferConfigStep struct {
	FeeBasisPoints uint64 `yaml:"fee_basis_points"`
	MaxFee         uint64 `yaml:"max_fee"`
}

// Op returns the step's action name.
func (s *Step) Op() string {
	switch {
	case s.Stake != nil:
		return "stake"
	case s.Unstake != nil:
		return "unstake"
	case s.UpdateApy != nil:
		return "update_apy"
	case s.UpdateTransferConfig != nil:
		return "update_transfer_config"
	case s.SetTransferFee != nil:
		return "set_transfer_fee"
	case s.Warp != "":
		return "warp"
	default:
		return ""
	}
}

func (s *Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Stake != nil, s.Unstake != nil, s.UpdateApy != nil,
		s.UpdateTransferConfig != nil, s.SetTransferFee != nil, s.Warp != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func tokenProgram(name string) (types.Pubkey, error) {
	switch name {
	case "", "token-2022":
		return types.Token2022ProgramAddr, nil
	case "token":
		return types.TokenProgramAddr, nil
	default:
		return types.Pubkey{}, fmt.Errorf("%w: unknown token program %q", ErrInvalidScenario, name)
	}
}

func stakeType(name string) (staking.StakeType, error) {
	switch name {
	case "normal", "NORMAL":
		return staking.StakeNormal, nil
	case "locked", "LOCKED":
		return staking.StakeLocked, nil
	default:
		return 0, fmt.Errorf("%w: unknown stake type %q", ErrInvalidScenario, name)
	}
}

// Validate checks the scenario's structure. Contract policy is left to the
// program.
func (sc *Scenario) Validate() error {
	if _, err := tokenProgram(sc.Pool.TokenProgram); err != nil {
		return err
	}
	if sc.Pool.TransferFee != nil && sc.Pool.TokenProgram == "token" {
		return fmt.Errorf("%w: transfer fees need token-2022", ErrInvalidScenario)
	}
	user := func(i int, name string) error {
		if _, ok := sc.Users[name]; !ok {
			return fmt.Errorf("%w: step %d: unknown user %q", ErrInvalidScenario, i, name)
		}
		return nil
	}
	for i := range sc.Steps {
		s := &sc.Steps[i]
		if s.actions() != 1 {
			return fmt.Errorf("%w: step %d has %d actions", ErrInvalidScenario, i, s.actions())
		}
		switch {
		case s.Stake != nil:
			if err := user(i, s.Stake.User); err != nil {
				return err
			}
			if _, err := stakeType(s.Stake.Type); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		case s.Unstake != nil:
			if err := user(i, s.Unstake.User); err != nil {
				return err
			}
		case s.Warp != "":
			if s.ExpectError != "" {
				return fmt.Errorf("%w: step %d: warp cannot fail", ErrInvalidScenario, i)
			}
			d, err := time.ParseDuration(s.Warp)
			if err != nil || d < 0 {
				return fmt.Errorf("%w: step %d: bad warp %q", ErrInvalidScenario, i, s.Warp)
			}
		}
	}
	return nil
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	sc := new(Scenario)
	if err := dec.Decode(sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Load reads a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}
