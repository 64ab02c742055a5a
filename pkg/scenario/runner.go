package scenario

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/runtime"
	"github.com/fortiblox/X1-Staking/pkg/staking"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/token"
)

// Lamports airdropped to the admin and to each user for rent and record deposits.
const (
	adminLamports = 100_000_000_000
	userLamports  = 10_000_000_000
)

// Report is the outcome of a run.
type Report struct {
	ProgramID string       `yaml:"program_id"`
	Contract  string       `yaml:"contract"`
	Steps     []StepResult `yaml:"steps"`
	Final     Final        `yaml:"final"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index        int      `yaml:"index"`
	Op           string   `yaml:"op"`
	OK           bool     `yaml:"ok"`
	Error        string   `yaml:"error,omitempty"`
	Code         string   `yaml:"code,omitempty"`
	ComputeUnits uint64   `yaml:"compute_units,omitempty"`
	Logs         []string `yaml:"logs,omitempty"`
}

// Final is the pool state after the last step.
type Final struct {
	Slot         uint64               `yaml:"slot"`
	Timestamp    int64                `yaml:"unix_timestamp"`
	TotalStaked  uint64               `yaml:"total_staked"`
	TotalEarned  uint64               `yaml:"total_earned"`
	NormalApy    uint64               `yaml:"normal_apy"`
	LockedApy    uint64               `yaml:"locked_apy"`
	VaultBalance uint64               `yaml:"vault_balance"`
	Users        map[string]UserState `yaml:"users"`
}

// UserState is one user's balances. Staked is zero when the user holds no
// record.
type UserState struct {
	Tokens          uint64 `yaml:"tokens"`
	Staked          uint64 `yaml:"staked"`
	InterestAccrued uint64 `yaml:"interest_accrued"`
	Type            string `yaml:"type,omitempty"`
}

type keypair struct {
	pubkey types.Pubkey
	key    ed25519.PrivateKey
}

func newKeypair() (keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return keypair{}, err
	}
	return keypair{pubkey: types.PubkeyFromPublicKey(pub), key: priv}, nil
}

type user struct {
	keypair
	tokens types.Pubkey
}

// runner holds the keys of one run.
type runner struct {
	ctx     context.Context
	bank    *runtime.Bank
	log     logrus.FieldLogger
	sc      *Scenario
	tokenID types.Pubkey
	admin   keypair
	mint    keypair
	pool    staking.PoolKeys
	users   map[string]*user
	nonce   uint64
}

// Run registers the staking program at a fresh address on bank, sets up the
// pool and users of sc, and executes its steps. On ErrUnexpectedResult the
// returned report covers the steps up to and including the failing one.
func Run(ctx context.Context, bank *runtime.Bank, sc *Scenario, log logrus.FieldLogger) (*Report, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	tokenID, err := tokenProgram(sc.Pool.TokenProgram)
	if err != nil {
		return nil, err
	}
	r := &runner{
		ctx:     ctx,
		bank:    bank,
		log:     log,
		sc:      sc,
		tokenID: tokenID,
		users:   make(map[string]*user, len(sc.Users)),
	}
	if err := r.setup(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	contract, err := r.pool.ContractAddress()
	if err != nil {
		return nil, err
	}

	report := &Report{ProgramID: r.pool.ProgramID.String(), Contract: contract.String()}
	for i := range sc.Steps {
		res, err := r.step(i, &sc.Steps[i])
		report.Steps = append(report.Steps, res)
		if err != nil {
			return report, err
		}
	}
	if report.Final, err = r.final(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *runner) process(signers []keypair, ixs ...svm.Instruction) (*runtime.Result, error) {
	r.nonce++
	tx := runtime.NewTransaction(r.nonce, ixs...)
	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.key
	}
	if err := tx.Sign(keys...); err != nil {
		return nil, err
	}
	return r.bank.Process(r.ctx, tx)
}

func (r *runner) rent(size int) uint64 {
	return r.bank.Rent().MinimumBalance(uint64(size))
}

func (r *runner) setup() error {
	var err error
	if r.admin, err = newKeypair(); err != nil {
		return err
	}
	if r.mint, err = newKeypair(); err != nil {
		return err
	}
	program, err := newKeypair()
	if err != nil {
		return err
	}
	if err := r.bank.RegisterProgram(program.pubkey, staking.NewProcessor()); err != nil {
		return err
	}
	if err := r.bank.Airdrop(r.admin.pubkey, adminLamports); err != nil {
		return err
	}

	p := r.sc.Pool
	withFee := p.TransferFee != nil
	mintSize := token.MintSize(withFee)
	ixs := []svm.Instruction{
		system.CreateAccount(r.admin.pubkey, r.mint.pubkey, r.rent(mintSize), uint64(mintSize), r.tokenID),
	}
	if withFee {
		ixs = append(ixs, token.InitializeTransferFeeConfig(r.mint.pubkey, &r.admin.pubkey, &r.admin.pubkey,
			p.TransferFee.BasisPoints, p.TransferFee.MaximumFee))
	}
	ixs = append(ixs, token.InitializeMint(r.tokenID, r.mint.pubkey, r.admin.pubkey, nil, p.Decimals))
	if _, err := r.process([]keypair{r.admin, r.mint}, ixs...); err != nil {
		return fmt.Errorf("create mint: %w", err)
	}

	vault, err := r.tokenAccount(r.admin.pubkey)
	if err != nil {
		return fmt.Errorf("create vault: %w", err)
	}
	r.pool = staking.PoolKeys{
		ProgramID:    program.pubkey,
		Admin:        r.admin.pubkey,
		Mint:         r.mint.pubkey,
		Vault:        vault,
		TokenProgram: r.tokenID,
	}

	ix, err := r.pool.Init(staking.Init{
		MinimumStakeAmount:  p.MinimumStakeAmount,
		MinimumLockDuration: p.MinimumLockDuration,
		NormalApy:           p.NormalApy,
		LockedApy:           p.LockedApy,
		EarlyWithdrawalFee:  p.EarlyWithdrawalFee,
		FeeBasisPoints:      p.FeeBasisPoints,
		MaxFee:              p.MaxFee,
	})
	if err != nil {
		return err
	}
	if _, err := r.process([]keypair{r.admin}, ix); err != nil {
		return fmt.Errorf("init pool: %w", err)
	}
	if p.Rewards > 0 {
		if err := r.mintTo(vault, p.Rewards); err != nil {
			return fmt.Errorf("fund vault: %w", err)
		}
	}

	names := make([]string, 0, len(r.sc.Users))
	for name := range r.sc.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kp, err := newKeypair()
		if err != nil {
			return err
		}
		if err := r.bank.Airdrop(kp.pubkey, userLamports); err != nil {
			return err
		}
		acct, err := r.tokenAccount(kp.pubkey)
		if err != nil {
			return fmt.Errorf("user %s: %w", name, err)
		}
		if amount := r.sc.Users[name]; amount > 0 {
			if err := r.mintTo(acct, amount); err != nil {
				return fmt.Errorf("user %s: %w", name, err)
			}
		}
		r.users[name] = &user{keypair: kp, tokens: acct}
		r.log.WithFields(logrus.Fields{"user": name, "pubkey": kp.pubkey.String()}).Debug("user created")
	}
	r.log.WithFields(logrus.Fields{
		"program": program.pubkey.String(),
		"mint":    r.mint.pubkey.String(),
		"users":   len(names),
	}).Info("pool initialized")
	return nil
}

func (r *runner) tokenAccount(owner types.Pubkey) (types.Pubkey, error) {
	acct, err := newKeypair()
	if err != nil {
		return types.Pubkey{}, err
	}
	size := token.AccountSize(r.sc.Pool.TransferFee != nil)
	_, err = r.process([]keypair{r.admin, acct},
		system.CreateAccount(r.admin.pubkey, acct.pubkey, r.rent(size), uint64(size), r.tokenID),
		token.InitializeAccount(r.tokenID, acct.pubkey, r.mint.pubkey, owner),
	)
	return acct.pubkey, err
}

func (r *runner) mintTo(dst types.Pubkey, amount uint64) error {
	_, err := r.process([]keypair{r.admin}, token.MintTo(r.tokenID, r.mint.pubkey, dst, r.admin.pubkey, amount))
	return err
}

func (r *runner) step(i int, s *Step) (StepResult, error) {
	out := StepResult{Index: i, Op: s.Op()}
	log := r.log.WithFields(logrus.Fields{"step": i, "op": out.Op})

	if s.Warp != "" {
		d, _ := time.ParseDuration(s.Warp)
		if err := r.bank.Warp(d); err != nil {
			return out, err
		}
		out.OK = true
		log.WithField("unix_timestamp", r.bank.Clock().UnixTimestamp).Debug("clock warped")
		return out, nil
	}

	signer, ix, err := r.instruction(s)
	if err != nil {
		return out, err
	}
	res, txErr := r.process([]keypair{signer}, ix)
	if res == nil {
		return out, txErr
	}
	out.OK = txErr == nil
	out.ComputeUnits = res.ComputeUnits
	out.Logs = res.Logs
	if txErr != nil {
		out.Error = txErr.Error()
	}
	// Token program failures carry no staking code.
	if res.ErrCode != nil && s.SetTransferFee == nil {
		out.Code = staking.ErrorCode(*res.ErrCode).String()
	}

	switch {
	case s.ExpectError == "" && txErr != nil:
		return out, fmt.Errorf("%w: step %d (%s): %v", ErrUnexpectedResult, i, out.Op, txErr)
	case s.ExpectError != "" && txErr == nil:
		return out, fmt.Errorf("%w: step %d (%s) succeeded, expected %s", ErrUnexpectedResult, i, out.Op, s.ExpectError)
	case s.ExpectError != "" && out.Code != s.ExpectError:
		return out, fmt.Errorf("%w: step %d (%s) failed with %q, expected %s", ErrUnexpectedResult, i, out.Op, out.Code, s.ExpectError)
	}
	log.WithFields(logrus.Fields{"ok": out.OK, "cu": out.ComputeUnits, "code": out.Code}).Info("step done")
	return out, nil
}

// instruction builds the transaction for a non-warp step and returns its signer.
func (r *runner) instruction(s *Step) (keypair, svm.Instruction, error) {
	switch {
	case s.Stake != nil:
		u := r.users[s.Stake.User]
		typ, err := stakeType(s.Stake.Type)
		if err != nil {
			return keypair{}, svm.Instruction{}, err
		}
		ix, err := r.pool.Stake(u.pubkey, u.tokens, staking.Stake{
			StakeType:    typ,
			Amount:       s.Stake.Amount,
			Decimals:     uint64(r.sc.Pool.Decimals),
			LockDuration: s.Stake.LockDuration,
		})
		return u.keypair, ix, err
	case s.Unstake != nil:
		u := r.users[s.Unstake.User]
		ix, err := r.pool.Unstake(u.pubkey, u.tokens, staking.Unstake{Decimals: uint64(r.sc.Pool.Decimals)})
		return u.keypair, ix, err
	case s.UpdateApy != nil:
		ix, err := r.pool.UpdateApy(staking.UpdateApy{NormalApy: s.UpdateApy.Normal, LockedApy: s.UpdateApy.Locked})
		return r.admin, ix, err
	case s.UpdateTransferConfig != nil:
		ix, err := r.pool.UpdateTransferConfig(staking.UpdateTransferConfig{
			FeeBasisPoints: s.UpdateTransferConfig.FeeBasisPoints,
			MaxFee:         s.UpdateTransferConfig.MaxFee,
		})
		return r.admin, ix, err
	case s.SetTransferFee != nil:
		return r.admin, token.SetTransferFee(r.mint.pubkey, r.admin.pubkey,
			s.SetTransferFee.BasisPoints, s.SetTransferFee.MaximumFee), nil
	default:
		return keypair{}, svm.Instruction{}, fmt.Errorf("%w: empty step", ErrInvalidScenario)
	}
}

func (r *runner) balance(acct types.Pubkey) (uint64, error) {
	acc, err := r.bank.GetAccount(acct)
	if err != nil {
		return 0, err
	}
	state, err := token.UnpackAccount(acc.Data)
	if err != nil {
		return 0, err
	}
	return state.Amount, nil
}

func (r *runner) final() (Final, error) {
	clock := r.bank.Clock()
	out := Final{Slot: clock.Slot, Timestamp: clock.UnixTimestamp, Users: make(map[string]UserState, len(r.users))}

	contractAddr, err := r.pool.ContractAddress()
	if err != nil {
		return out, err
	}
	acc, err := r.bank.GetAccount(contractAddr)
	if err != nil {
		return out, err
	}
	contract, err := staking.UnpackContractRecord(acc.Data)
	if err != nil {
		return out, err
	}
	out.TotalStaked = contract.TotalStaked
	out.TotalEarned = contract.TotalEarned
	out.NormalApy = contract.NormalApy
	out.LockedApy = contract.LockedApy
	if out.VaultBalance, err = r.balance(r.pool.Vault); err != nil {
		return out, err
	}

	for name, u := range r.users {
		var st UserState
		if st.Tokens, err = r.balance(u.tokens); err != nil {
			return out, err
		}
		addr, err := r.pool.UserAddress(u.pubkey)
		if err != nil {
			return out, err
		}
		acc, err := r.bank.GetAccount(addr)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
		case err != nil:
			return out, err
		default:
			rec, err := staking.UnpackUserRecord(acc.Data)
			if err != nil {
				return out, err
			}
			st.Staked = rec.TotalStaked
			st.InterestAccrued = rec.InterestAccrued
			st.Type = rec.StakeType.String()
		}
		out.Users[name] = st
	}
	return out, nil
}
