package staking_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/runtime"
	"github.com/fortiblox/X1-Staking/pkg/staking"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/token"
)

const (
	lamportsPerSol = 1_000_000_000
	decimals       = 6
	genesis        = 1_700_000_000
	day            = 24 * time.Hour
)

type keypair struct {
	pubkey types.Pubkey
	key    ed25519.PrivateKey
}

func newKeypair(t *testing.T) keypair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return keypair{pubkey: types.PubkeyFromPublicKey(pub), key: priv}
}

// fixture is a bank with the staking program registered and one staking
// mint. The admin is the mint authority.
type fixture struct {
	t            *testing.T
	bank         *runtime.Bank
	tokenProgram types.Pubkey
	withFee      bool
	admin        keypair
	mint         keypair
	vault        types.Pubkey
	pool         staking.PoolKeys
	nonce        uint64
}

// defaultInit is the pool configuration used by the scenarios.
var defaultInit = staking.Init{
	MinimumStakeAmount:  100,
	MinimumLockDuration: 100,
	NormalApy:           100,
	LockedApy:           200,
	EarlyWithdrawalFee:  50,
}

func newFixture(t *testing.T, tokenProgram types.Pubkey, fee *token.TransferFee) *fixture {
	t.Helper()
	cfg := runtime.DefaultConfig()
	logger, _ := test.NewNullLogger()
	cfg.Logger = logger
	cfg.GenesisUnixTimestamp = genesis
	cfg.SlotsPerEpoch = 1000
	bank, err := runtime.New(accounts.NewMemoryDB(), nil, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { bank.Close() })

	f := &fixture{
		t:            t,
		bank:         bank,
		tokenProgram: tokenProgram,
		withFee:      fee != nil,
		admin:        newKeypair(t),
		mint:         newKeypair(t),
	}
	programID := newKeypair(t).pubkey
	require.NoError(t, bank.RegisterProgram(programID, staking.NewProcessor()))
	require.NoError(t, bank.Airdrop(f.admin.pubkey, 100*lamportsPerSol))

	mintSize := uint64(token.MintSize(f.withFee))
	ixs := []svm.Instruction{
		system.CreateAccount(f.admin.pubkey, f.mint.pubkey, f.rent(mintSize), mintSize, tokenProgram),
	}
	if fee != nil {
		ixs = append(ixs, token.InitializeTransferFeeConfig(f.mint.pubkey, &f.admin.pubkey, &f.admin.pubkey,
			fee.TransferFeeBasisPoints, fee.MaximumFee))
	}
	ixs = append(ixs, token.InitializeMint(tokenProgram, f.mint.pubkey, f.admin.pubkey, nil, decimals))
	f.mustProcess([]keypair{f.admin, f.mint}, ixs...)

	f.vault = f.tokenAccount(f.admin.pubkey)
	f.pool = staking.PoolKeys{
		ProgramID:    programID,
		Admin:        f.admin.pubkey,
		Mint:         f.mint.pubkey,
		Vault:        f.vault,
		TokenProgram: tokenProgram,
	}
	return f
}

func (f *fixture) rent(size uint64) uint64 {
	return svm.DefaultRent().MinimumBalance(size)
}

func (f *fixture) process(signers []keypair, ixs ...svm.Instruction) (*runtime.Result, error) {
	f.t.Helper()
	f.nonce++
	tx := runtime.NewTransaction(f.nonce, ixs...)
	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.key
	}
	require.NoError(f.t, tx.Sign(keys...))
	return f.bank.Process(context.Background(), tx)
}

func (f *fixture) mustProcess(signers []keypair, ixs ...svm.Instruction) *runtime.Result {
	f.t.Helper()
	res, err := f.process(signers, ixs...)
	require.NoError(f.t, err, "logs: %v", resultLogs(res))
	return res
}

func resultLogs(res *runtime.Result) []string {
	if res == nil {
		return nil
	}
	return res.Logs
}

// tokenAccount creates an initialized token account for owner.
func (f *fixture) tokenAccount(owner types.Pubkey) types.Pubkey {
	f.t.Helper()
	acct := newKeypair(f.t)
	size := uint64(token.AccountSize(f.withFee))
	f.mustProcess([]keypair{f.admin, acct},
		system.CreateAccount(f.admin.pubkey, acct.pubkey, f.rent(size), size, f.tokenProgram),
		token.InitializeAccount(f.tokenProgram, acct.pubkey, f.mint.pubkey, owner),
	)
	return acct.pubkey
}

func (f *fixture) mintTo(dst types.Pubkey, amount uint64) {
	f.t.Helper()
	f.mustProcess([]keypair{f.admin}, token.MintTo(f.tokenProgram, f.mint.pubkey, dst, f.admin.pubkey, amount))
}

func (f *fixture) balance(acct types.Pubkey) uint64 {
	f.t.Helper()
	acc, err := f.bank.GetAccount(acct)
	require.NoError(f.t, err)
	state, err := token.UnpackAccount(acc.Data)
	require.NoError(f.t, err)
	return state.Amount
}

func (f *fixture) init(args staking.Init) (*runtime.Result, error) {
	f.t.Helper()
	ix, err := f.pool.Init(args)
	require.NoError(f.t, err)
	return f.process([]keypair{f.admin}, ix)
}

// user is a funded staker with a token account.
type user struct {
	keypair
	tokens types.Pubkey
}

func (f *fixture) newUser(tokens uint64) user {
	f.t.Helper()
	kp := newKeypair(f.t)
	require.NoError(f.t, f.bank.Airdrop(kp.pubkey, 10*lamportsPerSol))
	u := user{keypair: kp, tokens: f.tokenAccount(kp.pubkey)}
	if tokens > 0 {
		f.mintTo(u.tokens, tokens)
	}
	return u
}

func (f *fixture) stake(u user, args staking.Stake) (*runtime.Result, error) {
	f.t.Helper()
	if args.Decimals == 0 {
		args.Decimals = decimals
	}
	ix, err := f.pool.Stake(u.pubkey, u.tokens, args)
	require.NoError(f.t, err)
	return f.process([]keypair{u.keypair}, ix)
}

func (f *fixture) unstake(u user) (*runtime.Result, error) {
	f.t.Helper()
	ix, err := f.pool.Unstake(u.pubkey, u.tokens, staking.Unstake{Decimals: decimals})
	require.NoError(f.t, err)
	return f.process([]keypair{u.keypair}, ix)
}

func (f *fixture) contractAddress() types.Pubkey {
	addr, err := f.pool.ContractAddress()
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) contract() *staking.ContractRecord {
	f.t.Helper()
	acc, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(f.t, err)
	c, err := staking.UnpackContractRecord(acc.Data)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) userRecordAddress(owner types.Pubkey) types.Pubkey {
	addr, err := f.pool.UserAddress(owner)
	require.NoError(f.t, err)
	return addr
}

// userRecord returns the owner's record, or nil when none exists.
func (f *fixture) userRecord(owner types.Pubkey) *staking.UserRecord {
	f.t.Helper()
	acc, err := f.bank.GetAccount(f.userRecordAddress(owner))
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil
	}
	require.NoError(f.t, err)
	r, err := staking.UnpackUserRecord(acc.Data)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) warp(d time.Duration) {
	f.t.Helper()
	require.NoError(f.t, f.bank.Warp(d))
}

func (f *fixture) now() uint64 {
	return uint64(f.bank.Clock().UnixTimestamp)
}

// initPool initializes the default pool and stocks the vault with rewards.
func initPool(t *testing.T, tokenProgram types.Pubkey, fee *token.TransferFee) *fixture {
	t.Helper()
	f := newFixture(t, tokenProgram, fee)
	res, err := f.init(defaultInit)
	require.NoError(t, err, "logs: %v", resultLogs(res))
	f.mintTo(f.vault, 10_000_000)
	return f
}

func requireCode(t *testing.T, res *runtime.Result, err error, want *staking.Error) {
	t.Helper()
	require.ErrorIs(t, err, want)
	require.NotNil(t, res)
	require.NotNil(t, res.ErrCode, "logs: %v", res.Logs)
	assert.Equal(t, want.ErrorCode(), *res.ErrCode)
}

func TestInit(t *testing.T) {
	f := newFixture(t, types.Token2022ProgramAddr, nil)
	res, err := f.init(defaultInit)
	require.NoError(t, err)
	assert.Contains(t, res.Logs, "Program log: Staking [Info]: Init contract instruction")
	assert.Contains(t, res.Logs, "Program log: Staking [Info]: Contract initialized")

	c := f.contract()
	assert.True(t, c.IsInitialized)
	assert.Equal(t, f.admin.pubkey, c.Admin)
	assert.Equal(t, f.mint.pubkey, c.StakeMint)
	assert.Equal(t, f.vault, c.StakeVault)
	assert.Equal(t, uint64(100), c.MinimumStakeAmount)
	assert.Equal(t, uint64(100), c.MinimumLockDuration)
	assert.Equal(t, uint64(100), c.NormalApy)
	assert.Equal(t, uint64(200), c.LockedApy)
	assert.Equal(t, uint64(50), c.EarlyWithdrawalFee)
	assert.Zero(t, c.TotalStaked)
	assert.Zero(t, c.TotalEarned)

	acc, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)
	assert.Equal(t, f.pool.ProgramID, acc.Owner)
	assert.Len(t, acc.Data, staking.ContractRecordSize)
	assert.Equal(t, f.rent(staking.ContractRecordSize), acc.Lamports)

	vault, err := f.bank.GetAccount(f.vault)
	require.NoError(t, err)
	state, err := token.UnpackAccount(vault.Data)
	require.NoError(t, err)
	assert.Equal(t, f.contractAddress(), state.Owner)
}

// prefund sends lamports from a third party to addr, leaving it a bare
// system account.
func (f *fixture) prefund(addr types.Pubkey, lamports uint64) {
	f.t.Helper()
	donor := newKeypair(f.t)
	require.NoError(f.t, f.bank.Airdrop(donor.pubkey, lamportsPerSol))
	f.mustProcess([]keypair{donor}, system.Transfer(donor.pubkey, addr, lamports))
}

func (f *fixture) lamports(addr types.Pubkey) uint64 {
	f.t.Helper()
	acc, err := f.bank.GetAccount(addr)
	require.NoError(f.t, err)
	return acc.Lamports
}

func TestInitOnFundedAddress(t *testing.T) {
	f := newFixture(t, types.Token2022ProgramAddr, nil)
	f.prefund(f.contractAddress(), f.rent(0))

	res, err := f.init(defaultInit)
	require.NoError(t, err, "logs: %v", resultLogs(res))
	assert.True(t, f.contract().IsInitialized)

	acc, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)
	assert.Equal(t, f.pool.ProgramID, acc.Owner)
	assert.Len(t, acc.Data, staking.ContractRecordSize)
	assert.Equal(t, f.rent(staking.ContractRecordSize), acc.Lamports)
}

func TestInitTwiceFails(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	before := f.contract()

	res, err := f.init(defaultInit)
	requireCode(t, res, err, staking.ErrAlreadyInitializedRecord)
	assert.ErrorIs(t, err, staking.ErrAlreadyInitialized)
	assert.Equal(t, before, f.contract())
}

func TestInitRejections(t *testing.T) {
	f := newFixture(t, types.Token2022ProgramAddr, nil)

	bad := defaultInit
	bad.MinimumStakeAmount = 0
	res, err := f.init(bad)
	requireCode(t, res, err, staking.ErrInvalidConfig)

	bad = defaultInit
	bad.EarlyWithdrawalFee = 1001
	res, err = f.init(bad)
	requireCode(t, res, err, staking.ErrInvalidConfig)

	// Contract record that is not the derived address.
	ix, err := f.pool.Init(defaultInit)
	require.NoError(t, err)
	ix.Accounts[1] = svm.Writable(newKeypair(t).pubkey)
	res, err = f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrInvalidPDA)
	assert.ErrorIs(t, err, staking.ErrAuthorization)

	// Vault the admin does not own.
	other := f.tokenAccount(newKeypair(t).pubkey)
	pool := f.pool
	pool.Vault = other
	ix, err = pool.Init(defaultInit)
	require.NoError(t, err)
	res, err = f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrInvalidTokenAccount)

	// Wrong token program.
	pool = f.pool
	pool.TokenProgram = system.ProgramID
	ix, err = pool.Init(defaultInit)
	require.NoError(t, err)
	res, err = f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrInvalidProgramAccount)

	_, err = f.bank.GetAccount(f.contractAddress())
	require.ErrorIs(t, err, accounts.ErrAccountNotFound)
}

func TestScenarioStakeNormal(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	res, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100})
	require.NoError(t, err)
	assert.Contains(t, res.Logs, "Program log: Staking [Info]: Performing Normal Staking")

	rec := f.userRecord(u.pubkey)
	require.NotNil(t, rec)
	assert.True(t, rec.IsInitialized)
	assert.Equal(t, u.pubkey, rec.Owner)
	assert.Equal(t, staking.StakeNormal, rec.StakeType)
	assert.Equal(t, uint64(100), rec.TotalStaked)
	assert.Equal(t, f.now(), rec.StakeTs)
	assert.Zero(t, rec.LockDuration)
	assert.Equal(t, uint64(100), f.contract().TotalStaked)

	assert.Equal(t, uint64(900), f.balance(u.tokens))
	assert.Equal(t, uint64(10_000_100), f.balance(f.vault))

	acc, err := f.bank.GetAccount(f.userRecordAddress(u.pubkey))
	require.NoError(t, err)
	assert.Equal(t, f.pool.ProgramID, acc.Owner)
	assert.Equal(t, f.rent(staking.UserRecordSize), acc.Lamports)
}

func TestScenarioRestakeAccruesInterest(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100})
	require.NoError(t, err)

	const elapsed = 365 * day
	f.warp(elapsed)
	_, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 10})
	require.NoError(t, err)

	want := staking.Interest(100, 100, uint64(elapsed/time.Second))
	assert.Equal(t, uint64(10), want)

	rec := f.userRecord(u.pubkey)
	assert.Equal(t, uint64(110), rec.TotalStaked)
	assert.Equal(t, want, rec.InterestAccrued)
	assert.Equal(t, f.now(), rec.StakeTs)

	c := f.contract()
	assert.Equal(t, uint64(110), c.TotalStaked)
	assert.Equal(t, want, c.TotalEarned)
}

func TestScenarioEarlyLockedUnstake(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeLocked, Amount: 1_000, LockDuration: 86_400})
	require.NoError(t, err)
	assert.Equal(t, uint64(86_400), f.userRecord(u.pubkey).LockDuration)

	contractLamports := f.contractLamports()
	vaultBefore := f.balance(f.vault)
	f.warp(time.Hour)

	res, err := f.unstake(u)
	require.NoError(t, err, "logs: %v", resultLogs(res))

	want := uint64(1_000) - staking.Penalty(50, 1_000)
	assert.Equal(t, uint64(950), want)
	assert.Equal(t, want, f.balance(u.tokens))
	assert.Equal(t, vaultBefore-want, f.balance(f.vault))

	c := f.contract()
	assert.Zero(t, c.TotalStaked)
	assert.Zero(t, c.TotalEarned)

	// The user record is closed and its deposit credited to the contract record.
	assert.Nil(t, f.userRecord(u.pubkey))
	assert.Equal(t, contractLamports+f.rent(staking.UserRecordSize), f.contractLamports())
}

func (f *fixture) contractLamports() uint64 {
	f.t.Helper()
	acc, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(f.t, err)
	return acc.Lamports
}

func TestScenarioMaturedLockedUnstake(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000_000)

	lock := staking.Stake{StakeType: staking.StakeLocked, Amount: 500_000, LockDuration: 86_400}
	_, err := f.stake(u, lock)
	require.NoError(t, err)
	f.warp(10 * day)
	_, err = f.stake(u, lock)
	require.NoError(t, err)

	rec := f.userRecord(u.pubkey)
	accrued := rec.InterestAccrued
	assert.Equal(t, uint64(2_739), accrued)
	earnedBefore := f.contract().TotalEarned
	assert.Equal(t, accrued, earnedBefore)

	f.warp(30 * day)
	_, err = f.unstake(u)
	require.NoError(t, err)

	earned := staking.Interest(200, 1_000_000, uint64(30*day/time.Second))
	assert.Equal(t, uint64(16_438), earned)
	assert.Equal(t, 1_000_000+accrued+earned, f.balance(u.tokens))

	c := f.contract()
	assert.Equal(t, earnedBefore+earned, c.TotalEarned)
	assert.Zero(t, c.TotalStaked)
	assert.Nil(t, f.userRecord(u.pubkey))
}

func TestScenarioNormalMinimumHold(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)
	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 500})
	require.NoError(t, err)

	recordAddr := f.userRecordAddress(u.pubkey)
	userBefore, err := f.bank.GetAccount(recordAddr)
	require.NoError(t, err)
	contractBefore, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)

	f.warp(time.Second)
	res, err := f.unstake(u)
	requireCode(t, res, err, staking.ErrMinimumHoldNotMet)
	assert.ErrorIs(t, err, staking.ErrPolicyViolation)
	assert.Equal(t, 0, res.FailedInstruction)

	userAfter, err := f.bank.GetAccount(recordAddr)
	require.NoError(t, err)
	contractAfter, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)
	assert.True(t, userBefore.Equal(userAfter))
	assert.True(t, contractBefore.Equal(contractAfter))
	assert.Equal(t, uint64(500), f.balance(u.tokens))

	// After a full day the same unstake goes through.
	f.warp(day)
	_, err = f.unstake(u)
	require.NoError(t, err)
	earned := staking.Interest(100, 500, uint64((day+time.Second)/time.Second))
	assert.Equal(t, 1_000+earned, f.balance(u.tokens))
}

func TestStakeOnFundedUserRecord(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	full := f.rent(staking.UserRecordSize)

	for _, funded := range []uint64{f.rent(0), full + 7} {
		u := f.newUser(1_000)
		f.prefund(f.userRecordAddress(u.pubkey), funded)
		lamportsBefore := f.lamports(u.pubkey)

		res, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100})
		require.NoError(t, err, "funded %d, logs: %v", funded, resultLogs(res))

		rec := f.userRecord(u.pubkey)
		require.NotNil(t, rec)
		assert.Equal(t, u.pubkey, rec.Owner)
		assert.Equal(t, uint64(100), rec.TotalStaked)

		acc, err := f.bank.GetAccount(f.userRecordAddress(u.pubkey))
		require.NoError(t, err)
		assert.Equal(t, f.pool.ProgramID, acc.Owner)
		assert.Len(t, acc.Data, staking.UserRecordSize)
		assert.Equal(t, max(funded, full), acc.Lamports)
		assert.Equal(t, lamportsBefore-(max(funded, full)-funded), f.lamports(u.pubkey))
		assert.Equal(t, uint64(900), f.balance(u.tokens))
	}
	assert.Equal(t, uint64(200), f.contract().TotalStaked)
}

func TestReclaimThenRestake(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(10_000)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeLocked, Amount: 1_000, LockDuration: 200})
	require.NoError(t, err)
	f.warp(time.Minute)
	_, err = f.unstake(u)
	require.NoError(t, err)
	require.Nil(t, f.userRecord(u.pubkey))

	// A fresh first stake may pick a different type.
	f.warp(time.Minute)
	_, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 2_000})
	require.NoError(t, err)
	rec := f.userRecord(u.pubkey)
	require.NotNil(t, rec)
	assert.Equal(t, staking.StakeNormal, rec.StakeType)
	assert.Equal(t, uint64(2_000), rec.TotalStaked)
	assert.Zero(t, rec.InterestAccrued)
	assert.Equal(t, f.now(), rec.StakeTs)
	assert.Equal(t, uint64(2_000), f.contract().TotalStaked)
}

func TestStakeRejections(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	res, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 0})
	requireCode(t, res, err, staking.ErrInvalidAmount)

	res, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 2_000})
	requireCode(t, res, err, staking.ErrInsufficientBalance)
	assert.ErrorIs(t, err, staking.ErrInsufficientFunds)

	res, err = f.stake(u, staking.Stake{StakeType: staking.StakeLocked, Amount: 100, LockDuration: 99})
	requireCode(t, res, err, staking.ErrLockDurationTooShort)

	res, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100, Decimals: decimals + 1})
	requireCode(t, res, err, staking.ErrDecimalsMismatch)

	poor := f.newUser(50)
	res, err = f.stake(poor, staking.Stake{StakeType: staking.StakeNormal, Amount: 50})
	requireCode(t, res, err, staking.ErrInsufficientBalance)

	// Another user's record address.
	other := f.newUser(1_000)
	ix, err := f.pool.Stake(u.pubkey, u.tokens, staking.Stake{StakeType: staking.StakeNormal, Amount: 100, Decimals: decimals})
	require.NoError(t, err)
	ix.Accounts[2] = svm.Writable(f.userRecordAddress(other.pubkey))
	res, err = f.process([]keypair{u.keypair}, ix)
	requireCode(t, res, err, staking.ErrInvalidPDA)

	// A vault other than the contract's.
	pool := f.pool
	pool.Vault = f.tokenAccount(f.contractAddress())
	ix, err = pool.Stake(u.pubkey, u.tokens, staking.Stake{StakeType: staking.StakeNormal, Amount: 100, Decimals: decimals})
	require.NoError(t, err)
	res, err = f.process([]keypair{u.keypair}, ix)
	requireCode(t, res, err, staking.ErrInvalidTokenAccount)

	// Staking from someone else's token account.
	ix, err = f.pool.Stake(u.pubkey, other.tokens, staking.Stake{StakeType: staking.StakeNormal, Amount: 100, Decimals: decimals})
	require.NoError(t, err)
	res, err = f.process([]keypair{u.keypair}, ix)
	requireCode(t, res, err, staking.ErrInvalidTokenAccount)

	assert.Nil(t, f.userRecord(u.pubkey))
	assert.Zero(t, f.contract().TotalStaked)
	assert.Equal(t, uint64(1_000), f.balance(u.tokens))
}

func TestStakeTypeMismatch(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100})
	require.NoError(t, err)
	res, err := f.stake(u, staking.Stake{StakeType: staking.StakeLocked, Amount: 100, LockDuration: 500})
	requireCode(t, res, err, staking.ErrStakeTypeMismatch)
	assert.Equal(t, uint64(100), f.userRecord(u.pubkey).TotalStaked)
}

func TestUnstakeWithoutRecord(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(1_000)

	res, err := f.unstake(u)
	requireCode(t, res, err, staking.ErrUninitializedAccount)
}

func TestUnstakeRequiresVaultFunds(t *testing.T) {
	f := newFixture(t, types.Token2022ProgramAddr, nil)
	_, err := f.init(defaultInit)
	require.NoError(t, err)
	u := f.newUser(1_000_000)

	_, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 1_000_000})
	require.NoError(t, err)
	f.warp(365 * day)

	// The vault holds only the principal, not the interest.
	res, err := f.unstake(u)
	requireCode(t, res, err, staking.ErrInsufficientBalance)
	assert.NotNil(t, f.userRecord(u.pubkey))
}

func TestLegacyTokenProgram(t *testing.T) {
	f := initPool(t, types.TokenProgramAddr, nil)
	u := f.newUser(1_000)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeLocked, Amount: 1_000, LockDuration: 100})
	require.NoError(t, err)
	f.warp(2 * time.Minute)
	_, err = f.unstake(u)
	require.NoError(t, err)
	assert.Equal(t, 1_000+staking.Interest(200, 1_000, 120), f.balance(u.tokens))
}

func TestTransferFeeAwarePayout(t *testing.T) {
	fee := &token.TransferFee{TransferFeeBasisPoints: 100, MaximumFee: 1_000_000}
	f := initPool(t, types.Token2022ProgramAddr, fee)
	u := f.newUser(100_000)
	vaultBefore := f.balance(f.vault)

	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 100_000})
	require.NoError(t, err)

	// The contract books the gross amount; the vault receives it net of the fee.
	assert.Equal(t, uint64(100_000), f.contract().TotalStaked)
	assert.Equal(t, vaultBefore+99_000, f.balance(f.vault))

	f.warp(2 * day)
	_, err = f.unstake(u)
	require.NoError(t, err)

	payout := 100_000 + staking.Interest(100, 100_000, uint64(2*day/time.Second))
	assert.Equal(t, uint64(100_054), payout)
	assert.Equal(t, payout, f.balance(u.tokens))
}

func TestTransferFeeFollowsEpochSchedule(t *testing.T) {
	fee := &token.TransferFee{TransferFeeBasisPoints: 0, MaximumFee: 0}
	f := initPool(t, types.Token2022ProgramAddr, fee)
	early := f.newUser(10_000)
	_, err := f.stake(early, staking.Stake{StakeType: staking.StakeNormal, Amount: 10_000})
	require.NoError(t, err)

	// A fee raised now applies from two epochs later.
	raised := token.TransferFee{TransferFeeBasisPoints: 500, MaximumFee: 1_000_000}
	f.mustProcess([]keypair{f.admin},
		token.SetTransferFee(f.mint.pubkey, f.admin.pubkey, raised.TransferFeeBasisPoints, raised.MaximumFee))

	late := f.newUser(10_000)
	vaultBefore := f.balance(f.vault)
	_, err = f.stake(late, staking.Stake{StakeType: staking.StakeNormal, Amount: 10_000})
	require.NoError(t, err)
	assert.Equal(t, vaultBefore+10_000, f.balance(f.vault))

	f.warp(2 * day)
	require.Greater(t, f.bank.Clock().Epoch, uint64(2))

	vaultBefore = f.balance(f.vault)
	_, err = f.unstake(early)
	require.NoError(t, err)

	payout := 10_000 + staking.Interest(100, 10_000, uint64(2*day/time.Second))
	inverse, ok := raised.CalculateInverseFee(payout)
	require.True(t, ok)
	require.NotZero(t, inverse)
	assert.Equal(t, payout, f.balance(early.tokens))
	assert.Equal(t, vaultBefore-payout-inverse, f.balance(f.vault))
}

func TestUpdateApy(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	u := f.newUser(10_000)
	_, err := f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 1_000})
	require.NoError(t, err)
	f.warp(365 * day)
	_, err = f.stake(u, staking.Stake{StakeType: staking.StakeNormal, Amount: 1_000})
	require.NoError(t, err)

	before := f.contract()
	require.Equal(t, uint64(100), before.TotalEarned)
	require.NotZero(t, before.TotalStaked)
	require.NotZero(t, before.TotalEarned)

	ix, err := f.pool.UpdateApy(staking.UpdateApy{NormalApy: 300, LockedApy: 400})
	require.NoError(t, err)
	f.mustProcess([]keypair{f.admin}, ix)
	first, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)

	want := *before
	want.NormalApy, want.LockedApy = 300, 400
	assert.Equal(t, &want, f.contract())

	// Applying the same update again leaves the record byte for byte unchanged.
	res := f.mustProcess([]keypair{f.admin}, ix)
	second, err := f.bank.GetAccount(f.contractAddress())
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first.Data, second.Data))
	assert.Empty(t, res.Modified)

	zero, err := f.pool.UpdateApy(staking.UpdateApy{NormalApy: 0, LockedApy: 400})
	require.NoError(t, err)
	res, err = f.process([]keypair{f.admin}, zero)
	requireCode(t, res, err, staking.ErrInvalidConfig)
	assert.Equal(t, &want, f.contract())
}

func TestUpdateApyAuthorization(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	mallory := newKeypair(t)

	ix, err := f.pool.UpdateApy(staking.UpdateApy{NormalApy: 1, LockedApy: 1})
	require.NoError(t, err)
	ix.Accounts[0] = svm.Signer(mallory.pubkey)
	res, err := f.process([]keypair{mallory}, ix)
	requireCode(t, res, err, staking.ErrUnauthorized)

	ix.Accounts[0] = svm.Readonly(f.admin.pubkey)
	res, err = f.process(nil, ix)
	requireCode(t, res, err, staking.ErrMissingRequiredSignature)

	assert.Equal(t, uint64(100), f.contract().NormalApy)
}

func TestUpdateTransferConfig(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)

	ix, err := f.pool.UpdateTransferConfig(staking.UpdateTransferConfig{FeeBasisPoints: 250, MaxFee: 9_000})
	require.NoError(t, err)
	res := f.mustProcess([]keypair{f.admin}, ix)
	assert.Contains(t, res.Logs, "Program log: Staking [Info]: Update Transfer Config Instruction")
	c := f.contract()
	assert.Equal(t, uint64(250), c.FeeBasisPoints)
	assert.Equal(t, uint64(9_000), c.MaxFee)

	ix, err = f.pool.UpdateTransferConfig(staking.UpdateTransferConfig{FeeBasisPoints: 10_001})
	require.NoError(t, err)
	res, err = f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrInvalidConfig)
}

func TestMalformedInstruction(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	ix := svm.Instruction{
		ProgramID: f.pool.ProgramID,
		Accounts:  []svm.AccountMeta{svm.Signer(f.admin.pubkey)},
		Data:      []byte{staking.TagStake, 1, 2},
	}
	res, err := f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrInvalidInstructionData)
	assert.ErrorIs(t, err, staking.ErrDecode)

	ix.Data = []byte{staking.TagUnstake}
	ix.Data = append(ix.Data, make([]byte, staking.UnstakeArgsSize)...)
	res, err = f.process([]keypair{f.admin}, ix)
	requireCode(t, res, err, staking.ErrNotEnoughAccountKeys)
}

func TestConcurrentStakesSerializeOnContract(t *testing.T) {
	f := initPool(t, types.Token2022ProgramAddr, nil)
	const n = 8
	users := make([]user, n)
	txs := make([]*runtime.Transaction, n)
	for i := range users {
		users[i] = f.newUser(1_000)
		ix, err := f.pool.Stake(users[i].pubkey, users[i].tokens,
			staking.Stake{StakeType: staking.StakeNormal, Amount: 100 + uint64(i), Decimals: decimals})
		require.NoError(t, err)
		txs[i] = runtime.NewTransaction(uint64(i), ix)
		require.NoError(t, txs[i].Sign(users[i].key))
	}

	errs := make(chan error, n)
	for _, tx := range txs {
		go func(tx *runtime.Transaction) {
			_, err := f.bank.Process(context.Background(), tx)
			errs <- err
		}(tx)
	}
	var want uint64
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		want += 100 + uint64(i)
	}
	assert.Equal(t, want, f.contract().TotalStaked)
}
