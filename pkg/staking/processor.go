// Package staking implements the token staking program: a contract record per
// admin and mint pair holds pool policy and aggregates, a user record per
// owner holds one stake position, and a vault token account owned by the
// contract record's derived address holds principal and interest.
//
// Every handler validates its whole account set before the first
// cross-program call. The host applies a failed instruction as a no-op.
package staking

import (
	"fmt"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/token"
)

// Log prefixes.
const (
	logInfo  = "Staking [Info]: "
	logError = "Staking [Error]: "
)

// Processor executes staking instructions.
type Processor struct{}

// NewProcessor creates a new staking processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a staking instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUStakingDefault); err != nil {
		return err
	}
	err := p.process(ctx, data)
	if err != nil {
		ctx.Log(logError + err.Error())
	}
	return err
}

// process decodes data and dispatches to the instruction's handler.
func (p *Processor) process(ctx svm.InvokeContext, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	switch ix := ix.(type) {
	case *Init:
		ctx.Log(logInfo + "Init contract instruction")
		return p.processInit(ctx, ix)
	case *Stake:
		ctx.Log(logInfo + "Stake Instruction")
		return p.processStake(ctx, ix)
	case *Unstake:
		ctx.Log(logInfo + "Unstake Instruction")
		return p.processUnstake(ctx, ix)
	case *UpdateApy:
		ctx.Log(logInfo + "Update APY Instruction")
		return p.processUpdateApy(ctx, ix)
	case *UpdateTransferConfig:
		ctx.Log(logInfo + "Update Transfer Config Instruction")
		return p.processUpdateTransferConfig(ctx, ix)
	default:
		return ErrInvalidInstructionData
	}
}

// accountsN returns the first n instruction accounts. Extra accounts are
// ignored; fewer than n is ErrNotEnoughAccountKeys.
func accountsN(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.AccountCount() < n {
		return nil, wrap(ErrNotEnoughAccountKeys, "want %d, got %d", n, ctx.AccountCount())
	}
	out := make([]*svm.AccountInfo, n)
	for i := range out {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return nil, wrap(ErrNotEnoughAccountKeys, "account %d: %v", i, err)
		}
		out[i] = info
	}
	return out, nil
}

// requireSigner fails with ErrMissingRequiredSignature unless info signed.
func requireSigner(info *svm.AccountInfo, what string) error {
	if !info.IsSigner {
		return wrap(ErrMissingRequiredSignature, "%s %s", what, info.Key)
	}
	return nil
}

// requireWritable fails with ErrAccountNotWritable on the first read-only info.
func requireWritable(infos ...*svm.AccountInfo) error {
	for _, info := range infos {
		if !info.IsWritable {
			return wrap(ErrAccountNotWritable, "%s", info.Key)
		}
	}
	return nil
}

// requireTokenProgram accepts the legacy token program and Token-2022.
func requireTokenProgram(info *svm.AccountInfo) error {
	if !types.IsTokenProgram(info.Key) {
		return wrap(ErrInvalidProgramAccount, "token program %s", info.Key)
	}
	return nil
}

// requireSystemProgram requires info to be the System Program.
func requireSystemProgram(info *svm.AccountInfo) error {
	if info.Key != system.ProgramID {
		return wrap(ErrInvalidProgramAccount, "system program %s", info.Key)
	}
	return nil
}

// loadMint unpacks an initialized mint owned by tokenProgram.
func loadMint(info *svm.AccountInfo, tokenProgram types.Pubkey) (*token.Mint, error) {
	if info.Owner != tokenProgram {
		return nil, wrap(ErrInvalidAccountOwner, "mint %s owned by %s", info.Key, info.Owner)
	}
	mint, err := token.UnpackMint(info.Data)
	if err != nil {
		return nil, wrap(ErrInvalidAccountData, "mint %s: %v", info.Key, err)
	}
	if !mint.IsInitialized {
		return nil, wrap(ErrUninitializedAccount, "mint %s", info.Key)
	}
	return mint, nil
}

// loadTokenAccount unpacks an initialized token account owned by tokenProgram.
// what names the account in errors.
func loadTokenAccount(info *svm.AccountInfo, tokenProgram types.Pubkey, what string) (*token.Account, error) {
	if info.Owner != tokenProgram {
		return nil, wrap(ErrInvalidAccountOwner, "%s %s owned by %s", what, info.Key, info.Owner)
	}
	account, err := token.UnpackAccount(info.Data)
	if err != nil || !account.IsInitialized() {
		return nil, wrap(ErrInvalidTokenAccount, "%s %s", what, info.Key)
	}
	return account, nil
}

// loadContract loads an initialized contract record and verifies its address
// against the admin and mint it embeds. It returns the signer seeds.
func loadContract(ctx svm.InvokeContext, info *svm.AccountInfo) (*ContractRecord, [][]byte, error) {
	if info.Owner != ctx.ProgramID() {
		return nil, nil, wrap(ErrInvalidAccountOwner, "contract record %s owned by %s", info.Key, info.Owner)
	}
	contract, err := UnpackContractRecord(info.Data)
	if err != nil {
		return nil, nil, err
	}
	if !contract.IsInitialized {
		return nil, nil, wrap(ErrUninitializedAccount, "contract record %s", info.Key)
	}
	seeds, err := verifyAddress(ctx, ContractSeeds(contract.Admin, contract.StakeMint), info.Key, "contract record")
	if err != nil {
		return nil, nil, err
	}
	return contract, seeds, nil
}

// createRecord makes the system account at info a rent-exempt record of size
// bytes owned by the program, funded by payer. seeds sign for info.
//
// An address that already holds lamports cannot take CreateAccount, so it is
// topped up to the rent-exempt minimum, allocated and assigned instead.
func createRecord(ctx svm.InvokeContext, payer, info *svm.AccountInfo, size uint64, seeds [][]byte) error {
	lamports := ctx.Rent().MinimumBalance(size)
	if info.Lamports == 0 {
		return ctx.Invoke(system.CreateAccount(payer.Key, info.Key, lamports, size, ctx.ProgramID()), seeds)
	}
	if info.Lamports < lamports {
		if err := ctx.Invoke(system.Transfer(payer.Key, info.Key, lamports-info.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(info.Key, size), seeds); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(info.Key, ctx.ProgramID()), seeds)
}

// poolAccounts are the accounts shared by Stake and Unstake.
type poolAccounts struct {
	user         *svm.AccountInfo // staker, signer
	userToken    *svm.AccountInfo // staker's token account in the pool mint
	userRecord   *svm.AccountInfo // staker's derived user record
	vault        *svm.AccountInfo // pool vault, owned by the contract record
	contract     *svm.AccountInfo // contract record
	mint         *svm.AccountInfo // pool mint
	tokenProgram *svm.AccountInfo // program owning mint and token accounts
}

// pool is the validated state behind poolAccounts.
type pool struct {
	// contract is the decoded contract record. Handlers update it in place
	// and pack it back.
	contract *ContractRecord

	// contractSeeds sign for the contract record, bump included.
	contractSeeds [][]byte

	// mint carries the decimals and any transfer fee config.
	mint *token.Mint

	vault     *token.Account
	userToken *token.Account
}

// loadPool validates the contract record, mint, vault and user token account.
// The user must sign, the mint must match the contract's and carry decimals,
// and the vault must be the contract's, held by the contract record.
func loadPool(ctx svm.InvokeContext, accs poolAccounts, decimals uint64) (*pool, error) {
	if err := requireSigner(accs.user, "user"); err != nil {
		return nil, err
	}
	if err := requireWritable(accs.userToken, accs.userRecord, accs.vault, accs.contract); err != nil {
		return nil, err
	}
	if err := requireTokenProgram(accs.tokenProgram); err != nil {
		return nil, err
	}
	tokenProgram := accs.tokenProgram.Key

	contract, seeds, err := loadContract(ctx, accs.contract)
	if err != nil {
		return nil, err
	}

	if accs.mint.Key != contract.StakeMint {
		return nil, wrap(ErrMintMismatch, "mint %s, contract mint %s", accs.mint.Key, contract.StakeMint)
	}
	mint, err := loadMint(accs.mint, tokenProgram)
	if err != nil {
		return nil, err
	}
	if uint64(mint.Decimals) != decimals {
		return nil, wrap(ErrDecimalsMismatch, "mint has %d, got %d", mint.Decimals, decimals)
	}

	if accs.vault.Key != contract.StakeVault {
		return nil, wrap(ErrInvalidTokenAccount, "Invalid contract token account %s", accs.vault.Key)
	}
	vault, err := loadTokenAccount(accs.vault, tokenProgram, "vault")
	if err != nil {
		return nil, err
	}
	if vault.Mint != contract.StakeMint {
		return nil, wrap(ErrMintMismatch, "Invalid contract token account mint %s", vault.Mint)
	}
	if vault.Owner != accs.contract.Key {
		return nil, wrap(ErrInvalidTokenAccount, "Invalid contract token account owner %s", vault.Owner)
	}

	userToken, err := loadTokenAccount(accs.userToken, tokenProgram, "user token account")
	if err != nil {
		return nil, err
	}
	if userToken.Owner != accs.user.Key {
		return nil, wrap(ErrInvalidTokenAccount, "Invalid user token account owner %s", userToken.Owner)
	}
	if userToken.Mint != contract.StakeMint {
		return nil, wrap(ErrMintMismatch, "Invalid user token account mint %s", userToken.Mint)
	}

	return &pool{
		contract:      contract,
		contractSeeds: seeds,
		mint:          mint,
		vault:         vault,
		userToken:     userToken,
	}, nil
}

// processInit creates the contract record for admin and mint, hands vault
// ownership to it and stores the pool policy.
func (p *Processor) processInit(ctx svm.InvokeContext, ix *Init) error {
	// [0] = admin, [1] = contract record, [2] = vault, [3] = mint,
	// [4] = token program, [5] = rent sysvar, [6] = system program
	accs, err := accountsN(ctx, 7)
	if err != nil {
		return err
	}
	admin, contractInfo, vaultInfo, mintInfo, tokenProgram, rentInfo, systemProgram :=
		accs[0], accs[1], accs[2], accs[3], accs[4], accs[5], accs[6]

	if err := requireSigner(admin, "admin"); err != nil {
		return err
	}
	if err := requireWritable(contractInfo, vaultInfo); err != nil {
		return err
	}

	switch {
	case ix.MinimumStakeAmount == 0:
		return wrap(ErrInvalidConfig, "Cannot init contract with zero minimum stake amount")
	case ix.NormalApy == 0 || ix.LockedApy == 0:
		return wrap(ErrInvalidConfig, "APY must be non-zero")
	case ix.EarlyWithdrawalFee > PenaltyScale:
		return wrap(ErrInvalidConfig, "early withdrawal fee %d exceeds %d", ix.EarlyWithdrawalFee, PenaltyScale)
	case ix.FeeBasisPoints > MaxBasisPoints:
		return wrap(ErrInvalidConfig, "fee basis points %d exceeds %d", ix.FeeBasisPoints, MaxBasisPoints)
	}

	if err := requireTokenProgram(tokenProgram); err != nil {
		return err
	}
	if err := requireSystemProgram(systemProgram); err != nil {
		return err
	}
	if rentInfo.Key != types.SysvarRentAddr {
		return wrap(ErrInvalidProgramAccount, "rent sysvar %s", rentInfo.Key)
	}

	seeds, err := verifyAddress(ctx, ContractSeeds(admin.Key, mintInfo.Key), contractInfo.Key, "contract record")
	if err != nil {
		ctx.Log("PDA Addr Account Mismatch")
		return err
	}

	needsCreate := false
	switch contractInfo.Owner {
	case system.ProgramID:
		if len(contractInfo.Data) > 0 {
			return wrap(ErrInvalidAccountOwner, "contract record %s holds system data", contractInfo.Key)
		}
		needsCreate = true
	case ctx.ProgramID():
		existing, err := UnpackContractRecord(contractInfo.Data)
		if err != nil {
			return err
		}
		if existing.IsInitialized {
			return ErrAlreadyInitializedRecord
		}
	default:
		return wrap(ErrInvalidAccountOwner, "contract record %s owned by %s", contractInfo.Key, contractInfo.Owner)
	}

	if _, err := loadMint(mintInfo, tokenProgram.Key); err != nil {
		return err
	}
	vault, err := loadTokenAccount(vaultInfo, tokenProgram.Key, "vault")
	if err != nil {
		return err
	}
	if vault.Mint != mintInfo.Key {
		return wrap(ErrMintMismatch, "vault mint %s", vault.Mint)
	}
	if vault.Owner != admin.Key {
		return wrap(ErrInvalidTokenAccount, "vault %s not owned by admin", vaultInfo.Key)
	}

	if needsCreate {
		if err := createRecord(ctx, admin, contractInfo, ContractRecordSize, seeds); err != nil {
			return fmt.Errorf("create contract record: %w", err)
		}
	}

	contractKey := contractInfo.Key
	setAuthority := token.SetAuthority(tokenProgram.Key, vaultInfo.Key, admin.Key, token.AuthorityAccountOwner, &contractKey)
	if err := ctx.Invoke(setAuthority); err != nil {
		return fmt.Errorf("transfer vault authority: %w", err)
	}

	contract := &ContractRecord{
		IsInitialized:       true,
		Admin:               admin.Key,
		StakeMint:           mintInfo.Key,
		StakeVault:          vaultInfo.Key,
		MinimumStakeAmount:  ix.MinimumStakeAmount,
		MinimumLockDuration: ix.MinimumLockDuration,
		NormalApy:           ix.NormalApy,
		LockedApy:           ix.LockedApy,
		EarlyWithdrawalFee:  ix.EarlyWithdrawalFee,
		FeeBasisPoints:      ix.FeeBasisPoints,
		MaxFee:              ix.MaxFee,
	}
	if err := contract.Pack(contractInfo.Data); err != nil {
		return err
	}

	ctx.Log(logInfo + "Contract initialized")
	return nil
}

// processStake opens or grows the caller's position. A restake first accrues
// interest on the existing principal up to now.
func (p *Processor) processStake(ctx svm.InvokeContext, ix *Stake) error {
	// [0] = user, [1] = user token account, [2] = user record, [3] = vault,
	// [4] = contract record, [5] = mint, [6] = token program, [7] = system program
	accs, err := accountsN(ctx, 8)
	if err != nil {
		return err
	}
	pa := poolAccounts{
		user: accs[0], userToken: accs[1], userRecord: accs[2], vault: accs[3],
		contract: accs[4], mint: accs[5], tokenProgram: accs[6],
	}
	if err := requireSystemProgram(accs[7]); err != nil {
		return err
	}

	pl, err := loadPool(ctx, pa, ix.Decimals)
	if err != nil {
		return err
	}
	contract := pl.contract

	if ix.Amount == 0 {
		return wrap(ErrInvalidAmount, "stake amount must be non-zero")
	}
	if pl.userToken.Amount < contract.MinimumStakeAmount {
		return wrap(ErrInsufficientBalance, "Insufficient user token balance for staking: %d < minimum %d",
			pl.userToken.Amount, contract.MinimumStakeAmount)
	}
	if pl.userToken.Amount < ix.Amount {
		return wrap(ErrInsufficientBalance, "balance %d < amount %d", pl.userToken.Amount, ix.Amount)
	}
	if ix.StakeType == StakeLocked && ix.LockDuration < contract.MinimumLockDuration {
		return wrap(ErrLockDurationTooShort, "%d < minimum %d", ix.LockDuration, contract.MinimumLockDuration)
	}

	userSeeds, err := verifyAddress(ctx, UserSeeds(pa.user.Key), pa.userRecord.Key, "user record")
	if err != nil {
		ctx.Log(logError + "User data account and generated pda mismatch")
		return err
	}

	var user *UserRecord
	needsCreate := false
	switch pa.userRecord.Owner {
	case system.ProgramID:
		if len(pa.userRecord.Data) > 0 {
			return wrap(ErrInvalidAccountOwner, "user record %s holds system data", pa.userRecord.Key)
		}
		if !pa.user.IsWritable {
			return wrap(ErrAccountNotWritable, "user %s funds the user record", pa.user.Key)
		}
		needsCreate = true
		user = &UserRecord{}
	case ctx.ProgramID():
		if user, err = UnpackUserRecord(pa.userRecord.Data); err != nil {
			return err
		}
		if user.IsInitialized && user.Owner != pa.user.Key {
			return wrap(ErrInvalidAccountData, "user record owner %s", user.Owner)
		}
	default:
		return wrap(ErrInvalidAccountOwner, "user record %s owned by %s", pa.userRecord.Key, pa.userRecord.Owner)
	}

	now := ctx.Clock().UnixTimestamp
	nowTs := unixSeconds(now)

	var interest uint64
	if !user.IsInitialized {
		*user = UserRecord{
			IsInitialized: true,
			Owner:         pa.user.Key,
			StakeType:     ix.StakeType,
			TotalStaked:   ix.Amount,
			StakeTs:       nowTs,
		}
		if ix.StakeType == StakeLocked {
			user.LockDuration = ix.LockDuration
		}
	} else {
		if user.StakeType != ix.StakeType {
			return wrap(ErrStakeTypeMismatch, "existing stake is %s, got %s", user.StakeType, ix.StakeType)
		}
		interest = Interest(contract.Apy(user.StakeType), user.TotalStaked, elapsedSince(now, user.StakeTs))
		if user.InterestAccrued, err = checkedAdd(user.InterestAccrued, interest); err != nil {
			return err
		}
		if user.TotalStaked, err = checkedAdd(user.TotalStaked, ix.Amount); err != nil {
			return err
		}
		user.StakeTs = nowTs
		if ix.StakeType == StakeLocked {
			user.LockDuration = ix.LockDuration
		}
	}

	if contract.TotalStaked, err = checkedAdd(contract.TotalStaked, ix.Amount); err != nil {
		return err
	}
	if contract.TotalEarned, err = checkedAdd(contract.TotalEarned, interest); err != nil {
		return err
	}

	if needsCreate {
		if err := createRecord(ctx, pa.user, pa.userRecord, UserRecordSize, userSeeds); err != nil {
			return fmt.Errorf("create user record: %w", err)
		}
	}

	transfer := token.TransferChecked(pa.tokenProgram.Key, pa.userToken.Key, pa.mint.Key, pa.vault.Key,
		pa.user.Key, ix.Amount, pl.mint.Decimals)
	if err := ctx.Invoke(transfer); err != nil {
		return fmt.Errorf("transfer to vault: %w", err)
	}

	if err := user.Pack(pa.userRecord.Data); err != nil {
		return err
	}
	if err := contract.Pack(pa.contract.Data); err != nil {
		return err
	}

	if user.StakeType == StakeLocked {
		ctx.Log(logInfo + "Locked Staking")
	} else {
		ctx.Log(logInfo + "Performing Normal Staking")
	}
	ctx.Log(fmt.Sprintf("%sstaked %d, total %d, interest accrued %d", logInfo, ix.Amount, user.TotalStaked, user.InterestAccrued))
	return nil
}

// processUnstake pays out the whole position and closes the user record.
func (p *Processor) processUnstake(ctx svm.InvokeContext, ix *Unstake) error {
	// [0] = user, [1] = user token account, [2] = user record, [3] = vault,
	// [4] = contract record, [5] = mint, [6] = token program
	accs, err := accountsN(ctx, 7)
	if err != nil {
		return err
	}
	pa := poolAccounts{
		user: accs[0], userToken: accs[1], userRecord: accs[2], vault: accs[3],
		contract: accs[4], mint: accs[5], tokenProgram: accs[6],
	}

	pl, err := loadPool(ctx, pa, ix.Decimals)
	if err != nil {
		return err
	}
	contract := pl.contract

	if _, err := verifyAddress(ctx, UserSeeds(pa.user.Key), pa.userRecord.Key, "user record"); err != nil {
		ctx.Log(logError + "User data account and generated pda mismatch")
		return err
	}
	if pa.userRecord.Owner != ctx.ProgramID() {
		return wrap(ErrUninitializedAccount, "user record %s", pa.userRecord.Key)
	}
	user, err := UnpackUserRecord(pa.userRecord.Data)
	if err != nil {
		return err
	}
	if !user.IsInitialized {
		return wrap(ErrUninitializedAccount, "user record %s", pa.userRecord.Key)
	}
	if user.Owner != pa.user.Key {
		return wrap(ErrInvalidAccountData, "user record owner %s", user.Owner)
	}
	if user.TotalStaked == 0 {
		return ErrNothingStaked
	}

	elapsed := elapsedSince(ctx.Clock().UnixTimestamp, user.StakeTs)
	principal := user.TotalStaked

	var payout, earned uint64
	matured := true
	switch user.StakeType {
	case StakeNormal:
		if elapsed < MinimumNormalHold {
			return wrap(ErrMinimumHoldNotMet, "held %ds of %ds", elapsed, MinimumNormalHold)
		}
	case StakeLocked:
		matured = elapsed >= user.LockDuration
	}

	if matured {
		earned = Interest(contract.Apy(user.StakeType), principal, elapsed)
		if payout, err = checkedAdd(principal, user.InterestAccrued); err != nil {
			return err
		}
		if payout, err = checkedAdd(payout, earned); err != nil {
			return err
		}
	} else {
		penalty := Penalty(contract.EarlyWithdrawalFee, principal)
		if penalty > principal {
			return wrap(ErrPenaltyExceedsPrincipal, "penalty %d, principal %d", penalty, principal)
		}
		payout = principal - penalty
		ctx.Log(fmt.Sprintf("%searly withdrawal penalty %d", logInfo, penalty))
	}

	gross := payout
	if cfg := pl.mint.TransferFeeConfig; cfg != nil && payout > 0 {
		fee, ok := cfg.CalculateInverseEpochFee(ctx.Clock().Epoch, payout)
		if !ok {
			return wrap(ErrArithmeticOverflow, "transfer fee on %d", payout)
		}
		if gross, err = checkedAdd(payout, fee); err != nil {
			return err
		}
	}
	if pl.vault.Amount < gross {
		return wrap(ErrInsufficientBalance, "vault holds %d, payout needs %d", pl.vault.Amount, gross)
	}

	if contract.TotalStaked, err = checkedSub(contract.TotalStaked, principal); err != nil {
		return err
	}
	if contract.TotalEarned, err = checkedAdd(contract.TotalEarned, earned); err != nil {
		return err
	}
	reclaimed, err := checkedAdd(pa.contract.Lamports, pa.userRecord.Lamports)
	if err != nil {
		return err
	}

	if gross > 0 {
		transfer := token.TransferChecked(pa.tokenProgram.Key, pa.vault.Key, pa.mint.Key, pa.userToken.Key,
			pa.contract.Key, gross, pl.mint.Decimals)
		if err := ctx.Invoke(transfer, pl.contractSeeds); err != nil {
			return fmt.Errorf("transfer payout: %w", err)
		}
	}

	// Close the user record; its rent deposit moves to the contract record.
	pa.contract.Lamports = reclaimed
	pa.userRecord.Lamports = 0
	pa.userRecord.Data = nil
	pa.userRecord.Owner = system.ProgramID

	if err := contract.Pack(pa.contract.Data); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("%sunstaked principal %d, payout %d, transferred %d", logInfo, principal, payout, gross))
	return nil
}

// loadAdminContract validates an admin-only instruction's accounts.
func loadAdminContract(ctx svm.InvokeContext) (*ContractRecord, *svm.AccountInfo, error) {
	// [0] = admin, [1] = contract record
	accs, err := accountsN(ctx, 2)
	if err != nil {
		return nil, nil, err
	}
	admin, contractInfo := accs[0], accs[1]
	if err := requireSigner(admin, "admin"); err != nil {
		return nil, nil, err
	}
	if err := requireWritable(contractInfo); err != nil {
		return nil, nil, err
	}
	contract, _, err := loadContract(ctx, contractInfo)
	if err != nil {
		return nil, nil, err
	}
	if contract.Admin != admin.Key {
		return nil, nil, wrap(ErrUnauthorized, "%s", admin.Key)
	}
	return contract, contractInfo, nil
}

// processUpdateApy replaces both APYs. Totals and other policy are untouched.
func (p *Processor) processUpdateApy(ctx svm.InvokeContext, ix *UpdateApy) error {
	contract, info, err := loadAdminContract(ctx)
	if err != nil {
		return err
	}
	if ix.NormalApy == 0 || ix.LockedApy == 0 {
		return wrap(ErrInvalidConfig, "APY must be non-zero")
	}

	contract.NormalApy = ix.NormalApy
	contract.LockedApy = ix.LockedApy
	if err := contract.Pack(info.Data); err != nil {
		return err
	}
	ctx.Log(fmt.Sprintf("%sAPY updated: normal %d, locked %d", logInfo, ix.NormalApy, ix.LockedApy))
	return nil
}

// processUpdateTransferConfig replaces the recorded transfer fee settings.
func (p *Processor) processUpdateTransferConfig(ctx svm.InvokeContext, ix *UpdateTransferConfig) error {
	contract, info, err := loadAdminContract(ctx)
	if err != nil {
		return err
	}
	if ix.FeeBasisPoints > MaxBasisPoints {
		return wrap(ErrInvalidConfig, "fee basis points %d exceeds %d", ix.FeeBasisPoints, MaxBasisPoints)
	}

	contract.FeeBasisPoints = ix.FeeBasisPoints
	contract.MaxFee = ix.MaxFee
	if err := contract.Pack(info.Data); err != nil {
		return err
	}
	ctx.Log(fmt.Sprintf("%stransfer config updated: %d bps, max fee %d", logInfo, ix.FeeBasisPoints, ix.MaxFee))
	return nil
}
