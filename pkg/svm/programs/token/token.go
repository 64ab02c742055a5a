// Package token implements the subset of the SPL Token and Token-2022 programs
// the staking runtime needs: mint and account initialization, minting, plain
// and checked transfers, authority changes and the transfer fee extension.
//
// The same processor serves both program addresses. Extensions are only
// accepted when executing as Token-2022.
package token

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// Instruction discriminants.
const (
	InstructionInitializeMint       uint8 = 0
	InstructionInitializeAccount    uint8 = 1
	InstructionTransfer             uint8 = 3
	InstructionSetAuthority         uint8 = 6
	InstructionMintTo               uint8 = 7
	InstructionTransferChecked      uint8 = 12
	InstructionTransferFeeExtension uint8 = 26
)

// Transfer fee extension sub-instructions.
const (
	TransferFeeInitializeConfig uint8 = 0
	TransferFeeSetTransferFee   uint8 = 5
)

const maxTransferFeeBasisPoints = OneInBasisPoints

// AuthorityType selects the authority changed by SetAuthority.
type AuthorityType uint8

// Authority types.
const (
	AuthorityMintTokens        AuthorityType = 0
	AuthorityFreezeAccount     AuthorityType = 1
	AuthorityAccountOwner      AuthorityType = 2
	AuthorityCloseAccount      AuthorityType = 3
	AuthorityTransferFeeConfig AuthorityType = 10
)

// Error types.
var (
	ErrInvalidInstruction        = errors.New("invalid instruction")
	ErrNotEnoughAccountKeys      = errors.New("not enough account keys")
	ErrIncorrectProgramID        = errors.New("incorrect program id")
	ErrInvalidAccountData        = errors.New("invalid account data")
	ErrUnsupportedExtension      = errors.New("unsupported extension")
	ErrAlreadyInUse              = errors.New("account or token already in use")
	ErrUninitializedState        = errors.New("state is uninitialized")
	ErrNotRentExempt             = errors.New("lamport balance below rent-exempt threshold")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrMintMismatch              = errors.New("account not associated with this mint")
	ErrOwnerMismatch             = errors.New("owner does not match")
	ErrMissingRequiredSignature  = errors.New("missing required signature")
	ErrAccountFrozen             = errors.New("account is frozen")
	ErrMintDecimalsMismatch      = errors.New("mint decimals mismatch")
	ErrFixedSupply               = errors.New("fixed supply")
	ErrAuthorityTypeNotSupported = errors.New("authority type not supported")
	ErrOverflow                  = errors.New("operation overflowed")
	ErrFeeCalculation            = errors.New("transfer fee calculation failed")
	ErrMintRequiredForTransfer   = errors.New("mint required for transfer, use TransferChecked")
	ErrTransferFeeExceedsMaximum = errors.New("transfer fee exceeds maximum of 10000 basis points")
	ErrExtensionsNotSupported    = errors.New("extensions require the Token-2022 program")
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process executes a token program instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUTokenProgramDefault); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrInvalidInstruction
	}

	decoder := bin.NewBinDecoder(data[1:])
	switch data[0] {
	case InstructionInitializeMint:
		return p.processInitializeMint(ctx, decoder)
	case InstructionInitializeAccount:
		return p.processInitializeAccount(ctx)
	case InstructionTransfer:
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstruction
		}
		return p.processTransfer(ctx, amount, nil)
	case InstructionSetAuthority:
		return p.processSetAuthority(ctx, decoder)
	case InstructionMintTo:
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstruction
		}
		return p.processMintTo(ctx, amount)
	case InstructionTransferChecked:
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstruction
		}
		decimals, err := decoder.ReadByte()
		if err != nil {
			return ErrInvalidInstruction
		}
		return p.processTransfer(ctx, amount, &decimals)
	case InstructionTransferFeeExtension:
		if ctx.ProgramID() != types.Token2022ProgramAddr {
			return ErrExtensionsNotSupported
		}
		sub, err := decoder.ReadByte()
		if err != nil {
			return ErrInvalidInstruction
		}
		switch sub {
		case TransferFeeInitializeConfig:
			return p.processInitializeTransferFeeConfig(ctx, decoder)
		case TransferFeeSetTransferFee:
			return p.processSetTransferFee(ctx, decoder)
		}
		return ErrInvalidInstruction
	default:
		return ErrInvalidInstruction
	}
}

// readOptionalPubkey reads an instruction-encoded COption<Pubkey>: a one-byte
// tag followed by the key only when present.
func readOptionalPubkey(decoder *bin.Decoder) (*types.Pubkey, error) {
	tag, err := decoder.ReadByte()
	if err != nil {
		return nil, ErrInvalidInstruction
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		raw, err := decoder.ReadBytes(types.PubkeySize)
		if err != nil {
			return nil, ErrInvalidInstruction
		}
		pk, _ := types.PubkeyFromBytes(raw)
		return &pk, nil
	default:
		return nil, ErrInvalidInstruction
	}
}

// accountsN fetches the first n instruction accounts.
func accountsN(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.AccountCount() < n {
		return nil, ErrNotEnoughAccountKeys
	}
	out := make([]*svm.AccountInfo, n)
	for i := range out {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return nil, ErrNotEnoughAccountKeys
		}
		out[i] = info
	}
	return out, nil
}

// checkOwned verifies the account is owned by the executing token program.
func checkOwned(ctx svm.InvokeContext, info *svm.AccountInfo) error {
	if info.Owner != ctx.ProgramID() {
		return ErrIncorrectProgramID
	}
	return nil
}

// checkAuthority verifies that info is the expected authority and signed.
func checkAuthority(expected types.Pubkey, info *svm.AccountInfo) error {
	if info.Key != expected {
		return ErrOwnerMismatch
	}
	if !info.IsSigner {
		return ErrMissingRequiredSignature
	}
	return nil
}

func loadMint(ctx svm.InvokeContext, info *svm.AccountInfo) (*Mint, error) {
	if err := checkOwned(ctx, info); err != nil {
		return nil, err
	}
	mint, err := UnpackMint(info.Data)
	if err != nil {
		return nil, err
	}
	if !mint.IsInitialized {
		return nil, ErrUninitializedState
	}
	return mint, nil
}

func loadAccount(ctx svm.InvokeContext, info *svm.AccountInfo) (*Account, error) {
	if err := checkOwned(ctx, info); err != nil {
		return nil, err
	}
	account, err := UnpackAccount(info.Data)
	if err != nil {
		return nil, err
	}
	if !account.IsInitialized() {
		return nil, ErrUninitializedState
	}
	return account, nil
}

// checkExtensionsAllowed rejects extended layouts under the legacy program.
func checkExtensionsAllowed(ctx svm.InvokeContext, data []byte) error {
	if len(data) > AccountLen && ctx.ProgramID() != types.Token2022ProgramAddr {
		return ErrExtensionsNotSupported
	}
	return nil
}

func (p *Processor) processInitializeMint(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	decimals, err := decoder.ReadByte()
	if err != nil {
		return ErrInvalidInstruction
	}
	raw, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return ErrInvalidInstruction
	}
	mintAuthority, _ := types.PubkeyFromBytes(raw)
	freezeAuthority, err := readOptionalPubkey(decoder)
	if err != nil {
		return err
	}

	// [0] = mint, [1] = rent sysvar
	accs, err := accountsN(ctx, 2)
	if err != nil {
		return err
	}
	mintInfo := accs[0]
	if accs[1].Key != types.SysvarRentAddr {
		return ErrInvalidInstruction
	}
	if err := checkOwned(ctx, mintInfo); err != nil {
		return err
	}
	if err := checkExtensionsAllowed(ctx, mintInfo.Data); err != nil {
		return err
	}

	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrAlreadyInUse
	}
	if !ctx.Rent().IsExempt(mintInfo.Lamports, uint64(len(mintInfo.Data))) {
		return ErrNotRentExempt
	}

	mint.MintAuthority = &mintAuthority
	mint.Decimals = decimals
	mint.IsInitialized = true
	mint.FreezeAuthority = freezeAuthority

	if err := mint.Pack(mintInfo.Data); err != nil {
		return err
	}
	ctx.Log("Instruction: InitializeMint")
	return nil
}

func (p *Processor) processInitializeAccount(ctx svm.InvokeContext) error {
	// [0] = account, [1] = mint, [2] = owner, [3] = rent sysvar
	accs, err := accountsN(ctx, 4)
	if err != nil {
		return err
	}
	accountInfo, mintInfo, ownerInfo := accs[0], accs[1], accs[2]
	if accs[3].Key != types.SysvarRentAddr {
		return ErrInvalidInstruction
	}
	if err := checkOwned(ctx, accountInfo); err != nil {
		return err
	}
	if err := checkExtensionsAllowed(ctx, accountInfo.Data); err != nil {
		return err
	}

	existing, err := UnpackAccount(accountInfo.Data)
	if err != nil {
		return err
	}
	if existing.IsInitialized() {
		return ErrAlreadyInUse
	}
	if !ctx.Rent().IsExempt(accountInfo.Lamports, uint64(len(accountInfo.Data))) {
		return ErrNotRentExempt
	}

	mint, err := loadMint(ctx, mintInfo)
	if err != nil {
		return err
	}
	withFee := mint.TransferFeeConfig != nil
	if len(accountInfo.Data) != AccountSize(withFee) {
		return ErrInvalidAccountData
	}

	account := &Account{
		Mint:  mintInfo.Key,
		Owner: ownerInfo.Key,
		State: AccountStateInitialized,
	}
	if withFee {
		account.TransferFeeAmount = &TransferFeeAmount{}
	}
	if err := account.Pack(accountInfo.Data); err != nil {
		return err
	}
	ctx.Log("Instruction: InitializeAccount")
	return nil
}

// processTransfer moves tokens between accounts. expectedDecimals is nil for
// the unchecked Transfer instruction, whose account list omits the mint.
func (p *Processor) processTransfer(ctx svm.InvokeContext, amount uint64, expectedDecimals *uint8) error {
	var srcInfo, mintInfo, dstInfo, authInfo *svm.AccountInfo
	if expectedDecimals != nil {
		// [0] = source, [1] = mint, [2] = destination, [3] = authority
		accs, err := accountsN(ctx, 4)
		if err != nil {
			return err
		}
		srcInfo, mintInfo, dstInfo, authInfo = accs[0], accs[1], accs[2], accs[3]
	} else {
		// [0] = source, [1] = destination, [2] = authority
		accs, err := accountsN(ctx, 3)
		if err != nil {
			return err
		}
		srcInfo, dstInfo, authInfo = accs[0], accs[1], accs[2]
	}

	src, err := loadAccount(ctx, srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(ctx, dstInfo)
	if err != nil {
		return err
	}
	if src.IsFrozen() || dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}

	var fee uint64
	if mintInfo != nil {
		if mintInfo.Key != src.Mint {
			return ErrMintMismatch
		}
		mint, err := loadMint(ctx, mintInfo)
		if err != nil {
			return err
		}
		if mint.Decimals != *expectedDecimals {
			return ErrMintDecimalsMismatch
		}
		if mint.TransferFeeConfig != nil {
			var ok bool
			fee, ok = mint.TransferFeeConfig.CalculateEpochFee(ctx.Clock().Epoch, amount)
			if !ok {
				return ErrFeeCalculation
			}
		}
	} else if src.TransferFeeAmount != nil {
		return ErrMintRequiredForTransfer
	}

	if err := checkAuthority(src.Owner, authInfo); err != nil {
		return err
	}

	if srcInfo.Key == dstInfo.Key {
		ctx.Log("Instruction: Transfer (self)")
		return nil
	}

	credited := amount - fee
	if dst.Amount > ^uint64(0)-credited {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += credited
	if fee > 0 {
		if dst.TransferFeeAmount == nil {
			return ErrInvalidAccountData
		}
		withheld, ok := addU64(dst.TransferFeeAmount.WithheldAmount, fee)
		if !ok {
			return ErrOverflow
		}
		dst.TransferFeeAmount.WithheldAmount = withheld
	}

	if err := src.Pack(srcInfo.Data); err != nil {
		return err
	}
	if err := dst.Pack(dstInfo.Data); err != nil {
		return err
	}
	if expectedDecimals != nil {
		ctx.Log(fmt.Sprintf("Instruction: TransferChecked amount=%d fee=%d", amount, fee))
	} else {
		ctx.Log(fmt.Sprintf("Instruction: Transfer amount=%d", amount))
	}
	return nil
}

func (p *Processor) processMintTo(ctx svm.InvokeContext, amount uint64) error {
	// [0] = mint, [1] = destination, [2] = mint authority
	accs, err := accountsN(ctx, 3)
	if err != nil {
		return err
	}
	mintInfo, dstInfo, authInfo := accs[0], accs[1], accs[2]

	mint, err := loadMint(ctx, mintInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(ctx, dstInfo)
	if err != nil {
		return err
	}
	if dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if err := checkAuthority(*mint.MintAuthority, authInfo); err != nil {
		return err
	}

	supply, ok := addU64(mint.Supply, amount)
	if !ok {
		return ErrOverflow
	}
	balance, ok := addU64(dst.Amount, amount)
	if !ok {
		return ErrOverflow
	}
	mint.Supply = supply
	dst.Amount = balance

	if err := mint.Pack(mintInfo.Data); err != nil {
		return err
	}
	if err := dst.Pack(dstInfo.Data); err != nil {
		return err
	}
	ctx.Log("Instruction: MintTo")
	return nil
}

func (p *Processor) processSetAuthority(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	rawType, err := decoder.ReadByte()
	if err != nil {
		return ErrInvalidInstruction
	}
	authorityType := AuthorityType(rawType)
	newAuthority, err := readOptionalPubkey(decoder)
	if err != nil {
		return err
	}

	// [0] = mint or account, [1] = current authority
	accs, err := accountsN(ctx, 2)
	if err != nil {
		return err
	}
	targetInfo, authInfo := accs[0], accs[1]
	if err := checkOwned(ctx, targetInfo); err != nil {
		return err
	}

	switch authorityType {
	case AuthorityAccountOwner, AuthorityCloseAccount:
		account, err := loadAccount(ctx, targetInfo)
		if err != nil {
			return err
		}
		if account.IsFrozen() {
			return ErrAccountFrozen
		}
		if authorityType == AuthorityAccountOwner {
			if err := checkAuthority(account.Owner, authInfo); err != nil {
				return err
			}
			if newAuthority == nil {
				return ErrInvalidInstruction
			}
			account.Owner = *newAuthority
			account.Delegate = nil
			account.DelegatedAmount = 0
		} else {
			current := account.Owner
			if account.CloseAuthority != nil {
				current = *account.CloseAuthority
			}
			if err := checkAuthority(current, authInfo); err != nil {
				return err
			}
			account.CloseAuthority = newAuthority
		}
		if err := account.Pack(targetInfo.Data); err != nil {
			return err
		}

	case AuthorityMintTokens, AuthorityFreezeAccount, AuthorityTransferFeeConfig:
		mint, err := loadMint(ctx, targetInfo)
		if err != nil {
			return err
		}
		switch authorityType {
		case AuthorityMintTokens:
			if mint.MintAuthority == nil {
				return ErrFixedSupply
			}
			if err := checkAuthority(*mint.MintAuthority, authInfo); err != nil {
				return err
			}
			mint.MintAuthority = newAuthority
		case AuthorityFreezeAccount:
			if mint.FreezeAuthority == nil {
				return ErrAuthorityTypeNotSupported
			}
			if err := checkAuthority(*mint.FreezeAuthority, authInfo); err != nil {
				return err
			}
			mint.FreezeAuthority = newAuthority
		default:
			cfg := mint.TransferFeeConfig
			if cfg == nil || cfg.ConfigAuthority.IsZero() {
				return ErrAuthorityTypeNotSupported
			}
			if err := checkAuthority(cfg.ConfigAuthority, authInfo); err != nil {
				return err
			}
			cfg.ConfigAuthority = types.Pubkey{}
			if newAuthority != nil {
				cfg.ConfigAuthority = *newAuthority
			}
		}
		if err := mint.Pack(targetInfo.Data); err != nil {
			return err
		}

	default:
		return ErrAuthorityTypeNotSupported
	}

	ctx.Log("Instruction: SetAuthority")
	return nil
}

func (p *Processor) processInitializeTransferFeeConfig(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	configAuthority, err := readOptionalPubkey(decoder)
	if err != nil {
		return err
	}
	withdrawAuthority, err := readOptionalPubkey(decoder)
	if err != nil {
		return err
	}
	bps, err := decoder.ReadUint16(bin.LE)
	if err != nil {
		return ErrInvalidInstruction
	}
	maxFee, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstruction
	}
	if bps > maxTransferFeeBasisPoints {
		return ErrTransferFeeExceedsMaximum
	}

	// [0] = mint
	accs, err := accountsN(ctx, 1)
	if err != nil {
		return err
	}
	mintInfo := accs[0]
	if err := checkOwned(ctx, mintInfo); err != nil {
		return err
	}
	if len(mintInfo.Data) != MintWithTransferFeeLen {
		return ErrInvalidAccountData
	}
	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if mint.IsInitialized {
		return ErrAlreadyInUse
	}
	if mint.TransferFeeConfig != nil {
		return ErrAlreadyInUse
	}

	fee := TransferFee{
		Epoch:                  ctx.Clock().Epoch,
		MaximumFee:             maxFee,
		TransferFeeBasisPoints: bps,
	}
	cfg := &TransferFeeConfig{
		OlderTransferFee: fee,
		NewerTransferFee: fee,
	}
	if configAuthority != nil {
		cfg.ConfigAuthority = *configAuthority
	}
	if withdrawAuthority != nil {
		cfg.WithdrawWithheldAuthority = *withdrawAuthority
	}
	mint.TransferFeeConfig = cfg

	if err := mint.Pack(mintInfo.Data); err != nil {
		return err
	}
	ctx.Log("Instruction: InitializeTransferFeeConfig")
	return nil
}

func (p *Processor) processSetTransferFee(ctx svm.InvokeContext, decoder *bin.Decoder) error {
	bps, err := decoder.ReadUint16(bin.LE)
	if err != nil {
		return ErrInvalidInstruction
	}
	maxFee, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return ErrInvalidInstruction
	}
	if bps > maxTransferFeeBasisPoints {
		return ErrTransferFeeExceedsMaximum
	}

	// [0] = mint, [1] = transfer fee config authority
	accs, err := accountsN(ctx, 2)
	if err != nil {
		return err
	}
	mintInfo, authInfo := accs[0], accs[1]

	mint, err := loadMint(ctx, mintInfo)
	if err != nil {
		return err
	}
	cfg := mint.TransferFeeConfig
	if cfg == nil {
		return ErrInvalidAccountData
	}
	if cfg.ConfigAuthority.IsZero() {
		return ErrAuthorityTypeNotSupported
	}
	if err := checkAuthority(cfg.ConfigAuthority, authInfo); err != nil {
		return err
	}

	// A pending newer fee that has already taken effect becomes the older fee;
	// otherwise the older fee stays in force until the new one starts.
	epoch := ctx.Clock().Epoch
	if cfg.NewerTransferFee.Epoch <= epoch {
		cfg.OlderTransferFee = cfg.NewerTransferFee
	}
	cfg.NewerTransferFee = TransferFee{
		Epoch:                  epoch + 2,
		MaximumFee:             maxFee,
		TransferFeeBasisPoints: bps,
	}

	if err := mint.Pack(mintInfo.Data); err != nil {
		return err
	}
	ctx.Log("Instruction: SetTransferFee")
	return nil
}
