// Package client builds solana-go instructions and transactions for the
// staking program, for submission to a validator through any solana-go RPC
// client.
package client

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/staking"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// ErrMissingKey is returned when a transaction signer has no private key.
var ErrMissingKey = errors.New("no private key for signer")

// PublicKey converts a pubkey to its solana-go form.
func PublicKey(p types.Pubkey) solana.PublicKey {
	return solana.PublicKeyFromBytes(p[:])
}

// Pubkey converts a solana-go public key.
func Pubkey(p solana.PublicKey) types.Pubkey {
	return types.Pubkey(p)
}

// ToSolana converts an instruction to a solana-go instruction.
func ToSolana(ix svm.Instruction) *solana.GenericInstruction {
	metas := make(solana.AccountMetaSlice, len(ix.Accounts))
	for i, m := range ix.Accounts {
		metas[i] = solana.NewAccountMeta(PublicKey(m.Pubkey), m.IsWritable, m.IsSigner)
	}
	return solana.NewInstruction(PublicKey(ix.ProgramID), metas, ix.Data)
}

// FromSolana converts a solana-go instruction.
func FromSolana(ix solana.Instruction) (svm.Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return svm.Instruction{}, fmt.Errorf("instruction data: %w", err)
	}
	out := svm.Instruction{
		ProgramID: Pubkey(ix.ProgramID()),
		Accounts:  make([]svm.AccountMeta, 0, len(ix.Accounts())),
		Data:      data,
	}
	for _, m := range ix.Accounts() {
		out.Accounts = append(out.Accounts, svm.AccountMeta{
			Pubkey:     Pubkey(m.PublicKey),
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		})
	}
	return out, nil
}

// Pool addresses one staking contract: a program deployment, an admin and a
// stake mint.
type Pool struct {
	ProgramID    solana.PublicKey
	Admin        solana.PublicKey
	Mint         solana.PublicKey
	Vault        solana.PublicKey
	TokenProgram solana.PublicKey
}

func (p Pool) keys() staking.PoolKeys {
	return staking.PoolKeys{
		ProgramID:    Pubkey(p.ProgramID),
		Admin:        Pubkey(p.Admin),
		Mint:         Pubkey(p.Mint),
		Vault:        Pubkey(p.Vault),
		TokenProgram: Pubkey(p.TokenProgram),
	}
}

// GetContractPDA returns the contract record address and its bump.
func (p Pool) GetContractPDA() (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(
		staking.ContractSeeds(Pubkey(p.Admin), Pubkey(p.Mint)),
		p.ProgramID,
	)
}

// GetUserPDA returns the user record address of owner and its bump.
func (p Pool) GetUserPDA(owner solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress(staking.UserSeeds(Pubkey(owner)), p.ProgramID)
}

func build(ix svm.Instruction, err error) (*solana.GenericInstruction, error) {
	if err != nil {
		return nil, err
	}
	return ToSolana(ix), nil
}

// NewInitInstruction builds an Init instruction signed by the admin.
func (p Pool) NewInitInstruction(args staking.Init) (*solana.GenericInstruction, error) {
	return build(p.keys().Init(args))
}

// NewStakeInstruction builds a Stake instruction for user.
func (p Pool) NewStakeInstruction(user, userToken solana.PublicKey, args staking.Stake) (*solana.GenericInstruction, error) {
	return build(p.keys().Stake(Pubkey(user), Pubkey(userToken), args))
}

// NewUnstakeInstruction builds an Unstake instruction for user.
func (p Pool) NewUnstakeInstruction(user, userToken solana.PublicKey, args staking.Unstake) (*solana.GenericInstruction, error) {
	return build(p.keys().Unstake(Pubkey(user), Pubkey(userToken), args))
}

// NewUpdateApyInstruction builds an UpdateApy instruction signed by the admin.
func (p Pool) NewUpdateApyInstruction(args staking.UpdateApy) (*solana.GenericInstruction, error) {
	return build(p.keys().UpdateApy(args))
}

// NewUpdateTransferConfigInstruction builds an UpdateTransferConfig
// instruction signed by the admin.
func (p Pool) NewUpdateTransferConfigInstruction(args staking.UpdateTransferConfig) (*solana.GenericInstruction, error) {
	return build(p.keys().UpdateTransferConfig(args))
}

// NewTransaction builds a transaction paid by the first signer and signs it
// with signers, which must cover every required signer.
func NewTransaction(blockhash solana.Hash, signers []solana.PrivateKey, instructions ...solana.Instruction) (*solana.Transaction, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("%w: no fee payer", ErrMissingKey)
	}
	tx, err := solana.NewTransaction(
		instructions,
		blockhash,
		solana.TransactionPayer(signers[0].PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

// DecodeContract decodes contract record account data.
func DecodeContract(data []byte) (*staking.ContractRecord, error) {
	return staking.UnpackContractRecord(data)
}

// DecodeUser decodes user record account data.
func DecodeUser(data []byte) (*staking.UserRecord, error) {
	return staking.UnpackUserRecord(data)
}
