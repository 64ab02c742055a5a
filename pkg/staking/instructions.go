package staking

import (
	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
	"github.com/fortiblox/X1-Staking/pkg/svm/programs/system"
)

// PoolKeys identifies one staking pool and builds its instructions.
type PoolKeys struct {
	ProgramID    types.Pubkey
	Admin        types.Pubkey
	Mint         types.Pubkey
	Vault        types.Pubkey
	TokenProgram types.Pubkey
}

// ContractAddress derives the pool's contract record address.
func (k PoolKeys) ContractAddress() (types.Pubkey, error) {
	addr, _, err := FindContractAddress(k.ProgramID, k.Admin, k.Mint)
	return addr, err
}

// UserAddress derives owner's user record address.
func (k PoolKeys) UserAddress(owner types.Pubkey) (types.Pubkey, error) {
	addr, _, err := FindUserAddress(k.ProgramID, owner)
	return addr, err
}

func (k PoolKeys) build(ix Instruction, metas []svm.AccountMeta) (svm.Instruction, error) {
	data, err := EncodeInstruction(ix)
	if err != nil {
		return svm.Instruction{}, err
	}
	return svm.Instruction{ProgramID: k.ProgramID, Accounts: metas, Data: data}, nil
}

// Init builds an Init instruction. The admin funds the contract record.
func (k PoolKeys) Init(args Init) (svm.Instruction, error) {
	contract, err := k.ContractAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	return k.build(&args, []svm.AccountMeta{
		svm.WritableSigner(k.Admin),
		svm.Writable(contract),
		svm.Writable(k.Vault),
		svm.Readonly(k.Mint),
		svm.Readonly(k.TokenProgram),
		svm.Readonly(types.SysvarRentAddr),
		svm.Readonly(system.ProgramID),
	})
}

// Stake builds a Stake instruction. The user funds the user record on first stake.
func (k PoolKeys) Stake(user, userToken types.Pubkey, args Stake) (svm.Instruction, error) {
	contract, err := k.ContractAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	record, err := k.UserAddress(user)
	if err != nil {
		return svm.Instruction{}, err
	}
	return k.build(&args, []svm.AccountMeta{
		svm.WritableSigner(user),
		svm.Writable(userToken),
		svm.Writable(record),
		svm.Writable(k.Vault),
		svm.Writable(contract),
		svm.Readonly(k.Mint),
		svm.Readonly(k.TokenProgram),
		svm.Readonly(system.ProgramID),
	})
}

// Unstake builds an Unstake instruction.
func (k PoolKeys) Unstake(user, userToken types.Pubkey, args Unstake) (svm.Instruction, error) {
	contract, err := k.ContractAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	record, err := k.UserAddress(user)
	if err != nil {
		return svm.Instruction{}, err
	}
	return k.build(&args, []svm.AccountMeta{
		svm.Signer(user),
		svm.Writable(userToken),
		svm.Writable(record),
		svm.Writable(k.Vault),
		svm.Writable(contract),
		svm.Readonly(k.Mint),
		svm.Readonly(k.TokenProgram),
	})
}

func (k PoolKeys) admin(ix Instruction) (svm.Instruction, error) {
	contract, err := k.ContractAddress()
	if err != nil {
		return svm.Instruction{}, err
	}
	return k.build(ix, []svm.AccountMeta{
		svm.Signer(k.Admin),
		svm.Writable(contract),
	})
}

// UpdateApy builds an UpdateApy instruction.
func (k PoolKeys) UpdateApy(args UpdateApy) (svm.Instruction, error) {
	return k.admin(&args)
}

// UpdateTransferConfig builds an UpdateTransferConfig instruction.
func (k PoolKeys) UpdateTransferConfig(args UpdateTransferConfig) (svm.Instruction, error) {
	return k.admin(&args)
}
