package token

import (
	"encoding/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

func appendOptionalPubkey(data []byte, pk *types.Pubkey) []byte {
	if pk == nil {
		return append(data, 0)
	}
	data = append(data, 1)
	return append(data, pk[:]...)
}

// InitializeMint builds an InitializeMint instruction.
func InitializeMint(programID, mint, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey, decimals uint8) svm.Instruction {
	data := []byte{InstructionInitializeMint, decimals}
	data = append(data, mintAuthority[:]...)
	data = appendOptionalPubkey(data, freezeAuthority)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(mint),
			svm.Readonly(types.SysvarRentAddr),
		},
		Data: data,
	}
}

// InitializeAccount builds an InitializeAccount instruction.
func InitializeAccount(programID, account, mint, owner types.Pubkey) svm.Instruction {
	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(account),
			svm.Readonly(mint),
			svm.Readonly(owner),
			svm.Readonly(types.SysvarRentAddr),
		},
		Data: []byte{InstructionInitializeAccount},
	}
}

// Transfer builds an unchecked Transfer instruction.
func Transfer(programID, source, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(source),
			svm.Writable(destination),
			svm.Signer(authority),
		},
		Data: data,
	}
}

// TransferChecked builds a TransferChecked instruction.
func TransferChecked(programID, source, mint, destination, authority types.Pubkey, amount uint64, decimals uint8) svm.Instruction {
	data := make([]byte, 1+8+1)
	data[0] = InstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:], amount)
	data[9] = decimals

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(source),
			svm.Readonly(mint),
			svm.Writable(destination),
			svm.Signer(authority),
		},
		Data: data,
	}
}

// SetAuthority builds a SetAuthority instruction. A nil newAuthority clears it.
func SetAuthority(programID, target, currentAuthority types.Pubkey, authorityType AuthorityType, newAuthority *types.Pubkey) svm.Instruction {
	data := []byte{InstructionSetAuthority, byte(authorityType)}
	data = appendOptionalPubkey(data, newAuthority)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(target),
			svm.Signer(currentAuthority),
		},
		Data: data,
	}
}

// MintTo builds a MintTo instruction.
func MintTo(programID, mint, destination, mintAuthority types.Pubkey, amount uint64) svm.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:], amount)

	return svm.Instruction{
		ProgramID: programID,
		Accounts: []svm.AccountMeta{
			svm.Writable(mint),
			svm.Writable(destination),
			svm.Signer(mintAuthority),
		},
		Data: data,
	}
}

// InitializeTransferFeeConfig builds the Token-2022 transfer fee config
// initializer. It must run before InitializeMint.
func InitializeTransferFeeConfig(mint types.Pubkey, configAuthority, withdrawAuthority *types.Pubkey, basisPoints uint16, maximumFee uint64) svm.Instruction {
	data := []byte{InstructionTransferFeeExtension, TransferFeeInitializeConfig}
	data = appendOptionalPubkey(data, configAuthority)
	data = appendOptionalPubkey(data, withdrawAuthority)
	data = binary.LittleEndian.AppendUint16(data, basisPoints)
	data = binary.LittleEndian.AppendUint64(data, maximumFee)

	return svm.Instruction{
		ProgramID: types.Token2022ProgramAddr,
		Accounts:  []svm.AccountMeta{svm.Writable(mint)},
		Data:      data,
	}
}

// SetTransferFee builds the Token-2022 SetTransferFee instruction. The new fee
// takes effect two epochs after the current one.
func SetTransferFee(mint, configAuthority types.Pubkey, basisPoints uint16, maximumFee uint64) svm.Instruction {
	data := []byte{InstructionTransferFeeExtension, TransferFeeSetTransferFee}
	data = binary.LittleEndian.AppendUint16(data, basisPoints)
	data = binary.LittleEndian.AppendUint64(data, maximumFee)

	return svm.Instruction{
		ProgramID: types.Token2022ProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.Writable(mint),
			svm.Signer(configAuthority),
		},
		Data: data,
	}
}
