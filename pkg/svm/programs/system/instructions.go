package system

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// Instruction discriminants, encoded as a little-endian u32.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// Args carries the decoded fields of every supported instruction. Each
// instruction uses a subset: CreateAccount all three, Assign the owner,
// Transfer the lamports and Allocate the space.
type Args struct {
	Kind     uint32
	Lamports uint64
	Space    uint64
	Owner    types.Pubkey
}

func (a *Args) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(a.Kind, bin.LE); err != nil {
		return err
	}
	switch a.Kind {
	case InstructionCreateAccount:
		if err := encoder.WriteUint64(a.Lamports, bin.LE); err != nil {
			return err
		}
		if err := encoder.WriteUint64(a.Space, bin.LE); err != nil {
			return err
		}
		return encoder.WriteBytes(a.Owner[:], false)
	case InstructionAssign:
		return encoder.WriteBytes(a.Owner[:], false)
	case InstructionTransfer:
		return encoder.WriteUint64(a.Lamports, bin.LE)
	case InstructionAllocate:
		return encoder.WriteUint64(a.Space, bin.LE)
	default:
		return fmt.Errorf("unknown system instruction %d", a.Kind)
	}
}

func (a *Args) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if a.Kind, err = decoder.ReadUint32(bin.LE); err != nil {
		return err
	}
	readOwner := func() error {
		raw, err := decoder.ReadBytes(types.PubkeySize)
		if err != nil {
			return err
		}
		copy(a.Owner[:], raw)
		return nil
	}
	switch a.Kind {
	case InstructionCreateAccount:
		if a.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
			return err
		}
		if a.Space, err = decoder.ReadUint64(bin.LE); err != nil {
			return err
		}
		return readOwner()
	case InstructionAssign:
		return readOwner()
	case InstructionTransfer:
		a.Lamports, err = decoder.ReadUint64(bin.LE)
		return err
	case InstructionAllocate:
		a.Space, err = decoder.ReadUint64(bin.LE)
		return err
	default:
		return fmt.Errorf("unknown system instruction %d", a.Kind)
	}
}

func (a *Args) encode() []byte {
	var buf bytes.Buffer
	if err := a.MarshalWithEncoder(bin.NewBinEncoder(&buf)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// CreateAccount builds a CreateAccount instruction: from funds newAccount with
// lamports, allocates space zeroed bytes and assigns it to owner.
func CreateAccount(from, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	args := Args{Kind: InstructionCreateAccount, Lamports: lamports, Space: space, Owner: owner}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.WritableSigner(from), svm.WritableSigner(newAccount)},
		Data:      args.encode(),
	}
}

// Transfer builds a lamport Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	args := Args{Kind: InstructionTransfer, Lamports: lamports}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.WritableSigner(from), svm.Writable(to)},
		Data:      args.encode(),
	}
}

func Assign(account, owner types.Pubkey) svm.Instruction {
	args := Args{Kind: InstructionAssign, Owner: owner}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.WritableSigner(account)},
		Data:      args.encode(),
	}
}

func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	args := Args{Kind: InstructionAllocate, Space: space}
	return svm.Instruction{
		ProgramID: ProgramID,
		Accounts:  []svm.AccountMeta{svm.WritableSigner(account)},
		Data:      args.encode(),
	}
}
