// Package system implements the System Program instructions the staking
// runtime uses: CreateAccount, Assign, Transfer and Allocate.
package system

import (
	"errors"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
	"github.com/fortiblox/X1-Staking/pkg/svm"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrInvalidAccountOwner      = errors.New("invalid account owner")
	ErrAccountNotRentExempt     = errors.New("account not rent exempt")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrAccountNotWritable       = errors.New("account not writable")
	ErrAccountDataTooLarge      = errors.New("account data too large")
	ErrLamportOverflow          = errors.New("lamport overflow")
)

// Processor executes System Program instructions.
type Processor struct{}

func NewProcessor() *Processor {
	return &Processor{}
}

type handler func(ctx svm.InvokeContext, args *Args) error

var handlers = map[uint32]struct {
	name string
	run  handler
}{
	InstructionCreateAccount: {"CreateAccount", createAccount},
	InstructionAssign:        {"Assign", assign},
	InstructionTransfer:      {"Transfer", transfer},
	InstructionAllocate:      {"Allocate", allocate},
}

// Process decodes and runs one instruction.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}
	var args Args
	if err := args.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return ErrInvalidInstructionData
	}
	h := handlers[args.Kind]
	if err := h.run(ctx, &args); err != nil {
		return err
	}
	ctx.Log(h.name + ": success")
	return nil
}

// accountsAt returns the instruction accounts at the given indices.
func accountsAt(ctx svm.InvokeContext, indices ...int) ([]*svm.AccountInfo, error) {
	out := make([]*svm.AccountInfo, len(indices))
	for i, idx := range indices {
		acc, err := ctx.GetAccount(idx)
		if err != nil {
			return nil, ErrNotEnoughAccountKeys
		}
		out[i] = acc
	}
	return out, nil
}

// unused reports whether acc is a fresh system account.
func unused(acc *svm.AccountInfo) bool {
	return acc.Owner == ProgramID && len(acc.Data) == 0 && acc.Lamports == 0
}

// Accounts: [0] funder (writable, signer), [1] new account (writable, signer).
func createAccount(ctx svm.InvokeContext, args *Args) error {
	if args.Space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}
	accs, err := accountsAt(ctx, 0, 1)
	if err != nil {
		return err
	}
	funder, created := accs[0], accs[1]
	switch {
	case !funder.IsSigner || !created.IsSigner:
		return ErrMissingRequiredSignature
	case !funder.IsWritable || !created.IsWritable:
		return ErrAccountNotWritable
	case funder.Owner != ProgramID:
		return ErrInvalidAccountOwner
	case !unused(created):
		return ErrAccountAlreadyInUse
	case funder.Lamports < args.Lamports:
		return ErrInsufficientFunds
	case args.Lamports < ctx.Rent().MinimumBalance(args.Space):
		return ErrAccountNotRentExempt
	}

	funder.Lamports -= args.Lamports
	created.Lamports = args.Lamports
	created.Data = make([]byte, args.Space)
	created.Owner = args.Owner
	return nil
}

// Accounts: [0] account (writable, signer).
func assign(ctx svm.InvokeContext, args *Args) error {
	accs, err := accountsAt(ctx, 0)
	if err != nil {
		return err
	}
	acc := accs[0]
	if !acc.IsSigner {
		return ErrMissingRequiredSignature
	}
	if acc.Owner != ProgramID {
		return ErrInvalidAccountOwner
	}
	acc.Owner = args.Owner
	return nil
}

// Accounts: [0] from (writable, signer, no data), [1] to (writable).
func transfer(ctx svm.InvokeContext, args *Args) error {
	accs, err := accountsAt(ctx, 0, 1)
	if err != nil {
		return err
	}
	from, to := accs[0], accs[1]
	switch {
	case !from.IsSigner:
		return ErrMissingRequiredSignature
	case !from.IsWritable || !to.IsWritable:
		return ErrAccountNotWritable
	case from.Owner != ProgramID || len(from.Data) > 0:
		return ErrInvalidAccountOwner
	case from.Lamports < args.Lamports:
		return ErrInsufficientFunds
	case to.Lamports+args.Lamports < to.Lamports:
		return ErrLamportOverflow
	}
	from.Lamports -= args.Lamports
	to.Lamports += args.Lamports
	return nil
}

// Accounts: [0] account (writable, signer, no data).
func allocate(ctx svm.InvokeContext, args *Args) error {
	if args.Space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}
	accs, err := accountsAt(ctx, 0)
	if err != nil {
		return err
	}
	acc := accs[0]
	switch {
	case !acc.IsSigner:
		return ErrMissingRequiredSignature
	case acc.Owner != ProgramID:
		return ErrInvalidAccountOwner
	case len(acc.Data) > 0:
		return ErrAccountAlreadyInUse
	}
	acc.Data = make([]byte, args.Space)
	return nil
}
