// Package svm defines the contract between the X1-Staking host runtime and the
// programs it executes.
//
// Programs are stateless: every invocation receives an InvokeContext exposing
// the instruction's accounts, the clock and rent sysvars, the compute meter and
// cross-program invocation. The host owns account storage, atomicity and
// conflict detection.
package svm

import (
	"errors"

	"github.com/fortiblox/X1-Staking/internal/types"
	"github.com/fortiblox/X1-Staking/pkg/accounts"
)

var (
	// ErrAccountNotFound is returned when an instruction account index is out of range.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInstruction is returned for malformed instructions.
	ErrInvalidInstruction = errors.New("invalid instruction")

	// ErrUnknownProgram is returned when no program is registered at an address.
	ErrUnknownProgram = errors.New("unknown program")
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Signer returns a read-only signer meta.
func Signer(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: true}
}

// WritableSigner returns a writable signer meta.
func WritableSigner(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: true, IsWritable: true}
}

// Writable returns a writable, non-signer meta.
func Writable(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsWritable: true}
}

// Readonly returns a read-only, non-signer meta.
func Readonly(pubkey types.Pubkey) AccountMeta {
	return AccountMeta{Pubkey: pubkey}
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo is a program's view of one instruction account. The embedded
// account is shared with the host; programs mutate it in place.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool

	*accounts.Account
}

// InvokeContext provides context for program execution.
type InvokeContext interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// AccountCount returns the number of instruction accounts.
	AccountCount() int

	// GetAccount returns the account at the given index.
	GetAccount(index int) (*AccountInfo, error)

	// Clock returns the current clock sysvar.
	Clock() Clock

	// Rent returns the rent sysvar.
	Rent() Rent

	// Invoke executes ix as a cross-program invocation. Each entry of
	// signerSeeds is the full seed list (bump included) of a program-derived
	// address that signs on behalf of the calling program.
	Invoke(ix Instruction, signerSeeds ...[][]byte) error

	// ConsumeCU charges compute units against the transaction budget.
	ConsumeCU(units uint64) error

	// Log records a program log message.
	Log(msg string)
}

// Program is a builtin program.
type Program interface {
	// Process executes one instruction.
	Process(ctx InvokeContext, data []byte) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx InvokeContext, data []byte) error

// Process calls f(ctx, data).
func (f ProgramFunc) Process(ctx InvokeContext, data []byte) error {
	return f(ctx, data)
}

// CodedError is implemented by program errors that carry a custom error code.
type CodedError interface {
	error
	ErrorCode() uint32
}
