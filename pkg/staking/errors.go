package staking

import (
	"errors"
	"fmt"
)

// Error categories. Every *Error matches exactly one of these with errors.Is.
var (
	ErrDecode             = errors.New("decode error")
	ErrAuthorization      = errors.New("authorization error")
	ErrPolicyViolation    = errors.New("policy violation")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrArithmetic         = errors.New("arithmetic error")
)

// ErrorCode is the custom program error code surfaced to clients.
type ErrorCode uint32

// Error codes. Values are stable and must not be renumbered.
const (
	CodeInvalidInstructionData ErrorCode = iota
	CodeNotEnoughAccountKeys
	CodeMissingRequiredSignature
	CodeAccountNotWritable
	CodeInvalidPDA
	CodeInvalidAccountOwner
	CodeInvalidTokenAccount
	CodeMintMismatch
	CodeInvalidProgramAccount
	CodeUnauthorized
	CodeUninitializedAccount
	CodeInvalidConfig
	CodeLockDurationTooShort
	CodeStakeTypeMismatch
	CodeMinimumHoldNotMet
	CodePenaltyExceedsPrincipal
	CodeInvalidAmount
	CodeDecimalsMismatch
	CodeNothingStaked
	CodeAlreadyInitialized
	CodeInsufficientFunds
	CodeArithmeticOverflow
	CodeInvalidAccountData
)

var codeNames = [...]string{
	CodeInvalidInstructionData:   "InvalidInstructionData",
	CodeNotEnoughAccountKeys:     "NotEnoughAccountKeys",
	CodeMissingRequiredSignature: "MissingRequiredSignature",
	CodeAccountNotWritable:       "AccountNotWritable",
	CodeInvalidPDA:               "InvalidPDA",
	CodeInvalidAccountOwner:      "InvalidAccountOwner",
	CodeInvalidTokenAccount:      "InvalidTokenAccount",
	CodeMintMismatch:             "MintMismatch",
	CodeInvalidProgramAccount:    "InvalidProgramAccount",
	CodeUnauthorized:             "Unauthorized",
	CodeUninitializedAccount:     "UninitializedAccount",
	CodeInvalidConfig:            "InvalidConfig",
	CodeLockDurationTooShort:     "LockDurationTooShort",
	CodeStakeTypeMismatch:        "StakeTypeMismatch",
	CodeMinimumHoldNotMet:        "MinimumHoldNotMet",
	CodePenaltyExceedsPrincipal:  "PenaltyExceedsPrincipal",
	CodeInvalidAmount:            "InvalidAmount",
	CodeDecimalsMismatch:         "DecimalsMismatch",
	CodeNothingStaked:            "NothingStaked",
	CodeAlreadyInitialized:       "AlreadyInitialized",
	CodeInsufficientFunds:        "InsufficientFunds",
	CodeArithmeticOverflow:       "ArithmeticOverflow",
	CodeInvalidAccountData:       "InvalidAccountData",
}

// String returns the code name.
func (c ErrorCode) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("ErrorCode(%d)", uint32(c))
}

// Error is a staking program failure with a stable code and category.
type Error struct {
	Code     ErrorCode
	Category error
	Msg      string
}

func newError(code ErrorCode, category error, msg string) *Error {
	return &Error{Code: code, Category: category, Msg: msg}
}

// Error implements error.
func (e *Error) Error() string {
	return e.Msg
}

// ErrorCode returns the custom program error code.
func (e *Error) ErrorCode() uint32 {
	return uint32(e.Code)
}

// Unwrap returns the category sentinel.
func (e *Error) Unwrap() error {
	return e.Category
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// Program errors.
var (
	ErrInvalidInstructionData   = newError(CodeInvalidInstructionData, ErrDecode, "invalid instruction data")
	ErrNotEnoughAccountKeys     = newError(CodeNotEnoughAccountKeys, ErrAuthorization, "not enough account keys")
	ErrMissingRequiredSignature = newError(CodeMissingRequiredSignature, ErrAuthorization, "missing required signature")
	ErrAccountNotWritable       = newError(CodeAccountNotWritable, ErrAuthorization, "account not writable")
	ErrInvalidPDA               = newError(CodeInvalidPDA, ErrAuthorization, "account does not match derived address")
	ErrInvalidAccountOwner      = newError(CodeInvalidAccountOwner, ErrAuthorization, "invalid account owner")
	ErrInvalidTokenAccount      = newError(CodeInvalidTokenAccount, ErrAuthorization, "invalid token account")
	ErrMintMismatch             = newError(CodeMintMismatch, ErrAuthorization, "token mint mismatch")
	ErrInvalidProgramAccount    = newError(CodeInvalidProgramAccount, ErrAuthorization, "invalid program account")
	ErrUnauthorized             = newError(CodeUnauthorized, ErrAuthorization, "signer is not the contract admin")
	ErrUninitializedAccount     = newError(CodeUninitializedAccount, ErrAuthorization, "account is not initialized")
	ErrInvalidConfig            = newError(CodeInvalidConfig, ErrPolicyViolation, "invalid configuration value")
	ErrLockDurationTooShort     = newError(CodeLockDurationTooShort, ErrPolicyViolation, "lock duration below contract minimum")
	ErrStakeTypeMismatch        = newError(CodeStakeTypeMismatch, ErrPolicyViolation, "stake type does not match existing stake")
	ErrMinimumHoldNotMet        = newError(CodeMinimumHoldNotMet, ErrPolicyViolation, "minimum holding period not met")
	ErrPenaltyExceedsPrincipal  = newError(CodePenaltyExceedsPrincipal, ErrPolicyViolation, "early withdrawal penalty exceeds principal")
	ErrInvalidAmount            = newError(CodeInvalidAmount, ErrPolicyViolation, "invalid amount")
	ErrDecimalsMismatch         = newError(CodeDecimalsMismatch, ErrPolicyViolation, "decimals do not match mint")
	ErrNothingStaked            = newError(CodeNothingStaked, ErrPolicyViolation, "nothing staked")
	ErrAlreadyInitializedRecord = newError(CodeAlreadyInitialized, ErrAlreadyInitialized, "contract already initialized")
	ErrInsufficientBalance      = newError(CodeInsufficientFunds, ErrInsufficientFunds, "insufficient token balance")
	ErrArithmeticOverflow       = newError(CodeArithmeticOverflow, ErrArithmetic, "arithmetic overflow")
	ErrInvalidAccountData       = newError(CodeInvalidAccountData, ErrDecode, "invalid account data")
)

// wrap attaches detail to a program error, keeping its code and category.
func wrap(err *Error, format string, args ...any) *Error {
	return &Error{
		Code:     err.Code,
		Category: err.Category,
		Msg:      fmt.Sprintf("%s: %s", err.Msg, fmt.Sprintf(format, args...)),
	}
}
