package runtime

import "errors"

// Transaction errors.
var (
	ErrInvalidConfig         = errors.New("invalid config")
	ErrClosed                = errors.New("bank closed")
	ErrNoInstructions        = errors.New("transaction has no instructions")
	ErrMissingSignature      = errors.New("missing signature")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrProgramNotExecutable  = errors.New("program account is not executable")
	ErrRentNotExempt         = errors.New("account would not be rent exempt")
)

// Account rule violations detected after a program returns.
var (
	ErrReadonlyModified      = errors.New("instruction modified a read-only account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent lamports of an account it does not own")
	ErrModifiedProgramID     = errors.New("instruction illegally changed an account owner")
	ErrExecutableModified    = errors.New("instruction changed the executable flag")
	ErrUnbalancedInstruction = errors.New("sum of account balances changed")
)

// Cross-program invocation errors.
var (
	ErrCallDepth           = errors.New("cross-program invocation call depth too deep")
	ErrPrivilegeEscalation = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrMissingAccount      = errors.New("cross-program invocation references an account the caller does not hold")
	ErrProgramNotInvokable = errors.New("cross-program invocation target was not passed to the caller")
	ErrInvalidSeeds        = errors.New("invalid signer seeds")
)
