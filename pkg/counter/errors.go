package counter

import (
	"github.com/pkg/errors"

	"github.com/code-payments/counter-program/pkg/solana"
)

// Error is a counter program failure. Every Error aborts the instruction without
// touching the account.
type Error struct {
	key solana.InstructionErrorKey
	msg string
}

func newError(key solana.InstructionErrorKey, msg string) *Error {
	return &Error{key: key, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// ErrorKey returns the instruction error a host should report for e.
func (e *Error) ErrorKey() solana.InstructionErrorKey {
	return e.key
}

var (
	ErrMissingAccount  = newError(solana.InstructionErrorNotEnoughAccountKeys, "counter: missing account")
	ErrIncorrectOwner  = newError(solana.InstructionErrorIncorrectProgramID, "counter: account not owned by program")
	ErrInvalidEncoding = newError(solana.InstructionErrorInvalidAccountData, "counter: invalid account data")
	ErrOverflow        = newError(solana.InstructionErrorArithmeticOverflow, "counter: overflow")
)

// InstructionErrorKey maps err to the Solana instruction error key reported for it.
// Errors that aren't counter errors map to GenericError.
func InstructionErrorKey(err error) solana.InstructionErrorKey {
	var counterErr *Error
	if errors.As(err, &counterErr) {
		return counterErr.key
	}
	return solana.InstructionErrorGenericError
}
