package system

import "github.com/code-payments/counter-program/pkg/solana"

// Custom error codes returned by the system program.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/system_instruction.rs#L23
const (
	ErrAccountAlreadyInUse        solana.CustomError = 0
	ErrResultWithNegativeLamports solana.CustomError = 1
	ErrInvalidProgramID           solana.CustomError = 2
	ErrInvalidAccountDataLength   solana.CustomError = 3
	ErrMaxSeedLengthExceeded      solana.CustomError = 4
	ErrAddressWithSeedMismatch    solana.CustomError = 5
)

// MaxPermittedDataLength is the largest account the system program will allocate.
const MaxPermittedDataLength = 10 * 1024 * 1024
