package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-program/pkg/solana"
)

// AssertInstructionError verifies that err is a *solana.TransactionError raised by
// the instruction at index with the provided key.
func AssertInstructionError(t *testing.T, err error, index int, key solana.InstructionErrorKey) {
	require.Error(t, err)

	txErr, ok := err.(*solana.TransactionError)
	require.True(t, ok, "expected *solana.TransactionError, got %T", err)
	require.NotNil(t, txErr.InstructionError())
	assert.Equal(t, index, txErr.InstructionError().Index)
	assert.Equal(t, key, txErr.InstructionError().ErrorKey())
}

// AssertTransactionError verifies that err is a *solana.TransactionError with the
// provided key.
func AssertTransactionError(t *testing.T, err error, key solana.TransactionErrorKey) {
	require.Error(t, err)

	txErr, ok := err.(*solana.TransactionError)
	require.True(t, ok, "expected *solana.TransactionError, got %T", err)
	assert.Equal(t, key, txErr.ErrorKey())
}
