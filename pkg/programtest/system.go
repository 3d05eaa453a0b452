package programtest

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/system"
)

// processSystemInstruction is the bank's builtin system program. It supports the
// instructions needed to fund and provision accounts.
func processSystemInstruction(ctx *solana.InvokeContext, accounts []*solana.AccountInfo, data []byte) error {
	ix, err := system.DecodeInstruction(data)
	if err != nil {
		return solana.InstructionErrorInvalidInstructionData
	}

	if len(accounts) < 2 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}
	from, to := accounts[0], accounts[1]

	switch ix.Command {
	case system.CommandCreateAccount:
		if !to.IsSigner {
			ctx.Logf("Create Account: 'to' account %s must sign", base58.Encode(to.Key))
			return solana.InstructionErrorMissingRequiredSignature
		}
		return createAccount(ctx, from, to, ix)

	case system.CommandCreateAccountWithSeed:
		address, err := solana.CreateWithSeed(ix.Base, ix.Seed, ix.Owner)
		if err != nil {
			return system.ErrMaxSeedLengthExceeded
		}
		if !bytes.Equal(address, to.Key) {
			ctx.Logf("Create: address %s does not match derived address %s", base58.Encode(to.Key), base58.Encode(address))
			return system.ErrAddressWithSeedMismatch
		}
		if !hasSigner(accounts, ix.Base) {
			ctx.Logf("Create Account: 'base' account %s must sign", base58.Encode(ix.Base))
			return solana.InstructionErrorMissingRequiredSignature
		}
		return createAccount(ctx, from, to, ix)

	case system.CommandTransfer:
		if !from.IsSigner {
			ctx.Logf("Transfer: `from` account %s must sign", base58.Encode(from.Key))
			return solana.InstructionErrorMissingRequiredSignature
		}
		return transfer(ctx, from, to, ix.Lamports)
	}

	return solana.InstructionErrorInvalidInstructionData
}

func createAccount(ctx *solana.InvokeContext, from, to *solana.AccountInfo, ix *system.Instruction) error {
	if !from.IsSigner {
		ctx.Logf("Create Account: 'from' account %s must sign", base58.Encode(from.Key))
		return solana.InstructionErrorMissingRequiredSignature
	}

	if to.Lamports > 0 || len(to.Data) > 0 || !system.IsProgram(to.Owner) {
		ctx.Logf("Create Account: account %s already in use", base58.Encode(to.Key))
		return system.ErrAccountAlreadyInUse
	}

	if ix.Space > system.MaxPermittedDataLength {
		ctx.Logf("Allocate: requested %d, max allowed %d", ix.Space, system.MaxPermittedDataLength)
		return system.ErrInvalidAccountDataLength
	}

	if err := transfer(ctx, from, to, ix.Lamports); err != nil {
		return err
	}

	to.Data = make([]byte, ix.Space)
	to.Owner = append(ed25519.PublicKey(nil), ix.Owner...)
	return nil
}

func transfer(ctx *solana.InvokeContext, from, to *solana.AccountInfo, lamports uint64) error {
	if len(from.Data) > 0 {
		ctx.Logf("Transfer: `from` must not carry data")
		return solana.InstructionErrorInvalidArgument
	}

	if from.Lamports < lamports {
		ctx.Logf("Transfer: insufficient lamports %d, need %d", from.Lamports, lamports)
		return system.ErrResultWithNegativeLamports
	}

	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

func hasSigner(accounts []*solana.AccountInfo, key ed25519.PublicKey) bool {
	for _, account := range accounts {
		if account.IsSigner && bytes.Equal(account.Key, key) {
			return true
		}
	}
	return false
}
