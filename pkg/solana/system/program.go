// Package system builds and decodes the subset of system program instructions
// needed to fund and provision program-owned accounts.
package system

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/binary"
)

// ProgramKey is the system program address, 11111111111111111111111111111111.
var ProgramKey [32]byte

// Command is the bincode enum tag prefixing every system instruction.
type Command uint32

const (
	CommandCreateAccount Command = iota
	CommandAssign
	CommandTransfer
	CommandCreateAccountWithSeed
)

func (c Command) String() string {
	switch c {
	case CommandCreateAccount:
		return "CreateAccount"
	case CommandAssign:
		return "Assign"
	case CommandTransfer:
		return "Transfer"
	case CommandCreateAccountWithSeed:
		return "CreateAccountWithSeed"
	}
	return "Unknown"
}

// IsProgram reports whether key is the system program.
func IsProgram(key ed25519.PublicKey) bool {
	return bytes.Equal(key, ProgramKey[:])
}

// CreateAccount creates a new account at address, funded by funder.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L58-L72
func CreateAccount(funder, address, owner ed25519.PublicKey, lamports, size uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE, SIGNER] New account
	data := make([]byte, 4+2*8+ed25519.PublicKeySize)

	var offset int
	binary.PutUint32(data[offset:], uint32(CommandCreateAccount), &offset)
	binary.PutUint64(data[offset:], lamports, &offset)
	binary.PutUint64(data[offset:], size, &offset)
	binary.PutKey32(data[offset:], owner, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, true),
	)
}

// CreateAccountWithSeed creates a new account at the address derived from base and
// seed with solana.CreateWithSeed. Only base has to sign; the new account does not.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L74-L111
func CreateAccountWithSeed(funder, address, base ed25519.PublicKey, seed string, lamports, size uint64, owner ed25519.PublicKey) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Created account
	//   2. [SIGNER] (optional) Base account
	data := make([]byte, 4+ed25519.PublicKeySize+8+len(seed)+2*8+ed25519.PublicKeySize)

	var offset int
	binary.PutUint32(data[offset:], uint32(CommandCreateAccountWithSeed), &offset)
	binary.PutKey32(data[offset:], base, &offset)
	binary.PutUint64(data[offset:], uint64(len(seed)), &offset)
	offset += copy(data[offset:], seed)
	binary.PutUint64(data[offset:], lamports, &offset)
	binary.PutUint64(data[offset:], size, &offset)
	binary.PutKey32(data[offset:], owner, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(funder, true),
		solana.NewAccountMeta(address, false),
		solana.NewReadonlyAccountMeta(base, true),
	)
}

// Transfer moves lamports from a system-owned account.
//
// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/src/system_instruction.rs#L123-L129
func Transfer(from, to ed25519.PublicKey, lamports uint64) solana.Instruction {
	// # Account references
	//   0. [WRITE, SIGNER] Funding account
	//   1. [WRITE] Recipient account
	data := make([]byte, 4+8)

	var offset int
	binary.PutUint32(data[offset:], uint32(CommandTransfer), &offset)
	binary.PutUint64(data[offset:], lamports, &offset)

	return solana.NewInstruction(
		ProgramKey[:],
		data,
		solana.NewAccountMeta(from, true),
		solana.NewAccountMeta(to, false),
	)
}

// Instruction is a decoded system instruction. Only the fields used by Command are set.
type Instruction struct {
	Command Command

	Lamports uint64
	Space    uint64
	Owner    ed25519.PublicKey

	Base ed25519.PublicKey
	Seed string
}

// DecodeInstruction parses system instruction data.
func DecodeInstruction(data []byte) (*Instruction, error) {
	if len(data) < 4 {
		return nil, solana.ErrIncorrectInstruction
	}

	var offset int
	var command uint32
	binary.GetUint32(data[offset:], &command, &offset)

	ix := &Instruction{Command: Command(command)}
	switch ix.Command {
	case CommandCreateAccount:
		if len(data) != 4+2*8+ed25519.PublicKeySize {
			return nil, errors.Errorf("invalid %s data size: %d", ix.Command, len(data))
		}

		binary.GetUint64(data[offset:], &ix.Lamports, &offset)
		binary.GetUint64(data[offset:], &ix.Space, &offset)
		binary.GetKey32(data[offset:], &ix.Owner, &offset)
	case CommandCreateAccountWithSeed:
		if len(data) < 4+ed25519.PublicKeySize+8 {
			return nil, errors.Errorf("invalid %s data size: %d", ix.Command, len(data))
		}

		binary.GetKey32(data[offset:], &ix.Base, &offset)

		var seedLen uint64
		binary.GetUint64(data[offset:], &seedLen, &offset)
		if seedLen > uint64(len(data)) || uint64(len(data)-offset) != seedLen+2*8+ed25519.PublicKeySize {
			return nil, errors.Errorf("invalid %s data size: %d", ix.Command, len(data))
		}
		ix.Seed = string(data[offset : offset+int(seedLen)])
		offset += int(seedLen)

		binary.GetUint64(data[offset:], &ix.Lamports, &offset)
		binary.GetUint64(data[offset:], &ix.Space, &offset)
		binary.GetKey32(data[offset:], &ix.Owner, &offset)
	case CommandTransfer:
		if len(data) != 4+8 {
			return nil, errors.Errorf("invalid %s data size: %d", ix.Command, len(data))
		}

		binary.GetUint64(data[offset:], &ix.Lamports, &offset)
	default:
		return nil, errors.Wrapf(solana.ErrIncorrectInstruction, "unsupported command %d", command)
	}

	return ix, nil
}
