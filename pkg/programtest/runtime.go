package programtest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/system"
)

// keyedError reports an arbitrary program error under a fixed instruction error key.
type keyedError struct {
	key solana.InstructionErrorKey
	err error
}

func (e keyedError) Error() string {
	return e.err.Error()
}

func (e keyedError) ErrorKey() solana.InstructionErrorKey {
	return e.key
}

func (e keyedError) Unwrap() error {
	return e.err
}

// normalize makes sure err maps onto a well known instruction error key.
func normalize(err error) error {
	var custom solana.CustomError
	if errors.As(err, &custom) {
		return err
	}

	var keyer solana.ErrorKeyer
	if errors.As(err, &keyer) {
		return err
	}

	var key solana.InstructionErrorKey
	if errors.As(err, &key) {
		return err
	}

	return keyedError{key: solana.InstructionErrorGenericError, err: err}
}

// execute runs every instruction in m against working, stopping at the first failure.
func (b *Bank) execute(m solana.Message, working []*solana.AccountInfo, programs []program) ([]string, *solana.TransactionError) {
	var logs []string

	for index, ix := range m.Instructions {
		p := programs[index]
		programID := base58.Encode(p.id)

		accounts := make([]*solana.AccountInfo, len(ix.Accounts))
		for i, accountIndex := range ix.Accounts {
			accounts[i] = working[accountIndex]
		}

		logs = append(logs, fmt.Sprintf("Program %s invoke [1]", programID))

		invokeCtx := solana.NewInvokeContext(b.log.WithFields(logrus.Fields{
			"program":     p.name,
			"instruction": index,
		}))
		err := b.invoke(invokeCtx, p, accounts, ix.Data)
		logs = append(logs, invokeCtx.Logs()...)

		if err != nil {
			err = normalize(err)
			logs = append(logs, fmt.Sprintf("Program %s failed: %s", programID, err))

			txErr, convErr := solana.TransactionErrorFromInstructionError(&solana.InstructionError{
				Index: index,
				Err:   err,
			})
			if convErr != nil {
				b.log.WithError(convErr).Warn("failed to convert instruction error")
				txErr = solana.NewTransactionError(solana.TransactionErrorInternal)
			}
			return logs, txErr
		}

		logs = append(logs, fmt.Sprintf("Program %s success", programID))
	}

	return logs, nil
}

// invoke runs a single instruction and enforces the runtime account rules on its result.
func (b *Bank) invoke(ctx *solana.InvokeContext, p program, accounts []*solana.AccountInfo, data []byte) error {
	pre := make([]*solana.AccountInfo, len(accounts))
	for i, account := range accounts {
		pre[i] = account.Clone()
	}

	var err error
	if system.IsProgram(p.id) {
		err = processSystemInstruction(ctx, accounts, data)
	} else {
		err = p.entrypoint(ctx, p.id, accounts, data)
	}
	if err != nil {
		return err
	}

	// Programs cannot rewrite the account metadata the host handed them.
	for i, account := range accounts {
		account.Key = pre[i].Key
		account.IsSigner = pre[i].IsSigner
		account.IsWritable = pre[i].IsWritable
	}

	for i := range accounts {
		if err := verifyAccount(p.id, pre[i], accounts[i]); err != nil {
			return err
		}
	}

	return verifyBalance(pre, accounts)
}

func verifyAccount(programID ed25519.PublicKey, pre, post *solana.AccountInfo) error {
	ownedByProgram := bytes.Equal(pre.Owner, programID)

	if !bytes.Equal(pre.Owner, post.Owner) {
		if !ownedByProgram || !post.IsWritable || pre.Executable || !isZeroed(post.Data) {
			return solana.InstructionErrorModifiedProgramID
		}
	}

	if post.Lamports < pre.Lamports && !ownedByProgram {
		return solana.InstructionErrorExternalAccountLamportSpend
	}
	if post.Lamports != pre.Lamports && !post.IsWritable {
		return solana.InstructionErrorReadonlyLamportChange
	}

	// Only the system program may size accounts, and only those it owns.
	if len(post.Data) != len(pre.Data) && !(ownedByProgram && system.IsProgram(programID)) {
		return solana.InstructionErrorAccountDataSizeChanged
	}

	if !bytes.Equal(pre.Data, post.Data) && !(ownedByProgram && post.IsWritable && !pre.Executable) {
		switch {
		case pre.Executable:
			return solana.InstructionErrorExecutableDataModified
		case post.IsWritable:
			return solana.InstructionErrorExternalAccountDataModified
		default:
			return solana.InstructionErrorReadonlyDataModified
		}
	}

	if pre.Executable != post.Executable {
		return solana.InstructionErrorExecutableModified
	}

	return nil
}

// verifyBalance checks that an instruction neither created nor destroyed lamports.
// Accounts referenced more than once are only counted once.
func verifyBalance(pre, post []*solana.AccountInfo) error {
	seen := make(map[string]struct{}, len(pre))

	var before, after uint64
	for i := range pre {
		if _, ok := seen[string(pre[i].Key)]; ok {
			continue
		}
		seen[string(pre[i].Key)] = struct{}{}

		before += pre[i].Lamports
		after += post[i].Lamports
	}

	if before != after {
		return solana.InstructionErrorUnbalancedInstruction
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
