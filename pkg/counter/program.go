// Package counter implements a Solana program that counts how many times each of
// its accounts has been invoked.
//
// Account layout: bytes [0, 4) hold a little endian u32 counter (Borsh
// compatible). Accounts must be created owned by the program, with at least
// StateSize bytes of zeroed data.
package counter

import (
	"context"
	"crypto/ed25519"

	"github.com/code-payments/counter-program/pkg/solana"
)

// Program is the counter program entrypoint. It holds no state between
// invocations, and relies on the host for exclusive access to the account.
type Program struct {
	label string
}

// New returns a Program configured by configProvider.
func New(configProvider ConfigProvider) *Program {
	return &Program{
		label: configProvider().label.Get(context.Background()),
	}
}

// Entrypoint returns p as a solana.Entrypoint.
func (p *Program) Entrypoint() solana.Entrypoint {
	return p.ProcessInstruction
}

// ProcessInstruction increments the counter stored in the first account. data is
// not interpreted; it only makes otherwise identical transactions unique.
//
// Accounts:
//  0. [WRITE] Counter account, owned by programID
func (p *Program) ProcessInstruction(ctx *solana.InvokeContext, programID ed25519.PublicKey, accounts []*solana.AccountInfo, data []byte) error {
	ctx.Logf("%s instruction", p.label)

	if len(accounts) == 0 || accounts[0] == nil {
		return ErrMissingAccount
	}
	account := accounts[0]

	if err := CheckOwner(account.Owner, programID); err != nil {
		ctx.Logf("%s account does not have the correct program id", p.label)
		return err
	}

	var state CounterState
	if err := state.Unmarshal(account.Data); err != nil {
		return err
	}

	next, err := state.Next()
	if err != nil {
		ctx.Logf("%s counter is at its maximum value", p.label)
		return err
	}

	// Unmarshal already checked the length, so this is the commit point.
	_ = next.MarshalInto(account.Data)

	ctx.Logf("%s counted %d time(s)", p.label, next.Counter)
	return nil
}
