package solana

import (
	"crypto/ed25519"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AccountInfo contains the Solana account information (not to be confused with a TokenAccount).
//
// Hosts hand programs one AccountInfo per referenced account. Key, IsSigner and IsWritable
// are only populated in that context; RPC responses leave them empty.
type AccountInfo struct {
	Key        ed25519.PublicKey
	Owner      ed25519.PublicKey
	Lamports   uint64
	Data       []byte
	IsSigner   bool
	IsWritable bool
	Executable bool
}

// Clone returns a deep copy of the account.
func (a *AccountInfo) Clone() *AccountInfo {
	cloned := *a
	cloned.Key = append(ed25519.PublicKey(nil), a.Key...)
	cloned.Owner = append(ed25519.PublicKey(nil), a.Owner...)
	cloned.Data = append([]byte(nil), a.Data...)
	return &cloned
}

// Entrypoint is invoked by a host runtime once per instruction addressed to a program.
//
// The host guarantees exclusive access to every account for the duration of the call
// and discards all account changes when an error is returned.
type Entrypoint func(ctx *InvokeContext, programID ed25519.PublicKey, accounts []*AccountInfo, data []byte) error

// InvokeContext exposes host services to a program for a single invocation.
//
// A nil *InvokeContext is valid and drops all messages.
type InvokeContext struct {
	log  *logrus.Entry
	logs []string
}

// NewInvokeContext returns an InvokeContext that forwards program messages to log.
func NewInvokeContext(log *logrus.Entry) *InvokeContext {
	return &InvokeContext{log: log}
}

// Logf records a program log message.
func (c *InvokeContext) Logf(format string, args ...interface{}) {
	if c == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	c.logs = append(c.logs, "Program log: "+msg)

	if c.log != nil {
		c.log.Debug(msg)
	}
}

// Logs returns the messages recorded so far.
func (c *InvokeContext) Logs() []string {
	if c == nil {
		return nil
	}

	return append([]string(nil), c.logs...)
}
