package counter

import (
	"bytes"
	"crypto/ed25519"
)

// CheckOwner only allows programs to mutate the accounts they own.
func CheckOwner(owner, programID ed25519.PublicKey) error {
	if !bytes.Equal(owner, programID) {
		return ErrIncorrectOwner
	}
	return nil
}
