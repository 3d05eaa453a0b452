package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/pkg/errors"
)

const (
	maxSeedLength = 32
)

var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrIllegalOwner          = errors.New("illegal owner")
)

var (
	programHashCtor = sha256.New

	pdaMarker = []byte("ProgramDerivedAddress")
)

// CreateWithSeed mirrors the implementation of the Solana SDK's Pubkey::create_with_seed.
//
// The derived address is sha256(base || seed || owner). Unlike program derived
// addresses, the result may lie on the curve, and the base key must sign any
// instruction that creates an account at it.
//
// Reference: https://github.com/solana-labs/solana/blob/5548e599fe4920b71766e0ad1d121755ce9c63d5/sdk/program/src/pubkey.rs#L138
func CreateWithSeed(base ed25519.PublicKey, seed string, owner ed25519.PublicKey) (ed25519.PublicKey, error) {
	if len(seed) > maxSeedLength {
		return nil, ErrMaxSeedLengthExceeded
	}

	if len(owner) >= len(pdaMarker) && bytes.Equal(owner[len(owner)-len(pdaMarker):], pdaMarker) {
		return nil, ErrIllegalOwner
	}

	h := programHashCtor()
	for _, v := range [][]byte{base, []byte(seed), owner} {
		if _, err := h.Write(v); err != nil {
			return nil, errors.Wrap(err, "failed to hash seed")
		}
	}

	return h.Sum(nil), nil
}
