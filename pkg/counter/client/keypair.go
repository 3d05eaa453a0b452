package client

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// LoadKeypair reads a keypair stored the way the Solana CLI stores them: a JSON
// array holding the 64 byte secret key.
func LoadKeypair(path string) (ed25519.PrivateKey, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read keypair file %s", path)
	}

	// json decodes []byte from base64, so go through []int.
	var raw []int
	if err := json.Unmarshal(contents, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse keypair file %s", path)
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, errors.Errorf("invalid keypair size in %s: %d", path, len(raw))
	}

	key := make([]byte, len(raw))
	for i, v := range raw {
		if v < 0 || v > 255 {
			return nil, errors.Errorf("invalid keypair byte in %s at %d: %d", path, i, v)
		}
		key[i] = byte(v)
	}

	priv := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(priv, key) {
		return nil, errors.Errorf("public key in %s does not match its secret key", path)
	}

	return priv, nil
}

// SaveKeypair writes key to path in the format read by LoadKeypair.
func SaveKeypair(path string, key ed25519.PrivateKey) error {
	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}

	contents, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrap(err, "failed to encode keypair")
	}

	return errors.Wrapf(os.WriteFile(path, contents, 0600), "failed to write keypair file %s", path)
}
