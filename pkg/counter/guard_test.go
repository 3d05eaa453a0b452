package counter

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/code-payments/counter-program/pkg/testutil"
)

func TestCheckOwner(t *testing.T) {
	keys := testutil.GenerateSolanaKeys(t, 2)
	programID, other := keys[0], keys[1]

	assert.NoError(t, CheckOwner(programID, programID))
	assert.NoError(t, CheckOwner(append(ed25519.PublicKey(nil), programID...), programID))

	assert.Equal(t, ErrIncorrectOwner, CheckOwner(other, programID))
	assert.Equal(t, ErrIncorrectOwner, CheckOwner(nil, programID))
	assert.Equal(t, ErrIncorrectOwner, CheckOwner(programID[:31], programID))
}
