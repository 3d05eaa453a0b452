package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-program/pkg/counter/client"
	"github.com/code-payments/counter-program/pkg/testutil"
)

func TestProgramOptions(t *testing.T) {
	keypair := testutil.GenerateSolanaKeypair(t)
	path := filepath.Join(t.TempDir(), "program-keypair.json")
	require.NoError(t, client.SaveKeypair(path, keypair))

	opts := &rootOptions{programKeypair: path}
	programID, err := opts.program()
	require.NoError(t, err)
	assert.Equal(t, testutil.PublicKey(keypair), programID)

	// An explicit address wins.
	other := testutil.GenerateSolanaKeys(t, 1)[0]
	opts.programID = base58.Encode(other)
	programID, err = opts.program()
	require.NoError(t, err)
	assert.Equal(t, other, programID)

	for _, invalid := range []string{"0OIl", base58.Encode([]byte{1, 2, 3})} {
		opts.programID = invalid
		_, err = opts.program()
		assert.Error(t, err)
	}

	_, err = (&rootOptions{}).program()
	assert.Error(t, err)

	_, err = (&rootOptions{programKeypair: filepath.Join(t.TempDir(), "missing.json")}).program()
	assert.Error(t, err)
}

func TestRootCmd_RequiresProgram(t *testing.T) {
	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"report", "--config", filepath.Join(t.TempDir(), "missing.yml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--program-keypair")
}
