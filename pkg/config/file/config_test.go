package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-program/pkg/config"
)

const solanaCLIConfig = `---
json_rpc_url: "http://localhost:8899"
websocket_url: ""
keypair_path: /home/tester/.config/solana/id.json
commitment: confirmed
airdrop_lamports: 2000000000
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(solanaCLIConfig), 0600))

	src, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, src.Path())

	ctx := context.Background()
	assert.Equal(t, "http://localhost:8899", src.NewStringConfig("json_rpc_url", "").Get(ctx))
	assert.Equal(t, "/home/tester/.config/solana/id.json", src.NewStringConfig("keypair_path", "").Get(ctx))
	assert.Equal(t, "confirmed", src.NewStringConfig("commitment", "finalized").Get(ctx))
	assert.EqualValues(t, 2000000000, src.NewUint64Config("airdrop_lamports", 1).Get(ctx))

	// Empty and absent values fall back to the default.
	assert.Equal(t, "ws://fallback", src.NewStringConfig("websocket_url", "ws://fallback").Get(ctx))
	_, err = src.NewConfig("missing").Get(ctx)
	assert.Equal(t, config.ErrNoValue, err)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
