package client

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-program/pkg/config"
	"github.com/code-payments/counter-program/pkg/config/env"
	"github.com/code-payments/counter-program/pkg/config/file"
	"github.com/code-payments/counter-program/pkg/config/memory"
	"github.com/code-payments/counter-program/pkg/config/wrapper"
	"github.com/code-payments/counter-program/pkg/solana"
)

const (
	envConfigPrefix = "COUNTER_CLIENT_"

	RPCURLConfigEnvName = envConfigPrefix + "RPC_URL"
	defaultRPCURL       = string(solana.EnvironmentLocal)

	KeypairPathConfigEnvName = envConfigPrefix + "KEYPAIR_PATH"
	defaultKeypairPath       = ""

	SeedConfigEnvName = envConfigPrefix + "SEED"
	DefaultSeed       = "counter"

	FeeBudgetConfigEnvName = envConfigPrefix + "FEE_BUDGET_SIGNATURES"
	defaultFeeBudget       = 100

	LamportsPerSignatureConfigEnvName = envConfigPrefix + "LAMPORTS_PER_SIGNATURE"
	defaultLamportsPerSignature       = 5000

	// Keys within the Solana CLI config file.
	solanaCLIRPCURLKey      = "json_rpc_url"
	solanaCLIKeypairPathKey = "keypair_path"
)

type conf struct {
	rpcURL               config.String
	keypairPath          config.String
	seed                 config.String
	feeBudgetSignatures  config.Uint64
	lamportsPerSignature config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			rpcURL:               env.NewStringConfig(RPCURLConfigEnvName, defaultRPCURL),
			keypairPath:          env.NewStringConfig(KeypairPathConfigEnvName, defaultKeypairPath),
			seed:                 env.NewStringConfig(SeedConfigEnvName, DefaultSeed),
			feeBudgetSignatures:  env.NewUint64Config(FeeBudgetConfigEnvName, defaultFeeBudget),
			lamportsPerSignature: env.NewUint64Config(LamportsPerSignatureConfigEnvName, defaultLamportsPerSignature),
		}
	}
}

// WithSolanaCLIConfig returns configuration that takes the RPC URL and payer
// keypair from a Solana CLI config file. Everything else, and any value missing
// from the file, comes from the environment.
func WithSolanaCLIConfig(path string) ConfigProvider {
	return func() *conf {
		c := WithEnvConfigs()()

		source, err := file.Load(path)
		if err != nil {
			logrus.StandardLogger().WithField("type", "counter/client").WithError(err).Warn("failed to read solana cli config, using environment")
			return c
		}

		c.rpcURL = wrapper.NewStringConfig(
			config.NewChain(source.NewConfig(solanaCLIRPCURLKey), env.NewConfig(RPCURLConfigEnvName)),
			defaultRPCURL,
		)
		c.keypairPath = wrapper.NewStringConfig(
			config.NewChain(source.NewConfig(solanaCLIKeypairPathKey), env.NewConfig(KeypairPathConfigEnvName)),
			defaultKeypairPath,
		)
		return c
	}
}

// DefaultSolanaCLIConfigPath returns the config file the Solana CLI uses by default.
func DefaultSolanaCLIConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "solana", "cli", "config.yml")
	}
	return filepath.Join(home, ".config", "solana", "cli", "config.yml")
}

// Overrides pins client values regardless of the environment. Empty values keep
// the defaults.
type Overrides struct {
	RPCURL      string
	KeypairPath string
	Seed        string
}

// WithOverrides returns configuration built from overrides.
func WithOverrides(overrides *Overrides) ConfigProvider {
	return func() *conf {
		return &conf{
			rpcURL:               staticString(overrides.RPCURL, defaultRPCURL),
			keypairPath:          staticString(overrides.KeypairPath, defaultKeypairPath),
			seed:                 staticString(overrides.Seed, DefaultSeed),
			feeBudgetSignatures:  wrapper.NewUint64Config(memory.NewConfig(nil), defaultFeeBudget),
			lamportsPerSignature: wrapper.NewUint64Config(memory.NewConfig(nil), defaultLamportsPerSignature),
		}
	}
}

func staticString(value, defaultValue string) config.String {
	var raw interface{}
	if len(value) > 0 {
		raw = value
	}
	return wrapper.NewStringConfig(memory.NewConfig(raw), defaultValue)
}
