package programtest

import (
	"github.com/code-payments/counter-program/pkg/config"
	"github.com/code-payments/counter-program/pkg/config/env"
	"github.com/code-payments/counter-program/pkg/config/memory"
	"github.com/code-payments/counter-program/pkg/config/wrapper"
	"github.com/code-payments/counter-program/pkg/solana"
)

const (
	envConfigPrefix = "PROGRAM_TEST_"

	LamportsPerSignatureConfigEnvName = envConfigPrefix + "LAMPORTS_PER_SIGNATURE"
	defaultLamportsPerSignature       = 5000

	FaucetLamportsConfigEnvName = envConfigPrefix + "FAUCET_LAMPORTS"
	defaultFaucetLamports       = 1_000_000 * solana.LamportsPerSol

	PayerLamportsConfigEnvName = envConfigPrefix + "PAYER_LAMPORTS"
	defaultPayerLamports       = 10 * solana.LamportsPerSol

	LockStripesConfigEnvName = envConfigPrefix + "LOCK_STRIPES"
	defaultLockStripes       = 64

	// AirdropsPerMinuteConfigEnvName limits airdrops per recipient. Zero disables the limit.
	AirdropsPerMinuteConfigEnvName = envConfigPrefix + "AIRDROPS_PER_MINUTE"
	defaultAirdropsPerMinute       = 0
)

type conf struct {
	lamportsPerSignature config.Uint64
	faucetLamports       config.Uint64
	payerLamports        config.Uint64
	lockStripes          config.Uint64
	airdropsPerMinute    config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			lamportsPerSignature: env.NewUint64Config(LamportsPerSignatureConfigEnvName, defaultLamportsPerSignature),
			faucetLamports:       env.NewUint64Config(FaucetLamportsConfigEnvName, defaultFaucetLamports),
			payerLamports:        env.NewUint64Config(PayerLamportsConfigEnvName, defaultPayerLamports),
			lockStripes:          env.NewUint64Config(LockStripesConfigEnvName, defaultLockStripes),
			airdropsPerMinute:    env.NewUint64Config(AirdropsPerMinuteConfigEnvName, defaultAirdropsPerMinute),
		}
	}
}

// TestOverrides pins harness values regardless of the environment. Zero values
// keep the defaults.
type TestOverrides struct {
	LamportsPerSignature uint64
	PayerLamports        uint64
	LockStripes          uint64
	AirdropsPerMinute    uint64
}

// WithTestOverrides returns configuration built from overrides.
func WithTestOverrides(overrides *TestOverrides) ConfigProvider {
	return func() *conf {
		return &conf{
			lamportsPerSignature: staticUint64(overrides.LamportsPerSignature, defaultLamportsPerSignature),
			faucetLamports:       staticUint64(0, defaultFaucetLamports),
			payerLamports:        staticUint64(overrides.PayerLamports, defaultPayerLamports),
			lockStripes:          staticUint64(overrides.LockStripes, defaultLockStripes),
			airdropsPerMinute:    staticUint64(overrides.AirdropsPerMinute, defaultAirdropsPerMinute),
		}
	}
}

func staticUint64(value, defaultValue uint64) config.Uint64 {
	var raw interface{}
	if value > 0 {
		raw = value
	}
	return wrapper.NewUint64Config(memory.NewConfig(raw), defaultValue)
}
