package counter

import (
	"github.com/code-payments/counter-program/pkg/config"
	"github.com/code-payments/counter-program/pkg/config/env"
	"github.com/code-payments/counter-program/pkg/config/memory"
	"github.com/code-payments/counter-program/pkg/config/wrapper"
)

const (
	envConfigPrefix = "COUNTER_PROGRAM_"

	LabelConfigEnvName = envConfigPrefix + "LABEL"
	defaultLabel       = "Counter"
)

type conf struct {
	label config.String
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			label: env.NewStringConfig(LabelConfigEnvName, defaultLabel),
		}
	}
}

// WithLabel returns a static configuration using label in program logs. An empty
// label selects the default.
func WithLabel(label string) ConfigProvider {
	return func() *conf {
		var value interface{}
		if len(label) > 0 {
			value = label
		}

		return &conf{
			label: wrapper.NewStringConfig(memory.NewConfig(value), defaultLabel),
		}
	}
}
