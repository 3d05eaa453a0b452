// Package file sources config values from a YAML, JSON or TOML file, such as the
// Solana CLI's config.yml.
package file

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/code-payments/counter-program/pkg/config"
	"github.com/code-payments/counter-program/pkg/config/wrapper"
)

// Source is a parsed config file.
type Source struct {
	v *viper.Viper
}

// Load reads the config file at path. The format is inferred from the extension.
func Load(path string) (*Source, error) {
	// viper does not report a missing file as ConfigFileNotFoundError when the
	// path is set explicitly, so check for it ourselves.
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "failed to stat config file %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	return &Source{v: v}, nil
}

// Path returns the file the source was loaded from.
func (s *Source) Path() string {
	return s.v.ConfigFileUsed()
}

// NewConfig returns a config for key within the file.
func (s *Source) NewConfig(key string) config.Config {
	return &conf{
		v:   s.v,
		key: key,
	}
}

type conf struct {
	v   *viper.Viper
	key string
}

// Get implements Config.Get
func (c *conf) Get(_ context.Context) (interface{}, error) {
	if !c.v.IsSet(c.key) {
		return nil, config.ErrNoValue
	}

	val := c.v.Get(c.key)
	if s, ok := val.(string); ok && len(s) == 0 {
		return nil, config.ErrNoValue
	}
	if val == nil {
		return nil, config.ErrNoValue
	}
	return val, nil
}

// Shutdown implements Config.Shutdown
func (c *conf) Shutdown() {
}

// NewStringConfig creates a file-based string config
func (s *Source) NewStringConfig(key string, defaultValue string) config.String {
	return wrapper.NewStringConfig(s.NewConfig(key), defaultValue)
}

// NewUint64Config creates a file-based uint64 config
func (s *Source) NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(s.NewConfig(key), defaultValue)
}
