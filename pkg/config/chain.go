package config

import "context"

type chain struct {
	sources []Config
}

// NewChain returns a Config that yields the value of the first source that has
// one. Errors other than ErrNoValue are returned immediately.
func NewChain(sources ...Config) Config {
	return &chain{sources: sources}
}

// Get implements Config.Get
func (c *chain) Get(ctx context.Context) (interface{}, error) {
	for _, source := range c.sources {
		val, err := source.Get(ctx)
		if err == ErrNoValue {
			continue
		} else if err != nil {
			return nil, err
		}
		return val, nil
	}

	return nil, ErrNoValue
}

// Shutdown implements Config.Shutdown
func (c *chain) Shutdown() {
	for _, source := range c.sources {
		source.Shutdown()
	}
}
