package config

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// ErrReadBytesNotSupported is returned when ReadBytes is called on a map provider
var ErrReadBytesNotSupported = errors.New("config: ReadBytes not supported by map provider")

// mapProvider is a koanf provider over an in-memory map keyed by dotted
// paths, used for flags
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the map with dotted keys expanded into nested maps
func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
