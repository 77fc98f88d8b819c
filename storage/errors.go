package storage

import (
	"fmt"

	"github.com/semibank/smartfarm/errors"
)

func notFound(key string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrKeyNotFound, key),
		"storage", "Load", "load snapshot")
}

// NotFound builds the canonical missing-key error for a backend.
// Backends use it so callers can match errors.ErrKeyNotFound regardless
// of which store produced the miss.
func NotFound(key string) error { return notFound(key) }
