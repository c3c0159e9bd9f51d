package store

import (
	"fmt"

	"github.com/mattsolo1/grove-batch/internal/batcherr"
)

func errInvariant(detail string) error {
	return fmt.Errorf("%s: %w", detail, batcherr.ErrInvariantViolation)
}

func errStale() error {
	return batcherr.ErrStaleVersion
}

func errNotFound(kind string) error {
	switch kind {
	case "job":
		return batcherr.ErrJobNotFound
	case "unit":
		return batcherr.ErrUnitNotFound
	default:
		return fmt.Errorf("%s not found", kind)
	}
}
