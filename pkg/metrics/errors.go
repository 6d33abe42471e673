package metrics

import (
	"errors"
)

// Sentinel kinds for metrics errors.
var (
	ErrUnknownResource = errors.New("metrics: unknown readiness resource")
)
