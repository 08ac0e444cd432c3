package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrNodeNotFound is returned when a node id has no row.
	ErrNodeNotFound = errors.New("registry: node not found")

	// ErrNoReadings is returned when a node has not reported yet.
	ErrNoReadings = errors.New("registry: no readings")

	// ErrInvalidQuery is returned for out-of-range limits or time ranges.
	ErrInvalidQuery = errors.New("registry: invalid query")
)
