package address

import "errors"

var (
	// ErrUnknownNode is returned for node identifiers outside the table, or
	// topics whose node segment cannot be parsed.
	ErrUnknownNode = errors.New("address: unknown node")

	// ErrInvalidTemplate is returned when a topic template has no "+"
	// placeholder to substitute.
	ErrInvalidTemplate = errors.New("address: topic template has no placeholder")

	// ErrInvalidAddress is returned when building a table from malformed or
	// duplicate radio addresses.
	ErrInvalidAddress = errors.New("address: invalid radio address")
)
