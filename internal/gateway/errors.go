package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrRejectedCommand is returned when a command message cannot be
	// addressed to a configured node.
	ErrRejectedCommand = errors.New("gateway: command rejected")
)
