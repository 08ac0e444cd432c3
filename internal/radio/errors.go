package radio

import "errors"

// Domain-specific errors for radio operations.
var (
	// ErrTransportFailure is returned when a transmission is not acknowledged
	// or the driver reports an I/O error.
	ErrTransportFailure = errors.New("radio: transport failure")

	// ErrNotReady is returned when the radio has not been initialised or the
	// chip does not respond.
	ErrNotReady = errors.New("radio: not ready")

	// ErrPayloadTooLarge is returned for payloads above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("radio: payload too large")

	// ErrFrame is returned for corrupt or unexpected modem frames.
	ErrFrame = errors.New("radio: bad modem frame")

	// ErrModem is returned when the modem answers a request with an error status.
	ErrModem = errors.New("radio: modem error")
)
