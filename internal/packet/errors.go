package packet

import "errors"

var (
	// ErrMalformedPacket is returned when a radio payload is shorter than the
	// record it should contain.
	ErrMalformedPacket = errors.New("packet: malformed packet")
)
