package radio

import (
	"context"
	"fmt"
	"strings"

	"github.com/ImGhostCode/smart-garden/internal/address"
)

// MaxPayloadSize is the largest payload an nRF24L01 can carry.
const MaxPayloadSize = 32

// Driver is the transceiver contract the Transport is built on. It mirrors
// the RF24 library surface used by the garden firmware.
//
// Implementations are not required to be safe for concurrent use; the
// gateway control loop is the only caller.
type Driver interface {
	// Begin initialises the chip. It fails with ErrNotReady if no chip answers.
	Begin(ctx context.Context) error

	SetPALevel(level PALevel) error
	SetDataRate(rate DataRate) error
	SetChannel(channel uint8) error

	// SetPayloadSize sets the static payload width (1..32) for all pipes.
	SetPayloadSize(size uint8) error

	// OpenReadingPipe binds pipe (1..5) to addr.
	OpenReadingPipe(pipe uint8, addr address.RadioAddress) error

	// OpenWritingPipe sets the destination for the next Write.
	OpenWritingPipe(addr address.RadioAddress) error

	StartListening() error
	StopListening() error

	// Available reports whether a payload is waiting and on which pipe.
	Available() (pipe uint8, ok bool, err error)

	// Read pops the oldest payload from the receive FIFO into buf.
	Read(buf []byte) (int, error)

	// Write transmits payload on the writing pipe and blocks until the
	// auto-ack arrives or the chip gives up retrying. acked is false when the
	// peer never acknowledged.
	Write(ctx context.Context, payload []byte) (acked bool, err error)

	Close() error
}

// PALevel is the transmitter power amplifier setting.
type PALevel uint8

// PA levels, lowest to highest.
const (
	PAMin PALevel = iota
	PALow
	PAHigh
	PAMax
)

var paLevelNames = map[PALevel]string{
	PAMin:  "min",
	PALow:  "low",
	PAHigh: "high",
	PAMax:  "max",
}

func (l PALevel) String() string {
	if s, ok := paLevelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("pa(%d)", uint8(l))
}

// ParsePALevel accepts "min", "low", "high" or "max" (case-insensitive).
func ParsePALevel(s string) (PALevel, error) {
	for l, name := range paLevelNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("radio: unknown PA level %q", s)
}

// DataRate is the on-air bit rate.
type DataRate uint8

// Supported data rates.
const (
	Rate1Mbps DataRate = iota
	Rate2Mbps
	Rate250Kbps
)

var dataRateNames = map[DataRate]string{
	Rate1Mbps:   "1mbps",
	Rate2Mbps:   "2mbps",
	Rate250Kbps: "250kbps",
}

func (r DataRate) String() string {
	if s, ok := dataRateNames[r]; ok {
		return s
	}
	return fmt.Sprintf("rate(%d)", uint8(r))
}

// ParseDataRate accepts "1mbps", "2mbps" or "250kbps" (case-insensitive).
func ParseDataRate(s string) (DataRate, error) {
	for r, name := range dataRateNames {
		if strings.EqualFold(s, name) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("radio: unknown data rate %q", s)
}
