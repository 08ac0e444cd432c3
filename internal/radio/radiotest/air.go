// Package radiotest provides an in-memory radio medium for tests and the
// node simulator.
package radiotest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/radio"
)

// FIFODepth is the receive FIFO depth of an nRF24L01.
const FIFODepth = 3

// ErrNotBegun is returned by radios used before Begin.
var ErrNotBegun = errors.New("radiotest: radio not begun")

// Transmission records one Write attempt on the air.
type Transmission struct {
	From    string
	To      address.RadioAddress
	Payload []byte
	Acked   bool
}

// Air is a shared medium. Radios on the same channel hear each other.
type Air struct {
	mu     sync.Mutex
	radios []*Radio
	log    []Transmission
}

// NewAir creates an empty medium.
func NewAir() *Air {
	return &Air{}
}

// NewRadio attaches a radio named name to the medium.
func (a *Air) NewRadio(name string) *Radio {
	r := &Radio{
		air:         a,
		name:        name,
		payloadSize: radio.MaxPayloadSize,
		pipes:       make(map[uint8]address.RadioAddress),
	}
	a.mu.Lock()
	a.radios = append(a.radios, r)
	a.mu.Unlock()
	return r
}

// Transmissions returns every Write attempt so far.
func (a *Air) Transmissions() []Transmission {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transmission, len(a.log))
	copy(out, a.log)
	return out
}

// transmit delivers payload to the first listening radio bound to addr.
// Caller holds no locks.
func (a *Air) transmit(from *Radio, channel uint8, to address.RadioAddress, payload []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	acked := false
	for _, r := range a.radios {
		if r == from {
			continue
		}
		if r.deliver(channel, to, payload) {
			acked = true
			break
		}
	}

	a.log = append(a.log, Transmission{
		From:    from.name,
		To:      to,
		Payload: append([]byte(nil), payload...),
		Acked:   acked,
	})
	return acked
}

type packet struct {
	pipe uint8
	data []byte
}

// Radio is an in-memory transceiver implementing radio.Driver.
type Radio struct {
	air  *Air
	name string

	mu          sync.Mutex
	begun       bool
	listening   bool
	channel     uint8
	payloadSize uint8
	paLevel     radio.PALevel
	dataRate    radio.DataRate
	pipes       map[uint8]address.RadioAddress
	writeAddr   address.RadioAddress
	fifo        []packet
	dropped     int
	events      []string
	failWrites  int
	failBegin   bool
	errStart    error
	closed      bool
}

var _ radio.Driver = (*Radio)(nil)

// FailNextWrites makes the next n writes go unacknowledged.
func (r *Radio) FailNextWrites(n int) {
	r.mu.Lock()
	r.failWrites = n
	r.mu.Unlock()
}

// FailBegin makes Begin report a missing chip.
func (r *Radio) FailBegin() {
	r.mu.Lock()
	r.failBegin = true
	r.mu.Unlock()
}

// FailStartListening makes every StartListening call return err until it is
// called again with nil.
func (r *Radio) FailStartListening(err error) {
	r.mu.Lock()
	r.errStart = err
	r.mu.Unlock()
}

// Listening reports whether the radio is in receive mode.
func (r *Radio) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Dropped returns how many packets were lost to a full FIFO.
func (r *Radio) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Pending returns the number of packets in the receive FIFO.
func (r *Radio) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fifo)
}

// Events returns the mode-switching history, e.g. "stop-listening",
// "open-writing 2NODE", "write", "start-listening".
func (r *Radio) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// ResetEvents clears the event history.
func (r *Radio) ResetEvents() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// PALevel returns the configured PA level.
func (r *Radio) PALevel() radio.PALevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paLevel
}

// Channel returns the configured RF channel.
func (r *Radio) Channel() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

func (r *Radio) Begin(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failBegin {
		return fmt.Errorf("%w: %s has no chip", radio.ErrNotReady, r.name)
	}
	r.begun = true
	r.channel = 76
	r.events = append(r.events, "begin")
	return nil
}

func (r *Radio) SetPALevel(level radio.PALevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paLevel = level
	return nil
}

func (r *Radio) SetDataRate(rate radio.DataRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataRate = rate
	return nil
}

func (r *Radio) SetChannel(channel uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = channel
	return nil
}

func (r *Radio) SetPayloadSize(size uint8) error {
	if size == 0 || size > radio.MaxPayloadSize {
		return fmt.Errorf("%w: %d", radio.ErrPayloadTooLarge, size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadSize = size
	return nil
}

func (r *Radio) OpenReadingPipe(pipe uint8, addr address.RadioAddress) error {
	if pipe > 5 {
		return fmt.Errorf("radiotest: pipe %d out of range", pipe)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipes[pipe] = addr
	return nil
}

func (r *Radio) OpenWritingPipe(addr address.RadioAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeAddr = addr
	r.events = append(r.events, "open-writing "+addr.String())
	return nil
}

func (r *Radio) StartListening() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "start-listening")
	if r.errStart != nil {
		return r.errStart
	}
	r.listening = true
	return nil
}

func (r *Radio) StopListening() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "stop-listening")
	r.listening = false
	return nil
}

func (r *Radio) Available() (uint8, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		return 0, false, ErrNotBegun
	}
	if len(r.fifo) == 0 {
		return 0, false, nil
	}
	return r.fifo[0].pipe, true, nil
}

func (r *Radio) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.begun {
		return 0, ErrNotBegun
	}
	if len(r.fifo) == 0 {
		// Real hardware returns stale register contents; zeros are close enough.
		clear(buf)
		return len(buf), nil
	}
	p := r.fifo[0]
	r.fifo = r.fifo[1:]
	return copy(buf, p.data), nil
}

// Write transmits on the writing pipe. The radio must not be listening.
func (r *Radio) Write(ctx context.Context, payload []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	if !r.begun {
		r.mu.Unlock()
		return false, ErrNotBegun
	}
	if r.listening {
		r.mu.Unlock()
		return false, errors.New("radiotest: write while listening")
	}
	r.events = append(r.events, "write")

	data := make([]byte, r.payloadSize)
	copy(data, payload)
	to := r.writeAddr
	channel := r.channel
	fail := r.failWrites > 0
	if fail {
		r.failWrites--
	}
	r.mu.Unlock()

	if fail {
		r.air.mu.Lock()
		r.air.log = append(r.air.log, Transmission{From: r.name, To: to, Payload: data, Acked: false})
		r.air.mu.Unlock()
		return false, nil
	}
	return r.air.transmit(r, channel, to, data), nil
}

func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.begun = false
	r.listening = false
	return nil
}

// deliver queues payload if this radio would receive it. Called with the air
// lock held.
func (r *Radio) deliver(channel uint8, to address.RadioAddress, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.begun || !r.listening || r.channel != channel {
		return false
	}

	for pipe, addr := range r.pipes {
		if addr != to {
			continue
		}
		if len(r.fifo) >= FIFODepth {
			r.dropped++
			return false
		}
		data := make([]byte, r.payloadSize)
		copy(data, payload)
		r.fifo = append(r.fifo, packet{pipe: pipe, data: data})
		return true
	}
	return false
}
