package node

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// SimSensors produces a slow random walk around typical garden values.
// A zero FailEvery never fails; otherwise every FailEvery-th read reports a
// DHT failure.
type SimSensors struct {
	mu        sync.Mutex
	rng       *rand.Rand
	sample    Sample
	reads     int
	FailEvery int
}

// NewSimSensors seeds the walk. Equal seeds give equal sequences.
func NewSimSensors(seed uint64) *SimSensors {
	return &SimSensors{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sample: Sample{
			Temperature: 24,
			Humidity:    60,
			LDR:         500,
			Soil:        300,
		},
	}
}

func (s *SimSensors) Read(_ context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	s.sample.Temperature = clampF(s.sample.Temperature+float32(s.rng.NormFloat64()*0.2), -10, 50)
	s.sample.Humidity = clampF(s.sample.Humidity+float32(s.rng.NormFloat64()*0.5), 0, 100)
	s.sample.LDR = walkADC(s.sample.LDR, s.rng.IntN(21)-10)
	s.sample.Soil = walkADC(s.sample.Soil, s.rng.IntN(11)-5)

	out := s.sample
	if s.FailEvery > 0 && s.reads%s.FailEvery == 0 {
		out.Temperature = float32(math.NaN())
		out.Humidity = float32(math.NaN())
	}
	return out, nil
}

// MemoryRelay records the relay state.
type MemoryRelay struct {
	mu      sync.Mutex
	on      bool
	history []bool
}

func (r *MemoryRelay) Set(on bool) error {
	r.mu.Lock()
	r.on = on
	r.history = append(r.history, on)
	r.mu.Unlock()
	return nil
}

// On reports the current state.
func (r *MemoryRelay) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// History returns every state set so far.
func (r *MemoryRelay) History() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.history...)
}

func clampF(v, lo, hi float32) float32 {
	return max(lo, min(hi, v))
}

// walkADC moves a 12-bit ADC value by delta, staying in range.
func walkADC(v uint16, delta int) uint16 {
	return uint16(max(0, min(4095, int(v)+delta))) //nolint:gosec // clamped to 12 bits
}
