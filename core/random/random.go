// Package random provides the injectable randomness used by forecasting and
// simulation.
package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields pseudo-random floats in [0,1).
type Source interface {
	Float64() float64
}

// Locked wraps a math/rand generator for concurrent use.
type Locked struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a goroutine-safe Source seeded with seed.
func New(seed int64) *Locked {
	return &Locked{rng: rand.New(rand.NewSource(seed))}
}

// NewTimeSeeded returns a Source seeded from the wall clock.
func NewTimeSeeded() *Locked { return New(time.Now().UnixNano()) }

// Float64 returns the next value in [0,1).
func (l *Locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

// Intn returns the next value in [0,n).
func (l *Locked) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Intn(n)
}

// Sequence replays fixed values in order and wraps around. Tests use it to
// pin random draws.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	pos    int
}

// NewSequence returns a Source that cycles through values.
func NewSequence(values ...float64) *Sequence {
	if len(values) == 0 {
		values = []float64{0.5}
	}
	return &Sequence{values: values}
}

// Float64 returns the next configured value.
func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.pos%len(s.values)]
	s.pos++
	return v
}
