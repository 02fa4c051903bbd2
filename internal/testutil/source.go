// Package testutil provides shared test helpers for the combat engine.
package testutil

import "sync"

// FixedSource is a dice.Source that replays a fixed sequence of values,
// giving tests deterministic rolls. Values are consumed in order and the
// sequence wraps around when exhausted.
//
// Each value v is returned as v % n so callers can express intended die
// faces directly: a value of 19 under Intn(20) yields a raw d20 of 20.
type FixedSource struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewFixedSource creates a FixedSource replaying values.
//
// Precondition: values must be non-empty.
func NewFixedSource(values ...int) *FixedSource {
	if len(values) == 0 {
		panic("testutil: NewFixedSource requires at least one value")
	}
	return &FixedSource{values: values}
}

// Intn returns the next fixed value modulo n.
func (s *FixedSource) Intn(n int) int {
	if n <= 0 {
		panic("testutil: Intn called with n <= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values[s.next%len(s.values)]
	s.next++
	return v % n
}

// Consumed reports how many values have been drawn so far.
func (s *FixedSource) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// MinSource always returns 0, producing the minimum face on every die.
type MinSource struct{}

// Intn returns 0.
func (MinSource) Intn(n int) int { return 0 }

// MaxSource always returns n-1, producing the maximum face on every die.
type MaxSource struct{}

// Intn returns n - 1.
func (MaxSource) Intn(n int) int { return n - 1 }
