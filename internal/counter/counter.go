// Package counter implements an integer counter bounded to [Min, Max].
//
// Mutations that would leave the range are rejected, never clamped,
// and leave the stored value untouched.
package counter

import (
	"errors"
	"fmt"
	"sync"
)

const (
	Min = 0
	Max = 1000
)

// ErrOutOfRange matches every *RangeError with errors.Is.
var ErrOutOfRange = errors.New("counter out of range")

// Operation names reported in RangeError.
const (
	OpSet       = "set"
	OpIncrement = "increment"
	OpDecrement = "decrement"
)

// RangeError is returned when a mutation would move the counter
// outside of [Min, Max].
type RangeError struct {
	Op string
	// Value is the rejected value.
	Value int
}

func (e *RangeError) Error() string {
	switch e.Op {
	case OpIncrement:
		return fmt.Sprintf("counter must be below %d", Max)
	case OpDecrement:
		return fmt.Sprintf("counter must be greater than or equal to %d", Min)
	default:
		return fmt.Sprintf("counter must be in range [%d, %d], got %d", Min, Max, e.Value)
	}
}

func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// Counter is safe for concurrent use. The zero value holds 0.
type Counter struct {
	mu    sync.Mutex
	value int
}

func New() *Counter {
	return &Counter{}
}

func (c *Counter) Get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set replaces the value with n if n is in range.
func (c *Counter) Set(n int) (int, error) {
	return c.apply(OpSet, func(int) int { return n })
}

func (c *Counter) Increment() (int, error) {
	return c.apply(OpIncrement, func(v int) int { return v + 1 })
}

func (c *Counter) Decrement() (int, error) {
	return c.apply(OpDecrement, func(v int) int { return v - 1 })
}

// apply commits next(value) only if the result stays in range.
func (c *Counter) apply(op string, next func(int) int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := next(c.value)
	if !InRange(n) {
		return c.value, &RangeError{Op: op, Value: n}
	}
	c.value = n
	return n, nil
}

func InRange(n int) bool {
	return n >= Min && n <= Max
}
