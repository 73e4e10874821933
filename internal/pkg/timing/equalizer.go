// Package timing provides a uniform minimum-latency wrapper for
// credential-class operations.
package timing

import (
	"context"
	"time"
)

// DefaultFloor is the default minimum latency for credential operations. It
// should dominate the variance of the password-hashing step.
const DefaultFloor = 300 * time.Millisecond

// Equalizer pads every wrapped call to at least a configured floor, so an
// observer cannot distinguish outcomes (wrong password, unknown email,
// malformed invite) by response time.
type Equalizer struct {
	floor time.Duration
}

// NewEqualizer returns an equalizer with the given floor; a non-positive
// floor falls back to DefaultFloor.
func NewEqualizer(floor time.Duration) *Equalizer {
	if floor <= 0 {
		floor = DefaultFloor
	}
	return &Equalizer{floor: floor}
}

// Do runs fn and then sleeps until at least the floor has elapsed since the
// call began. The error is returned unchanged; context cancellation cuts the
// padding short.
func (e *Equalizer) Do(ctx context.Context, fn func() error) error {
	start := time.Now()
	err := fn()
	if remaining := e.floor - time.Since(start); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
		}
	}
	return err
}
