package robot

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSimFault is returned by SimArm when a fault has been injected.
var ErrSimFault = errors.New("simulated servo fault")

// SimArm is an in-memory arm used for dry runs and tests.
// Moves complete instantly; the caller decides how long to wait.
type SimArm struct {
	mu     sync.Mutex
	angles Angles
	moves  []SimMove
	fault  error
}

// SimMove records one WriteAngles call.
type SimMove struct {
	Angles   Angles
	Duration time.Duration
}

// NewSimArm creates a simulated arm resting in the home pose.
func NewSimArm() *SimArm {
	return &SimArm{angles: HomeAngles()}
}

// ReadAngles returns the last written angles.
func (s *SimArm) ReadAngles(ctx context.Context) (Angles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return nil, s.fault
	}
	return s.angles.Clone(), nil
}

// WriteAngles stores the angles as the new pose.
func (s *SimArm) WriteAngles(ctx context.Context, angles Angles, d time.Duration) error {
	if err := angles.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault != nil {
		return s.fault
	}
	s.angles = angles.Clone()
	s.moves = append(s.moves, SimMove{Angles: angles.Clone(), Duration: d})
	return nil
}

// Close is a no-op.
func (s *SimArm) Close() error { return nil }

// Moves returns the recorded moves.
func (s *SimArm) Moves() []SimMove {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimMove, len(s.moves))
	copy(out, s.moves)
	return out
}

// SetFault makes every following call fail with err (nil clears it).
func (s *SimArm) SetFault(err error) {
	s.mu.Lock()
	s.fault = err
	s.mu.Unlock()
}
