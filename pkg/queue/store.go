// Package queue holds the ordered list of recorded arm positions together with
// the playback bookkeeping (current index, looping and playing flags, status).
package queue

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gwillem/dofbot/pkg/robot"
)

// Move duration limits applied to every stored position.
const (
	MinDuration     = 100 * time.Millisecond
	MaxDuration     = 5000 * time.Millisecond
	DefaultDuration = 1000 * time.Millisecond
)

// Status texts set by the store.
const (
	StatusAdded         = "Position added to queue"
	StatusInvalidAngles = "Error: Invalid angles format"
)

// ErrInvalidAngles is returned by Append for a vector that is not one angle per joint.
var ErrInvalidAngles = errors.New("invalid angles format")

// Position is one queued target pose.
type Position struct {
	Angles   robot.Angles
	Duration time.Duration
}

// Valid reports whether the position carries one angle per joint.
func (p Position) Valid() bool {
	return p.Angles.Validate() == nil
}

func (p Position) clone() Position {
	return Position{Angles: p.Angles.Clone(), Duration: p.Duration}
}

// ClampDuration limits d to [MinDuration, MaxDuration].
func ClampDuration(d time.Duration) time.Duration {
	if d < MinDuration {
		return MinDuration
	}
	if d > MaxDuration {
		return MaxDuration
	}
	return d
}

// Snapshot is a consistent copy of the store state.
type Snapshot struct {
	Positions []Position
	Index     int
	Playing   bool
	Looping   bool
	Status    string
}

// Store owns the position queue and playback state. It performs no I/O and
// never blocks on observers: callbacks run after the lock is released.
type Store struct {
	mu        sync.Mutex
	positions []Position
	index     int
	playing   bool
	looping   bool
	status    string

	observers map[int]func(Change)
	nextObs   int
	notifyMu  sync.Mutex
}

// NewStore creates an empty store in the idle state.
func NewStore() *Store {
	return &Store{observers: make(map[int]func(Change))}
}

// Observe registers fn for change notifications. The returned function
// unregisters it. fn runs synchronously after each mutation and must not
// mutate the store itself.
func (s *Store) Observe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Append adds a position built from angles and d to the end of the queue.
// The duration is clamped. A vector without exactly one angle per joint is
// rejected: the status is set to an error and the queue is left unchanged.
func (s *Store) Append(angles robot.Angles, d time.Duration) error {
	s.mu.Lock()
	if err := angles.Validate(); err != nil {
		changes := s.setStatusLocked(StatusInvalidAngles)
		s.unlockAndNotify(changes)
		return errors.Mark(err, ErrInvalidAngles)
	}

	s.positions = append(s.positions, Position{
		Angles:   angles.Clone(),
		Duration: ClampDuration(d),
	})
	changes := []Change{s.queueChangeLocked()}
	changes = append(changes, s.setStatusLocked(StatusAdded)...)
	s.unlockAndNotify(changes)
	return nil
}

// RemoveAt deletes the position at i. Out-of-range indices are ignored.
// The current index is clamped so it stays valid for the new length.
func (s *Store) RemoveAt(i int) {
	s.mu.Lock()
	if i < 0 || i >= len(s.positions) {
		s.mu.Unlock()
		return
	}

	s.positions = append(s.positions[:i:i], s.positions[i+1:]...)
	changes := []Change{s.queueChangeLocked()}
	if s.index >= len(s.positions) {
		changes = append(changes, s.setIndexLocked(max(0, len(s.positions)-1))...)
	}
	s.unlockAndNotify(changes)
}

// UpdateDuration stores the clamped duration for the position at i.
func (s *Store) UpdateDuration(i int, d time.Duration) {
	s.mu.Lock()
	if i < 0 || i >= len(s.positions) {
		s.mu.Unlock()
		return
	}

	d = ClampDuration(d)
	if s.positions[i].Duration == d {
		s.mu.Unlock()
		return
	}
	s.positions[i].Duration = d
	s.unlockAndNotify([]Change{s.queueChangeLocked()})
}

// Clear empties the queue and stops playback.
func (s *Store) Clear() {
	s.mu.Lock()
	s.positions = nil
	changes := []Change{s.queueChangeLocked()}
	changes = append(changes, s.setIndexLocked(0)...)
	changes = append(changes, s.setPlayingLocked(false)...)
	s.unlockAndNotify(changes)
}

// SetLooping sets the loop flag.
func (s *Store) SetLooping(looping bool) {
	s.mu.Lock()
	var changes []Change
	if s.looping != looping {
		s.looping = looping
		changes = append(changes, Change{Kind: LoopingChanged, Looping: looping})
	}
	s.unlockAndNotify(changes)
}

// SetPlaying sets the playing flag. Playing can only become true while the
// queue is non-empty; the return value reports whether the flag now equals
// playing. Stopping always resets the current index to 0.
func (s *Store) SetPlaying(playing bool) bool {
	s.mu.Lock()
	if playing && len(s.positions) == 0 {
		s.mu.Unlock()
		return false
	}
	changes := s.setPlayingLocked(playing)
	s.unlockAndNotify(changes)
	return true
}

// SetCurrentIndex moves the playback cursor. Indices outside the queue are ignored.
func (s *Store) SetCurrentIndex(i int) {
	s.mu.Lock()
	if i < 0 || i >= len(s.positions) {
		s.mu.Unlock()
		return
	}
	changes := s.setIndexLocked(i)
	s.unlockAndNotify(changes)
}

// SetStatus sets the human readable status text.
func (s *Store) SetStatus(status string) {
	s.mu.Lock()
	changes := s.setStatusLocked(status)
	s.unlockAndNotify(changes)
}

// ResetPlayback forces the idle state (not playing, index 0). It is applied
// on every application start so a stale playing flag never survives.
func (s *Store) ResetPlayback() {
	s.mu.Lock()
	changes := s.setPlayingLocked(false)
	changes = append(changes, s.setIndexLocked(0)...)
	s.unlockAndNotify(changes)
}

// NextPosition returns the position that should play after the current
// index, and its index. It reports false at the end of a non-looping queue
// or when the queue is empty. The store is not modified.
func (s *Store) NextPosition() (Position, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.positions) == 0 {
		return Position{}, 0, false
	}
	next := s.index + 1
	if next >= len(s.positions) {
		if !s.looping {
			return Position{}, 0, false
		}
		next = 0
	}
	return s.positions[next].clone(), next, true
}

// At returns a copy of the position at i.
func (s *Store) At(i int) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.positions) {
		return Position{}, false
	}
	return s.positions[i].clone(), true
}

// Len returns the number of queued positions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.positions)
}

// Index returns the current playback index.
func (s *Store) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Playing returns the playing flag.
func (s *Store) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Looping returns the loop flag.
func (s *Store) Looping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.looping
}

// Status returns the status text.
func (s *Store) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TotalDuration returns the sum of all move durations.
func (s *Store) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, p := range s.positions {
		total += p.Duration
	}
	return total
}

// Snapshot returns a copy of the whole state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Positions: s.positionsCopyLocked(),
		Index:     s.index,
		Playing:   s.playing,
		Looping:   s.looping,
		Status:    s.status,
	}
}

func (s *Store) positionsCopyLocked() []Position {
	out := make([]Position, len(s.positions))
	for i, p := range s.positions {
		out[i] = p.clone()
	}
	return out
}

func (s *Store) queueChangeLocked() Change {
	return Change{Kind: QueueChanged, Positions: s.positionsCopyLocked()}
}

func (s *Store) setIndexLocked(i int) []Change {
	if s.index == i {
		return nil
	}
	s.index = i
	return []Change{{Kind: IndexChanged, Index: i}}
}

func (s *Store) setPlayingLocked(playing bool) []Change {
	var changes []Change
	if !playing {
		changes = s.setIndexLocked(0)
	}
	if s.playing != playing {
		s.playing = playing
		changes = append(changes, Change{Kind: PlayingChanged, Playing: playing})
	}
	return changes
}

func (s *Store) setStatusLocked(status string) []Change {
	if s.status == status {
		return nil
	}
	s.status = status
	return []Change{{Kind: StatusChanged, Status: status}}
}

// unlockAndNotify releases s.mu and delivers changes to the observers.
// notifyMu keeps deliveries in mutation order across goroutines.
func (s *Store) unlockAndNotify(changes []Change) {
	if len(changes) == 0 {
		s.mu.Unlock()
		return
	}
	observers := make([]func(Change), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, c := range changes {
		for _, fn := range observers {
			fn(c)
		}
	}
}
