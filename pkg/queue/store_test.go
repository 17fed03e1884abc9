package queue

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dofbot/pkg/robot"
)

func home() robot.Angles { return robot.HomeAngles() }

// recorder collects store notifications.
type recorder struct {
	changes []Change
}

func (r *recorder) observe(s *Store) {
	s.Observe(func(c Change) { r.changes = append(r.changes, c) })
}

func (r *recorder) kinds() []ChangeKind {
	out := make([]ChangeKind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

func (r *recorder) reset() { r.changes = nil }

func filled(t *testing.T, n int) *Store {
	t.Helper()
	s := NewStore()
	for i := 0; i < n; i++ {
		require.NoError(t, s.Append(robot.Angles{i, 90, 90, 90, 90, 90}, 500*time.Millisecond))
	}
	return s
}

func TestStore_Append(t *testing.T) {
	s := NewStore()
	rec := &recorder{}
	rec.observe(s)

	angles := robot.Angles{90, 90, 90, 90, 90, 90}
	require.NoError(t, s.Append(angles, 500*time.Millisecond))

	angles[0] = 1 // caller's slice must not alias the stored one
	p, ok := s.At(0)
	require.True(t, ok)
	assert.Equal(t, home(), p.Angles)
	assert.Equal(t, 500*time.Millisecond, p.Duration)
	assert.Equal(t, StatusAdded, s.Status())
	assert.Equal(t, []ChangeKind{QueueChanged, StatusChanged}, rec.kinds())
}

func TestStore_AppendRejectsWrongLength(t *testing.T) {
	s := filled(t, 1)
	rec := &recorder{}
	rec.observe(s)

	err := s.Append(robot.Angles{1, 2, 3}, time.Second)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidAngles))
	assert.Equal(t, 1, s.Len(), "queue length must be unchanged")
	assert.Equal(t, StatusInvalidAngles, s.Status())
	assert.Equal(t, []ChangeKind{StatusChanged}, rec.kinds())
}

func TestStore_AppendClampsDuration(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Append(home(), 0))
	require.NoError(t, s.Append(home(), time.Minute))

	p0, _ := s.At(0)
	p1, _ := s.At(1)
	assert.Equal(t, MinDuration, p0.Duration)
	assert.Equal(t, MaxDuration, p1.Duration)
}

func TestStore_UpdateDurationClamps(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{name: "negative", in: -5 * time.Second, want: MinDuration},
		{name: "zero", in: 0, want: MinDuration},
		{name: "below min", in: 99 * time.Millisecond, want: MinDuration},
		{name: "min", in: MinDuration, want: MinDuration},
		{name: "in range", in: 2500 * time.Millisecond, want: 2500 * time.Millisecond},
		{name: "max", in: MaxDuration, want: MaxDuration},
		{name: "absurdly large", in: 1000 * time.Hour, want: MaxDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := filled(t, 1)
			s.UpdateDuration(0, tt.in)
			p, _ := s.At(0)
			assert.Equal(t, tt.want, p.Duration)
		})
	}
}

func TestStore_UpdateDurationOutOfRange(t *testing.T) {
	s := filled(t, 1)
	rec := &recorder{}
	rec.observe(s)

	s.UpdateDuration(5, time.Second)
	s.UpdateDuration(-1, time.Second)

	p, _ := s.At(0)
	assert.Equal(t, 500*time.Millisecond, p.Duration)
	assert.Empty(t, rec.changes)
}

func TestStore_RemoveAt(t *testing.T) {
	t.Run("out of range is a no-op", func(t *testing.T) {
		s := filled(t, 2)
		rec := &recorder{}
		rec.observe(s)

		s.RemoveAt(2)
		s.RemoveAt(-1)

		assert.Equal(t, 2, s.Len())
		assert.Empty(t, rec.changes)
	})

	t.Run("keeps order", func(t *testing.T) {
		s := filled(t, 3)
		s.RemoveAt(1)

		snap := s.Snapshot()
		require.Len(t, snap.Positions, 2)
		assert.Equal(t, 0, snap.Positions[0].Angles[0])
		assert.Equal(t, 2, snap.Positions[1].Angles[0])
	})

	t.Run("clamps index of removed last position", func(t *testing.T) {
		s := filled(t, 3)
		s.SetCurrentIndex(2)
		rec := &recorder{}
		rec.observe(s)

		s.RemoveAt(2)

		assert.Equal(t, 1, s.Index())
		assert.Equal(t, []ChangeKind{QueueChanged, IndexChanged}, rec.kinds())
		assert.Equal(t, 1, rec.changes[1].Index)
	})

	t.Run("removing the only position leaves index 0", func(t *testing.T) {
		s := filled(t, 1)
		s.RemoveAt(0)

		assert.Equal(t, 0, s.Len())
		assert.Equal(t, 0, s.Index())
	})

	t.Run("index never exceeds length", func(t *testing.T) {
		for n := 1; n <= 5; n++ {
			for cur := 0; cur < n; cur++ {
				for rm := 0; rm < n; rm++ {
					s := filled(t, n)
					s.SetCurrentIndex(cur)
					s.RemoveAt(rm)
					if s.Len() > 0 {
						assert.Less(t, s.Index(), s.Len(), "n=%d cur=%d rm=%d", n, cur, rm)
					} else {
						assert.Equal(t, 0, s.Index())
					}
				}
			}
		}
	})
}

func TestStore_Clear(t *testing.T) {
	s := filled(t, 3)
	require.True(t, s.SetPlaying(true))
	s.SetCurrentIndex(2)
	rec := &recorder{}
	rec.observe(s)

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Index())
	assert.False(t, s.Playing())
	assert.Equal(t, []ChangeKind{QueueChanged, IndexChanged, PlayingChanged}, rec.kinds())
}

func TestStore_SetPlaying(t *testing.T) {
	t.Run("refused on empty queue", func(t *testing.T) {
		s := NewStore()
		assert.False(t, s.SetPlaying(true))
		assert.False(t, s.Playing())
	})

	t.Run("stop resets index", func(t *testing.T) {
		s := filled(t, 3)
		require.True(t, s.SetPlaying(true))
		s.SetCurrentIndex(2)

		assert.True(t, s.SetPlaying(false))
		assert.False(t, s.Playing())
		assert.Equal(t, 0, s.Index())
	})

	t.Run("notifies only on change", func(t *testing.T) {
		s := filled(t, 1)
		rec := &recorder{}
		rec.observe(s)

		s.SetPlaying(true)
		s.SetPlaying(true)
		s.SetLooping(true)
		s.SetLooping(true)
		s.SetStatus("x")
		s.SetStatus("x")

		assert.Equal(t, []ChangeKind{PlayingChanged, LoopingChanged, StatusChanged}, rec.kinds())
	})
}

func TestStore_SetCurrentIndexIgnoresOutOfRange(t *testing.T) {
	s := filled(t, 2)
	s.SetCurrentIndex(1)
	s.SetCurrentIndex(2)
	s.SetCurrentIndex(-1)
	assert.Equal(t, 1, s.Index())
}

func TestStore_ResetPlayback(t *testing.T) {
	s := filled(t, 3)
	require.True(t, s.SetPlaying(true))
	s.SetCurrentIndex(2)
	s.SetLooping(true)

	s.ResetPlayback()

	assert.False(t, s.Playing())
	assert.Equal(t, 0, s.Index())
	assert.True(t, s.Looping(), "looping is not part of the reset")
	assert.Equal(t, 3, s.Len())
}

func TestStore_NextPosition(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, _, ok := NewStore().NextPosition()
		assert.False(t, ok)
	})

	t.Run("advances", func(t *testing.T) {
		s := filled(t, 3)
		p, i, ok := s.NextPosition()
		require.True(t, ok)
		assert.Equal(t, 1, i)
		assert.Equal(t, 1, p.Angles[0])
		assert.Equal(t, 0, s.Index(), "query must not move the index")
	})

	t.Run("end without looping", func(t *testing.T) {
		s := filled(t, 3)
		s.SetCurrentIndex(2)
		_, _, ok := s.NextPosition()
		assert.False(t, ok)
	})

	t.Run("end with looping wraps", func(t *testing.T) {
		s := filled(t, 3)
		s.SetLooping(true)
		s.SetCurrentIndex(2)
		p, i, ok := s.NextPosition()
		require.True(t, ok)
		assert.Equal(t, 0, i)
		assert.Equal(t, 0, p.Angles[0])
	})
}

func TestStore_ObserveCancel(t *testing.T) {
	s := NewStore()
	count := 0
	cancel := s.Observe(func(Change) { count++ })

	s.SetStatus("a")
	cancel()
	s.SetStatus("b")

	assert.Equal(t, 1, count)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := filled(t, 2)
	s.SetLooping(true)

	snap := s.Snapshot()
	snap.Positions[0].Angles[1] = 0

	p, _ := s.At(0)
	assert.Equal(t, 90, p.Angles[1])
	assert.True(t, snap.Looping)
	assert.Equal(t, time.Second, s.TotalDuration())
}

func TestChangeKind_String(t *testing.T) {
	assert.Equal(t, "queue", QueueChanged.String())
	assert.Equal(t, "status", StatusChanged.String())
	assert.Equal(t, "unknown", ChangeKind(42).String())
}

func TestStore_TotalDuration(t *testing.T) {
	s := filled(t, 3)
	assert.Equal(t, 1500*time.Millisecond, s.TotalDuration())

	s.UpdateDuration(0, 2*time.Second)
	assert.Equal(t, 3*time.Second, s.TotalDuration())

	s.Clear()
	assert.Zero(t, s.TotalDuration())
}
