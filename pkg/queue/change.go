package queue

// ChangeKind identifies which part of the store changed.
type ChangeKind int

const (
	QueueChanged   ChangeKind = iota // Positions were added, removed or edited
	IndexChanged                     // Current playback index moved
	PlayingChanged                   // Playing flag toggled
	LoopingChanged                   // Looping flag toggled
	StatusChanged                    // Status text replaced
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case QueueChanged:
		return "queue"
	case IndexChanged:
		return "index"
	case PlayingChanged:
		return "playing"
	case LoopingChanged:
		return "looping"
	case StatusChanged:
		return "status"
	default:
		return "unknown"
	}
}

// Change is one store notification. Only the field matching Kind is set.
type Change struct {
	Kind      ChangeKind
	Positions []Position
	Index     int
	Playing   bool
	Looping   bool
	Status    string
}
