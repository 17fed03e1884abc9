// Package robot provides joint definitions and servo backends for the Dofbot arm.
package robot

// Joint identifies a servo joint in the arm.
type Joint string

// Joint names for the Dofbot arm, in servo order.
const (
	Base       Joint = "base"
	Shoulder   Joint = "shoulder"
	Elbow      Joint = "elbow"
	WristPitch Joint = "wrist_pitch"
	WristRoll  Joint = "wrist_roll"
	Gripper    Joint = "gripper"
)

// NumJoints is the number of servos on the arm.
const NumJoints = 6

// AllJoints returns all joint names in order (matching servo IDs 1-6).
func AllJoints() []Joint {
	return []Joint{
		Base,
		Shoulder,
		Elbow,
		WristPitch,
		WristRoll,
		Gripper,
	}
}

// Label returns a human readable joint name.
func (j Joint) Label() string {
	switch j {
	case Base:
		return "Base Rotation"
	case Shoulder:
		return "Shoulder"
	case Elbow:
		return "Elbow"
	case WristPitch:
		return "Wrist Pitch"
	case WristRoll:
		return "Wrist Rotation"
	case Gripper:
		return "Gripper"
	default:
		return string(j)
	}
}

// Range is an inclusive angle range in degrees.
type Range struct {
	Min int
	Max int
}

// Clamp limits v to the range.
func (r Range) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// SafeRanges are the recommended operating ranges per joint, in servo order.
var SafeRanges = [NumJoints]Range{
	{10, 170}, // base
	{15, 165}, // shoulder
	{15, 165}, // elbow
	{10, 170}, // wrist pitch
	{10, 260}, // wrist roll
	{10, 170}, // gripper
}

// SafeRange returns the safe range for a joint.
func SafeRange(j Joint) Range {
	for i, name := range AllJoints() {
		if name == j {
			return SafeRanges[i]
		}
	}
	return Range{Min: 0, Max: 180}
}
