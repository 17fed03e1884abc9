package robot

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrInvalidAngles is returned when an angle vector does not have one value per joint.
var ErrInvalidAngles = errors.New("angles must contain exactly 6 values")

// Angles holds one target or measured angle per joint, in degrees and servo order.
type Angles []int

// HomeAngles returns the home pose with every joint at 90 degrees.
func HomeAngles() Angles {
	return Angles{90, 90, 90, 90, 90, 90}
}

// Validate checks that there is exactly one angle per joint.
func (a Angles) Validate() error {
	if len(a) != NumJoints {
		return errors.Wrapf(ErrInvalidAngles, "got %d", len(a))
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (a Angles) Clone() Angles {
	if a == nil {
		return nil
	}
	out := make(Angles, len(a))
	copy(out, a)
	return out
}

// Clamp returns a copy with every joint limited to its safe range.
func (a Angles) Clamp() Angles {
	out := a.Clone()
	for i := range out {
		if i < NumJoints {
			out[i] = SafeRanges[i].Clamp(out[i])
		}
	}
	return out
}

// Equal reports whether both vectors hold the same values.
func (a Angles) Equal(b Angles) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String formats the angles as the comma separated list used on the wire.
func (a Angles) String() string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseAngles parses a comma separated angle list such as "90,90,90,90,90,90".
func ParseAngles(s string) (Angles, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.Wrap(ErrInvalidAngles, "empty angle list")
	}
	fields := strings.Split(s, ",")
	if len(fields) != NumJoints {
		return nil, errors.Wrapf(ErrInvalidAngles, "got %d", len(fields))
	}
	angles := make(Angles, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "angle %d", i+1)
		}
		angles[i] = v
	}
	return angles, nil
}
