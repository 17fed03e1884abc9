package robot

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// DefaultSpan is the angular travel of a standard Dofbot servo, in degrees.
const DefaultSpan = 180

// MotorCalibration maps the raw position range of one servo onto degrees.
type MotorCalibration struct {
	ID       int `json:"id"`
	RangeMin int `json:"range_min"`
	RangeMax int `json:"range_max"`
	// Span is the number of degrees covered by RangeMin..RangeMax (180 when unset).
	Span int `json:"span,omitempty"`
}

// Calibration holds calibration data for all joints, keyed by joint name.
type Calibration map[Joint]MotorCalibration

// LoadCalibration loads calibration data from a JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read calibration file")
	}

	// Parse into a map with string keys first
	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse calibration JSON")
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[Joint(name)] = mc
	}

	return cal, nil
}

func (c MotorCalibration) span() int {
	if c.Span <= 0 {
		return DefaultSpan
	}
	return c.Span
}

// ToDegrees converts a raw servo position to degrees in [0, Span].
func (c MotorCalibration) ToDegrees(raw int) float64 {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	if rangeSize == 0 {
		return 0
	}
	return float64(raw-c.RangeMin) / rangeSize * float64(c.span())
}

// FromDegrees converts degrees in [0, Span] to a raw servo position.
func (c MotorCalibration) FromDegrees(deg float64) int {
	rangeSize := float64(c.RangeMax - c.RangeMin)
	return int(deg/float64(c.span())*rangeSize+0.5) + c.RangeMin
}

// MotorIDs returns the servo IDs for all joints in the calibration.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	// Use AllJoints() to ensure consistent ordering
	for _, name := range AllJoints() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns joint name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (Joint, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// Complete reports whether every joint has calibration data.
func (c Calibration) Complete() bool {
	for _, name := range AllJoints() {
		if _, ok := c[name]; !ok {
			return false
		}
	}
	return true
}
