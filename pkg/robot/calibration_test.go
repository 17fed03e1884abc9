package robot

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestMotorCalibration_ToDegrees(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{1000, 0.0},   // min -> 0
		{3000, 180.0}, // max -> span
		{2000, 90.0},  // mid -> 90
		{1500, 45.0},  // quarter
		{2500, 135.0}, // three-quarter
	}

	for _, tt := range tests {
		got := cal.ToDegrees(tt.raw)
		if math.Abs(got-tt.expected) > 0.001 {
			t.Errorf("ToDegrees(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestMotorCalibration_FromDegrees(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		deg      float64
		expected int
	}{
		{0, 1000},
		{180, 3000},
		{90, 2000},
		{45, 1500},
		{135, 2500},
	}

	for _, tt := range tests {
		got := cal.FromDegrees(tt.deg)
		if got != tt.expected {
			t.Errorf("FromDegrees(%f) = %d, want %d", tt.deg, got, tt.expected)
		}
	}
}

func TestMotorCalibration_Span(t *testing.T) {
	cal := MotorCalibration{RangeMin: 0, RangeMax: 2700, Span: 270}

	if got := cal.ToDegrees(2700); math.Abs(got-270) > 0.001 {
		t.Errorf("ToDegrees(2700) = %f, want 270", got)
	}
	if got := cal.FromDegrees(135); got != 1350 {
		t.Errorf("FromDegrees(135) = %d, want 1350", got)
	}
}

func TestMotorCalibration_ZeroRange(t *testing.T) {
	cal := MotorCalibration{RangeMin: 2048, RangeMax: 2048}
	if got := cal.ToDegrees(2048); got != 0 {
		t.Errorf("ToDegrees on zero range = %f, want 0", got)
	}
}

func TestMotorCalibration_RoundTrip(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	// Test round-trip: raw -> degrees -> raw
	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		deg := cal.ToDegrees(raw)
		back := cal.FromDegrees(deg)
		if math.Abs(float64(back-raw)) > 1 {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, deg, back)
		}
	}
}

func TestCalibration_MotorIDs(t *testing.T) {
	cal := Calibration{
		Base:       MotorCalibration{ID: 1},
		Shoulder:   MotorCalibration{ID: 2},
		Elbow:      MotorCalibration{ID: 3},
		WristPitch: MotorCalibration{ID: 4},
		WristRoll:  MotorCalibration{ID: 5},
		Gripper:    MotorCalibration{ID: 6},
	}

	ids := cal.MotorIDs()
	expected := []int{1, 2, 3, 4, 5, 6}

	if len(ids) != len(expected) {
		t.Fatalf("MotorIDs returned %d IDs, want %d", len(ids), len(expected))
	}

	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("MotorIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}

	if !cal.Complete() {
		t.Error("Complete() = false for a full calibration")
	}
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		Base:    MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		Gripper: MotorCalibration{ID: 6, RangeMin: 300, RangeMax: 400},
	}

	name, mc, ok := cal.ByID(1)
	if !ok {
		t.Fatal("ByID(1) returned false")
	}
	if name != Base {
		t.Errorf("ByID(1) returned name %s, want base", name)
	}
	if mc.RangeMin != 100 {
		t.Errorf("ByID(1) returned wrong calibration: %+v", mc)
	}

	_, _, ok = cal.ByID(99)
	if ok {
		t.Error("ByID(99) should return false")
	}

	if cal.Complete() {
		t.Error("Complete() = true for a partial calibration")
	}
}

func TestLoadCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	data := `{"base":{"id":1,"range_min":500,"range_max":3500},"wrist_roll":{"id":5,"range_min":0,"range_max":4095,"span":270}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cal, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration: %v", err)
	}
	if cal[Base].RangeMax != 3500 {
		t.Errorf("base range_max = %d, want 3500", cal[Base].RangeMax)
	}
	if cal[WristRoll].Span != 270 {
		t.Errorf("wrist_roll span = %d, want 270", cal[WristRoll].Span)
	}

	if _, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadCalibration on missing file should fail")
	}
}
