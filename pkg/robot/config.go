package robot

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
)

// ArmConfig holds the serial port and calibration of the servo bus,
// as written by the calibrate command.
type ArmConfig struct {
	Port        string      `json:"port"`
	Calibration Calibration `json:"calibration,omitempty"`
}

// IsCalibrated returns true if the arm has calibration data for every joint
func (a *ArmConfig) IsCalibrated() bool {
	return a.Calibration.Complete()
}

// LoadArmConfig loads the arm configuration from a specific file
func LoadArmConfig(path string) (*ArmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read arm file")
	}
	var cfg ArmConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse arm file %s", path)
	}
	return &cfg, nil
}

// SaveTo saves the arm configuration to a specific file
func (a *ArmConfig) SaveTo(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode arm file")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "write arm file")
	}
	return nil
}

// ArmConfigExists returns true if the file exists
func ArmConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
