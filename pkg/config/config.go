// Package config loads the dofbot configuration from YAML files.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Robot  RobotConfig  `yaml:"robot"`
	Panel  PanelConfig  `yaml:"panel"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// RobotConfig describes how the panel reaches the robot server.
type RobotConfig struct {
	Address string        `yaml:"address"`
	Port    int           `yaml:"port" default:"5000" validate:"gte=1,lte=65535"`
	Timeout time.Duration `yaml:"timeout" default:"15s" validate:"gte=0"` // reads, home and image; 0 disables
}

// PanelConfig represents control panel configuration.
type PanelConfig struct {
	MoveTimeMs         int    `yaml:"move_time_ms" default:"1000" validate:"gte=100,lte=5000"`
	StepDegrees        int    `yaml:"step_degrees" default:"5" validate:"gte=1,lte=90"`
	StepDelayMs        int    `yaml:"step_delay_ms" default:"100" validate:"gte=1,lte=10000"`
	ReconnectOnFailure bool   `yaml:"reconnect_on_failure"`
	SnapshotDir        string `yaml:"snapshot_dir" default:"."`
}

// ServerConfig represents robot-side server configuration.
type ServerConfig struct {
	Addr            string       `yaml:"addr" default:":5000" validate:"required"`
	SerialPort      string       `yaml:"serial_port"`
	CalibrationFile string       `yaml:"calibration_file" default:"dofbot-arm.json"`
	SettleMs        int          `yaml:"settle_ms" default:"500" validate:"gte=0,lte=10000"`
	HomeMoveMs      int          `yaml:"home_move_ms" default:"1000" validate:"gte=100,lte=5000"`
	HomeSettleMs    int          `yaml:"home_settle_ms" default:"500" validate:"gte=0,lte=10000"`
	Camera          CameraConfig `yaml:"camera"`
}

// CameraConfig configures snapshot capture.
type CameraConfig struct {
	Command      string `yaml:"command" default:"fswebcam -q --no-banner -r 640x480 --jpeg 85 -"`
	ResetCommand string `yaml:"reset_command"`
	Width        int    `yaml:"width" default:"640" validate:"gte=0,lte=4096"`
	TestPattern  bool   `yaml:"test_pattern"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File  string `yaml:"file"`
}

// DefaultPath returns the per-user configuration file path.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "dofbot", "config.yaml")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	// defaults.Set only fails on malformed tags
	_ = defaults.Set(&cfg)
	return &cfg
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Values set in the file, including explicit zeros such as
// `timeout: 0s`, replace the defaults. Environment variables take precedence
// over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, errors.Wrap(err, "failed to read config file")
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() error {
	if v := strings.TrimSpace(os.Getenv("DOFBOT_ADDRESS")); v != "" {
		c.Robot.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("DOFBOT_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid DOFBOT_PORT %q", v)
		}
		c.Robot.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("DOFBOT_LOG_LEVEL")); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// MoveTime is the default move duration for new queue positions.
func (p PanelConfig) MoveTime() time.Duration {
	return time.Duration(p.MoveTimeMs) * time.Millisecond
}

// StepDelay is the pause between two playback moves.
func (p PanelConfig) StepDelay() time.Duration {
	return time.Duration(p.StepDelayMs) * time.Millisecond
}

// Settle is the extra wait after a move's duration before replying.
func (s ServerConfig) Settle() time.Duration {
	return time.Duration(s.SettleMs) * time.Millisecond
}

// HomeMove is the duration of the move to the home pose.
func (s ServerConfig) HomeMove() time.Duration {
	return time.Duration(s.HomeMoveMs) * time.Millisecond
}

// HomeSettle is the wait after the home move.
func (s ServerConfig) HomeSettle() time.Duration {
	return time.Duration(s.HomeSettleMs) * time.Millisecond
}
