package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Robot.Port)
	assert.Equal(t, 15*time.Second, cfg.Robot.Timeout)
	assert.Equal(t, time.Second, cfg.Panel.MoveTime())
	assert.Equal(t, 100*time.Millisecond, cfg.Panel.StepDelay())
	assert.False(t, cfg.Panel.ReconnectOnFailure)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.Settle())
	assert.Equal(t, time.Second, cfg.Server.HomeMove())
	assert.Equal(t, 1500*time.Millisecond, cfg.Server.HomeMove()+cfg.Server.HomeSettle())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 640, cfg.Server.Camera.Width)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
robot:
  address: 192.168.31.157
  timeout: 3s
panel:
  move_time_ms: 800
  reconnect_on_failure: true
server:
  serial_port: /dev/ttyUSB0
  camera:
    reset_command: "sudo uhubctl -a cycle"
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "192.168.31.157", cfg.Robot.Address)
	assert.Equal(t, 3*time.Second, cfg.Robot.Timeout)
	assert.Equal(t, 5000, cfg.Robot.Port, "unset values still get defaults")
	assert.Equal(t, 800*time.Millisecond, cfg.Panel.MoveTime())
	assert.True(t, cfg.Panel.ReconnectOnFailure)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Server.SerialPort)
	assert.Equal(t, "sudo uhubctl -a cycle", cfg.Server.Camera.ResetCommand)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_ExplicitZeroKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "robot:\n  timeout: 0s\nserver:\n  settle_ms: 0\n"))
	require.NoError(t, err)

	assert.Zero(t, cfg.Robot.Timeout)
	assert.Zero(t, cfg.Server.Settle())
	assert.Equal(t, 5000, cfg.Robot.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DOFBOT_ADDRESS", "10.0.0.7")
	t.Setenv("DOFBOT_PORT", "8080")
	t.Setenv("DOFBOT_LOG_LEVEL", "WARN")

	cfg, err := Load(writeConfig(t, "robot:\n  address: 192.168.1.2\n"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", cfg.Robot.Address)
	assert.Equal(t, 8080, cfg.Robot.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  string
	}{
		{name: "bad yaml", body: "robot: [unclosed"},
		{name: "move time too long", body: "panel:\n  move_time_ms: 9000\n"},
		{name: "port out of range", body: "robot:\n  port: 70000\n"},
		{name: "unknown log level", body: "log:\n  level: chatty\n"},
		{name: "non numeric port env", body: "", env: "fivethousand"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("DOFBOT_PORT", tt.env)
			}
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Panel.StepDegrees)
	assert.Equal(t, "dofbot-arm.json", cfg.Server.CalibrationFile)
	assert.Equal(t, "config.yaml", filepath.Base(DefaultPath()))
}
