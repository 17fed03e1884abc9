// Package session persists the robot address and the last known joint angles
// between panel runs. The position queue and playback flags are never stored.
package session

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gwillem/dofbot/pkg/robot"
)

const (
	appName      = "dofbot"
	dbFileName   = "dofbot.db"
	saveDebounce = 500 * time.Millisecond
)

// RobotState is the persisted part of the robot connection state.
type RobotState struct {
	Address    string
	LastAngles robot.Angles
	UpdatedAt  time.Time
}

// Manager reads and writes the persisted state.
type Manager struct {
	db        *sql.DB
	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *RobotState
}

// OpenDefault opens the database in the user data directory.
func OpenDefault() (*Manager, error) {
	path, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return nil, errors.Wrap(err, "resolve state path")
	}
	return Open(path)
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Manager, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create state directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open state db")
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init state schema")
	}
	return &Manager{db: db}, nil
}

// Close flushes a pending save and closes the database.
func (m *Manager) Close() error {
	flushErr := m.Flush()
	if err := m.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// Load returns the saved state, or nil when nothing was saved yet.
func (m *Manager) Load() (*RobotState, error) {
	return loadRobotState(m.db)
}

// Save schedules state to be written. Rapid successive saves are coalesced.
func (m *Manager) Save(state RobotState) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	state.LastAngles = state.LastAngles.Clone()
	m.pending = &state

	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	m.saveTimer = time.AfterFunc(saveDebounce, func() {
		if err := m.Flush(); err != nil {
			zlog.Warn().Err(err).Msg("session: save failed")
		}
	})
}

// Flush writes a pending save immediately.
func (m *Manager) Flush() error {
	m.saveMu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	pending := m.pending
	m.pending = nil
	m.saveMu.Unlock()

	if pending == nil {
		return nil
	}
	return saveRobotState(m.db, *pending)
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS robot_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			ip_address TEXT NOT NULL DEFAULT '',
			last_angles TEXT,
			updated_at INTEGER NOT NULL
		);
	`)
	return err
}

func loadRobotState(db *sql.DB) (*RobotState, error) {
	row := db.QueryRow(`SELECT ip_address, last_angles, updated_at FROM robot_state WHERE id = 1`)

	var (
		state     RobotState
		angles    sql.NullString
		updatedAt int64
	)
	err := row.Scan(&state.Address, &angles, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no saved state is valid on first run
	}
	if err != nil {
		return nil, errors.Wrap(err, "load robot state")
	}
	state.UpdatedAt = time.Unix(updatedAt, 0)

	if angles.Valid && angles.String != "" {
		var a []int
		if err := json.Unmarshal([]byte(angles.String), &a); err != nil {
			return nil, errors.Wrap(err, "decode last angles")
		}
		// a stored vector of the wrong size is treated as absent
		if robot.Angles(a).Validate() == nil {
			state.LastAngles = a
		}
	}
	return &state, nil
}

func saveRobotState(db *sql.DB, state RobotState) error {
	var angles sql.NullString
	if state.LastAngles != nil {
		data, err := json.Marshal([]int(state.LastAngles))
		if err != nil {
			return errors.Wrap(err, "encode last angles")
		}
		angles = sql.NullString{String: string(data), Valid: true}
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO robot_state (id, ip_address, last_angles, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ip_address = excluded.ip_address,
			last_angles = excluded.last_angles,
			updated_at = excluded.updated_at
	`, state.Address, angles, updated.Unix())
	return errors.Wrap(err, "save robot state")
}
