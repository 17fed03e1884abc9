package main

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dofbot/pkg/camera"
	"github.com/gwillem/dofbot/pkg/config"
	"github.com/gwillem/dofbot/pkg/link"
	"github.com/gwillem/dofbot/pkg/playback"
	"github.com/gwillem/dofbot/pkg/queue"
	"github.com/gwillem/dofbot/pkg/robot"
	"github.com/gwillem/dofbot/pkg/server"
)

type panelFixture struct {
	arm   *robot.SimArm
	store *queue.Store
}

func newTestPanel(t *testing.T, cam camera.Capturer) (panelModel, *panelFixture) {
	t.Helper()

	arm := robot.NewSimArm()
	srv := httptest.NewServer(server.New(arm, cam, server.Config{}, nil).Routes())
	t.Cleanup(srv.Close)

	client := link.New(link.Config{Address: srv.URL, Timeout: 5 * time.Second})
	store := queue.NewStore()
	driver := playback.New(store, client, playback.Config{StepDelay: time.Millisecond})
	t.Cleanup(driver.Close)

	cfg := config.Default().Panel
	cfg.SnapshotDir = t.TempDir()

	m := newPanelModel(cfg, client, store, driver, nil, make(chan queue.Change, 64))
	m.moveTime = 100 * time.Millisecond
	return m, &panelFixture{arm: arm, store: store}
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func press(t *testing.T, m panelModel, k string) (panelModel, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(keyMsg(k))
	return updated.(panelModel), cmd
}

// run executes cmd synchronously and feeds its message back into the model.
func run(t *testing.T, m panelModel, cmd tea.Cmd) panelModel {
	t.Helper()
	require.NotNil(t, cmd)
	updated, _ := m.Update(cmd())
	return updated.(panelModel)
}

func connect(t *testing.T, m panelModel) panelModel {
	t.Helper()
	m = run(t, m, m.startRobot(opConnect, "Connecting..."))
	require.True(t, m.client.Connected())
	return m
}

func TestPanel_ConnectAndSet(t *testing.T) {
	m, fx := newTestPanel(t, nil)

	m = connect(t, m)
	assert.Equal(t, "Connected successfully", fx.store.Status())
	assert.Equal(t, robot.HomeAngles(), m.target)
	assert.Equal(t, robot.HomeAngles(), m.current)

	m, _ = press(t, m, "right")
	m, _ = press(t, m, "down")
	m, _ = press(t, m, "left")
	assert.Equal(t, robot.Angles{95, 85, 90, 90, 90, 90}, m.target)

	m, cmd := press(t, m, "enter")
	assert.Equal(t, "Moving servos...", fx.store.Status())
	assert.Equal(t, string(opSet), m.busy)

	// a second request while one is in flight is ignored
	_, again := press(t, m, "enter")
	assert.Nil(t, again)

	m = run(t, m, cmd)
	assert.Equal(t, "Movement completed", fx.store.Status())
	assert.Empty(t, m.busy)
	assert.Equal(t, robot.Angles{95, 85, 90, 90, 90, 90}, m.current)

	moves := fx.arm.Moves()
	require.Len(t, moves, 1)
	assert.Equal(t, robot.Angles{95, 85, 90, 90, 90, 90}, moves[0].Angles)
	assert.Equal(t, 100*time.Millisecond, moves[0].Duration)
}

func TestPanel_Home(t *testing.T) {
	m, fx := newTestPanel(t, nil)
	m = connect(t, m)
	m.target = robot.Angles{10, 20, 30, 40, 50, 60}

	m, cmd := press(t, m, "H")
	assert.Equal(t, "Moving to home position...", fx.store.Status())
	m = run(t, m, cmd)

	assert.Equal(t, "Moved to home position", fx.store.Status())
	assert.Equal(t, robot.HomeAngles(), m.target)
}

func TestPanel_RequiresConnection(t *testing.T) {
	m, fx := newTestPanel(t, nil)

	for _, k := range []string{"enter", "H", "r", "i"} {
		_, cmd := press(t, m, k)
		assert.Nil(t, cmd, k)
		assert.Equal(t, playback.StatusNotConnected, fx.store.Status(), k)
	}
	assert.Empty(t, fx.arm.Moves())
}

func TestPanel_MoveFailure(t *testing.T) {
	m, fx := newTestPanel(t, nil)
	m = connect(t, m)
	fx.arm.SetFault(robot.ErrSimFault)

	m, cmd := press(t, m, "enter")
	m = run(t, m, cmd)

	assert.True(t, strings.HasPrefix(fx.store.Status(), "Error setting angles: "), fx.store.Status())
	assert.Empty(t, m.busy)
	assert.NotEmpty(t, m.logs)
}

func TestPanel_AdjustClampsToSafeRange(t *testing.T) {
	m, _ := newTestPanel(t, nil)
	m.target = robot.Angles{168, 90, 90, 90, 90, 12}

	m, _ = press(t, m, "right")
	assert.Equal(t, 170, m.target[0])
	m, _ = press(t, m, "right")
	assert.Equal(t, 170, m.target[0])

	m, _ = press(t, m, "up") // wraps to the gripper
	assert.Equal(t, robot.NumJoints-1, m.joint)
	m, _ = press(t, m, "left")
	assert.Equal(t, 10, m.target[5])
}

func TestPanel_MoveTime(t *testing.T) {
	m, _ := newTestPanel(t, nil)

	m, _ = press(t, m, "[")
	assert.Equal(t, 100*time.Millisecond, m.moveTime)
	m, _ = press(t, m, "]")
	m, _ = press(t, m, "]")
	assert.Equal(t, 300*time.Millisecond, m.moveTime)

	m.moveTime = 5000 * time.Millisecond
	m, _ = press(t, m, "]")
	assert.Equal(t, 5000*time.Millisecond, m.moveTime)
}

func TestPanel_QueueEditing(t *testing.T) {
	m, fx := newTestPanel(t, nil)

	m, _ = press(t, m, "a")
	m.target = robot.Angles{10, 20, 30, 40, 50, 60}
	m, _ = press(t, m, "a")
	require.Equal(t, 2, fx.store.Len())
	assert.Equal(t, 1, m.row)

	m, _ = press(t, m, "tab")
	m, _ = press(t, m, "right")
	pos, _ := fx.store.At(1)
	assert.Equal(t, 200*time.Millisecond, pos.Duration)

	m, _ = press(t, m, "left")
	m, _ = press(t, m, "left")
	pos, _ = fx.store.At(1)
	assert.Equal(t, queue.MinDuration, pos.Duration)

	m, _ = press(t, m, "up")
	m, _ = press(t, m, "u")
	assert.Equal(t, robot.HomeAngles(), m.target)

	m, _ = press(t, m, "down")
	m, _ = press(t, m, "u")
	assert.Equal(t, robot.Angles{10, 20, 30, 40, 50, 60}, m.target)

	m, _ = press(t, m, "x")
	assert.Equal(t, 1, fx.store.Len())
	assert.Equal(t, 0, m.row)

	m, _ = press(t, m, "o")
	assert.True(t, fx.store.Looping())

	m, _ = press(t, m, "C")
	assert.Equal(t, 0, fx.store.Len())
	assert.Contains(t, m.View(), "Queue: 0 positions")
}

func TestPanel_ControlsLockedWhilePlaying(t *testing.T) {
	m, fx := newTestPanel(t, nil)
	m = connect(t, m)

	m.moveTime = 2 * time.Second
	m, _ = press(t, m, "a")
	m, _ = press(t, m, "a")

	m, _ = press(t, m, "p")
	require.True(t, fx.store.Playing())
	updated, _ := m.Update(changeMsg(queue.Change{Kind: queue.PlayingChanged, Playing: true}))
	m = updated.(panelModel)

	target := m.target.Clone()
	for _, k := range []string{"a", "C", "o", "right", "[", "H", "enter", "c"} {
		var cmd tea.Cmd
		m, cmd = press(t, m, k)
		assert.Nil(t, cmd, k)
	}
	assert.Equal(t, 2, fx.store.Len())
	assert.False(t, fx.store.Looping())
	assert.Equal(t, target, m.target)
	assert.Contains(t, m.help(), "p stop")

	m, _ = press(t, m, "p")
	assert.False(t, fx.store.Playing())
}

func TestPanel_PlayEmptyQueue(t *testing.T) {
	m, fx := newTestPanel(t, nil)

	m, _ = press(t, m, "p")
	assert.False(t, fx.store.Playing())
	require.NotEmpty(t, m.logs)
	assert.Contains(t, m.logs[len(m.logs)-1], "queue is empty")
}

func TestPanel_Snapshot(t *testing.T) {
	t.Run("saves image", func(t *testing.T) {
		m, fx := newTestPanel(t, camera.NewTestPattern(64, 48))
		m = connect(t, m)

		m, cmd := press(t, m, "i")
		m = run(t, m, cmd)

		require.True(t, strings.HasPrefix(fx.store.Status(), "Image saved to "), fx.store.Status())
		path := strings.TrimPrefix(fx.store.Status(), "Image saved to ")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])
	})

	t.Run("no camera", func(t *testing.T) {
		m, fx := newTestPanel(t, nil)
		m = connect(t, m)

		m, cmd := press(t, m, "i")
		run(t, m, cmd)

		assert.True(t, strings.HasPrefix(fx.store.Status(), "Error capturing image: "), fx.store.Status())
	})
}

func TestPanel_View(t *testing.T) {
	m, _ := newTestPanel(t, nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	m = updated.(panelModel)

	view := m.View()
	assert.Contains(t, view, "Dofbot Control Panel")
	assert.Contains(t, view, "disconnected")
	assert.Contains(t, view, "Wrist Rotation")
	assert.Contains(t, view, "10-260")
}

func TestClampMoveTime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{100 * time.Millisecond, 100 * time.Millisecond},
		{1500 * time.Millisecond, 1500 * time.Millisecond},
		{time.Minute, 5000 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampMoveTime(tt.in))
	}
}
