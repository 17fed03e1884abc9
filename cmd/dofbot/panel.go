package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/adrg/xdg"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gwillem/dofbot/pkg/config"
	"github.com/gwillem/dofbot/pkg/link"
	"github.com/gwillem/dofbot/pkg/playback"
	"github.com/gwillem/dofbot/pkg/queue"
	"github.com/gwillem/dofbot/pkg/robot"
	"github.com/gwillem/dofbot/pkg/session"
)

const (
	headerHeight  = 2  // title + blank line
	tablesHeight  = 11 // joint table and queue table
	legendHeight  = 2  // legend row + blank
	footerHeight  = 9  // log box, status and help lines
	maxLogs       = 5  // number of log messages to show
	borderSize    = 2  // chart border
	queueRows     = 6  // visible queue rows
	tickInterval  = 500 * time.Millisecond
	durationStep  = 100 * time.Millisecond
	moveTimeStep  = 100 * time.Millisecond
	minMoveTime   = 100 * time.Millisecond
	maxMoveTime   = 5000 * time.Millisecond
	chartMaxAngle = 270
)

// Joint colors, one per servo
var jointColors = map[robot.Joint]string{
	robot.Base:       "196", // red
	robot.Shoulder:   "208", // orange
	robot.Elbow:      "226", // yellow
	robot.WristPitch: "46",  // green
	robot.WristRoll:  "51",  // cyan
	robot.Gripper:    "201", // magenta
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("12"))
	playingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	cellStyle     = lipgloss.NewStyle().Padding(0, 1)
)

type panelKeys struct {
	Up, Down, Left, Right  key.Binding
	Slower, Faster         key.Binding
	Focus                  key.Binding
	Set, Home, Refresh     key.Binding
	Connect, Snapshot      key.Binding
	Add, Remove, Clear     key.Binding
	Loop, Load, Play, Quit key.Binding
}

var keys = panelKeys{
	Up:       key.NewBinding(key.WithKeys("up", "k")),
	Down:     key.NewBinding(key.WithKeys("down", "j")),
	Left:     key.NewBinding(key.WithKeys("left", "h")),
	Right:    key.NewBinding(key.WithKeys("right", "l")),
	Slower:   key.NewBinding(key.WithKeys("]")),
	Faster:   key.NewBinding(key.WithKeys("[")),
	Focus:    key.NewBinding(key.WithKeys("tab")),
	Set:      key.NewBinding(key.WithKeys("enter")),
	Home:     key.NewBinding(key.WithKeys("H")),
	Refresh:  key.NewBinding(key.WithKeys("r")),
	Connect:  key.NewBinding(key.WithKeys("c")),
	Snapshot: key.NewBinding(key.WithKeys("i")),
	Add:      key.NewBinding(key.WithKeys("a")),
	Remove:   key.NewBinding(key.WithKeys("x", "delete")),
	Clear:    key.NewBinding(key.WithKeys("C")),
	Loop:     key.NewBinding(key.WithKeys("o")),
	Load:     key.NewBinding(key.WithKeys("u")),
	Play:     key.NewBinding(key.WithKeys("p", " ")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

type PanelCommand struct {
	Address string `short:"a" long:"address" description:"Robot address, host or host:port (default: config, then last session)"`
	Prompt  bool   `long:"prompt" description:"Ask for the robot address even when one is known"`
}

func (c *PanelCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logPath, err := xdg.StateFile("dofbot/panel.log")
	if err != nil {
		return errors.Wrap(err, "resolve log path")
	}
	closeLog, err := initLogger(cfg, "file", logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	sess, err := session.OpenDefault()
	if err != nil {
		return err
	}
	defer sess.Close()

	saved, err := sess.Load()
	if err != nil {
		zlog.Warn().Err(err).Msg("load session")
	}

	address := c.Address
	if address == "" {
		address = cfg.Robot.Address
	}
	if address == "" && saved != nil {
		address = saved.Address
	}
	if address == "" || c.Prompt {
		if address, err = promptAddress(address); err != nil {
			return err
		}
	}

	client := link.New(link.Config{Address: address, Port: cfg.Robot.Port, Timeout: cfg.Robot.Timeout})
	store := queue.NewStore()
	store.ResetPlayback()

	driver := playback.New(store, client, playback.Config{
		StepDelay:          cfg.Panel.StepDelay(),
		ReconnectOnFailure: cfg.Panel.ReconnectOnFailure,
	})
	defer driver.Close()

	// A dropped notification is harmless: the model re-reads the snapshot.
	changes := make(chan queue.Change, 64)
	cancel := store.Observe(func(ch queue.Change) {
		select {
		case changes <- ch:
		default:
		}
	})
	defer cancel()

	m := newPanelModel(cfg.Panel, client, store, driver, sess, changes)
	if saved != nil && saved.LastAngles.Validate() == nil {
		m.target = saved.LastAngles.Clamp()
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return errors.Wrap(err, "run panel")
	}
	return nil
}

func promptAddress(current string) (string, error) {
	address := current
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Robot address").
				Description("IP or hostname of the computer running 'dofbot serve'").
				Value(&address).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("address is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return "", errors.Wrap(err, "address prompt")
	}
	return strings.TrimSpace(address), nil
}

type focusArea int

const (
	focusJoints focusArea = iota
	focusQueue
)

type panelModel struct {
	cfg     config.PanelConfig
	client  *link.Client
	store   *queue.Store
	driver  *playback.Driver
	sess    *session.Manager
	changes <-chan queue.Change

	snap     queue.Snapshot
	current  robot.Angles // last angles reported by the robot
	target   robot.Angles // angles sent by Set and recorded by Add
	moveTime time.Duration
	joint    int
	row      int
	focus    focusArea
	busy     string // robot request in flight, "" when idle

	chart    *streamlinechart.Model
	charted  robot.Angles
	logs     []string
	width    int
	height   int
	quitting bool
}

// Messages delivered to the model
type (
	changeMsg   queue.Change
	logMsg      string
	tickMsg     time.Time
	snapshotMsg struct {
		path string
		err  error
	}
	robotMsg struct {
		op     robotOp
		angles robot.Angles
		err    error
	}
)

type robotOp string

const (
	opConnect robotOp = "connect"
	opRefresh robotOp = "refresh"
	opSet     robotOp = "set"
	opHome    robotOp = "home"
)

func newPanelModel(cfg config.PanelConfig, client *link.Client, store *queue.Store, driver *playback.Driver, sess *session.Manager, changes <-chan queue.Change) panelModel {
	chart := streamlinechart.New(80, 10,
		streamlinechart.WithYRange(0, chartMaxAngle),
	)
	for _, j := range robot.AllJoints() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j]))
		chart.SetDataSetStyles(string(j), runes.ThinLineStyle, style)
	}

	return panelModel{
		cfg:      cfg,
		client:   client,
		store:    store,
		driver:   driver,
		sess:     sess,
		changes:  changes,
		snap:     store.Snapshot(),
		target:   robot.HomeAngles(),
		moveTime: clampMoveTime(cfg.MoveTime()),
		chart:    &chart,
	}
}

func waitForChange(ch <-chan queue.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return changeMsg(c)
	}
}

func waitForLog(d *playback.Driver) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-d.Logs())
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m panelModel) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForChange(m.changes), waitForLog(m.driver), tick()}
	if m.client.Address() != "" {
		m.store.SetStatus("Connecting...")
		cmds = append(cmds, m.robotCmd(opConnect))
	}
	return tea.Batch(cmds...)
}

func (m *panelModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *panelModel) logf(format string, args ...any) {
	m.addLog(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...)))
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *panelModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 10
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - tablesHeight - legendHeight - footerHeight - borderSize
	if height < 5 {
		height = 5
	}
	return width, height
}

func (m *panelModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
	m.chart.DrawAll()
}

// pushChart appends the current angles to the chart when they changed since
// the last push, or on every tick while the queue plays.
func (m *panelModel) pushChart(force bool) {
	if m.current == nil || (!force && m.current.Equal(m.charted)) {
		return
	}
	for i, j := range robot.AllJoints() {
		m.chart.PushDataSet(string(j), float64(m.current[i]))
	}
	m.chart.DrawAll()
	m.charted = m.current.Clone()
}

// robotCmd runs a robot request off the UI goroutine.
func (m panelModel) robotCmd(op robotOp) tea.Cmd {
	client := m.client
	target := m.target.Clone()
	d := m.moveTime
	return func() tea.Msg {
		ctx := context.Background()
		var (
			angles robot.Angles
			err    error
		)
		switch op {
		case opConnect:
			angles, err = client.Connect(ctx)
		case opRefresh:
			angles, err = client.RefreshAngles(ctx)
		case opSet:
			angles, err = client.SetAngles(ctx, target, d)
		case opHome:
			angles, err = client.Home(ctx)
		}
		return robotMsg{op: op, angles: angles, err: err}
	}
}

func (m panelModel) snapshotCmd() tea.Cmd {
	client := m.client
	dir := m.cfg.SnapshotDir
	return func() tea.Msg {
		frame, err := client.Image(context.Background())
		if err != nil {
			return snapshotMsg{err: err}
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return snapshotMsg{err: errors.Wrap(err, "create snapshot directory")}
		}
		path := filepath.Join(dir, "dofbot-"+time.Now().Format("20060102-150405")+".jpg")
		if err := os.WriteFile(path, frame, 0o644); err != nil {
			return snapshotMsg{err: errors.Wrap(err, "write snapshot")}
		}
		return snapshotMsg{path: path}
	}
}

// startRobot marks op as in flight and returns its command, or nil when a
// request is already running or the robot is not connected.
func (m *panelModel) startRobot(op robotOp, status string) tea.Cmd {
	if m.busy != "" {
		return nil
	}
	if op != opConnect && !m.client.Connected() {
		m.store.SetStatus(playback.StatusNotConnected)
		return nil
	}
	m.busy = string(op)
	if status != "" {
		m.store.SetStatus(status)
	}
	return m.robotCmd(op)
}

func (m panelModel) saveSession() {
	if m.sess == nil {
		return
	}
	m.sess.Save(session.RobotState{Address: m.client.Address(), LastAngles: m.current})
}

func (m panelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case changeMsg:
		m.snap = m.store.Snapshot()
		m.clampRow()
		if msg.Kind == queue.PlayingChanged && !msg.Playing {
			// the driver moved the arm; show where it ended up
			m.current = m.client.CurrentAngles()
			m.pushChart(false)
		}
		return m, waitForChange(m.changes)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.driver)

	case tickMsg:
		if m.snap.Playing {
			m.current = m.client.CurrentAngles()
			m.pushChart(true)
		}
		return m, tick()

	case robotMsg:
		m.handleRobot(msg)
		return m, nil

	case snapshotMsg:
		if msg.err != nil {
			m.store.SetStatus("Error capturing image: " + msg.err.Error())
		} else {
			m.store.SetStatus("Image saved to " + msg.path)
		}
		return m, nil
	}

	return m, nil
}

func (m *panelModel) handleRobot(msg robotMsg) {
	m.busy = ""
	if msg.err != nil {
		zlog.Warn().Err(msg.err).Str("op", string(msg.op)).Msg("robot request failed")
		switch msg.op {
		case opConnect:
			m.store.SetStatus("Error: " + msg.err.Error())
		case opRefresh:
			m.store.SetStatus("Error refreshing angles: " + msg.err.Error())
		case opSet:
			m.store.SetStatus("Error setting angles: " + msg.err.Error())
		case opHome:
			m.store.SetStatus("Error moving to home: " + msg.err.Error())
		}
		m.logf("%s failed: %v", msg.op, msg.err)
		return
	}

	m.current = msg.angles.Clone()
	m.pushChart(false)
	switch msg.op {
	case opConnect:
		m.target = msg.angles.Clamp()
		m.store.SetStatus("Connected successfully")
		m.logf("Connected to %s", m.client.Address())
	case opRefresh:
		m.target = msg.angles.Clamp()
		m.logf("Angles %s", msg.angles)
	case opSet:
		m.store.SetStatus("Movement completed")
	case opHome:
		m.target = msg.angles.Clamp()
		m.store.SetStatus("Moved to home position")
	}
	m.saveSession()
}

// handleKey dispatches a key press. Controls that would move the arm or edit
// the queue are ignored while the queue plays.
func (m panelModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	playing := m.snap.Playing

	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, keys.Focus):
		if m.focus == focusJoints {
			m.focus = focusQueue
		} else {
			m.focus = focusJoints
		}

	case key.Matches(msg, keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, keys.Play):
		if playing {
			m.driver.Stop()
			break
		}
		if err := m.driver.Start(); err != nil && !errors.Is(err, playback.ErrInvalidPosition) {
			m.logf("Cannot play: %v", err)
		}

	case key.Matches(msg, keys.Refresh):
		return m, m.startRobot(opRefresh, "")

	case key.Matches(msg, keys.Snapshot):
		if !m.client.Connected() {
			m.store.SetStatus(playback.StatusNotConnected)
			break
		}
		return m, m.snapshotCmd()

	case playing:
		m.logf("Stop playback first")

	case key.Matches(msg, keys.Left):
		m.adjust(-1)

	case key.Matches(msg, keys.Right):
		m.adjust(1)

	case key.Matches(msg, keys.Faster):
		m.moveTime = clampMoveTime(m.moveTime - moveTimeStep)

	case key.Matches(msg, keys.Slower):
		m.moveTime = clampMoveTime(m.moveTime + moveTimeStep)

	case key.Matches(msg, keys.Connect):
		return m, m.startRobot(opConnect, "Connecting...")

	case key.Matches(msg, keys.Set):
		return m, m.startRobot(opSet, "Moving servos...")

	case key.Matches(msg, keys.Home):
		return m, m.startRobot(opHome, "Moving to home position...")

	case key.Matches(msg, keys.Add):
		if err := m.store.Append(m.target.Clone(), m.moveTime); err != nil {
			m.logf("Add failed: %v", err)
			break
		}
		m.snap = m.store.Snapshot()
		m.row = len(m.snap.Positions) - 1

	case key.Matches(msg, keys.Remove):
		if m.focus == focusQueue {
			m.store.RemoveAt(m.row)
			m.snap = m.store.Snapshot()
			m.clampRow()
		}

	case key.Matches(msg, keys.Clear):
		m.store.Clear()
		m.snap = m.store.Snapshot()
		m.row = 0

	case key.Matches(msg, keys.Loop):
		m.store.SetLooping(!m.snap.Looping)

	case key.Matches(msg, keys.Load):
		if pos, ok := m.store.At(m.row); ok && pos.Valid() {
			m.target = pos.Angles.Clone()
			m.moveTime = clampMoveTime(pos.Duration)
		}
	}

	return m, nil
}

func (m *panelModel) moveCursor(delta int) {
	if m.focus == focusJoints {
		m.joint = (m.joint + delta + robot.NumJoints) % robot.NumJoints
		return
	}
	m.row += delta
	m.clampRow()
}

func (m *panelModel) clampRow() {
	n := len(m.snap.Positions)
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}

// adjust steps the selected joint target, or the selected queue duration.
func (m *panelModel) adjust(dir int) {
	if m.focus == focusQueue {
		pos, ok := m.store.At(m.row)
		if !ok {
			return
		}
		m.store.UpdateDuration(m.row, pos.Duration+time.Duration(dir)*durationStep)
		m.snap = m.store.Snapshot()
		return
	}
	r := robot.SafeRanges[m.joint]
	m.target[m.joint] = r.Clamp(m.target[m.joint] + dir*m.cfg.StepDegrees)
}

func clampMoveTime(d time.Duration) time.Duration {
	if d < minMoveTime {
		return minMoveTime
	}
	if d > maxMoveTime {
		return maxMoveTime
	}
	return d
}

func (m panelModel) View() string {
	if m.quitting {
		return "Control panel closed.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Dofbot Control Panel"))
	addr := m.client.Address()
	if addr == "" {
		addr = "no address"
	}
	conn := errorStyle.Render("disconnected")
	if m.client.Connected() {
		conn = successStyle.Render("connected")
	}
	sb.WriteString(fmt.Sprintf(" - %s %s", addr, conn))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  move %dms", m.moveTime.Milliseconds())))
	sb.WriteString("\n\n")

	// Tables
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderJoints(), "  ", m.renderQueue()))
	sb.WriteString("\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240"))
	if m.width > 4 {
		logStyle = logStyle.Width(m.width - 4)
	}
	logLines := statusStyle.Render("No activity yet")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	// Status
	status := m.snap.Status
	switch {
	case strings.HasPrefix(status, "Error"):
		status = errorStyle.Render(status)
	case m.busy != "":
		status = subHeaderStyle.Render(status)
	}
	sb.WriteString(status)
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(m.help()))
	return sb.String()
}

func (m panelModel) help() string {
	if m.snap.Playing {
		return "p stop  ↑/↓ select  r refresh  i image  q quit"
	}
	if m.focus == focusQueue {
		return "←/→ duration  x remove  u load  C clear  o loop  p play  tab joints  q quit"
	}
	return "←/→ angle  [/] move time  enter set  H home  a add  c connect  r refresh  i image  p play  tab queue  q quit"
}

func (m panelModel) renderJoints() string {
	rows := make([][]string, 0, robot.NumJoints)
	for i, j := range robot.AllJoints() {
		r := robot.SafeRanges[i]
		current := "-"
		if i < len(m.current) {
			current = strconv.Itoa(m.current[i]) + "°"
		}
		rows = append(rows, []string{
			j.Label(),
			fmt.Sprintf("%d-%d", r.Min, r.Max),
			current,
			strconv.Itoa(m.target[i]) + "°",
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("Joint", "Range", "Current", "Target").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true).Foreground(lipgloss.Color("14"))
			}
			if row == m.joint && m.focus == focusJoints && !m.snap.Playing {
				return cellStyle.Inherit(selectedStyle)
			}
			if col == 0 {
				return cellStyle.Foreground(lipgloss.Color(jointColors[robot.AllJoints()[row]]))
			}
			return cellStyle
		})
	return t.Render()
}

func (m panelModel) renderQueue() string {
	positions := m.snap.Positions
	start := 0
	if m.row >= queueRows {
		start = m.row - queueRows + 1
	}
	end := min(start+queueRows, len(positions))

	rows := make([][]string, 0, queueRows)
	for i := start; i < end; i++ {
		p := positions[i]
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			p.Angles.String(),
			fmt.Sprintf("%dms", p.Duration.Milliseconds()),
		})
	}
	for len(rows) < queueRows {
		rows = append(rows, []string{"", "", ""})
	}

	total := m.store.TotalDuration()
	loop := "off"
	if m.snap.Looping {
		loop = "on"
	}
	title := fmt.Sprintf("Queue: %d positions, %.1fs, loop %s", len(positions), total.Seconds(), loop)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("#", "Angles", "Time").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return cellStyle.Bold(true).Foreground(lipgloss.Color("14"))
			}
			i := start + row
			switch {
			case i >= len(positions):
				return cellStyle
			case m.snap.Playing && i == m.snap.Index:
				return cellStyle.Inherit(playingStyle)
			case m.focus == focusQueue && i == m.row:
				return cellStyle.Inherit(selectedStyle)
			}
			return cellStyle
		})
	return lipgloss.JoinVertical(lipgloss.Left, subHeaderStyle.Render(title), t.Render())
}

func renderLegend() string {
	var items []string
	for _, j := range robot.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+j.Label())
	}
	return strings.Join(items, "  ")
}
