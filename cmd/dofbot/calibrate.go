package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/cockroachdb/errors"
	"github.com/hipsterbrown/feetech-servo/feetech"

	"github.com/gwillem/dofbot/pkg/robot"
)

// wrist roll servo travels further than the others
const wristRollSpan = 270

type CalibrateCommand struct {
	Port   string `short:"p" long:"port" description:"Serial port of the arm (default: choose from the ports found)"`
	Output string `short:"o" long:"output" default:"dofbot-arm.json" description:"Arm calibration file to write"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Dofbot Calibrate"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	if robot.ArmConfigExists(c.Output) {
		overwrite, err := confirmOverwrite(c.Output)
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Calibration cancelled.")
			return nil
		}
	}

	port := c.Port
	if port == "" {
		var err error
		if port, err = choosePort(); err != nil {
			return err
		}
	}

	cal, err := calibrateArm(port)
	if err != nil {
		return err
	}

	cfg := &robot.ArmConfig{Port: port, Calibration: cal}
	if err := cfg.SaveTo(c.Output); err != nil {
		return errors.Wrap(err, "save calibration")
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Calibration complete!"))
	fmt.Printf("Saved to %s\n", c.Output)
	fmt.Println("Start the robot server with: " + headerStyle.Render("dofbot serve"))
	return nil
}

func confirmOverwrite(path string) (bool, error) {
	var overwrite bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
				Description("The current port and calibration will be replaced").
				Affirmative("Overwrite").
				Negative("Cancel").
				Value(&overwrite),
		),
	)
	if err := form.Run(); err != nil {
		return false, errors.Wrap(err, "confirm overwrite")
	}
	return overwrite, nil
}

// choosePort scans for arms and lets the user pick one when several are found.
func choosePort() (string, error) {
	fmt.Println("Scanning for arms...")
	arms := findArms()
	for _, arm := range arms {
		arm.bus.Close()
	}

	switch len(arms) {
	case 0:
		return "", errors.New("no 6-servo arm found; is it connected and powered on?")
	case 1:
		return arms[0].port, nil
	}

	options := make([]huh.Option[string], 0, len(arms))
	for _, arm := range arms {
		options = append(options, huh.NewOption(arm.port, arm.port))
	}
	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the Dofbot on?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return port, nil
}

func calibrateArm(port string) (robot.Calibration, error) {
	fmt.Printf("Calibrating arm on %s\n\n", port)

	bus, servos, err := connectToArm(port)
	if err != nil {
		return nil, errors.Wrap(err, "connect to arm")
	}
	defer bus.Close()

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Disable all servos so user can move arm freely
	ctx := context.Background()
	for _, servo := range servoMap {
		_ = servo.Disable(ctx)
	}

	joints := robot.AllJoints()

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println()

	cur := make(map[robot.Joint]int)
	lo := make(map[robot.Joint]int)
	hi := make(map[robot.Joint]int)
	for i, joint := range joints {
		pos, err := servoMap[i+1].Position(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", joint)
		}
		cur[joint], lo[joint], hi[joint] = pos, pos, pos
	}

	model := newCalibrationModel(joints, servoMap, cur, lo, hi)
	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, errors.Wrap(err, "run calibration")
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		return nil, errors.New("calibration aborted")
	}

	cal := make(robot.Calibration, len(joints))
	for i, joint := range joints {
		mc := robot.MotorCalibration{
			ID:       i + 1,
			RangeMin: cm.minPositions[joint],
			RangeMax: cm.maxPositions[joint],
		}
		if joint == robot.WristRoll {
			mc.Span = wristRollSpan
		}
		if mc.RangeMax <= mc.RangeMin {
			return nil, errors.Newf("%s was not moved; its range is empty", joint.Label())
		}
		cal[joint] = mc
	}
	return cal, nil
}

func connectToArm(port string) (*feetech.Bus, []feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := openBus(port)
	if err != nil {
		return nil, nil, err
	}

	servos, err := bus.Scan(ctx, 1, robot.NumJoints)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	if !isDofbot(servos) {
		bus.Close()
		return nil, nil, errors.New("not a Dofbot (expected 6 servos with IDs 1-6)")
	}
	return bus, servos, nil
}

// Calibration TUI model
type calibrationModel struct {
	joints       []robot.Joint
	servoMap     map[int]*feetech.Servo
	curPositions map[robot.Joint]int
	minPositions map[robot.Joint]int
	maxPositions map[robot.Joint]int
	quitting     bool
	aborted      bool
}

type calTickMsg time.Time

func newCalibrationModel(
	joints []robot.Joint,
	servoMap map[int]*feetech.Servo,
	curPositions, minPositions, maxPositions map[robot.Joint]int,
) calibrationModel {
	return calibrationModel{
		joints:       joints,
		servoMap:     servoMap,
		curPositions: curPositions,
		minPositions: minPositions,
		maxPositions: maxPositions,
	}
}

func calTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return calTickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return calTick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.quitting = true
			return m, tea.Quit
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case calTickMsg:
		ctx := context.Background()
		for i, joint := range m.joints {
			pos, err := m.servoMap[i+1].Position(ctx)
			if err != nil {
				continue
			}
			m.curPositions[joint] = pos
			m.minPositions[joint] = min(m.minPositions[joint], pos)
			m.maxPositions[joint] = max(m.maxPositions[joint], pos)
		}
		return m, calTick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.joints))
	ranges := make([]int, 0, len(m.joints))
	for i, joint := range m.joints {
		rangeSize := m.maxPositions[joint] - m.minPositions[joint]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			fmt.Sprintf("%d %s", i+1, joint.Label()),
			fmt.Sprintf("%d", m.curPositions[joint]),
			fmt.Sprintf("%d", m.minPositions[joint]),
			fmt.Sprintf("%d", m.maxPositions[joint]),
			fmt.Sprintf("%d", rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableJointStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Enter to save, q to abort"))
	return sb.String()
}
