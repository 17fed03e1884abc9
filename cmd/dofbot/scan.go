package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/cockroachdb/errors"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/dofbot/pkg/robot"
)

type ScanCommand struct {
	Wiggle bool   `long:"wiggle" description:"Wiggle the base of each arm found and ask which one to keep"`
	Output string `short:"o" long:"output" default:"dofbot-arm.json" description:"Arm file to store the chosen port in (with --wiggle)"`
}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Dofbot Scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()
	fmt.Println("Scanning serial ports...")
	fmt.Println()

	arms := findArms()
	if len(arms) == 0 {
		fmt.Println("No 6-servo arm found.")
		fmt.Println("Make sure the arm is connected and powered on.")
		return nil
	}
	fmt.Printf("\nFound %d arm(s).\n", len(arms))

	if !c.Wiggle {
		for _, arm := range arms {
			arm.bus.Close()
		}
		return nil
	}

	var chosen string
	for _, arm := range arms {
		if chosen != "" {
			arm.bus.Close()
			continue
		}
		ok, err := identifyArmWithWiggle(arm)
		if err != nil {
			return err
		}
		if ok {
			chosen = arm.port
		}
	}
	if chosen == "" {
		fmt.Println("No arm selected.")
		return nil
	}

	cfg := &robot.ArmConfig{Port: chosen}
	if existing, err := robot.LoadArmConfig(c.Output); err == nil {
		existing.Port = chosen
		cfg = existing
	}
	if err := cfg.SaveTo(c.Output); err != nil {
		return errors.Wrap(err, "save arm file")
	}
	fmt.Println(successStyle.Render("Port saved to " + c.Output))
	if !cfg.IsCalibrated() {
		fmt.Println("Next: " + headerStyle.Render("dofbot calibrate"))
	}
	return nil
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func openBus(port string) (*feetech.Bus, error) {
	return feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
}

// findArms returns every serial port with servos 1..6 on it. The buses are
// left open; the caller closes them.
func findArms() []armInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Error listing ports: %v", err)))
		return nil
	}

	var arms []armInfo
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, err := openBus(port)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := bus.Scan(ctx, 1, robot.NumJoints)
		cancel()
		if err != nil || !isDofbot(servos) {
			fmt.Println(dimStyle.Render("  " + port + ": no arm"))
			bus.Close()
			continue
		}

		fmt.Printf("  Found arm on %s\n", port)
		arms = append(arms, armInfo{port: port, servos: servos, bus: bus})
	}
	return arms
}

// isDofbot reports whether servos are exactly IDs 1..6.
func isDofbot(servos []feetech.FoundServo) bool {
	if len(servos) != robot.NumJoints {
		return false
	}
	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}
	for i := 1; i <= robot.NumJoints; i++ {
		if !ids[i] {
			return false
		}
	}
	return true
}

// identifyArmWithWiggle moves the base servo a little and asks whether this
// is the arm to use.
func identifyArmWithWiggle(arm armInfo) (bool, error) {
	defer arm.bus.Close()
	ctx := context.Background()

	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return false, nil
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "read position on %s", arm.port)
	}
	if err := servo.Enable(ctx); err != nil {
		return false, errors.Wrapf(err, "enable servo on %s", arm.port)
	}

	fmt.Printf("\n  Wiggling base on %s...\n", arm.port)
	const wiggleAmount, moveTimeMs = 30, 500
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		if err := servo.SetPositionWithTime(ctx, pos, moveTimeMs); err != nil {
			fmt.Println(errorStyle.Render(fmt.Sprintf("  move failed: %v", err)))
			break
		}
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	_ = servo.Disable(ctx)

	var use bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Use the arm on %s?", arm.port)).
				Description("The arm whose base just wiggled").
				Affirmative("Yes").
				Negative("No").
				Value(&use),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return use, nil
}
