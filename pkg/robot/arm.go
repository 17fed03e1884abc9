package robot

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hipsterbrown/feetech-servo/feetech"
)

// Arm drives the six servos of a Dofbot over a feetech serial bus.
type Arm struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	servos      map[int]*feetech.Servo
	calibration Calibration
}

// NewArm opens the serial bus and locates every calibrated servo on it.
func NewArm(ctx context.Context, port string, cal Calibration) (*Arm, error) {
	if !cal.Complete() {
		return nil, errors.New("calibration does not cover all joints")
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open bus")
	}

	ids := cal.MotorIDs()
	found, err := bus.Scan(ctx, minID(ids), maxID(ids))
	if err != nil {
		bus.Close()
		return nil, errors.Wrap(err, "scan bus")
	}

	servos := make(map[int]*feetech.Servo, len(found))
	for _, s := range found {
		servos[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}
	for _, id := range ids {
		if _, ok := servos[id]; !ok {
			bus.Close()
			return nil, errors.Newf("servo %d not found on %s", id, port)
		}
	}

	return &Arm{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, ids...),
		servos:      servos,
		calibration: cal,
	}, nil
}

// Close closes the arm's bus connection.
func (a *Arm) Close() error {
	return a.bus.Close()
}

// Enable enables torque on all servos.
func (a *Arm) Enable(ctx context.Context) error {
	return a.group.EnableAll(ctx)
}

// Disable disables torque on all servos.
func (a *Arm) Disable(ctx context.Context) error {
	return a.group.DisableAll(ctx)
}

// ReadAngles reads the current angle of every joint in degrees.
func (a *Arm) ReadAngles(ctx context.Context) (Angles, error) {
	rawPositions, err := a.group.Positions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read positions")
	}

	angles := make(Angles, NumJoints)
	for i, name := range AllJoints() {
		cal := a.calibration[name]
		raw, ok := rawPositions[cal.ID]
		if !ok {
			return nil, errors.Newf("no position for servo %d", cal.ID)
		}
		angles[i] = int(math.Round(cal.ToDegrees(raw)))
	}

	return angles, nil
}

// WriteAngles moves every joint to the given angle over d.
func (a *Arm) WriteAngles(ctx context.Context, angles Angles, d time.Duration) error {
	if err := angles.Validate(); err != nil {
		return err
	}

	ms := int(d / time.Millisecond)
	for i, name := range AllJoints() {
		cal := a.calibration[name]
		raw := cal.FromDegrees(float64(angles[i]))
		if err := a.servos[cal.ID].SetPositionWithTime(ctx, raw, ms); err != nil {
			return errors.Wrapf(err, "write %s", name)
		}
	}

	return nil
}

func minID(ids []int) int {
	m := ids[0]
	for _, id := range ids[1:] {
		if id < m {
			m = id
		}
	}
	return m
}

func maxID(ids []int) int {
	m := ids[0]
	for _, id := range ids[1:] {
		if id > m {
			m = id
		}
	}
	return m
}
