// Package toolhead orchestrates the kinematics, homing, heater, and servo
// layers behind a single monotonically increasing print-time cursor, the
// role Klipper's toolhead.py plays above corexy.py/homing.py. The G-code
// dispatcher talks only to this package for motion; it never touches
// kinematics or homing directly.
package toolhead

import (
	"fmt"
	"math"
	"time"

	"printerhost/heater"
	"printerhost/homing"
	"printerhost/kinematics"
	"printerhost/mcu"
	"printerhost/reactor"
	"printerhost/servo"
	"printerhost/stepper"
)

// Config bounds the single-move trapezoid planner: no cross-move lookahead
// is performed, matching the spec's stated non-goal.
type Config struct {
	MaxVelocity float64
	MaxAccel    float64
}

// Toolhead is the motion and temperature orchestration layer.
type Toolhead struct {
	reactor *reactor.Reactor
	mcu     mcu.MCU
	kin     *kinematics.CoreXY
	cfg     Config

	heaters map[string]*heater.Heater
	servos  *servo.Registry

	printTime float64
	position  [4]float64

	shutdown bool
}

// New creates a Toolhead bound to an already-constructed CoreXY kinematics
// object and the heater/servo objects it dispatches temperature and
// accessory commands to.
func New(r *reactor.Reactor, m mcu.MCU, kin *kinematics.CoreXY, cfg Config, heaters map[string]*heater.Heater, servos *servo.Registry) *Toolhead {
	return &Toolhead{
		reactor: r,
		mcu:     m,
		kin:     kin,
		cfg:     cfg,
		heaters: heaters,
		servos:  servos,
	}
}

// GetPosition returns the toolhead's last commanded X,Y,Z,E position.
func (t *Toolhead) GetPosition() [4]float64 { return t.position }

// Heater looks up a configured heater by name ("extruder", "heater_bed", ...).
func (t *Toolhead) Heater(name string) (*heater.Heater, bool) {
	h, ok := t.heaters[name]
	return h, ok
}

// Servos exposes the servo registry for M280.
func (t *Toolhead) Servos() *servo.Registry { return t.servos }

// buildMove constructs a single-segment trapezoidal Move from the
// toolhead's current position to newPos at the given speed, bounded by the
// configured max velocity/accel. No junction blending with any other move
// is performed.
func (t *Toolhead) buildMove(newPos [4]float64, speed float64) *kinematics.Move {
	start := t.position
	var axesD [4]float64
	var distSq float64
	for i := 0; i < 3; i++ {
		axesD[i] = newPos[i] - start[i]
		distSq += axesD[i] * axesD[i]
	}
	axesD[3] = newPos[3] - start[3]
	moveD := math.Sqrt(distSq)
	if moveD == 0 {
		moveD = math.Abs(axesD[3])
	}

	cruiseV := speed
	if cruiseV > t.cfg.MaxVelocity {
		cruiseV = t.cfg.MaxVelocity
	}
	accel := t.cfg.MaxAccel

	m := &kinematics.Move{StartPos: start, EndPos: newPos, AxesD: axesD, MoveD: moveD, Accel: accel, CruiseV: cruiseV}

	if moveD == 0 {
		m.AccelR, m.CruiseR, m.DecelR = 0, 1, 0
		m.CruiseT = 0
		return m
	}

	accelT := cruiseV / accel
	accelD := 0.5 * accel * accelT * accelT
	if 2*accelD >= moveD {
		accelT = math.Sqrt(moveD / accel)
		cruiseV = accel * accelT
		accelD = moveD / 2
		m.CruiseV = cruiseV
		m.AccelR = 0.5
		m.CruiseR = 0
		m.DecelR = 0.5
		m.AccelT = accelT
		m.CruiseT = 0
		m.DecelT = accelT
		return m
	}

	cruiseD := moveD - 2*accelD
	cruiseT := cruiseD / cruiseV
	m.AccelR = accelD / moveD
	m.CruiseR = cruiseD / moveD
	m.DecelR = accelD / moveD
	m.AccelT = accelT
	m.CruiseT = cruiseT
	m.DecelT = accelT
	return m
}

// Move schedules a linear move to newPos at speed units/sec, advancing the
// print-time cursor by the move's total duration.
func (t *Toolhead) Move(newPos [4]float64, speed float64) error {
	move := t.buildMove(newPos, speed)
	if err := t.kin.CheckMove(move); err != nil {
		return err
	}
	if err := t.kin.Move(t.printTime, move); err != nil {
		return err
	}
	t.printTime += move.AccelT + move.CruiseT + move.DecelT
	t.position = newPos
	return nil
}

// HomingMove implements homing.Mover: it schedules the full move to coord
// (nil entries hold current position), then waits on the first stepper's
// endstop and reports whether it triggered. The move is not cut short on
// the host side, and the position it reports is always coord.
func (t *Toolhead) HomingMove(coord [4]*float64, steppers []*stepper.Stepper, speed float64) ([4]float64, bool, error) {
	target := t.fillCoord(coord)
	move := t.buildMove(target, speed)
	if err := t.kin.Move(t.printTime, move); err != nil {
		return t.position, false, err
	}
	t.printTime += move.AccelT + move.CruiseT + move.DecelT

	triggered := false
	if len(steppers) > 0 && steppers[0].MCUEndstop != nil {
		ok, err := steppers[0].MCUEndstop.HomeWait(5 * time.Second)
		if err != nil {
			return t.position, false, fmt.Errorf("toolhead: home_wait: %w", err)
		}
		triggered = ok
	}
	t.position = target
	return t.position, triggered, nil
}

// MoveTo implements homing.Mover for the unconditional retract phase.
func (t *Toolhead) MoveTo(coord [4]*float64, speed float64) error {
	target := t.fillCoord(coord)
	return t.Move(target, speed)
}

func (t *Toolhead) fillCoord(coord [4]*float64) [4]float64 {
	out := t.position
	for i, c := range coord {
		if c != nil {
			out[i] = *c
		}
	}
	return out
}

// Home drives a homing sequence for the given Cartesian axis indices
// (0=X,1=Y,2=Z) through the kinematics object.
func (t *Toolhead) Home(axes []int) error {
	hs := homing.NewState(t, axes)
	if err := t.kin.Home(hs); err != nil {
		return err
	}
	for _, axis := range axes {
		t.position[axis] = t.kin.AxisStepper(kinematics.CartesianAxis(axis)).PositionEndstop
	}
	return nil
}

// SetPosition forces the toolhead's logical position without moving. G92
// does not call it; G92 only rebases the dispatcher's own offsets.
func (t *Toolhead) SetPosition(pos [4]float64) {
	t.position = pos
	t.kin.SetPosition([3]float64{pos[0], pos[1], pos[2]})
}

// Dwell advances the print-time cursor without commanding any motion,
// used by G4.
func (t *Toolhead) Dwell(seconds float64) {
	t.printTime += seconds
}

// WaitMoves blocks the calling goroutine until the print-time cursor has
// been reached by the reactor's real clock, the mechanism M400 uses to
// wait for in-flight motion to finish.
func (t *Toolhead) WaitMoves() {
	t.reactor.Pause(t.printTime)
}

// MotorOff resets homed-axis state through the kinematics; no motor enable
// output is switched off.
func (t *Toolhead) MotorOff() {
	t.kin.MotorOff(t.printTime)
}

// ForceShutdown latches the host-side shutdown flag and calls MotorOff,
// used by the M112 emergency-stop path. Nothing is sent to the MCU.
func (t *Toolhead) ForceShutdown() {
	t.shutdown = true
	t.MotorOff()
}

// IsShutdown reports whether ForceShutdown has been called.
func (t *Toolhead) IsShutdown() bool { return t.shutdown }

// ClearShutdown resets the shutdown latch, used by CLEAR_SHUTDOWN.
func (t *Toolhead) ClearShutdown() { t.shutdown = false }

// PrintTime returns the toolhead's current print-time cursor.
func (t *Toolhead) PrintTime() float64 { return t.printTime }

// QueryEndstops reports every configured stepper's endstop state.
func (t *Toolhead) QueryEndstops() map[string]bool {
	return t.kin.QueryEndstops(t.printTime)
}
