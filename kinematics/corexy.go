package kinematics

import (
	"fmt"
	"math"

	"printerhost/homing"
	"printerhost/stepper"
)

// AxisLimit is the homed range for one Cartesian axis. The zero value
// (Homed: false) is the explicit stand-in for the source's (1.0, -1.0)
// "impossible range" sentinel: any access while !Homed must fail with
// "must home axis first" instead of silently comparing against it.
type AxisLimit struct {
	Homed  bool
	Lo, Hi float64
}

// CoreXY is the kinematics object (C4): three Steppers wired as two CoreXY
// belt motors plus an independent Z motor. Steppers[0] and Steppers[1] are
// simultaneously "stepper_x"/"stepper_y" for homing-geometry purposes
// (CartesianAxis view, via AxisStepper) and "motor A"/"motor B" for step
// scheduling purposes (MotorChannel view, via MotorStepper) — the same
// physical motor plays both roles because of how CoreXY is wired. Homing and
// limit checks name their view through those accessors; SetPosition, Move
// and the motor-enable bookkeeping index Steppers directly by motor channel.
type CoreXY struct {
	Steppers [3]*stepper.Stepper

	MaxZVelocity float64
	MaxZAccel    float64

	NeedMotorEnable bool
	Limits          [3]AxisLimit
}

// New wires a CoreXY kinematics object from its three configured steppers
// (x, y, z in that order) and cross-connects the X/Y endstops so a trigger
// on either belt motor halts both, matching a real CoreXY gantry where one
// switch per axis must stop two motors at once.
func New(x, y, z *stepper.Stepper, maxZVelocity, maxZAccel float64) *CoreXY {
	if x.MCUEndstop != nil && y.MCUStepper != nil {
		x.MCUEndstop.AddStepper(y.MCUStepper)
	}
	if y.MCUEndstop != nil && x.MCUStepper != nil {
		y.MCUEndstop.AddStepper(x.MCUStepper)
	}
	return &CoreXY{
		Steppers:        [3]*stepper.Stepper{x, y, z},
		MaxZVelocity:    maxZVelocity,
		MaxZAccel:       maxZAccel,
		NeedMotorEnable: true,
	}
}

// AxisStepper returns the stepper configured for the given Cartesian axis
// (used for homing geometry and limits).
func (c *CoreXY) AxisStepper(axis CartesianAxis) *stepper.Stepper { return c.Steppers[axis] }

// MotorStepper returns the stepper driving the given motor channel (used
// for step scheduling).
func (c *CoreXY) MotorStepper(ch MotorChannel) *stepper.Stepper { return c.Steppers[ch] }

// roundHalfAwayFromZero implements the source's int(pos*inv + 0.5) /
// int(pos*inv - 0.5) rounding: ties round away from zero rather than to
// even, matching the MCU's own integer step truncation.
func roundHalfAwayFromZero(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

// SetPosition applies the forward CoreXY transform and pushes rounded step
// counts to each MCU stepper. newpos is X,Y,Z.
func (c *CoreXY) SetPosition(newpos [3]float64) {
	motorPos := [3]float64{
		newpos[0] + newpos[1], // motor A
		newpos[0] - newpos[1], // motor B
		newpos[2],             // Z
	}
	for i := 0; i < 3; i++ {
		s := c.Steppers[i]
		steps := roundHalfAwayFromZero(motorPos[i] * s.InvStepDist)
		s.MCUStepper.SetPosition(steps)
	}
}

// MotorOff resets all axes to unhomed and marks the motors as needing
// enable. No enable pin is driven: the MCU stepper handle has no enable
// call, so the motors themselves are not switched off.
func (c *CoreXY) MotorOff(moveTime float64) {
	c.Limits = [3]AxisLimit{}
	for _, s := range c.Steppers {
		_ = s.MCUStepper // no per-stepper enable output exists to drive
		// here.
	}
	c.NeedMotorEnable = true
}

// Home drives the three-phase (approach / retract / verify) home sequence
// for each requested Cartesian axis in order.
func (c *CoreXY) Home(hs *homing.State) error {
	for _, axisIdx := range hs.GetAxes() {
		axis := CartesianAxis(axisIdx)
		s := c.AxisStepper(axis)
		c.Limits[axis] = AxisLimit{Homed: true, Lo: s.PositionMin, Hi: s.PositionMax}

		var pos, rpos, r2pos float64
		if s.HomingPositiveDir {
			pos = s.PositionEndstop + 1.5*(s.PositionEndstop-s.PositionMin)
			rpos = s.PositionEndstop - s.HomingRetractDist
			r2pos = s.PositionEndstop + s.HomingRetractDist
		} else {
			pos = s.PositionEndstop - 1.5*(s.PositionMax-s.PositionEndstop)
			rpos = s.PositionEndstop + s.HomingRetractDist
			r2pos = s.PositionEndstop - s.HomingRetractDist
		}

		homepos := [4]*float64{}
		homepos[axis] = ptr(s.PositionEndstop)

		coord := [4]*float64{}
		coord[axis] = ptr(pos)
		if err := hs.Home(coord, homepos, []*stepper.Stepper{s}, s.HomingSpeed, false); err != nil {
			return err
		}

		coord[axis] = ptr(rpos)
		if err := hs.Retract(coord, s.HomingSpeed); err != nil {
			return err
		}

		coord[axis] = ptr(r2pos)
		if err := hs.Home(coord, homepos, []*stepper.Stepper{s}, s.HomingSpeed/2.0, true); err != nil {
			return err
		}
		// XXX - Set final homed position
	}
	return nil
}

func ptr(v float64) *float64 { return &v }

// checkEndstops raises EndstopMoveError when the move's end position falls
// outside the recorded (or still-sentinel, un-homed) limits for any axis
// whose delta is nonzero.
func (c *CoreXY) checkEndstops(move *Move) error {
	for i := 0; i < 3; i++ {
		if move.AxesD[i] == 0 {
			continue
		}
		lim := c.Limits[i]
		end := move.EndPos[i]
		if !lim.Homed {
			return &homing.EndstopMoveError{Pos: move.EndPos, Hint: "Must home axis first"}
		}
		if end < lim.Lo || end > lim.Hi {
			return &homing.EndstopMoveError{Pos: move.EndPos}
		}
	}
	return nil
}

// CheckMove validates a move against the current axis limits and, for
// moves that include Z, reduces velocity/accel to the Z axis's own limits
// scaled by how much of the total travel the Z component represents.
func (c *CoreXY) CheckMove(move *Move) error {
	xpos, ypos := move.EndPos[0], move.EndPos[1]
	xLim, yLim := c.Limits[AxisX], c.Limits[AxisY]
	outOfXY := !xLim.Homed || !yLim.Homed ||
		xpos < xLim.Lo || xpos > xLim.Hi || ypos < yLim.Lo || ypos > yLim.Hi
	if outOfXY {
		if err := c.checkEndstops(move); err != nil {
			return err
		}
	}
	if move.AxesD[2] == 0 {
		return nil
	}
	if err := c.checkEndstops(move); err != nil {
		return err
	}
	zRatio := move.MoveD / math.Abs(move.AxesD[2])
	move.LimitSpeed(c.MaxZVelocity*zRatio, c.MaxZAccel*zRatio)
	return nil
}

func (c *CoreXY) checkMotorEnable(moveTime float64, move *Move) {
	if move.AxesD[0] != 0 || move.AxesD[1] != 0 {
		c.Steppers[0].NeedMotorEnable = false
		c.Steppers[1].NeedMotorEnable = false
	}
	if move.AxesD[2] != 0 {
		c.Steppers[2].NeedMotorEnable = false
	}
	need := false
	for _, s := range c.Steppers {
		need = need || s.NeedMotorEnable
	}
	c.NeedMotorEnable = need
}

// Move schedules MCU step sequences for one trapezoidal segment, per the
// forward CoreXY transform: motor_a = x+y, motor_b = x-y, motor_z = z.
func (c *CoreXY) Move(moveTime float64, move *Move) error {
	if c.NeedMotorEnable {
		c.checkMotorEnable(moveTime, move)
	}

	invAccel := 1.0 / move.Accel
	invCruiseV := 1.0 / move.CruiseV

	sx, sy := move.StartPos[0], move.StartPos[1]
	startPos := [3]float64{sx + sy, sx - sy, move.StartPos[2]}
	ex, ey := move.EndPos[0], move.EndPos[1]
	endPos := [3]float64{ex + ey, ex - ey, move.StartPos[2]}
	axesD := [3]float64{endPos[0] - startPos[0], endPos[1] - startPos[1], move.AxesD[2]}

	for i := 0; i < 3; i++ {
		if axesD[i] == 0 {
			continue
		}
		mcuStepper := c.Steppers[i].MCUStepper
		invStepDist := c.Steppers[i].InvStepDist

		mcuTime := mcuStepper.PrintToMCUTime(moveTime)
		stepPos := mcuStepper.CommandedPosition()
		stepOffset := float64(stepPos) - startPos[i]*invStepDist
		steps := axesD[i] * invStepDist
		moveStepD := move.MoveD / math.Abs(steps)

		accelMultiplier := 2.0 * moveStepD * invAccel

		if move.AccelR != 0 {
			accelTimeOffset := move.StartV * invAccel
			accelSqrtOffset := accelTimeOffset * accelTimeOffset
			accelSteps := move.AccelR * steps
			count, err := mcuStepper.StepSqrt(mcuTime-accelTimeOffset, accelSteps, stepOffset, accelSqrtOffset, accelMultiplier)
			if err != nil {
				return fmt.Errorf("kinematics: accel step_sqrt on %s: %w", c.Steppers[i].Name, err)
			}
			stepOffset += count - accelSteps
			mcuTime += move.AccelT
		}

		if move.CruiseR != 0 {
			cruiseMultiplier := moveStepD * invCruiseV
			cruiseSteps := move.CruiseR * steps
			count, err := mcuStepper.StepFactor(mcuTime, cruiseSteps, stepOffset, cruiseMultiplier)
			if err != nil {
				return fmt.Errorf("kinematics: cruise step_factor on %s: %w", c.Steppers[i].Name, err)
			}
			stepOffset += count - cruiseSteps
			mcuTime += move.CruiseT
		}

		if move.DecelR != 0 {
			decelTimeOffset := move.CruiseV * invAccel
			decelSqrtOffset := decelTimeOffset * decelTimeOffset
			decelSteps := move.DecelR * steps
			if _, err := mcuStepper.StepSqrt(mcuTime+decelTimeOffset, decelSteps, stepOffset, decelSqrtOffset, -accelMultiplier); err != nil {
				return fmt.Errorf("kinematics: decel step_sqrt on %s: %w", c.Steppers[i].Name, err)
			}
		}
	}
	return nil
}

// QueryEndstops reports each stepper's endstop state at the given print
// time, used by M119/QUERY_ENDSTOPS.
func (c *CoreXY) QueryEndstops(printTime float64) map[string]bool {
	result := make(map[string]bool, 3)
	for _, s := range c.Steppers {
		if s.MCUEndstop == nil {
			continue
		}
		triggered, err := s.MCUEndstop.QueryEndstop(printTime)
		if err != nil {
			continue
		}
		result[s.Name] = triggered
	}
	return result
}
