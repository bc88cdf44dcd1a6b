// Package stepper models a single configured axis motor: the host-side
// bookkeeping kinematics reads and writes (limits, homing geometry, enable
// state) plus the MCU handle that actually turns it.
package stepper

import "printerhost/mcu"

// Stepper is one motor channel bound to an MCU stepper handle. Multiple
// Steppers can share a physical endstop (CoreXY cross-wires motor-A and
// motor-B onto one endstop per printed axis).
type Stepper struct {
	Name string

	// InvStepDist converts millimeters to steps: steps = mm * InvStepDist.
	InvStepDist float64

	PositionMin      float64
	PositionMax      float64
	PositionEndstop  float64
	HomingPositiveDir bool
	HomingRetractDist float64
	HomingSpeed       float64

	NeedMotorEnable bool

	MCUStepper mcu.StepperHandle
	MCUEndstop mcu.EndstopHandle
}

// New creates a Stepper with the MCU handle and homing geometry resolved
// at config time; callers are expected to have already called
// mcu.MCU.CreateStepper/CreateEndstop.
func New(name string, invStepDist float64, mcuStepper mcu.StepperHandle) *Stepper {
	return &Stepper{
		Name:            name,
		InvStepDist:     invStepDist,
		NeedMotorEnable: true,
		MCUStepper:      mcuStepper,
	}
}

// SetPosition re-anchors the MCU's absolute step count to the given
// millimeter position, used after homing completes.
func (s *Stepper) SetPosition(posMM float64) {
	s.MCUStepper.SetPosition(int64(posMM * s.InvStepDist))
}

// CommandedPositionMM returns the MCU's current step count converted back
// to millimeters.
func (s *Stepper) CommandedPositionMM() float64 {
	return float64(s.MCUStepper.CommandedPosition()) / s.InvStepDist
}

// HomingDistance returns the full axis span (position_max - position_min),
// signed by the homing direction. It does not depend on the current
// commanded position.
func (s *Stepper) HomingDistance() float64 {
	d := s.PositionMax - s.PositionMin
	if s.HomingPositiveDir {
		return d
	}
	return -d
}
