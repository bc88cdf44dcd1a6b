// Package mcu defines the host's view of a connected microcontroller: the
// small set of primitives (digital outputs, PWM, ADC sampling, stepper pulse
// generation, endstop polling) that every other package drives motion and
// heating through. SerialMCU implements this against a real Klipper-style
// wire protocol; SimMCU implements it in memory for file-output mode and for
// tests, mirroring the config_fileoutput fallback a real firmware host uses
// when no printer is attached.
package mcu

import "time"

// StepperPins describes the static configuration needed to create a stepper
// pulse generator on the MCU: step/dir/enable pins and the microstep count
// baked into inv_step_dist upstream in the stepper package.
type StepperPins struct {
	Name            string
	StepPin         string
	DirPin          string
	EnablePin       string
	MinStopInterval float64
}

// StepperHandle is the MCU-side half of a single stepper motor: it accepts
// scheduled step counts for a move and reports how many steps were actually
// committed, and it reports/accepts the motor's absolute step position.
type StepperHandle interface {
	// SetPosition tells the MCU stepper to treat its current step count as
	// the given absolute value, used after homing to re-anchor the axis.
	SetPosition(steps int64)

	// CommandedPosition returns the MCU's current absolute step count.
	CommandedPosition() int64

	// StepSqrt schedules a constant-acceleration segment of steps step
	// pulses starting at moveTime, with timing following a sqrt(offset +
	// n*multiplier) curve anchored at stepOffset/sqrtOffset. The sign of
	// steps gives the direction; multiplier is the curve's time factor
	// (2*step_dist/accel, negated for a decelerating segment). It returns
	// the signed number of steps actually queued, which can differ from a
	// fractional steps by the rounding to whole steps.
	StepSqrt(moveTime, steps, stepOffset, sqrtOffset, multiplier float64) (float64, error)

	// StepFactor schedules a constant-velocity segment: steps step pulses
	// spaced evenly by the given per-step time factor starting at moveTime.
	StepFactor(moveTime, steps, stepOffset, multiplier float64) (float64, error)

	// PrintToMCUTime converts a host print-time value into the MCU's own
	// clock domain for scheduling purposes.
	PrintToMCUTime(printTime float64) float64
}

// DigitalOutput is a simple on/off MCU pin, used for fans and bang-bang
// heater control.
type DigitalOutput interface {
	SetDigital(printTime float64, value bool) error
}

// PWMOutput is a pulse-width-modulated MCU pin, used for PID-controlled
// heaters and for servos.
type PWMOutput interface {
	SetPWM(printTime float64, dutyCycle float64) error
	PrintToMCUTime(printTime float64) float64
}

// ADCCallback receives a single temperature sample: readTime is the host
// print-time the sample corresponds to, value is the raw ADC reading in the
// 0..1 range expected by sensor conversion.
type ADCCallback func(readTime float64, value float64)

// ADCInput is an analog sampling channel, used by thermistors and other
// temperature sensors.
type ADCInput interface {
	SetMinMax(sampleTime float64, sampleCount int, minValue, maxValue float64) error
	SetCallback(reportTime float64, cb ADCCallback) error
}

// EndstopHandle is a single physical endstop switch, which may be shared
// across multiple steppers (CoreXY cross-wires motor-A and motor-B onto one
// endstop per axis).
type EndstopHandle interface {
	AddStepper(s StepperHandle)
	QueryEndstop(printTime float64) (triggered bool, err error)
	// HomeWait commands the endstop to stop the attached steppers the
	// instant it triggers, blocking until the move finishes or the
	// deadline elapses, and reports whether the endstop triggered.
	HomeWait(deadline time.Duration) (triggered bool, err error)
}

// MCU is the full set of host-facing factories for a connected board.
type MCU interface {
	CreateDigitalOut(pin string, maxDuration time.Duration) (DigitalOutput, error)
	CreatePWM(pin string, cycleTime float64, hardwarePWM bool, maxDuration time.Duration) (PWMOutput, error)
	CreateADC(pin string) (ADCInput, error)
	CreateStepper(pins StepperPins) (StepperHandle, error)
	CreateEndstop(pin string) (EndstopHandle, error)

	// IsFileOutput reports whether this MCU is a simulation sink rather
	// than a real connected board; the heater package uses it to force
	// can_extrude true.
	IsFileOutput() bool

	Clock() float64
}
