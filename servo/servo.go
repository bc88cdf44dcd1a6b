// Package servo implements the trivial angle/pulsewidth-to-duty-cycle
// output (C6) used for M280 and any printer accessory wired as a hobby
// servo, plus the registration helper for configuring one or many of them
// (servo, servo0, servo1, ...).
package servo

import (
	"fmt"

	"printerhost/mcu"
)

const signalPeriod = 0.020 // 20ms, standard servo PWM frame

// Servo is one PWM-driven hobby servo output.
type Servo struct {
	Name string

	mcuServo mcu.PWMOutput

	minPulseWidth float64
	maxPulseWidth float64
	maxAngle      float64
	degreesPerSec float64

	lastPulsewidth float64
}

// Config is the per-servo configuration block.
type Config struct {
	Name                string
	Pin                 string
	MinimumPulseWidthUs float64 // microseconds, default 1000 (1ms)
	MaximumPulseWidthUs float64 // microseconds, default 2000 (2ms)
	MaximumServoAngle   float64 // degrees, default 180
}

// New creates a servo bound to an MCU PWM output at the standard 20ms
// servo signal period.
func New(cfg Config, m mcu.MCU) (*Servo, error) {
	minPW := cfg.MinimumPulseWidthUs
	if minPW == 0 {
		minPW = 1000
	}
	maxPW := cfg.MaximumPulseWidthUs
	if maxPW == 0 {
		maxPW = 2000
	}
	maxAngle := cfg.MaximumServoAngle
	if maxAngle == 0 {
		maxAngle = 180
	}

	pwm, err := m.CreatePWM(cfg.Pin, signalPeriod, false, 0)
	if err != nil {
		return nil, fmt.Errorf("servo %s: create_pwm: %w", cfg.Name, err)
	}

	minWidth := minPW / 1e6
	maxWidth := maxPW / 1e6
	signalWidth := maxWidth - minWidth

	return &Servo{
		Name:           cfg.Name,
		mcuServo:       pwm,
		minPulseWidth:  minWidth,
		maxPulseWidth:  maxWidth,
		maxAngle:       maxAngle,
		degreesPerSec:  maxAngle / signalWidth,
		lastPulsewidth: -1,
	}, nil
}

// SetPulsewidth commands the servo to the given pulse width in seconds,
// clamped to the configured range, emitting nothing if unchanged since the
// last call.
func (s *Servo) SetPulsewidth(printTime, pulsewidth float64) {
	if pulsewidth < s.minPulseWidth {
		pulsewidth = s.minPulseWidth
	} else if pulsewidth > s.maxPulseWidth {
		pulsewidth = s.maxPulseWidth
	}
	if pulsewidth == s.lastPulsewidth {
		return
	}
	dutyCycle := pulsewidth / signalPeriod
	mcuTime := s.mcuServo.PrintToMCUTime(printTime)
	_ = s.mcuServo.SetPWM(mcuTime, dutyCycle)
	s.lastPulsewidth = pulsewidth
}

// SetAngle commands the servo to the given angle in degrees, clamped to
// [0, maxAngle].
func (s *Servo) SetAngle(printTime, angle float64) {
	if angle < 0 {
		angle = 0
	} else if angle > s.maxAngle {
		angle = s.maxAngle
	}
	pulsewidth := s.minPulseWidth + angle/s.degreesPerSec
	s.SetPulsewidth(printTime, pulsewidth)
}

// Registry holds every configured servo indexed by its assigned position,
// mirroring add_printer_objects/get_printer_servos: either a single
// unnamed "servo" section, or "servo0".."servo98" numbered sections.
type Registry struct {
	servos []*Servo
	byName map[string]*Servo
}

// NewRegistry builds a Registry from ordered Config entries, registering
// every entry in order under its own name.
func NewRegistry(configs []Config, m mcu.MCU) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Servo)}
	for _, cfg := range configs {
		sv, err := New(cfg, m)
		if err != nil {
			return nil, err
		}
		r.servos = append(r.servos, sv)
		r.byName[cfg.Name] = sv
	}
	return r, nil
}

// ByIndex returns the nth registered servo (servo0, servo1, ...), used by
// M280's P parameter.
func (r *Registry) ByIndex(i int) (*Servo, bool) {
	if i < 0 || i >= len(r.servos) {
		return nil, false
	}
	return r.servos[i], true
}

func (r *Registry) ByName(name string) (*Servo, bool) {
	sv, ok := r.byName[name]
	return sv, ok
}
