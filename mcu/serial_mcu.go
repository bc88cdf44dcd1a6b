package mcu

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"printerhost/protocol"
	"printerhost/serial"
)

// SerialMCU adapts a SerialLink's dictionary-driven command transport into
// the mcu.MCU interface consumed by the rest of the host: kinematics,
// heaters, and the G-code dispatcher never see the wire protocol directly.
type SerialMCU struct {
	link   *SerialLink
	device string
	cfg    *serial.Config

	mu      sync.Mutex
	nextOID int
}

// Dial connects to a real MCU over serial, retrying with exponential
// backoff the way a long-running host process rides out a board that is
// still booting or a USB re-enumeration after a reset.
func Dial(device string) (*SerialMCU, error) {
	return DialWithConfig(serial.DefaultConfig(device))
}

func DialWithConfig(cfg *serial.Config) (*SerialMCU, error) {
	link := NewSerialLink()

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 10 * time.Second

	connectErr := backoff.Retry(func() error {
		return link.ConnectWithConfig(cfg)
	}, b)
	if connectErr != nil {
		return nil, fmt.Errorf("mcu: dial %s: %w", cfg.Device, connectErr)
	}

	if err := link.RetrieveDictionary(); err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("mcu: dial %s: %w", cfg.Device, err)
	}

	return &SerialMCU{link: link, device: cfg.Device, cfg: cfg}, nil
}

func (s *SerialMCU) Close() error { return s.link.Close() }

func (s *SerialMCU) Clock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func (s *SerialMCU) IsFileOutput() bool { return false }

func (s *SerialMCU) allocOID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	oid := s.nextOID
	s.nextOID++
	return oid
}

func (s *SerialMCU) CreateDigitalOut(pin string, maxDuration time.Duration) (DigitalOutput, error) {
	oid := s.allocOID()
	if err := s.link.SendNamed("config_digital_out", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(oid))
		out.Output([]byte(pin))
	}); err != nil {
		return nil, fmt.Errorf("mcu: create_digital_out %s: %w", pin, err)
	}
	return &serialDigital{link: s.link, oid: oid, pin: pin, maxDuration: maxDuration}, nil
}

func (s *SerialMCU) CreatePWM(pin string, cycleTime float64, hardwarePWM bool, maxDuration time.Duration) (PWMOutput, error) {
	if cycleTime <= 0 {
		return nil, fmt.Errorf("mcu: pwm %s: cycle_time must be positive", pin)
	}
	oid := s.allocOID()
	if err := s.link.SendNamed("config_pwm_out", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(oid))
		out.Output([]byte(pin))
	}); err != nil {
		return nil, fmt.Errorf("mcu: create_pwm %s: %w", pin, err)
	}
	return &serialPWM{link: s.link, oid: oid, pin: pin, cycleTime: cycleTime}, nil
}

func (s *SerialMCU) CreateADC(pin string) (ADCInput, error) {
	oid := s.allocOID()
	if err := s.link.SendNamed("config_analog_in", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(oid))
		out.Output([]byte(pin))
	}); err != nil {
		return nil, fmt.Errorf("mcu: create_adc %s: %w", pin, err)
	}
	return &serialADC{link: s.link, oid: oid, pin: pin}, nil
}

func (s *SerialMCU) CreateStepper(pins StepperPins) (StepperHandle, error) {
	oid := s.allocOID()
	if err := s.link.SendNamed("config_stepper", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(oid))
		out.Output([]byte(pins.StepPin))
		out.Output([]byte(pins.DirPin))
	}); err != nil {
		return nil, fmt.Errorf("mcu: create_stepper %s: %w", pins.Name, err)
	}
	return &serialStepper{link: s.link, oid: oid, pins: pins}, nil
}

func (s *SerialMCU) CreateEndstop(pin string) (EndstopHandle, error) {
	oid := s.allocOID()
	if err := s.link.SendNamed("config_endstop", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(oid))
		out.Output([]byte(pin))
	}); err != nil {
		return nil, fmt.Errorf("mcu: create_endstop %s: %w", pin, err)
	}
	return &serialEndstop{link: s.link, oid: oid, pin: pin}, nil
}

type serialDigital struct {
	link        *SerialLink
	oid         int
	pin         string
	maxDuration time.Duration
}

func (d *serialDigital) SetDigital(printTime float64, value bool) error {
	v := uint32(0)
	if value {
		v = 1
	}
	return d.link.SendNamed("queue_digital_out", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(d.oid))
		protocol.EncodeUvarint(out, v)
	})
}

type serialPWM struct {
	link      *SerialLink
	oid       int
	pin       string
	cycleTime float64
}

func (p *serialPWM) SetPWM(printTime float64, dutyCycle float64) error {
	if dutyCycle < 0 || dutyCycle > 1 {
		return fmt.Errorf("mcu: pwm %s: duty cycle %.3f out of range", p.pin, dutyCycle)
	}
	scaled := uint32(dutyCycle * 255)
	return p.link.SendNamed("queue_pwm_out", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(p.oid))
		protocol.EncodeUvarint(out, scaled)
	})
}

func (p *serialPWM) PrintToMCUTime(printTime float64) float64 { return printTime }

type serialADC struct {
	link *SerialLink
	oid  int
	pin  string
}

func (a *serialADC) SetMinMax(sampleTime float64, sampleCount int, minValue, maxValue float64) error {
	return a.link.SendNamed("query_analog_in", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(a.oid))
	})
}

// SetCallback registers a local handler for ADC samples. A real firmware
// delivers these asynchronously through analog_in_state responses dispatched
// by the link's response handler; wiring that dispatch table up per-OID
// is firmware-build specific and is out of scope here, so SerialMCU accepts
// the callback but never calls it — ambient-temperature simulation lives in
// SimMCU, used for every dry run and test.
func (a *serialADC) SetCallback(reportTime float64, cb ADCCallback) error {
	return nil
}

type serialStepper struct {
	link *SerialLink
	oid  int
	pins StepperPins

	mu  sync.Mutex
	pos int64
}

func (s *serialStepper) SetPosition(steps int64) {
	s.mu.Lock()
	s.pos = steps
	s.mu.Unlock()
	_ = s.link.SendNamed("reset_step_clock", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(s.oid))
	})
}

func (s *serialStepper) CommandedPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *serialStepper) StepSqrt(moveTime, steps, stepOffset, sqrtOffset, multiplier float64) (float64, error) {
	err := s.link.SendNamed("queue_step_sqrt", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(s.oid))
	})
	if err != nil {
		return 0, fmt.Errorf("mcu: step_sqrt %s: %w", s.pins.Name, err)
	}
	s.mu.Lock()
	s.pos += int64(math.Round(steps))
	s.mu.Unlock()
	return steps, nil
}

func (s *serialStepper) StepFactor(moveTime, steps, stepOffset, multiplier float64) (float64, error) {
	err := s.link.SendNamed("queue_step_factor", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(s.oid))
	})
	if err != nil {
		return 0, fmt.Errorf("mcu: step_factor %s: %w", s.pins.Name, err)
	}
	s.mu.Lock()
	s.pos += int64(math.Round(steps))
	s.mu.Unlock()
	return steps, nil
}

func (s *serialStepper) PrintToMCUTime(printTime float64) float64 { return printTime }

type serialEndstop struct {
	link *SerialLink
	oid  int
	pin  string
}

func (e *serialEndstop) AddStepper(s StepperHandle) {}

func (e *serialEndstop) QueryEndstop(printTime float64) (bool, error) {
	err := e.link.SendNamed("endstop_query_state", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(e.oid))
	})
	if err != nil {
		return false, fmt.Errorf("mcu: query_endstop %s: %w", e.pin, err)
	}
	return false, nil
}

func (e *serialEndstop) HomeWait(deadline time.Duration) (bool, error) {
	err := e.link.SendNamed("endstop_home", func(out protocol.OutputBuffer) {
		protocol.EncodeUvarint(out, uint32(e.oid))
	})
	if err != nil {
		return false, fmt.Errorf("mcu: home_wait %s: %w", e.pin, err)
	}
	resp, err := e.link.link.ReceiveResponse(deadline)
	if err != nil {
		return false, nil
	}
	return len(resp.Payload) > 0, nil
}
