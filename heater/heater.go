package heater

import (
	"fmt"
	"sync"
	"time"

	"printerhost/mcu"
)

// Timing constants shared with the MCU's ADC sampling and PWM watchdog.
const (
	sampleTime   = 0.001
	sampleCount  = 8
	reportTime   = 0.300
	pwmCycleTime = 0.100
	maxHeatTime  = 5.0
)

// Heater is one closed-loop temperature channel (C5): a sensor conversion,
// an MCU PWM or digital output, an MCU ADC input, and whichever Controller
// variant is currently active. The {LastTemp, LastTempTime, TargetTemp,
// CanExtrude, Control} group is the sole piece of host state touched from
// both the G-code thread and the MCU's ADC delivery thread, so it lives
// behind mu exactly as described for the heater lock.
type Heater struct {
	Name string

	sensor         Sensor
	minTemp        float64
	maxTemp        float64
	minExtrudeTemp float64
	maxPower       float64
	fileOutput     bool

	pwmOut    mcu.PWMOutput
	digitalOut mcu.DigitalOutput
	adc        mcu.ADCInput

	mu           sync.Mutex
	lastTemp     float64
	lastTempTime float64
	targetTemp   float64
	canExtrude   bool
	control      Controller

	nextPWMTime  float64
	lastPWMValue float64
}

// Config captures everything needed to stand up a Heater from parsed
// machine configuration.
type Config struct {
	Name           string
	Sensor         Sensor
	MinTemp        float64
	MaxTemp        float64
	MinExtrudeTemp float64
	MaxPower       float64
	FileOutput     bool
}

// New creates a heater, wires its MCU PWM/digital output and ADC input, and
// installs the given initial controller (typically BangBang or PID,
// matching the source's watermark/pid config choice).
func New(cfg Config, m mcu.MCU, heaterPin, sensorPin string, initial Controller) (*Heater, error) {
	h := &Heater{
		Name:           cfg.Name,
		sensor:         cfg.Sensor,
		minTemp:        cfg.MinTemp,
		maxTemp:        cfg.MaxTemp,
		minExtrudeTemp: cfg.MinExtrudeTemp,
		maxPower:       cfg.MaxPower,
		fileOutput:     cfg.FileOutput || m.IsFileOutput(),
		canExtrude:     cfg.MinExtrudeTemp <= 0 || cfg.FileOutput || m.IsFileOutput(),
		control:        initial,
	}

	if _, isBangBang := initial.(*BangBang); isBangBang && cfg.MaxPower == 1.0 {
		out, err := m.CreateDigitalOut(heaterPin, time.Duration(maxHeatTime*float64(time.Second)))
		if err != nil {
			return nil, fmt.Errorf("heater %s: create_digital_out: %w", cfg.Name, err)
		}
		h.digitalOut = out
	} else {
		out, err := m.CreatePWM(heaterPin, pwmCycleTime, false, time.Duration(maxHeatTime*float64(time.Second)))
		if err != nil {
			return nil, fmt.Errorf("heater %s: create_pwm: %w", cfg.Name, err)
		}
		h.pwmOut = out
	}

	adc, err := m.CreateADC(sensorPin)
	if err != nil {
		return nil, fmt.Errorf("heater %s: create_adc: %w", cfg.Name, err)
	}
	h.adc = adc

	lo := h.sensor.CalcADC(h.minTemp)
	hi := h.sensor.CalcADC(h.maxTemp)
	if lo > hi {
		lo, hi = hi, lo
	}
	if err := h.adc.SetMinMax(sampleTime, sampleCount, lo, hi); err != nil {
		return nil, fmt.Errorf("heater %s: set_minmax: %w", cfg.Name, err)
	}
	if err := h.adc.SetCallback(reportTime, h.adcCallback); err != nil {
		return nil, fmt.Errorf("heater %s: set_adc_callback: %w", cfg.Name, err)
	}

	return h, nil
}

// setPWM applies the target_temp==0 override and the suppression/rate-limit
// policy, then schedules the actual MCU write ahead of read_time by the ADC
// pipeline's own latency.
func (h *Heater) setPWM(readTime, value float64) {
	if h.targetTemp <= 0 {
		value = 0
	}
	if (readTime < h.nextPWMTime || h.lastPWMValue == 0) && abs(value-h.lastPWMValue) < 0.05 {
		return
	}
	pwmTime := readTime + reportTime + sampleTime*sampleCount
	h.nextPWMTime = pwmTime + 0.75*maxHeatTime
	h.lastPWMValue = value

	if h.digitalOut != nil {
		_ = h.digitalOut.SetDigital(pwmTime, value >= 0.5)
		return
	}
	_ = h.pwmOut.SetPWM(pwmTime, value)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// adcCallback is invoked on the MCU transport's delivery thread; it is the
// only entry point reached from outside the G-code goroutine, so it is the
// only place the lock is acquired on that thread's behalf.
func (h *Heater) adcCallback(readTime, readValue float64) {
	temp := h.sensor.CalcTemp(readValue)
	h.mu.Lock()
	h.lastTemp = temp
	h.lastTempTime = readTime
	h.canExtrude = h.fileOutput || temp >= h.minExtrudeTemp
	h.control.AdcCallback(readTime, temp, h.targetTemp, h.setPWM)
	h.mu.Unlock()
}

// SetTemp validates and applies a new target temperature. 0 always
// disables the heater regardless of min_temp.
func (h *Heater) SetTemp(degrees float64) error {
	if degrees != 0 && (degrees < h.minTemp || degrees > h.maxTemp) {
		return fmt.Errorf("heater %s: requested temperature (%.1f) out of range (%.1f:%.1f)",
			h.Name, degrees, h.minTemp, h.maxTemp)
	}
	h.mu.Lock()
	h.targetTemp = degrees
	h.mu.Unlock()
	return nil
}

// GetTemp returns the last sampled temperature and current target.
func (h *Heater) GetTemp() (last, target float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastTemp, h.targetTemp
}

// CanExtrude reports whether the hotend is hot enough to extrude.
func (h *Heater) CanExtrude() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canExtrude
}

// CheckBusy reports whether the active controller still needs to act.
func (h *Heater) CheckBusy(eventTime float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.control.CheckBusy(eventTime, h.lastTemp, h.targetTemp)
}

// StartAutoTune swaps in a Ziegler-Nichols autotune controller targeting
// temp, remembering the previous controller so RestoreControl can put it
// back.
func (h *Heater) StartAutoTune(temp float64) {
	h.mu.Lock()
	h.control = NewAutoTune(h.maxPower, h.control, temp)
	h.mu.Unlock()
}

// StartBumpTest swaps in an open-loop step-response controller targeting
// temp, for manual PID curve fitting.
func (h *Heater) StartBumpTest(temp float64) {
	h.mu.Lock()
	h.control = NewBumpTest(h.maxPower, h.control, temp)
	h.mu.Unlock()
}

// restoreControl is invoked once CheckBusy on AutoTune/BumpTest reports
// done; callers poll CheckBusy (matching M303's wait loop) and call this
// when it returns false to complete the swap back.
func (h *Heater) RestoreControl() {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch c := h.control.(type) {
	case *AutoTune:
		h.control = c.OldControl
	case *BumpTest:
		h.control = c.OldControl
	}
}

// ActiveAutoTuneResult returns the active AutoTune controller's most recent
// TuneResult, or false if the active controller is not an AutoTune.
func (h *Heater) ActiveAutoTuneResult() (TuneResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.control.(*AutoTune); ok {
		return a.LastResult, true
	}
	return TuneResult{}, false
}
