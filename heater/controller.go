package heater

import (
	"fmt"
	"math"
	"sort"
)

const (
	ambientTemp   = 25.0
	pidParamBase  = 255.0
	tunePIDDelta  = 5.0
)

// Controller is the sum type attached to a heater: exactly one variant is
// active at a time, swapped under the heater's lock (AutoTune and BumpTest
// both keep the prior controller in OldControl; Heater.RestoreControl swaps
// it back).
type Controller interface {
	// AdcCallback is invoked once per sampled temperature with the
	// heater's current target_temp, and emits a PWM update through setPWM.
	AdcCallback(readTime, temp, targetTemp float64, setPWM func(readTime, value float64))
	// CheckBusy reports whether the controller still needs control.
	CheckBusy(eventTime, lastTemp, targetTemp float64) bool
}

// BangBang is hysteresis control: full power below target-delta, off at or
// above target+delta.
type BangBang struct {
	MaxDelta float64
	MaxPower float64
	heating  bool
}

func NewBangBang(maxDelta, maxPower float64) *BangBang {
	return &BangBang{MaxDelta: maxDelta, MaxPower: maxPower}
}

func (b *BangBang) AdcCallback(readTime, temp, targetTemp float64, setPWM func(float64, float64)) {
	if b.heating && temp >= targetTemp+b.MaxDelta {
		b.heating = false
	} else if !b.heating && temp <= targetTemp-b.MaxDelta {
		b.heating = true
	}
	if b.heating {
		setPWM(readTime, b.MaxPower)
	} else {
		setPWM(readTime, 0)
	}
}

func (b *BangBang) CheckBusy(eventTime, lastTemp, targetTemp float64) bool {
	return lastTemp < targetTemp-b.MaxDelta
}

// PID is proportional-integral-derivative control with derivative-of-
// measurement (not of error) and anti-windup via a bounded-output gate on
// the integral commit.
type PID struct {
	Kp, Ki, Kd     float64
	MinDerivTime   float64
	TempIntegMax   float64
	MaxPower       float64

	prevTemp      float64
	prevTempTime  float64
	prevTempDeriv float64
	prevTempInteg float64
}

// NewPID builds a PID controller. kp/ki/kd are raw config units (already
// divided by PID_PARAM_BASE=255, matching Klipper's pid_Kp/Ki/Kd scaling).
// integralMax is the configured pid_integral_max (defaults to max_power
// upstream); it is converted to a raw integral ceiling by dividing by ki.
func NewPID(kp, ki, kd, minDerivTime, integralMax, maxPower float64) *PID {
	tempIntegMax := integralMax
	if ki != 0 {
		tempIntegMax = integralMax / ki
	}
	return &PID{
		Kp: kp, Ki: ki, Kd: kd,
		MinDerivTime: minDerivTime,
		TempIntegMax: tempIntegMax,
		MaxPower:     maxPower,
		prevTemp:     ambientTemp,
	}
}

func (p *PID) AdcCallback(readTime, temp, targetTemp float64, setPWM func(float64, float64)) {
	timeDiff := readTime - p.prevTempTime
	tempDiff := temp - p.prevTemp

	var tempDeriv float64
	if timeDiff >= p.MinDerivTime {
		tempDeriv = tempDiff / timeDiff
	} else {
		tempDeriv = (p.prevTempDeriv*(p.MinDerivTime-timeDiff) + tempDiff) / p.MinDerivTime
	}

	tempErr := targetTemp - temp
	tempInteg := p.prevTempInteg + tempErr*timeDiff
	tempInteg = math.Max(0, math.Min(p.TempIntegMax, tempInteg))

	co := p.Kp*tempErr + p.Ki*tempInteg - p.Kd*tempDeriv
	boundedCo := math.Max(0, math.Min(p.MaxPower, co))
	setPWM(readTime, boundedCo)

	p.prevTemp = temp
	p.prevTempTime = readTime
	p.prevTempDeriv = tempDeriv
	if co == boundedCo {
		p.prevTempInteg = tempInteg
	}
}

func (p *PID) CheckBusy(eventTime, lastTemp, targetTemp float64) bool {
	tempDiff := targetTemp - lastTemp
	return math.Abs(tempDiff) > 1.0 || math.Abs(p.prevTempDeriv) > 0.1
}

// AutoTune runs the Ziegler-Nichols relay method: drive full power/off
// around target_temp, track consecutive peaks, and from the fourth peak on
// recompute Kp/Ki/Kd into LastResult; CheckBusy reports done after 12
// peaks. Logging the result and restoring the prior controller are left to
// the caller.
type AutoTune struct {
	TargetTemp float64
	MaxPower   float64
	OldControl Controller

	heating  bool
	peaks    []peak
	peakTemp float64
	peakTime float64

	LastResult TuneResult
}

type peak struct {
	temp float64
	time float64
}

// TuneResult holds the most recently logged autotune outcome.
type TuneResult struct {
	Ku, Tu     float64
	Kp, Ti, Td float64
	Ki, Kd     float64
}

func NewAutoTune(maxPower float64, oldControl Controller, targetTemp float64) *AutoTune {
	return &AutoTune{TargetTemp: targetTemp, MaxPower: maxPower, OldControl: oldControl, peakTemp: -9999999}
}

func (a *AutoTune) AdcCallback(readTime, temp, targetTemp float64, setPWM func(float64, float64)) {
	if a.heating && temp >= a.TargetTemp {
		a.heating = false
		a.checkPeaks()
	} else if !a.heating && temp <= a.TargetTemp-tunePIDDelta {
		a.heating = true
		a.checkPeaks()
	}
	if a.heating {
		setPWM(readTime, a.MaxPower)
		if temp < a.peakTemp {
			a.peakTemp = temp
			a.peakTime = readTime
		}
	} else {
		setPWM(readTime, 0)
		if temp > a.peakTemp {
			a.peakTemp = temp
			a.peakTime = readTime
		}
	}
}

func (a *AutoTune) checkPeaks() {
	a.peaks = append(a.peaks, peak{temp: a.peakTemp, time: a.peakTime})
	if a.heating {
		a.peakTemp = 9999999
	} else {
		a.peakTemp = -9999999
	}
	if len(a.peaks) < 4 {
		return
	}
	n := len(a.peaks)
	tempDiff := a.peaks[n-1].temp - a.peaks[n-2].temp
	timeDiff := a.peaks[n-1].time - a.peaks[n-3].time

	ku := 8.0 * a.MaxPower / (math.Abs(tempDiff) * math.Pi)
	tu := timeDiff

	kp := 0.6 * ku
	ti := 0.5 * tu
	td := 0.125 * tu
	ki := kp / ti
	kd := kp * td

	a.LastResult = TuneResult{Ku: ku, Tu: tu, Kp: kp, Ti: ti, Td: td, Ki: ki, Kd: kd}
}

func (a *AutoTune) CheckBusy(eventTime, lastTemp, targetTemp float64) bool {
	if a.heating || len(a.peaks) < 12 {
		return true
	}
	return false
}

// LogLine renders the final tuning result the way the source logs it,
// scaled back up by PID_PARAM_BASE for display.
func (r TuneResult) LogLine() string {
	return fmt.Sprintf("Autotune: Ku=%.6f Tu=%.3f  Kp=%.3f Ki=%.3f Kd=%.3f",
		r.Ku, r.Tu, r.Kp*pidParamBase, r.Ki*pidParamBase, r.Kd*pidParamBase)
}

// BumpTest runs a three-phase open-loop step response: ambient sampling,
// a full-power ramp to target, then a decay back towards the ambient/target
// midpoint, recording every sample for offline PID fitting.
type BumpTest struct {
	TargetTemp float64
	MaxPower   float64
	OldControl Controller

	state       int
	tempSamples map[float64]float64
	pwmSamples  map[float64]float64
}

func NewBumpTest(maxPower float64, oldControl Controller, targetTemp float64) *BumpTest {
	return &BumpTest{
		TargetTemp:  targetTemp,
		MaxPower:    maxPower,
		OldControl:  oldControl,
		tempSamples: make(map[float64]float64),
		pwmSamples:  make(map[float64]float64),
	}
}

func (b *BumpTest) setPWM(readTime, value float64, emit func(float64, float64)) {
	b.pwmSamples[readTime+2*reportTime] = value
	emit(readTime, value)
}

func (b *BumpTest) AdcCallback(readTime, temp, targetTemp float64, setPWM func(float64, float64)) {
	b.tempSamples[readTime] = temp
	switch b.state {
	case 0:
		b.setPWM(readTime, 0, setPWM)
		if len(b.tempSamples) >= 20 {
			b.state++
		}
	case 1:
		if temp < b.TargetTemp {
			b.setPWM(readTime, b.MaxPower, setPWM)
			return
		}
		b.setPWM(readTime, 0, setPWM)
		b.state++
	case 2:
		b.setPWM(readTime, 0, setPWM)
		if temp <= (b.TargetTemp+ambientTemp)/2.0 {
			b.state++
		}
	}
}

func (b *BumpTest) CheckBusy(eventTime, lastTemp, targetTemp float64) bool {
	return b.state < 3
}

// Samples returns the recorded (time, temp, pwm) rows sorted by time, the
// Go equivalent of the source's /tmp/heattest.txt dump.
func (b *BumpTest) Samples() []BumpSample {
	rows := make([]BumpSample, 0, len(b.tempSamples))
	for t, temp := range b.tempSamples {
		pwm, ok := b.pwmSamples[t]
		if !ok {
			pwm = -1
		}
		rows = append(rows, BumpSample{Time: t, Temp: temp, PWM: pwm})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })
	return rows
}

// BumpSample is one recorded row of a bump test.
type BumpSample struct {
	Time, Temp, PWM float64
}
