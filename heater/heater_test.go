package heater

import (
	"testing"

	"printerhost/mcu"
)

func newTestHeater(t *testing.T, initial Controller) *Heater {
	t.Helper()
	sim := mcu.NewSimMCU(false)
	cfg := Config{
		Name:           "extruder",
		Sensor:         NewLinearSensor(500, -50),
		MinTemp:        0,
		MaxTemp:        300,
		MinExtrudeTemp: 170,
		MaxPower:       1.0,
	}
	h, err := New(cfg, sim, "heater_pin", "sensor_pin", initial)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestSetTempRejectsOutOfRange(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	if err := h.SetTemp(500); err == nil {
		t.Fatal("expected error for out-of-range target temp")
	}
}

func TestSetTempAllowsZeroRegardlessOfMinTemp(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	if err := h.SetTemp(0); err != nil {
		t.Fatalf("expected 0 to always be accepted, got %v", err)
	}
}

func TestGetTempReflectsLastCallback(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	h.SetTemp(200)
	h.adcCallback(1.0, 0.5)
	last, target := h.GetTemp()
	if target != 200 {
		t.Errorf("target = %v, want 200", target)
	}
	if last == 0 {
		t.Error("expected last temp to be updated from adcCallback")
	}
}

func TestCanExtrudeTracksMinExtrudeTemp(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	if h.CanExtrude() {
		t.Error("expected CanExtrude false before any reading")
	}
	// Linear sensor: temp = adc*500 - 50; solve for temp=180 -> adc=0.46.
	h.adcCallback(1.0, 0.46)
	if !h.CanExtrude() {
		t.Error("expected CanExtrude true once above min_extrude_temp")
	}
}

func TestStartAutoTuneThenRestoreControlRoundTrips(t *testing.T) {
	original := NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0)
	h := newTestHeater(t, original)
	h.StartAutoTune(200)

	if _, ok := h.control.(*AutoTune); !ok {
		t.Fatal("expected control to be AutoTune after StartAutoTune")
	}

	h.RestoreControl()
	if h.control != Controller(original) {
		t.Error("expected RestoreControl to swap back the original controller")
	}
}

func TestActiveAutoTuneResultMustBeReadBeforeRestore(t *testing.T) {
	h := newTestHeater(t, NewBangBang(2, 1))
	h.StartAutoTune(200)

	at := h.control.(*AutoTune)
	at.LastResult = TuneResult{Ku: 1, Tu: 1, Kp: 1, Ki: 1, Kd: 1}

	result, ok := h.ActiveAutoTuneResult()
	if !ok {
		t.Fatal("expected an autotune result while AutoTune is still active")
	}
	if result.Ku != 1 {
		t.Errorf("Ku = %v, want 1", result.Ku)
	}

	h.RestoreControl()
	if _, ok := h.ActiveAutoTuneResult(); ok {
		t.Error("expected ActiveAutoTuneResult false once the controller has been restored")
	}
}

func TestSetPWMSuppressesSmallDeltas(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	h.SetTemp(200)
	h.lastPWMValue = 0.5
	h.nextPWMTime = 1000

	h.setPWM(1.0, 0.52)
	if h.lastPWMValue != 0.5 {
		t.Errorf("expected small delta below suppression threshold to be ignored, got %v", h.lastPWMValue)
	}

	h.setPWM(1.0, 0.9)
	if h.lastPWMValue != 0.9 {
		t.Errorf("expected large delta to update lastPWMValue, got %v", h.lastPWMValue)
	}
}

func TestNewSelectsDigitalOutForBangBangFullPower(t *testing.T) {
	h := newTestHeater(t, NewBangBang(2, 1))
	if h.digitalOut == nil {
		t.Error("expected a digital output for BangBang control at max_power 1.0")
	}
	if h.pwmOut != nil {
		t.Error("expected no PWM output when digital output is used")
	}
}

func TestNewSelectsPWMForPID(t *testing.T) {
	h := newTestHeater(t, NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0))
	if h.pwmOut == nil {
		t.Error("expected a PWM output for PID control")
	}
	if h.digitalOut != nil {
		t.Error("expected no digital output when PWM is used")
	}
}
