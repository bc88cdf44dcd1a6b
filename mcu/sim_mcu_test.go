package mcu

import (
	"testing"
	"time"
)

func TestSimMCUIsFileOutput(t *testing.T) {
	m := NewSimMCU(true)
	if !m.IsFileOutput() {
		t.Error("expected IsFileOutput true")
	}
	m2 := NewSimMCU(false)
	if m2.IsFileOutput() {
		t.Error("expected IsFileOutput false")
	}
}

func TestSimPWMRejectsOutOfRangeDutyCycle(t *testing.T) {
	m := NewSimMCU(true)
	pwm, err := m.CreatePWM("gpio10", 0.1, false, 0)
	if err != nil {
		t.Fatalf("CreatePWM: %v", err)
	}
	if err := pwm.SetPWM(0, 1.5); err == nil {
		t.Error("expected error for duty cycle > 1")
	}
	if err := pwm.SetPWM(0, -0.1); err == nil {
		t.Error("expected error for duty cycle < 0")
	}
	if err := pwm.SetPWM(0, 0.5); err != nil {
		t.Errorf("unexpected error for valid duty cycle: %v", err)
	}
}

func TestCreatePWMRejectsNonPositiveCycleTime(t *testing.T) {
	m := NewSimMCU(true)
	if _, err := m.CreatePWM("gpio10", 0, false, 0); err == nil {
		t.Error("expected error for zero cycle_time")
	}
}

func TestSimStepperTracksPosition(t *testing.T) {
	m := NewSimMCU(true)
	s, err := m.CreateStepper(StepperPins{Name: "stepper_x"})
	if err != nil {
		t.Fatalf("CreateStepper: %v", err)
	}
	s.SetPosition(100)
	if got := s.CommandedPosition(); got != 100 {
		t.Errorf("CommandedPosition() = %d, want 100", got)
	}
	if _, err := s.StepSqrt(0, 50, 0, 0, 1.0); err != nil {
		t.Fatalf("StepSqrt: %v", err)
	}
	if got := s.CommandedPosition(); got != 150 {
		t.Errorf("CommandedPosition() after forward StepSqrt = %d, want 150", got)
	}
}

func TestSimEndstopHomeWaitTriggersImmediately(t *testing.T) {
	m := NewSimMCU(true)
	e, err := m.CreateEndstop("gpio20")
	if err != nil {
		t.Fatalf("CreateEndstop: %v", err)
	}
	triggered, err := e.HomeWait(time.Second)
	if err != nil {
		t.Fatalf("HomeWait: %v", err)
	}
	if !triggered {
		t.Error("expected SimMCU endstop to report triggered")
	}
}

func TestSimADCDeliversCallback(t *testing.T) {
	m := NewSimMCU(true)
	adc, err := m.CreateADC("ADC0")
	if err != nil {
		t.Fatalf("CreateADC: %v", err)
	}
	if err := adc.SetMinMax(0.001, 8, 0, 1); err != nil {
		t.Fatalf("SetMinMax: %v", err)
	}

	delivered := make(chan float64, 1)
	if err := adc.SetCallback(0.01, func(readTime, value float64) {
		select {
		case delivered <- value:
		default:
		}
	}); err != nil {
		t.Fatalf("SetCallback: %v", err)
	}

	select {
	case v := <-delivered:
		if v <= 0 || v >= 1 {
			t.Errorf("delivered ADC value %v, want in (0,1)", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a simulated ADC reading to be delivered")
	}
}
