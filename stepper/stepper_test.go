package stepper

import (
	"testing"

	"printerhost/mcu"
)

func TestSetPositionAndCommandedPositionMM(t *testing.T) {
	sim := mcu.NewSimMCU(true)
	h, err := sim.CreateStepper(mcu.StepperPins{Name: "stepper_x"})
	if err != nil {
		t.Fatalf("CreateStepper: %v", err)
	}
	s := New("stepper_x", 80.0, h)

	s.SetPosition(10.0)
	if got := s.CommandedPositionMM(); got != 10.0 {
		t.Errorf("CommandedPositionMM() = %v, want 10.0", got)
	}
}

func TestHomingDistanceSign(t *testing.T) {
	sim := mcu.NewSimMCU(true)
	h, _ := sim.CreateStepper(mcu.StepperPins{Name: "stepper_z"})
	s := New("stepper_z", 400.0, h)
	s.PositionMin = 0
	s.PositionMax = 250

	s.HomingPositiveDir = true
	if d := s.HomingDistance(); d != 250 {
		t.Errorf("HomingDistance() with positive dir = %v, want 250", d)
	}

	s.HomingPositiveDir = false
	if d := s.HomingDistance(); d != -250 {
		t.Errorf("HomingDistance() with negative dir = %v, want -250", d)
	}
}
