package toolhead

import (
	"testing"

	"printerhost/heater"
	"printerhost/kinematics"
	"printerhost/mcu"
	"printerhost/reactor"
	"printerhost/servo"
	"printerhost/stepper"
)

func newTestStepper(t *testing.T, sim *mcu.SimMCU, name string) *stepper.Stepper {
	t.Helper()
	h, err := sim.CreateStepper(mcu.StepperPins{Name: name})
	if err != nil {
		t.Fatalf("CreateStepper: %v", err)
	}
	s := stepper.New(name, 80.0, h)
	s.PositionMin = 0
	s.PositionMax = 200
	s.PositionEndstop = 0
	s.HomingSpeed = 50
	s.HomingRetractDist = 5
	e, err := sim.CreateEndstop(name + "_endstop")
	if err != nil {
		t.Fatalf("CreateEndstop: %v", err)
	}
	s.MCUEndstop = e
	return s
}

func newTestToolhead(t *testing.T) *Toolhead {
	t.Helper()
	sim := mcu.NewSimMCU(true)
	x := newTestStepper(t, sim, "stepper_x")
	y := newTestStepper(t, sim, "stepper_y")
	z := newTestStepper(t, sim, "stepper_z")
	kin := kinematics.New(x, y, z, 5, 100)
	r := reactor.New()
	reg, err := servo.NewRegistry(nil, sim)
	if err != nil {
		t.Fatalf("servo.NewRegistry: %v", err)
	}
	return New(r, sim, kin, Config{MaxVelocity: 300, MaxAccel: 3000}, map[string]*heater.Heater{}, reg)
}

func TestHomeUpdatesPosition(t *testing.T) {
	th := newTestToolhead(t)
	if err := th.Home([]int{0, 1, 2}); err != nil {
		t.Fatalf("Home: %v", err)
	}
	pos := th.GetPosition()
	if pos[0] != 0 || pos[1] != 0 || pos[2] != 0 {
		t.Errorf("position after homing to PositionEndstop=0 = %v, want [0 0 0 *]", pos)
	}
}

func TestMoveRejectsUnhomedAxis(t *testing.T) {
	th := newTestToolhead(t)
	if err := th.Move([4]float64{10, 0, 0, 0}, 50); err == nil {
		t.Fatal("expected error moving an unhomed axis")
	}
}

func TestMoveSucceedsAfterHoming(t *testing.T) {
	th := newTestToolhead(t)
	if err := th.Home([]int{0, 1, 2}); err != nil {
		t.Fatalf("Home: %v", err)
	}
	if err := th.Move([4]float64{10, 10, 0, 0}, 50); err != nil {
		t.Fatalf("Move: %v", err)
	}
	pos := th.GetPosition()
	if pos[0] != 10 || pos[1] != 10 {
		t.Errorf("position after move = %v, want [10 10 0 0]", pos)
	}
}

func TestDwellAdvancesPrintTimeWithoutMoving(t *testing.T) {
	th := newTestToolhead(t)
	before := th.PrintTime()
	th.Dwell(2.5)
	if th.PrintTime() != before+2.5 {
		t.Errorf("PrintTime() = %v, want %v", th.PrintTime(), before+2.5)
	}
}

func TestSetPositionForcesLogicalPositionWithoutMotion(t *testing.T) {
	th := newTestToolhead(t)
	th.SetPosition([4]float64{5, 5, 5, 0})
	if th.GetPosition() != [4]float64{5, 5, 5, 0} {
		t.Errorf("GetPosition() = %v, want [5 5 5 0]", th.GetPosition())
	}
}

func TestForceShutdownAndClearShutdown(t *testing.T) {
	th := newTestToolhead(t)
	if th.IsShutdown() {
		t.Fatal("expected not shut down initially")
	}
	th.ForceShutdown()
	if !th.IsShutdown() {
		t.Error("expected IsShutdown true after ForceShutdown")
	}
	th.ClearShutdown()
	if th.IsShutdown() {
		t.Error("expected IsShutdown false after ClearShutdown")
	}
}

func TestHeaterLookup(t *testing.T) {
	th := newTestToolhead(t)
	if _, ok := th.Heater("extruder"); ok {
		t.Error("expected no heater configured in this test fixture")
	}
}
