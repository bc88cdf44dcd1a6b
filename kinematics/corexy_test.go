package kinematics

import (
	"testing"

	"printerhost/mcu"
	"printerhost/stepper"
)

func newTestStepper(t *testing.T, name string) *stepper.Stepper {
	t.Helper()
	sim := mcu.NewSimMCU(true)
	h, err := sim.CreateStepper(mcu.StepperPins{})
	if err != nil {
		t.Fatalf("CreateStepper: %v", err)
	}
	s := stepper.New(name, 80.0, h)
	s.PositionMin = 0
	s.PositionMax = 200
	s.PositionEndstop = 0
	s.HomingSpeed = 50
	s.HomingRetractDist = 5
	return s
}

func newTestCoreXY(t *testing.T) *CoreXY {
	t.Helper()
	x := newTestStepper(t, "stepper_x")
	y := newTestStepper(t, "stepper_y")
	z := newTestStepper(t, "stepper_z")
	return New(x, y, z, 5, 100)
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   float64
		want int64
	}{
		{0.5, 1},
		{0.4999, 0},
		{-0.5, -1},
		{-0.4999, 0},
		{2.5, 3},
		{-2.5, -3},
	}
	for _, c := range cases {
		if got := roundHalfAwayFromZero(c.in); got != c.want {
			t.Errorf("roundHalfAwayFromZero(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSetPositionAppliesForwardTransform(t *testing.T) {
	c := newTestCoreXY(t)
	c.SetPosition([3]float64{10, 3, 7})

	wantA := roundHalfAwayFromZero(13 * c.Steppers[0].InvStepDist)
	wantB := roundHalfAwayFromZero(7 * c.Steppers[1].InvStepDist)
	wantZ := roundHalfAwayFromZero(7 * c.Steppers[2].InvStepDist)

	if got := c.Steppers[0].MCUStepper.CommandedPosition(); got != wantA {
		t.Errorf("motor A steps = %d, want %d", got, wantA)
	}
	if got := c.Steppers[1].MCUStepper.CommandedPosition(); got != wantB {
		t.Errorf("motor B steps = %d, want %d", got, wantB)
	}
	if got := c.Steppers[2].MCUStepper.CommandedPosition(); got != wantZ {
		t.Errorf("motor Z steps = %d, want %d", got, wantZ)
	}
}

func TestCheckMoveRejectsUnhomedAxis(t *testing.T) {
	c := newTestCoreXY(t)
	move := &Move{
		StartPos: [4]float64{0, 0, 0, 0},
		EndPos:   [4]float64{10, 0, 0, 0},
		AxesD:    [4]float64{10, 0, 0, 0},
		MoveD:    10,
	}
	if err := c.CheckMove(move); err == nil {
		t.Fatal("expected error moving an unhomed axis, got nil")
	}
}

func TestCheckMoveAllowsHomedAxisWithinLimits(t *testing.T) {
	c := newTestCoreXY(t)
	c.Limits[AxisX] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	c.Limits[AxisY] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	move := &Move{
		StartPos: [4]float64{0, 0, 0, 0},
		EndPos:   [4]float64{10, 0, 0, 0},
		AxesD:    [4]float64{10, 0, 0, 0},
		MoveD:    10,
	}
	if err := c.CheckMove(move); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckMoveRejectsOutOfRange(t *testing.T) {
	c := newTestCoreXY(t)
	c.Limits[AxisX] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	c.Limits[AxisY] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	move := &Move{
		StartPos: [4]float64{0, 0, 0, 0},
		EndPos:   [4]float64{500, 0, 0, 0},
		AxesD:    [4]float64{500, 0, 0, 0},
		MoveD:    500,
	}
	if err := c.CheckMove(move); err == nil {
		t.Fatal("expected out-of-range error, got nil")
	}
}

func TestCheckMoveScalesZLimits(t *testing.T) {
	c := newTestCoreXY(t)
	c.Limits[AxisX] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	c.Limits[AxisY] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	c.Limits[AxisZ] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	move := &Move{
		StartPos: [4]float64{0, 0, 0, 0},
		EndPos:   [4]float64{0, 0, 10, 0},
		AxesD:    [4]float64{0, 0, 10, 0},
		MoveD:    10,
		CruiseV:  200,
		Accel:    1000,
	}
	if err := c.CheckMove(move); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if move.CruiseV != c.MaxZVelocity {
		t.Errorf("CruiseV = %v, want clamped to MaxZVelocity %v", move.CruiseV, c.MaxZVelocity)
	}
	if move.Accel != c.MaxZAccel {
		t.Errorf("Accel = %v, want clamped to MaxZAccel %v", move.Accel, c.MaxZAccel)
	}
}

func TestMoveAppliesForwardTransformToSteppers(t *testing.T) {
	c := newTestCoreXY(t)
	move := &Move{
		StartPos: [4]float64{0, 0, 0, 0},
		EndPos:   [4]float64{10, 0, 0, 0},
		AxesD:    [4]float64{10, 0, 0, 0},
		MoveD:    10,
		Accel:    1000,
		CruiseV:  50,
		AccelR:   0.2,
		CruiseR:  0.6,
		DecelR:   0.2,
		AccelT:   0.1,
		CruiseT:  0.2,
		DecelT:   0.1,
	}
	if err := c.Move(0, move); err != nil {
		t.Fatalf("Move: %v", err)
	}
	// A pure +X move drives motor A (x+y) and motor B (x-y) by the same amount
	// in the same direction.
	if c.Steppers[0].MCUStepper.CommandedPosition() == 0 {
		t.Error("expected motor A to have stepped")
	}
	if c.Steppers[1].MCUStepper.CommandedPosition() == 0 {
		t.Error("expected motor B to have stepped")
	}
	if c.Steppers[2].MCUStepper.CommandedPosition() != 0 {
		t.Error("expected motor Z untouched by an XY-only move")
	}
}

func TestMotorOffClearsLimits(t *testing.T) {
	c := newTestCoreXY(t)
	c.Limits[AxisX] = AxisLimit{Homed: true, Lo: 0, Hi: 200}
	c.MotorOff(0)
	if c.Limits[AxisX].Homed {
		t.Error("expected MotorOff to clear homed state")
	}
	if !c.NeedMotorEnable {
		t.Error("expected MotorOff to require re-enable")
	}
}
