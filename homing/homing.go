// Package homing drives the home/retract/re-home sequence (C8) that
// kinematics hands off to whenever an axis needs to find its endstop. It
// knows nothing about CoreXY or Cartesian transforms — it just drives a
// linear move along a coordinate, watches for an endstop trigger, and
// records the resulting position, the same shape Klipper's homing.py
// exposes to every kinematics implementation.
package homing

import (
	"fmt"

	"printerhost/stepper"
)

// EndstopMoveError is raised when a move would exceed axis limits, or when
// an axis has never been homed (the sentinel "un-homed" limits case).
type EndstopMoveError struct {
	Pos  [4]float64
	Hint string
}

func (e *EndstopMoveError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("move out of range: %v: %s", e.Pos, e.Hint)
	}
	return fmt.Sprintf("move out of range: %v", e.Pos)
}

// Mover is the subset of toolhead behavior homing needs: schedule a move
// that may be cut short by an endstop trigger, and report the position the
// toolhead actually stopped at. The toolhead package implements this
// interface without needing to import homing.
type Mover interface {
	// HomingMove schedules a move towards coord (nil entries hold current
	// position) at speed, honoring any steppers' endstops; it returns the
	// position actually reached when an endstop stopped the move early,
	// or the requested coord when it completed unobstructed.
	HomingMove(coord [4]*float64, steppers []*stepper.Stepper, speed float64) ([4]float64, bool, error)

	// MoveTo schedules an unconditional move to coord at speed, used for
	// the retract phase where no endstop is expected to trigger.
	MoveTo(coord [4]*float64, speed float64) error
}

// State is one homing operation, scoped to the axes it was constructed for.
type State struct {
	mover             Mover
	axes              []int
	noVerifyRetract   bool
}

// NewState begins a homing operation for the given Cartesian axis indices.
func NewState(mover Mover, axes []int) *State {
	return &State{mover: mover, axes: axes}
}

// GetAxes returns the Cartesian axis indices this homing operation covers.
func (s *State) GetAxes() []int { return s.axes }

// SetNoVerifyRetract skips the verification re-home phase, used when
// replaying a file that already trusts its own positioning.
func (s *State) SetNoVerifyRetract(v bool) { s.noVerifyRetract = v }

// Home drives a move along coord, stopping early on an endstop trigger, and
// records endstopPos as the position to report for the homed axis once
// triggered. secondHome marks the slower verification pass following a
// retract; when noVerifyRetract is set, a second-home pass is skipped
// entirely and reports success without moving.
func (s *State) Home(coord [4]*float64, endstopPos [4]*float64, steppers []*stepper.Stepper, speed float64, secondHome bool) error {
	if secondHome && s.noVerifyRetract {
		return nil
	}
	_, triggered, err := s.mover.HomingMove(coord, steppers, speed)
	if err != nil {
		return err
	}
	if !triggered {
		return &EndstopMoveError{Hint: "Endstop not triggered during homing"}
	}
	homedPos := 0.0
	for _, c := range endstopPos {
		if c != nil {
			homedPos = *c
			break
		}
	}
	for _, st := range steppers {
		st.SetPosition(homedPos)
	}
	return nil
}

// Retract drives an unconditional move along coord, used to back off an
// endstop before the verification re-home.
func (s *State) Retract(coord [4]*float64, speed float64) error {
	return s.mover.MoveTo(coord, speed)
}
