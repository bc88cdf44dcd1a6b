package gcode

import (
	"fmt"
)

// registerMotionHandlers installs G0/G1/G4/G20/G21/G28/G90/G91/G92, the
// axis-motion and coordinate-mode command set.
func (d *Dispatcher) registerMotionHandlers() {
	d.register("G1", false, "Linear move", cmdMove)
	d.alias("G0", "G1")

	d.register("G4", false, "Dwell", cmdDwell)
	d.register("G20", false, "Set units to inches", cmdG20)
	d.register("G21", false, "Set units to millimeters", cmdG21)
	d.register("G28", false, "Home axes", cmdG28)
	d.register("G90", false, "Absolute coordinates", cmdG90)
	d.register("G91", false, "Relative coordinates", cmdG91)
	d.register("G92", false, "Set position", cmdG92)
}

// cmdMove applies the X/Y/Z/E/F parameters to the dispatcher's logical
// position (honoring absolute/relative coordinate and extrude modes) and
// schedules the resulting move through the toolhead.
func cmdMove(d *Dispatcher, p Params) error {
	if p.Has("F") {
		f, err := p.GetFloat("F", 0, false)
		if err != nil {
			return err
		}
		if f <= 0 {
			return fmt.Errorf("invalid speed in '%s'", p.Original)
		}
		d.speed = f * d.speedFactor
	}

	newPos := d.lastPosition
	for i, axis := range axisNames[:3] {
		if !p.Has(axis) {
			continue
		}
		v, err := p.GetFloat(axis, 0, false)
		if err != nil {
			return err
		}
		if d.absoluteCoord {
			newPos[i] = v + d.basePosition[i]
		} else {
			newPos[i] = d.lastPosition[i] + v
		}
	}
	if p.Has("E") {
		v, err := p.GetFloat("E", 0, false)
		if err != nil {
			return err
		}
		v *= d.extrudeFactor
		if d.absoluteExtrude {
			newPos[3] = v + d.basePosition[3]
		} else {
			newPos[3] = d.lastPosition[3] + v
		}
	}

	if newPos == d.lastPosition {
		return nil
	}
	if err := d.th.Move(newPos, d.speed); err != nil {
		return err
	}
	d.lastPosition = newPos
	return nil
}

// cmdDwell pauses motion for P milliseconds or S seconds without moving.
func cmdDwell(d *Dispatcher, p Params) error {
	if p.Has("S") {
		s, err := p.GetFloat("S", 0, false)
		if err != nil {
			return err
		}
		d.th.Dwell(s)
		return nil
	}
	ms, err := p.GetFloat("P", 0, true)
	if err != nil {
		return err
	}
	d.th.Dwell(ms / 1000.0)
	return nil
}

// cmdG20 rejects inch mode outright; this host only ever operates in
// millimeters.
func cmdG20(d *Dispatcher, p Params) error {
	return fmt.Errorf("G20 (inches) is not supported")
}

func cmdG21(d *Dispatcher, p Params) error {
	return nil
}

// cmdG28 homes the requested axes (all three if none named), then sets
// base_position = -home_offset and last_position to the toolhead's new
// homed position for every axis that was just homed, matching the
// source's contract exactly.
func cmdG28(d *Dispatcher, p Params) error {
	var axes []int
	for i, axis := range axisNames[:3] {
		if p.Has(axis) {
			axes = append(axes, i)
		}
	}
	if len(axes) == 0 {
		axes = []int{0, 1, 2}
	}

	if err := d.th.Home(axes); err != nil {
		return err
	}

	pos := d.th.GetPosition()
	for _, axis := range axes {
		d.basePosition[axis] = -d.homingAdd[axis]
		d.lastPosition[axis] = pos[axis]
	}
	return nil
}

// cmdG90 and cmdG91 only switch the XYZ coordinate mode; absoluteextrude is
// independent and is only ever touched by M82/M83.
func cmdG90(d *Dispatcher, p Params) error {
	d.absoluteCoord = true
	return nil
}

func cmdG91(d *Dispatcher, p Params) error {
	d.absoluteCoord = false
	return nil
}

// cmdG92 rebases the named axes so that the current physical position
// reads back as the given value: base_position becomes last_position minus
// the value for each named axis, and last_position itself is unchanged.
// Axes not named are left untouched.
func cmdG92(d *Dispatcher, p Params) error {
	for i, axis := range axisNames {
		if !p.Has(axis) {
			continue
		}
		v, err := p.GetFloat(axis, 0, false)
		if err != nil {
			return err
		}
		if i == 3 {
			v *= d.extrudeFactor
		}
		d.basePosition[i] = d.lastPosition[i] - v
	}
	return nil
}
