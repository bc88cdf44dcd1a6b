package gcode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// registerSystemHandlers installs the fan, servo, endstop, shutdown and
// diagnostic command set: M18/M84, M82/M83, M106/M107, M110, M112, M114,
// M115, M119, M206, M280, M400, plus HELP/QUERY_ENDSTOPS/CLEAR_SHUTDOWN/
// RESTART/FIRMWARE_RESTART/STATUS and T<n> tool changes.
func (d *Dispatcher) registerSystemHandlers() {
	d.register("M18", false, "Disable motors", cmdM18)
	d.alias("M84", "M18")

	d.register("M82", false, "Absolute extrusion", cmdM82)
	d.register("M83", false, "Relative extrusion", cmdM83)

	d.register("M106", false, "Set fan speed", cmdM106)
	d.register("M107", false, "Turn fan off", cmdM107)

	d.register("M110", true, "Set current line number", cmdM110)
	d.register("M112", true, "Emergency stop", cmdM112)
	d.register("M114", true, "Report current position", cmdM114)
	d.register("M115", true, "Report firmware info", cmdM115)
	d.register("M119", true, "Query endstops", cmdM119)
	d.alias("QUERY_ENDSTOPS", "M119")

	d.register("M206", false, "Set home offset", cmdM206)
	d.register("M280", false, "Set servo position", cmdM280)
	d.register("M400", false, "Wait for moves to finish", cmdM400)

	d.register("HELP", true, "List available commands", cmdHelp)
	d.register("CLEAR_SHUTDOWN", true, "Clear a forced shutdown", cmdClearShutdown)
	d.register("RESTART", true, "Restart the host software", cmdRestart)
	d.register("FIRMWARE_RESTART", true, "Restart the host and MCU", cmdFirmwareRestart)
	d.register("STATUS", true, "Report printer status", cmdStatus)

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("T%d", i)
		d.register(name, false, "Select tool "+strconv.Itoa(i), toolchangeHandler(i))
	}
}

func cmdM18(d *Dispatcher, p Params) error {
	d.th.MotorOff()
	return nil
}

func cmdM82(d *Dispatcher, p Params) error {
	d.absoluteExtrude = true
	return nil
}

func cmdM83(d *Dispatcher, p Params) error {
	d.absoluteExtrude = false
	return nil
}

func cmdM106(d *Dispatcher, p Params) error {
	if d.cfg.Fan == nil {
		return fmt.Errorf("no fan configured")
	}
	s, err := p.GetFloat("S", 255, true)
	if err != nil {
		return err
	}
	duty := s / 255.0
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	mcuTime := d.cfg.Fan.PrintToMCUTime(d.th.PrintTime())
	return d.cfg.Fan.SetPWM(mcuTime, duty)
}

func cmdM107(d *Dispatcher, p Params) error {
	if d.cfg.Fan == nil {
		return nil
	}
	mcuTime := d.cfg.Fan.PrintToMCUTime(d.th.PrintTime())
	return d.cfg.Fan.SetPWM(mcuTime, 0)
}

// cmdM110 accepts a line-number reset and does nothing else.
func cmdM110(d *Dispatcher, p Params) error {
	return nil
}

// cmdM112 forces an immediate shutdown. It never returns an error so that
// it always acks, matching the source's "emergency stop always succeeds"
// contract; ProcessLine's re-entry guard explicitly exempts this command.
func cmdM112(d *Dispatcher, p Params) error {
	d.th.ForceShutdown()
	d.out.respondError("Emergency Stop")
	return nil
}

func cmdM114(d *Dispatcher, p Params) error {
	pos := d.th.GetPosition()
	line := fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f Count X:%.3f Y:%.3f Z:%.3f",
		d.lastPosition[0], d.lastPosition[1], d.lastPosition[2], d.lastPosition[3],
		pos[0], pos[1], pos[2])
	d.out.respond(line)
	return nil
}

func cmdM115(d *Dispatcher, p Params) error {
	d.out.respond("FIRMWARE_NAME:printerhost FIRMWARE_VERSION:1.0 PROTOCOL_VERSION:1.0")
	return nil
}

func cmdM119(d *Dispatcher, p Params) error {
	states := d.th.QueryEndstops()
	names := make([]string, 0, len(states))
	for n := range states {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		state := "open"
		if states[n] {
			state = "TRIGGERED"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", n, state))
	}
	d.out.respond(strings.Join(parts, " "))
	return nil
}

// cmdM206 sets the home offset for the named axes: home_offset shifts
// where G28 re-anchors base_position, without moving the physical
// toolhead.
func cmdM206(d *Dispatcher, p Params) error {
	for i, axis := range axisNames[:3] {
		if !p.Has(axis) {
			continue
		}
		v, err := p.GetFloat(axis, 0, false)
		if err != nil {
			return err
		}
		delta := v - d.homingAdd[i]
		d.basePosition[i] -= delta
		d.homingAdd[i] = v
	}
	return nil
}

// cmdM280 drives a hobby servo by P<index> to S<angle> degrees. S is always
// an angle, clamped by the servo to [0, its configured maximum]; a raw
// pulse width in microseconds is not accepted.
func cmdM280(d *Dispatcher, p Params) error {
	idx, err := p.GetInt("P", 0, false)
	if err != nil {
		return err
	}
	sv, ok := d.servoByIndex(idx)
	if !ok {
		return fmt.Errorf("invalid servo index: %d", idx)
	}
	angle, err := p.GetFloat("S", 0, false)
	if err != nil {
		return err
	}
	sv.SetAngle(d.th.PrintTime(), angle)
	return nil
}

func cmdM400(d *Dispatcher, p Params) error {
	d.th.WaitMoves()
	return nil
}

func cmdHelp(d *Dispatcher, p Params) error {
	for _, name := range d.sortedHandlerNames() {
		h := d.handlers[name]
		d.out.respondInfo(fmt.Sprintf("%s: %s", name, h.help))
	}
	return nil
}

func cmdClearShutdown(d *Dispatcher, p Params) error {
	d.th.ClearShutdown()
	return nil
}

func cmdRestart(d *Dispatcher, p Params) error {
	d.out.respondInfo("Restart requested")
	d.isPrinterReady = false
	return nil
}

func cmdFirmwareRestart(d *Dispatcher, p Params) error {
	d.out.respondInfo("Firmware restart requested")
	d.isPrinterReady = false
	return nil
}

func cmdStatus(d *Dispatcher, p Params) error {
	state := "Ready"
	if d.th.IsShutdown() {
		state = "Shutdown"
	} else if !d.isPrinterReady {
		state = "Not ready"
	}
	d.out.respondInfo(fmt.Sprintf("Printer is %s", state))
	return nil
}

// toolchangeHandler builds the T<n> handler for a fixed tool index: the
// nozzle-offset delta (current offset minus next offset) is folded into
// base_position so the next move lands at the same logical XYZ with the new
// nozzle centered there. last_position is not shifted, and the handler
// issues no move or dwell of its own; the head stays put until the next
// motion command.
func toolchangeHandler(idx int) func(d *Dispatcher, p Params) error {
	return func(d *Dispatcher, p Params) error {
		if len(d.cfg.Extruders) == 0 {
			if idx != 0 {
				return fmt.Errorf("invalid extruder index: %d", idx)
			}
			return nil
		}
		if idx < 0 || idx >= len(d.cfg.Extruders) {
			return fmt.Errorf("invalid extruder index: %d", idx)
		}
		old := d.cfg.Extruders[d.currentExtruder].NozzleOffset
		next := d.cfg.Extruders[idx].NozzleOffset
		for i := 0; i < 3; i++ {
			d.basePosition[i] += old[i] - next[i]
		}
		d.currentExtruder = idx
		return nil
	}
}
