package gcode

import "fmt"

// registerHeaterHandlers installs M104/M105/M109/M140/M190/M303 and their
// PID_TUNE alias, the temperature control and reporting command set.
func (d *Dispatcher) registerHeaterHandlers() {
	d.register("M104", false, "Set extruder temperature", cmdM104)
	d.register("M105", true, "Report temperatures", cmdM105)
	d.register("M109", false, "Set extruder temperature and wait", cmdM109)
	d.register("M140", false, "Set bed temperature", cmdM140)
	d.register("M190", false, "Set bed temperature and wait", cmdM190)
	d.register("M303", false, "Run PID autotune", cmdM303)
	d.alias("PID_TUNE", "M303")
}

// extruderIndexFromParams resolves the T parameter (tool index) used by
// M104/M109 to target a specific hotend in a multi-extruder machine. This
// is the site of the source's extruder_set_temp_wrapper bug: the original
// error-message formatting referenced an undefined name instead of the
// parsed tool index, so here the resolved index is always the one
// actually reported back to the caller.
func extruderIndexFromParams(d *Dispatcher, p Params) (int, error) {
	if !p.Has("T") {
		return d.currentExtruder, nil
	}
	idx, err := p.GetInt("T", 0, false)
	if err != nil {
		return 0, err
	}
	if len(d.cfg.Extruders) > 0 && (idx < 0 || idx >= len(d.cfg.Extruders)) {
		return 0, fmt.Errorf("invalid extruder index: %d", idx)
	}
	return idx, nil
}

func (d *Dispatcher) heaterForToolIndex(idx int) (string, error) {
	if len(d.cfg.Extruders) == 0 {
		return "extruder", nil
	}
	if idx < 0 || idx >= len(d.cfg.Extruders) {
		return "", fmt.Errorf("invalid extruder index: %d", idx)
	}
	return d.cfg.Extruders[idx].HeaterName, nil
}

func cmdM104(d *Dispatcher, p Params) error {
	idx, err := extruderIndexFromParams(d, p)
	if err != nil {
		return err
	}
	name, err := d.heaterForToolIndex(idx)
	if err != nil {
		return err
	}
	h, ok := d.th.Heater(name)
	if !ok {
		return fmt.Errorf("heater %s not configured", name)
	}
	temp, err := p.GetFloat("S", 0, true)
	if err != nil {
		return err
	}
	return h.SetTemp(temp)
}

func cmdM109(d *Dispatcher, p Params) error {
	if err := cmdM104(d, p); err != nil {
		return err
	}
	idx, err := extruderIndexFromParams(d, p)
	if err != nil {
		return err
	}
	name, err := d.heaterForToolIndex(idx)
	if err != nil {
		return err
	}
	h, _ := d.th.Heater(name)
	d.waitForTemp(h)
	return nil
}

func cmdM140(d *Dispatcher, p Params) error {
	h, ok := d.bedHeater()
	if !ok {
		return fmt.Errorf("heater_bed not configured")
	}
	temp, err := p.GetFloat("S", 0, true)
	if err != nil {
		return err
	}
	return h.SetTemp(temp)
}

func cmdM190(d *Dispatcher, p Params) error {
	if err := cmdM140(d, p); err != nil {
		return err
	}
	h, _ := d.bedHeater()
	d.waitForTemp(h)
	return nil
}

func cmdM105(d *Dispatcher, p Params) error {
	line := "ok"
	if h, _, ok := d.currentHeater(); ok {
		last, target := h.GetTemp()
		line += fmt.Sprintf(" T:%.1f /%.1f", last, target)
	}
	if h, ok := d.bedHeater(); ok {
		last, target := h.GetTemp()
		line += fmt.Sprintf(" B:%.1f /%.1f", last, target)
	}
	d.out.respond(line)
	return nil
}

// cmdM303 runs a Ziegler-Nichols autotune on the named heater (E<index> for
// an extruder heater, or the current tool's heater when E is absent). It
// blocks until the tune's CheckBusy reports done, then restores the prior
// controller and logs the derived gains.
func cmdM303(d *Dispatcher, p Params) error {
	targetTemp, err := p.GetFloat("S", 60, true)
	if err != nil {
		return err
	}
	heaterName := ""
	if p.Has("E") {
		idx, err := p.GetInt("E", 0, false)
		if err != nil {
			return err
		}
		heaterName, err = d.heaterForToolIndex(idx)
		if err != nil {
			return err
		}
	}
	h, ok := d.namedHeater(heaterName)
	if !ok {
		return fmt.Errorf("heater not configured")
	}
	h.StartAutoTune(targetTemp)
	for h.CheckBusy(d.th.PrintTime()) {
		waitTick()
	}
	result, ok := h.ActiveAutoTuneResult()
	h.RestoreControl()
	if ok {
		d.out.respondInfo(result.LogLine())
	}
	return nil
}
