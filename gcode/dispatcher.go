package gcode

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"printerhost/heater"
	"printerhost/mcu"
	"printerhost/servo"
	"printerhost/toolhead"
)

// Extruder binds one heater to its nozzle offset and tool index, the
// minimum needed for T<n> tool-change support with more than one hotend.
type Extruder struct {
	Name         string
	HeaterName   string
	NozzleOffset [3]float64
}

// Config wires a Dispatcher to the toolhead it drives and the accessory
// objects (fan, extra extruders) a fully configured machine carries beyond
// the single default "extruder"/"heater_bed" pair.
type Config struct {
	Extruders     []Extruder
	HeaterBedName string
	Fan           mcu.PWMOutput
}

type handler struct {
	fn           func(d *Dispatcher, p Params) error
	whenNotReady bool
	help         string
}

// Dispatcher owns the mutable host-side print state (position, coordinate
// modes, home offsets) and the command table, the role gcode.py's
// GCodeParser class plays above toolhead.py.
type Dispatcher struct {
	th  *toolhead.Toolhead
	cfg Config
	out *responder

	handlers map[string]handler

	isPrinterReady bool
	needAck        bool

	absoluteCoord    bool
	absoluteExtrude  bool
	basePosition     [4]float64
	lastPosition     [4]float64
	homingAdd        [4]float64
	speed            float64 // mm/s
	speedFactor      float64
	extrudeFactor    float64

	currentExtruder int

	inProcess bool // re-entry guard; M112 bypasses it

	history []string // bounded debug ring of recently processed lines
}

const historyLimit = 50

// axisNames indexes X,Y,Z,E by position, matching the toolhead's [4]float64.
var axisNames = [4]string{"X", "Y", "Z", "E"}
var axisLetterIndex = map[string]int{"X": 0, "Y": 1, "Z": 2, "E": 3}

// New creates a Dispatcher bound to an already-configured Toolhead.
// isPrinterReady starts false: commands flagged when_not_ready (M112, M114,
// STATUS, ...) work immediately, everything else is rejected with "Printer
// is not ready" until SetReady(true) is called once startup config (homing
// offsets, heater verification, etc.) completes.
func New(th *toolhead.Toolhead, cfg Config, out io.Writer) *Dispatcher {
	d := &Dispatcher{
		th:              th,
		cfg:             cfg,
		out:             newResponder(out),
		absoluteCoord:   true,
		absoluteExtrude: true,
		speedFactor:     1.0 / 60.0,
		extrudeFactor:   1.0,
		speed:           25.0,
	}
	d.registerHandlers()
	return d
}

// SetReady flips the readiness gate. Call once the machine's startup
// sequence (firmware connect, config load) has completed.
func (d *Dispatcher) SetReady(ready bool) { d.isPrinterReady = ready }

// ProcessLine tokenizes and dispatches a single line, emitting the
// ok/"//"/"!!" response protocol to the configured writer. It is safe to
// call M112 from the handler of a command already in flight; the re-entry
// guard only prevents a *second* ordinary line from being processed while
// one is still running.
func (d *Dispatcher) ProcessLine(line string) {
	d.recordHistory(line)

	params, ok := ParseLine(line)
	if !ok {
		d.out.ack(true)
		return
	}

	// M112 always runs immediately, even while another command's handler
	// is on the stack (e.g. a blocked M109 wait loop), matching the
	// source's dedicated fast path in process_data.
	if strings.EqualFold(params.Command, "M112") {
		d.dispatch(params)
		return
	}

	if d.inProcess {
		d.out.respondError("Command processing already busy")
		return
	}
	d.inProcess = true
	d.dispatch(params)
	d.inProcess = false
}

func (d *Dispatcher) dispatch(params Params) {
	h, ok := d.handlers[params.Command]
	if !ok {
		d.out.respond(fmt.Sprintf("echo:Unknown command:\"%s\"", params.Command))
		d.out.ack(true)
		return
	}
	if !d.isPrinterReady && !h.whenNotReady {
		d.out.respondError("Printer is not ready")
		return
	}
	if err := h.fn(d, params); err != nil {
		if pe, ok := err.(*ParseError); ok {
			d.out.respondError(pe.Error())
			return
		}
		d.out.respondError(err.Error())
		return
	}
	d.out.ack(true)
}

func (d *Dispatcher) recordHistory(line string) {
	d.history = append(d.history, line)
	if len(d.history) > historyLimit {
		d.history = d.history[len(d.history)-historyLimit:]
	}
}

// History returns the most recent processed lines, oldest first, for
// diagnostic dumps (STATUS / crash reports).
func (d *Dispatcher) History() []string {
	out := make([]string, len(d.history))
	copy(out, d.history)
	return out
}

func (d *Dispatcher) register(name string, whenNotReady bool, help string, fn func(d *Dispatcher, p Params) error) {
	if d.handlers == nil {
		d.handlers = make(map[string]handler)
	}
	d.handlers[name] = handler{fn: fn, whenNotReady: whenNotReady, help: help}
}

func (d *Dispatcher) alias(from, to string) {
	d.handlers[from] = d.handlers[to]
}

// registerHandlers builds the full command table. Called once from New.
func (d *Dispatcher) registerHandlers() {
	d.registerMotionHandlers()
	d.registerHeaterHandlers()
	d.registerSystemHandlers()
}

// currentHeater returns the heater backing the active tool (or the bare
// "extruder" heater when no multi-extruder config is present).
func (d *Dispatcher) currentHeater() (*heater.Heater, string, bool) {
	name := "extruder"
	if len(d.cfg.Extruders) > 0 {
		name = d.cfg.Extruders[d.currentExtruder].HeaterName
	}
	h, ok := d.th.Heater(name)
	return h, name, ok
}

func (d *Dispatcher) bedHeater() (*heater.Heater, bool) {
	name := d.cfg.HeaterBedName
	if name == "" {
		name = "heater_bed"
	}
	return d.th.Heater(name)
}

func (d *Dispatcher) namedHeater(name string) (*heater.Heater, bool) {
	if name == "" {
		h, _, ok := d.currentHeater()
		return h, ok
	}
	return d.th.Heater(name)
}

// waitForTemp blocks (pausing the reactor's real clock) until the given
// heater's controller reports it is no longer busy, the mechanism behind
// M109/M190's "and wait" semantics.
func (d *Dispatcher) waitForTemp(h *heater.Heater) {
	for h.CheckBusy(d.th.PrintTime()) {
		waitTick()
	}
}

// waitTick is the poll granularity used by the blocking temperature wait
// loops (M109/M190/M303): short enough to stay responsive to M112, long
// enough not to spin the host CPU.
func waitTick() {
	time.Sleep(50 * time.Millisecond)
}

// sortedHandlerNames returns every registered command name, sorted, for
// HELP.
func (d *Dispatcher) sortedHandlerNames() []string {
	names := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// servoByIndex resolves an M280 P index to a servo.Servo.
func (d *Dispatcher) servoByIndex(i int) (*servo.Servo, bool) {
	reg := d.th.Servos()
	if reg == nil {
		return nil, false
	}
	return reg.ByIndex(i)
}
