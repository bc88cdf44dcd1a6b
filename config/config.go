// Package config loads the YAML machine description (serial device,
// CoreXY stepper/endstop geometry, heaters, servos, fan, extruders) and
// wires it into the running stepper/kinematics/heater/servo/toolhead/gcode
// object graph, the role the teacher's JSON MachineConfig played for its
// standalone build, now sourced from disk via koanf the way the rest of
// the example pack configures its services.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"printerhost/gcode"
	"printerhost/heater"
	"printerhost/kinematics"
	"printerhost/mcu"
	"printerhost/reactor"
	"printerhost/servo"
	"printerhost/stepper"
	"printerhost/toolhead"
)

// StepperConfig describes one configured axis motor.
type StepperConfig struct {
	StepPin           string  `yaml:"StepPin"`
	DirPin            string  `yaml:"DirPin"`
	EnablePin         string  `yaml:"EnablePin"`
	MicrostepsPerMM   float64 `yaml:"MicrostepsPerMM"`
	PositionMin       float64 `yaml:"PositionMin"`
	PositionMax       float64 `yaml:"PositionMax"`
	PositionEndstop   float64 `yaml:"PositionEndstop"`
	EndstopPin        string  `yaml:"EndstopPin"`
	HomingPositiveDir bool    `yaml:"HomingPositiveDir"`
	HomingRetractDist float64 `yaml:"HomingRetractDist"`
	HomingSpeed       float64 `yaml:"HomingSpeed"`
}

// HeaterConfig describes one temperature channel: its pins, limits, and
// either linear or Steinhart-Hart thermistor sensor coefficients.
type HeaterConfig struct {
	HeaterPin      string  `yaml:"HeaterPin"`
	SensorPin      string  `yaml:"SensorPin"`
	SensorType     string  `yaml:"SensorType"` // "linear" or "thermistor"
	Gain           float64 `yaml:"Gain"`
	Offset         float64 `yaml:"Offset"`
	C1             float64 `yaml:"C1"`
	C2             float64 `yaml:"C2"`
	C3             float64 `yaml:"C3"`
	Pullup         float64 `yaml:"Pullup"`
	MinTemp        float64 `yaml:"MinTemp"`
	MaxTemp        float64 `yaml:"MaxTemp"`
	MinExtrudeTemp float64 `yaml:"MinExtrudeTemp"`
	MaxPower       float64 `yaml:"MaxPower"`
	ControlMode    string  `yaml:"ControlMode"` // "bangbang" or "pid"
	BangBangDelta  float64 `yaml:"BangBangDelta"`
	PIDKp          float64 `yaml:"PIDKp"`
	PIDKi          float64 `yaml:"PIDKi"`
	PIDKd          float64 `yaml:"PIDKd"`
	PIDIntegralMax float64 `yaml:"PIDIntegralMax"`
}

// ServoConfig describes one M280-addressable servo output.
type ServoConfig struct {
	Name                string  `yaml:"Name"`
	Pin                 string  `yaml:"Pin"`
	MinimumPulseWidthUs float64 `yaml:"MinimumPulseWidthUs"`
	MaximumPulseWidthUs float64 `yaml:"MaximumPulseWidthUs"`
	MaximumServoAngle   float64 `yaml:"MaximumServoAngle"`
}

// ExtruderConfig binds one heater to a tool index for multi-extruder
// machines; NozzleOffset is the XYZ offset from tool 0 applied on T<n>.
type ExtruderConfig struct {
	Name         string     `yaml:"Name"`
	HeaterName   string     `yaml:"HeaterName"`
	NozzleOffset [3]float64 `yaml:"NozzleOffset"`
}

// Config is the full machine description.
type Config struct {
	SerialDevice string `yaml:"SerialDevice"`
	SerialBaud   int    `yaml:"SerialBaud"`
	FileOutput   bool   `yaml:"FileOutput"`

	MaxVelocity  float64 `yaml:"MaxVelocity"`
	MaxAccel     float64 `yaml:"MaxAccel"`
	MaxZVelocity float64 `yaml:"MaxZVelocity"`
	MaxZAccel    float64 `yaml:"MaxZAccel"`

	StepperX StepperConfig `yaml:"StepperX"`
	StepperY StepperConfig `yaml:"StepperY"`
	StepperZ StepperConfig `yaml:"StepperZ"`

	Heaters map[string]HeaterConfig `yaml:"Heaters"`
	Servos  []ServoConfig           `yaml:"Servos"`

	Extruders     []ExtruderConfig `yaml:"Extruders"`
	HeaterBedName string           `yaml:"HeaterBedName"`
	FanPin        string           `yaml:"FanPin"`
}

// defaultConfig mirrors the teacher's DefaultCartesianConfig: a sane
// machine usable the moment the binary starts with no YAML file present,
// adjusted from cartesian to CoreXY pin/limit conventions.
func defaultConfig() Config {
	return Config{
		SerialDevice: "/dev/ttyACM0",
		SerialBaud:   250000,
		FileOutput:   true,
		MaxVelocity:  300.0,
		MaxAccel:     3000.0,
		MaxZVelocity: 10.0,
		MaxZAccel:    100.0,
		StepperX: StepperConfig{
			StepPin: "gpio0", DirPin: "gpio1", EnablePin: "gpio8",
			MicrostepsPerMM: 80.0, PositionMin: 0, PositionMax: 220,
			PositionEndstop: 220, EndstopPin: "gpio20",
			HomingPositiveDir: true, HomingRetractDist: 5, HomingSpeed: 50,
		},
		StepperY: StepperConfig{
			StepPin: "gpio2", DirPin: "gpio3", EnablePin: "gpio8",
			MicrostepsPerMM: 80.0, PositionMin: 0, PositionMax: 220,
			PositionEndstop: 220, EndstopPin: "gpio21",
			HomingPositiveDir: true, HomingRetractDist: 5, HomingSpeed: 50,
		},
		StepperZ: StepperConfig{
			StepPin: "gpio4", DirPin: "gpio5", EnablePin: "gpio8",
			MicrostepsPerMM: 400.0, PositionMin: 0, PositionMax: 250,
			PositionEndstop: 0, EndstopPin: "gpio22",
			HomingPositiveDir: false, HomingRetractDist: 2, HomingSpeed: 5,
		},
		Heaters: map[string]HeaterConfig{
			"extruder": {
				HeaterPin: "gpio10", SensorPin: "ADC0", SensorType: "thermistor",
				C1: 0.000722958, C2: 0.000216301, C3: 0.000000877913, Pullup: 4700,
				MinTemp: 0, MaxTemp: 300, MinExtrudeTemp: 170, MaxPower: 1.0,
				ControlMode: "pid", PIDKp: 22.2 / 255, PIDKi: 1.08 / 255, PIDKd: 114 / 255,
			},
			"heater_bed": {
				HeaterPin: "gpio11", SensorPin: "ADC1", SensorType: "thermistor",
				C1: 0.000722958, C2: 0.000216301, C3: 0.000000877913, Pullup: 4700,
				MinTemp: 0, MaxTemp: 150, MaxPower: 1.0,
				ControlMode: "bangbang", BangBangDelta: 2.0,
			},
		},
		HeaterBedName: "heater_bed",
		FanPin:        "gpio12",
	}
}

// Load reads path as YAML over top of defaultConfig, matching the
// andor-http pattern of seeding koanf with a structs.Provider default and
// layering a file.Provider/yaml.Parser on top; a missing file is not an
// error, the defaults apply as-is.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "yaml"), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return Config{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// buildStepper creates one axis's stepper+endstop MCU handles and its host
// Stepper bookkeeping object.
func buildStepper(m mcu.MCU, name string, sc StepperConfig) (*stepper.Stepper, error) {
	mcuStepper, err := m.CreateStepper(mcu.StepperPins{
		Name: name, StepPin: sc.StepPin, DirPin: sc.DirPin, EnablePin: sc.EnablePin,
	})
	if err != nil {
		return nil, fmt.Errorf("config: stepper %s: %w", name, err)
	}
	s := stepper.New(name, sc.MicrostepsPerMM, mcuStepper)
	s.PositionMin = sc.PositionMin
	s.PositionMax = sc.PositionMax
	s.PositionEndstop = sc.PositionEndstop
	s.HomingPositiveDir = sc.HomingPositiveDir
	s.HomingRetractDist = sc.HomingRetractDist
	s.HomingSpeed = sc.HomingSpeed

	if sc.EndstopPin != "" {
		endstop, err := m.CreateEndstop(sc.EndstopPin)
		if err != nil {
			return nil, fmt.Errorf("config: endstop %s: %w", name, err)
		}
		endstop.AddStepper(mcuStepper)
		s.MCUEndstop = endstop
	}
	return s, nil
}

func buildSensor(hc HeaterConfig) heater.Sensor {
	if hc.SensorType == "linear" {
		return heater.NewLinearSensor(hc.Gain, hc.Offset)
	}
	return heater.NewThermistorSensor(hc.C1, hc.C2, hc.C3, hc.Pullup)
}

func buildController(hc HeaterConfig) heater.Controller {
	if hc.ControlMode == "pid" {
		integMax := hc.PIDIntegralMax
		if integMax == 0 {
			integMax = hc.MaxPower
		}
		return heater.NewPID(hc.PIDKp, hc.PIDKi, hc.PIDKd, 2.0, integMax, hc.MaxPower)
	}
	delta := hc.BangBangDelta
	if delta == 0 {
		delta = 2.0
	}
	return heater.NewBangBang(delta, hc.MaxPower)
}

// Built is the fully wired object graph Load's Config produces.
type Built struct {
	Kinematics *kinematics.CoreXY
	Heaters    map[string]*heater.Heater
	Servos     *servo.Registry
	Toolhead   *toolhead.Toolhead
	Dispatcher *gcode.Dispatcher
}

// Build constructs the full object graph described by cfg against an
// already-connected MCU and reactor, the final assembly step before the
// command loop can run.
func Build(cfg Config, r *reactor.Reactor, m mcu.MCU, out io.Writer) (*Built, error) {
	sx, err := buildStepper(m, "stepper_x", cfg.StepperX)
	if err != nil {
		return nil, err
	}
	sy, err := buildStepper(m, "stepper_y", cfg.StepperY)
	if err != nil {
		return nil, err
	}
	sz, err := buildStepper(m, "stepper_z", cfg.StepperZ)
	if err != nil {
		return nil, err
	}
	kin := kinematics.New(sx, sy, sz, cfg.MaxZVelocity, cfg.MaxZAccel)

	heaters := make(map[string]*heater.Heater, len(cfg.Heaters))
	for name, hc := range cfg.Heaters {
		h, err := heater.New(heater.Config{
			Name: name, Sensor: buildSensor(hc),
			MinTemp: hc.MinTemp, MaxTemp: hc.MaxTemp,
			MinExtrudeTemp: hc.MinExtrudeTemp, MaxPower: hc.MaxPower,
			FileOutput: cfg.FileOutput,
		}, m, hc.HeaterPin, hc.SensorPin, buildController(hc))
		if err != nil {
			return nil, fmt.Errorf("config: heater %s: %w", name, err)
		}
		heaters[name] = h
	}

	var servoCfgs []servo.Config
	for _, sc := range cfg.Servos {
		servoCfgs = append(servoCfgs, servo.Config{
			Name: sc.Name, Pin: sc.Pin,
			MinimumPulseWidthUs: sc.MinimumPulseWidthUs,
			MaximumPulseWidthUs: sc.MaximumPulseWidthUs,
			MaximumServoAngle:   sc.MaximumServoAngle,
		})
	}
	servos, err := servo.NewRegistry(servoCfgs, m)
	if err != nil {
		return nil, fmt.Errorf("config: servos: %w", err)
	}

	th := toolhead.New(r, m, kin, toolhead.Config{MaxVelocity: cfg.MaxVelocity, MaxAccel: cfg.MaxAccel}, heaters, servos)

	var fan mcu.PWMOutput
	if cfg.FanPin != "" {
		fan, err = m.CreatePWM(cfg.FanPin, 0.100, false, 0)
		if err != nil {
			return nil, fmt.Errorf("config: fan: %w", err)
		}
	}

	var extruders []gcode.Extruder
	for _, ec := range cfg.Extruders {
		extruders = append(extruders, gcode.Extruder{
			Name: ec.Name, HeaterName: ec.HeaterName, NozzleOffset: ec.NozzleOffset,
		})
	}

	dispatcher := gcode.New(th, gcode.Config{
		Extruders:     extruders,
		HeaterBedName: cfg.HeaterBedName,
		Fan:           fan,
	}, out)

	return &Built{
		Kinematics: kin,
		Heaters:    heaters,
		Servos:     servos,
		Toolhead:   th,
		Dispatcher: dispatcher,
	}, nil
}
