// Command printerhost runs the host-side control core: it connects to a
// Klipper-style MCU (or a simulated one for dry runs), loads the machine
// description, wires up kinematics/heaters/servos/toolhead, and reads
// G-code lines from stdin until EOF, the role gopper-host's interactive
// loop played for raw dictionary commands.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"printerhost/config"
	"printerhost/mcu"
	"printerhost/reactor"
	"printerhost/serial"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides config file)")
	configPath = flag.String("config", "printer.yaml", "Path to the machine description YAML file")
	fileOutput = flag.Bool("file-output", false, "Run against an in-memory simulated MCU instead of a real board")
)

func main() {
	flag.Parse()

	fmt.Println("printerhost - CoreXY control core")
	fmt.Println("==================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.SerialDevice = *device
	}

	r := reactor.New()
	go r.Run()
	defer r.Stop()

	var board mcu.MCU
	if *fileOutput || cfg.FileOutput {
		fmt.Println("running against simulated MCU (file-output mode)")
		board = mcu.NewSimMCU(true)
	} else {
		fmt.Printf("connecting to MCU on %s...\n", cfg.SerialDevice)
		serialCfg := serial.DefaultConfig(cfg.SerialDevice)
		serialCfg.Baud = cfg.SerialBaud
		sm, err := mcu.DialWithConfig(serialCfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: connecting to MCU: %v\n", err)
			os.Exit(1)
		}
		defer sm.Close()
		board = sm
		fmt.Println("connected")
	}

	built, err := config.Build(cfg, r, board, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: building machine: %v\n", err)
		os.Exit(1)
	}
	built.Dispatcher.SetReady(true)

	fmt.Println("ready; reading G-code from stdin (Ctrl-D to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		built.Dispatcher.ProcessLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
		os.Exit(1)
	}
}
