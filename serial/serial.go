// Package serial opens the host's connection to an MCU: a thin
// io.ReadWriteCloser over github.com/tarm/serial, configured the way
// Klipper's own host software talks to a firmware board.
package serial

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the minimal surface the protocol package needs from a serial
// connection.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Config describes how to open the link to a given MCU.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout int // milliseconds; 0 blocks
}

// DefaultConfig returns the settings Klipper boards expect: USB CDC ignores
// the baud rate entirely, but tarm/serial still requires one to be set.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}

// uartPort wraps a tarm/serial connection to satisfy Port.
type uartPort struct {
	port *serial.Port
}

// Open dials the device named in cfg.
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("serial: config cannot be nil")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	return &uartPort{port: port}, nil
}

func (p *uartPort) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *uartPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *uartPort) Close() error {
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

// Flush is a no-op: tarm/serial has no explicit flush, and Write already
// blocks until the bytes are handed to the OS.
func (p *uartPort) Flush() error {
	return nil
}
