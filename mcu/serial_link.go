package mcu

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"printerhost/protocol"
	"printerhost/serial"
)

// maxCommandRate bounds how fast the host emits queue_* commands onto the
// wire. Step/PWM bursts from the kinematics and heater packages can otherwise
// outrun a board's UART buffer during a dense move; this mirrors the way a
// rate-limited instrument link protects a slow serial peer.
const maxCommandRate = 2000

// SerialLink owns the raw wire connection to a microcontroller: the serial
// port, the framed command link on top of it, and the parsed command/response
// dictionary the MCU announces on connect. SerialMCU builds the mcu.MCU
// interface on top of a SerialLink by resolving named commands through the
// dictionary instead of hardcoding command IDs.
type SerialLink struct {
	link *protocol.CommandLink
	port serial.Port

	dictionary     *Dictionary
	dictionaryData []byte

	connected bool
	limiter   *rate.Limiter
}

// Dictionary is the parsed MCU identify response: the set of config values,
// command/response templates, and enumerations the firmware build exposes.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewSerialLink creates a SerialLink that is not yet connected.
func NewSerialLink() *SerialLink {
	return &SerialLink{}
}

// Connect opens device with the library's default serial settings.
func (m *SerialLink) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens the serial port and starts the framed command link.
func (m *SerialLink) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("mcu: open serial port: %w", err)
	}

	m.port = port
	m.link = protocol.NewCommandLink(port)
	m.connected = true
	m.limiter = rate.NewLimiter(rate.Limit(maxCommandRate), maxCommandRate/10)

	m.link.SetResponseHandler(m.handleResponse)

	// MCUs that have just powered on need a moment before they'll answer.
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Close closes the command link and serial port.
func (m *SerialLink) Close() error {
	if m.link != nil {
		if err := m.link.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// RetrieveDictionary pulls the full identify payload in chunks and parses it.
func (m *SerialLink) RetrieveDictionary() error {
	if !m.connected {
		return fmt.Errorf("mcu: not connected")
	}

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	chunkSize := uint8(40)
	const maxIterations = 1000

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("mcu: retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < int(chunkSize) {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()

	if decompressed, err := tryDecompress(m.dictionaryData); err == nil && len(decompressed) > 0 {
		m.dictionaryData = decompressed
	}

	return m.parseDictionary()
}

func (m *SerialLink) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.link.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeUvarint(output, offset)
		protocol.EncodeUvarint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("send identify: %w", err)
	}

	resp, err := m.link.ReceiveResponse(1 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("receive identify response: %w", err)
	}

	payload := resp.Payload

	cmdID, err := protocol.DecodeUvarint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response command id: %w", err)
	}
	if cmdID != 0 {
		return nil, fmt.Errorf("unexpected response command id: %d (expected 0)", cmdID)
	}

	respOffset, err := protocol.DecodeUvarint(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}

	return data, nil
}

// tryDecompress decompresses a zlib-framed dictionary payload. Firmware
// identify data is compressed the same way upstream Klipper compresses it;
// the standard library's compress/zlib reads that format directly, so there
// is no need for the MCU-side tinycompress encoder here.
func tryDecompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x78 {
		return nil, fmt.Errorf("mcu: dictionary payload is not zlib-framed")
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mcu: zlib reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("mcu: zlib decompress: %w", err)
	}
	return out, nil
}

func (m *SerialLink) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("mcu: unmarshal dictionary json: %w", err)
	}
	m.dictionary = dict
	return nil
}

func (m *SerialLink) handleResponse(cmdID uint16, data *[]byte) error {
	return nil
}

func (m *SerialLink) GetDictionary() *Dictionary { return m.dictionary }

func (m *SerialLink) GetDictionaryRaw() []byte { return m.dictionaryData }

// SendNamed sends a command resolved by name through the dictionary.
func (m *SerialLink) SendNamed(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return fmt.Errorf("mcu: not connected")
	}
	if m.dictionary == nil {
		return fmt.Errorf("mcu: dictionary not loaded")
	}
	cmdID, ok := m.dictionary.Commands[name]
	if !ok {
		return fmt.Errorf("mcu: unknown command %q", name)
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("mcu: rate limiter: %w", err)
		}
	}
	return m.link.SendCommand(uint16(cmdID), args)
}

func (m *SerialLink) IsConnected() bool { return m.connected }
