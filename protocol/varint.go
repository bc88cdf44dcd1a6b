package protocol

import "errors"

var ErrShortRead = errors.New("protocol: not enough bytes for varint")

// EncodeVarint writes v using Klipper's signed VLQ encoding: 7 bits per
// byte, most-significant group first, continuation bit set on every byte
// but the last.
func EncodeVarint(output OutputBuffer, v int32) {
	if !(-(1<<26) <= v && v < (3<<26)) {
		output.Output([]byte{byte((v>>28)&0x7F) | 0x80})
	}
	if !(-(1<<19) <= v && v < (3<<19)) {
		output.Output([]byte{byte((v>>21)&0x7F) | 0x80})
	}
	if !(-(1<<12) <= v && v < (3<<12)) {
		output.Output([]byte{byte((v>>14)&0x7F) | 0x80})
	}
	if !(-(1<<5) <= v && v < (3<<5)) {
		output.Output([]byte{byte((v>>7)&0x7F) | 0x80})
	}
	output.Output([]byte{byte(v & 0x7F)})
}

func EncodeUvarint(output OutputBuffer, v uint32) {
	EncodeVarint(output, int32(v))
}

// DecodeVarint reads one signed varint off the front of *data, advancing
// the slice past the bytes consumed.
func DecodeVarint(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrShortRead
	}

	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F) // sign-extend a negative value
	}

	for c&0x80 != 0 {
		if len(*data) == 0 {
			return 0, ErrShortRead
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = (v << 7) | (c & 0x7F)
	}

	return int32(v), nil
}

func DecodeUvarint(data *[]byte) (uint32, error) {
	v, err := DecodeVarint(data)
	return uint32(v), err
}

// EncodeBytes writes a varint length prefix followed by data.
func EncodeBytes(output OutputBuffer, data []byte) {
	EncodeUvarint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeBytes reads a length-prefixed byte string off the front of *data.
func DecodeBytes(data *[]byte) ([]byte, error) {
	n, err := DecodeUvarint(data)
	if err != nil {
		return nil, err
	}
	if len(*data) < int(n) {
		return nil, ErrShortRead
	}
	result := (*data)[:n]
	*data = (*data)[n:]
	return result, nil
}
