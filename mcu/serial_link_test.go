package mcu

import (
	"bytes"
	"compress/zlib"
	"testing"

	"printerhost/protocol"
)

func TestTryDecompressRoundTrip(t *testing.T) {
	want := []byte(`{"version":"v1","commands":{"queue_step":5}}`)
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(want); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	w.Close()

	got, err := tryDecompress(buf.Bytes())
	if err != nil {
		t.Fatalf("tryDecompress: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("tryDecompress() = %q, want %q", got, want)
	}
}

func TestTryDecompressRejectsNonZlibData(t *testing.T) {
	if _, err := tryDecompress([]byte("not zlib")); err == nil {
		t.Error("expected error for non-zlib-framed data")
	}
}

func TestSendNamedRequiresConnection(t *testing.T) {
	m := NewSerialLink()
	err := m.SendNamed("queue_step", func(output protocol.OutputBuffer) {})
	if err == nil {
		t.Fatal("expected error sending on an unconnected link")
	}
}
