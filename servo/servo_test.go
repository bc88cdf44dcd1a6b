package servo

import (
	"testing"

	"printerhost/mcu"
)

func TestNewAppliesDefaults(t *testing.T) {
	sim := mcu.NewSimMCU(true)
	sv, err := New(Config{Name: "servo", Pin: "gpio15"}, sim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sv.maxAngle != 180 {
		t.Errorf("maxAngle = %v, want default 180", sv.maxAngle)
	}
	if sv.minPulseWidth != 0.001 || sv.maxPulseWidth != 0.002 {
		t.Errorf("pulse width range = [%v, %v], want [0.001, 0.002]", sv.minPulseWidth, sv.maxPulseWidth)
	}
}

func TestSetAngleClampsToConfiguredRange(t *testing.T) {
	sim := mcu.NewSimMCU(true)
	sv, err := New(Config{Name: "servo", Pin: "gpio15", MaximumServoAngle: 90}, sim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sv.SetAngle(0, 999)
	if sv.lastPulsewidth != sv.maxPulseWidth {
		t.Errorf("expected pulsewidth clamped to max, got %v want %v", sv.lastPulsewidth, sv.maxPulseWidth)
	}

	sv.SetAngle(0, -50)
	if sv.lastPulsewidth != sv.minPulseWidth {
		t.Errorf("expected pulsewidth clamped to min, got %v want %v", sv.lastPulsewidth, sv.minPulseWidth)
	}
}

func TestRegistryByIndexAndByName(t *testing.T) {
	sim := mcu.NewSimMCU(true)
	reg, err := NewRegistry([]Config{
		{Name: "servo0", Pin: "gpio15"},
		{Name: "servo1", Pin: "gpio16"},
	}, sim)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, ok := reg.ByIndex(0); !ok {
		t.Error("expected servo at index 0")
	}
	if _, ok := reg.ByIndex(2); ok {
		t.Error("expected no servo at index 2")
	}
	if _, ok := reg.ByName("servo1"); !ok {
		t.Error("expected servo1 to be found by name")
	}
	if _, ok := reg.ByName("servo2"); ok {
		t.Error("expected servo2 to be absent")
	}
}
