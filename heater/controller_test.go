package heater

import "testing"

func TestBangBangHysteresis(t *testing.T) {
	b := NewBangBang(2.0, 1.0)
	var lastValue float64
	setPWM := func(readTime, value float64) { lastValue = value }

	b.AdcCallback(0, 190, 200, setPWM)
	if lastValue != 1.0 {
		t.Errorf("expected full power below target-delta, got %v", lastValue)
	}
	if !b.CheckBusy(0, 190, 200) {
		t.Error("expected CheckBusy true while below target-delta")
	}

	b.AdcCallback(1, 203, 200, setPWM)
	if lastValue != 0 {
		t.Errorf("expected off above target+delta, got %v", lastValue)
	}
}

func TestPIDConvergesTowardsZeroErrorOutput(t *testing.T) {
	p := NewPID(0.04, 0.003, 0.2, 2.0, 1.0, 1.0)
	var lastValue float64
	setPWM := func(readTime, value float64) { lastValue = value }

	// Temperature well below target: expect near-max output.
	p.AdcCallback(0, 20, 200, setPWM)
	if lastValue <= 0 {
		t.Errorf("expected positive output when far below target, got %v", lastValue)
	}

	// Temperature at target with zero derivative: output should be small
	// (integral term only, no proportional/derivative contribution).
	p2 := NewPID(0.04, 0.0, 0.2, 2.0, 1.0, 1.0)
	p2.prevTemp = 200
	p2.AdcCallback(1, 200, 200, setPWM)
	if lastValue != 0 {
		t.Errorf("expected zero output at target with zero Ki, got %v", lastValue)
	}
}

func TestPIDOutputBoundedByMaxPower(t *testing.T) {
	p := NewPID(10, 10, 0, 2.0, 1.0, 1.0)
	var lastValue float64
	setPWM := func(readTime, value float64) { lastValue = value }
	p.AdcCallback(0, 0, 500, setPWM)
	if lastValue > 1.0 {
		t.Errorf("expected output clamped to max_power 1.0, got %v", lastValue)
	}
}

func TestAutoTuneAccumulatesPeaksAndProducesResult(t *testing.T) {
	a := NewAutoTune(1.0, NewBangBang(2, 1), 200)
	setPWM := func(readTime, value float64) {}

	// Drive enough oscillation cycles around the target to cross the
	// 4-peaks threshold and populate LastResult.
	time := 0.0
	temp := 150.0
	for i := 0; i < 20; i++ {
		time += 1.0
		if i%2 == 0 {
			temp = 205
		} else {
			temp = 190
		}
		a.AdcCallback(time, temp, 200, setPWM)
	}

	if len(a.peaks) < 4 {
		t.Fatalf("expected at least 4 peaks recorded, got %d", len(a.peaks))
	}
	if a.LastResult.Ku == 0 {
		t.Error("expected LastResult to be populated once peaks accumulate")
	}
}

func TestAutoTuneCheckBusyUntilTwelvePeaks(t *testing.T) {
	a := NewAutoTune(1.0, NewBangBang(2, 1), 200)
	if !a.CheckBusy(0, 0, 0) {
		t.Error("expected CheckBusy true before any peaks recorded")
	}
	a.peaks = make([]peak, 12)
	a.heating = false
	if a.CheckBusy(0, 0, 0) {
		t.Error("expected CheckBusy false once 12 peaks recorded and not heating")
	}
}

func TestTuneResultLogLineScalesByPIDParamBase(t *testing.T) {
	r := TuneResult{Ku: 1, Tu: 2, Kp: 1.0 / 255, Ki: 0.5 / 255, Kd: 0.1 / 255}
	line := r.LogLine()
	if line == "" {
		t.Fatal("expected non-empty log line")
	}
}

func TestBumpTestPhaseProgression(t *testing.T) {
	b := NewBumpTest(1.0, NewBangBang(2, 1), 200)
	setPWM := func(readTime, value float64) {}

	// Phase 0: ambient sampling until 20 samples collected.
	for i := 0; i < 20; i++ {
		b.AdcCallback(float64(i), 25, 200, setPWM)
	}
	if b.state < 1 {
		t.Fatalf("expected phase advance after 20 ambient samples, state=%d", b.state)
	}

	// Phase 1: ramps at full power until target reached.
	b.AdcCallback(20, 250, 200, setPWM)
	if b.state < 2 {
		t.Fatalf("expected phase advance once target reached, state=%d", b.state)
	}

	if !b.CheckBusy(0, 0, 0) {
		t.Error("expected CheckBusy true before phase 3")
	}
}
