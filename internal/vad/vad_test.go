package vad

import (
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// fakeAnalyzer returns a fixed spectrum and maps frequencies the way the
// real analyzer does for fftSize=2048, sampleRate=24000.
type fakeAnalyzer struct {
	bins []byte
}

func (f *fakeAnalyzer) ByteFrequencyData() []byte { return f.bins }

func (f *fakeAnalyzer) BinIndex(freqHz float64) int {
	idx := int(freqHz * 2048 / 24000)
	if idx >= 1024 {
		idx = 1024 - 1
	}
	return idx
}

func flatBins(level byte) []byte {
	bins := make([]byte, 1024)
	for i := range bins {
		bins[i] = level
	}
	return bins
}

func testConfig() config.VADConfig {
	return config.VADConfig{
		TickInterval: time.Millisecond,
		BandLowHz:    200,
		BandHighHz:   7000,
		Threshold:    60,
	}
}

func TestThresholdBoundary(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{}, Logger.Nop())

	// Exactly at the threshold: not detected (strict greater-than).
	if energy, detected := d.evaluate(flatBins(60)); detected {
		t.Errorf("energy %f at threshold classified as detected", energy)
	}

	// One unit above: detected.
	if energy, detected := d.evaluate(flatBins(61)); !detected {
		t.Errorf("energy %f above threshold not detected", energy)
	}
}

func TestEvaluateBandRestriction(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{}, Logger.Nop())

	// Energy only outside the 200-7000 Hz band must not trigger.
	bins := make([]byte, 1024)
	loBin := 200 * 2048 / 24000  // 17
	hiBin := 7000 * 2048 / 24000 // 597
	for i := range bins {
		if i < loBin || i > hiBin {
			bins[i] = 255
		}
	}
	if energy, detected := d.evaluate(bins); detected {
		t.Errorf("out-of-band energy triggered detection (energy %f)", energy)
	}
}

func TestEvaluateEmptyBins(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{}, Logger.Nop())
	if _, detected := d.evaluate(nil); detected {
		t.Error("empty spectrum classified as voice")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{bins: flatBins(0)}, Logger.Nop())

	if d.IsActive() {
		t.Fatal("fresh detector reports active")
	}

	d.Start()
	d.Start() // no-op
	if !d.IsActive() {
		t.Fatal("detector not active after Start")
	}

	d.Stop()
	d.Stop() // no-op
	if d.IsActive() {
		t.Fatal("detector active after Stop")
	}
}

// Scenario: average band energy 75 on the byte scale produces a voice
// detection, which is what lets the coordinator start a one-shot session.
func TestDetectionEmitted(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{bins: flatBins(75)}, Logger.Nop())

	d.Start()
	defer d.Stop()

	select {
	case det := <-d.Events():
		if det.Energy != 75 {
			t.Errorf("detection energy = %f, want 75", det.Energy)
		}
	case <-time.After(time.Second):
		t.Fatal("no detection within a second of polling at 75 energy")
	}
}

func TestNoDetectionBelowThreshold(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{bins: flatBins(10)}, Logger.Nop())

	d.Start()
	defer d.Stop()

	select {
	case det := <-d.Events():
		t.Fatalf("unexpected detection with energy %f", det.Energy)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStopTakesEffectOnNextTick(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{bins: flatBins(75)}, Logger.Nop())

	d.Start()
	d.Stop()

	// Drain anything emitted before the stop tick, then confirm silence.
	deadline := time.After(20 * time.Millisecond)
drain:
	for {
		select {
		case <-d.Events():
		case <-deadline:
			break drain
		}
	}

	select {
	case <-d.Events():
		t.Fatal("detector still emitting after stop settled")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestRestartAfterStop(t *testing.T) {
	d := New(testConfig(), &fakeAnalyzer{bins: flatBins(75)}, Logger.Nop())

	d.Start()
	d.Stop()
	d.Start()
	defer d.Stop()

	select {
	case <-d.Events():
	case <-time.After(time.Second):
		t.Fatal("no detection after restart")
	}
}
