package audio

import (
	"math"
	"testing"
)

const testRate = 24000.0

func sine(freq float64, amplitude float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	return out
}

func rms(samples []float32) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestHighpassBlocksDC(t *testing.T) {
	hp := NewHighpass(100, testRate)

	buf := make([]float32, 24000)
	for i := range buf {
		buf[i] = 1.0
	}
	hp.Process(buf)

	// After a second of constant input the output must have decayed away.
	tail := buf[len(buf)-1000:]
	if r := rms(tail); r > 0.01 {
		t.Errorf("highpass passed DC: tail rms %f", r)
	}
}

func TestHighpassPassesVoiceBand(t *testing.T) {
	hp := NewHighpass(100, testRate)

	buf := sine(1000, 0.5, 24000)
	ref := rms(buf)
	hp.Process(buf)

	if r := rms(buf[4000:]); r < ref*0.9 {
		t.Errorf("highpass attenuated 1kHz: rms %f, reference %f", r, ref)
	}
}

func TestLowpassAttenuatesAboveCutoff(t *testing.T) {
	lp := NewLowpass(9000, testRate)

	buf := sine(11500, 0.5, 24000)
	ref := rms(buf)
	lp.Process(buf)

	if r := rms(buf[4000:]); r > ref*0.5 {
		t.Errorf("lowpass barely attenuated 11.5kHz: rms %f, reference %f", r, ref)
	}
}

func TestLowpassPassesVoiceBand(t *testing.T) {
	lp := NewLowpass(9000, testRate)

	buf := sine(1000, 0.5, 24000)
	ref := rms(buf)
	lp.Process(buf)

	if r := rms(buf[4000:]); r < ref*0.9 {
		t.Errorf("lowpass attenuated 1kHz: rms %f, reference %f", r, ref)
	}
}

func compressorParams() CompressorParams {
	return CompressorParams{
		ThresholdDB: -24,
		KneeDB:      30,
		Ratio:       8,
		AttackMs:    3,
		ReleaseMs:   250,
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	c := NewCompressor(compressorParams(), testRate)

	// -6 dBFS is 18 dB over the threshold, past the knee: expect close to
	// the full 8:1 reduction once the envelope settles.
	buf := sine(1000, 0.5, 24000)
	ref := rms(buf)
	c.Process(buf)

	r := rms(buf[12000:])
	if r > ref*0.5 {
		t.Errorf("compressor barely reduced a loud signal: rms %f, reference %f", r, ref)
	}
	if r == 0 {
		t.Error("compressor silenced the signal entirely")
	}
}

func TestCompressorLeavesQuietSignal(t *testing.T) {
	c := NewCompressor(compressorParams(), testRate)

	// -60 dBFS sits well below the knee: unity gain.
	buf := sine(1000, 0.001, 24000)
	ref := rms(buf)
	c.Process(buf)

	if r := rms(buf[12000:]); r < ref*0.9 || r > ref*1.1 {
		t.Errorf("compressor altered a quiet signal: rms %f, reference %f", r, ref)
	}
}

func TestCompressorGainCurve(t *testing.T) {
	c := NewCompressor(compressorParams(), testRate)

	if g := c.gainDB(-80); g != 0 {
		t.Errorf("gain below knee = %f dB, want 0", g)
	}
	// 18 dB over threshold: full ratio region, (1/8-1)*18.
	want := (1.0/8 - 1) * 18
	if g := c.gainDB(-6); math.Abs(g-want) > 1e-9 {
		t.Errorf("gain at -6 dB = %f, want %f", g, want)
	}
	// Inside the knee the curve must be between 0 and the full reduction.
	if g := c.gainDB(-24); g >= 0 || g < (1.0/8-1)*15 {
		t.Errorf("knee gain at threshold = %f out of range", g)
	}
}

func TestBiquadReset(t *testing.T) {
	hp := NewHighpass(100, testRate)
	buf := sine(50, 1.0, 4096)
	hp.Process(buf)
	hp.Reset()

	if hp.x1 != 0 || hp.y1 != 0 || hp.x2 != 0 || hp.y2 != 0 {
		t.Error("reset did not clear filter memory")
	}
}
