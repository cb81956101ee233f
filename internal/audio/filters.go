package audio

import (
	"math"
)

// Biquad is a second-order IIR filter section (RBJ audio EQ cookbook
// coefficients). The chain uses one highpass and one lowpass section.
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewHighpass returns a biquad highpass with Butterworth Q.
func NewHighpass(cutoffHz, sampleRate float64) *Biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / math.Sqrt2

	a0 := 1 + alpha
	return &Biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewLowpass returns a biquad lowpass with Butterworth Q.
func NewLowpass(cutoffHz, sampleRate float64) *Biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	cosw0 := math.Cos(w0)
	alpha := math.Sin(w0) / math.Sqrt2

	a0 := 1 + alpha
	return &Biquad{
		b0: (1 - cosw0) / 2 / a0,
		b1: (1 - cosw0) / a0,
		b2: (1 - cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// Process filters the samples in place.
func (f *Biquad) Process(samples []float32) {
	for i, s := range samples {
		x := float64(s)
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		samples[i] = float32(y)
	}
}

// Reset clears the filter memory.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// Compressor is a feed-forward dynamics compressor with a soft knee and
// exponential attack/release envelope smoothing.
type Compressor struct {
	thresholdDB float64
	kneeDB      float64
	ratio       float64
	attackCoef  float64
	releaseCoef float64
	envelopeDB  float64
}

type CompressorParams struct {
	ThresholdDB float64
	KneeDB      float64
	Ratio       float64
	AttackMs    float64
	ReleaseMs   float64
}

func NewCompressor(p CompressorParams, sampleRate float64) *Compressor {
	return &Compressor{
		thresholdDB: p.ThresholdDB,
		kneeDB:      p.KneeDB,
		ratio:       p.Ratio,
		attackCoef:  math.Exp(-1 / (p.AttackMs / 1000 * sampleRate)),
		releaseCoef: math.Exp(-1 / (p.ReleaseMs / 1000 * sampleRate)),
		envelopeDB:  -120,
	}
}

// gainDB computes the static compression curve for an input level in dB.
func (c *Compressor) gainDB(levelDB float64) float64 {
	over := levelDB - c.thresholdDB
	switch {
	case over <= -c.kneeDB/2:
		return 0
	case over < c.kneeDB/2:
		// Quadratic interpolation inside the knee.
		t := over + c.kneeDB/2
		return (1/c.ratio - 1) * t * t / (2 * c.kneeDB)
	default:
		return (1/c.ratio - 1) * over
	}
}

// Process applies compression in place.
func (c *Compressor) Process(samples []float32) {
	for i, s := range samples {
		levelDB := -120.0
		if abs := math.Abs(float64(s)); abs > 1e-6 {
			levelDB = 20 * math.Log10(abs)
		}

		// Attack when the level rises, release when it falls.
		coef := c.releaseCoef
		if levelDB > c.envelopeDB {
			coef = c.attackCoef
		}
		c.envelopeDB = levelDB + coef*(c.envelopeDB-levelDB)

		gain := math.Pow(10, c.gainDB(c.envelopeDB)/20)
		samples[i] = float32(float64(s) * gain)
	}
}

// Reset clears the envelope state.
func (c *Compressor) Reset() {
	c.envelopeDB = -120
}
