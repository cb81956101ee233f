package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// Analyser byte scale mapping range, in dB. Magnitudes at or below minDB
// map to 0, at or above maxDB map to 255.
const (
	analyserMinDB = -100.0
	analyserMaxDB = -30.0
)

// Analyzer keeps a sliding window of the most recent fftSize conditioned
// samples and exposes a smoothed byte-scaled frequency spectrum. It is the
// one component read concurrently (the conditioning loop writes, the VAD
// polls), so access is serialized internally.
type Analyzer struct {
	mu         sync.Mutex
	fftSize    int
	sampleRate int
	smoothing  float64

	ring   []float64 // time-domain sample window
	pos    int
	win    []float64 // precomputed Hann window
	smooth []float64 // smoothed linear magnitudes, one per bin
}

func NewAnalyzer(fftSize, sampleRate int, smoothing float64) *Analyzer {
	return &Analyzer{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		smoothing:  smoothing,
		ring:       make([]float64, fftSize),
		win:        window.Hann(fftSize),
		smooth:     make([]float64, fftSize/2),
	}
}

func (a *Analyzer) FFTSize() int    { return a.fftSize }
func (a *Analyzer) SampleRate() int { return a.sampleRate }

// BinCount is the number of frequency bins (fftSize / 2).
func (a *Analyzer) BinCount() int { return a.fftSize / 2 }

// BinIndex maps a frequency in Hz to its bin index.
func (a *Analyzer) BinIndex(freqHz float64) int {
	idx := int(math.Floor(freqHz * float64(a.fftSize) / float64(a.sampleRate)))
	if idx < 0 {
		idx = 0
	}
	if idx >= a.BinCount() {
		idx = a.BinCount() - 1
	}
	return idx
}

// Push appends conditioned samples to the sliding window.
func (a *Analyzer) Push(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData computes the current spectrum, folds it into the
// smoothed magnitudes, and returns one byte per bin scaled so that
// analyserMinDB..analyserMaxDB maps onto 0..255.
func (a *Analyzer) ByteFrequencyData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Unroll the ring into chronological order and window it.
	buf := make([]float64, a.fftSize)
	for i := 0; i < a.fftSize; i++ {
		buf[i] = a.ring[(a.pos+i)%a.fftSize] * a.win[i]
	}

	spectrum := fft.FFTReal(buf)

	out := make([]byte, a.BinCount())
	norm := 1 / float64(a.fftSize)
	for k := 0; k < a.BinCount(); k++ {
		mag := cmplx.Abs(spectrum[k]) * norm
		a.smooth[k] = a.smoothing*a.smooth[k] + (1-a.smoothing)*mag

		db := -math.MaxFloat64
		if a.smooth[k] > 0 {
			db = 20 * math.Log10(a.smooth[k])
		}

		scaled := 255 * (db - analyserMinDB) / (analyserMaxDB - analyserMinDB)
		switch {
		case scaled < 0:
			out[k] = 0
		case scaled > 255:
			out[k] = 255
		default:
			out[k] = byte(scaled)
		}
	}

	return out
}
