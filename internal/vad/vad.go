// Package vad implements the always-on voice activity detector: a cheap
// band-energy poll over the analyzer that gates the much more expensive
// recognition session.
package vad

import (
	"sync"
	"time"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Analyzer is the slice of the audio graph the detector needs.
type Analyzer interface {
	ByteFrequencyData() []byte
	BinIndex(freqHz float64) int
}

// Detection is emitted when band energy exceeds the threshold.
type Detection struct {
	Energy float64
	At     time.Time
}

// Detector polls the analyzer on a fixed-period ticker (the stand-in for
// a rendering-frame callback) and emits a Detection whenever the average
// energy in the voice band strictly exceeds the configured threshold.
// The loop keeps polling regardless of detections; Stop takes effect at
// the next tick boundary.
type Detector struct {
	cfg      config.VADConfig
	logger   *Logger.Logger
	analyzer Analyzer

	events chan Detection

	mu     sync.Mutex
	active bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg config.VADConfig, analyzer Analyzer, logger *Logger.Logger) *Detector {
	return &Detector{
		cfg:      cfg,
		logger:   logger.Named("vad"),
		analyzer: analyzer,
		events:   make(chan Detection, 1),
	}
}

// Events delivers detections. The channel holds at most one pending
// detection; when the consumer lags, newer detections are dropped
// (latest-wins, detections are level signals not a queue).
func (d *Detector) Events() <-chan Detection { return d.events }

// Start begins the polling loop. Starting an active detector is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return
	}
	d.active = true
	d.stopCh = make(chan struct{})

	d.wg.Add(1)
	go d.pollLoop(d.stopCh)
	d.logger.Debugw("voice detection started",
		"tick", d.cfg.TickInterval,
		"bandHz", []float64{d.cfg.BandLowHz, d.cfg.BandHighHz},
		"threshold", d.cfg.Threshold,
	)
}

// Stop requests the loop to end; it takes effect on the next tick.
// Stopping an inactive detector is a no-op. Stop does not wait.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return
	}
	d.active = false
	close(d.stopCh)
	d.logger.Debug("voice detection stopped")
}

func (d *Detector) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Detector) pollLoop(stopCh <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			energy, detected := d.evaluate(d.analyzer.ByteFrequencyData())
			if detected {
				select {
				case d.events <- Detection{Energy: energy, At: time.Now()}:
				default:
				}
			}
		}
	}
}

// evaluate averages the byte energy across the voice band and applies the
// strict greater-than threshold. Energy exactly at the threshold is not a
// detection.
func (d *Detector) evaluate(bins []byte) (float64, bool) {
	if len(bins) == 0 {
		return 0, false
	}

	lo := d.analyzer.BinIndex(d.cfg.BandLowHz)
	hi := d.analyzer.BinIndex(d.cfg.BandHighHz)
	if hi >= len(bins) {
		hi = len(bins) - 1
	}
	if lo > hi {
		return 0, false
	}

	sum := 0.0
	for i := lo; i <= hi; i++ {
		sum += float64(bins[i])
	}
	energy := sum / float64(hi-lo+1)
	return energy, energy > d.cfg.Threshold
}
