package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/Logger"
)

var ErrAlreadyInitialized = errors.New("audio graph already initialized")

// ringCapacity holds roughly four seconds of 32ms float32 frames at 24kHz.
const ringCapacity = 1 << 20

// Graph owns the capture source and the fixed conditioning chain:
//
//	source -> highpass 100Hz -> lowpass 9kHz -> compressor -> analyzer
//
// Conditioned frames fan out to taps (the recognition engine attaches one
// while a session is live) and optionally to a debug recorder. At most one
// graph is live per process; Initialize on a live graph is an error.
type Graph struct {
	cfg    config.AudioConfig
	logger *Logger.Logger
	source Source

	ring     *FrameRing
	highpass *Biquad
	lowpass  *Biquad
	comp     *Compressor
	analyzer *Analyzer

	mu          sync.Mutex
	taps        map[uuid.UUID]chan Frame
	recorder    *Recorder
	initialized bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewGraph(cfg config.AudioConfig, source Source, logger *Logger.Logger) *Graph {
	rate := float64(cfg.SampleRate)
	return &Graph{
		cfg:    cfg,
		logger: logger.Named("audio"),
		source: source,

		ring:     NewFrameRing(ringCapacity),
		highpass: NewHighpass(cfg.HighpassCutoffHz, rate),
		lowpass:  NewLowpass(cfg.LowpassCutoffHz, rate),
		comp: NewCompressor(CompressorParams{
			ThresholdDB: cfg.CompressorThreshold,
			KneeDB:      cfg.CompressorKnee,
			Ratio:       cfg.CompressorRatio,
			AttackMs:    cfg.CompressorAttack,
			ReleaseMs:   cfg.CompressorRelease,
		}, rate),
		analyzer: NewAnalyzer(cfg.FFTSize, cfg.SampleRate, cfg.Smoothing),
		taps:     make(map[uuid.UUID]chan Frame),
	}
}

// Analyzer exposes the frequency analyzer handle for the VAD.
func (g *Graph) Analyzer() *Analyzer { return g.analyzer }

// Initialize starts capture and the conditioning loop. Callers gate this
// behind the capability grant; the graph itself only guards against double
// initialization. Failures carry a *CaptureError and are terminal.
func (g *Graph) Initialize() error {
	g.mu.Lock()
	if g.initialized {
		g.mu.Unlock()
		return ErrAlreadyInitialized
	}
	g.initialized = true
	g.stopCh = make(chan struct{})
	g.mu.Unlock()

	if err := g.source.Start(func(f Frame) {
		// Capture-thread side: hand off and get out.
		_ = g.ring.Enqueue(f)
	}); err != nil {
		g.mu.Lock()
		g.initialized = false
		g.mu.Unlock()
		return err
	}

	g.wg.Add(1)
	go g.conditionLoop()

	g.logger.Infow("audio graph initialized",
		"sampleRate", g.cfg.SampleRate,
		"highpassHz", g.cfg.HighpassCutoffHz,
		"lowpassHz", g.cfg.LowpassCutoffHz,
		"fftSize", g.cfg.FFTSize,
	)
	return nil
}

func (g *Graph) conditionLoop() {
	defer g.wg.Done()

	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		f, ok := g.ring.Dequeue()
		if !ok {
			select {
			case <-g.stopCh:
				return
			case <-time.After(500 * time.Microsecond):
			}
			continue
		}

		g.highpass.Process(f.Samples)
		g.lowpass.Process(f.Samples)
		g.comp.Process(f.Samples)
		g.analyzer.Push(f.Samples)
		g.fanOut(f)
	}
}

func (g *Graph) fanOut(f Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.recorder != nil {
		if err := g.recorder.Write(f.Samples); err != nil {
			g.logger.Warnf("debug recorder write failed: %v", err)
			g.recorder = nil
		}
	}

	for _, ch := range g.taps {
		select {
		case ch <- f:
		default:
			// A lagging tap loses frames rather than stalling the chain.
		}
	}
}

// Tap attaches a conditioned-frame subscriber. The channel is closed when
// the tap is removed or the graph shuts down.
func (g *Graph) Tap(buffer int) (uuid.UUID, <-chan Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uuid.New()
	ch := make(chan Frame, buffer)
	g.taps[id] = ch
	return id, ch
}

func (g *Graph) CloseTap(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ch, ok := g.taps[id]; ok {
		delete(g.taps, id)
		close(ch)
	}
}

// SetRecorder attaches a debug recorder to the conditioned stream. Pass
// nil to detach.
func (g *Graph) SetRecorder(r *Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

// Close tears the graph down: stops capture, drains the loop, and closes
// every tap.
func (g *Graph) Close() error {
	g.mu.Lock()
	if !g.initialized {
		g.mu.Unlock()
		return nil
	}
	g.initialized = false
	close(g.stopCh)
	g.mu.Unlock()

	g.wg.Wait()
	err := g.source.Close()

	g.mu.Lock()
	for id, ch := range g.taps {
		delete(g.taps, id)
		close(ch)
	}
	if g.recorder != nil {
		if cerr := g.recorder.Close(); cerr != nil {
			g.logger.Warnf("closing debug recorder: %v", cerr)
		}
		g.recorder = nil
	}
	g.mu.Unlock()

	if g.ring.Dropped() > 0 {
		g.logger.Debugf("frame ring dropped %d frames over the graph's lifetime", g.ring.Dropped())
	}
	return err
}
