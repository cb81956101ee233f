package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/internal/config"
	"github.com/voicewire/voicewire/pkg/Logger"
)

type fakeSource struct {
	mu       sync.Mutex
	onFrame  func(Frame)
	started  int
	closed   int
	startErr error
}

func (s *fakeSource) Start(onFrame func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.onFrame = onFrame
	s.started++
	return nil
}

func (s *fakeSource) Stop() error { return nil }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// emit simulates the capture thread delivering a frame.
func (s *fakeSource) emit(f Frame) {
	s.mu.Lock()
	cb := s.onFrame
	s.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		SampleRate:          24000,
		HighpassCutoffHz:    100,
		LowpassCutoffHz:     9000,
		CompressorThreshold: -24,
		CompressorKnee:      30,
		CompressorRatio:     8,
		CompressorAttack:    3,
		CompressorRelease:   250,
		FFTSize:             2048,
		Smoothing:           0.8,
	}
}

func waitFrame(t *testing.T, ch <-chan Frame) Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatal("tap closed before a frame arrived")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a conditioned frame")
	}
	return Frame{}
}

func TestGraphDeliversConditionedFrames(t *testing.T) {
	src := &fakeSource{}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer g.Close()

	_, tap := g.Tap(4)
	src.emit(Frame{Samples: sine(1000, 0.5, 768), Timestamp: time.Now(), SampleRate: 24000})

	f := waitFrame(t, tap)
	if len(f.Samples) != 768 {
		t.Errorf("frame has %d samples, want 768", len(f.Samples))
	}
	if f.SampleRate != 24000 {
		t.Errorf("frame rate = %d, want 24000", f.SampleRate)
	}
}

func TestGraphDoubleInitialize(t *testing.T) {
	src := &fakeSource{}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer g.Close()

	if err := g.Initialize(); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize = %v, want ErrAlreadyInitialized", err)
	}
	if src.started != 1 {
		t.Errorf("source started %d times, want 1", src.started)
	}
}

func TestGraphInitializeSourceFailure(t *testing.T) {
	wantErr := &CaptureError{Reason: ReasonPermissionDenied, Err: errors.New("denied")}
	src := &fakeSource{startErr: wantErr}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	err := g.Initialize()
	var ce *CaptureError
	if !errors.As(err, &ce) || ce.Reason != ReasonPermissionDenied {
		t.Fatalf("Initialize = %v, want permission-denied capture error", err)
	}

	// A failed start must leave the graph reusable.
	src.startErr = nil
	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize after failure: %v", err)
	}
	g.Close()
}

func TestGraphCloseTapStopsDelivery(t *testing.T) {
	src := &fakeSource{}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer g.Close()

	id, tap := g.Tap(4)
	g.CloseTap(id)

	if _, ok := <-tap; ok {
		t.Error("tap channel still open after CloseTap")
	}
}

func TestGraphCloseClosesTapsAndSource(t *testing.T) {
	src := &fakeSource{}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, tap := g.Tap(4)

	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
	if _, ok := <-tap; ok {
		t.Error("tap channel still open after Close")
	}

	// Close on a closed graph is a no-op.
	if err := g.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestGraphAnalyzerSeesConditionedAudio(t *testing.T) {
	src := &fakeSource{}
	g := NewGraph(testAudioConfig(), src, Logger.Nop())

	if err := g.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer g.Close()

	_, tap := g.Tap(8)
	for i := 0; i < 4; i++ {
		src.emit(Frame{Samples: sine(1000, 0.5, 768), Timestamp: time.Now(), SampleRate: 24000})
	}
	for i := 0; i < 4; i++ {
		waitFrame(t, tap)
	}

	bins := g.Analyzer().ByteFrequencyData()
	bin := g.Analyzer().BinIndex(1000)
	if bins[bin] == 0 {
		t.Error("analyzer saw no energy at the tone's bin")
	}
}
