// Package coordinator composes the audio graph, the voice activity
// detector, the recognition session, and the wake/sleep classifier into
// the hands-free listening loop, and speaks the bus vocabulary upstream.
package coordinator

import (
	"context"
	"errors"

	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/internal/bus"
	"github.com/voicewire/voicewire/internal/recognition"
	"github.com/voicewire/voicewire/internal/vad"
	"github.com/voicewire/voicewire/internal/wake"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Pipeline is the slice of the audio graph the coordinator drives.
type Pipeline interface {
	Initialize() error
	Close() error
}

// VoiceDetector is the VAD surface the coordinator drives.
type VoiceDetector interface {
	Start()
	Stop()
	IsActive() bool
	Events() <-chan vad.Detection
}

// RecognitionSession is the session surface the coordinator drives.
type RecognitionSession interface {
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	EnableContinuous(ctx context.Context) error
	DisableContinuous(ctx context.Context) error
	State() string
	Continuous() bool
	Events() <-chan recognition.SessionEvent
}

// Playback is the audio-domain side effect used on wake.
type Playback interface {
	StopAll() int
}

// Coordinator owns the commandDetected latch and the mutual-exclusion
// protocol: a running recognition session means the VAD is stopped, an
// idle or disabled session means the VAD is running. All coordinator
// state lives on the Run loop.
type Coordinator struct {
	logger   *Logger.Logger
	pipeline Pipeline
	detector VoiceDetector
	session  RecognitionSession
	playback Playback
	pub      bus.Publisher
	inbound  <-chan bus.Message

	// Loop-confined state.
	granted bool // capability grant: capture may be initialized
	latch   bool // commandDetected
}

func New(
	pipeline Pipeline,
	detector VoiceDetector,
	session RecognitionSession,
	playback Playback,
	pub bus.Publisher,
	inbound <-chan bus.Message,
	logger *Logger.Logger,
) *Coordinator {
	return &Coordinator{
		logger:   logger.Named("coordinator"),
		pipeline: pipeline,
		detector: detector,
		session:  session,
		playback: playback,
		pub:      pub,
		inbound:  inbound,
	}
}

// Run drives the coordinator until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return

		case msg := <-c.inbound:
			c.handleInbound(ctx, msg)

		case det := <-c.detector.Events():
			c.handleVoiceDetected(ctx, det)

		case ev := <-c.session.Events():
			c.handleSessionEvent(ctx, ev)
		}
	}
}

func (c *Coordinator) handleInbound(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.TypeCopilotStart:
		c.handleGrant()

	case bus.TypeCopilotStop:
		c.handleRevoke(ctx)

	case bus.TypeStartListening:
		if !c.granted {
			c.logger.Debug("START_LISTENING before grant, ignoring")
			return
		}
		c.detector.Stop()
		if err := c.session.StartListening(ctx); err != nil {
			c.logger.Debugf("start listening request: %v", err)
			c.ensureVADForState()
		}

	case bus.TypeStopListening:
		if err := c.session.StopListening(ctx); err != nil {
			c.logger.Debugf("stop listening request: %v", err)
		}

	default:
		c.logger.Debugw("ignoring inbound message", "type", msg.Type)
	}
}

// handleGrant is the user-gesture precondition made explicit: the first
// COPILOT_START initializes capture; repeats while granted are ignored.
func (c *Coordinator) handleGrant() {
	if c.granted {
		c.logger.Debug("capture already granted, ignoring repeat grant")
		return
	}

	if err := c.pipeline.Initialize(); err != nil {
		// Terminal: no retry until a fresh grant arrives.
		reason := "capture-failed"
		var capErr *audio.CaptureError
		if errors.As(err, &capErr) {
			reason = string(capErr.Reason)
		}
		c.logger.Errorw("capture initialization failed", "reason", reason, "err", err)
		c.pub.Publish(bus.New(bus.TypeAudioCaptureError, bus.ErrorPayload{
			Error:   reason,
			Message: err.Error(),
		}))
		return
	}

	c.granted = true
	c.pub.Publish(bus.New(bus.TypeAudioCaptureStarted, nil))
	c.detector.Start()
}

func (c *Coordinator) handleRevoke(ctx context.Context) {
	if !c.granted {
		return
	}
	c.granted = false
	c.latch = false

	if err := c.session.StopListening(ctx); err != nil {
		c.logger.Debugf("stopping session on revoke: %v", err)
	}
	c.detector.Stop()
	if err := c.pipeline.Close(); err != nil {
		c.logger.Warnf("closing audio graph: %v", err)
	}
	c.pub.Publish(bus.New(bus.TypeAudioCaptureStopped, nil))
}

func (c *Coordinator) handleVoiceDetected(ctx context.Context, det vad.Detection) {
	if !c.granted {
		return
	}
	state := c.session.State()
	if state != recognition.StateIdle && state != recognition.StateDisabled {
		// A tick that raced the handoff; the session already owns the mic.
		return
	}

	c.detector.Stop()
	c.pub.Publish(bus.New(bus.TypeVoiceActivityDetected, nil))
	c.logger.Debugw("voice detected", "energy", det.Energy)

	if err := c.session.StartListening(ctx); err != nil {
		c.logger.Warnf("could not start listening after voice detection: %v", err)
		c.detector.Start()
	}
}

func (c *Coordinator) handleSessionEvent(ctx context.Context, ev recognition.SessionEvent) {
	switch ev.Kind {
	case recognition.SessionEngineStarted:
		c.pub.Publish(bus.New(bus.TypeSpeechRecognitionStarted, nil))

	case recognition.SessionTranscript:
		c.handleTranscript(ctx, ev.Transcript)

	case recognition.SessionStateChanged:
		c.handleStateChanged(ev.State)

	case recognition.SessionFatalError:
		// The session forces continuous off and heads for disabled; our
		// side is clearing the latch and surfacing the one error signal.
		c.latch = false
		c.pub.Publish(bus.New(bus.TypeSpeechRecognitionError, bus.ErrorPayload{
			Error:   string(ev.Code),
			Message: ev.Message,
		}))
	}
}

func (c *Coordinator) handleStateChanged(state string) {
	switch state {
	case recognition.StateIdle:
		c.latch = false
		c.pub.Publish(bus.New(bus.TypeSpeechRecognitionEnded, nil))
		c.ensureVADForState()

	case recognition.StateDisabled:
		c.latch = false
		c.ensureVADForState()

	default:
		// Listening states own the mic exclusively.
		c.detector.Stop()
	}
}

// handleTranscript routes one transcript through the latch-guarded
// wake/sleep protocol. The latch guarantees a wake phrase appearing in
// both the interim and the final variant of one utterance fires the
// command-started signal exactly once.
func (c *Coordinator) handleTranscript(ctx context.Context, t recognition.Transcript) {
	switch {
	case !c.latch && wake.IsWake(t.Text):
		c.latch = true
		if paused := c.playback.StopAll(); paused > 0 {
			c.logger.Debugf("paused %d players for command capture", paused)
		}
		if err := c.session.EnableContinuous(ctx); err != nil {
			c.logger.Warnf("enabling continuous mode: %v", err)
		}
		c.pub.Publish(bus.New(bus.TypeUserCommandStarted, nil))
		if t.Final {
			c.pub.Publish(bus.New(bus.TypeUserCommandResult, bus.ResultPayload{Transcript: t.Text}))
		}

	case c.latch && wake.IsSleep(t.Text):
		// Await the graceful stop; starting a new one-shot run before the
		// engine has ended would race two sessions.
		if err := c.session.DisableContinuous(ctx); err != nil {
			c.logger.Warnf("disabling continuous mode: %v", err)
		}
		c.pub.Publish(bus.New(bus.TypeCopilotStop, nil))
		c.latch = false

	default:
		if c.latch && t.Final {
			c.pub.Publish(bus.New(bus.TypeUserCommandResult, bus.ResultPayload{Transcript: t.Text}))
			if !c.session.Continuous() {
				// One-shot capture is complete once its final is out.
				c.latch = false
			}
		}
	}
}

// ensureVADForState restores the invariant "VAD active iff session idle
// or disabled" after a session transition.
func (c *Coordinator) ensureVADForState() {
	if !c.granted {
		return
	}
	state := c.session.State()
	if state == recognition.StateIdle || state == recognition.StateDisabled {
		c.detector.Start()
	}
}

func (c *Coordinator) shutdown() {
	c.detector.Stop()
	if c.granted {
		if err := c.pipeline.Close(); err != nil {
			c.logger.Warnf("closing audio graph on shutdown: %v", err)
		}
		c.granted = false
	}
}
