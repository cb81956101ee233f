package recognition

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Session states. Exactly one session exists per coordinator.
const (
	StateIdle                = "idle"
	StateListeningOneShot    = "listening_oneshot"
	StateListeningContinuous = "listening_continuous"
	StateDisabled            = "disabled"
)

// fsm event names.
const (
	evStart   = "start"
	evPromote = "promote"
	evDemote  = "demote"
	evEnd     = "end"
	evDisable = "disable"
)

type SessionEventKind int

const (
	// SessionEngineStarted: the underlying engine accepted a run.
	SessionEngineStarted SessionEventKind = iota
	// SessionTranscript: an interim or final transcript fragment.
	SessionTranscript
	// SessionStateChanged: the session state machine moved.
	SessionStateChanged
	// SessionFatalError: a non-retryable engine error; continuous mode has
	// been forced off and the session is heading for disabled.
	SessionFatalError
)

// Transcript is a recognized fragment tagged with finality. Consumed
// immediately by the wake/sleep classifier; never persisted.
type Transcript struct {
	Text  string
	Final bool
	At    time.Time
}

type SessionEvent struct {
	Kind       SessionEventKind
	State      string
	Transcript Transcript
	Code       ErrorCode
	Message    string
}

// Clock abstracts retry scheduling so tests control time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SessionConfig carries the session-level recognition settings. The
// continuous flag is not here: it is session state, toggled only by the
// promote/demote transitions.
type SessionConfig struct {
	Locale          string
	MaxAlternatives int
	NetworkRetry    time.Duration
	DefaultRetry    time.Duration
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdEnableContinuous
	cmdDisableContinuous
)

type command struct {
	kind  cmdKind
	reply chan error
}

// Session wraps an Engine with the idle / one-shot / continuous /
// disabled state machine and owns the retry policy for the engine's
// error taxonomy. All session state is confined to the Run loop; the
// public methods post commands into it, which is what makes the strict
// ordering discipline hold without locks around the state itself.
type Session struct {
	cfg    SessionConfig
	engine Engine
	logger *Logger.Logger
	clock  Clock

	machine *fsm.FSM
	events  chan SessionEvent
	cmds    chan command

	// Loop-confined state.
	listening        bool
	continuousWanted bool
	fatalPending     bool
	stopRequested    bool
	demoteAfterStop  bool
	pendingRestart   *time.Duration
	restartCh        <-chan time.Time
	stopWaiters      []chan error
	demoteWaiters    []chan error

	continuousFlag atomic.Bool // observable mirror of continuousWanted
}

func NewSession(cfg SessionConfig, engine Engine, logger *Logger.Logger) *Session {
	return newSessionWithClock(cfg, engine, logger, realClock{})
}

func newSessionWithClock(cfg SessionConfig, engine Engine, logger *Logger.Logger, clock Clock) *Session {
	s := &Session{
		cfg:    cfg,
		engine: engine,
		logger: logger.Named("session"),
		clock:  clock,
		events: make(chan SessionEvent, 64),
		cmds:   make(chan command),
	}

	s.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: evStart, Src: []string{StateIdle, StateDisabled}, Dst: StateListeningOneShot},
			{Name: evPromote, Src: []string{StateListeningOneShot}, Dst: StateListeningContinuous},
			{Name: evDemote, Src: []string{StateListeningContinuous}, Dst: StateListeningOneShot},
			{Name: evEnd, Src: []string{StateListeningOneShot, StateListeningContinuous}, Dst: StateIdle},
			{Name: evDisable, Src: []string{StateListeningOneShot, StateListeningContinuous}, Dst: StateDisabled},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.emit(SessionEvent{Kind: SessionStateChanged, State: e.Dst})
			},
		},
	)

	return s
}

// Events delivers session events to the coordinator.
func (s *Session) Events() <-chan SessionEvent { return s.events }

// State reports the current machine state.
func (s *Session) State() string { return s.machine.Current() }

// Continuous reports whether continuous mode is currently wanted.
func (s *Session) Continuous() bool { return s.continuousFlag.Load() }

// StartListening begins a one-shot session. Fails if an engine run is
// already active. From disabled this starts a fresh engine run, which is
// how a disabled session is explicitly revived.
func (s *Session) StartListening(ctx context.Context) error {
	return s.do(ctx, cmdStart)
}

// StopListening requests a graceful stop and returns only once the engine
// has fully ended. Callers needing a clean restart must rely on this, or
// two sessions could race.
func (s *Session) StopListening(ctx context.Context) error {
	return s.do(ctx, cmdStop)
}

// EnableContinuous turns continuous mode on for subsequent engine runs.
// The engine cannot be reconfigured mid-utterance, so the current run
// finishes one-shot and the next restart picks the flag up.
func (s *Session) EnableContinuous(ctx context.Context) error {
	return s.do(ctx, cmdEnableContinuous)
}

// DisableContinuous turns continuous mode off, stopping the current run
// and restarting it one-shot. It returns once the demotion is complete.
func (s *Session) DisableContinuous(ctx context.Context) error {
	return s.do(ctx, cmdDisableContinuous)
}

func (s *Session) do(ctx context.Context, kind cmdKind) error {
	reply := make(chan error, 1)
	select {
	case s.cmds <- command{kind: kind, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the session until ctx is done. It must be running before
// any public method is called.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if s.listening {
				s.engine.Abort()
			}
			s.failWaiters(ctx.Err())
			return

		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)

		case ev := <-s.engine.Events():
			s.handleEngineEvent(ctx, ev)

		case <-s.restartCh:
			s.restartCh = nil
			s.startEngine()
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStart:
		if s.listening {
			cmd.reply <- ErrAlreadyListening
			return
		}
		s.restartCh = nil
		s.pendingRestart = nil
		s.setContinuous(false)
		s.transition(ctx, evStart)
		s.startEngine()
		cmd.reply <- nil

	case cmdStop:
		s.setContinuous(false)
		s.pendingRestart = nil
		s.restartCh = nil
		if !s.listening {
			// A pending delayed restart was the only activity; cancelling
			// it means the episode is over.
			if s.State() == StateListeningOneShot || s.State() == StateListeningContinuous {
				s.transition(ctx, evEnd)
			}
			cmd.reply <- nil
			return
		}
		s.stopRequested = true
		s.stopWaiters = append(s.stopWaiters, cmd.reply)
		s.engine.Stop()

	case cmdEnableContinuous:
		// Only a listening session can be promoted. A run that ended just
		// before the wake was confirmed must not leave the flag armed
		// while idle; the next start picks its own mode.
		if s.State() != StateListeningOneShot && s.State() != StateListeningContinuous {
			s.logger.Debugf("continuous request ignored while %s", s.State())
			cmd.reply <- nil
			return
		}
		s.setContinuous(true)
		s.transition(ctx, evPromote)
		cmd.reply <- nil

	case cmdDisableContinuous:
		s.setContinuous(false)
		if s.State() != StateListeningContinuous {
			cmd.reply <- nil
			return
		}
		if !s.listening {
			// Between restarts; no run to stop.
			s.transition(ctx, evDemote)
			s.startEngine()
			cmd.reply <- nil
			return
		}
		s.demoteAfterStop = true
		s.demoteWaiters = append(s.demoteWaiters, cmd.reply)
		s.engine.Stop()
	}
}

func (s *Session) handleEngineEvent(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventStarted:
		s.listening = true
		s.emit(SessionEvent{Kind: SessionEngineStarted})

	case EventResult:
		s.handleResults(ev)

	case EventError:
		s.applyErrorPolicy(ev)

	case EventEnd:
		s.handleEnd(ctx)
	}
}

// handleResults partitions one result event into a single interim string
// and a single final string and publishes the non-empty ones.
func (s *Session) handleResults(ev Event) {
	var interim, final string
	for _, r := range ev.Results {
		if r.Final {
			final += r.Text
		} else {
			interim += r.Text
		}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if interim != "" {
		s.emit(SessionEvent{Kind: SessionTranscript, Transcript: Transcript{Text: interim, Final: false, At: at}})
	}
	if final != "" {
		s.emit(SessionEvent{Kind: SessionTranscript, Transcript: Transcript{Text: final, Final: true, At: at}})
	}
}

// applyErrorPolicy implements the per-code recovery table. Restarts are
// recorded here and executed once the engine's End arrives, which is the
// point where we are provably "not currently listening".
func (s *Session) applyErrorPolicy(ev Event) {
	switch {
	case ev.Code == ErrNoSpeech:
		d := time.Duration(0)
		s.pendingRestart = &d

	case ev.Code == ErrAborted:
		// Expected on explicit stop; nothing to do.

	case ev.Code.Fatal():
		s.logger.Warnw("fatal engine error", "code", ev.Code, "message", ev.Message)
		s.fatalPending = true
		s.setContinuous(false)
		s.pendingRestart = nil
		s.emit(SessionEvent{Kind: SessionFatalError, Code: ev.Code, Message: ev.Message})

	case ev.Code == ErrNetwork:
		d := s.cfg.NetworkRetry
		s.pendingRestart = &d
		s.logger.Debugw("network error, restart scheduled", "delay", d)

	default:
		d := s.cfg.DefaultRetry
		s.pendingRestart = &d
		s.logger.Debugw("engine error, restart scheduled", "code", ev.Code, "delay", d)
	}
}

// handleEnd resolves what one engine run ending means for the episode:
// fatal shutdown, demotion restart, explicit stop, continuous self-loop,
// retry, or a plain return to idle.
func (s *Session) handleEnd(ctx context.Context) {
	s.listening = false

	for _, w := range s.stopWaiters {
		w <- nil
	}
	s.stopWaiters = nil

	switch {
	case s.fatalPending:
		s.fatalPending = false
		s.pendingRestart = nil
		s.stopRequested = false
		s.transition(ctx, evDisable)
		s.replyDemoteWaiters(nil)

	case s.demoteAfterStop:
		s.demoteAfterStop = false
		s.transition(ctx, evDemote)
		s.startEngine()
		s.replyDemoteWaiters(nil)

	case s.stopRequested:
		s.stopRequested = false
		s.transition(ctx, evEnd)

	case s.continuousWanted:
		// Continuous self-loop: restart instead of yielding to the VAD.
		s.startEngine()

	case s.pendingRestart != nil:
		d := *s.pendingRestart
		s.pendingRestart = nil
		if d == 0 {
			s.startEngine()
		} else {
			// Still the same listening episode; state stays put so the
			// coordinator keeps the VAD off during the backoff.
			s.restartCh = s.clock.After(d)
		}

	default:
		s.transition(ctx, evEnd)
	}
}

func (s *Session) startEngine() {
	cfg := Config{
		Continuous:      s.continuousWanted,
		InterimResults:  true,
		Locale:          s.cfg.Locale,
		MaxAlternatives: s.cfg.MaxAlternatives,
	}
	if err := s.engine.Start(cfg); err != nil {
		s.logger.Warnf("engine start failed: %v", err)
	}
}

func (s *Session) setContinuous(v bool) {
	s.continuousWanted = v
	s.continuousFlag.Store(v)
}

func (s *Session) transition(ctx context.Context, event string) {
	if err := s.machine.Event(ctx, event); err != nil {
		s.logger.Debugf("no-op transition %q from %s: %v", event, s.machine.Current(), err)
	}
}

func (s *Session) replyDemoteWaiters(err error) {
	for _, w := range s.demoteWaiters {
		w <- err
	}
	s.demoteWaiters = nil
}

func (s *Session) failWaiters(err error) {
	for _, w := range s.stopWaiters {
		w <- err
	}
	s.stopWaiters = nil
	s.replyDemoteWaiters(err)
}

func (s *Session) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
		return
	default:
	}

	if ev.Kind != SessionStateChanged && ev.Kind != SessionFatalError {
		s.logger.Warnw("session event dropped, consumer lagging", "kind", ev.Kind)
		return
	}

	// State changes drive the coordinator's VAD handoff and must land even
	// under a lagging consumer: displace the oldest queued event. Emit runs
	// only on the session goroutine, so the freed slot cannot be stolen.
	select {
	case old := <-s.events:
		s.logger.Warnw("displacing queued session event for state change", "kind", old.Kind)
	default:
	}
	s.events <- ev
}
