package recognition

import (
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voicewire/voicewire/internal/audio"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// TapSource provides conditioned audio frames for the duration of a
// recognition run. The audio graph satisfies this.
type TapSource interface {
	Tap(buffer int) (uuid.UUID, <-chan audio.Frame)
	CloseTap(id uuid.UUID)
}

// Wire frames exchanged with the STT service. Control frames are JSON
// text messages; audio travels as binary little-endian int16 PCM.
type controlFrame struct {
	Type   string      `json:"type"`
	Config *wireConfig `json:"config,omitempty"`
}

type wireConfig struct {
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interim_results"`
	Locale          string `json:"locale"`
	MaxAlternatives int    `json:"max_alternatives"`
}

type serviceFrame struct {
	Type    string       `json:"type"`
	Results []wireResult `json:"results,omitempty"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
}

type wireResult struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// WSEngine is the production Engine: a websocket client streaming
// conditioned PCM to an STT service and mapping its frames onto the
// engine event model. Each Start dials a fresh connection, so a
// "disabled" engine instance is recovered by simply starting again.
type WSEngine struct {
	url    string
	source TapSource
	logger *Logger.Logger
	events chan Event

	mu          sync.Mutex
	active      bool
	conn        *websocket.Conn
	tapID       uuid.UUID
	aborted     bool
	captureLost bool
	wg          sync.WaitGroup
}

// NewWSEngine fails with ErrEngineUnavailable when no service URL is
// configured; that is this context's ConfigurationError.
func NewWSEngine(url string, source TapSource, logger *Logger.Logger) (*WSEngine, error) {
	if url == "" {
		return nil, ErrEngineUnavailable
	}
	return &WSEngine{
		url:    url,
		source: source,
		logger: logger.Named("engine"),
		events: make(chan Event, 32),
	}, nil
}

func (e *WSEngine) Events() <-chan Event { return e.events }

func (e *WSEngine) Start(cfg Config) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrAlreadyListening
	}
	e.active = true
	e.aborted = false
	e.captureLost = false
	e.mu.Unlock()

	conn, resp, err := websocket.DefaultDialer.Dial(e.url, nil)
	if err != nil {
		code := ErrNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			code = ErrNotAllowed
		}
		e.logger.Warnf("engine dial failed: %v", err)
		e.finish(code, err.Error())
		return nil
	}

	start := controlFrame{
		Type: "start",
		Config: &wireConfig{
			Continuous:      cfg.Continuous,
			InterimResults:  cfg.InterimResults,
			Locale:          cfg.Locale,
			MaxAlternatives: cfg.MaxAlternatives,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		e.finish(ErrNetwork, err.Error())
		return nil
	}

	tapID, frames := e.source.Tap(64)

	e.mu.Lock()
	e.conn = conn
	e.tapID = tapID
	e.mu.Unlock()

	e.emit(Event{Kind: EventStarted, At: time.Now()})

	e.wg.Add(2)
	go e.writeLoop(conn, frames)
	go e.readLoop(conn)
	return nil
}

// Stop requests a graceful stop; the service flushes pending results and
// answers with an end frame.
func (e *WSEngine) Stop() {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.WriteJSON(controlFrame{Type: "stop"}); err != nil {
		e.logger.Debugf("stop control write failed: %v", err)
		conn.Close()
	}
}

// Abort drops the connection; the read loop reports "aborted" and End.
func (e *WSEngine) Abort() {
	e.mu.Lock()
	conn := e.conn
	e.aborted = true
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (e *WSEngine) writeLoop(conn *websocket.Conn, frames <-chan audio.Frame) {
	defer e.wg.Done()

	for f := range frames {
		buf := make([]byte, len(f.Samples)*2)
		for i, s := range f.Samples {
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(s*32767)))
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			// The read loop sees the same broken connection and reports.
			return
		}
	}

	// Tap closed under us. If the run is already over that is just our own
	// teardown; otherwise the capture graph is gone.
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.captureLost = true
	e.mu.Unlock()
	e.emit(Event{Kind: EventError, Code: ErrAudioCapture, Message: "audio source closed", At: time.Now()})
	conn.Close()
}

func (e *WSEngine) readLoop(conn *websocket.Conn) {
	defer e.wg.Done()

	for {
		var frame serviceFrame
		if err := conn.ReadJSON(&frame); err != nil {
			e.mu.Lock()
			aborted, captureLost := e.aborted, e.captureLost
			e.mu.Unlock()

			switch {
			case aborted:
				e.finish(ErrAborted, "recognition aborted")
			case captureLost:
				// Error already emitted by the write loop.
				e.finishSilently()
			default:
				e.finish(ErrNetwork, err.Error())
			}
			return
		}

		switch frame.Type {
		case "result":
			results := make([]Result, 0, len(frame.Results))
			for _, r := range frame.Results {
				results = append(results, Result{Text: r.Text, Final: r.Final})
			}
			e.emit(Event{Kind: EventResult, Results: results, At: time.Now()})
		case "error":
			e.emit(Event{Kind: EventError, Code: ErrorCode(frame.Code), Message: frame.Message, At: time.Now()})
		case "end":
			e.finishSilently()
			return
		default:
			e.logger.Debugf("unknown service frame type %q", frame.Type)
		}
	}
}

// finish emits a final error followed by End and releases run resources.
func (e *WSEngine) finish(code ErrorCode, message string) {
	e.emit(Event{Kind: EventError, Code: code, Message: message, At: time.Now()})
	e.finishSilently()
}

func (e *WSEngine) finishSilently() {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return
	}
	e.active = false
	conn, tapID := e.conn, e.tapID
	e.conn = nil
	e.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if tapID != uuid.Nil {
		e.source.CloseTap(tapID)
	}
	e.emit(Event{Kind: EventEnd, At: time.Now()})
}

func (e *WSEngine) emit(ev Event) {
	e.events <- ev
}
