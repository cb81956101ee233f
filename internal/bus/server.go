package bus

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Server bridges the in-process dispatcher to websocket clients: outbound
// messages broadcast to every connected client, inbound client messages
// land on a single channel consumed by the coordinator.
type Server struct {
	logger     *Logger.Logger
	dispatcher *Dispatcher
	inbound    chan Message
	upgrader   websocket.Upgrader
}

func NewServer(dispatcher *Dispatcher, logger *Logger.Logger) *Server {
	return &Server{
		logger:     logger.Named("bus.server"),
		dispatcher: dispatcher,
		inbound:    make(chan Message, 32),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// TODO: restrict origins once the extension ID is pinned.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Inbound delivers messages received from any connected client.
func (s *Server) Inbound() <-chan Message { return s.inbound }

func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", s.handleWS)
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	clientID := uuid.New()
	s.logger.Infow("bus client connected", "client", clientID)

	subID, out := s.dispatcher.Subscribe(64)
	defer s.dispatcher.Unsubscribe(subID)

	done := make(chan struct{})
	go s.writePump(conn, out, done)
	defer close(done)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debugw("bus client gone", "client", clientID, "err", err)
			return
		}
		if msg.ID == uuid.Nil {
			msg.ID = uuid.New()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}

		select {
		case s.inbound <- msg:
		default:
			s.logger.Warnw("inbound bus queue full, dropping message",
				"type", msg.Type, "client", clientID)
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, out <-chan Message, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debugf("bus write failed: %v", err)
				return
			}
		}
	}
}
