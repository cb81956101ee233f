package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/voicewire/voicewire/pkg/Logger"
)

// Publisher is the outbound half of the bus as the coordinator sees it.
type Publisher interface {
	Publish(msg Message)
}

// Dispatcher fans published messages out to in-process subscribers (the
// websocket server, tests). Sends never block: a subscriber that stops
// draining loses messages, which matches the bus's at-most-once contract.
type Dispatcher struct {
	logger *Logger.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]chan Message
}

func NewDispatcher(logger *Logger.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.Named("bus"),
		subs:   make(map[uuid.UUID]chan Message),
	}
}

func (d *Dispatcher) Subscribe(buffer int) (uuid.UUID, <-chan Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.New()
	ch := make(chan Message, buffer)
	d.subs[id] = ch
	return id, ch
}

func (d *Dispatcher) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *Dispatcher) Publish(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, ch := range d.subs {
		select {
		case ch <- msg:
		default:
			d.logger.Warnw("dropping message for lagging subscriber",
				"type", msg.Type, "subscriber", id)
		}
	}
}
