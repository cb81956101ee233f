package audio

import (
	"sync"

	"github.com/google/uuid"
)

// Player is anything that can currently be producing sound: a TTS stream,
// a media element proxied by a client, a local playback device.
type Player interface {
	Playing() bool
	Pause()
}

// PlaybackRegistry tracks live players so the coordinator can silence
// everything before capturing a command.
type PlaybackRegistry struct {
	mu      sync.Mutex
	players map[uuid.UUID]Player
}

func NewPlaybackRegistry() *PlaybackRegistry {
	return &PlaybackRegistry{players: make(map[uuid.UUID]Player)}
}

func (r *PlaybackRegistry) Register(p Player) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.players[id] = p
	return id
}

func (r *PlaybackRegistry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, id)
}

// StopAll pauses every player that is currently playing and returns how
// many were paused. Idempotent: players already paused are left alone.
func (r *PlaybackRegistry) StopAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	paused := 0
	for _, p := range r.players {
		if p.Playing() {
			p.Pause()
			paused++
		}
	}
	return paused
}

func (r *PlaybackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}
