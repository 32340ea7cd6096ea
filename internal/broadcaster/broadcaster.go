package broadcaster

import (
	"sync"

	"github.com/vitalcam/vitals-server/internal/logger"
)

// Channel names a status stream. Upload and webcam progress are published on
// separate channels so clients can filter.
type Channel string

const (
	ChannelUpload Channel = "upload"
	ChannelWebcam Channel = "webcam"
)

// Message is one progress update pushed to listeners.
type Message struct {
	Channel Channel `json:"channel"`
	Stage   string  `json:"stage"`
	Message string  `json:"message"`
	Method  string  `json:"method,omitempty"`
	File    string  `json:"file,omitempty"`
}

// Stage values published on the upload channel.
const (
	StageQueued   = "queued"
	StageStart    = "start"
	StageComplete = "complete"
	StageError    = "error"
	// StageCaptured is webcam-only: the camera finished recording and the
	// clip is queued for analysis.
	StageCaptured = "captured"
)

const listenerBuffer = 32

// Broadcaster fans status messages out to registered listeners. Slow or dead
// listeners are dropped rather than blocking the publisher.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[int]chan Message
	nextID    int
}

func New() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[int]chan Message),
	}
}

// Register adds a listener and returns its channel plus an id for Unregister.
func (b *Broadcaster) Register() (int, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Message, listenerBuffer)
	b.listeners[id] = ch

	logger.Debug("Broadcast", "Listener %d registered (%d active)", id, len(b.listeners))
	return id, ch
}

// Unregister removes a listener and closes its channel. Unknown ids are
// ignored so double-unregister is safe.
func (b *Broadcaster) Unregister(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.listeners[id]
	if !ok {
		return
	}
	delete(b.listeners, id)
	close(ch)
	logger.Debug("Broadcast", "Listener %d unregistered (%d active)", id, len(b.listeners))
}

// Broadcast delivers msg to every listener. A listener whose buffer is full
// is treated as disconnected and dropped. Broadcast never blocks and never
// fails.
func (b *Broadcaster) Broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.listeners {
		select {
		case ch <- msg:
		default:
			delete(b.listeners, id)
			close(ch)
			logger.Warn("Broadcast", "Listener %d too slow, dropping", id)
		}
	}
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
