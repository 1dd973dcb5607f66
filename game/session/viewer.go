package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const sendChanBuf = 64

// Event is one server-sent event queued for a viewer.
type Event struct {
	Name string
	Data string
}

// Viewer is one open dashboard stream of an authenticated user.
type Viewer struct {
	ID          string
	UserID      int64
	IP          string
	ConnectedAt time.Time

	SendChan chan Event
	Done     chan struct{}

	closeOnce sync.Once
}

// NewViewer creates a Viewer with a fresh id.
func NewViewer(userID int64, ip string) *Viewer {
	return &Viewer{
		ID:          uuid.NewString(),
		UserID:      userID,
		IP:          ip,
		ConnectedAt: time.Now(),
		SendChan:    make(chan Event, sendChanBuf),
		Done:        make(chan struct{}),
	}
}

// Send queues ev without blocking. It reports false if the viewer is closed
// or its buffer is full.
func (v *Viewer) Send(ev Event) bool {
	if v.IsClosed() {
		return false
	}
	select {
	case v.SendChan <- ev:
		return true
	default:
		return false
	}
}

// Close signals the stream to end. Safe to call more than once.
func (v *Viewer) Close() {
	v.closeOnce.Do(func() { close(v.Done) })
}

func (v *Viewer) IsClosed() bool {
	select {
	case <-v.Done:
		return true
	default:
		return false
	}
}
