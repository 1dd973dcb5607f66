// Package session tracks the live dashboard streams. A user may have
// several viewers open at once; the rival ticks while at least one is.
package session

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Manager is the registry of connected viewers.
type Manager struct {
	mu      sync.RWMutex
	viewers map[string]*Viewer
	byUser  map[int64]map[string]*Viewer
	logger  *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		viewers: make(map[string]*Viewer),
		byUser:  make(map[int64]map[string]*Viewer),
		logger:  logger,
	}
}

// Register adds v and returns how many viewers its user now has open.
func (m *Manager) Register(v *Viewer) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.viewers[v.ID] = v
	set, ok := m.byUser[v.UserID]
	if !ok {
		set = make(map[string]*Viewer)
		m.byUser[v.UserID] = set
	}
	set[v.ID] = v
	m.logger.Info("viewer registered",
		zap.String("viewer_id", v.ID),
		zap.Int64("user_id", v.UserID),
		zap.Int("open", len(set)))
	return len(set)
}

// Unregister removes v and returns how many viewers its user still has.
func (m *Manager) Unregister(v *Viewer) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.viewers[v.ID]; !ok {
		return len(m.byUser[v.UserID])
	}
	delete(m.viewers, v.ID)
	set := m.byUser[v.UserID]
	delete(set, v.ID)
	left := len(set)
	if left == 0 {
		delete(m.byUser, v.UserID)
	}
	m.logger.Info("viewer unregistered",
		zap.String("viewer_id", v.ID),
		zap.Int64("user_id", v.UserID),
		zap.Int("open", left))
	return left
}

func (m *Manager) Get(id string) *Viewer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewers[id]
}

// IsOnline reports whether userID has any viewer open.
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.viewers)
}

// Users returns the ids of every user with an open viewer, ascending.
func (m *Manager) Users() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.byUser))
	for uid := range m.byUser {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

// All returns a snapshot of all viewers.
func (m *Manager) All() []*Viewer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *Viewer) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return out
}

// SendToUser queues ev on every viewer of userID.
func (m *Manager) SendToUser(userID int64, ev Event) int {
	m.mu.RLock()
	targets := make([]*Viewer, 0, len(m.byUser[userID]))
	for _, v := range m.byUser[userID] {
		targets = append(targets, v)
	}
	m.mu.RUnlock()

	sent := 0
	for _, v := range targets {
		if v.Send(ev) {
			sent++
		} else {
			m.logger.Warn("dropped event for slow viewer",
				zap.String("viewer_id", v.ID),
				zap.String("event", ev.Name))
		}
	}
	return sent
}

// Broadcast queues ev on every viewer.
func (m *Manager) Broadcast(ev Event) {
	for _, v := range m.All() {
		if !v.Send(ev) {
			m.logger.Warn("broadcast dropped event for slow viewer",
				zap.String("viewer_id", v.ID))
		}
	}
}

// Kick closes every viewer of userID and returns how many were closed.
// The streams unregister themselves as they exit.
func (m *Manager) Kick(userID int64) int {
	m.mu.RLock()
	targets := make([]*Viewer, 0, len(m.byUser[userID]))
	for _, v := range m.byUser[userID] {
		targets = append(targets, v)
	}
	m.mu.RUnlock()

	for _, v := range targets {
		v.Close()
	}
	if len(targets) > 0 {
		m.logger.Info("viewers kicked", zap.Int64("user_id", userID), zap.Int("count", len(targets)))
	}
	return len(targets)
}

// CloseAll closes every viewer, used on shutdown.
func (m *Manager) CloseAll() {
	all := m.All()
	m.logger.Info("closing all viewers", zap.Int("count", len(all)))
	for _, v := range all {
		v.Close()
	}
}
