// Package hook lets extensions observe or veto quest lifecycle events.
package hook

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrInterrupt signals that a handler wants to stop further processing. On a
// before_* event it also vetoes the action.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler. It returns (possibly modified data, nil) to
// continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data any) (any, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn for event. Lower priority runs first; equal priorities run
// in registration order. name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	slices.SortStableFunc(entries, func(a, b *hookEntry) int {
		return a.priority - b.priority
	})
	hc.hooks[event] = entries
}

func dropNamed(entries []*hookEntry, name string) []*hookEntry {
	return slices.DeleteFunc(entries, func(e *hookEntry) bool { return e.name == name })
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.hooks[event] = dropNamed(hc.hooks[event], name)
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		hc.hooks[event] = dropNamed(entries, name)
	}
}

// Count returns the number of handlers registered for event.
func (hc *HookCenter) Count(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// Trigger executes all registered hooks for event in priority order. Data
// flows through each handler. Errors other than ErrInterrupt are ignored.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data any) (any, error) {
	hc.mu.RLock()
	entries := slices.Clone(hc.hooks[event])
	hc.mu.RUnlock()

	var err error
	for _, e := range entries {
		data, err = e.fn(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
	}
	return data, nil
}

// Event names.
const (
	// BeforeQuestCreate receives a *QuestCreate and may veto or rewrite it.
	BeforeQuestCreate = "before_quest_create"
	// OnQuestCompleted receives a QuestCompleted after a quest turns complete.
	OnQuestCompleted = "on_quest_completed"
	// OnXPChanged receives an XPChanged after any nonzero ledger delta.
	OnXPChanged = "on_xp_changed"
	// OnRivalGain receives a RivalGain after a rival tick adds XP.
	OnRivalGain = "on_rival_gain"
	// OnUserLogin receives a UserLogin after a successful login.
	OnUserLogin = "on_user_login"
)
