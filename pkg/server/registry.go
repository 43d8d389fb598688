package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxwire/voxwire/pkg/session"
)

// Entry tracks one live connection's session and its cancellation handle.
type Entry struct {
	Session *session.Session
	Cancel  context.CancelFunc
	Created time.Time
}

// Registry keeps the live sessions, supports draining, and lets shutdown
// wait for the last turn to finish.
type Registry struct {
	entries  sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a session under its current ID.
func (r *Registry) Add(sess *session.Session, cancel context.CancelFunc) {
	entry := &Entry{Session: sess, Cancel: cancel, Created: time.Now()}
	if _, loaded := r.entries.LoadOrStore(sess.ID, entry); !loaded {
		r.count.Add(1)
	}
}

// Rekey moves an entry to a client-chosen identifier.
func (r *Registry) Rekey(oldID, newID string) {
	if oldID == newID || newID == "" {
		return
	}
	if v, ok := r.entries.LoadAndDelete(oldID); ok {
		r.entries.Store(newID, v)
	}
}

// Get looks up a live session by ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	if v, ok := r.entries.Load(id); ok {
		return v.(*Entry), true
	}
	return nil, false
}

// Remove drops a session and cancels its context.
func (r *Registry) Remove(id string) {
	if v, ok := r.entries.LoadAndDelete(id); ok {
		entry := v.(*Entry)
		if entry.Cancel != nil {
			entry.Cancel()
		}
		r.count.Add(-1)
	}
}

// CloseAll cancels every live session.
func (r *Registry) CloseAll() {
	r.entries.Range(func(key, _ any) bool {
		if id, ok := key.(string); ok {
			r.Remove(id)
		}
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty polls until every session is gone or ctx expires.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
