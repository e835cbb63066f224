// Package registry maps connection identities to their send capability.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnknownConnection is returned by Send when the identity is not registered.
var ErrUnknownConnection = errors.New("unknown connection")

// Sender is the transport-side capability used to deliver one encoded message.
type Sender interface {
	Send(msg []byte) error
}

// Registry owns the set of live connections. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Sender
	logger *zap.Logger
	newID  func() string
}

// New returns an empty Registry that issues random UUIDv4 identities.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[string]Sender),
		logger: logger,
		newID:  func() string { return uuid.NewString() },
	}
}

// Register stores s under a fresh identity and returns it. A generated
// identity that collides with a live one is discarded.
func (r *Registry) Register(s Sender) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, used := r.conns[id]; !used {
			break
		}
		id = r.newID()
	}
	r.conns[id] = s
	return id
}

// Send delivers msg to the connection registered under id. Failures are
// logged and returned but never fatal to the caller.
func (r *Registry) Send(id string, msg []byte) error {
	r.mu.RLock()
	s, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("send to unknown connection", zap.String("connection_id", id))
		return ErrUnknownConnection
	}
	if err := s.Send(msg); err != nil {
		r.logger.Warn("send failed", zap.String("connection_id", id), zap.Error(err))
		return fmt.Errorf("send to %s: %w", id, err)
	}
	return nil
}

// Unregister removes id. It reports whether an entry was removed; removing
// an unknown identity is a no-op.
func (r *Registry) Unregister(id string) bool {
	return r.UnregisterFunc(id, nil)
}

// UnregisterFunc removes id and runs fn before the registry lock is
// released, so no lookup observes id as unregistered until fn has returned.
// fn runs even when id is unknown. It must not call back into the registry.
func (r *Registry) UnregisterFunc(id string, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.conns[id]
	delete(r.conns, id)
	if fn != nil {
		fn()
	}
	return ok
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IDs returns a sorted snapshot of every registered identity.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
