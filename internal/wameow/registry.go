package wameow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry is the process-wide keyed store of live Adapters. It guarantees at
// most one Adapter per (session, device) key: creation and disposal for the
// same key are serialized by a per-key lock, otherwise two concurrent callers
// can both observe an absent entry and leak a duplicate client.
type Registry struct {
	factory Factory

	mu       sync.RWMutex
	adapters map[string]*Adapter

	keyMu   sync.Mutex
	keyLock map[string]*keyedLock
}

// keyedLock is a reference-counted per-key mutex. The count covers holders
// and waiters; the map entry is dropped only at zero, so a queued waiter and
// a fresh caller can never end up on two different mutexes for the same key.
type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry builds an empty registry around a client factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		adapters: make(map[string]*Adapter),
		keyLock:  make(map[string]*keyedLock),
	}
}

func registryKey(sessionID int64, deviceID string) string {
	return fmt.Sprintf("%d:%s", sessionID, deviceID)
}

// lockKey acquires the per-key mutex and returns its release func. The
// release drops the map entry once the last holder or waiter lets go.
func (r *Registry) lockKey(key string) func() {
	r.keyMu.Lock()
	lk, ok := r.keyLock[key]
	if !ok {
		lk = &keyedLock{}
		r.keyLock[key] = lk
	}
	lk.refs++
	r.keyMu.Unlock()
	lk.mu.Lock()
	return func() {
		lk.mu.Unlock()
		r.keyMu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(r.keyLock, key)
		}
		r.keyMu.Unlock()
	}
}

// GetOrCreate returns the live Adapter for the key, constructing one when
// absent. Construction kicks off the client's connect sequence asynchronously
// and does not block on it.
func (r *Registry) GetOrCreate(sessionID int64, deviceID, name string) (*Adapter, error) {
	key := registryKey(sessionID, deviceID)
	unlock := r.lockKey(key)
	defer unlock()

	r.mu.RLock()
	adapter, ok := r.adapters[key]
	r.mu.RUnlock()
	if ok {
		return adapter, nil
	}

	client, err := r.factory(sessionID, deviceID, name)
	if err != nil {
		return nil, err
	}
	adapter = newAdapter(sessionID, deviceID, name, client)

	r.mu.Lock()
	r.adapters[key] = adapter
	r.mu.Unlock()

	go func() {
		if err := adapter.start(context.Background()); err != nil {
			zap.L().Warn("wameow: async client start failed",
				zap.Int64("session_id", sessionID),
				zap.String("device_id", deviceID),
				zap.Error(err))
		}
	}()

	zap.L().Info("wameow: adapter created",
		zap.Int64("session_id", sessionID),
		zap.String("device_id", deviceID),
		zap.String("name", name))
	return adapter, nil
}

// Lookup returns the live Adapter for the key without creating one.
func (r *Registry) Lookup(sessionID int64, deviceID string) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[registryKey(sessionID, deviceID)]
	return adapter, ok
}

// Dispose logs out the Adapter for the key if present (best-effort, the
// error only logged) and unconditionally removes the entry.
func (r *Registry) Dispose(ctx context.Context, sessionID int64, deviceID string) {
	key := registryKey(sessionID, deviceID)
	unlock := r.lockKey(key)
	defer unlock()

	r.mu.Lock()
	adapter, ok := r.adapters[key]
	delete(r.adapters, key)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := adapter.Logout(ctx); err != nil {
		zap.L().Warn("wameow: logout during dispose failed",
			zap.Int64("session_id", sessionID),
			zap.String("device_id", deviceID),
			zap.Error(err))
	}
	zap.L().Info("wameow: adapter disposed",
		zap.Int64("session_id", sessionID),
		zap.String("device_id", deviceID))
}

// SessionAdapters returns the live Adapters belonging to a session.
func (r *Registry) SessionAdapters(sessionID int64) []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Adapter
	for _, a := range r.adapters {
		if a.sessionID == sessionID {
			out = append(out, a)
		}
	}
	return out
}

// Len returns the number of live Adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

// Drain disposes every live Adapter; used on process shutdown.
func (r *Registry) Drain(ctx context.Context) {
	r.mu.RLock()
	keys := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		keys = append(keys, a)
	}
	r.mu.RUnlock()
	for _, a := range keys {
		r.Dispose(ctx, a.sessionID, a.deviceID)
	}
	zap.L().Info("wameow: registry drained", zap.Int("count", len(keys)))
}
