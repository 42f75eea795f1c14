// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry maintains the local list of conversation contexts.
package registry

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/kbchat-tui/internal/api"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrContextBusy indicates a delete was refused because a request is
	// still pending for the context. Deleting a context mid-stream would
	// orphan its in-flight answer.
	ErrContextBusy = errors.New("context has a pending request")
)

// =============================================================================
// REGISTRY
// =============================================================================

// Backend is the subset of the transport client the registry needs.
type Backend interface {
	ListContexts(ctx context.Context) ([]api.Context, error)
	CreateContext(ctx context.Context) (string, error)
	DeleteContext(ctx context.Context, contextID string) error
	SwitchContext(ctx context.Context, contextID string) error
}

// BusyFunc reports whether a context currently has a pending request.
// The dialog controller registers itself here.
type BusyFunc func(contextID string) bool

// Registry holds an immutable snapshot of the backend's context list.
// Reload replaces the full list rather than patching fields; the backend
// owns context metadata (turn counts, activity timestamps).
type Registry struct {
	mu       sync.Mutex
	backend  Backend
	log      *zap.Logger
	contexts []api.Context
	busy     BusyFunc

	// Refresh is eventually consistent; hammering the backend after every
	// completed turn buys nothing, so reloads are throttled.
	limiter *rate.Limiter
}

// New creates a registry over the given backend.
func New(backend Backend, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		backend: backend,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
}

// SetBusyFunc registers the pending-request probe used to guard deletes.
func (r *Registry) SetBusyFunc(fn BusyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = fn
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// Refresh fetches and replaces the full context list. On transport failure
// the previous list is kept unchanged; the failure is logged, never
// surfaced. Refreshes beyond the throttle return the cached list.
func (r *Registry) Refresh(ctx context.Context) []api.Context {
	if !r.limiter.Allow() {
		return r.Contexts()
	}

	fresh, err := r.backend.ListContexts(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		// Keep the stale snapshot rather than blanking the UI.
		r.log.Warn("context refresh failed, keeping previous snapshot",
			zap.Int("previous", len(r.contexts)), zap.Error(err))
		return r.contexts
	}
	r.contexts = fresh
	return r.contexts
}

// ForceRefresh bypasses the throttle; used right after a completed turn
// when the server-side turn count is known to have changed.
func (r *Registry) ForceRefresh(ctx context.Context) []api.Context {
	r.limiter.Reserve()
	fresh, err := r.backend.ListContexts(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.log.Warn("context refresh failed, keeping previous snapshot", zap.Error(err))
		return r.contexts
	}
	r.contexts = fresh
	return r.contexts
}

// Contexts returns the current snapshot without touching the backend.
func (r *Registry) Contexts() []api.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts
}

// Get returns the context with the given id from the snapshot.
func (r *Registry) Get(contextID string) (api.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contexts {
		if c.ID == contextID {
			return c, true
		}
	}
	return api.Context{}, false
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// Create requests a new context. The new context is not inserted locally;
// the next Refresh reconciles, keeping the snapshot authoritative.
func (r *Registry) Create(ctx context.Context) (string, error) {
	id, err := r.backend.CreateContext(ctx)
	if err != nil {
		r.log.Warn("context creation failed", zap.Error(err))
		return "", err
	}
	r.log.Info("context created", zap.String("context_id", id))
	return id, nil
}

// Delete removes a context. Refused with ErrContextBusy while a request
// is pending for it.
func (r *Registry) Delete(ctx context.Context, contextID string) error {
	r.mu.Lock()
	busy := r.busy
	r.mu.Unlock()

	if busy != nil && busy(contextID) {
		r.log.Warn("delete refused, context busy", zap.String("context_id", contextID))
		return ErrContextBusy
	}

	if err := r.backend.DeleteContext(ctx, contextID); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Fresh slice: Contexts() hands out the current backing array and
	// callers may still be reading it.
	kept := make([]api.Context, 0, len(r.contexts))
	for _, c := range r.contexts {
		if c.ID != contextID {
			kept = append(kept, c)
		}
	}
	r.contexts = kept
	return nil
}

// Switch notifies the backend of the active context. Best-effort: failure
// is logged and does not block local switching.
func (r *Registry) Switch(ctx context.Context, contextID string) {
	if err := r.backend.SwitchContext(ctx, contextID); err != nil {
		r.log.Warn("context switch notification failed",
			zap.String("context_id", contextID), zap.Error(err))
	}
}
