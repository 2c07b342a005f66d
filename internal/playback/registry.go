package playback

import (
	"context"
	"sync"
	"time"
)

// TokenLookup resolves the bearer token for a session.
type TokenLookup func(sessionID string) (string, bool)

// Registry hands out one Controller per quiz session so the websocket
// orchestrator and the HTTP playback routes share the same clip state and
// pending auto-stop.
type Registry struct {
	api          API
	token        TokenLookup
	clipDuration time.Duration
	startOffset  time.Duration

	mu          sync.Mutex
	controllers map[string]*Controller
}

func NewRegistry(api API, token TokenLookup, clipDuration, startOffset time.Duration) *Registry {
	return &Registry{
		api:          api,
		token:        token,
		clipDuration: clipDuration,
		startOffset:  startOffset,
		controllers:  make(map[string]*Controller),
	}
}

// Controller returns the session's controller, creating it on first use.
func (r *Registry) Controller(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[sessionID]; ok {
		return c
	}
	c := NewController(r.api, func() (string, bool) {
		return r.token(sessionID)
	}, r.clipDuration, r.startOffset)
	r.controllers[sessionID] = c
	return c
}

// Remove stops the session's playback and drops its controller.
func (r *Registry) Remove(ctx context.Context, sessionID string) {
	r.mu.Lock()
	c, ok := r.controllers[sessionID]
	delete(r.controllers, sessionID)
	r.mu.Unlock()
	if ok {
		_ = c.Stop(ctx)
	}
}
