package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

var (
	ErrNotReady         = errors.New("playback: not ready")
	ErrNotAuthenticated = errors.New("playback: not authenticated")
)

// API is the slice of the provider client the controller needs.
type API interface {
	Devices(ctx context.Context, accessToken string) ([]spotify.Device, error)
	Play(ctx context.Context, accessToken, deviceID, trackURI string, positionMS int64) error
	Pause(ctx context.Context, accessToken, deviceID string) error
}

// TokenFunc returns the current bearer token, or false when the session is
// unauthenticated (no token, or remaining validity below the safety buffer).
type TokenFunc func() (string, bool)

// State mirrors the provider's reported playback state. It is a view, not
// independently authoritative.
type State struct {
	Ready        bool   `json:"ready"`
	Playing      bool   `json:"playing"`
	CurrentTrack string `json:"current_track,omitempty"`
	DeviceID     string `json:"device_id,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// Controller plays fixed-duration clips on the provider's playback endpoint.
// Starting a clip arms an automatic stop; a manual stop or a new play request
// always supersedes a previously scheduled automatic stop.
type Controller struct {
	api          API
	loader       *Loader
	token        TokenFunc
	clipDuration time.Duration
	startOffset  time.Duration

	mu        sync.Mutex
	deviceID  string
	playing   bool
	current   string
	lastErr   string
	stopTimer *time.Timer
	gen       int
}

func NewController(api API, token TokenFunc, clipDuration, startOffset time.Duration) *Controller {
	if clipDuration <= 0 {
		clipDuration = 5 * time.Second
	}
	c := &Controller{
		api:          api,
		token:        token,
		clipDuration: clipDuration,
		startOffset:  startOffset,
	}
	c.loader = NewLoader(c.resolveDevice)
	return c
}

// resolveDevice is the one-time bootstrap: verify the token and pick a
// playback device, preferring the active one.
func (c *Controller) resolveDevice(ctx context.Context) error {
	tok, ok := c.token()
	if !ok {
		return ErrNotAuthenticated
	}
	devices, err := c.api.Devices(ctx, tok)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return spotify.ErrNoDevice
	}
	picked := devices[0]
	for _, d := range devices {
		if d.IsActive {
			picked = d
			break
		}
	}
	c.mu.Lock()
	c.deviceID = picked.ID
	c.mu.Unlock()
	return nil
}

// EnsureReady brings up the shared playback resource, queueing behind an
// in-flight bootstrap if one is already running.
func (c *Controller) EnsureReady(ctx context.Context) error {
	return c.loader.EnsureReady(ctx)
}

// PlayClip starts a clip of trackURI and schedules the automatic stop. The
// automatic stop of a previous clip stays armed until the new play succeeds,
// so a failed play never leaves the old clip running unguarded.
func (c *Controller) PlayClip(ctx context.Context, trackURI string) error {
	trackURI = strings.TrimSpace(trackURI)

	if err := c.loader.EnsureReady(ctx); err != nil {
		c.recordError(err)
		return err
	}
	tok, ok := c.token()
	if !ok {
		c.recordError(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	deviceID := c.deviceID
	c.mu.Unlock()

	if err := c.api.Play(ctx, tok, deviceID, trackURI, c.startOffset.Milliseconds()); err != nil {
		c.recordError(err)
		return err
	}

	c.mu.Lock()
	c.cancelPendingStopLocked()
	c.playing = true
	c.current = trackURI
	c.lastErr = ""
	gen := c.gen
	c.stopTimer = time.AfterFunc(c.clipDuration, func() { c.autoStop(gen) })
	c.mu.Unlock()
	return nil
}

// Stop halts playback and cancels any pending automatic stop.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.cancelPendingStopLocked()
	deviceID := c.deviceID
	wasPlaying := c.playing
	c.playing = false
	c.current = ""
	c.mu.Unlock()

	if !wasPlaying {
		return nil
	}
	tok, ok := c.token()
	if !ok {
		c.recordError(ErrNotAuthenticated)
		return ErrNotAuthenticated
	}
	if err := c.api.Pause(ctx, tok, deviceID); err != nil {
		c.recordError(err)
		return err
	}
	return nil
}

// StopPending reports whether an automatic stop is currently scheduled.
func (c *Controller) StopPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopTimer != nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Ready:        c.loader.Ready(),
		Playing:      c.playing,
		CurrentTrack: c.current,
		DeviceID:     c.deviceID,
		LastError:    c.lastErr,
	}
}

// cancelPendingStopLocked invalidates the scheduled automatic stop. The
// generation bump covers the race where the timer has fired but its callback
// has not yet taken the lock.
func (c *Controller) cancelPendingStopLocked() {
	if c.stopTimer != nil {
		c.stopTimer.Stop()
		c.stopTimer = nil
	}
	c.gen++
}

func (c *Controller) autoStop(gen int) {
	c.mu.Lock()
	if gen != c.gen || !c.playing {
		c.mu.Unlock()
		return
	}
	c.stopTimer = nil
	deviceID := c.deviceID
	c.playing = false
	c.current = ""
	c.mu.Unlock()

	tok, ok := c.token()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.api.Pause(ctx, tok, deviceID); err != nil {
		c.recordError(err)
	}
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}
