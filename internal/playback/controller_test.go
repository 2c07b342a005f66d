package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

type fakeAPI struct {
	mu         sync.Mutex
	devices    []spotify.Device
	devErr     error
	playErr    error
	plays      []string
	pauses     int
	deviceUsed string
}

func (f *fakeAPI) Devices(ctx context.Context, accessToken string) ([]spotify.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devErr != nil {
		return nil, f.devErr
	}
	return f.devices, nil
}

func (f *fakeAPI) Play(ctx context.Context, accessToken, deviceID, trackURI string, positionMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.plays = append(f.plays, trackURI)
	f.deviceUsed = deviceID
	return nil
}

func (f *fakeAPI) setPlayErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *fakeAPI) Pause(ctx context.Context, accessToken, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeAPI) pauseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func authed() (string, bool)   { return "tok", true }
func unauthed() (string, bool) { return "", false }

func newTestController(api *fakeAPI, clip time.Duration) *Controller {
	if api.devices == nil {
		api.devices = []spotify.Device{{ID: "d1", Name: "Web Player", IsActive: true}}
	}
	return NewController(api, authed, clip, 30*time.Second)
}

func TestPlayClipAutoStops(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(api, 30*time.Millisecond)

	if err := c.PlayClip(context.Background(), "spotify:track:a"); err != nil {
		t.Fatalf("PlayClip() error = %v", err)
	}
	if st := c.State(); !st.Playing || st.CurrentTrack != "spotify:track:a" {
		t.Fatalf("state after play = %+v", st)
	}
	if !c.StopPending() {
		t.Fatalf("auto-stop should be pending")
	}

	time.Sleep(80 * time.Millisecond)
	if got := api.pauseCount(); got != 1 {
		t.Fatalf("pauses = %d, want 1 after auto-stop", got)
	}
	if st := c.State(); st.Playing {
		t.Fatalf("state should not be playing after auto-stop: %+v", st)
	}
}

func TestNewPlaySupersedesPendingStop(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(api, 60*time.Millisecond)

	if err := c.PlayClip(context.Background(), "spotify:track:a"); err != nil {
		t.Fatalf("PlayClip() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	// Second clip before the first auto-stop fires: the first stop is
	// cancelled and a new one is scheduled.
	if err := c.PlayClip(context.Background(), "spotify:track:b"); err != nil {
		t.Fatalf("PlayClip() error = %v", err)
	}

	// Past the first clip's deadline: no stop should have happened yet.
	time.Sleep(45 * time.Millisecond)
	if got := api.pauseCount(); got != 0 {
		t.Fatalf("pauses = %d, want 0 before the superseding stop fires", got)
	}
	if st := c.State(); !st.Playing || st.CurrentTrack != "spotify:track:b" {
		t.Fatalf("state = %+v, want playing track b", st)
	}

	time.Sleep(60 * time.Millisecond)
	if got := api.pauseCount(); got != 1 {
		t.Fatalf("pauses = %d, want exactly 1", got)
	}
}

func TestFailedPlayKeepsPriorAutoStop(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(api, 60*time.Millisecond)

	if err := c.PlayClip(context.Background(), "spotify:track:a"); err != nil {
		t.Fatalf("PlayClip() error = %v", err)
	}
	api.setPlayErr(spotify.ErrNoDevice)
	if err := c.PlayClip(context.Background(), "spotify:track:b"); err == nil {
		t.Fatalf("PlayClip() should fail when the provider rejects the play")
	}

	// The first clip is still running, so its scheduled stop must survive.
	if !c.StopPending() {
		t.Fatalf("auto-stop for the first clip should still be pending")
	}
	if st := c.State(); !st.Playing || st.CurrentTrack != "spotify:track:a" {
		t.Fatalf("state = %+v, want still playing track a", st)
	}

	time.Sleep(100 * time.Millisecond)
	if got := api.pauseCount(); got != 1 {
		t.Fatalf("pauses = %d, want 1 from the surviving auto-stop", got)
	}
	if st := c.State(); st.Playing {
		t.Fatalf("state should not be playing after auto-stop: %+v", st)
	}
}

func TestManualStopCancelsPendingStop(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(api, 50*time.Millisecond)

	if err := c.PlayClip(context.Background(), "spotify:track:a"); err != nil {
		t.Fatalf("PlayClip() error = %v", err)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if c.StopPending() {
		t.Fatalf("pending stop should be cancelled by manual stop")
	}
	if got := api.pauseCount(); got != 1 {
		t.Fatalf("pauses = %d, want 1 from manual stop", got)
	}

	// The cancelled timer must not fire a second pause.
	time.Sleep(80 * time.Millisecond)
	if got := api.pauseCount(); got != 1 {
		t.Fatalf("pauses = %d, want still 1", got)
	}
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	api := &fakeAPI{}
	c := newTestController(api, 50*time.Millisecond)
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := api.pauseCount(); got != 0 {
		t.Fatalf("pauses = %d, want 0", got)
	}
}

func TestPlayClipUnauthenticated(t *testing.T) {
	api := &fakeAPI{}
	api.devices = []spotify.Device{{ID: "d1"}}
	c := NewController(api, unauthed, 50*time.Millisecond, 0)

	err := c.PlayClip(context.Background(), "spotify:track:a")
	if err != ErrNotAuthenticated {
		t.Fatalf("PlayClip() error = %v, want ErrNotAuthenticated", err)
	}
	if st := c.State(); st.LastError == "" {
		t.Fatalf("LastError should be recorded")
	}
}

func TestBootstrapPicksActiveDevice(t *testing.T) {
	api := &fakeAPI{devices: []spotify.Device{
		{ID: "d1", IsActive: false},
		{ID: "d2", IsActive: true},
	}}
	c := NewController(api, authed, 50*time.Millisecond, 0)

	if err := c.EnsureReady(context.Background()); err != nil {
		t.Fatalf("EnsureReady() error = %v", err)
	}
	if st := c.State(); st.DeviceID != "d2" {
		t.Fatalf("DeviceID = %q, want d2", st.DeviceID)
	}
}
