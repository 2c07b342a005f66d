package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := NewClient(ts.URL)
	c.retryBase = time.Millisecond
	c.retryCap = time.Millisecond
	return c, ts
}

func TestDevices(t *testing.T) {
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/me/player/devices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(devicesResponse{Devices: []Device{
			{ID: "d1", Name: "Web Player", IsActive: true},
		}})
	}))
	defer ts.Close()

	devices, err := c.Devices(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "d1" {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestPlaySendsTrackAndOffset(t *testing.T) {
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q", r.Method)
		}
		if got := r.URL.Query().Get("device_id"); got != "d1" {
			t.Errorf("device_id = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		uris, _ := payload["uris"].([]any)
		if len(uris) != 1 || uris[0] != "spotify:track:abc" {
			t.Errorf("uris = %v", payload["uris"])
		}
		if pos, _ := payload["position_ms"].(float64); pos != 30000 {
			t.Errorf("position_ms = %v", payload["position_ms"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	if err := c.Play(context.Background(), "tok", "d1", "spotify:track:abc", 30000); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
}

func TestPlayRequiresTrack(t *testing.T) {
	c := NewClient("http://unused")
	if err := c.Play(context.Background(), "tok", "d1", "", 0); err == nil {
		t.Fatalf("Play() should reject empty track uri")
	}
}

func TestUnauthorizedAndNoDevice(t *testing.T) {
	status := int32(http.StatusUnauthorized)
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer ts.Close()

	if err := c.Pause(context.Background(), "tok", "d1"); err != ErrUnauthorized {
		t.Fatalf("Pause() error = %v, want ErrUnauthorized", err)
	}
	atomic.StoreInt32(&status, http.StatusNotFound)
	if err := c.Pause(context.Background(), "tok", "d1"); err != ErrNoDevice {
		t.Fatalf("Pause() error = %v, want ErrNoDevice", err)
	}
}

func TestMissingTokenShortCircuits(t *testing.T) {
	c := NewClient("http://unused")
	if _, err := c.Devices(context.Background(), ""); err != ErrUnauthorized {
		t.Fatalf("Devices() error = %v, want ErrUnauthorized", err)
	}
}

func TestSingleRetryOnRateLimit(t *testing.T) {
	var calls int32
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	if err := c.Pause(context.Background(), "tok", "d1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestRetryWaitAbortsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		// A long Retry-After must not hold a cancelled caller hostage.
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	start := time.Now()
	err := c.Pause(ctx, "tok", "d1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Pause() error = %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("retry wait ignored cancellation, took %v", elapsed)
	}
}

func TestRetryGivesUpAfterSecondFailure(t *testing.T) {
	var calls int32
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	if err := c.Pause(context.Background(), "tok", "d1"); err == nil {
		t.Fatalf("Pause() should fail after retry")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}
