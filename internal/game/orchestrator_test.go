package game

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mcclowes/soundcheck/internal/agent"
	"github.com/mcclowes/soundcheck/internal/auth"
	"github.com/mcclowes/soundcheck/internal/observability"
	"github.com/mcclowes/soundcheck/internal/playback"
	"github.com/mcclowes/soundcheck/internal/protocol"
	"github.com/mcclowes/soundcheck/internal/session"
	"github.com/mcclowes/soundcheck/internal/spotify"
)

type fakeAPI struct {
	mu      sync.Mutex
	plays   []string
	pauses  int
	playErr error
}

func (f *fakeAPI) Devices(ctx context.Context, accessToken string) ([]spotify.Device, error) {
	return []spotify.Device{{ID: "d1", IsActive: true}}, nil
}

func (f *fakeAPI) Play(ctx context.Context, accessToken, deviceID, trackURI string, positionMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.plays = append(f.plays, trackURI)
	return nil
}

func (f *fakeAPI) Pause(ctx context.Context, accessToken, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeAPI) playedTracks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.plays...)
}

type harness struct {
	orch     *Orchestrator
	sessions *session.Manager
	dialer   *agent.MockDialer
	vault    *auth.Vault
	sess     *session.Session
	inbound  chan any
	outbound chan any
	done     chan error
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()
	sessions := session.NewManager(time.Minute)
	dialer := agent.NewMockDialer()
	vault := auth.NewVault(0)
	metrics := observability.NewMetrics("test_game_" + t.Name() + time.Now().Format("150405000000000"))

	sess := sessions.Create("u1", "80s pop", []spotify.Track{
		{URI: "spotify:track:4uLU6hMCjMI75M1A2tKUQC", Name: "Take On Me", Artist: "a-ha"},
	})
	vault.Put(sess.ID, auth.Token{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	playbacks := playback.NewRegistry(api, func(sessionID string) (string, bool) {
		tok, ok := vault.Get(sessionID)
		if !ok {
			return "", false
		}
		return tok.AccessToken, true
	}, 50*time.Millisecond, 0)
	orch := NewOrchestrator(sessions, dialer, "agent-1", playbacks, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		orch:     orch,
		sessions: sessions,
		dialer:   dialer,
		vault:    vault,
		sess:     sess,
		inbound:  make(chan any, 16),
		outbound: make(chan any, 64),
		done:     make(chan error, 1),
		cancel:   cancel,
	}
	go func() { h.done <- orch.RunConnection(ctx, sess, h.inbound, h.outbound) }()
	t.Cleanup(cancel)

	// Wait for the mock conversation to exist.
	deadline := time.After(time.Second)
	for dialer.Last() == nil {
		select {
		case <-deadline:
			t.Fatalf("conversation was never dialled")
		case <-time.After(time.Millisecond):
		}
	}
	return h
}

func (h *harness) conv() *agent.MockConversation { return h.dialer.Last() }

func (h *harness) waitOutbound(t *testing.T, match func(any) bool) any {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-h.outbound:
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("expected outbound message never arrived")
		}
	}
}

func TestPlayClipToolUpdatesStateAndAcks(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.conv().Emit(agent.Event{
		Type:       agent.EventToolCall,
		ToolCallID: "call-1",
		Tool:       agent.ToolPlayClip,
		Params:     map[string]string{"track_ref": "spotify:track:4uLU6hMCjMI75M1A2tKUQC"},
	})

	trace := h.waitOutbound(t, func(m any) bool {
		_, ok := m.(protocol.ToolCallTrace)
		return ok
	}).(protocol.ToolCallTrace)
	if trace.Result != "playing clip" {
		t.Fatalf("trace result = %q", trace.Result)
	}

	h.conv().Emit(agent.Event{
		Type:       agent.EventToolCall,
		ToolCallID: "call-2",
		Tool:       agent.ToolPlayClip,
		Params:     map[string]string{"track_ref": "spotify:track:4uLU6hMCjMI75M1A2tKUQC"},
	})
	trace = h.waitOutbound(t, func(m any) bool {
		tr, ok := m.(protocol.ToolCallTrace)
		return ok && tr.Result == "replaying clip"
	}).(protocol.ToolCallTrace)

	got, _ := h.sessions.Get(h.sess.ID)
	if got.Progress.ReplayCount != 1 {
		t.Fatalf("ReplayCount = %d, want 1", got.Progress.ReplayCount)
	}

	conv := h.conv()
	conv.Close()
	<-h.done

	results := conv.Results()
	if len(results) != 2 {
		t.Fatalf("tool results = %d, want 2", len(results))
	}
	if results[0].IsError {
		t.Fatalf("first tool result should not be an error: %+v", results[0])
	}
}

func TestRecordResultAndRevealTools(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c1", Tool: agent.ToolRevealSong,
		Params: map[string]string{"song_index": "1", "track_ref": "spotify:track:4uLU6hMCjMI75M1A2tKUQC", "title": "Song A"},
	})
	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c2", Tool: agent.ToolRecordResult,
		Params: map[string]string{"correct": "true", "score": "3", "songs_completed": "1"},
	})
	h.waitOutbound(t, func(m any) bool {
		tr, ok := m.(protocol.ToolCallTrace)
		return ok && tr.Result == "recorded"
	})

	got, _ := h.sessions.Get(h.sess.ID)
	if got.Progress.Score != 3 || got.Progress.SongsCompleted != 1 {
		t.Fatalf("progress = %+v", got.Progress)
	}
	if got.Progress.CurrentSong == nil || got.Progress.CurrentSong.Title != "Song A" {
		t.Fatalf("CurrentSong = %+v", got.Progress.CurrentSong)
	}
}

func TestScoreRegressionRejectedAsToolError(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c1", Tool: agent.ToolRecordResult,
		Params: map[string]string{"correct": "true", "score": "5", "songs_completed": "1"},
	})
	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c2", Tool: agent.ToolRecordResult,
		Params: map[string]string{"correct": "false", "score": "2", "songs_completed": "2"},
	})
	h.waitOutbound(t, func(m any) bool {
		tr, ok := m.(protocol.ToolCallTrace)
		return ok && tr.Result == "score cannot decrease"
	})

	got, _ := h.sessions.Get(h.sess.ID)
	if got.Progress.Score != 5 {
		t.Fatalf("Score = %d, want 5", got.Progress.Score)
	}
}

func TestPlaybackFailureReturnsStringToAgent(t *testing.T) {
	api := &fakeAPI{playErr: spotify.ErrNoDevice}
	h := newHarness(t, api)

	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c1", Tool: agent.ToolPlayClip,
		Params: map[string]string{"track_ref": "spotify:track:4uLU6hMCjMI75M1A2tKUQC"},
	})
	h.waitOutbound(t, func(m any) bool {
		_, ok := m.(protocol.ToolCallTrace)
		return ok
	})

	conv := h.conv()
	conv.Close()
	<-h.done

	results := conv.Results()
	if len(results) != 1 {
		t.Fatalf("tool results = %d, want 1", len(results))
	}
	res := results[0]
	if !res.IsError || res.Result == "" {
		t.Fatalf("playback failure should be an error string: %+v", res)
	}
}

func TestAgentPromptCarriesPlaylist(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	cfg := h.conv().Config
	if !strings.Contains(cfg.Prompt, "spotify:track:4uLU6hMCjMI75M1A2tKUQC") {
		t.Fatalf("prompt missing playlist track: %s", cfg.Prompt)
	}
	if !strings.Contains(cfg.Prompt, "Take On Me") {
		t.Fatalf("prompt missing track name: %s", cfg.Prompt)
	}
}

func TestReplayUsesCanonicalRevealedTrack(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	// Reveal with a bare track ID; the stored song must be the canonical URI
	// so the replay control and replay detection line up with play_clip.
	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c1", Tool: agent.ToolRevealSong,
		Params: map[string]string{"song_index": "0", "track_ref": "4uLU6hMCjMI75M1A2tKUQC", "title": "Take On Me"},
	})
	h.waitOutbound(t, func(m any) bool {
		tr, ok := m.(protocol.ToolCallTrace)
		return ok && tr.Result == "revealed"
	})

	h.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: h.sess.ID, Action: protocol.ActionReplay}

	deadline := time.After(time.Second)
	for len(api.playedTracks()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("replay never reached the playback API")
		case <-time.After(time.Millisecond):
		}
	}
	if plays := api.playedTracks(); plays[0] != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" {
		t.Fatalf("played %q, want the canonical uri", plays[0])
	}

	got, _ := h.sessions.Get(h.sess.ID)
	if got.Progress.CurrentSong == nil || got.Progress.CurrentSong.TrackURI != "spotify:track:4uLU6hMCjMI75M1A2tKUQC" {
		t.Fatalf("CurrentSong = %+v", got.Progress.CurrentSong)
	}
}

func TestUnknownToolDenied(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.conv().Emit(agent.Event{
		Type: agent.EventToolCall, ToolCallID: "c1", Tool: "delete_playlist",
		Params: map[string]string{},
	})
	h.waitOutbound(t, func(m any) bool {
		tr, ok := m.(protocol.ToolCallTrace)
		return ok && tr.Result == "unknown tool delete_playlist"
	})

	conv := h.conv()
	conv.Close()
	<-h.done

	results := conv.Results()
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("unknown tool should produce one error result: %+v", results)
	}
	if api.plays != nil {
		t.Fatalf("no playback call should have happened")
	}
}

func TestClientGuessForwardedToAgent(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.inbound <- protocol.ClientGuess{Type: protocol.TypeClientGuess, SessionID: h.sess.ID, Text: "take on me"}

	conv := h.conv()
	deadline := time.After(time.Second)
	for {
		if texts := conv.SentTexts(); len(texts) == 1 && texts[0] == "take on me" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("guess was never forwarded: %v", conv.SentTexts())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEndControlStopsConnection(t *testing.T) {
	api := &fakeAPI{}
	h := newHarness(t, api)

	h.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: h.sess.ID, Action: protocol.ActionEnd}

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunConnection did not return on end control")
	}
}
