package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mcclowes/soundcheck/internal/agent"
	"github.com/mcclowes/soundcheck/internal/observability"
	"github.com/mcclowes/soundcheck/internal/playback"
	"github.com/mcclowes/soundcheck/internal/policy"
	"github.com/mcclowes/soundcheck/internal/protocol"
	"github.com/mcclowes/soundcheck/internal/session"
)

// Orchestrator runs one quiz conversation per websocket connection: it holds
// the agent session open, executes the agent's callback tools against the
// quiz state and the playback controller, and mirrors state to the browser.
type Orchestrator struct {
	sessions  *session.Manager
	dialer    agent.Dialer
	agentID   string
	playbacks *playback.Registry
	metrics   *observability.Metrics
}

func NewOrchestrator(
	sessions *session.Manager,
	dialer agent.Dialer,
	agentID string,
	playbacks *playback.Registry,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		dialer:    dialer,
		agentID:   agentID,
		playbacks: playbacks,
		metrics:   metrics,
	}
}

// RunConnection drives a single browser connection until the context is
// cancelled, the inbound channel closes, or the agent ends the conversation.
func (o *Orchestrator) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	controller := o.playbacks.Controller(sess.ID)

	dialStart := time.Now()
	conv, err := o.dialer.Dial(ctx, agent.BuildSessionConfig(o.agentID, sess.Progress.Theme, sess.Playlist))
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("agent", "dial").Inc()
		o.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      "agent_unavailable",
			Source:    "agent",
			Retryable: true,
			Detail:    err.Error(),
		})
		return err
	}
	defer conv.Close()
	o.metrics.ObserveStage(observability.StageAgentDial, time.Since(dialStart))

	o.send(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sess.ID,
		Code:      "agent_connected",
	})
	o.pushSnapshot(ctx, sess.ID, controller, outbound)

	// Stop the clip and drop the pending auto-stop when the connection dies.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = controller.Stop(stopCtx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			done, err := o.handleClient(ctx, sess.ID, controller, conv, msg, outbound)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case ev, ok := <-conv.Events():
			if !ok {
				return nil
			}
			if done := o.handleAgentEvent(ctx, sess.ID, controller, conv, ev, outbound); done {
				return nil
			}
		}
	}
}

func (o *Orchestrator) handleClient(ctx context.Context, sessionID string, controller *playback.Controller, conv agent.Conversation, msg any, outbound chan<- any) (done bool, err error) {
	_ = o.sessions.Touch(sessionID)

	switch m := msg.(type) {
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionStart:
			if err := conv.SendText(ctx, "Let's start the quiz."); err != nil {
				return false, fmt.Errorf("forward start: %w", err)
			}
		case protocol.ActionStop:
			if err := controller.Stop(ctx); err != nil {
				o.sendPlaybackError(ctx, sessionID, err, outbound)
			}
			o.pushSnapshot(ctx, sessionID, controller, outbound)
		case protocol.ActionReplay:
			sess, err := o.sessions.Get(sessionID)
			if err != nil {
				return false, err
			}
			if sess.Progress.CurrentSong == nil {
				o.send(ctx, outbound, protocol.SystemEvent{
					Type:      protocol.TypeSystemEvent,
					SessionID: sessionID,
					Code:      "nothing_to_replay",
				})
				break
			}
			o.startClip(ctx, sessionID, controller, sess.Progress.CurrentSong.TrackURI, outbound)
		case protocol.ActionEnd:
			return true, nil
		}
	case protocol.ClientGuess:
		if err := conv.SendText(ctx, m.Text); err != nil {
			return false, fmt.Errorf("forward guess: %w", err)
		}
	}
	return false, nil
}

func (o *Orchestrator) handleAgentEvent(ctx context.Context, sessionID string, controller *playback.Controller, conv agent.Conversation, ev agent.Event, outbound chan<- any) (done bool) {
	switch ev.Type {
	case agent.EventToolCall:
		ackStart := time.Now()
		result, isErr := o.dispatchTool(ctx, sessionID, controller, ev.Tool, ev.Params)
		if sendErr := conv.SendToolResult(ctx, ev.ToolCallID, result, isErr); sendErr != nil {
			o.metrics.ProviderErrors.WithLabelValues("agent", "tool_result").Inc()
		}
		o.metrics.ObserveStage(observability.StageToolAck, time.Since(ackStart))
		outcome := "ok"
		if isErr {
			outcome = "error"
		}
		o.metrics.ToolCalls.WithLabelValues(ev.Tool, outcome).Inc()

		o.send(ctx, outbound, protocol.ToolCallTrace{
			Type:      protocol.TypeToolCallTrace,
			SessionID: sessionID,
			Tool:      ev.Tool,
			Params:    ev.Params,
			Result:    result,
		})
		o.pushSnapshot(ctx, sessionID, controller, outbound)

	case agent.EventTranscript, agent.EventAudio:
		o.send(ctx, outbound, protocol.AgentEvent{
			Type:      protocol.TypeAgentEvent,
			SessionID: sessionID,
			Payload:   ev.Payload,
		})

	case agent.EventError:
		o.metrics.ProviderErrors.WithLabelValues("agent", ev.Code).Inc()
		o.send(ctx, outbound, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      ev.Code,
			Source:    "agent",
			Retryable: false,
			Detail:    ev.Detail,
		})

	case agent.EventEnded:
		return true
	}
	return false
}

// dispatchTool executes one of the five callback tools. Results are plain
// strings; failures become the result string so the agent can react in
// conversation instead of the user seeing a raw error.
func (o *Orchestrator) dispatchTool(ctx context.Context, sessionID string, controller *playback.Controller, tool string, params map[string]string) (result string, isError bool) {
	if d := policy.DecideToolCall(tool, params); !d.Allowed {
		return d.Reason, true
	}

	switch tool {
	case agent.ToolPlayClip:
		track, _ := policy.NormalizeTrackRef(firstParam(params, "track_ref", "track_uri", "track_id"))
		start := time.Now()
		if err := controller.PlayClip(ctx, track); err != nil {
			o.metrics.ProviderErrors.WithLabelValues("spotify", "play").Inc()
			return redacted(err), true
		}
		o.metrics.ObserveClipStartLatency(time.Since(start))
		replay, err := o.sessions.RecordClip(sessionID, track)
		if err != nil {
			return err.Error(), true
		}
		if replay {
			return "replaying clip", false
		}
		return "playing clip", false

	case agent.ToolStopClip:
		if err := controller.Stop(ctx); err != nil {
			o.metrics.ProviderErrors.WithLabelValues("spotify", "pause").Inc()
			return redacted(err), true
		}
		return "stopped", false

	case agent.ToolRevealSong:
		idx, _ := strconv.Atoi(strings.TrimSpace(params["song_index"]))
		// Canonicalize here too: the revealed URI is what a later replay
		// control plays, and replay detection compares it against the URI
		// play_clip recorded.
		track, _ := policy.NormalizeTrackRef(firstParam(params, "track_ref", "track_uri", "track_id"))
		song := session.Song{
			Index:    idx,
			TrackURI: track,
			Title:    params["title"],
		}
		if err := o.sessions.RevealSong(sessionID, song); err != nil {
			return err.Error(), true
		}
		return "revealed", false

	case agent.ToolRecordResult:
		correct := strings.EqualFold(strings.TrimSpace(params["correct"]), "true")
		score, _ := strconv.Atoi(strings.TrimSpace(params["score"]))
		songs, _ := strconv.Atoi(strings.TrimSpace(params["songs_completed"]))
		if err := o.sessions.RecordResult(sessionID, correct, score, songs); err != nil {
			if errors.Is(err, session.ErrScoreRegressed) {
				return "score cannot decrease", true
			}
			return err.Error(), true
		}
		return "recorded", false

	case agent.ToolSetTheme:
		if err := o.sessions.SetTheme(sessionID, strings.TrimSpace(params["theme"])); err != nil {
			return err.Error(), true
		}
		return "theme set", false

	default:
		return "unsupported tool " + tool, true
	}
}

// redacted flattens a provider error into a string safe to hand to the agent.
func redacted(err error) string {
	out, _ := policy.RedactSecrets(err.Error())
	return out
}

func (o *Orchestrator) startClip(ctx context.Context, sessionID string, controller *playback.Controller, trackURI string, outbound chan<- any) {
	start := time.Now()
	if err := controller.PlayClip(ctx, trackURI); err != nil {
		o.sendPlaybackError(ctx, sessionID, err, outbound)
		return
	}
	o.metrics.ObserveClipStartLatency(time.Since(start))
	_, _ = o.sessions.RecordClip(sessionID, trackURI)
	o.pushSnapshot(ctx, sessionID, controller, outbound)
}

func (o *Orchestrator) pushSnapshot(ctx context.Context, sessionID string, controller *playback.Controller, outbound chan<- any) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return
	}
	progress, err := json.Marshal(sess.Progress)
	if err != nil {
		return
	}
	state, err := json.Marshal(controller.State())
	if err != nil {
		return
	}
	o.send(ctx, outbound, protocol.StateSnapshot{
		Type:      protocol.TypeStateSnapshot,
		SessionID: sessionID,
		Progress:  progress,
		Playback:  state,
	})
}

func (o *Orchestrator) sendPlaybackError(ctx context.Context, sessionID string, err error, outbound chan<- any) {
	o.send(ctx, outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "playback_failed",
		Source:    "spotify",
		Retryable: false,
		Detail:    redacted(err),
	})
}

// send never blocks the orchestration loop; the websocket writer owns pacing
// and saturated clients lose snapshots rather than stalling tool dispatch.
func (o *Orchestrator) send(ctx context.Context, outbound chan<- any, msg any) {
	select {
	case <-ctx.Done():
	case outbound <- msg:
	default:
	}
}

func firstParam(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params[k]); v != "" {
			return v
		}
	}
	return ""
}
