package policy

import (
	"regexp"
	"strings"

	"github.com/mcclowes/soundcheck/internal/agent"
)

type ToolDecision struct {
	Allowed bool
	Reason  string
}

const maxThemeLength = 200

var (
	trackIDPattern  = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)
	trackURIPattern = regexp.MustCompile(`^spotify:track:[0-9A-Za-z]{22}$`)
	trackURLPattern = regexp.MustCompile(`^https://open\.spotify\.com/(?:intl-[a-z]{2}/)?track/([0-9A-Za-z]{22})`)
	digitsPattern   = regexp.MustCompile(`^[0-9]+$`)
)

// DecideToolCall gates an agent tool call before dispatch. The agent is an
// external party: tool names and parameters it sends are untrusted input.
func DecideToolCall(tool string, params map[string]string) ToolDecision {
	switch tool {
	case agent.ToolPlayClip:
		ref := firstNonEmpty(params, "track_ref", "track_uri", "track_id")
		if ref == "" {
			return denied("missing track reference")
		}
		if _, ok := NormalizeTrackRef(ref); !ok {
			return denied("unrecognized track reference")
		}
		return allowed()

	case agent.ToolStopClip:
		return allowed()

	case agent.ToolRevealSong:
		if !digitsPattern.MatchString(strings.TrimSpace(params["song_index"])) {
			return denied("invalid song_index")
		}
		// The revealed track becomes the replay target, so it gets the same
		// scrutiny as a play_clip reference.
		ref := firstNonEmpty(params, "track_ref", "track_uri", "track_id")
		if ref == "" {
			return denied("missing track reference")
		}
		if _, ok := NormalizeTrackRef(ref); !ok {
			return denied("unrecognized track reference")
		}
		return allowed()

	case agent.ToolRecordResult:
		switch strings.ToLower(strings.TrimSpace(params["correct"])) {
		case "true", "false":
		default:
			return denied("correct must be true or false")
		}
		if !digitsPattern.MatchString(strings.TrimSpace(params["score"])) {
			return denied("invalid score")
		}
		if !digitsPattern.MatchString(strings.TrimSpace(params["songs_completed"])) {
			return denied("invalid songs_completed")
		}
		return allowed()

	case agent.ToolSetTheme:
		theme := strings.TrimSpace(params["theme"])
		if theme == "" {
			return denied("missing theme")
		}
		if len(theme) > maxThemeLength {
			return denied("theme too long")
		}
		return allowed()

	default:
		return denied("unknown tool " + tool)
	}
}

// NormalizeTrackRef canonicalizes the track references agents send in
// practice: a full spotify URI, an open.spotify.com share link, or a bare
// track ID. The canonical form is always the spotify:track: URI.
func NormalizeTrackRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	switch {
	case trackURIPattern.MatchString(ref):
		return ref, true
	case trackIDPattern.MatchString(ref):
		return "spotify:track:" + ref, true
	}
	if m := trackURLPattern.FindStringSubmatch(ref); m != nil {
		return "spotify:track:" + m[1], true
	}
	return "", false
}

func allowed() ToolDecision { return ToolDecision{Allowed: true} }

func denied(reason string) ToolDecision {
	return ToolDecision{Allowed: false, Reason: reason}
}

func firstNonEmpty(params map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(params[k]); v != "" {
			return v
		}
	}
	return ""
}
