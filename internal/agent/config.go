package agent

import (
	"fmt"
	"strings"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

// Tool names the agent is configured to call back into the quiz with.
const (
	ToolPlayClip     = "play_clip"
	ToolStopClip     = "stop_clip"
	ToolRevealSong   = "reveal_song"
	ToolRecordResult = "record_result"
	ToolSetTheme     = "set_theme"
)

// ToolNames lists the five client tools in declaration order.
func ToolNames() []string {
	return []string{ToolPlayClip, ToolStopClip, ToolRevealSong, ToolRecordResult, ToolSetTheme}
}

// SessionConfig is the conversation-initiation payload for one quiz.
type SessionConfig struct {
	AgentID string
	Prompt  string
	Tools   []string
}

// BuildSessionConfig templates the quiz rules prompt with the theme and track
// list and declares the callback tools.
func BuildSessionConfig(agentID, theme string, tracks []spotify.Track) SessionConfig {
	return SessionConfig{
		AgentID: agentID,
		Prompt:  buildPrompt(theme, tracks),
		Tools:   ToolNames(),
	}
}

func buildPrompt(theme string, tracks []spotify.Track) string {
	var b strings.Builder
	b.WriteString("You are the host of a song-guessing quiz. ")
	if strings.TrimSpace(theme) != "" {
		fmt.Fprintf(&b, "Tonight's theme is %q. ", theme)
	}
	b.WriteString("For each round, call play_clip with the track reference, let the player hear the clip, ")
	b.WriteString("then judge their guess yourself. Call reveal_song when you announce the answer, ")
	b.WriteString("record_result after judging with the running score, and stop_clip if the player asks you to stop. ")
	b.WriteString("Use set_theme if the player picks a different theme. Keep your replies short and playful.\n")

	if len(tracks) > 0 {
		b.WriteString("Playlist for this quiz:\n")
		for i, t := range tracks {
			fmt.Fprintf(&b, "%d. %s — %s (%s)\n", i+1, t.Name, t.Artist, t.URI)
		}
	}
	return b.String()
}
