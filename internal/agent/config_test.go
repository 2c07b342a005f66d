package agent

import (
	"strings"
	"testing"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

func TestBuildSessionConfig(t *testing.T) {
	tracks := []spotify.Track{
		{URI: "spotify:track:a", Name: "Song A", Artist: "Artist A"},
		{URI: "spotify:track:b", Name: "Song B", Artist: "Artist B"},
	}
	cfg := BuildSessionConfig("agent-1", "disco", tracks)

	if cfg.AgentID != "agent-1" {
		t.Fatalf("AgentID = %q", cfg.AgentID)
	}
	if len(cfg.Tools) != 5 {
		t.Fatalf("tools = %d, want 5", len(cfg.Tools))
	}
	if !strings.Contains(cfg.Prompt, `"disco"`) {
		t.Fatalf("prompt missing theme: %s", cfg.Prompt)
	}
	if !strings.Contains(cfg.Prompt, "spotify:track:b") {
		t.Fatalf("prompt missing track reference: %s", cfg.Prompt)
	}
}

func TestBuildPromptWithoutTheme(t *testing.T) {
	cfg := BuildSessionConfig("agent-1", "  ", nil)
	if strings.Contains(cfg.Prompt, "theme is") {
		t.Fatalf("prompt should omit theme when blank: %s", cfg.Prompt)
	}
	if strings.Contains(cfg.Prompt, "Playlist") {
		t.Fatalf("prompt should omit playlist when empty: %s", cfg.Prompt)
	}
}
