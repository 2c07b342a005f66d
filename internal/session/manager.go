package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcclowes/soundcheck/internal/spotify"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrScoreRegressed = errors.New("reported score below recorded score")
)

type Session struct {
	ID             string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	Status         Status          `json:"status"`
	Progress       Progress        `json:"progress"`
	Playlist       []spotify.Track `json:"playlist,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`

	// lastPlayed tracks the most recent clip per session so a repeated play
	// of the same track counts as a replay.
	lastPlayed string
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 5 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(userID, theme string, playlist []spotify.Track) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		Progress:       Progress{Theme: theme},
		Playlist:       append([]spotify.Track(nil), playlist...),
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordClip notes a clip start. Playing the same track again within a
// session counts as a replay.
func (m *Manager) RecordClip(sessionID, trackURI string) (replay bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrNotFound
	}
	replay = s.lastPlayed == trackURI && trackURI != ""
	if replay {
		s.Progress.ReplayCount++
	}
	s.lastPlayed = trackURI
	s.LastActivityAt = time.Now().UTC()
	return replay, nil
}

// RevealSong records the song the agent has revealed for the current round.
func (m *Manager) RevealSong(sessionID string, song Song) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Progress.CurrentSong = &song
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// RecordResult applies an agent-reported round outcome. The agent owns the
// judging; the only local check is that the running score never regresses.
func (m *Manager) RecordResult(sessionID string, correct bool, score, songsCompleted int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if score < s.Progress.Score {
		return ErrScoreRegressed
	}
	c := correct
	s.Progress.LastAnswerCorrect = &c
	s.Progress.Score = score
	if songsCompleted > s.Progress.SongsCompleted {
		s.Progress.SongsCompleted = songsCompleted
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetTheme records the quiz theme the agent settled on.
func (m *Manager) SetTheme(sessionID, theme string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Progress.Theme = theme
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.LastActivityAt = time.Now().UTC()
	if s.UserID != "" {
		delete(m.sessionByUser, s.UserID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded {
			// Ended sessions linger one inactivity window for late reads.
			if now.Sub(s.LastActivityAt) >= m.inactivityTimeout {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	c.Playlist = append([]spotify.Track(nil), s.Playlist...)
	if s.Progress.CurrentSong != nil {
		song := *s.Progress.CurrentSong
		c.Progress.CurrentSong = &song
	}
	if s.Progress.LastAnswerCorrect != nil {
		b := *s.Progress.LastAnswerCorrect
		c.Progress.LastAnswerCorrect = &b
	}
	return &c
}
