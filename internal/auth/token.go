package auth

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Token is a short-lived bearer credential for the playback API.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ParseFragment extracts a bearer token from an OAuth callback fragment of the
// form "access_token=...&token_type=...&expires_in=...". The leading "#" is
// tolerated. A malformed or missing fragment yields (Token{}, false) so the
// caller stays in the unauthenticated state without an error path.
func ParseFragment(fragment string, now time.Time) (Token, bool) {
	fragment = strings.TrimPrefix(strings.TrimSpace(fragment), "#")
	if fragment == "" {
		return Token{}, false
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return Token{}, false
	}

	access := strings.TrimSpace(values.Get("access_token"))
	if access == "" {
		return Token{}, false
	}
	expiresIn, err := strconv.Atoi(strings.TrimSpace(values.Get("expires_in")))
	if err != nil || expiresIn <= 0 {
		return Token{}, false
	}
	tokenType := strings.TrimSpace(values.Get("token_type"))
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return Token{
		AccessToken: access,
		TokenType:   tokenType,
		ExpiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}, true
}

// AuthorizeURL assembles the external authorization redirect.
func AuthorizeURL(accountsURL, clientID, redirectURI, scopes, state string) string {
	q := url.Values{}
	q.Set("client_id", clientID)
	q.Set("response_type", "token")
	q.Set("redirect_uri", redirectURI)
	if scopes != "" {
		q.Set("scope", scopes)
	}
	if state != "" {
		q.Set("state", state)
	}
	return strings.TrimRight(accountsURL, "/") + "/authorize?" + q.Encode()
}

// Vault holds bearer tokens for the lifetime of a quiz session. Tokens are
// keyed by session ID and never persisted; ending the session or logging out
// clears them.
type Vault struct {
	mu           sync.RWMutex
	tokens       map[string]Token
	safetyBuffer time.Duration
	now          func() time.Time
}

// NewVault creates a vault that reports tokens as absent once their remaining
// validity drops below safetyBuffer.
func NewVault(safetyBuffer time.Duration) *Vault {
	if safetyBuffer < 0 {
		safetyBuffer = 0
	}
	return &Vault{
		tokens:       make(map[string]Token),
		safetyBuffer: safetyBuffer,
		now:          time.Now,
	}
}

func (v *Vault) Put(sessionID string, tok Token) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[sessionID] = tok
}

// Get returns the stored token for a session. A token whose remaining validity
// is below the safety buffer is reported as absent, forcing re-authentication
// rather than attempting an operation that would expire mid-flight.
func (v *Vault) Get(sessionID string) (Token, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	tok, ok := v.tokens[sessionID]
	if !ok {
		return Token{}, false
	}
	if v.now().Add(v.safetyBuffer).After(tok.ExpiresAt) {
		return Token{}, false
	}
	return tok, true
}

// Clear removes the token for a session. Subsequent reads return absent
// regardless of prior state.
func (v *Vault) Clear(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, sessionID)
}
