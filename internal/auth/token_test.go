package auth

import (
	"strings"
	"testing"
	"time"
)

func TestParseFragment(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tok, ok := ParseFragment("#access_token=abc123&token_type=Bearer&expires_in=3600", now)
	if !ok {
		t.Fatalf("ParseFragment() ok = false, want true")
	}
	if tok.AccessToken != "abc123" {
		t.Fatalf("AccessToken = %q, want %q", tok.AccessToken, "abc123")
	}
	if tok.TokenType != "Bearer" {
		t.Fatalf("TokenType = %q, want %q", tok.TokenType, "Bearer")
	}
	if !tok.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v, want %v", tok.ExpiresAt, now.Add(time.Hour))
	}
}

func TestParseFragmentMalformed(t *testing.T) {
	now := time.Now()
	cases := []string{
		"",
		"#",
		"#access_token=",
		"#access_token=abc&expires_in=nope",
		"#access_token=abc&expires_in=-10",
		"#expires_in=3600",
		"#a=%zz&access_token=abc&expires_in=60",
	}
	for _, fragment := range cases {
		if _, ok := ParseFragment(fragment, now); ok {
			t.Fatalf("ParseFragment(%q) ok = true, want false", fragment)
		}
	}
}

func TestParseFragmentDefaultsTokenType(t *testing.T) {
	tok, ok := ParseFragment("access_token=abc&expires_in=60", time.Now())
	if !ok {
		t.Fatalf("ParseFragment() ok = false, want true")
	}
	if tok.TokenType != "Bearer" {
		t.Fatalf("TokenType = %q, want Bearer default", tok.TokenType)
	}
}

func TestAuthorizeURL(t *testing.T) {
	u := AuthorizeURL("https://accounts.spotify.com/", "cid", "http://localhost:8080/callback", "streaming", "xyz")
	if !strings.HasPrefix(u, "https://accounts.spotify.com/authorize?") {
		t.Fatalf("unexpected authorize URL prefix: %s", u)
	}
	for _, want := range []string{"client_id=cid", "response_type=token", "scope=streaming", "state=xyz"} {
		if !strings.Contains(u, want) {
			t.Fatalf("authorize URL missing %q: %s", want, u)
		}
	}
}

func TestVaultSafetyBuffer(t *testing.T) {
	v := NewVault(5 * time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	// Expires in 3 minutes: inside the buffer, must read as absent.
	v.Put("s1", Token{AccessToken: "short", ExpiresAt: base.Add(3 * time.Minute)})
	if _, ok := v.Get("s1"); ok {
		t.Fatalf("token inside safety buffer should be absent")
	}

	// Expires in 10 minutes: valid.
	v.Put("s1", Token{AccessToken: "long", ExpiresAt: base.Add(10 * time.Minute)})
	tok, ok := v.Get("s1")
	if !ok {
		t.Fatalf("token outside safety buffer should be present")
	}
	if tok.AccessToken != "long" {
		t.Fatalf("AccessToken = %q, want %q", tok.AccessToken, "long")
	}
}

func TestVaultClear(t *testing.T) {
	v := NewVault(0)
	v.Put("s1", Token{AccessToken: "abc", ExpiresAt: time.Now().Add(time.Hour)})
	if _, ok := v.Get("s1"); !ok {
		t.Fatalf("token should be present before Clear")
	}
	v.Clear("s1")
	if _, ok := v.Get("s1"); ok {
		t.Fatalf("token should be absent after Clear")
	}
	// Clearing again is a no-op.
	v.Clear("s1")
	if _, ok := v.Get("s1"); ok {
		t.Fatalf("token should stay absent")
	}
}

func TestQuizTokenRoundTrip(t *testing.T) {
	now := time.Now()
	signed, err := MintQuizToken("secret", "sess-1", time.Hour, now)
	if err != nil {
		t.Fatalf("MintQuizToken() error = %v", err)
	}
	sessionID, err := VerifyQuizToken("secret", signed)
	if err != nil {
		t.Fatalf("VerifyQuizToken() error = %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("sessionID = %q, want %q", sessionID, "sess-1")
	}
}

func TestQuizTokenWrongSecret(t *testing.T) {
	signed, err := MintQuizToken("secret", "sess-1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("MintQuizToken() error = %v", err)
	}
	if _, err := VerifyQuizToken("other", signed); err == nil {
		t.Fatalf("VerifyQuizToken() should reject wrong secret")
	}
}

func TestQuizTokenExpired(t *testing.T) {
	signed, err := MintQuizToken("secret", "sess-1", time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("MintQuizToken() error = %v", err)
	}
	if _, err := VerifyQuizToken("secret", signed); err == nil {
		t.Fatalf("VerifyQuizToken() should reject expired token")
	}
}
