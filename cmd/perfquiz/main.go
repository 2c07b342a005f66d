package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	baseURL     string
	userID      string
	theme       string
	iterations  int
	interDelay  time.Duration
	waitTimeout time.Duration
	verbose     bool
}

type createSessionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Theme  string `json:"theme,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type callbackRequest struct {
	SessionID string `json:"session_id"`
	Fragment  string `json:"fragment"`
}

type callbackResponse struct {
	QuizToken string `json:"quiz_token"`
}

type wsEnvelope struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

type iterationSample struct {
	create   time.Duration
	auth     time.Duration
	snapshot time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfquiz: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfquiz: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var interMS int
	var waitMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "soundcheck base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-probe", "user_id used for the synthetic sessions")
	flag.StringVar(&cfg.theme, "theme", "perf probe", "theme used for the synthetic sessions")
	flag.IntVar(&cfg.iterations, "iterations", 10, "number of session lifecycles to run")
	flag.IntVar(&interMS, "inter-delay-ms", 150, "delay between iterations in milliseconds")
	flag.IntVar(&waitMS, "wait-timeout-ms", 10000, "timeout waiting for the first state snapshot per iteration")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print probe progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.iterations <= 0 {
		return options{}, fmt.Errorf("iterations must be > 0")
	}
	if interMS < 0 {
		interMS = 0
	}
	if waitMS < 1000 {
		waitMS = 1000
	}
	cfg.interDelay = time.Duration(interMS) * time.Millisecond
	cfg.waitTimeout = time.Duration(waitMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	samples := make([]iterationSample, 0, cfg.iterations)
	for i := 0; i < cfg.iterations; i++ {
		sample, err := runIteration(ctx, httpClient, cfg)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i+1, err)
		}
		samples = append(samples, sample)
		if cfg.verbose {
			fmt.Printf("perfquiz: iteration %d/%d create=%s auth=%s first_snapshot=%s\n",
				i+1, cfg.iterations, sample.create.Round(time.Millisecond),
				sample.auth.Round(time.Millisecond), sample.snapshot.Round(time.Millisecond))
		}
		if cfg.interDelay > 0 && i < cfg.iterations-1 {
			time.Sleep(cfg.interDelay)
		}
	}

	printSummary(samples)
	return printServerSnapshot(ctx, httpClient, cfg.baseURL)
}

func runIteration(ctx context.Context, client *http.Client, cfg options) (iterationSample, error) {
	var sample iterationSample

	start := time.Now()
	sessionID, err := createSession(ctx, client, cfg)
	if err != nil {
		return sample, fmt.Errorf("create session: %w", err)
	}
	sample.create = time.Since(start)
	defer func() {
		_ = endSession(context.Background(), client, cfg.baseURL, sessionID)
	}()

	// The probe plays no audio, so a synthetic token is enough to walk the
	// auth path end to end.
	start = time.Now()
	quizToken, err := authenticate(ctx, client, cfg.baseURL, sessionID)
	if err != nil {
		return sample, fmt.Errorf("auth callback: %w", err)
	}
	sample.auth = time.Since(start)

	start = time.Now()
	if err := awaitFirstSnapshot(ctx, cfg, quizToken); err != nil {
		return sample, fmt.Errorf("await snapshot: %w", err)
	}
	sample.snapshot = time.Since(start)
	return sample, nil
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(createSessionRequest{UserID: cfg.userID, Theme: cfg.theme})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/quiz/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return "", fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var created createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		return "", err
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("response carried no session_id")
	}
	return created.SessionID, nil
}

func authenticate(ctx context.Context, client *http.Client, baseURL, sessionID string) (string, error) {
	fragment := "#access_token=perfquiz-synthetic&token_type=Bearer&expires_in=3600"
	payload, err := json.Marshal(callbackRequest{SessionID: sessionID, Fragment: fragment})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/callback", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return "", fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var cb callbackResponse
	if err := json.NewDecoder(res.Body).Decode(&cb); err != nil {
		return "", err
	}
	if cb.QuizToken == "" {
		return "", fmt.Errorf("response carried no quiz_token")
	}
	return cb.QuizToken, nil
}

func awaitFirstSnapshot(ctx context.Context, cfg options, quizToken string) error {
	wsURL, err := wsURLFor(cfg.baseURL, quizToken)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(cfg.waitTimeout)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case "state_snapshot":
			return nil
		case "error_event":
			return fmt.Errorf("server error: %s", env.Code)
		}
	}
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/quiz/session/"+sessionID+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func wsURLFor(baseURL, quizToken string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/v1/quiz/session/ws"
	q := u.Query()
	q.Set("quiz_token", quizToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func printSummary(samples []iterationSample) {
	fmt.Printf("perfquiz: %d iterations\n", len(samples))
	printStage("create", samples, func(s iterationSample) time.Duration { return s.create })
	printStage("auth", samples, func(s iterationSample) time.Duration { return s.auth })
	printStage("first_snapshot", samples, func(s iterationSample) time.Duration { return s.snapshot })
}

func printStage(name string, samples []iterationSample, pick func(iterationSample) time.Duration) {
	ds := make([]time.Duration, 0, len(samples))
	var total time.Duration
	for _, s := range samples {
		d := pick(s)
		ds = append(ds, d)
		total += d
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
	avg := total / time.Duration(len(ds))
	p95Idx := (len(ds) * 95) / 100
	if p95Idx >= len(ds) {
		p95Idx = len(ds) - 1
	}
	p95 := ds[p95Idx]
	fmt.Printf("perfquiz: stage=%s avg=%s p50=%s p95=%s max=%s\n",
		name, avg.Round(time.Millisecond), ds[len(ds)/2].Round(time.Millisecond),
		p95.Round(time.Millisecond), ds[len(ds)-1].Round(time.Millisecond))
}

func printServerSnapshot(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	fmt.Printf("perfquiz: server stages %s\n", strings.TrimSpace(string(body)))
	return nil
}
