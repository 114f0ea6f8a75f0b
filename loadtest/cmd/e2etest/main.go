// Package main implements a standalone end-to-end check of a running reveal
// server: health endpoints, the WebSocket handshake, a full reveal, skip and
// unwatch, protocol errors and rate limiting.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080/ws] [-api http://localhost:8080] [-timeout 60s]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/whisper/reveal/loadtest/client"
)

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

func main() {
	wsURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Reveal E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	results := []scenarioResult{scenarioHealth(ctx, *apiBase)}

	// The server limits connections per IP, so every stream scenario
	// shares one client.
	r, c := scenarioHandshake(ctx, *wsURL)
	results = append(results, r)
	if c != nil {
		defer c.Close()
		tap := newTap(c)
		results = append(results,
			scenarioReveal(ctx, tap),
			scenarioSkip(ctx, tap),
			scenarioUnwatch(ctx, tap),
			scenarioBadMessage(ctx, tap),
			scenarioRateLimit(ctx, tap),
		)
	}

	fmt.Println()
	passed, failed, info := 0, 0, 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	fmt.Printf("\n=== Results: %d/%d passed", passed, passed+failed)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

func scenarioHealth(ctx context.Context, apiBase string) scenarioResult {
	name := "Health Check"

	if err := httpGetExpectOK(ctx, apiBase+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}
	body, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(body), "reveal_connections_total") {
		return scenarioResult{name, resultFail, "/metrics: missing reveal_connections_total"}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenarioHandshake(ctx context.Context, wsURL string) (scenarioResult, *client.Client) {
	name := "Connect and Handshake"

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, wsURL)
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("connect: %v", err)}, nil
	}
	if err := c.WaitForSession(connCtx); err != nil {
		c.Close()
		return scenarioResult{name, resultFail, fmt.Sprintf("session: %v", err)}, nil
	}
	if c.SessionID() == "" {
		c.Close()
		return scenarioResult{name, resultFail, "empty session ID"}, nil
	}
	return scenarioResult{name, resultPass, "session=" + truncateID(c.SessionID())}, c
}

func scenarioReveal(ctx context.Context, t *tap) scenarioResult {
	name := "Watch to Completion"
	const text = "Hello from the end-to-end test."
	streamID := "e2e-reveal"

	t.reset()
	if err := t.c.Watch(streamID, text, true); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("watch: %v", err)}
	}
	if _, err := t.await(ctx, client.TypeWatching, 10*time.Second); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	raw, err := t.await(ctx, client.TypeComplete, 30*time.Second)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}

	var done client.Complete
	if err := json.Unmarshal(raw, &done); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("complete JSON: %v", err)}
	}
	if done.Status != "success" || done.Skipped || done.Revealed != done.Total {
		return scenarioResult{name, resultFail, fmt.Sprintf("unexpected completion %+v", done)}
	}

	last, ok := t.lastReveal(streamID)
	if !ok {
		return scenarioResult{name, resultFail, "no reveal messages"}
	}
	if last.Snapshot.DisplayedText != text || last.Snapshot.Phase != "complete" {
		return scenarioResult{name, resultFail, fmt.Sprintf("final reveal %q in %s", last.Snapshot.DisplayedText, last.Snapshot.Phase)}
	}
	return scenarioResult{name, resultPass, fmt.Sprintf("%d reveals, %d graphemes", t.count(client.TypeReveal), done.Total)}
}

func scenarioSkip(ctx context.Context, t *tap) scenarioResult {
	name := "Skip"
	streamID := "e2e-skip"

	t.reset()
	if err := t.c.Watch(streamID, strings.Repeat("a long answer ", 40), false); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("watch: %v", err)}
	}
	if _, err := t.await(ctx, client.TypeReveal, 10*time.Second); err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if err := t.c.Skip(streamID); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("skip: %v", err)}
	}
	raw, err := t.await(ctx, client.TypeComplete, 30*time.Second)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}

	var done client.Complete
	if err := json.Unmarshal(raw, &done); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("complete JSON: %v", err)}
	}
	if !done.Skipped || done.Revealed != done.Total {
		return scenarioResult{name, resultFail, fmt.Sprintf("unexpected completion %+v", done)}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenarioUnwatch(ctx context.Context, t *tap) scenarioResult {
	name := "Unwatch"

	t.reset()
	if err := t.c.Unwatch("e2e-never-watched"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("unwatch: %v", err)}
	}
	raw, err := t.await(ctx, client.TypeError, 10*time.Second)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if code := errorCode(raw); code != "not_watching" {
		return scenarioResult{name, resultFail, "error code " + code}
	}
	return scenarioResult{name, resultPass, ""}
}

func scenarioBadMessage(ctx context.Context, t *tap) scenarioResult {
	name := "Bad Message"

	t.reset()
	if err := t.c.Send(map[string]string{"type": "teleport"}); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("send: %v", err)}
	}
	raw, err := t.await(ctx, client.TypeError, 10*time.Second)
	if err != nil {
		return scenarioResult{name, resultFail, err.Error()}
	}
	if code := errorCode(raw); code != "bad_message" {
		return scenarioResult{name, resultFail, "error code " + code}
	}

	if err := t.c.Send(map[string]string{"type": client.TypePing}); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("ping: %v", err)}
	}
	if _, err := t.await(ctx, client.TypePong, 10*time.Second); err != nil {
		return scenarioResult{name, resultFail, "connection unusable after error: " + err.Error()}
	}
	return scenarioResult{name, resultPass, ""}
}

// scenarioRateLimit is informational: the limiter only runs when the
// server has Redis.
func scenarioRateLimit(ctx context.Context, t *tap) scenarioResult {
	name := "Rate Limiting (optional)"

	t.reset()
	for i := 0; i < 15; i++ {
		if err := t.c.Watch(fmt.Sprintf("e2e-burst-%d", i), "x", true); err != nil {
			return scenarioResult{name, resultInfo, fmt.Sprintf("send: %v", err)}
		}
	}
	raw, err := t.await(ctx, client.TypeRateLimited, 5*time.Second)
	if err != nil {
		return scenarioResult{name, resultInfo, "no rate_limited reply"}
	}
	var limited struct {
		RetryAfter int `json:"retry_after"`
	}
	_ = json.Unmarshal(raw, &limited)
	return scenarioResult{name, resultPass, fmt.Sprintf("retry_after=%ds", limited.RetryAfter)}
}

// tap records every server message a client receives so scenarios can
// wait for a type and inspect what came before it.
type tap struct {
	c      *client.Client
	events chan event
	seen   []event
}

type event struct {
	typ string
	raw json.RawMessage
}

func newTap(c *client.Client) *tap {
	t := &tap{c: c, events: make(chan event, 1024)}
	for _, typ := range []string{
		client.TypeWatching, client.TypeReveal, client.TypeEffect, client.TypeComplete,
		client.TypeRateLimited, client.TypeError, client.TypePong,
	} {
		c.On(typ, func(raw json.RawMessage) {
			select {
			case t.events <- event{typ, append(json.RawMessage(nil), raw...)}:
			default:
			}
		})
	}
	return t
}

// reset drops everything received so far.
func (t *tap) reset() {
	t.seen = nil
	for {
		select {
		case <-t.events:
		default:
			return
		}
	}
}

// await returns the next message of typ, recording the ones before it.
func (t *tap) await(ctx context.Context, typ string, d time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.c.Done():
			return nil, fmt.Errorf("connection closed waiting for %s", typ)
		case <-timer.C:
			return nil, fmt.Errorf("timeout waiting for %s", typ)
		case ev := <-t.events:
			t.seen = append(t.seen, ev)
			if ev.typ == typ {
				return ev.raw, nil
			}
		}
	}
}

func (t *tap) count(typ string) int {
	n := 0
	for _, ev := range t.seen {
		if ev.typ == typ {
			n++
		}
	}
	return n
}

func (t *tap) lastReveal(streamID string) (client.Reveal, bool) {
	for i := len(t.seen) - 1; i >= 0; i-- {
		if t.seen[i].typ != client.TypeReveal {
			continue
		}
		var r client.Reveal
		if json.Unmarshal(t.seen[i].raw, &r) == nil && r.StreamID == streamID {
			return r, true
		}
	}
	return client.Reveal{}, false
}

func errorCode(raw json.RawMessage) string {
	var msg struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(raw, &msg)
	return msg.Code
}

// httpGetExpectOK performs an HTTP GET and checks for a 200 status code.
func httpGetExpectOK(ctx context.Context, url string) error {
	_, err := httpGetBody(ctx, url)
	return err
}

// httpGetBody performs an HTTP GET and returns the response body.
func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// truncateID returns the first 8 characters of an ID for display purposes.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
