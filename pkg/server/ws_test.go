package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tudor-baraboi/cfr-agents/pkg/orchestrator"
	"github.com/tudor-baraboi/cfr-agents/pkg/quota"
)

func newChatServer(t *testing.T) (*httptest.Server, *Server, *fakeEngine, *fakeQuota) {
	t.Helper()
	s, engine, quotas, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, s, engine, quotas
}

func dialChat(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"message": text}); err != nil {
		t.Fatalf("sending message: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) orchestrator.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev orchestrator.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	return ev
}

// expectClose reads the next frame and requires it to be a close with
// the given application code and reason.
func expectClose(t *testing.T, conn *websocket.Conn, wantCode int, wantText string) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected a close frame, got a data frame")
	}
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("read error = %v (%T), want *websocket.CloseError", err, err)
	}
	if ce.Code != wantCode {
		t.Errorf("close code = %d, want %d", ce.Code, wantCode)
	}
	if ce.Text != wantText {
		t.Errorf("close text = %q, want %q", ce.Text, wantText)
	}
}

func waitForEnded(t *testing.T, engine *fakeEngine, conversationID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, id := range engine.endedConversations() {
			if id == conversationID {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("conversation %s never released, ended = %v", conversationID, engine.endedConversations())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestChatUnknownAgent(t *testing.T) {
	ts, _, _, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=sec")

	expectClose(t, conn, closeInvalidAgent, "Unknown agent 'sec'. Valid agents: dod, faa, nrc")
}

func TestChatRejectsMissingToken(t *testing.T) {
	ts, _, _, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-1?agent=faa")

	expectClose(t, conn, closeUnauthorized, "Authentication required")
}

func TestChatRejectsInvalidToken(t *testing.T) {
	ts, _, _, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token=forged&agent=faa")

	expectClose(t, conn, closeUnauthorized, "Invalid or expired token")
}

func TestChatRejectsTokenWithoutFingerprint(t *testing.T) {
	ts, _, _, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token=fpless-token&agent=faa")

	expectClose(t, conn, closeUnauthorized, "Invalid token - missing fingerprint")
}

func TestChatQuotaExhaustedAtConnect(t *testing.T) {
	ts, _, _, quotas := newChatServer(t)
	quotas.set(quota.Status{Used: 50, Limit: 50, Remaining: 0, ResetsAt: time.Now().Add(time.Hour)})

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=faa")

	ev := readEvent(t, conn)
	if ev.Type != orchestrator.EventError {
		t.Errorf("event type = %q, want error", ev.Type)
	}
	if want := "You've used your 50 daily queries. Come back tomorrow!"; ev.Content != want {
		t.Errorf("content = %q, want %q", ev.Content, want)
	}
	if ev.Quota == nil || ev.Quota.Remaining != 0 {
		t.Errorf("quota = %+v, want remaining 0", ev.Quota)
	}

	expectClose(t, conn, closeQuotaExceeded, "Daily quota exceeded")
}

func TestChatTurnStreamsEvents(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)
	engine.set([]orchestrator.Event{
		{Type: orchestrator.EventText, Content: "Hello"},
		{Type: orchestrator.EventText, Content: " world"},
		{Type: orchestrator.EventDone, Citations: []string{"14 CFR 91.205"}},
	}, nil)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=faa")
	sendMessage(t, conn, "What instruments does VFR flight require?")

	first := readEvent(t, conn)
	if first.Type != orchestrator.EventText || first.Content != "Hello" {
		t.Errorf("first event = %+v, want text %q", first, "Hello")
	}
	second := readEvent(t, conn)
	if second.Type != orchestrator.EventText || second.Content != " world" {
		t.Errorf("second event = %+v, want text %q", second, " world")
	}
	done := readEvent(t, conn)
	if done.Type != orchestrator.EventDone {
		t.Errorf("third event type = %q, want done", done.Type)
	}
	if len(done.Citations) != 1 || done.Citations[0] != "14 CFR 91.205" {
		t.Errorf("citations = %v, want the forwarded citation", done.Citations)
	}

	reqs := engine.recorded()
	if len(reqs) != 1 {
		t.Fatalf("turns started = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.ConversationID != "conv-1" {
		t.Errorf("ConversationID = %q, want conv-1", req.ConversationID)
	}
	if req.UserText != "What instruments does VFR flight require?" {
		t.Errorf("UserText = %q", req.UserText)
	}
	if req.Agent == nil || req.Agent.Name != "faa" {
		t.Errorf("Agent = %+v, want faa", req.Agent)
	}
	if req.Fingerprint != testFingerprint {
		t.Errorf("Fingerprint = %q, want token fingerprint %q", req.Fingerprint, testFingerprint)
	}
}

func TestChatDefaultsToFAAAgent(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)
	engine.set([]orchestrator.Event{{Type: orchestrator.EventDone}}, nil)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken)
	sendMessage(t, conn, "hello")
	readEvent(t, conn)

	reqs := engine.recorded()
	if len(reqs) != 1 || reqs[0].Agent.Name != "faa" {
		t.Fatalf("requests = %+v, want one against faa", reqs)
	}
}

func TestChatEmptyMessage(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)
	engine.set([]orchestrator.Event{{Type: orchestrator.EventDone}}, nil)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=faa")

	sendMessage(t, conn, "   ")
	ev := readEvent(t, conn)
	if ev.Type != orchestrator.EventError || ev.Content != "Empty message" {
		t.Errorf("event = %+v, want error %q", ev, "Empty message")
	}
	if len(engine.recorded()) != 0 {
		t.Errorf("turns started = %d, want 0 for an empty message", len(engine.recorded()))
	}

	// The connection survives and the next message runs normally.
	sendMessage(t, conn, "a real question")
	done := readEvent(t, conn)
	if done.Type != orchestrator.EventDone {
		t.Errorf("event type = %q, want done", done.Type)
	}
	if len(engine.recorded()) != 1 {
		t.Errorf("turns started = %d, want 1", len(engine.recorded()))
	}
}

func TestChatQuotaExhaustedMidSession(t *testing.T) {
	ts, _, engine, quotas := newChatServer(t)
	engine.set([]orchestrator.Event{{Type: orchestrator.EventDone}}, nil)

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=faa")

	sendMessage(t, conn, "first question")
	if ev := readEvent(t, conn); ev.Type != orchestrator.EventDone {
		t.Fatalf("event type = %q, want done", ev.Type)
	}

	quotas.set(quota.Status{Used: 50, Limit: 50, Remaining: 0, ResetsAt: time.Now().Add(time.Hour)})
	sendMessage(t, conn, "one more")

	ev := readEvent(t, conn)
	if ev.Type != orchestrator.EventError {
		t.Errorf("event type = %q, want error", ev.Type)
	}
	if want := "You've used your 50 daily queries. Come back tomorrow!"; ev.Content != want {
		t.Errorf("content = %q, want %q", ev.Content, want)
	}
	expectClose(t, conn, closeQuotaExceeded, "Daily quota exceeded")

	if len(engine.recorded()) != 1 {
		t.Errorf("turns started = %d, want 1", len(engine.recorded()))
	}
}

func TestChatTurnStartFailure(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)
	engine.set(nil, errors.New("conversation store unavailable"))

	conn := dialChat(t, ts, "/ws/chat/conv-1?token="+testToken+"&agent=faa")
	sendMessage(t, conn, "hello")

	ev := readEvent(t, conn)
	if ev.Type != orchestrator.EventError || ev.Content != "conversation store unavailable" {
		t.Errorf("event = %+v, want the turn error", ev)
	}

	// Recoverable: the session keeps accepting messages.
	engine.set([]orchestrator.Event{{Type: orchestrator.EventDone}}, nil)
	sendMessage(t, conn, "retry")
	if done := readEvent(t, conn); done.Type != orchestrator.EventDone {
		t.Errorf("event type = %q, want done", done.Type)
	}
}

func TestChatDisconnectCancelsTurn(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)
	engine.hang = true
	engine.hungDone = make(chan struct{})

	conn := dialChat(t, ts, "/ws/chat/conv-42?token="+testToken+"&agent=faa")
	sendMessage(t, conn, "this will hang")

	// Wait for the turn to start before dropping the client.
	deadline := time.Now().Add(2 * time.Second)
	for len(engine.recorded()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("turn never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	select {
	case <-engine.hungDone:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("turn context still alive 500ms after disconnect")
	}

	waitForEnded(t, engine, "conv-42")
}

func TestChatReleasesConversationOnClose(t *testing.T) {
	ts, _, engine, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-9?token="+testToken+"&agent=faa")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()

	waitForEnded(t, engine, "conv-9")
}

func TestChatShutdownClosesSessions(t *testing.T) {
	ts, s, engine, _ := newChatServer(t)

	conn := dialChat(t, ts, "/ws/chat/conv-5?token="+testToken+"&agent=faa")

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	expectClose(t, conn, websocket.CloseNormalClosure, "Server shutting down")
	waitForEnded(t, engine, "conv-5")
}
