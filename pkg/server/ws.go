package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tudor-baraboi/cfr-agents/pkg/agent"
	"github.com/tudor-baraboi/cfr-agents/pkg/orchestrator"
)

const (
	// pingPeriod is how often the server pings; pongWait is how long a
	// silent connection survives without one being answered.
	pingPeriod = 20 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second

	incomingBuffer = 8
	outgoingBuffer = 64

	defaultAgent = "faa"

	// Application close codes, part of the client contract.
	closeInvalidAgent  = 4000
	closeUnauthorized  = 4001
	closeQuotaExceeded = 4003
)

// chatFrame is one inbound client message.
type chatFrame struct {
	Message string `json:"message"`
}

// outFrame is one unit of writer work: a JSON event or a close order.
// The writer goroutine is the only place the connection is written,
// as gorilla supports one concurrent writer.
type outFrame struct {
	event *orchestrator.Event
	close *closeOrder
}

type closeOrder struct {
	code   int
	reason string
}

// handleChat upgrades the connection, authenticates it, and runs the
// chat session. Handshake failures close with an application code so
// the client can tell them apart from transport drops.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	agentName := r.URL.Query().Get("agent")
	if agentName == "" {
		agentName = defaultAgent
	}
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error.
		return
	}

	ag, ok := s.agents.Get(agentName)
	if !ok {
		closeWith(conn, closeInvalidAgent, fmt.Sprintf("Unknown agent '%s'. Valid agents: %s",
			agentName, strings.Join(s.agents.Names(), ", ")))
		return
	}
	if token == "" {
		closeWith(conn, closeUnauthorized, "Authentication required")
		return
	}
	claims, err := s.auth.ValidateToken(r.Context(), token)
	if err != nil {
		closeWith(conn, closeUnauthorized, "Invalid or expired token")
		return
	}
	if claims.Fingerprint == "" {
		closeWith(conn, closeUnauthorized, "Invalid token - missing fingerprint")
		return
	}

	// Out-of-quota users get told in-band before the close, so the
	// client can render the message.
	if st, err := s.quota.Status(r.Context(), claims.Fingerprint); err == nil && exhausted(st) {
		_ = conn.WriteJSON(quotaExhaustedEvent(st))
		closeWith(conn, closeQuotaExceeded, "Daily quota exceeded")
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	sess := &chatSession{
		conn:           conn,
		server:         s,
		agent:          ag,
		conversationID: conversationID,
		fingerprint:    claims.Fingerprint,
		logger: s.logger.With(
			"conversation_id", conversationID,
			"agent", ag.Name,
		),
		ctx:        ctx,
		cancel:     cancel,
		incoming:   make(chan chatFrame, incomingBuffer),
		outgoing:   make(chan outFrame, outgoingBuffer),
		writerDone: make(chan struct{}),
	}

	s.addSession(conversationID)
	defer s.dropSession(conversationID)

	sess.run()
}

func (s *Server) addSession(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID]++
}

// dropSession releases per-conversation orchestrator state once the
// last session for the conversation goes away.
func (s *Server) dropSession(conversationID string) {
	s.mu.Lock()
	s.sessions[conversationID]--
	last := s.sessions[conversationID] <= 0
	if last {
		delete(s.sessions, conversationID)
	}
	s.mu.Unlock()

	if last {
		s.orch.EndConversation(conversationID)
	}
}

// closeWith ends a connection before the session pumps start.
func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// chatSession is one authenticated websocket connection. The read and
// write pumps run as goroutines; the session loop runs turns one at a
// time, forwarding the event stream. Cancelling ctx aborts any
// in-flight turn, so a disconnect stops model and tool work
// immediately.
type chatSession struct {
	conn           *websocket.Conn
	server         *Server
	agent          *agent.Agent
	conversationID string
	fingerprint    string
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	incoming   chan chatFrame
	outgoing   chan outFrame
	writerDone chan struct{}
}

func (c *chatSession) run() {
	defer c.cancel()
	defer c.conn.Close()

	go c.writeLoop()
	go c.readLoop()

	c.logger.Info("WebSocket connected", "fingerprint", previewFingerprint(c.fingerprint))

	c.loop()

	// Let the writer flush queued frames before the socket drops.
	close(c.outgoing)
	<-c.writerDone

	c.logger.Info("WebSocket disconnected")
}

func (c *chatSession) loop() {
	for {
		select {
		case <-c.ctx.Done():
			c.sendClose(websocket.CloseNormalClosure, "Server shutting down")
			return
		case frame, ok := <-c.incoming:
			if !ok {
				return
			}
			if !c.handleMessage(frame) {
				return
			}
		}
	}
}

// handleMessage runs one turn. Returns false when the session must
// end. A panic anywhere in the turn pipeline closes the session with
// 1011 instead of taking the server down.
func (c *chatSession) handleMessage(frame chatFrame) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("PANIC in chat turn", "panic", r)
			c.sendClose(websocket.CloseInternalServerErr, "Internal error")
			keep = false
		}
	}()

	if strings.TrimSpace(frame.Message) == "" {
		c.send(orchestrator.Event{
			Type:      orchestrator.EventError,
			Content:   "Empty message",
			Timestamp: time.Now(),
		})
		return true
	}

	// Re-check quota per message; the connection may outlive the
	// day's allowance.
	if st, err := c.server.quota.Status(c.ctx, c.fingerprint); err == nil && exhausted(st) {
		c.send(quotaExhaustedEvent(st))
		c.sendClose(closeQuotaExceeded, "Daily quota exceeded")
		return false
	}

	turnCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	events, err := c.server.orch.HandleTurn(turnCtx, orchestrator.TurnRequest{
		ConversationID: c.conversationID,
		UserText:       frame.Message,
		Agent:          c.agent,
		Fingerprint:    c.fingerprint,
	})
	if err != nil {
		c.send(orchestrator.Event{
			Type:      orchestrator.EventError,
			Content:   err.Error(),
			Timestamp: time.Now(),
		})
		return true
	}

	for ev := range events {
		if !c.send(ev) {
			// Transport gone; drain so the turn goroutine finishes.
			for range events {
			}
			return false
		}
	}
	return true
}

// send queues an event for the writer. Returns false when the session
// is ending and the frame was dropped.
func (c *chatSession) send(ev orchestrator.Event) bool {
	select {
	case c.outgoing <- outFrame{event: &ev}:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// sendClose queues a close order without blocking; if the writer has
// no room left it is already failing and will drop the connection
// anyway.
func (c *chatSession) sendClose(code int, reason string) {
	select {
	case c.outgoing <- outFrame{close: &closeOrder{code: code, reason: reason}}:
	default:
	}
}

// readLoop pushes client frames to the session loop. Any read error
// (disconnect, protocol violation, missed pongs) cancels the session
// context so in-flight turns abort.
func (c *chatSession) readLoop() {
	defer c.cancel()
	defer close(c.incoming)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame chatFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		select {
		case c.incoming <- frame:
		case <-c.ctx.Done():
			return
		}
	}
}

// writeLoop is the single writer: it serializes events, pings, and the
// final close frame.
func (c *chatSession) writeLoop() {
	defer close(c.writerDone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.outgoing:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if frame.close != nil {
				msg := websocket.FormatCloseMessage(frame.close.code, frame.close.reason)
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := c.conn.WriteJSON(frame.event); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func previewFingerprint(fp string) string {
	if len(fp) <= 8 {
		return fp
	}
	return fp[:8]
}
