package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/windrose/conductor/engine"
)

// pingInterval/pongWait mirror gomind/ui/transports/websocket/websocket.go's
// keep-alive cadence.
const (
	pingInterval = 54 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is an inbound WS frame: user_escape carries only threadID;
// resume carries threadID/input/forceReplan, mirroring the resume
// Command shape from spec §4.8.
type wsMessage struct {
	Type        string `json:"type"`
	ThreadID    string `json:"threadID"`
	Input       string `json:"input,omitempty"`
	ForceReplan bool   `json:"forceReplan,omitempty"`
}

// wsOutbound is an outbound WS frame acknowledging or reporting the
// result of an inbound command.
type wsOutbound struct {
	Type   string          `json:"type"`
	Result *TaskResultView `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan wsOutbound
	mu     sync.Mutex
	closed bool
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
		c.conn.Close()
	}
}

// handleWebSocket serves WS /ws: a bidirectional channel delivering
// user_escape interrupts upstream and resume commands downstream.
// Grounded on gomind/ui/transports/websocket/websocket.go's
// upgrade-then-readPump/writePump-goroutines shape.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "websocket upgrade failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	client := &wsClient{conn: conn, send: make(chan wsOutbound, 32)}
	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *Server) wsWritePump(c *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) wsReadPump(c *wsClient) {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		s.handleWSMessage(c, msg)
	}
}

func (s *Server) handleWSMessage(c *wsClient, msg wsMessage) {
	if msg.ThreadID == "" {
		s.wsSendError(c, "threadID required")
		return
	}

	switch msg.Type {
	case "user_escape":
		s.interrupts.RaiseUserEscape(msg.ThreadID)
		c.send <- wsOutbound{Type: "user_escape_ack"}

	case "resume":
		s.wsResume(c, msg)

	default:
		s.wsSendError(c, "unknown message type: "+msg.Type)
	}
}

func (s *Server) wsResume(c *wsClient, msg wsMessage) {
	lock := s.lockFor(msg.ThreadID)
	lock.Lock()
	defer lock.Unlock()

	ctx := context.Background()
	state, err := s.engine.LoadCheckpoint(ctx, msg.ThreadID)
	if err != nil {
		s.wsSendError(c, err.Error())
		return
	}

	out, err := s.engine.Resume(ctx, state, engine.Command{Input: msg.Input, ForceReplan: msg.ForceReplan})
	if err != nil {
		s.wsSendError(c, err.Error())
		return
	}

	view := buildTaskResultView(s.engine, out)
	c.send <- wsOutbound{Type: "resume_result", Result: &view}
}

func (s *Server) wsSendError(c *wsClient, message string) {
	c.send <- wsOutbound{Type: "error", Error: message}
}
