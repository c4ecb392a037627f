package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/protocol"
	"github.com/houyanchao/coderun/sandbox"
)

// wsMessage is both directions of the /ws stream.
//
// Client to server: {"type":"execute","id":"1","language":"lua","code":"..."}
// or {"type":"ping"}. Server to client: "event" frames carrying one output
// event, then a "result" frame; "error" for rejected requests; "pong".
type wsMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Language  string          `json:"language,omitempty"`
	Code      string          `json:"code,omitempty"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
	Event     *protocol.Event `json:"event,omitempty"`
	Result    *sandbox.Result `json:"result,omitempty"`
	Duration  float64         `json:"duration_ms,omitempty"`
	Error     string          `json:"error,omitempty"`
}

const (
	// wsWriteTimeout bounds one frame write to a client that stopped reading.
	wsWriteTimeout = 10 * time.Second
	// wsMaxInflight caps concurrent executions started from one socket.
	wsMaxInflight = 4
)

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (s *Server) upgrader() websocket.Upgrader {
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	anyOrigin := len(s.cfg.AllowedOrigins) == 0
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return anyOrigin || origin == "" || allowed[origin]
		},
	}
}

func (s *Server) handleWS(c *gin.Context) {
	up := s.upgrader()
	conn, err := up.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if s.cfg.MaxCodeBytes > 0 {
		conn.SetReadLimit(int64(s.cfg.MaxCodeBytes) + 4096)
	}

	ws := &wsConn{conn: conn}
	ip := c.ClientIP()
	inflight := make(chan struct{}, wsMaxInflight)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			ws.send(wsMessage{Type: "pong"})
		case "execute":
			req := executeRequest{Language: msg.Language, Code: msg.Code, TimeoutMs: msg.TimeoutMs}
			if _, err := s.check(req); err != nil {
				ws.send(wsMessage{Type: "error", ID: msg.ID, Error: err.Error()})
				continue
			}
			if !s.limiter.Allow(ip) {
				ws.send(wsMessage{Type: "error", ID: msg.ID, Error: errRateLimited.Error()})
				continue
			}
			select {
			case inflight <- struct{}{}:
			default:
				ws.send(wsMessage{Type: "error", ID: msg.ID, Error: "too many executions in flight"})
				continue
			}
			wg.Add(1)
			go func(msg wsMessage) {
				defer wg.Done()
				defer func() { <-inflight }()
				s.stream(ctx, ws, msg)
			}(msg)
		default:
			ws.send(wsMessage{Type: "error", ID: msg.ID, Error: "unknown message type: " + msg.Type})
		}
	}
}

// stream runs one request, forwarding each event as it arrives.
func (s *Server) stream(ctx context.Context, ws *wsConn, msg wsMessage) {
	res, err := s.app.Execute(ctx, msg.Language, msg.Code, sandbox.Options{
		Timeout: time.Duration(msg.TimeoutMs) * time.Millisecond,
		OnOutput: func(ev protocol.Event) {
			ws.send(wsMessage{Type: "event", ID: msg.ID, Event: &ev})
		},
	})
	if err != nil {
		ws.send(wsMessage{Type: "error", ID: msg.ID, Error: err.Error()})
		return
	}
	ws.send(wsMessage{Type: "result", ID: msg.ID, Result: &res, Duration: res.DurationMs()})
}
