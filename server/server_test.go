package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/houyanchao/coderun/config"
	"github.com/houyanchao/coderun/internal/app"
	"github.com/houyanchao/coderun/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig)) *Server {
	t.Helper()
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			DefaultTimeout:   5 * time.Second,
			LoadTimeout:      10 * time.Second,
			RecycleOnTimeout: true,
			CacheDir:         t.TempDir(),
		},
		Server: config.ServerConfig{
			AllowedOrigins: []string{"*"},
			MaxCodeBytes:   1024,
		},
	}
	if mutate != nil {
		mutate(&cfg.Server)
	}

	reg := prometheus.NewRegistry()
	a, err := app.New(cfg, zaptest.NewLogger(t), metrics.New(reg))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return New(a, cfg.Server, zaptest.NewLogger(t), reg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type testResponse struct {
	Result struct {
		Success  bool   `json:"success"`
		Language string `json:"language"`
		Error    string `json:"error"`
		TimedOut bool   `json:"timedOut"`
	} `json:"result"`
	DurationMs float64 `json:"duration_ms"`
	Events     []struct {
		Level string `json:"level"`
		Data  any    `json:"data"`
	} `json:"events"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLanguages(t *testing.T) {
	s := newTestServer(t, nil)
	w := do(t, s.Handler(), http.MethodGet, "/languages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Languages []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"languages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	var ids []string
	for _, l := range body.Languages {
		ids = append(ids, l.ID)
	}
	assert.Contains(t, ids, "lua")
	assert.Contains(t, ids, "json")
	assert.NotContains(t, ids, "python")
}

func TestExample(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodGet, "/languages/lua/example", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "lua", body["id"])
	assert.NotEmpty(t, body["example"])

	w = do(t, s.Handler(), http.MethodGet, "/languages/cobol/example", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExecute(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"lua","code":"print('hi')"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Success, resp.Result.Error)
	assert.Equal(t, "lua", resp.Result.Language)
	require.NotEmpty(t, resp.Events)
	last := resp.Events[len(resp.Events)-1]
	assert.Equal(t, "log", last.Level)
	assert.Equal(t, "hi", last.Data)
}

func TestExecuteFailureIsNotAnHTTPError(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"json","code":"{\"a\": }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Success)
	assert.NotEmpty(t, resp.Result.Error)
}

func TestExecuteTimeout(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"javascript","code":"while (true) {}","timeout_ms":100}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Result.Success)
	assert.True(t, resp.Result.TimedOut)
}

func TestExecuteRejects(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed", `{"language":`, http.StatusBadRequest},
		{"missing language", `{"code":"x"}`, http.StatusBadRequest},
		{"negative timeout", `{"language":"lua","code":"x","timeout_ms":-1}`, http.StatusBadRequest},
		{"unknown language", `{"language":"cobol","code":"x"}`, http.StatusNotFound},
		{"too large", `{"language":"lua","code":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s.Handler(), http.MethodPost, "/execute", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestCleanup(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"lua","code":"kept = 7"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s.Handler(), http.MethodPost, "/languages/lua/cleanup", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"lua","code":"return kept"}`)
	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Result.Success, resp.Result.Error)
	last := resp.Events[len(resp.Events)-1]
	assert.Equal(t, "result", last.Level)
	assert.Equal(t, "nil", last.Data)

	w = do(t, s.Handler(), http.MethodPost, "/languages/cobol/cleanup", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s.Handler(), http.MethodPost, "/execute", `{"language":"lua","code":"print(1)"}`)

	w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `coderun_executions_total{language="lua",outcome="success"} 1`)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimitRPS = 0.001
		c.Burst = 1
	})

	w := do(t, s.Handler(), http.MethodGet, "/languages", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, s.Handler(), http.MethodGet, "/languages", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// health checks are not limited
	w = do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(c *config.ServerConfig) {
		c.AllowedOrigins = []string{"https://play.example.com"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/execute", nil)
	req.Header.Set("Origin", "https://play.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://play.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStream(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", ID: "r1", Language: "lua", Code: "print('a')\nprint('b')"}))

	var logs []any
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "r1", msg.ID)
		if msg.Type == "result" {
			require.NotNil(t, msg.Result)
			assert.True(t, msg.Result.Success, msg.Result.Error)
			break
		}
		require.Equal(t, "event", msg.Type)
		if msg.Event.Kind == "log" {
			logs = append(logs, msg.Event.Data)
		}
	}
	assert.Equal(t, []any{"a", "b"}, logs)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", ID: "r2", Language: "cobol"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "r2", msg.ID)
}

func TestWebSocketRateLimitPerMessage(t *testing.T) {
	s := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimitRPS = 0.001
		c.Burst = 2
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// the upgrade takes the first token
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", ID: "r1", Language: "lua", Code: "return 1"}))
	for {
		var msg wsMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "result" {
			assert.True(t, msg.Result.Success)
			break
		}
		require.Equal(t, "event", msg.Type)
	}

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "execute", ID: "r2", Language: "lua", Code: "return 2"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "r2", msg.ID)
	assert.Equal(t, "rate limit exceeded", msg.Error)

	// pings stay free
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Type)
}
