package watch

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
	"github.com/ccogswell/tapestryoflegends/pkg/crypto"
	jwtpkg "github.com/ccogswell/tapestryoflegends/pkg/jwt"
)

// LogTailer reads container log lines. *dockerx.Client satisfies it.
type LogTailer interface {
	TailLogs(ctx context.Context, name string, tail int) ([]string, error)
}

// EventHistory reads back persisted monitor events.
type EventHistory interface {
	RecentEvents(ctx context.Context, source string, limit int) ([]store.Event, error)
}

// Router is the HTTP surface of the monitor daemon.
type Router struct {
	cfg     config.WatchConfig
	logger  *slog.Logger
	monitor *Monitor
	tailer  LogTailer
	history EventHistory
	limiter *memoryRateLimiter
	mux     *http.ServeMux

	upgrader websocket.Upgrader
}

// NewRouter wires the daemon's endpoints. tailer and history may be nil;
// the corresponding endpoints answer 503.
func NewRouter(cfg config.WatchConfig, logger *slog.Logger, monitor *Monitor, tailer LogTailer, history EventHistory) *Router {
	r := &Router{
		cfg:     cfg,
		logger:  logger,
		monitor: monitor,
		tailer:  tailer,
		history: history,
		limiter: newMemoryRateLimiter(),
		mux:     http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	r.mux.HandleFunc("/health", r.handleHealth)
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/auth/token", r.withRateLimit(r.handleToken))
	r.mux.HandleFunc("/status", r.requireAuth(r.handleStatus))
	r.mux.HandleFunc("/events", r.requireAuth(r.handleEvents))
	r.mux.HandleFunc("/events/stream", r.requireAuth(r.handleStream))
	r.mux.HandleFunc("/logs/", r.requireAuth(r.handleLogs))
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases router resources.
func (r *Router) Close() {
	r.limiter.Close()
}

// handleHealth always answers 200. A degraded stack is flagged in the
// body so the proxy keeps routing while operators investigate.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot := r.monitor.Latest()
	status := "ok"
	if snapshot.Degraded || !snapshot.Ready {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"ready":      snapshot.Ready,
		"checked_at": snapshot.CheckedAt,
	})
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, r.monitor.Latest())
}

type tokenRequest struct {
	Operator string `json:"operator"`
	Password string `json:"password"`
}

func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if r.cfg.JWTSecret == "" || r.cfg.OperatorHash == "" {
		writeError(w, http.StatusServiceUnavailable, "token issuance is not configured")
		return
	}
	var body tokenRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := crypto.ComparePassword(r.cfg.OperatorHash, body.Password); err != nil {
		r.logger.Warn("token request rejected", "operator", body.Operator)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	operator := strings.TrimSpace(body.Operator)
	if operator == "" {
		operator = "operator"
	}
	token, err := jwtpkg.GenerateToken(operator, r.cfg.JWTSecret, r.cfg.TokenTTL)
	if err != nil {
		r.logger.Error("token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	r.logger.Info("token issued", "operator", operator)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(r.cfg.TokenTTL.Seconds()),
	})
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		writeError(w, http.StatusServiceUnavailable, "event history is not configured")
		return
	}
	limit := queryInt(req, "limit", 50)
	source := req.URL.Query().Get("source")
	events, err := r.history.RecentEvents(req.Context(), source, limit)
	if err != nil {
		r.logger.Error("event history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event history query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleStream pushes monitor snapshots over Server-Sent Events.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newSSEClient(w, flusher, r.logger)
	defer client.Close()

	updates, cancel := r.monitor.Subscribe()
	defer cancel()

	heartbeat := r.cfg.SSEHeartbeat
	if heartbeat <= 0 {
		heartbeat = 20 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-req.Context().Done():
			return
		case payload := <-updates:
			if err := client.Send(payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleLogs relays a container log tail over a websocket, one line per
// message. Non-websocket requests get the tail as JSON.
func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	if r.tailer == nil {
		writeError(w, http.StatusServiceUnavailable, "log access is not configured")
		return
	}
	container := strings.TrimPrefix(req.URL.Path, "/logs/")
	if !validContainerName(container, r.cfg.ProjectName) {
		writeError(w, http.StatusBadRequest, "unknown container")
		return
	}
	tail := queryInt(req, "tail", r.cfg.LogTailDefault)
	if operator, ok := operatorFromContext(req.Context()); ok {
		r.logger.Info("log tail requested", "container", container, "tail", tail, "operator", operator)
	}

	if !websocket.IsWebSocketUpgrade(req) {
		lines, err := r.tailer.TailLogs(req.Context(), container, tail)
		if err != nil {
			r.logger.Error("log tail failed", "container", container, "error", err)
			writeError(w, http.StatusBadGateway, "log tail failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"container": container, "lines": lines})
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	lines, err := r.tailer.TailLogs(req.Context(), container, tail)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("error: "+err.Error()))
		return
	}
	for _, line := range lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of tail"))
}

// validContainerName restricts log access to the stack's own containers.
func validContainerName(name, project string) bool {
	if name == "" || strings.ContainsAny(name, "/\\ ") {
		return false
	}
	if project == "" {
		project = "legends"
	}
	return strings.HasPrefix(name, project+"-")
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
