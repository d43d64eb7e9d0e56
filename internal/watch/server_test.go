package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
	"github.com/ccogswell/tapestryoflegends/pkg/crypto"
	jwtpkg "github.com/ccogswell/tapestryoflegends/pkg/jwt"
)

type fakeTailer struct {
	lines []string
	err   error
	calls []string
}

func (f *fakeTailer) TailLogs(ctx context.Context, name string, tail int) ([]string, error) {
	f.calls = append(f.calls, name)
	return f.lines, f.err
}

type fakeHistory struct {
	events []store.Event
	source string
}

func (f *fakeHistory) RecentEvents(ctx context.Context, source string, limit int) ([]store.Event, error) {
	f.source = source
	return f.events, nil
}

func testRouterConfig(t *testing.T) config.WatchConfig {
	t.Helper()
	hash, err := crypto.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return config.WatchConfig{
		ProjectName:      "legends",
		JWTSecret:        "watch-secret",
		OperatorHash:     hash,
		TokenTTL:         time.Minute,
		RateLimitPerMin:  100,
		LogTailDefault:   50,
		SSEHeartbeat:     20 * time.Second,
		MetricsNamespace: "legends",
	}
}

func newTestRouter(t *testing.T, cfg config.WatchConfig, tailer LogTailer, history EventHistory) (*Router, *Monitor) {
	t.Helper()
	checker := health.New(testLogger(), time.Second)
	monitor := NewMonitor(cfg, testLogger(), checker, nil)
	router := NewRouter(cfg, testLogger(), monitor, tailer, history)
	t.Cleanup(router.Close)
	return router, monitor
}

func authToken(t *testing.T, cfg config.WatchConfig) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken("ops", cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func TestHealthAlwaysAnswers200(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	// No probe has run: the stack is not ready, but /health still
	// answers 200 with a degraded body.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Ready  bool   `json:"ready"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "degraded" || body.Ready {
		t.Errorf("body = %+v, want degraded/not-ready", body)
	}
}

func TestStatusRequiresAuth(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t, cfg))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rec.Code)
	}
}

func TestStatusAcceptsQueryToken(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status?token="+authToken(t, cfg), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTokenIssuance(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	body := strings.NewReader(`{"operator":"alice","password":"hunter2"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	claims, err := jwtpkg.Parse(payload.Token, cfg.JWTSecret)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.Operator != "alice" {
		t.Errorf("operator = %q, want alice", claims.Operator)
	}
}

func TestTokenRejectsWrongPassword(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	body := strings.NewReader(`{"operator":"alice","password":"wrong"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTokenRateLimited(t *testing.T) {
	cfg := testRouterConfig(t)
	cfg.RateLimitPerMin = 1
	router, _ := newTestRouter(t, cfg, nil, nil)

	for i := 0; i < 2; i++ {
		body := strings.NewReader(`{"password":"wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/auth/token", body)
		req.RemoteAddr = "10.0.0.9:41000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 0 && rec.Code != http.StatusUnauthorized {
			t.Fatalf("first request status = %d, want 401", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status = %d, want 429", rec.Code)
		}
	}
}

func TestEventsEndpoint(t *testing.T) {
	cfg := testRouterConfig(t)
	history := &fakeHistory{events: []store.Event{{EventType: "service_down", Source: "legendswatchd"}}}
	router, _ := newTestRouter(t, cfg, nil, history)

	req := httptest.NewRequest(http.MethodGet, "/events?source=legendswatchd", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t, cfg))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if history.source != "legendswatchd" {
		t.Errorf("source filter = %q, want legendswatchd", history.source)
	}
	if !strings.Contains(rec.Body.String(), "service_down") {
		t.Errorf("body missing event: %s", rec.Body.String())
	}
}

func TestEventsWithoutHistory(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t, cfg))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	cfg := testRouterConfig(t)
	tailer := &fakeTailer{lines: []string{"line one", "line two"}}
	router, _ := newTestRouter(t, cfg, tailer, nil)

	req := httptest.NewRequest(http.MethodGet, "/logs/legends-web?tail=20", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t, cfg))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(tailer.calls) != 1 || tailer.calls[0] != "legends-web" {
		t.Errorf("tailer calls = %v", tailer.calls)
	}
	if !strings.Contains(rec.Body.String(), "line two") {
		t.Errorf("body missing log line: %s", rec.Body.String())
	}
}

func TestLogsRejectsForeignContainer(t *testing.T) {
	cfg := testRouterConfig(t)
	router, _ := newTestRouter(t, cfg, &fakeTailer{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/logs/other-app", nil)
	req.Header.Set("Authorization", "Bearer "+authToken(t, cfg))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamSendsSnapshot(t *testing.T) {
	cfg := testRouterConfig(t)
	router, monitor := newTestRouter(t, cfg, nil, nil)
	server := httptest.NewServer(router)
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/events/stream?token="+authToken(t, cfg), nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The handler subscribes after the headers go out; keep
	// broadcasting until the reader sees a frame.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				monitor.broadcast([]byte(`{"ready":true}`))
			}
		}
	}()

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(buf[:n]), `data: {"ready":true}`) {
		t.Errorf("stream frame = %q", string(buf[:n]))
	}
}
