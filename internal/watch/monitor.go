// Package watch implements the stack monitor daemon: a probe loop over
// the deployed services plus an HTTP surface for status, metrics and
// live event streaming.
package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
)

// EventSink persists monitor events. A nil sink disables persistence.
type EventSink interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Snapshot is the monitor's current view of the stack.
type Snapshot struct {
	Ready     bool            `json:"ready"`
	Degraded  bool            `json:"degraded"`
	Results   []health.Result `json:"results"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Monitor probes the stack's health endpoints on an interval, tracks
// per-service state transitions and fans results out to subscribers.
type Monitor struct {
	cfg     config.WatchConfig
	logger  *slog.Logger
	checker *health.Checker
	sink    EventSink
	metrics *probeMetrics
	targets []health.Target

	mu          sync.RWMutex
	latest      Snapshot
	lastHealthy map[string]bool

	subMu sync.Mutex
	subs  map[chan []byte]struct{}
}

// NewMonitor builds a Monitor. sink may be nil.
func NewMonitor(cfg config.WatchConfig, logger *slog.Logger, checker *health.Checker, sink EventSink) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	targets := []health.Target{
		{Name: "web", URL: cfg.WebHealthURL},
	}
	if strings.TrimSpace(cfg.BotStatusURL) != "" {
		targets = append(targets, health.Target{Name: "bot", URL: cfg.BotStatusURL})
	}
	return &Monitor{
		cfg:         cfg,
		logger:      logger,
		checker:     checker,
		sink:        sink,
		metrics:     newProbeMetrics(cfg.MetricsNamespace),
		targets:     targets,
		lastHealthy: make(map[string]bool),
		subs:        make(map[chan []byte]struct{}),
	}
}

// Run probes immediately then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.cfg.ProbeInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m.probeOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

// Latest returns the most recent snapshot. Before the first probe
// completes the snapshot is zero-valued with Ready false.
func (m *Monitor) Latest() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Subscribe registers a receiver for snapshot payloads. The returned
// cancel func must be called when the subscriber goes away.
func (m *Monitor) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 8)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()
	cancel := func() {
		m.subMu.Lock()
		delete(m.subs, ch)
		m.subMu.Unlock()
	}
	return ch, cancel
}

func (m *Monitor) probeOnce(ctx context.Context) {
	report := m.checker.Check(ctx, m.targets)
	snapshot := Snapshot{
		Ready:     report.Ready,
		Results:   report.Results,
		CheckedAt: report.CheckedAt,
	}
	for _, result := range report.Results {
		if strings.HasPrefix(result.Detail, "degraded") {
			snapshot.Degraded = true
		}
		m.metrics.record(result)
		m.trackTransition(ctx, result)
	}

	m.mu.Lock()
	m.latest = snapshot
	m.mu.Unlock()

	if payload, err := json.Marshal(snapshot); err == nil {
		m.broadcast(payload)
	}
}

// trackTransition emits a log line and a persisted event when a service
// flips between healthy and unhealthy.
func (m *Monitor) trackTransition(ctx context.Context, result health.Result) {
	m.mu.Lock()
	previous, seen := m.lastHealthy[result.Name]
	m.lastHealthy[result.Name] = result.Healthy
	m.mu.Unlock()

	if seen && previous == result.Healthy {
		return
	}
	eventType := "service_up"
	level := "info"
	if !result.Healthy {
		eventType = "service_down"
		level = "error"
		m.logger.Error("service unhealthy", "service", result.Name, "detail", result.Detail)
	} else if seen {
		m.logger.Info("service recovered", "service", result.Name)
	} else {
		m.logger.Info("service healthy", "service", result.Name)
	}
	m.persistEvent(ctx, eventType, level, result)
}

func (m *Monitor) persistEvent(ctx context.Context, eventType, level string, result health.Result) {
	if m.sink == nil || m.cfg.DisablePersist {
		return
	}
	metadata, _ := json.Marshal(result)
	event := &store.Event{
		Source:    "legendswatchd",
		EventType: eventType,
		Level:     level,
		Message:   result.Name + " " + strings.TrimPrefix(eventType, "service_"),
		Metadata:  metadata,
	}
	if err := m.sink.AppendEvent(ctx, event); err != nil {
		m.logger.Warn("persist event failed", "event_type", eventType, "error", err)
	}
}

func (m *Monitor) broadcast(payload []byte) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- payload:
		default:
			// Slow subscribers drop snapshots rather than block the loop.
		}
	}
}
