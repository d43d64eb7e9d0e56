// Package health verifies that deployed services answer their liveness
// endpoints and that their containers are running.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Target is one endpoint the verifier polls.
type Target struct {
	Name string
	URL  string
}

// Result is the outcome of probing a single target.
type Result struct {
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Healthy    bool          `json:"healthy"`
	StatusCode int           `json:"status_code,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Report aggregates probe results across the stack.
type Report struct {
	Ready     bool      `json:"ready"`
	Results   []Result  `json:"results"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker probes health endpoints.
type Checker struct {
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration
}

// New builds a Checker. probeTimeout bounds each individual request.
func New(logger *slog.Logger, probeTimeout time.Duration) *Checker {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		client:  &http.Client{Timeout: probeTimeout},
		logger:  logger,
		timeout: probeTimeout,
	}
}

// Probe performs a single health request against a target.
func (c *Checker) Probe(ctx context.Context, target Target) Result {
	result := Result{Name: target.Name, URL: target.URL, CheckedAt: time.Now().UTC()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	start := time.Now()
	resp, err := c.client.Do(req)
	result.Latency = time.Since(start)
	if err != nil {
		result.Detail = err.Error()
		return result
	}
	defer resp.Body.Close()
	result.StatusCode = resp.StatusCode
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		result.Detail = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}
	result.Healthy = true
	result.Detail = degradedDetail(resp.Body)
	return result
}

// degradedDetail inspects a health payload for a degraded marker. The web
// interface answers 200 even when the bot is down, flagging it in the
// body instead.
func degradedDetail(body io.Reader) string {
	payload, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return ""
	}
	if strings.EqualFold(parsed.Status, "degraded") {
		if parsed.Message != "" {
			return "degraded: " + parsed.Message
		}
		return "degraded"
	}
	return ""
}

// Check probes every target once and aggregates the results.
func (c *Checker) Check(ctx context.Context, targets []Target) Report {
	report := Report{Ready: true, CheckedAt: time.Now().UTC()}
	for _, target := range targets {
		result := c.Probe(ctx, target)
		if !result.Healthy {
			report.Ready = false
		}
		report.Results = append(report.Results, result)
	}
	return report
}

// WaitReady polls a target with constant backoff until it answers
// healthy or the deadline passes.
func (c *Checker) WaitReady(ctx context.Context, target Target, deadline, interval time.Duration) error {
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	backoff := retry.NewConstant(interval)
	attempt := 0
	err := retry.Do(waitCtx, backoff, func(ctx context.Context) error {
		attempt++
		result := c.Probe(ctx, target)
		if result.Healthy {
			c.logger.Info("service ready", "target", target.Name, "attempts", attempt, "latency", result.Latency)
			return nil
		}
		c.logger.Debug("service not ready yet", "target", target.Name, "attempt", attempt, "detail", result.Detail)
		return retry.RetryableError(fmt.Errorf("%s not ready: %s", target.Name, result.Detail))
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", target.Name, err)
	}
	return nil
}
