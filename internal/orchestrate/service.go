// Package orchestrate runs the provisioning pipeline: materialize the
// environment, write the topology descriptor and proxy config, obtain
// certificates, start the stack and verify health.
package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ccogswell/tapestryoflegends/internal/envfile"
	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/proxy"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/internal/topology"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
)

// Pipeline stage names, in execution order.
const (
	StageEnv      = "environment"
	StageTopology = "topology"
	StageProxy    = "proxy_config"
	StageCerts    = "certificates"
	StagePull     = "pull"
	StageUp       = "up"
	StageVerify   = "verify"
)

// Composer is the compose lifecycle surface the pipeline drives.
type Composer interface {
	Pull(ctx context.Context, out io.Writer) error
	Up(ctx context.Context, out io.Writer) error
}

// CertIssuer obtains certificates when the live ones are missing or near
// expiry.
type CertIssuer interface {
	NeedsRenewal(domain string, window time.Duration) (bool, error)
	Obtain(ctx context.Context, domain string) error
}

// Verifier waits for a service health endpoint to come up.
type Verifier interface {
	WaitReady(ctx context.Context, target health.Target, deadline, interval time.Duration) error
}

// Reloader reloads the proxy after its config changes.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Recorder persists run and stage records. A nil Recorder disables
// persistence.
type Recorder interface {
	CreateRun(ctx context.Context, run *store.Run) error
	UpdateRunStage(ctx context.Context, runID, stage string) error
	FinishRun(ctx context.Context, runID, status, errMsg string) error
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Request carries operator input for a provisioning run.
type Request struct {
	Domain    string
	BotToken  string
	SkipCerts bool
	// Out receives streamed compose output. Defaults to io.Discard.
	Out io.Writer
}

// Service coordinates the provisioning pipeline.
type Service struct {
	cfg      config.DeployConfig
	logger   *slog.Logger
	compose  Composer
	certs    CertIssuer
	verifier Verifier
	reloader Reloader
	recorder Recorder

	renewWindow time.Duration
}

// New constructs the pipeline service. reloader and recorder may be nil.
func New(cfg config.DeployConfig, logger *slog.Logger, composer Composer, certs CertIssuer, verifier Verifier, reloader Reloader, recorder Recorder) (*Service, error) {
	if composer == nil {
		return nil, fmt.Errorf("compose runner required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("health verifier required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:         cfg,
		logger:      logger,
		compose:     composer,
		certs:       certs,
		verifier:    verifier,
		reloader:    reloader,
		recorder:    recorder,
		renewWindow: 30 * 24 * time.Hour,
	}, nil
}

// Provision runs the full pipeline.
func (s *Service) Provision(ctx context.Context, req Request) error {
	domain := strings.TrimSpace(strings.ToLower(req.Domain))
	if domain == "" {
		return fmt.Errorf("domain required")
	}
	out := req.Out
	if out == nil {
		out = io.Discard
	}

	runID := uuid.NewString()
	s.startRun(ctx, runID, domain)
	s.logger.Info("provisioning started", "run_id", runID, "domain", domain)

	stages := []struct {
		name string
		fn   func(context.Context, string, Request, io.Writer) error
	}{
		{StageEnv, s.stageEnv},
		{StageTopology, s.stageTopology},
		{StageProxy, s.stageProxy},
		{StageCerts, s.stageCerts},
		{StagePull, s.stagePull},
		{StageUp, s.stageUp},
		{StageVerify, s.stageVerify},
	}
	for _, stage := range stages {
		s.enterStage(ctx, runID, stage.name, domain)
		if err := stage.fn(ctx, domain, req, out); err != nil {
			s.failRun(ctx, runID, stage.name, domain, err)
			return fmt.Errorf("stage %s: %w", stage.name, err)
		}
	}

	s.finishRun(ctx, runID, domain)
	s.logger.Info("provisioning complete", "run_id", runID, "domain", domain)
	return nil
}

func (s *Service) stageEnv(ctx context.Context, domain string, req Request, _ io.Writer) error {
	path := s.envPath()
	env, err := envfile.Load(path)
	if err == nil {
		if verr := env.Validate(); verr != nil {
			return fmt.Errorf("existing environment invalid: %w", verr)
		}
		s.logger.Info("environment file valid", "path", path)
		return nil
	}
	env, err = envfile.Materialize(envfile.MaterializeInput{
		Domain:   domain,
		BotToken: req.BotToken,
	})
	if err != nil {
		return err
	}
	if err := env.Write(path); err != nil {
		return err
	}
	s.logger.Info("environment file written", "path", path)
	return nil
}

func (s *Service) stageTopology(ctx context.Context, domain string, _ Request, _ io.Writer) error {
	spec := topology.LegendsStack(topology.StackInput{
		BotImage:      s.cfg.BotImage,
		NginxImage:    s.cfg.NginxImage,
		PostgresImage: s.cfg.PostgresImage,
		EnvFile:       s.cfg.EnvFile,
		NginxConfDir:  s.cfg.NginxConfDir,
	})
	path := filepath.Join(s.cfg.StackDir, s.cfg.ComposeFile)
	if err := spec.WriteFile(path); err != nil {
		return err
	}
	s.logger.Info("topology descriptor written", "path", path)
	return nil
}

func (s *Service) stageProxy(ctx context.Context, domain string, _ Request, _ io.Writer) error {
	table, err := proxy.LegendsTable(domain, "http://web:5001", s.cfg.CertLiveDir, s.cfg.CertWebroot)
	if err != nil {
		return err
	}
	path, err := table.WriteFile(filepath.Join(s.cfg.StackDir, s.cfg.NginxConfDir))
	if err != nil {
		return err
	}
	s.logger.Info("proxy config written", "path", path)
	return nil
}

func (s *Service) stageCerts(ctx context.Context, domain string, req Request, _ io.Writer) error {
	if req.SkipCerts || s.certs == nil {
		s.logger.Info("certificate stage skipped")
		return nil
	}
	needed, err := s.certs.NeedsRenewal(domain, s.renewWindow)
	if err != nil {
		return err
	}
	if !needed {
		s.logger.Info("certificate still valid", "domain", domain)
		return nil
	}
	if err := s.certs.Obtain(ctx, domain); err != nil {
		return err
	}
	if s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			// The proxy may not be running yet on first provision.
			s.logger.Warn("proxy reload after certificate issuance failed", "error", err)
		}
	}
	return nil
}

func (s *Service) stagePull(ctx context.Context, _ string, _ Request, out io.Writer) error {
	pullCtx, cancel := context.WithTimeout(ctx, s.cfg.PullTimeout)
	defer cancel()
	return s.compose.Pull(pullCtx, out)
}

func (s *Service) stageUp(ctx context.Context, _ string, _ Request, out io.Writer) error {
	upCtx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	return s.compose.Up(upCtx, out)
}

func (s *Service) stageVerify(ctx context.Context, domain string, _ Request, _ io.Writer) error {
	target := health.Target{Name: "web", URL: "http://127.0.0.1:5001/health"}
	return s.verifier.WaitReady(ctx, target, s.cfg.HealthTimeout, s.cfg.HealthInterval)
}

func (s *Service) envPath() string {
	return filepath.Join(s.cfg.StackDir, s.cfg.EnvFile)
}

func (s *Service) startRun(ctx context.Context, runID, domain string) {
	if s.recorder == nil {
		return
	}
	run := &store.Run{ID: runID, Command: "provision", Domain: domain}
	if err := s.recorder.CreateRun(ctx, run); err != nil {
		s.logger.Warn("record run failed", "run_id", runID, "error", err)
	}
}

func (s *Service) enterStage(ctx context.Context, runID, stage, domain string) {
	s.logger.Info("stage started", "run_id", runID, "stage", stage)
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpdateRunStage(ctx, runID, stage); err != nil {
		s.logger.Warn("record stage failed", "run_id", runID, "stage", stage, "error", err)
	}
	s.appendEvent(ctx, runID, "stage_started", "info", stage+" started", map[string]any{"stage": stage, "domain": domain})
}

func (s *Service) failRun(ctx context.Context, runID, stage, domain string, err error) {
	s.logger.Error("stage failed", "run_id", runID, "stage", stage, "error", err)
	if s.recorder == nil {
		return
	}
	s.appendEvent(ctx, runID, "stage_failed", "error", fmt.Sprintf("%s failed: %v", stage, err), map[string]any{"stage": stage, "domain": domain})
	if ferr := s.recorder.FinishRun(ctx, runID, store.RunStatusFailed, err.Error()); ferr != nil {
		s.logger.Warn("record run failure failed", "run_id", runID, "error", ferr)
	}
}

func (s *Service) finishRun(ctx context.Context, runID, domain string) {
	if s.recorder == nil {
		return
	}
	s.appendEvent(ctx, runID, "provision_complete", "info", "stack is running", map[string]any{"domain": domain})
	if err := s.recorder.FinishRun(ctx, runID, store.RunStatusSucceeded, ""); err != nil {
		s.logger.Warn("record run completion failed", "run_id", runID, "error", err)
	}
}

func (s *Service) appendEvent(ctx context.Context, runID, eventType, level, message string, metadata map[string]any) {
	event := &store.Event{
		RunID:     runID,
		Source:    "legendsctl",
		EventType: eventType,
		Level:     level,
		Message:   message,
	}
	if len(metadata) > 0 {
		if payload, err := json.Marshal(metadata); err == nil {
			event.Metadata = payload
		}
	}
	if err := s.recorder.AppendEvent(ctx, event); err != nil {
		s.logger.Warn("record event failed", "run_id", runID, "event_type", eventType, "error", err)
	}
}
