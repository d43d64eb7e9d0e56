package orchestrate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ccogswell/tapestryoflegends/internal/envfile"
	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
)

type fakeComposer struct {
	calls   []string
	pullErr error
	upErr   error
}

func (f *fakeComposer) Pull(ctx context.Context, out io.Writer) error {
	f.calls = append(f.calls, "pull")
	return f.pullErr
}

func (f *fakeComposer) Up(ctx context.Context, out io.Writer) error {
	f.calls = append(f.calls, "up")
	return f.upErr
}

type fakeIssuer struct {
	needed    bool
	needErr   error
	obtainErr error
	obtained  []string
}

func (f *fakeIssuer) NeedsRenewal(domain string, window time.Duration) (bool, error) {
	return f.needed, f.needErr
}

func (f *fakeIssuer) Obtain(ctx context.Context, domain string) error {
	f.obtained = append(f.obtained, domain)
	return f.obtainErr
}

type fakeVerifier struct {
	err     error
	targets []health.Target
}

func (f *fakeVerifier) WaitReady(ctx context.Context, target health.Target, deadline, interval time.Duration) error {
	f.targets = append(f.targets, target)
	return f.err
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeRecorder struct {
	runs     []*store.Run
	stages   []string
	finishes []string
	events   []*store.Event
}

func (f *fakeRecorder) CreateRun(ctx context.Context, run *store.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeRecorder) UpdateRunStage(ctx context.Context, runID, stage string) error {
	f.stages = append(f.stages, stage)
	return nil
}

func (f *fakeRecorder) FinishRun(ctx context.Context, runID, status, errMsg string) error {
	f.finishes = append(f.finishes, status)
	return nil
}

func (f *fakeRecorder) AppendEvent(ctx context.Context, event *store.Event) error {
	f.events = append(f.events, event)
	return nil
}

func testConfig(t *testing.T) config.DeployConfig {
	t.Helper()
	return config.DeployConfig{
		StackDir:       t.TempDir(),
		EnvFile:        ".env",
		ComposeFile:    "docker-compose.yml",
		NginxConfDir:   "nginx/conf.d",
		BotImage:       "ghcr.io/ccogswell/tapestryoflegends:latest",
		NginxImage:     "nginx:1.27-alpine",
		PostgresImage:  "postgres:16-alpine",
		CertLiveDir:    "/etc/letsencrypt/live",
		CertWebroot:    "/var/www/certbot",
		CommandTimeout: time.Minute,
		PullTimeout:    time.Minute,
		HealthTimeout:  time.Second,
		HealthInterval: 10 * time.Millisecond,
	}
}

func newTestService(t *testing.T, cfg config.DeployConfig, composer *fakeComposer, issuer *fakeIssuer, verifier *fakeVerifier, reloader *fakeReloader, recorder *fakeRecorder) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var rl Reloader
	if reloader != nil {
		rl = reloader
	}
	var rec Recorder
	if recorder != nil {
		rec = recorder
	}
	svc, err := New(cfg, logger, composer, issuer, verifier, rl, rec)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestProvisionRunsAllStages(t *testing.T) {
	cfg := testConfig(t)
	composer := &fakeComposer{}
	issuer := &fakeIssuer{needed: true}
	verifier := &fakeVerifier{}
	reloader := &fakeReloader{}
	recorder := &fakeRecorder{}
	svc := newTestService(t, cfg, composer, issuer, verifier, reloader, recorder)

	err := svc.Provision(context.Background(), Request{
		Domain:   "Example.COM",
		BotToken: "bot-token",
	})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}

	env, err := envfile.Load(filepath.Join(cfg.StackDir, cfg.EnvFile))
	if err != nil {
		t.Fatalf("load generated env: %v", err)
	}
	if env[envfile.KeyDomainName] != "example.com" {
		t.Errorf("DOMAIN_NAME = %q, want example.com", env[envfile.KeyDomainName])
	}
	if _, err := os.Stat(filepath.Join(cfg.StackDir, cfg.ComposeFile)); err != nil {
		t.Errorf("compose file not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.StackDir, cfg.NginxConfDir, "example.com.conf")); err != nil {
		t.Errorf("proxy config not written: %v", err)
	}
	if len(issuer.obtained) != 1 || issuer.obtained[0] != "example.com" {
		t.Errorf("obtained = %v, want [example.com]", issuer.obtained)
	}
	if reloader.calls != 1 {
		t.Errorf("reloader calls = %d, want 1", reloader.calls)
	}
	wantCalls := []string{"pull", "up"}
	if len(composer.calls) != 2 || composer.calls[0] != wantCalls[0] || composer.calls[1] != wantCalls[1] {
		t.Errorf("composer calls = %v, want %v", composer.calls, wantCalls)
	}
	if len(verifier.targets) != 1 || verifier.targets[0].Name != "web" {
		t.Errorf("verifier targets = %v", verifier.targets)
	}

	wantStages := []string{StageEnv, StageTopology, StageProxy, StageCerts, StagePull, StageUp, StageVerify}
	if len(recorder.stages) != len(wantStages) {
		t.Fatalf("recorded stages = %v, want %v", recorder.stages, wantStages)
	}
	for i, stage := range wantStages {
		if recorder.stages[i] != stage {
			t.Errorf("stage[%d] = %q, want %q", i, recorder.stages[i], stage)
		}
	}
	if len(recorder.finishes) != 1 || recorder.finishes[0] != store.RunStatusSucceeded {
		t.Errorf("finishes = %v, want [succeeded]", recorder.finishes)
	}
}

func TestProvisionStopsOnStageFailure(t *testing.T) {
	cfg := testConfig(t)
	composer := &fakeComposer{pullErr: errors.New("registry unreachable")}
	issuer := &fakeIssuer{}
	verifier := &fakeVerifier{}
	recorder := &fakeRecorder{}
	svc := newTestService(t, cfg, composer, issuer, verifier, nil, recorder)

	err := svc.Provision(context.Background(), Request{Domain: "example.com", BotToken: "tok"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), StagePull) {
		t.Errorf("error %q does not name the failing stage", err)
	}
	if len(composer.calls) != 1 {
		t.Errorf("composer calls = %v, compose up should not run after pull fails", composer.calls)
	}
	if len(verifier.targets) != 0 {
		t.Error("verifier ran after pull failure")
	}
	if len(recorder.finishes) != 1 || recorder.finishes[0] != store.RunStatusFailed {
		t.Errorf("finishes = %v, want [failed]", recorder.finishes)
	}
}

func TestProvisionReusesValidEnvFile(t *testing.T) {
	cfg := testConfig(t)
	env, err := envfile.Materialize(envfile.MaterializeInput{Domain: "example.com", BotToken: "existing-token"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if err := env.Write(filepath.Join(cfg.StackDir, cfg.EnvFile)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	svc := newTestService(t, cfg, &fakeComposer{}, &fakeIssuer{}, &fakeVerifier{}, nil, nil)
	// No bot token in the request: the existing env must be reused.
	if err := svc.Provision(context.Background(), Request{Domain: "example.com"}); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	reloaded, err := envfile.Load(filepath.Join(cfg.StackDir, cfg.EnvFile))
	if err != nil {
		t.Fatalf("reload env: %v", err)
	}
	if reloaded[envfile.KeyBotToken] != "existing-token" {
		t.Errorf("bot token = %q, existing env was overwritten", reloaded[envfile.KeyBotToken])
	}
}

func TestProvisionSkipsCertsWhenValid(t *testing.T) {
	cfg := testConfig(t)
	issuer := &fakeIssuer{needed: false}
	svc := newTestService(t, cfg, &fakeComposer{}, issuer, &fakeVerifier{}, nil, nil)

	if err := svc.Provision(context.Background(), Request{Domain: "example.com", BotToken: "tok"}); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(issuer.obtained) != 0 {
		t.Errorf("obtained = %v, want none", issuer.obtained)
	}
}

func TestProvisionSkipCertsFlag(t *testing.T) {
	cfg := testConfig(t)
	issuer := &fakeIssuer{needed: true}
	svc := newTestService(t, cfg, &fakeComposer{}, issuer, &fakeVerifier{}, nil, nil)

	err := svc.Provision(context.Background(), Request{Domain: "example.com", BotToken: "tok", SkipCerts: true})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(issuer.obtained) != 0 {
		t.Errorf("obtained = %v, want none with SkipCerts", issuer.obtained)
	}
}

func TestProvisionRequiresDomain(t *testing.T) {
	svc := newTestService(t, testConfig(t), &fakeComposer{}, &fakeIssuer{}, &fakeVerifier{}, nil, nil)
	if err := svc.Provision(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for missing domain")
	}
}

func TestNewRejectsNilDependencies(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(testConfig(t), logger, nil, &fakeIssuer{}, &fakeVerifier{}, nil, nil); err == nil {
		t.Error("expected error for nil composer")
	}
	if _, err := New(testConfig(t), logger, &fakeComposer{}, &fakeIssuer{}, nil, nil, nil); err == nil {
		t.Error("expected error for nil verifier")
	}
}
