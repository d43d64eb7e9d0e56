// Package certs obtains and renews TLS certificates by driving an ACME
// client binary in webroot mode.
package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultAttempts    = 3
	defaultRetryBase   = 5 * time.Second
	defaultRenewInside = 30 * 24 * time.Hour
)

// CommandRunner executes an external command and returns combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	return cmd.CombinedOutput()
}

// Provisioner wraps the ACME client invocation with retries.
type Provisioner struct {
	bin       string
	webroot   string
	liveDir   string
	email     string
	staging   bool
	logger    *slog.Logger
	run       CommandRunner
	attempts  uint64
	retryBase time.Duration
}

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithRunner overrides command execution, for tests.
func WithRunner(run CommandRunner) Option {
	return func(p *Provisioner) { p.run = run }
}

// WithStaging directs issuance at the ACME staging environment.
func WithStaging(staging bool) Option {
	return func(p *Provisioner) { p.staging = staging }
}

// WithAttempts sets the number of issuance attempts.
func WithAttempts(n uint64) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithRetryBase sets the initial backoff between attempts.
func WithRetryBase(d time.Duration) Option {
	return func(p *Provisioner) {
		if d > 0 {
			p.retryBase = d
		}
	}
}

// New constructs a Provisioner.
func New(bin, webroot, liveDir, email string, logger *slog.Logger, opts ...Option) (*Provisioner, error) {
	if strings.TrimSpace(bin) == "" {
		return nil, fmt.Errorf("acme client binary required")
	}
	if strings.TrimSpace(webroot) == "" {
		return nil, fmt.Errorf("webroot directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provisioner{
		bin:       bin,
		webroot:   webroot,
		liveDir:   strings.TrimRight(liveDir, "/"),
		email:     strings.TrimSpace(email),
		logger:    logger,
		run:       execRunner,
		attempts:  defaultAttempts,
		retryBase: defaultRetryBase,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Obtain requests a certificate covering the bare domain and the legends
// subdomain. Transient failures are retried with exponential backoff.
func (p *Provisioner) Obtain(ctx context.Context, domain string) error {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return fmt.Errorf("domain required")
	}
	args := p.obtainArgs(domain)

	backoff := retry.WithMaxRetries(p.attempts-1, retry.NewExponential(p.retryBase))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p.logger.Info("requesting certificate", "domain", domain, "attempt", attempt)
		output, err := p.run(ctx, p.bin, args...)
		if err != nil {
			p.logger.Warn("certificate request failed", "domain", domain, "attempt", attempt, "error", err, "output", tail(output))
			return retry.RetryableError(fmt.Errorf("obtain certificate for %s: %w", domain, err))
		}
		p.logger.Info("certificate obtained", "domain", domain)
		return nil
	})
}

// Renew runs the client's renew command, which is a no-op for
// certificates outside their renewal window.
func (p *Provisioner) Renew(ctx context.Context) error {
	output, err := p.run(ctx, p.bin, "renew", "--webroot", "-w", p.webroot, "--non-interactive")
	if err != nil {
		return fmt.Errorf("renew certificates: %w (%s)", err, tail(output))
	}
	p.logger.Info("certificate renewal pass complete")
	return nil
}

func (p *Provisioner) obtainArgs(domain string) []string {
	args := []string{
		"certonly",
		"--webroot",
		"-w", p.webroot,
		"-d", domain,
		"-d", "legends." + domain,
		"--non-interactive",
		"--agree-tos",
		"--keep-until-expiring",
	}
	if p.email != "" {
		args = append(args, "--email", p.email)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}
	if p.staging {
		args = append(args, "--staging")
	}
	return args
}

// NeedsRenewal reports whether the live certificate for domain expires
// within the given window. A missing certificate always needs issuance.
func (p *Provisioner) NeedsRenewal(domain string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = defaultRenewInside
	}
	path := filepath.Join(p.liveDir, domain, "fullchain.pem")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("read certificate %s: %w", path, err)
	}
	cert, err := parseLeaf(data)
	if err != nil {
		return false, fmt.Errorf("parse certificate %s: %w", path, err)
	}
	return time.Until(cert.NotAfter) < window, nil
}

// parseLeaf decodes the first certificate in a PEM bundle.
func parseLeaf(data []byte) (*x509.Certificate, error) {
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("no certificate block found")
		}
		if block.Type == "CERTIFICATE" {
			return x509.ParseCertificate(block.Bytes)
		}
		data = rest
	}
}

func tail(output []byte) string {
	text := strings.TrimSpace(string(output))
	const limit = 1024
	if len(text) <= limit {
		return text
	}
	return "..." + text[len(text)-limit:]
}
