package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestObtainArgsCoverBothNames(t *testing.T) {
	var got []string
	runner := func(_ context.Context, name string, args ...string) ([]byte, error) {
		got = append([]string{name}, args...)
		return nil, nil
	}
	p, err := New("certbot", "/var/www/certbot", "/etc/letsencrypt/live", "ops@example.com", testLogger(), WithRunner(runner))
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := p.Obtain(context.Background(), "Example.com"); err != nil {
		t.Fatalf("obtain failed: %v", err)
	}

	joined := strings.Join(got, " ")
	for _, want := range []string{
		"certbot certonly --webroot -w /var/www/certbot",
		"-d example.com",
		"-d legends.example.com",
		"--email ops@example.com",
		"--non-interactive",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("command missing %q: %s", want, joined)
		}
	}
}

func TestObtainRetriesTransientFailure(t *testing.T) {
	calls := 0
	runner := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		calls++
		if calls < 3 {
			return []byte("challenge failed"), errors.New("exit status 1")
		}
		return nil, nil
	}
	p, err := New("certbot", "/webroot", "", "", testLogger(),
		WithRunner(runner), WithAttempts(3), WithRetryBase(time.Millisecond))
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := p.Obtain(context.Background(), "example.com"); err != nil {
		t.Fatalf("obtain should succeed on third attempt: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestObtainGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	runner := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		calls++
		return nil, errors.New("exit status 1")
	}
	p, _ := New("certbot", "/webroot", "", "", testLogger(),
		WithRunner(runner), WithAttempts(2), WithRetryBase(time.Millisecond))
	if err := p.Obtain(context.Background(), "example.com"); err == nil {
		t.Fatalf("expected failure after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestObtainRequiresDomain(t *testing.T) {
	p, _ := New("certbot", "/webroot", "", "", testLogger())
	if err := p.Obtain(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty domain")
	}
}

func writeTestCert(t *testing.T, dir, domain string, notAfter time.Time) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		DNSNames:     []string{domain, "legends." + domain},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	certDir := filepath.Join(dir, domain)
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(filepath.Join(certDir, "fullchain.pem"), out, 0o644); err != nil {
		t.Fatalf("write cert: %v", err)
	}
}

func TestNeedsRenewal(t *testing.T) {
	dir := t.TempDir()
	p, _ := New("certbot", "/webroot", dir, "", testLogger())

	// no certificate on disk yet
	needed, err := p.NeedsRenewal("example.com", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("needs renewal failed: %v", err)
	}
	if !needed {
		t.Fatalf("missing certificate should need issuance")
	}

	writeTestCert(t, dir, "example.com", time.Now().Add(90*24*time.Hour))
	needed, err = p.NeedsRenewal("example.com", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("needs renewal failed: %v", err)
	}
	if needed {
		t.Fatalf("fresh certificate should not need renewal")
	}

	writeTestCert(t, dir, "expiring.com", time.Now().Add(10*24*time.Hour))
	needed, err = p.NeedsRenewal("expiring.com", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("needs renewal failed: %v", err)
	}
	if !needed {
		t.Fatalf("certificate inside window should need renewal")
	}
}

func TestRenewPropagatesFailure(t *testing.T) {
	runner := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("some output"), errors.New("exit status 1")
	}
	p, _ := New("certbot", "/webroot", "", "", testLogger(), WithRunner(runner))
	if err := p.Renew(context.Background()); err == nil {
		t.Fatalf("expected renew failure")
	}
}
