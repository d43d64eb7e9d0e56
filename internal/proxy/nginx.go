// Package proxy generates nginx virtual-host configuration for the stack
// and reloads the proxy container without a restart.
package proxy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

// Route maps a server name to a backend upstream.
type Route struct {
	ServerName string
	Upstream   string
	// RedirectTo, when set, makes the vhost answer with a 301 to the
	// given host instead of proxying.
	RedirectTo string
}

// Table is the routing table rendered into the proxy configuration.
type Table struct {
	Domain      string
	Subdomain   string
	UpstreamURL string
	CertDir     string
	WebrootDir  string
}

// LegendsTable builds the runbook routing scheme: legends.<domain> proxies
// to the web interface, the bare domain redirects to the subdomain.
func LegendsTable(domain, upstreamURL, certLiveDir, webroot string) (Table, error) {
	domain = strings.TrimSpace(strings.ToLower(domain))
	if domain == "" {
		return Table{}, fmt.Errorf("domain required")
	}
	if strings.TrimSpace(upstreamURL) == "" {
		upstreamURL = "http://127.0.0.1:5001"
	}
	if strings.TrimSpace(certLiveDir) == "" {
		certLiveDir = "/etc/letsencrypt/live"
	}
	if strings.TrimSpace(webroot) == "" {
		webroot = "/var/www/certbot"
	}
	return Table{
		Domain:      domain,
		Subdomain:   "legends." + domain,
		UpstreamURL: strings.TrimRight(upstreamURL, "/"),
		CertDir:     strings.TrimRight(certLiveDir, "/"),
		WebrootDir:  strings.TrimRight(webroot, "/"),
	}, nil
}

// Routes lists the vhost entries the table implies, deterministically
// ordered by server name.
func (t Table) Routes() []Route {
	routes := []Route{
		{ServerName: t.Subdomain, Upstream: t.UpstreamURL},
		{ServerName: t.Domain, RedirectTo: t.Subdomain},
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ServerName < routes[j].ServerName })
	return routes
}

var vhostTemplate = template.Must(template.New("vhost").Parse(`# Managed by legendsctl. Manual edits will be overwritten.

server {
    listen 80;
    listen [::]:80;
    server_name {{.Domain}} {{.Subdomain}};

    location /.well-known/acme-challenge/ {
        root {{.WebrootDir}};
    }

    location / {
        return 301 https://$host$request_uri;
    }
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    http2 on;
    server_name {{.Domain}};

    ssl_certificate {{.CertDir}}/{{.Domain}}/fullchain.pem;
    ssl_certificate_key {{.CertDir}}/{{.Domain}}/privkey.pem;

    return 301 https://{{.Subdomain}}$request_uri;
}

server {
    listen 443 ssl;
    listen [::]:443 ssl;
    http2 on;
    server_name {{.Subdomain}};

    ssl_certificate {{.CertDir}}/{{.Domain}}/fullchain.pem;
    ssl_certificate_key {{.CertDir}}/{{.Domain}}/privkey.pem;

    location /health {
        proxy_pass {{.UpstreamURL}}/health;
        proxy_set_header Host $host;
    }

    location / {
        proxy_pass {{.UpstreamURL}};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_read_timeout 60s;
    }
}
`))

// Render produces the nginx vhost configuration for the table.
func (t Table) Render() ([]byte, error) {
	if t.Domain == "" || t.Subdomain == "" {
		return nil, fmt.Errorf("routing table incomplete")
	}
	var buf bytes.Buffer
	if err := vhostTemplate.Execute(&buf, t); err != nil {
		return nil, fmt.Errorf("render vhost config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile renders the table into confDir as <domain>.conf.
func (t Table) WriteFile(confDir string) (string, error) {
	out, err := t.Render()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		return "", fmt.Errorf("create proxy conf dir: %w", err)
	}
	path := filepath.Join(confDir, t.Domain+".conf")
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write vhost config %s: %w", path, err)
	}
	return path, nil
}
