package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ccogswell/tapestryoflegends/internal/dockerx"
)

// Signaller delivers a signal to a named container.
type Signaller interface {
	SignalContainer(ctx context.Context, name, signal string) error
}

// Reloader triggers nginx config reloads by signalling the proxy container.
type Reloader struct {
	docker    Signaller
	container string
}

// NewReloader builds a Reloader targeting the given nginx container.
func NewReloader(docker Signaller, container string) (*Reloader, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("nginx container name required")
	}
	if docker == nil {
		return nil, fmt.Errorf("docker client required")
	}
	return &Reloader{docker: docker, container: container}, nil
}

// Reload sends SIGHUP so nginx re-reads its configuration.
func (r *Reloader) Reload(ctx context.Context) error {
	if err := r.docker.SignalContainer(ctx, r.container, "HUP"); err != nil {
		if errors.Is(err, dockerx.ErrNotFound) {
			return fmt.Errorf("nginx container %s not found", r.container)
		}
		return err
	}
	return nil
}
