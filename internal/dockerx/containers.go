package dockerx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// ErrNotFound indicates the requested container was not found.
var ErrNotFound = errors.New("dockerx: container not found")

// ContainerState summarizes a container's runtime condition.
type ContainerState struct {
	ID       string
	Name     string
	Running  bool
	Status   string
	Health   string
	ExitCode int
}

// InspectContainer returns the runtime state of a container by name or ID.
func (c *Client) InspectContainer(ctx context.Context, name string) (ContainerState, error) {
	if strings.TrimSpace(name) == "" {
		return ContainerState{}, fmt.Errorf("container name cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return ContainerState{}, ErrNotFound
		}
		return ContainerState{}, fmt.Errorf("container inspect: %w", err)
	}
	state := ContainerState{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		state.Running = inspect.State.Running
		state.Status = inspect.State.Status
		state.ExitCode = inspect.State.ExitCode
		if inspect.State.Health != nil {
			state.Health = inspect.State.Health.Status
		}
	}
	return state, nil
}

// SignalContainer delivers a signal (e.g. "HUP") to a running container.
func (c *Client) SignalContainer(ctx context.Context, name, signal string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerKill(ctx, name, signal); err != nil {
		if client.IsErrNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("signal container %s: %w", name, err)
	}
	return nil
}

// TailLogs returns the last tail lines of a container's combined output.
func (c *Client) TailLogs(ctx context.Context, name string, tail int) ([]string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("container name cannot be empty")
	}
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := c.inner.ContainerLogs(ctx, name, opts)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(copyErr)
	}()

	var lines []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("read container logs: %w", err)
	}
	return lines, nil
}
