// Package compose drives the docker compose CLI for stack lifecycle
// operations: up, down, ps, logs, exec and pull.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Executor runs a compose invocation, streaming output to the writers.
type Executor func(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error

func execCommand(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = os.Environ()
	return cmd.Run()
}

// Runner invokes docker compose against a single stack.
type Runner struct {
	bin     string
	file    string
	project string
	logger  *slog.Logger
	exec    Executor
}

// New constructs a Runner for the given compose file and project name.
func New(bin, file, project string, logger *slog.Logger) (*Runner, error) {
	if strings.TrimSpace(file) == "" {
		return nil, fmt.Errorf("compose file required")
	}
	if strings.TrimSpace(bin) == "" {
		bin = "docker"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{bin: bin, file: file, project: project, logger: logger, exec: execCommand}, nil
}

// WithExecutor overrides command execution, for tests.
func (r *Runner) WithExecutor(exec Executor) *Runner {
	r.exec = exec
	return r
}

func (r *Runner) baseArgs() []string {
	args := []string{"compose", "-f", r.file}
	if r.project != "" {
		args = append(args, "-p", r.project)
	}
	return args
}

func (r *Runner) runStreaming(ctx context.Context, stdout io.Writer, sub ...string) error {
	if stdout == nil {
		stdout = io.Discard
	}
	args := append(r.baseArgs(), sub...)
	r.logger.Debug("compose invocation", "args", strings.Join(args, " "))
	var stderr bytes.Buffer
	if err := r.exec(ctx, stdout, &stderr, r.bin, args...); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("compose %s: %w: %s", sub[0], err, msg)
		}
		return fmt.Errorf("compose %s: %w", sub[0], err)
	}
	return nil
}

func (r *Runner) runCapture(ctx context.Context, sub ...string) ([]byte, error) {
	var stdout bytes.Buffer
	if err := r.runStreaming(ctx, &stdout, sub...); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Up starts the stack detached. Missing images are pulled by compose.
func (r *Runner) Up(ctx context.Context, out io.Writer) error {
	return r.runStreaming(ctx, out, "up", "-d", "--remove-orphans")
}

// Down stops and removes the stack's containers. Volumes are preserved so
// database state survives restarts.
func (r *Runner) Down(ctx context.Context, out io.Writer) error {
	return r.runStreaming(ctx, out, "down")
}

// Pull fetches the latest images for every service.
func (r *Runner) Pull(ctx context.Context, out io.Writer) error {
	return r.runStreaming(ctx, out, "pull")
}

// Restart restarts one service, or the whole stack when service is empty.
func (r *Runner) Restart(ctx context.Context, out io.Writer, service string) error {
	sub := []string{"restart"}
	if strings.TrimSpace(service) != "" {
		sub = append(sub, service)
	}
	return r.runStreaming(ctx, out, sub...)
}

// Logs streams service logs. An empty service selects all services.
func (r *Runner) Logs(ctx context.Context, out io.Writer, service string, follow bool, tail int) error {
	sub := []string{"logs"}
	if follow {
		sub = append(sub, "--follow")
	}
	if tail > 0 {
		sub = append(sub, "--tail", fmt.Sprintf("%d", tail))
	}
	if strings.TrimSpace(service) != "" {
		sub = append(sub, service)
	}
	return r.runStreaming(ctx, out, sub...)
}

// Exec runs a command inside a running service container.
func (r *Runner) Exec(ctx context.Context, out io.Writer, service string, command []string) error {
	if strings.TrimSpace(service) == "" {
		return fmt.Errorf("service name required")
	}
	if len(command) == 0 {
		return fmt.Errorf("command required")
	}
	sub := append([]string{"exec", "-T", service}, command...)
	return r.runStreaming(ctx, out, sub...)
}

// ServiceStatus is one row of compose ps output.
type ServiceStatus struct {
	Name     string `json:"Name"`
	Service  string `json:"Service"`
	State    string `json:"State"`
	Health   string `json:"Health"`
	Status   string `json:"Status"`
	ExitCode int    `json:"ExitCode"`
}

// Running reports whether the container is in the running state.
func (s ServiceStatus) Running() bool {
	return strings.EqualFold(s.State, "running")
}

// PS lists the stack's services and their states.
func (r *Runner) PS(ctx context.Context) ([]ServiceStatus, error) {
	output, err := r.runCapture(ctx, "ps", "-a", "--format", "json")
	if err != nil {
		return nil, err
	}
	return parsePS(output)
}

// parsePS decodes compose ps JSON output. Depending on the compose
// version the output is either one JSON object per line or a single
// array.
func parsePS(output []byte) ([]ServiceStatus, error) {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var rows []ServiceStatus
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decode ps output: %w", err)
		}
		return rows, nil
	}
	var rows []ServiceStatus
	for _, line := range bytes.Split(trimmed, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var row ServiceStatus
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("decode ps row %q: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
