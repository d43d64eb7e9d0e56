package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	name string
	args []string
}

func newTestRunner(t *testing.T, stdout string, execErr error) (*Runner, *[]call) {
	t.Helper()
	calls := &[]call{}
	r, err := New("docker", "docker-compose.yml", "legends", testLogger())
	if err != nil {
		t.Fatalf("new runner failed: %v", err)
	}
	r.WithExecutor(func(_ context.Context, out, stderr io.Writer, name string, args ...string) error {
		*calls = append(*calls, call{name: name, args: args})
		if stdout != "" {
			fmt.Fprint(out, stdout)
		}
		if execErr != nil {
			fmt.Fprint(stderr, "daemon unavailable")
		}
		return execErr
	})
	return r, calls
}

func argsOf(t *testing.T, calls *[]call) string {
	t.Helper()
	if len(*calls) != 1 {
		t.Fatalf("expected a single invocation, got %d", len(*calls))
	}
	return (*calls)[0].name + " " + strings.Join((*calls)[0].args, " ")
}

func TestUpInvocation(t *testing.T) {
	r, calls := newTestRunner(t, "", nil)
	if err := r.Up(context.Background(), io.Discard); err != nil {
		t.Fatalf("up failed: %v", err)
	}
	got := argsOf(t, calls)
	want := "docker compose -f docker-compose.yml -p legends up -d --remove-orphans"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDownInvocationPreservesVolumes(t *testing.T) {
	r, calls := newTestRunner(t, "", nil)
	if err := r.Down(context.Background(), io.Discard); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	got := argsOf(t, calls)
	if strings.Contains(got, "--volumes") || strings.Contains(got, "-v ") {
		t.Fatalf("down must not remove volumes: %q", got)
	}
	if !strings.HasSuffix(got, "down") {
		t.Fatalf("unexpected invocation: %q", got)
	}
}

func TestLogsInvocation(t *testing.T) {
	r, calls := newTestRunner(t, "", nil)
	if err := r.Logs(context.Background(), io.Discard, "bot", true, 50); err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	got := argsOf(t, calls)
	for _, want := range []string{"logs", "--follow", "--tail 50", "bot"} {
		if !strings.Contains(got, want) {
			t.Fatalf("invocation missing %q: %q", want, got)
		}
	}
}

func TestExecInvocation(t *testing.T) {
	r, calls := newTestRunner(t, "", nil)
	err := r.Exec(context.Background(), io.Discard, "db", []string{"psql", "-U", "legends"})
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	got := argsOf(t, calls)
	if !strings.Contains(got, "exec -T db psql -U legends") {
		t.Fatalf("unexpected invocation: %q", got)
	}
}

func TestExecValidatesInput(t *testing.T) {
	r, _ := newTestRunner(t, "", nil)
	if err := r.Exec(context.Background(), io.Discard, "", []string{"ls"}); err == nil {
		t.Fatalf("expected error for missing service")
	}
	if err := r.Exec(context.Background(), io.Discard, "db", nil); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestErrorIncludesStderr(t *testing.T) {
	r, _ := newTestRunner(t, "", errors.New("exit status 1"))
	err := r.Up(context.Background(), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "daemon unavailable") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestPSParsesLineDelimitedJSON(t *testing.T) {
	output := `{"Name":"legends-db","Service":"db","State":"running","Health":"healthy"}
{"Name":"legends-web","Service":"web","State":"running","Health":"healthy"}
{"Name":"legends-bot","Service":"bot","State":"exited","ExitCode":1}
`
	r, _ := newTestRunner(t, output, nil)
	rows, err := r.PS(context.Background())
	if err != nil {
		t.Fatalf("ps failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if !rows[0].Running() || rows[0].Health != "healthy" {
		t.Fatalf("unexpected db row: %+v", rows[0])
	}
	if rows[2].Running() || rows[2].ExitCode != 1 {
		t.Fatalf("unexpected bot row: %+v", rows[2])
	}
}

func TestPSParsesArrayJSON(t *testing.T) {
	output := `[{"Name":"legends-db","Service":"db","State":"running"}]`
	r, _ := newTestRunner(t, output, nil)
	rows, err := r.PS(context.Background())
	if err != nil {
		t.Fatalf("ps failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Service != "db" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestParsePSRejectsGarbage(t *testing.T) {
	if _, err := parsePS([]byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParsePSEmptyOutput(t *testing.T) {
	rows, err := parsePS([]byte("  \n"))
	if err != nil {
		t.Fatalf("empty output should not error: %v", err)
	}
	if rows != nil {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}
