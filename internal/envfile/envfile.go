// Package envfile materializes and validates the stack environment file
// consumed by the bot, web interface and database containers.
package envfile

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Keys consumed by the running services. Every one of these must hold a
// non-empty value before the stack is started.
const (
	KeyDBUser        = "DB_USER"
	KeyDBPassword    = "DB_PASSWORD"
	KeyDatabaseURL   = "DATABASE_URL"
	KeySessionSecret = "SESSION_SECRET"
	KeyJWTSecret     = "JWT_SECRET"
	KeyBotToken      = "DISCORD_BOT_TOKEN"
	KeyDomainName    = "DOMAIN_NAME"
)

// RequiredKeys lists every key a running service consumes, in file order.
var RequiredKeys = []string{
	KeyDBUser,
	KeyDBPassword,
	KeyDatabaseURL,
	KeySessionSecret,
	KeyJWTSecret,
	KeyBotToken,
	KeyDomainName,
}

// Env is a materialized deployment environment.
type Env map[string]string

// Load reads an env file from disk.
func Load(path string) (Env, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return Env(values), nil
}

// ValidationError reports keys that are missing or empty.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("environment incomplete: missing or empty keys: %s", strings.Join(e.Missing, ", "))
}

// Validate checks that every required key is present and non-empty.
func (e Env) Validate() error {
	var missing []string
	for _, key := range RequiredKeys {
		if strings.TrimSpace(e[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Marshal serializes the environment in deterministic order: required keys
// first, then any extra keys sorted by name.
func (e Env) Marshal() []byte {
	var b strings.Builder
	b.WriteString("# Generated by legendsctl. Do not commit this file.\n")
	seen := make(map[string]bool, len(RequiredKeys))
	for _, key := range RequiredKeys {
		seen[key] = true
		fmt.Fprintf(&b, "%s=%s\n", key, quoteIfNeeded(e[key]))
	}
	extras := make([]string, 0, len(e))
	for key := range e {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		fmt.Fprintf(&b, "%s=%s\n", key, quoteIfNeeded(e[key]))
	}
	return []byte(b.String())
}

// Write persists the environment file with operator-only permissions.
func (e Env) Write(path string) error {
	if err := os.WriteFile(path, e.Marshal(), 0o600); err != nil {
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	return nil
}

func quoteIfNeeded(value string) string {
	if strings.ContainsAny(value, " \t#\"'") {
		return fmt.Sprintf("%q", value)
	}
	return value
}
