package envfile

import (
	"fmt"
	"strings"

	"github.com/ccogswell/tapestryoflegends/internal/secrets"
)

const (
	defaultDBHost = "db"
	defaultDBPort = 5432
	defaultDBName = "legends"
	defaultDBUser = "legends"

	secretByteLen  = 32
	passwordLength = 24
)

// MaterializeInput carries operator-supplied values. Zero fields are
// filled with generated secrets or defaults.
type MaterializeInput struct {
	Domain     string
	BotToken   string
	DBUser     string
	DBPassword string
	DBHost     string
	DBName     string
}

// Materialize renders a complete deployment environment from operator
// input. Secrets not supplied are generated; DATABASE_URL is always
// composed from the database credentials so the two cannot drift.
func Materialize(in MaterializeInput) (Env, error) {
	domain := strings.TrimSpace(strings.ToLower(in.Domain))
	if domain == "" {
		return nil, fmt.Errorf("domain name required")
	}
	botToken := strings.TrimSpace(in.BotToken)
	if botToken == "" {
		return nil, fmt.Errorf("discord bot token required")
	}

	user := strings.TrimSpace(in.DBUser)
	if user == "" {
		user = defaultDBUser
	}
	host := strings.TrimSpace(in.DBHost)
	if host == "" {
		host = defaultDBHost
	}
	name := strings.TrimSpace(in.DBName)
	if name == "" {
		name = defaultDBName
	}

	password := strings.TrimSpace(in.DBPassword)
	if password == "" {
		generated, err := secrets.Password(passwordLength)
		if err != nil {
			return nil, fmt.Errorf("generate db password: %w", err)
		}
		password = generated
	}
	sessionSecret, err := secrets.HexToken(secretByteLen)
	if err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	jwtSecret, err := secrets.HexToken(secretByteLen)
	if err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}

	return Env{
		KeyDBUser:        user,
		KeyDBPassword:    password,
		KeyDatabaseURL:   DatabaseURL(user, password, host, name),
		KeySessionSecret: sessionSecret,
		KeyJWTSecret:     jwtSecret,
		KeyBotToken:      botToken,
		KeyDomainName:    domain,
	}, nil
}

// DatabaseURL composes the connection URL in the format the services
// expect: postgresql://<user>:<password>@<host>:5432/<dbname>.
func DatabaseURL(user, password, host, dbname string) string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s", user, password, host, defaultDBPort, dbname)
}

// NormalizeDatabaseURL upgrades the legacy postgres:// scheme to
// postgresql://, which is what the web interface's ORM requires.
func NormalizeDatabaseURL(raw string) string {
	if strings.HasPrefix(raw, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(raw, "postgres://")
	}
	return raw
}
