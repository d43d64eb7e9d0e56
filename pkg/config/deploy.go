package config

import "time"

// DeployConfig holds runtime configuration for the legendsctl CLI.
type DeployConfig struct {
	Environment    string
	StackDir       string
	EnvFile        string
	ComposeFile    string
	ComposeBin     string
	ProjectName    string
	DockerHost     string
	DatabaseURL    string
	MigrationsDir  string
	BotImage       string
	NginxImage     string
	PostgresImage  string
	NginxConfDir   string
	NginxContainer string
	CertbotBin     string
	CertWebroot    string
	CertLiveDir    string
	ACMEEmail      string
	CommandTimeout time.Duration
	PullTimeout    time.Duration
	HealthTimeout  time.Duration
	HealthInterval time.Duration
}

// LoadDeployConfig constructs a DeployConfig from environment variables.
func LoadDeployConfig() DeployConfig {
	return DeployConfig{
		Environment:    GetString("APP_ENV", "production"),
		StackDir:       GetString("LEGENDS_STACK_DIR", "."),
		EnvFile:        GetString("LEGENDS_ENV_FILE", ".env"),
		ComposeFile:    GetString("LEGENDS_COMPOSE_FILE", "docker-compose.yml"),
		ComposeBin:     GetString("LEGENDS_COMPOSE_BIN", "docker"),
		ProjectName:    GetString("LEGENDS_PROJECT", "legends"),
		DockerHost:     GetString("DOCKER_HOST", ""),
		DatabaseURL:    GetString("DATABASE_URL", ""),
		MigrationsDir:  GetString("LEGENDS_MIGRATIONS_DIR", "migrations"),
		BotImage:       GetString("LEGENDS_BOT_IMAGE", "ghcr.io/ccogswell/tapestryoflegends:latest"),
		NginxImage:     GetString("LEGENDS_NGINX_IMAGE", "nginx:1.27-alpine"),
		PostgresImage:  GetString("LEGENDS_POSTGRES_IMAGE", "postgres:16-alpine"),
		NginxConfDir:   GetString("LEGENDS_NGINX_CONF_DIR", "nginx/conf.d"),
		NginxContainer: GetString("LEGENDS_NGINX_CONTAINER", "legends-nginx"),
		CertbotBin:     GetString("LEGENDS_CERTBOT_BIN", "certbot"),
		CertWebroot:    GetString("LEGENDS_CERT_WEBROOT", "/var/www/certbot"),
		CertLiveDir:    GetString("LEGENDS_CERT_LIVE_DIR", "/etc/letsencrypt/live"),
		ACMEEmail:      GetString("LEGENDS_ACME_EMAIL", ""),
		CommandTimeout: GetSeconds("LEGENDS_COMMAND_TIMEOUT_SECONDS", 300),
		PullTimeout:    GetSeconds("LEGENDS_PULL_TIMEOUT_SECONDS", 600),
		HealthTimeout:  GetSeconds("LEGENDS_HEALTH_TIMEOUT_SECONDS", 120),
		HealthInterval: GetSeconds("LEGENDS_HEALTH_INTERVAL_SECONDS", 3),
	}
}
