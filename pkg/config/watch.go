package config

import "time"

// WatchConfig holds runtime configuration for the legendswatchd daemon.
type WatchConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	DockerHost       string
	ProjectName      string
	JWTSecret        string
	OperatorHash     string
	TokenTTL         time.Duration
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	SSEHeartbeat     time.Duration
	RateLimitPerMin  int
	LogTailDefault   int
	WebHealthURL     string
	BotStatusURL     string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	DisablePersist   bool
}

// LoadWatchConfig constructs a WatchConfig from environment variables.
func LoadWatchConfig() WatchConfig {
	return WatchConfig{
		Environment:      GetString("APP_ENV", "production"),
		Addr:             GetString("WATCH_ADDR", ":5002"),
		DatabaseURL:      GetString("DATABASE_URL", ""),
		DockerHost:       GetString("DOCKER_HOST", ""),
		ProjectName:      GetString("LEGENDS_PROJECT", "legends"),
		JWTSecret:        GetString("JWT_SECRET", ""),
		OperatorHash:     GetString("WATCH_OPERATOR_HASH", ""),
		TokenTTL:         time.Duration(GetInt("WATCH_TOKEN_TTL_MINUTES", 60)) * time.Minute,
		ProbeInterval:    GetSeconds("WATCH_PROBE_INTERVAL_SECONDS", 15),
		ProbeTimeout:     GetSeconds("WATCH_PROBE_TIMEOUT_SECONDS", 5),
		SSEHeartbeat:     GetSeconds("WATCH_SSE_HEARTBEAT_SECONDS", 20),
		RateLimitPerMin:  GetInt("WATCH_RATE_LIMIT_PER_MINUTE", 30),
		LogTailDefault:   GetInt("WATCH_LOG_TAIL_LINES", 100),
		WebHealthURL:     GetString("WATCH_WEB_HEALTH_URL", "http://127.0.0.1:5001/health"),
		BotStatusURL:     GetString("WATCH_BOT_STATUS_URL", "http://127.0.0.1:5001/status"),
		ShutdownTimeout:  GetSeconds("WATCH_SHUTDOWN_TIMEOUT_SECONDS", 10),
		MetricsNamespace: GetString("WATCH_METRICS_NAMESPACE", "legends"),
		DisablePersist:   GetBool("WATCH_DISABLE_PERSIST", false),
	}
}
