package topology

import (
	"fmt"
	"os"
	"path/filepath"
)

// StackInput parameterizes the default legends stack.
type StackInput struct {
	BotImage      string
	NginxImage    string
	PostgresImage string
	EnvFile       string
	NginxConfDir  string
	DBName        string
	DBUser        string
}

// Service names in the legends stack.
const (
	ServiceDB    = "db"
	ServiceBot   = "bot"
	ServiceWeb   = "web"
	ServiceNginx = "nginx"
)

const (
	networkName = "legends"
	dbVolume    = "pgdata"
	certVolume  = "letsencrypt"
	acmeVolume  = "certbot-webroot"

	// The web interface listens on 5001 behind the proxy.
	webPort = "5001"
)

// LegendsStack builds the four-service topology the deployment runs:
// postgres, the bot process, the web interface and the nginx front.
func LegendsStack(in StackInput) *Spec {
	envFile := in.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dbName := in.DBName
	if dbName == "" {
		dbName = "legends"
	}
	dbUser := in.DBUser
	if dbUser == "" {
		dbUser = "legends"
	}

	spec := &Spec{
		Services: map[string]Service{
			ServiceDB: {
				Image:         in.PostgresImage,
				ContainerName: "legends-db",
				Restart:       "unless-stopped",
				Environment: []string{
					"POSTGRES_DB=" + dbName,
					"POSTGRES_USER=${DB_USER}",
					"POSTGRES_PASSWORD=${DB_PASSWORD}",
				},
				Volumes:  []string{dbVolume + ":/var/lib/postgresql/data"},
				Networks: []string{networkName},
				HealthCheck: &HealthCheck{
					Test:        []string{"CMD-SHELL", fmt.Sprintf("pg_isready -U %s -d %s", dbUser, dbName)},
					Interval:    "10s",
					Timeout:     "5s",
					Retries:     5,
					StartPeriod: "10s",
				},
			},
			ServiceBot: {
				Image:         in.BotImage,
				ContainerName: "legends-bot",
				Command:       []string{"python", "main.py"},
				Restart:       "unless-stopped",
				EnvFile:       []string{envFile},
				Networks:      []string{networkName},
				DependsOn: map[string]Depend{
					ServiceDB: {Condition: ConditionHealthy},
				},
			},
			ServiceWeb: {
				Image:         in.BotImage,
				ContainerName: "legends-web",
				Command:       []string{"python", "run.py"},
				Restart:       "unless-stopped",
				EnvFile:       []string{envFile},
				Ports:         []string{"127.0.0.1:" + webPort + ":" + webPort},
				Networks:      []string{networkName},
				DependsOn: map[string]Depend{
					ServiceDB: {Condition: ConditionHealthy},
				},
				HealthCheck: &HealthCheck{
					Test:        []string{"CMD-SHELL", "wget -q -O /dev/null http://127.0.0.1:" + webPort + "/health"},
					Interval:    "30s",
					Timeout:     "5s",
					Retries:     3,
					StartPeriod: "15s",
				},
			},
			ServiceNginx: {
				Image:         in.NginxImage,
				ContainerName: "legends-nginx",
				Restart:       "unless-stopped",
				Ports:         []string{"80:80", "443:443"},
				Volumes: []string{
					in.NginxConfDir + ":/etc/nginx/conf.d:ro",
					certVolume + ":/etc/letsencrypt",
					acmeVolume + ":/var/www/certbot",
				},
				Networks: []string{networkName},
				DependsOn: map[string]Depend{
					ServiceWeb: {Condition: ConditionStarted},
				},
			},
		},
		Networks: map[string]Network{
			networkName: {Driver: "bridge"},
		},
		Volumes: map[string]Volume{
			dbVolume:   {},
			certVolume: {},
			acmeVolume: {},
		},
	}
	return spec
}

// WriteFile validates the topology and writes the descriptor to disk.
func (s *Spec) WriteFile(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	out, err := s.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create descriptor directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write descriptor %s: %w", path, err)
	}
	return nil
}
