package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/term"

	"github.com/ccogswell/tapestryoflegends/internal/certs"
	"github.com/ccogswell/tapestryoflegends/internal/compose"
	"github.com/ccogswell/tapestryoflegends/internal/dockerx"
	"github.com/ccogswell/tapestryoflegends/internal/envfile"
	"github.com/ccogswell/tapestryoflegends/internal/health"
	"github.com/ccogswell/tapestryoflegends/internal/importer"
	"github.com/ccogswell/tapestryoflegends/internal/orchestrate"
	"github.com/ccogswell/tapestryoflegends/internal/proxy"
	"github.com/ccogswell/tapestryoflegends/internal/store"
	"github.com/ccogswell/tapestryoflegends/internal/topology"
	"github.com/ccogswell/tapestryoflegends/pkg/config"
	"github.com/ccogswell/tapestryoflegends/pkg/crypto"
	jwtpkg "github.com/ccogswell/tapestryoflegends/pkg/jwt"
	"github.com/ccogswell/tapestryoflegends/pkg/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "provision":
		err = commandProvision(args)
	case "env":
		err = commandEnv(args)
	case "render":
		err = commandRender(args)
	case "up":
		err = commandUp(args)
	case "down":
		err = commandDown(args)
	case "ps":
		err = commandPS(args)
	case "logs":
		err = commandLogs(args)
	case "exec":
		err = commandExec(args)
	case "pull":
		err = commandPull(args)
	case "cert":
		err = commandCert(args)
	case "reload":
		err = commandReload(args)
	case "verify":
		err = commandVerify(args)
	case "migrate":
		err = commandMigrate(args)
	case "import":
		err = commandImport(args)
	case "token":
		err = commandToken(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`legendsctl manages the Tapestry of Legends deployment stack.

Usage:
  legendsctl provision --domain <name>    run the full deployment pipeline
  legendsctl env [init|validate|seal|open]
  legendsctl render --domain <name>       write compose and proxy config
  legendsctl up|down|ps|pull              stack lifecycle
  legendsctl logs [--service s] [--follow]
  legendsctl exec --service s -- <cmd...>
  legendsctl cert [--renew] [--staging]   obtain or renew certificates
  legendsctl reload                       reload the proxy configuration
  legendsctl verify                       probe service health endpoints
  legendsctl migrate [--status]           apply database migrations
  legendsctl import --dir <path>          import a safe CSV export
  legendsctl token [issue|hash]           operator credentials for legendswatchd
  legendsctl version`)
}

func printVersion() {
	fmt.Printf("legendsctl %s\n", buildVersion)
}

// --- environment -----------------------------------------------------

func commandEnv(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: legendsctl env [init|validate|seal|open]")
	}
	sub := args[0]
	switch sub {
	case "init":
		return envInit(args[1:])
	case "validate":
		return envValidate(args[1:])
	case "seal":
		return envSeal(args[1:])
	case "open":
		return envOpen(args[1:])
	default:
		return fmt.Errorf("unknown env command: %s", sub)
	}
}

func envInit(args []string) error {
	fs := flag.NewFlagSet("env init", flag.ExitOnError)
	domain := fs.String("domain", "", "Public domain name")
	botToken := fs.String("bot-token", "", "Discord bot token (supply to avoid prompt)")
	dbUser := fs.String("db-user", "", "Database user (default legends)")
	dbName := fs.String("db-name", "", "Database name (default legends)")
	force := fs.Bool("force", false, "Overwrite an existing env file")
	fs.Parse(args)

	if strings.TrimSpace(*domain) == "" {
		return errors.New("--domain is required")
	}

	cfg := config.LoadDeployConfig()
	path := filepath.Join(cfg.StackDir, cfg.EnvFile)
	if _, err := os.Stat(path); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	token := strings.TrimSpace(*botToken)
	if token == "" {
		var err error
		token, err = promptSecret("Discord bot token: ")
		if err != nil {
			return err
		}
	}

	env, err := envfile.Materialize(envfile.MaterializeInput{
		Domain:   *domain,
		BotToken: token,
		DBUser:   *dbUser,
		DBName:   *dbName,
	})
	if err != nil {
		return err
	}
	if err := env.Write(path); err != nil {
		return err
	}
	fmt.Printf("environment written to %s\n", path)
	return nil
}

func envValidate(args []string) error {
	fs := flag.NewFlagSet("env validate", flag.ExitOnError)
	file := fs.String("file", "", "Env file path (default the stack env file)")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	path := *file
	if path == "" {
		path = filepath.Join(cfg.StackDir, cfg.EnvFile)
	}
	env, err := envfile.Load(path)
	if err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s is complete\n", path)
	return nil
}

func envSeal(args []string) error {
	fs := flag.NewFlagSet("env seal", flag.ExitOnError)
	out := fs.String("out", "", "Output path (default <env file>.sealed)")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	path := filepath.Join(cfg.StackDir, cfg.EnvFile)
	plaintext, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	passphrase, err := promptSecret("Passphrase: ")
	if err != nil {
		return err
	}
	sealed, err := crypto.Seal(passphrase, plaintext)
	if err != nil {
		return err
	}
	target := *out
	if target == "" {
		target = path + ".sealed"
	}
	if err := os.WriteFile(target, sealed, 0o600); err != nil {
		return fmt.Errorf("write sealed file: %w", err)
	}
	fmt.Printf("sealed environment written to %s\n", target)
	return nil
}

func envOpen(args []string) error {
	fs := flag.NewFlagSet("env open", flag.ExitOnError)
	in := fs.String("in", "", "Sealed file path (default <env file>.sealed)")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	path := filepath.Join(cfg.StackDir, cfg.EnvFile)
	source := *in
	if source == "" {
		source = path + ".sealed"
	}
	sealed, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read sealed file: %w", err)
	}
	passphrase, err := promptSecret("Passphrase: ")
	if err != nil {
		return err
	}
	plaintext, err := crypto.Open(passphrase, sealed)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, plaintext, 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	fmt.Printf("environment restored to %s\n", path)
	return nil
}

// --- rendering -------------------------------------------------------

func commandRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	domain := fs.String("domain", "", "Public domain name (default from the env file)")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	name, err := resolveDomain(cfg, *domain)
	if err != nil {
		return err
	}

	spec := topology.LegendsStack(topology.StackInput{
		BotImage:      cfg.BotImage,
		NginxImage:    cfg.NginxImage,
		PostgresImage: cfg.PostgresImage,
		EnvFile:       cfg.EnvFile,
		NginxConfDir:  cfg.NginxConfDir,
	})
	composePath := filepath.Join(cfg.StackDir, cfg.ComposeFile)
	if err := spec.WriteFile(composePath); err != nil {
		return err
	}
	fmt.Printf("compose file written to %s\n", composePath)

	table, err := proxy.LegendsTable(name, "http://web:5001", cfg.CertLiveDir, cfg.CertWebroot)
	if err != nil {
		return err
	}
	confPath, err := table.WriteFile(filepath.Join(cfg.StackDir, cfg.NginxConfDir))
	if err != nil {
		return err
	}
	fmt.Printf("proxy config written to %s\n", confPath)
	return nil
}

// --- stack lifecycle -------------------------------------------------

func commandUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	env, err := loadStackEnv(cfg)
	if err != nil {
		return fmt.Errorf("refusing to start: %w (run 'legendsctl env init' first)", err)
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("refusing to start: %w", err)
	}
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	return runner.Up(ctx, os.Stdout)
}

func commandDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	return runner.Down(ctx, os.Stdout)
}

func commandPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PullTimeout)
	defer cancel()
	return runner.Pull(ctx, os.Stdout)
}

func commandPS(args []string) error {
	fs := flag.NewFlagSet("ps", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	statuses, err := runner.PS(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("no services running")
		return nil
	}
	for _, s := range statuses {
		healthState := s.Health
		if healthState == "" {
			healthState = "-"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", s.Service, s.State, healthState, s.Status)
	}
	return nil
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	service := fs.String("service", "", "Limit output to one service")
	follow := fs.Bool("follow", false, "Stream new log lines")
	tailLines := fs.Int("tail", 100, "Number of trailing lines")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if !*follow {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CommandTimeout)
		defer cancel()
	}
	return runner.Logs(ctx, os.Stdout, *service, *follow, *tailLines)
}

func commandExec(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	service := fs.String("service", "", "Target service")
	fs.Parse(args)

	if strings.TrimSpace(*service) == "" {
		return errors.New("--service is required")
	}
	command := fs.Args()
	if len(command) == 0 {
		return errors.New("usage: legendsctl exec --service <name> -- <command...>")
	}

	cfg := config.LoadDeployConfig()
	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	return runner.Exec(ctx, os.Stdout, *service, command)
}

// --- certificates and proxy ------------------------------------------

func commandCert(args []string) error {
	fs := flag.NewFlagSet("cert", flag.ExitOnError)
	domain := fs.String("domain", "", "Public domain name (default from the env file)")
	renew := fs.Bool("renew", false, "Renew existing certificates instead of obtaining")
	staging := fs.Bool("staging", false, "Use the ACME staging environment")
	force := fs.Bool("force", false, "Obtain even when the certificate is still valid")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	provisioner, err := certs.New(cfg.CertbotBin, cfg.CertWebroot, cfg.CertLiveDir, cfg.ACMEEmail, log, certs.WithStaging(*staging))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()

	if *renew {
		if err := provisioner.Renew(ctx); err != nil {
			return err
		}
		fmt.Println("certificates renewed")
		return reloadProxy(ctx, cfg, log)
	}

	name, err := resolveDomain(cfg, *domain)
	if err != nil {
		return err
	}
	if !*force {
		needed, err := provisioner.NeedsRenewal(name, 30*24*time.Hour)
		if err != nil {
			return err
		}
		if !needed {
			fmt.Printf("certificate for %s is still valid\n", name)
			return nil
		}
	}
	if err := provisioner.Obtain(ctx, name); err != nil {
		return err
	}
	fmt.Printf("certificate obtained for %s and legends.%s\n", name, name)
	return reloadProxy(ctx, cfg, log)
}

func commandReload(args []string) error {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	if err := reloadProxy(ctx, cfg, log); err != nil {
		return err
	}
	fmt.Println("proxy reloaded")
	return nil
}

func reloadProxy(ctx context.Context, cfg config.DeployConfig, log *slog.Logger) error {
	docker, err := dockerx.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer docker.Close()
	reloader, err := proxy.NewReloader(docker, cfg.NginxContainer)
	if err != nil {
		return err
	}
	if err := reloader.Reload(ctx); err != nil {
		if errors.Is(err, dockerx.ErrNotFound) {
			log.Warn("proxy container not running, reload skipped", "container", cfg.NginxContainer)
			return nil
		}
		return err
	}
	return nil
}

// --- health ----------------------------------------------------------

func commandVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:5001/health", "Health endpoint to probe")
	wait := fs.Bool("wait", false, "Poll until healthy or the timeout passes")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	checker := health.New(log, 5*time.Second)
	target := health.Target{Name: "web", URL: *url}

	if *wait {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HealthTimeout)
		defer cancel()
		if err := checker.WaitReady(ctx, target, cfg.HealthTimeout, cfg.HealthInterval); err != nil {
			return err
		}
		fmt.Println("web is healthy")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result := checker.Probe(ctx, target)
	if !result.Healthy {
		return fmt.Errorf("web unhealthy: %s", result.Detail)
	}
	if result.Detail != "" {
		fmt.Printf("web answered %d (%s)\n", result.StatusCode, result.Detail)
	} else {
		fmt.Printf("web answered %d in %s\n", result.StatusCode, result.Latency)
	}
	printContainerStates(ctx, cfg, log)
	return nil
}

// printContainerStates reports runtime state for the stack's containers.
// Docker being unreachable is not a verification failure.
func printContainerStates(ctx context.Context, cfg config.DeployConfig, log *slog.Logger) {
	docker, err := dockerx.New(cfg.DockerHost)
	if err != nil {
		log.Warn("docker unavailable, skipping container checks", "error", err)
		return
	}
	defer docker.Close()
	for _, service := range []string{topology.ServiceDB, topology.ServiceBot, topology.ServiceWeb, topology.ServiceNginx} {
		name := cfg.ProjectName + "-" + service
		state, err := docker.InspectContainer(ctx, name)
		if err != nil {
			if errors.Is(err, dockerx.ErrNotFound) {
				fmt.Printf("%s\tnot found\n", name)
				continue
			}
			fmt.Printf("%s\tinspect failed: %v\n", name, err)
			continue
		}
		status := state.Status
		if state.Health != "" {
			status += " (" + state.Health + ")"
		}
		fmt.Printf("%s\t%s\n", name, status)
	}
}

// --- database --------------------------------------------------------

func commandMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	status := fs.Bool("status", false, "Print migration status instead of applying")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	dsn, err := databaseDSN(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	runner, err := store.NewMigrationRunner(pool, dsn, cfg.MigrationsDir, log)
	if err != nil {
		return err
	}
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	if *status {
		return runner.Status(ctx)
	}
	if err := runner.Ensure(ctx); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func commandImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("dir", "", "Directory holding the safe CSV export")
	fs.Parse(args)

	if strings.TrimSpace(*dir) == "" {
		return errors.New("--dir is required")
	}

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	dsn, err := databaseDSN(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	imp, err := importer.New(pool, log)
	if err != nil {
		return err
	}
	summary, err := imp.Run(ctx, *dir)
	if err != nil {
		return err
	}
	for _, file := range summary.Files {
		fmt.Printf("%s: %d imported, %d skipped\n", file.File, file.Imported, file.Skipped)
	}
	fmt.Printf("total: %d rows\n", summary.Total())
	return nil
}

// --- operator tokens -------------------------------------------------

func commandToken(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: legendsctl token [issue|hash]")
	}
	sub := args[0]
	switch sub {
	case "issue":
		return tokenIssue(args[1:])
	case "hash":
		return tokenHash(args[1:])
	default:
		return fmt.Errorf("unknown token command: %s", sub)
	}
}

func tokenIssue(args []string) error {
	fs := flag.NewFlagSet("token issue", flag.ExitOnError)
	operator := fs.String("operator", "operator", "Operator name embedded in the token")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	env, err := loadStackEnv(cfg)
	if err != nil {
		return err
	}
	secret := env[envfile.KeyJWTSecret]
	if strings.TrimSpace(secret) == "" {
		return errors.New("JWT_SECRET is not set in the env file")
	}
	token, err := jwtpkg.GenerateToken(*operator, secret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func tokenHash(args []string) error {
	fs := flag.NewFlagSet("token hash", flag.ExitOnError)
	fs.Parse(args)

	password, err := promptSecret("Operator password: ")
	if err != nil {
		return err
	}
	confirm, err := promptSecret("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Printf("WATCH_OPERATOR_HASH=%s\n", hash)
	return nil
}

// --- provisioning ----------------------------------------------------

func commandProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	domain := fs.String("domain", "", "Public domain name")
	botToken := fs.String("bot-token", "", "Discord bot token (prompted when the env file is missing)")
	skipCerts := fs.Bool("skip-certs", false, "Skip the certificate stage")
	staging := fs.Bool("staging", false, "Use the ACME staging environment")
	fs.Parse(args)

	cfg := config.LoadDeployConfig()
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	name, err := resolveDomain(cfg, *domain)
	if err != nil {
		return err
	}

	token := strings.TrimSpace(*botToken)
	envPath := filepath.Join(cfg.StackDir, cfg.EnvFile)
	if _, statErr := os.Stat(envPath); statErr != nil && token == "" {
		token, err = promptSecret("Discord bot token: ")
		if err != nil {
			return err
		}
	}

	runner, err := newComposeRunner(cfg)
	if err != nil {
		return err
	}
	provisioner, err := certs.New(cfg.CertbotBin, cfg.CertWebroot, cfg.CertLiveDir, cfg.ACMEEmail, log, certs.WithStaging(*staging))
	if err != nil {
		return err
	}
	checker := health.New(log, 5*time.Second)

	var reloader orchestrate.Reloader
	if docker, derr := dockerx.New(cfg.DockerHost); derr == nil {
		defer docker.Close()
		if r, rerr := proxy.NewReloader(docker, cfg.NginxContainer); rerr == nil {
			reloader = r
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout+cfg.PullTimeout+cfg.HealthTimeout)
	defer cancel()

	var recorder orchestrate.Recorder
	if dsn, derr := databaseDSN(cfg); derr == nil {
		if pool, perr := pgxpool.New(ctx, dsn); perr == nil {
			defer pool.Close()
			recorder = store.New(pool)
		}
	}

	svc, err := orchestrate.New(cfg, log, runner, provisioner, checker, reloader, recorder)
	if err != nil {
		return err
	}
	if err := svc.Provision(ctx, orchestrate.Request{
		Domain:    name,
		BotToken:  token,
		SkipCerts: *skipCerts,
		Out:       os.Stdout,
	}); err != nil {
		return err
	}
	fmt.Printf("stack provisioned for %s\n", name)
	return nil
}

// --- helpers ---------------------------------------------------------

func newComposeRunner(cfg config.DeployConfig) (*compose.Runner, error) {
	log := logger.New("legendsctl", logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	file := filepath.Join(cfg.StackDir, cfg.ComposeFile)
	return compose.New(cfg.ComposeBin, file, cfg.ProjectName, log)
}

func loadStackEnv(cfg config.DeployConfig) (envfile.Env, error) {
	return envfile.Load(filepath.Join(cfg.StackDir, cfg.EnvFile))
}

// resolveDomain prefers the flag, then the env file's DOMAIN_NAME.
func resolveDomain(cfg config.DeployConfig, flagValue string) (string, error) {
	if name := strings.TrimSpace(strings.ToLower(flagValue)); name != "" {
		return name, nil
	}
	env, err := loadStackEnv(cfg)
	if err != nil {
		return "", errors.New("--domain is required (no env file found)")
	}
	name := strings.TrimSpace(strings.ToLower(env[envfile.KeyDomainName]))
	if name == "" {
		return "", errors.New("--domain is required (DOMAIN_NAME not set in the env file)")
	}
	return name, nil
}

// databaseDSN prefers DATABASE_URL from the process environment, then
// the stack env file.
func databaseDSN(cfg config.DeployConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		return envfile.NormalizeDatabaseURL(dsn), nil
	}
	env, err := loadStackEnv(cfg)
	if err != nil {
		return "", errors.New("DATABASE_URL is not set and no env file found")
	}
	dsn := strings.TrimSpace(env[envfile.KeyDatabaseURL])
	if dsn == "" {
		return "", errors.New("DATABASE_URL is not set")
	}
	return envfile.NormalizeDatabaseURL(dsn), nil
}

func promptSecret(label string) (string, error) {
	fmt.Print(label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(bytes))
	if secret == "" {
		return "", errors.New("empty secret")
	}
	return secret, nil
}
