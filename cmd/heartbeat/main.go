package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/afterword/heartbeat/internal/cleanup"
	"github.com/afterword/heartbeat/internal/config"
	"github.com/afterword/heartbeat/internal/crypto"
	"github.com/afterword/heartbeat/internal/cycle"
	"github.com/afterword/heartbeat/internal/downgrade"
	"github.com/afterword/heartbeat/internal/email"
	"github.com/afterword/heartbeat/internal/executor"
	"github.com/afterword/heartbeat/internal/lifecycle"
	"github.com/afterword/heartbeat/internal/notify"
	"github.com/afterword/heartbeat/internal/objectstore"
	"github.com/afterword/heartbeat/internal/postgres"
	"github.com/afterword/heartbeat/internal/profile"
	"github.com/afterword/heartbeat/internal/push"
	"github.com/afterword/heartbeat/internal/pushdevice"
	"github.com/afterword/heartbeat/internal/retryhttp"
	"github.com/afterword/heartbeat/internal/supervisor"
	"github.com/afterword/heartbeat/internal/vault"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	dryRun := flag.Bool("dry-run", false, "log what the cycle would do without writing, sending, or deleting anything")
	flag.Parse()

	if err := run(*dryRun); err != nil {
		log.Error().Err(err).Msg("heartbeat run failed")
		os.Exit(1)
	}
}

// run loads configuration, wires every dependency, and drives one
// supervised heartbeat cycle to completion. A non-nil return means the
// outer supervisor exhausted its retries or a dependency could not be
// brought up at all; per-profile failures inside a cycle are logged and do
// not fail the run.
func run(dryRunFlag bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	if dryRunFlag {
		cfg.DryRun = true
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Bool("dry_run", cfg.DryRun).
		Msg("Starting heartbeat cycle")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Database migrations complete")

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("PostgreSQL connected")

	vaultRepo := vault.NewPGRepository(db, log.Logger)
	profileRepo := profile.NewPGRepository(db, log.Logger)
	deviceRepo := pushdevice.NewPGRepository(db, log.Logger)

	httpClient := retryhttp.New()
	emailClient := email.New(cfg.ResendAPIKey, cfg.ResendFromEmail, httpClient)
	objects := objectstore.New(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)

	var pusher notify.Pusher
	if cfg.PushConfigured() {
		account, err := push.ParseServiceAccount([]byte(cfg.FirebaseServiceAccountJSON))
		if err != nil {
			return fmt.Errorf("parse firebase service account: %w", err)
		}
		tokens, err := push.NewTokenCache(account, httpClient)
		if err != nil {
			return fmt.Errorf("create firebase token cache: %w", err)
		}
		pusher = push.New(account.ProjectID, tokens, httpClient)
		log.Info().Str("project_id", account.ProjectID).Msg("Push notifications enabled")
	} else {
		log.Warn().Msg("FIREBASE_SERVICE_ACCOUNT_JSON is not configured. Push notifications are disabled for this run.")
	}

	dispatcher := &notify.Dispatcher{
		Email:   emailClient,
		Push:    pusher,
		Devices: deviceRepo,
		Log:     log.Logger,
	}

	exec := &executor.Executor{
		Vault:         vaultRepo,
		Email:         emailClient,
		Notify:        dispatcher,
		Objects:       objects,
		ViewerBaseURL: cfg.ViewerBaseURL,
		Log:           log.Logger,
	}

	lifecycleCtl := &lifecycle.Controller{
		Vault:   vaultRepo,
		Profile: profileRepo,
		Log:     log.Logger,
	}

	reverter := &downgrade.Reverter{
		Vault:   vaultRepo,
		Profile: profileRepo,
		Objects: objects,
		Notify:  dispatcher,
		Log:     log.Logger,
	}

	sweeper := &cleanup.Sweeper{
		Vault:    vaultRepo,
		Profile:  profileRepo,
		Objects:  objects,
		PageSize: cfg.ProfilePageSize,
		Log:      log.Logger,
	}

	cyc := &cycle.Cycle{
		Profile:   profileRepo,
		Downgrade: reverter,
		Executor:  exec,
		Lifecycle: lifecycleCtl,
		Notify:    dispatcher,
		Cleanup:   sweeper,
		ServerKey: crypto.ServerKey(cfg.ServerSecret),
		PageSize:  cfg.ProfilePageSize,
		RunBudget: cfg.RunBudget,
		DryRun:    cfg.DryRun,
		Log:       log.Logger,
	}

	sup := supervisor.New(log.Logger, cfg.SupervisorMaxRetries)

	var stats cycle.Stats
	runErr := sup.Run(ctx, func(ctx context.Context) error {
		s, err := cyc.Run(ctx)
		stats = s
		return err
	})

	log.Info().
		Int("profiles_visited", stats.ProfilesVisited).
		Int("profiles_expired", stats.ProfilesExpired).
		Int("downgraded", stats.Downgraded).
		Int("data_loss_trips", stats.DataLossTrips).
		Msg("Heartbeat cycle finished")

	if runErr != nil {
		return fmt.Errorf("cycle: %w", runErr)
	}
	return nil
}
