package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/teamvault/internal/api"
	"github.com/org/teamvault/internal/crypto"
	"github.com/org/teamvault/internal/mail"
	"github.com/org/teamvault/internal/storage"
)

type config struct {
	ListenAddr    string          `yaml:"listen_addr"`
	TLSCertFile   string          `yaml:"tls_cert"`
	TLSKeyFile    string          `yaml:"tls_key"`
	DBUrl         string          `yaml:"db_url"`
	EncryptionKey string          `yaml:"encryption_key"`
	SessionTTL    time.Duration   `yaml:"session_ttl"`
	MigrationsDir string          `yaml:"migrations_dir"`
	LogLevel      string          `yaml:"log_level"`
	SMTP          mail.SMTPConfig `yaml:"smtp"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("TEAMVAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("TEAMVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("TEAMVAULT_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.EncryptionKey == "" {
		log.Fatal().Msg("encryption_key must be configured (or TEAMVAULT_ENCRYPTION_KEY env var); generate one with `teamvault keygen`")
	}

	// The key is validated here so a typo fails the process at startup, not
	// on the first secret write.
	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	var mailer mail.Mailer = mail.NoopMailer{}
	if cfg.SMTP.Addr != "" {
		mailer = mail.NewSMTPMailer(cfg.SMTP)
		log.Info().Str("smtp", cfg.SMTP.Addr).Msg("invite mail enabled")
	}

	// Create server
	srv := api.NewServer(store, cipher, mailer, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		SessionTTL:  cfg.SessionTTL,
	})

	initialized, err := store.OwnerExists(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check directory state")
	}
	if !initialized {
		log.Info().Msg("no owner account yet - POST /v1/users/register-first-user to set up")
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
