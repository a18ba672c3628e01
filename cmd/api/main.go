package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"pawconnect/channels/internal/app"
	"pawconnect/channels/internal/auth"
	"pawconnect/channels/internal/config"
	"pawconnect/channels/internal/email"
	"pawconnect/channels/internal/identity"
	"pawconnect/channels/internal/invite"
	"pawconnect/channels/internal/logging"
	"pawconnect/channels/internal/objectstore"
	"pawconnect/channels/internal/search"
	"pawconnect/channels/internal/store"
)

type options struct {
	envFile     string
	migrateOnly bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("api", pflag.ContinueOnError)
	flags.StringVar(&opts.envFile, "env-file", "", "load environment variables from this dotenv file first")
	flags.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	err := flags.Parse(args)
	return opts, err
}

func main() {
	bootLogger := logging.New(os.Stderr, "info")
	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("parse flags")
	}
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		bootLogger.Fatal().Err(err).Str("path", opts.envFile).Msg("load env file")
	}
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if opts.migrateOnly {
		logger.Info().Msg("migrations applied")
		return
	}

	blobs, err := objectstore.NewMinio(objectstore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("object store client failed")
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, 15*time.Second)
	if err := blobs.EnsureBucket(bucketCtx); err != nil {
		logger.Fatal().Err(err).Str("bucket", cfg.MinioBucket).Msg("bucket provisioning failed")
	}
	cancelBucket()

	// Invitation dedupe falls back to sending every time without Redis.
	var ledger invite.Ledger
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLedger, err := invite.NewRedisLedger(cfg.RedisURL, cfg.InviteTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisLedger.Close()
		ledger = redisLedger
	}
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	dispatcher := invite.NewDispatcher(ledger, mailer, cfg.InviteBaseURL, logger.With().Str("component", "invite").Logger())

	var directory identity.Directory
	if strings.TrimSpace(cfg.KeycloakURL) != "" {
		directory = identity.NewKeycloak(identity.KeycloakConfig{
			BaseURL:      cfg.KeycloakURL,
			Realm:        cfg.KeycloakRealm,
			ClientID:     cfg.KeycloakClientID,
			ClientSecret: cfg.KeycloakClientSecret,
		})
	} else {
		logger.Warn().Msg("KEYCLOAK_URL not set, every client email resolves to an invitation")
	}
	resolver := identity.NewResolver(directory, dispatcher, logger.With().Str("component", "identity").Logger())

	var backend search.Backend
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		backend = meiliClient
	}
	indexer := search.NewService(backend, logger.With().Str("component", "search").Logger())

	service := app.New(store.NewPostgresStore(db), blobs, resolver, indexer, logger)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go service.RunOrphanSweeper(sweepCtx, cfg.OrphanSweepInterval)

	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	httpServer := app.NewHTTPServer(service, verifier, cfg.CORSOrigin, cfg.MaxUploadBytes, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("channels API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	stopSweep()
	resolver.Wait()
	indexer.Wait()
}
