package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/bcrypt"

	"drive/internal/account"
	"drive/internal/api"
	"drive/internal/auth"
	"drive/internal/blob"
	"drive/internal/cloud"
	"drive/internal/config"
	"drive/internal/db"
	"drive/internal/email"
	"drive/internal/render"
	"drive/internal/resource"
	"drive/internal/secret"
	"drive/internal/session"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("starting server", "name", cfg.Server.Name, "environment", cfg.Server.Environment)

	ctx := context.Background()

	var clients *cloud.Clients
	if cfg.UsesAWS() {
		clients, err = cloud.Load(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		slog.Info("aws configured", "region", cfg.AWS.Region, "endpoint", cfg.AWS.Endpoint)
	}

	var resolver secret.Resolver = secret.NewEnvResolver("DRIVE")
	if cfg.UsesSSM() {
		resolver = secret.NewSSMResolver(clients.SSM())
	}
	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return err
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	backend, err := newBlobBackend(cfg, clients)
	if err != nil {
		return fmt.Errorf("initializing blob storage: %w", err)
	}
	slog.Info("blob storage initialized", "backend", backend.Name(), "upload_max_bytes", backend.MaxUploadBytes())

	sessions, memorySessions, err := newSessionStore(cfg, clients)
	if err != nil {
		return err
	}

	users := db.NewUserRepository(database)
	resources := db.NewResourceRepository(database)
	blobCleanup := blob.NewCleanupService(db.NewOrphanRepository(database), resources, backend)
	tokenCleanup := db.NewCleanupService(users)

	var notifier account.Notifier = email.NewLogNotifier()
	if cfg.EmailEnabled() {
		notifier = email.NewSMTPService(
			cfg.Email.SMTP.Host,
			cfg.Email.SMTP.Port,
			cfg.Email.SMTP.Username,
			cfg.Email.SMTP.Password,
			cfg.Email.SMTP.From,
			cfg.Server.Name,
		)
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	} else {
		slog.Warn("smtp not configured, password reset links are only logged")
	}

	hasher, err := auth.NewPasswordHasher(bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	renderer := render.NewRenderer()

	accounts := account.NewService(
		users,
		hasher,
		auth.NewResetTokenService(cfg.Auth.ResetTokenTTL),
		notifier,
		blobCleanup,
		renderer,
		account.Options{
			MinPasswordLength: cfg.Auth.MinPasswordLength,
			BaseURL:           cfg.Server.BaseURL,
			BlobBackend:       backend.Name(),
		},
	)

	var authn api.Authenticator
	switch cfg.Auth.Mode {
	case config.AuthModeSession:
		authn = api.NewSessionAuthenticator(sessions, cfg.Session.TTL, cfg.IsProduction())
	default:
		authn = api.NewTokenAuthenticator(auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), cfg.IsProduction())
	}
	slog.Info("authentication configured", "mode", authn.Mode())

	services := make([]*resource.Service, 0, len(resource.All()))
	for _, desc := range resource.All() {
		if desc.HasFiles() {
			services = append(services, resource.NewService(desc, resources, backend, blobCleanup, renderer, cfg.Server.BaseURL))
		} else {
			services = append(services, resource.NewService(desc, resources, nil, nil, renderer, cfg.Server.BaseURL))
		}
	}

	server, err := api.NewServer(cfg, api.Dependencies{
		Database:      database,
		Users:         users,
		Accounts:      accounts,
		Authenticator: authn,
		Resources:     services,
		UploadLimit:   backend.MaxUploadBytes(),
		StorageName:   backend.Name(),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	go tokenCleanup.Start(workerCtx)
	go blobCleanup.Start(workerCtx)
	if memorySessions != nil && cfg.Auth.Mode == config.AuthModeSession {
		go memorySessions.Start(workerCtx)
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serveErr:
		return fmt.Errorf("listening: %w", err)
	}

	slog.Info("shutting down")

	workerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	accounts.Wait()

	slog.Info("server stopped")
	return nil
}

func newBlobBackend(cfg *config.Config, clients *cloud.Clients) (blob.Backend, error) {
	if cfg.Storage.Backend != config.StorageBackendS3 {
		return blob.NewLocalBackend(cfg.Storage.Local.Root, cfg.Storage.UploadMaxBytes)
	}

	client := clients.S3(cfg.Storage.S3.UsePathStyle)
	return blob.NewS3Backend(client, s3.NewPresignClient(client), blob.S3Options{
		Bucket:         cfg.Storage.S3.Bucket,
		Prefix:         cfg.Storage.S3.Prefix,
		PublicBaseURL:  cfg.Storage.S3.PublicBaseURL,
		PresignTTL:     cfg.Storage.S3.PresignTTL,
		MaxUploadBytes: cfg.Storage.UploadMaxBytes,
	})
}

// newSessionStore also returns the memory store, if that is the one in use,
// so its janitor can be started.
func newSessionStore(cfg *config.Config, clients *cloud.Clients) (session.Store, *session.MemoryStore, error) {
	if cfg.Session.Backend == config.SessionBackendDynamoDB {
		if clients == nil {
			return nil, nil, fmt.Errorf("dynamodb session backend requires aws configuration")
		}
		return session.NewDynamoStore(clients.DynamoDB(), cfg.Session.DynamoTable, cfg.Session.TTL), nil, nil
	}

	store := session.NewMemoryStore(cfg.Session.TTL, cfg.Session.CleanupInterval)
	return store, store, nil
}
