package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/drop24/internal/auth"
	"github.com/abduss/drop24/internal/config"
	"github.com/abduss/drop24/internal/file"
	"github.com/abduss/drop24/internal/logger"
	"github.com/abduss/drop24/internal/retention"
	"github.com/abduss/drop24/internal/server"
	"github.com/abduss/drop24/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// app holds the long-lived clients shared by every subcommand.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	db    *pgxpool.Pool
	minio *minio.Client
	files *file.Repository
	blobs *file.MinIOBlobStore
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if _, err := storage.Migrate(cfg.Postgres.MigrateURL()); err != nil {
		return nil, err
	}

	db, err := storage.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	minioClient, err := storage.NewMinIOClient(cfg.MinIO)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect minio: %w", err)
	}
	if err := storage.EnsureBucket(ctx, minioClient, cfg.MinIO); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	return &app{
		cfg:   cfg,
		log:   log,
		db:    db,
		minio: minioClient,
		files: file.NewRepository(db),
		blobs: file.NewMinIOBlobStore(minioClient, cfg.MinIO),
	}, nil
}

func (a *app) close() {
	a.db.Close()
	_ = a.log.Sync()
}

func (a *app) sweeper() *retention.Sweeper {
	return retention.NewSweeper(a.files, a.blobs, a.cfg.Retention.Window, file.SystemClock{}, a.log)
}

func (a *app) authenticator(authService *auth.Service) (*auth.Gateway, error) {
	verifiers := []auth.TokenVerifier{authService}
	if a.cfg.Auth.JWKSURL != "" {
		jwks, err := auth.NewJWKSVerifier(a.cfg.Auth, a.log)
		if err != nil {
			return nil, fmt.Errorf("init jwks verifier: %w", err)
		}
		verifiers = append(verifiers, jwks)
	}
	return auth.NewGateway(a.cfg.Auth, verifiers...), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	authService := auth.NewService(auth.NewRepository(a.db), a.cfg.Auth)
	gateway, err := a.authenticator(authService)
	if err != nil {
		return err
	}

	fileService := file.NewService(a.files, a.blobs,
		file.NewStager(afero.NewOsFs(), a.cfg.Upload.TempDir),
		file.Options{
			Policy:     file.ContentPolicy{MaxSize: a.cfg.Upload.MaxSize, Allowed: a.cfg.Upload.AllowedMIME},
			PresignTTL: a.cfg.MinIO.PresignTTL,
			Logger:     a.log.Named("file"),
		},
	)

	if a.cfg.Retention.Enabled {
		sched := retention.NewScheduler(a.log)
		if err := a.sweeper().Schedule(sched, a.cfg.Retention.Cron); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	router := server.NewRouter(server.Dependencies{
		Config:        a.cfg,
		Logger:        a.log,
		DB:            a.db,
		ObjectStore:   a.minio,
		AuthService:   authService,
		Authenticator: gateway,
		FileService:   fileService,
	})

	httpServer := &http.Server{
		Addr:         a.cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("drop24 API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.log.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.sweeper().RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cutoff %s: scanned %d, deleted %d, blob failures %d, record failures %d\n",
		report.Cutoff.Format(time.RFC3339), report.Scanned, report.Deleted, report.BlobFailures, report.RecordFailures)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	version, err := storage.Migrate(cfg.Postgres.MigrateURL())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
	return nil
}
