package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/mux"
	"github.com/molpadia/molpastory/internal/app"
	"github.com/molpadia/molpastory/internal/config"
	"github.com/molpadia/molpastory/internal/domain/repository"
	"github.com/molpadia/molpastory/internal/infrastructure/persistence"
	"github.com/molpadia/molpastory/internal/logger"
	"github.com/molpadia/molpastory/internal/saga"
	"go.uber.org/zap"
)

var envFile = flag.String("env", ".env", "path of the optional env file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := persistence.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	db, err := persistence.OpenDB(cfg.DatabaseURL, cfg.DBMaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	awsConfig := aws.NewConfig().WithRegion(cfg.AWSRegion).WithS3ForcePathStyle(cfg.S3ForcePathStyle)
	if cfg.S3Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(cfg.S3Endpoint)
	}
	s3Sess, err := session.NewSession(awsConfig)
	if err != nil {
		return fmt.Errorf("failed to create AWS session: %w", err)
	}

	stories := persistence.NewStoryRepository(db, log)
	var runs repository.SagaRunRepository
	if cfg.SagaRunsTable != "" {
		// The run table lives in DynamoDB even when objects go to another S3 compatible storage.
		dbSess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("failed to create AWS session: %w", err)
		}
		runs = persistence.NewSagaRunRepository(dbSess, cfg.SagaRunsTable, log)
	}
	orchestrator := saga.New(
		persistence.NewBlobStore(s3Sess, cfg.PublicBaseURL, log),
		stories,
		runs,
		saga.Config{
			Bucket:               cfg.VODBucket,
			MaxConcurrentUploads: cfg.MaxConcurrentUpload,
			CallTimeout:          cfg.CallTimeout,
			UploadTimeout:        cfg.UploadTimeout,
		},
		log,
	)

	r := mux.NewRouter()
	app.SetupRoutes(r, stories, orchestrator, app.Config{JWTSecret: cfg.JWTSecret, MaxRequestSize: cfg.MaxRequestSize}, log)

	srv := &http.Server{
		Handler:           r,
		Addr:              cfg.Addr,
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("The server started", zap.String("addr", cfg.Addr))
		if cfg.CertFile != "" && cfg.CertKey != "" {
			errCh <- srv.ListenAndServeTLS(cfg.CertFile, cfg.CertKey)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-quit:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	}

	// Running sagas are detached from their requests, so leave them time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.UploadTimeout+cfg.CallTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
