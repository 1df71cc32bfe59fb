package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/latchbio/wf-core-guideseq/internal/auth"
	"github.com/latchbio/wf-core-guideseq/internal/config"
	apphttp "github.com/latchbio/wf-core-guideseq/internal/http"
	"github.com/latchbio/wf-core-guideseq/internal/pipeline"
	"github.com/latchbio/wf-core-guideseq/internal/repository/sqlite"
	"github.com/latchbio/wf-core-guideseq/internal/runner"
	"github.com/latchbio/wf-core-guideseq/internal/service"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel())

	signer, err := auth.NewSigner(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	runRepo := sqlite.NewRunRepository(db)
	if err := runRepo.Init(ctx); err != nil {
		logger.Fatalf("init run repository: %v", err)
	}
	runService := service.NewRunService(runRepo)

	store, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		logger.Fatalf("setup storage: %v", err)
	}
	defer store.Close()
	logger.Infof("using %s storage provider", cfg.StorageConfig().Provider)

	manager := runner.NewManager(runner.Config{
		WorkRoot:      cfg.Work.Root,
		MaxConcurrent: cfg.Work.MaxConcurrent,
		Tools:         cfg.Tools(),
		KeepWorkDir:   cfg.Work.KeepWorkDir,
		Logger:        logger,
	}, runService, store, pipeline.NewExecRunner(logger))

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start manager: %v", err)
	}
	if err := manager.Resume(ctx); err != nil {
		logger.Warnf("resume runs: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(runService, manager, store, signer, cfg.Work.Root)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}
