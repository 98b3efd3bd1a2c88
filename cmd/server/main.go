package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/aushadhi-api/internal/app"
	"github.com/Brownie44l1/aushadhi-api/internal/config"
	"github.com/Brownie44l1/aushadhi-api/internal/handlers"
	"github.com/Brownie44l1/aushadhi-api/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// the logger is configured from cfg, so this one goes to stderr
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.NewLogger("aushadhi", cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("loading model", "model", cfg.Model.Path, "metadata", cfg.Model.MetadataPath)
	a, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatalw("failed to initialize pipeline", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("closing model", "error", err)
		}
	}()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := handlers.NewHandler(a.Pipeline, handlers.Options{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         logger.Named("http"),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handlers.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Infow("server starting", "port", cfg.Server.Port, "classes", a.Pipeline.Catalog().Len())
	logger.Info("endpoints: GET /health, GET /labels, POST /predict, POST /predict/image, POST /predict/url")
	logger.Infof("upload test: curl -X POST -F \"image=@leaf.jpg\" http://localhost:%s/predict/image", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server failed", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("shutdown", "error", err)
		}
	}
}
