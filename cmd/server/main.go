package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/handlers"
	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var configPath = flag.String("config", "", "path to YAML config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := cfg.Log.NewLogger()
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Server failed")
		os.Exit(1)
	}
}

// run serves until a signal arrives or the listener fails. It returns
// instead of exiting so the classifier is always closed.
func run(cfg config.Config, log *logrus.Logger) error {
	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	log.WithFields(logrus.Fields{
		"variant": cfg.Model.Variant,
		"backend": cfg.Model.Backend,
		"dir":     cfg.Model.Dir,
	}).Info("Loading model")

	classifier, err := model.New(cfg.Model.ToModelConfig(log))
	if err != nil {
		return errors.Wrap(err, "failed to initialize classifier")
	}
	defer classifier.Close()

	info := classifier.Info()
	if !info.WeightsLoaded {
		log.Warn("Serving an untrained model; predictions are meaningless")
	}

	handler := handlers.NewHandler(classifier, cfg.Server.MaxUploadBytes, log)
	router := handlers.NewRouter(handler, handlers.RouterConfig{
		CORS:      cfg.Server.CORS,
		StaticDir: cfg.Server.StaticDir,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.WithFields(logrus.Fields{
		"addr":    srv.Addr,
		"model":   info.ModelType,
		"device":  info.Device,
		"classes": info.Classes,
	}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("  GET  /health        - Health check")
	log.Info("  GET  /api/model     - Model information")
	log.Info("  POST /api/analyze   - Classify an uploaded X-ray (field 'file')")
	log.Info("  POST /predict/image - Alias of /api/analyze (field 'image')")

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Wrap(srv.Shutdown(ctx), "forced shutdown")
}
