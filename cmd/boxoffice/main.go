package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/boxoffice/internal/app"
	"github.com/vladislavdragonenkov/boxoffice/internal/version"
)

// setupLogger настраивает формат и уровень логирования; уровень берётся из BOXOFFICE_LOG_LEVEL.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(logLevel(os.Getenv("BOXOFFICE_LOG_LEVEL")))
}

func logLevel(raw string) log.Level {
	if raw == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		log.WithField("value", raw).Warn("invalid BOXOFFICE_LOG_LEVEL, using info")
		return log.InfoLevel
	}
	return level
}

func startupFields(cfg app.Config) log.Fields {
	return log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"gateway":      cfg.GatewayDriver,
		"version":      version.Version(),
	}
}

func main() {
	setupLogger()
	cfg := app.LoadConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(startupFields(cfg)).Info("starting boxoffice")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		stop()
		log.WithError(err).Fatal("boxoffice exited with error")
	}

	log.Info("boxoffice stopped")
}
