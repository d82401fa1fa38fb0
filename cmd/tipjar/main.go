// Command tipjar runs the tip payout service: the HTTP API for checkout,
// webhooks and operators, plus the scheduled reconciliation jobs.
// It shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/app"
	"onair.fm/tipjar/internal/config"
)

func main() {
	setupLogging()

	log.Info("=== tipjar starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialise application")
	}
	defer application.Close()

	if err := application.Scheduler.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start job scheduler")
	}
	defer application.Scheduler.Stop()

	log.Info("=== tipjar ready ===")

	if err := application.Server.Run(ctx); err != nil {
		log.WithError(err).Error("HTTP server failed")
		stop()
	}

	log.Info("=== tipjar stopped ===")
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.DebugLevel)
}
