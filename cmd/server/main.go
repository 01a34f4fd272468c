package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/virtual-queue/cmd/server/command"
	"github.com/iliyamo/virtual-queue/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.WithContext(ctx).Fatal(err)
	}
	logger := newLogger(cfg.App)

	root := &cobra.Command{Use: "virtual-queue", Short: "Virtual queue service"}
	root.AddCommand(
		command.Serve{Logger: logger}.Command(ctx, cfg),
		command.Migrate{Logger: logger}.Command(ctx, cfg),
	)
	if err := root.Execute(); err != nil {
		logger.WithContext(ctx).Fatalf("failed to execute root command: \n%v", err)
	}
}

// newLogger builds the process logger.  An empty LOG_FORMAT means JSON
// outside dev.
func newLogger(app config.AppConfig) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)
	level, err := log.ParseLevel(app.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	if strings.EqualFold(app.LogFormat, "json") || (app.LogFormat == "" && app.Env != "dev") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}
