package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gripnet/grip/internal/app"
	"github.com/gripnet/grip/internal/config"
	"github.com/gripnet/grip/pkg/logger"
)

func main() {
	var (
		configPath string
		once       bool
	)
	flag.StringVar(&configPath, "config", "grip.ini", "Path to the grip INI configuration")
	flag.BoolVar(&once, "once", false, "Exit after every target has been delivered")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	flush, err := logger.Setup(logger.Options{
		Level:            cfg.Log.Level,
		Format:           cfg.Log.Format,
		Output:           cfg.Log.Output,
		RotateMaxSizeMB:  cfg.Log.RotateMaxSizeMB,
		RotateMaxBackups: cfg.Log.RotateMaxBackups,
		RotateMaxAgeDays: cfg.Log.RotateMaxAgeDays,
	})
	if err != nil {
		logger.Fatal("Failed to set up logging: %v", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	if once {
		opts = append(opts, app.WithExitWhenDone())
	}
	application := app.NewApp(cfg, flag.Args(), os.Stdout, opts...)

	logger.Info("grip host starting...")
	if err := application.Run(ctx); err != nil {
		logger.Error("Host error: %v", err)
		flush()
		os.Exit(1)
	}
}
