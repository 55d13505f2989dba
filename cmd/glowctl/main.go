package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"glowctl/internal/app"
	"glowctl/internal/store"
)

func main() {
	viper.SetConfigName("glowctl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/glowctl/")
	viper.AddConfigPath("$HOME/.config/glowctl/")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("GLOWCTL")
	viper.AutomaticEnv()
	viper.SetDefault("log-level", "info")
	viper.SetDefault("scan-on-start", true)
	_ = viper.ReadInConfig()

	var out io.Writer = os.Stderr
	if logFile := viper.GetString("log-file"); logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
	}

	level, err := log.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(out, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	logger.Info("glowctl starting")

	path, err := store.DefaultPath()
	if err != nil {
		logger.Fatal("resolve config path", "err", err)
	}
	st, err := store.Open(path)
	if err != nil {
		logger.Fatal("open store", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The camera probe is platform-specific and injected by the shell;
	// running headless leaves the monitor off.
	svc := app.New(app.Options{
		Logger: logger,
		Store:  st,
	})
	svc.Start(ctx)

	if viper.GetBool("scan-on-start") {
		go func() {
			r := svc.DiscoverLights(ctx)
			logger.Info("startup scan complete", "devices", len(r.Devices), "errors", len(r.Errors))
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("glowctl shutting down")
	cancel()
	if err := svc.Close(); err != nil {
		logger.Warn("close", "err", err)
	}
}
