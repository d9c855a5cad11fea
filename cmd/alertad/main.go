package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juannvilchez/ciudadseguraappi/pkg/alert"
	"github.com/juannvilchez/ciudadseguraappi/pkg/config"
	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
	"github.com/juannvilchez/ciudadseguraappi/pkg/livechannel"
	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/metrics"
	"github.com/juannvilchez/ciudadseguraappi/pkg/mqtt"
	"github.com/juannvilchez/ciudadseguraappi/pkg/sampler"
	"github.com/juannvilchez/ciudadseguraappi/pkg/session"
	"github.com/juannvilchez/ciudadseguraappi/pkg/stats"
	"github.com/juannvilchez/ciudadseguraappi/pkg/store"
	"github.com/juannvilchez/ciudadseguraappi/pkg/uplink"
)

const (
	version = "1.0.0-dev"
	appName = "alertad"
)

// logNotifier surfaces user-facing messages through the daemon log
type logNotifier struct {
	logger *logx.Logger
}

func (n *logNotifier) Notify(title, message string) {
	n.logger.Info("user notification", "title", title, "message", message)
}

// logNavigator stands in for the login screen on a headless device
type logNavigator struct {
	logger *logx.Logger
}

func (n *logNavigator) ReturnToLogin() {
	n.logger.Warn("session cleared, re-authentication required")
}

func main() {
	var (
		envFile     = flag.String("env-file", "", "Optional dotenv file path")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error), overrides CIUDADSEGURA_LOG_LEVEL")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	effectiveLogLevel := cfg.LogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.New(effectiveLogLevel)

	logger.Info("starting alert daemon",
		"version", version,
		"log_level", effectiveLogLevel,
		"configured", cfg.Configured(),
	)
	if !cfg.Configured() {
		logger.Warn("running degraded, alert activation disabled", "reason", cfg.Reason())
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open local store", "error", err.Error(), "path", cfg.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	pipeline := metrics.NewPipeline()
	metricsServer := metrics.NewServer(pipeline, logger)
	if err := metricsServer.Start(cfg.MetricsPort); err != nil {
		logger.Error("failed to start metrics server", "error", err.Error())
		os.Exit(1)
	}
	defer metricsServer.Stop()

	sess := session.New(cfg.APIURL, st, &logNavigator{logger: logger}, logger)

	source := sampler.NewUbusSource(logger)
	smp := sampler.New(source, sampler.DefaultConfig(), logger, pipeline)

	up := uplink.New(cfg.APIURL, logger, pipeline)
	actions := stats.New(cfg.APIURL, sess, logger)
	notifier := &logNotifier{logger: logger}

	lifecycle := alert.New(alert.DefaultConfig(), cfg.Configured(), smp, up, actions, sess, notifier, logger, pipeline)

	mirror := mqtt.NewClient(cfg.MQTT, logger)
	if err := mirror.Connect(); err != nil {
		// The mirror is an aid, not a dependency
		logger.Warn("MQTT mirror unavailable", "error", err.Error())
	}
	defer mirror.Disconnect()

	// Journal and mirror every accepted sample
	lifecycle.SetSampleHook(func(episodeID string, coord geo.Coordinate) {
		if err := st.RecordSample(episodeID, coord); err != nil {
			logger.Warn("failed to journal sample", "error", err.Error())
		}
		if err := mirror.PublishSample(episodeID, coord); err != nil {
			logger.Debug("failed to mirror sample", "error", err.Error())
		}
	})

	var channel *livechannel.Channel
	if cfg.Configured() {
		channel = livechannel.New(
			livechannel.DefaultConfig(cfg.WSURL),
			lifecycle.HandleRemoteStop,
			logger,
			pipeline,
		)
		channel.Connect()
		defer channel.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	logger.Info("alert daemon started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, shutting down")
			lifecycle.Close()
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				// Panic trigger
				if err := lifecycle.Activate(ctx); err != nil {
					logger.Error("alert activation failed", "error", err.Error())
					continue
				}
				logger.Info("alert activated", "remaining", lifecycle.FormatRemaining())
				if err := mirror.PublishEpisode(lifecycle.EpisodeID(), "started"); err != nil {
					logger.Debug("failed to mirror episode start", "error", err.Error())
				}
			case syscall.SIGUSR2:
				episodeID := lifecycle.EpisodeID()
				if err := lifecycle.Deactivate(); err != nil {
					logger.Warn("alert deactivation incomplete", "error", err.Error())
					continue
				}
				logger.Info("alert deactivated")
				if episodeID != "" {
					if err := mirror.PublishEpisode(episodeID, "stopped"); err != nil {
						logger.Debug("failed to mirror episode stop", "error", err.Error())
					}
				}
			default:
				logger.Info("received signal, shutting down", "signal", sig.String())
				lifecycle.Close()
				cancel()
			}
		}
	}
}
