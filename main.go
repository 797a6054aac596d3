package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/analyzer"
	"github.com/brettboylen/reddit-trend-analyzer/api"
	"github.com/brettboylen/reddit-trend-analyzer/db"
	"github.com/brettboylen/reddit-trend-analyzer/present"
	"github.com/brettboylen/reddit-trend-analyzer/server"
	"github.com/brettboylen/reddit-trend-analyzer/stats"
	"github.com/brettboylen/reddit-trend-analyzer/utils"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

func main() {
	envPath := flag.String("env", ".env", "Path to .env file")
	logLevel := flag.String("log-level", "debug", "Logging level (debug, info, warn, error)")
	once := flag.Bool("once", false, "Run a single analysis, print the page as JSON and exit")
	keywords := flag.String("keywords", "", "Keywords to analyze (with -once)")
	subreddit := flag.String("subreddit", "", "Subreddit to analyze (with -once)")
	flag.Parse()

	log := setupLogger(*logLevel)
	log.Info("Starting Reddit Trend Analyzer")

	config, err := utils.LoadConfig(*envPath, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.WithFields(logrus.Fields{
		"webhook_url":    config.Webhook.URL,
		"timeout":        config.Webhook.Timeout().String(),
		"payload_policy": config.Webhook.PayloadPolicy,
		"server_port":    config.Server.Port,
	}).Info("Configuration loaded")

	database, err := db.NewDatabase(config.Database.Path, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()

	webhook := api.NewWebhookClient(
		config.Webhook.URL,
		config.Webhook.UserAgent,
		config.Webhook.Timeout(),
		config.Webhook.MaxRequestsPerMinute,
		log,
	)

	service := analyzer.NewService(
		webhook,
		analyzer.Normalizer{Strict: config.Webhook.StrictPayload()},
		database,
		log,
	)

	newController := func() *viewstate.Controller {
		return viewstate.NewController(service, config.Webhook.Timeout(), log)
	}

	if *once {
		if !runOnce(newController(), *keywords, *subreddit, log) {
			database.Close()
			os.Exit(1)
		}
		return
	}

	collector := stats.NewCollector(database, config.Stats.RefreshSeconds, log)
	sessions := server.NewSessionStore(newController, config.Session.IdleTTL(), log)
	apiServer := server.New(config.Server, sessions, collector, database, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.WithError(err).Fatal("API server stopped unexpectedly")
		}
	}()

	go func() {
		if err := collector.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Stats collector stopped unexpectedly")
		}
	}()

	go func() {
		if err := sessions.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("Session sweeper stopped unexpectedly")
		}
	}()

	waitForShutdown(cancel, log)
}

// setupLogger sets up the logger with the specified log level
func setupLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// runOnce submits one analysis, prints the resulting page and reports
// whether it ended in success
func runOnce(controller *viewstate.Controller, keywords, subreddit string, log *logrus.Logger) bool {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done, err := controller.Submit(ctx, keywords, subreddit)
	if err != nil {
		log.WithError(err).Warn("Analysis not started")
	} else {
		<-done
	}

	state := controller.State()
	page := present.BuildPage(state, controller.VisiblePosts(), time.Now())

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(page); err != nil {
		log.WithError(err).Error("Failed to write page")
		return false
	}

	return state.Phase == viewstate.PhaseSuccess
}

// waitForShutdown waits for a shutdown signal
func waitForShutdown(cancel context.CancelFunc, log *logrus.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()

	time.Sleep(1 * time.Second)
	log.Info("Reddit Trend Analyzer stopped")
}
