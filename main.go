// Package main implements a Cloud Run service that fans out campus notices to
// opted-in users and schedules class reminders from their weekly timetables.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"

	"campus-notifier/batch"
	"campus-notifier/fanout"
	"campus-notifier/scan"
	"campus-notifier/server"
	"campus-notifier/store"
)

type config struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Project         string        `envconfig:"FIRESTORE_PROJECT"`
	CredentialsJSON string        `envconfig:"GOOGLE_CREDENTIALS_JSON"`
	LocalStorage    string        `envconfig:"LOCAL_STORAGE"`
	Timezone        string        `envconfig:"TIMEZONE"`
	ScanInterval    time.Duration `envconfig:"SCAN_INTERVAL" default:"5m"`
	ReminderLead    time.Duration `envconfig:"REMINDER_LEAD" default:"15m"`
	ScanSlack       time.Duration `envconfig:"SCAN_SLACK"` // defaults to half the scan interval
	BatchSize       int           `envconfig:"BATCH_SIZE" default:"499"`
}

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Error("Failed to parse configuration", "error", err)
		os.Exit(1)
	}

	// Default to local development mode if no project specified
	if cfg.Project == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No FIRESTORE_PROJECT set, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	location := time.Local
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Error("Invalid TIMEZONE", "timezone", cfg.Timezone, "error", err)
			os.Exit(1)
		}
		location = loc
	}

	var client *firestore.Client
	if cfg.LocalStorage != "" {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		var err error
		client, err = initFirestore(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize Firestore client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close Firestore client", "error", err)
			}
		}()
	}

	st := store.New(client, cfg.LocalStorage, logger)
	writer := batch.New(st, cfg.BatchSize, logger)

	scanner, err := scan.New(st, writer, store.IsNotFound, logger, scan.Config{
		Interval: cfg.ScanInterval,
		Lead:     cfg.ReminderLead,
		Slack:    cfg.ScanSlack,
		Location: location,
	})
	if err != nil {
		logger.Error("Invalid scan configuration", "error", err)
		os.Exit(1)
	}

	fan := fanout.New(st, writer, store.IsNotFound, logger)

	// Internal scan ticker; /scanz stays available for an external scheduler.
	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()
	go scanner.Run(scanCtx)

	srv := server.New(&server.Config{
		Scanner: scanner,
		Fanout:  fan,
		Counter: st,
		Logger:  logger,
	})

	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func initFirestore(ctx context.Context, cfg config) (*firestore.Client, error) {
	// Try explicit credentials first (for local development or specific use cases);
	// otherwise fall back to Application Default Credentials.
	if cfg.CredentialsJSON != "" {
		return firestore.NewClient(ctx, cfg.Project, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	return firestore.NewClient(ctx, cfg.Project)
}
