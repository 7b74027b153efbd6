package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"badgerline/internal/companion"
	"badgerline/internal/config"
	"badgerline/internal/engine"
	"badgerline/internal/fitness"
	"badgerline/internal/notify"
	"badgerline/internal/scheduler"
	"badgerline/internal/storage"
)

// Secrets are credentials read from the environment, never from badger.yml.
type Secrets struct {
	OpenAIKey          string
	SendGridKey        string
	InfluxToken        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	WebhookSecret      string
}

// Runtime is a wired engine plus the scheduler that drives it.
type Runtime struct {
	Engine    engine.Engine
	Scheduler scheduler.Scheduler

	closers []func()
}

// Close releases collaborator clients.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Build wires the engine's collaborators from cfg. Collaborators that are not
// configured stay at their unavailable defaults.
func Build(ctx context.Context, conn *sql.DB, cfg *config.Config, secrets Secrets, logger *log.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = log.Default()
	}
	e := engine.New(conn, cfg)
	e.Logger = logger
	rt := &Runtime{}

	if cfg.Companion.Provider == "openai" {
		if secrets.OpenAIKey == "" {
			logger.Printf("app: companion provider openai without OPENAI_API_KEY; using canned replies")
		} else {
			e.Companion = companion.NewOpenAI(secrets.OpenAIKey, cfg.Companion.Model)
		}
	}

	if cfg.Fitness.Provider == "influx" {
		src := fitness.NewInflux(cfg.Fitness.URL, secrets.InfluxToken, cfg.Fitness.Org, cfg.Fitness.Bucket, cfg.Fitness.Measurement)
		rt.closers = append(rt.closers, src.Close)
		e.Fitness = src
	}

	if cfg.Storage.Provider == "s3" {
		up, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			Prefix:          cfg.Storage.Prefix,
			AccessKeyID:     secrets.AWSAccessKeyID,
			SecretAccessKey: secrets.AWSSecretAccessKey,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		e.Storage = up
	}

	var channels notify.Multi
	for _, wh := range cfg.Webhooks {
		channels = append(channels, notify.Webhook{URL: wh.URL, Secret: secrets.WebhookSecret, Kinds: wh.Kinds, Now: e.Now})
	}
	if cfg.Email.Enabled {
		if secrets.SendGridKey == "" {
			logger.Printf("app: email enabled without SENDGRID_API_KEY; email notifications disabled")
		} else {
			channels = append(channels, notify.NewEmail(secrets.SendGridKey, cfg.Email.FromName, cfg.Email.FromAddress, e.Repo))
		}
	}
	e.Notifier = notify.Recorder{Next: channels, Outbox: e.Repo, Now: e.Now, Logger: logger}

	rt.Engine = e
	rt.Scheduler = scheduler.Scheduler{Store: e.Repo, Actions: e, Config: cfg, Now: e.Now, Logger: logger}
	return rt, nil
}
