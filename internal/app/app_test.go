package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"badgerline/internal/config"
	"badgerline/internal/db"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/fitness"
	"badgerline/internal/migrate"
	"badgerline/internal/repo"
	"badgerline/internal/storage"
)

func openDB(t *testing.T) *repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &repo.Repo{DB: conn}
}

func TestBuildDefaultsLeaveCollaboratorsUnavailable(t *testing.T) {
	r := openDB(t)
	rt, err := Build(context.Background(), r.DB, config.Default(), Secrets{}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()
	if _, ok := rt.Engine.Storage.(storage.Unavailable); !ok {
		t.Fatalf("expected unavailable storage, got %T", rt.Engine.Storage)
	}
	if rt.Engine.Fitness != nil || rt.Engine.Companion != nil {
		t.Fatalf("fitness and companion should be unset by default")
	}
	if rt.Scheduler.Store == nil || rt.Scheduler.Actions == nil {
		t.Fatalf("scheduler not wired")
	}
}

func TestBuildWiresConfiguredCollaborators(t *testing.T) {
	r := openDB(t)
	cfg := config.Default()
	cfg.Fitness.Provider = "influx"
	cfg.Fitness.URL = "http://127.0.0.1:8086"
	cfg.Fitness.Org = "badger"
	cfg.Fitness.Bucket = "wearables"
	cfg.Storage.Provider = "s3"
	cfg.Storage.Bucket = "evidence"
	cfg.Storage.Region = "eu-west-1"
	cfg.Companion.Provider = "openai"
	cfg.Companion.Model = "gpt-4o-mini"
	rt, err := Build(context.Background(), r.DB, cfg, Secrets{OpenAIKey: "sk-test", AWSAccessKeyID: "AKID", AWSSecretAccessKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()
	if _, ok := rt.Engine.Fitness.(*fitness.Influx); !ok {
		t.Fatalf("expected influx source, got %T", rt.Engine.Fitness)
	}
	if _, ok := rt.Engine.Storage.(*storage.S3); !ok {
		t.Fatalf("expected s3 uploader, got %T", rt.Engine.Storage)
	}
	if rt.Engine.Companion == nil {
		t.Fatalf("expected openai companion")
	}
}

func TestBuildRoutesNotificationsThroughWebhooksAndOutbox(t *testing.T) {
	var mu sync.Mutex
	var kinds []string
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Kind string `json:"kind"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		kinds = append(kinds, body.Kind)
		secrets = append(secrets, r.Header.Get("X-Badger-Secret"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	r := openDB(t)
	cfg := config.Default()
	cfg.Webhooks = []config.Webhook{{URL: hook.URL, Kinds: []string{string(domain.NotifyNewDelivery)}}}
	rt, err := Build(context.Background(), r.DB, cfg, Secrets{WebhookSecret: "s3cr3t"}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	d, err := rt.Engine.CreateDelivery(context.Background(), engine.CreateDeliveryOptions{
		SenderID:    "alice",
		RecipientID: "bob",
		Task: domain.Task{
			Type:               domain.TaskHabit,
			Title:              "read",
			Requirements:       []domain.Requirement{{Type: domain.RequirementText}},
			VerificationMethod: domain.VerifyManual,
		},
		Reward: domain.Reward{Type: "book", Value: domain.Textual("paperback")},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mu.Lock()
	if len(kinds) != 1 || kinds[0] != string(domain.NotifyNewDelivery) || secrets[0] != "s3cr3t" {
		t.Fatalf("unexpected webhook calls %v %v", kinds, secrets)
	}
	mu.Unlock()
	recs, err := r.ListNotifications(context.Background(), repo.NotificationFilters{DeliveryID: d.ID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != repo.NotificationSent {
		t.Fatalf("expected one sent record, got %+v", recs)
	}
}
