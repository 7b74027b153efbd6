package badgersdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"badgerline/internal/config"
	"badgerline/internal/db"
	"badgerline/internal/engine"
	"badgerline/internal/migrate"
	"badgerline/internal/server"
	badgersdk "badgerline/sdk/go"
)

const secret = "sdk-secret"

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := server.New(server.Config{Engine: engine.New(conn, config.Default()), Auth: server.AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func client(t *testing.T, url, subject string, roles ...string) *badgersdk.Client {
	t.Helper()
	token, err := server.IssueToken(secret, subject, roles, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return badgersdk.New(url, token)
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	alice := client(t, srv.URL, "alice")
	bob := client(t, srv.URL, "bob")

	d, err := alice.CreateDelivery(ctx, badgersdk.CreateDeliveryInput{
		RecipientID: "bob",
		Task: badgersdk.Task{
			Type:               "learning",
			Title:              "Read a chapter",
			Requirements:       []badgersdk.Requirement{{Type: "text"}},
			VerificationMethod: "manual",
		},
		Reward: badgersdk.Reward{Type: "cake", Value: "slice"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != "sent" {
		t.Fatalf("expected sent, got %s", d.Status)
	}

	got, err := bob.GetDelivery(ctx, d.ID)
	if err != nil || got.Status != "received" {
		t.Fatalf("view: %v %s", err, got.Status)
	}
	res, err := bob.Submit(ctx, d.ID, []badgersdk.Submission{{Type: "text", Content: "chapter 3 summary"}}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Progress.Completed || res.Delivery.Status != "awaiting-verification" {
		t.Fatalf("manual task should await verification, got %s", res.Delivery.Status)
	}
	if _, err := alice.Transition(ctx, d.ID, "completed", res.Delivery.Version); err != nil {
		t.Fatalf("complete: %v", err)
	}

	msgs, err := bob.SendChat(ctx, d.ID, "thanks!", true)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("chat: %v (%d messages)", err, len(msgs))
	}
	page, err := alice.ReadChat(ctx, d.ID, 1, 3)
	if err != nil || len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("read chat: %v %+v", err, page)
	}
	if _, err := alice.ChatAnalytics(ctx, d.ID); err != nil {
		t.Fatalf("analytics: %v", err)
	}

	list, err := bob.ListDeliveries(ctx, "recipient", []string{"completed"}, 10, "")
	if err != nil || len(list.Items) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	evts, err := alice.EventsPage(ctx, d.ID, 5, "")
	if err != nil || len(evts.Items) == 0 {
		t.Fatalf("events: %v", err)
	}

	off := false
	u, err := bob.UpdatePreferences(ctx, badgersdk.PreferencesInput{Milestones: &off})
	if err != nil || u.Preferences.Notifications.Milestones {
		t.Fatalf("preferences: %v %+v", err, u)
	}
}

func TestClientSurfacesErrorEnvelope(t *testing.T) {
	srv := newTestAPI(t)
	c := client(t, srv.URL, "alice")
	_, err := c.GetDelivery(context.Background(), "nope")
	var apiErr *badgersdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	_, err = c.RedeemReward(context.Background(), "nope")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("redeem without role expected 403, got %v", err)
	}
}
