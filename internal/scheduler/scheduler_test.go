package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"badgerline/internal/config"
	"badgerline/internal/db"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/migrate"
	"badgerline/internal/scheduler"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type outbox struct {
	mu     sync.Mutex
	reqs   []domain.NotificationRequest
	failTo string
}

func (o *outbox) Dispatch(_ context.Context, req domain.NotificationRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failTo != "" && req.RecipientID == o.failTo {
		return &domain.CollaboratorError{Collaborator: "push", Err: errors.New("unreachable")}
	}
	o.reqs = append(o.reqs, req)
	return nil
}

func (o *outbox) count(kind domain.NotificationKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.reqs {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	Ctx       context.Context
	Engine    engine.Engine
	Scheduler scheduler.Scheduler
	Clock     *clock
	Out       *outbox
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	clk := &clock{now: epoch}
	out := &outbox{}
	eng := engine.New(conn, cfg)
	eng.Now = clk.Now
	eng.Notifier = out
	return testEnv{
		Ctx:       context.Background(),
		Engine:    eng,
		Scheduler: scheduler.Scheduler{Store: eng.Repo, Actions: eng, Config: cfg, Now: clk.Now},
		Clock:     clk,
		Out:       out,
	}
}

func (env testEnv) deliver(t *testing.T, recipient string, deadline, expires *time.Time) domain.Delivery {
	t.Helper()
	d, err := env.Engine.CreateDelivery(env.Ctx, engine.CreateDeliveryOptions{
		SenderID:    "sender",
		RecipientID: recipient,
		Personality: domain.Personality{CommunicationFrequency: domain.FrequencyMedium, ReminderTone: domain.ToneGentle},
		Task: domain.Task{
			Type:               domain.TaskHabit,
			Title:              "meditate",
			Requirements:       []domain.Requirement{{Type: domain.RequirementText}},
			VerificationMethod: domain.VerifyManual,
			Deadline:           deadline,
		},
		Reward:    domain.Reward{Type: "coffee", Value: domain.Textual("large latte")},
		ExpiresAt: expires,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.ViewDelivery(env.Ctx, d.ID, recipient); err != nil {
		t.Fatalf("view: %v", err)
	}
	return d
}

func at(d time.Duration) *time.Time {
	t := epoch.Add(d)
	return &t
}

func TestReminderSweepRespectsStalenessAndCadence(t *testing.T) {
	env := newTestEnv(t)
	d := env.deliver(t, "rita", nil, nil)

	env.Clock.Set(epoch.Add(2 * time.Hour))
	rep, err := env.Scheduler.RunReminderSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 0 {
		t.Fatalf("fresh delivery is not stale, got %+v", rep)
	}

	env.Clock.Set(epoch.Add(25 * time.Hour))
	rep, err = env.Scheduler.RunReminderSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 1 || rep.Notified != 1 {
		t.Fatalf("expected one reminder, got %+v", rep)
	}
	msgs, _ := env.Engine.Repo.ListChat(env.Ctx, d.ID)
	if last := msgs[len(msgs)-1]; !last.FromCompanion() || !last.Timestamp.Equal(epoch.Add(25*time.Hour)) {
		t.Fatalf("expected companion reminder in chat, got %+v", last)
	}

	env.Clock.Set(epoch.Add(30 * time.Hour))
	rep, _ = env.Scheduler.RunReminderSweep(env.Ctx)
	if rep.Notified != 0 {
		t.Fatalf("medium cadence needs 12h of quiet, got %+v", rep)
	}
	env.Clock.Set(epoch.Add(37 * time.Hour))
	rep, _ = env.Scheduler.RunReminderSweep(env.Ctx)
	if rep.Notified != 1 {
		t.Fatalf("expected second reminder after 12h, got %+v", rep)
	}
	if got := env.Out.count(domain.NotifyReminder); got != 2 {
		t.Fatalf("expected 2 reminder notifications, got %d", got)
	}
}

func TestReminderSweepHonoursPreferences(t *testing.T) {
	env := newTestEnv(t)
	env.deliver(t, "hana", nil, nil)
	env.deliver(t, "omar", nil, nil)
	if _, err := env.Engine.UpdatePreferences(env.Ctx, "hana", domain.WithBadgerReminders(false)); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdatePreferences(env.Ctx, "omar", domain.WithCommunicationFrequency(domain.FrequencyLow)); err != nil {
		t.Fatal(err)
	}
	env.Clock.Set(epoch.Add(25 * time.Hour))
	rep, err := env.Scheduler.RunReminderSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 1 || rep.Notified != 1 {
		t.Fatalf("expected one opted out and one due at low cadence, got %+v", rep)
	}
}

func TestDeadlineSweepWarnsEveryRunAndExpires(t *testing.T) {
	env := newTestEnv(t)
	d := env.deliver(t, "rita", at(30*time.Hour), nil)
	far := env.deliver(t, "rita", at(72*time.Hour), nil)

	env.Clock.Set(epoch.Add(10 * time.Hour))
	for i := 0; i < 2; i++ {
		rep, err := env.Scheduler.RunDeadlineSweep(env.Ctx)
		if err != nil {
			t.Fatal(err)
		}
		if rep.Scanned != 1 || rep.Notified != 1 {
			t.Fatalf("run %d: expected one warning, got %+v", i, rep)
		}
	}
	if got := env.Out.count(domain.NotifyDeadlineWarning); got != 2 {
		t.Fatalf("warnings are not de-duplicated, expected 2 got %d", got)
	}

	env.Clock.Set(epoch.Add(31 * time.Hour))
	rep, err := env.Scheduler.RunDeadlineSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Expired != 1 {
		t.Fatalf("expected deadline expiry, got %+v", rep)
	}
	cur, _ := env.Engine.GetDelivery(env.Ctx, d.ID)
	if cur.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", cur.Status)
	}
	other, _ := env.Engine.GetDelivery(env.Ctx, far.ID)
	if other.Status != domain.StatusReceived {
		t.Fatalf("later deadline must be untouched, got %s", other.Status)
	}
}

func TestExpirationSweepForcesFromInProgress(t *testing.T) {
	env := newTestEnv(t)
	d := env.deliver(t, "rita", nil, at(time.Hour))
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: domain.StatusInProgress, ActorID: "rita"}); err != nil {
		t.Fatal(err)
	}
	env.Clock.Set(epoch.Add(2 * time.Hour))
	rep, err := env.Scheduler.RunExpirationSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Expired != 1 {
		t.Fatalf("expected forced expiry, got %+v", rep)
	}
	rep, _ = env.Scheduler.RunExpirationSweep(env.Ctx)
	if rep.Scanned != 0 {
		t.Fatalf("expired deliveries are terminal and not rescanned, got %+v", rep)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.deliver(t, "down", at(20*time.Hour), nil)
	env.deliver(t, "up", at(21*time.Hour), nil)
	env.Out.failTo = "down"

	env.Clock.Set(epoch.Add(time.Hour))
	rep, err := env.Scheduler.RunDeadlineSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Scanned != 2 || rep.Failed != 1 || rep.Notified != 1 || len(rep.Errors) != 1 {
		t.Fatalf("expected one failure and one success, got %+v", rep)
	}
}

func TestRunAllAndUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	reps, err := env.Scheduler.Run(env.Ctx, scheduler.SweepAll)
	if err != nil || len(reps) != 3 {
		t.Fatalf("expected three reports, got %d (%v)", len(reps), err)
	}
	if _, err := env.Scheduler.Run(env.Ctx, "hourly"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunnerSchedulesThreeSweeps(t *testing.T) {
	env := newTestEnv(t)
	r := scheduler.NewRunner(env.Scheduler, config.Default().Scheduler)
	if n := len(r.Entries()); n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
	r.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
}
