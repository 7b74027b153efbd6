package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"badgerline/internal/chat"
	"badgerline/internal/config"
	"badgerline/internal/db"
	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/fitness"
	"badgerline/internal/migrate"
	"badgerline/internal/storage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sent   *sink
}

type sink struct {
	mu   sync.Mutex
	reqs []domain.NotificationRequest
	err  error
}

func (s *sink) Dispatch(_ context.Context, req domain.NotificationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func (s *sink) kinds(kind domain.NotificationKind) []domain.NotificationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.NotificationRequest
	for _, r := range s.reqs {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type uploaderFunc func(ctx context.Context, deliveryID string, f storage.File) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, deliveryID string, file storage.File) (string, error) {
	return f(ctx, deliveryID, file)
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return epoch }
	s := &sink{}
	eng.Notifier = s
	return testEnv{Engine: eng, Ctx: context.Background(), Sent: s}
}

func creativeTask(method domain.VerificationMethod) domain.Task {
	return domain.Task{
		Type:  domain.TaskCreative,
		Title: "paint the fence",
		Requirements: []domain.Requirement{
			{Type: domain.RequirementText, Target: domain.Textual("describe it")},
			{Type: domain.RequirementPhoto, Target: domain.Textual("show it")},
		},
		VerificationMethod: method,
	}
}

func (env testEnv) create(t *testing.T, task domain.Task) domain.Delivery {
	t.Helper()
	d, err := env.Engine.CreateDelivery(env.Ctx, engine.CreateDeliveryOptions{
		SenderID:    "alice",
		RecipientID: "bob",
		Task:        task,
		Reward:      domain.Reward{Type: "gift-card", Value: domain.Numeric(25)},
	})
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	return d
}

func TestCreateDeliverySendsAndGreets(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyAutomatic))
	if d.Status != domain.StatusSent || d.Version != 2 {
		t.Fatalf("expected sent at version 2, got %s v%d", d.Status, d.Version)
	}
	if len(d.Chat) != 1 || !d.Chat[0].FromCompanion() || d.Chat[0].Content == "" {
		t.Fatalf("expected companion greeting, got %+v", d.Chat)
	}
	if d.Personality.ReminderTone == "" || d.Task.Progress.VerificationStatus != domain.VerificationPending {
		t.Fatalf("expected defaults applied, got %+v", d)
	}
	got := env.Sent.kinds(domain.NotifyNewDelivery)
	if len(got) != 1 || got[0].RecipientID != "bob" || got[0].DeliveryID != d.ID {
		t.Fatalf("expected new-delivery notification to bob, got %+v", got)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, d.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 {
		t.Fatalf("expected created and sent events, got %d", len(evts))
	}
}

func TestCreateDeliveryRejectsInvalidTask(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.CreateDeliveryOptions
	}{
		{"same participant", engine.CreateDeliveryOptions{SenderID: "a", RecipientID: "a", Task: creativeTask(domain.VerifyNone), Reward: domain.Reward{Type: "x"}}},
		{"no requirements", engine.CreateDeliveryOptions{SenderID: "a", RecipientID: "b", Task: domain.Task{Type: domain.TaskHabit, VerificationMethod: domain.VerifyNone}, Reward: domain.Reward{Type: "x"}}},
		{"textual fitness target", engine.CreateDeliveryOptions{SenderID: "a", RecipientID: "b", Task: domain.Task{
			Type:               domain.TaskFitness,
			Requirements:       []domain.Requirement{{Type: domain.RequirementStepCount, Target: domain.Textual("lots")}},
			VerificationMethod: domain.VerifyAutomatic,
		}, Reward: domain.Reward{Type: "x"}}},
		{"no reward", engine.CreateDeliveryOptions{SenderID: "a", RecipientID: "b", Task: creativeTask(domain.VerifyNone)}},
	}
	for _, tc := range cases {
		_, err := env.Engine.CreateDelivery(env.Ctx, tc.opts)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestViewAutoReceivesOnce(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))

	seen, err := env.Engine.ViewDelivery(env.Ctx, d.ID, "alice")
	if err != nil || seen.Status != domain.StatusSent {
		t.Fatalf("sender view should not receive: %v %s", err, seen.Status)
	}
	seen, err = env.Engine.ViewDelivery(env.Ctx, d.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if seen.Status != domain.StatusReceived || seen.ViewedAt == nil {
		t.Fatalf("expected received with viewed_at, got %s", seen.Status)
	}
	again, err := env.Engine.ViewDelivery(env.Ctx, d.ID, "bob")
	if err != nil || again.Version != seen.Version {
		t.Fatalf("second view should be a no-op: %v v%d vs v%d", err, again.Version, seen.Version)
	}
	if _, err := env.Engine.ViewDelivery(env.Ctx, d.ID, "mallory"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: domain.StatusCompleted, ActorID: "bob"})
	var te *domain.TransitionError
	if !errors.As(err, &te) || te.From != domain.StatusSent || te.To != domain.StatusCompleted {
		t.Fatalf("expected sent->completed rejected, got %v", err)
	}
	steps := []domain.Status{domain.StatusReceived, domain.StatusInProgress, domain.StatusAwaitingVerification, domain.StatusInProgress, domain.StatusAwaitingVerification, domain.StatusCompleted}
	for _, s := range steps {
		d, err = env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: s, ActorID: "alice"})
		if err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	if d.CompletedAt == nil || !d.Task.Progress.Completed || d.Task.Progress.Percentage != 100 {
		t.Fatalf("completed delivery must be at 100%%: %+v", d.Task.Progress)
	}
	if d.Task.Progress.VerificationStatus != domain.VerificationApproved {
		t.Fatalf("sender completion approves the evidence, got %s", d.Task.Progress.VerificationStatus)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: domain.StatusCancelled, ActorID: "alice"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: "Completed"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("status is case-sensitive, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: "missing", Status: domain.StatusCancelled}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPinnedVersionConflict(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	targets := []domain.Status{domain.StatusReceived, domain.StatusCancelled}
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: targets[i], ActorID: "bob", IfVersion: d.Version})
		}(i)
	}
	wg.Wait()
	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrConcurrentModification):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d conflicts=%d", ok, conflicts)
	}
	cur, err := env.Engine.GetDelivery(env.Ctx, d.ID)
	if err != nil || cur.Version != d.Version+1 {
		t.Fatalf("expected one write, got v%d (%v)", cur.Version, err)
	}
}

func TestSubmitProgressesToCompletion(t *testing.T) {
	env := newTestEnv(t)
	var uploads []string
	env.Engine.Storage = uploaderFunc(func(_ context.Context, id string, f storage.File) (string, error) {
		uploads = append(uploads, f.Name)
		return "https://cdn.example.test/" + id + "/" + f.Name, nil
	})
	d := env.create(t, creativeTask(domain.VerifyAutomatic))

	res, err := env.Engine.Submit(env.Ctx, engine.SubmitRequest{
		DeliveryID:  d.ID,
		ActorID:     "bob",
		Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "painted it green"}},
	})
	if err != nil {
		t.Fatalf("submit text: %v", err)
	}
	if res.Progress.Percentage != 50 || res.Delivery.Status != domain.StatusInProgress {
		t.Fatalf("expected 50%% in progress, got %d %s", res.Progress.Percentage, res.Delivery.Status)
	}
	if res.Delivery.ViewedAt == nil {
		t.Fatalf("submitting should mark the delivery viewed")
	}
	if got := env.Sent.kinds(domain.NotifyMilestone); len(got) != 2 {
		t.Fatalf("expected 50%% milestone for both participants, got %+v", got)
	}

	res, err = env.Engine.Submit(env.Ctx, engine.SubmitRequest{
		DeliveryID: d.ID,
		ActorID:    "bob",
		Files:      []storage.File{{Name: "fence.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	})
	if err != nil {
		t.Fatalf("submit photo: %v", err)
	}
	if res.Delivery.Status != domain.StatusCompleted || !res.Progress.Completed {
		t.Fatalf("automatic task should complete, got %s", res.Delivery.Status)
	}
	if len(uploads) != 1 || len(res.Uploaded) != 1 {
		t.Fatalf("expected one upload, got %v", uploads)
	}
	if n := len(res.Delivery.Task.Progress.Submissions); n != 2 {
		t.Fatalf("expected accumulated submissions, got %d", n)
	}
	if got := env.Sent.kinds(domain.NotifyMilestone); len(got) != 4 {
		t.Fatalf("expected 100%% milestone for both participants, got %d", len(got))
	}

	_, err = env.Engine.Submit(env.Ctx, engine.SubmitRequest{DeliveryID: d.ID, ActorID: "bob", Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "more"}}})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("submitting to a completed delivery should fail, got %v", err)
	}
}

func TestSubmitRules(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))

	_, err := env.Engine.Submit(env.Ctx, engine.SubmitRequest{DeliveryID: d.ID, ActorID: "alice", Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "x"}}})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("sender cannot submit, got %v", err)
	}
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitRequest{DeliveryID: d.ID, ActorID: "bob", Files: []storage.File{{Name: "notes.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("non-media file should be rejected, got %v", err)
	}
	_, err = env.Engine.Submit(env.Ctx, engine.SubmitRequest{DeliveryID: d.ID, ActorID: "bob", Files: []storage.File{{Name: "a.png", ContentType: "image/png", Data: []byte{1}}}})
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("upload failure with nothing else should surface, got %v", err)
	}
	cur, _ := env.Engine.GetDelivery(env.Ctx, d.ID)
	if cur.Version != d.Version {
		t.Fatalf("failed upload must not change the delivery")
	}

	res, err := env.Engine.Submit(env.Ctx, engine.SubmitRequest{
		DeliveryID:  d.ID,
		ActorID:     "bob",
		Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "done"}, {Type: domain.SubmissionPhoto, Content: "https://example.test/p.jpg"}},
		Files:       []storage.File{{Name: "a.png", ContentType: "image/png", Data: []byte{1}}},
	})
	if err != nil {
		t.Fatalf("partial upload failure should still record: %v", err)
	}
	if len(res.FailedUploads) != 1 || res.Delivery.Status != domain.StatusAwaitingVerification {
		t.Fatalf("expected awaiting verification with one failed upload, got %s %v", res.Delivery.Status, res.FailedUploads)
	}
}

func TestSyncFitness(t *testing.T) {
	env := newTestEnv(t)
	task := domain.Task{
		Type: domain.TaskFitness,
		Requirements: []domain.Requirement{
			{Type: domain.RequirementStepCount, Target: domain.Numeric(10000)},
			{Type: domain.RequirementExerciseMinutes, Target: domain.Numeric(30)},
		},
		VerificationMethod: domain.VerifyManual,
	}
	d := env.create(t, task)

	env.Engine.Fitness = fitness.Static{Err: errors.New("tracker offline")}
	res, err := env.Engine.SyncFitness(env.Ctx, d.ID, "bob")
	if err != nil || !res.Degraded {
		t.Fatalf("expected degraded result, got %+v %v", res, err)
	}
	if res.Delivery.Version != d.Version {
		t.Fatalf("degraded sync must not write")
	}

	env.Engine.Fitness = fitness.Static{Value: domain.FitnessSnapshot{Steps: 5000, ExerciseMinutes: 30}}
	res, err = env.Engine.SyncFitness(env.Ctx, d.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if res.Progress.Percentage != 75 || res.Progress.Completed {
		t.Fatalf("expected 75%%, got %+v", res.Progress)
	}

	env.Engine.Fitness = fitness.Static{Value: domain.FitnessSnapshot{Steps: 12000, ExerciseMinutes: 45}}
	res, err = env.Engine.SyncFitness(env.Ctx, d.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Progress.Completed || res.Delivery.Status != domain.StatusAwaitingVerification {
		t.Fatalf("manual fitness task should await verification, got %s", res.Delivery.Status)
	}
	if res.Delivery.Task.Progress.Fitness == nil || res.Delivery.Task.Progress.Fitness.Steps != 12000 {
		t.Fatalf("expected snapshot stored")
	}

	other := env.create(t, creativeTask(domain.VerifyNone))
	if _, err := env.Engine.SyncFitness(env.Ctx, other.ID, "bob"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("non-fitness sync should fail validation, got %v", err)
	}
}

func TestForceExpireWinsAndIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))
	exp, err := env.Engine.ForceExpire(env.Ctx, d.ID, "deadline passed", 0)
	if err != nil {
		t.Fatal(err)
	}
	if exp.Status != domain.StatusExpired {
		t.Fatalf("expected expired, got %s", exp.Status)
	}
	if got := env.Sent.kinds(domain.NotifyExpired); len(got) != 2 {
		t.Fatalf("expected expiry notices to both participants, got %d", len(got))
	}
	if _, err := env.Engine.ForceExpire(env.Ctx, d.ID, "again", 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expired is terminal, got %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: domain.StatusReceived}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestNotifierFailureDoesNotFailWrite(t *testing.T) {
	env := newTestEnv(t)
	env.Sent.err = errors.New("push gateway down")
	d := env.create(t, creativeTask(domain.VerifyManual))
	if d.Status != domain.StatusSent {
		t.Fatalf("create should succeed despite notifier failure")
	}
	if _, err := env.Engine.ForceExpire(env.Ctx, d.ID, "test", 0); err != nil {
		t.Fatalf("expire should succeed despite notifier failure: %v", err)
	}
}

func TestRedemption(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))
	if _, err := env.Engine.ConfirmRedemption(env.Ctx, d.ID, "payments"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("redeeming an open delivery should fail, got %v", err)
	}
	for _, s := range []domain.Status{domain.StatusReceived, domain.StatusInProgress, domain.StatusAwaitingVerification, domain.StatusCompleted} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: s}); err != nil {
			t.Fatal(err)
		}
	}
	r, err := env.Engine.ConfirmRedemption(env.Ctx, d.ID, "payments")
	if err != nil {
		t.Fatal(err)
	}
	if !r.Reward.IsRedeemed || r.Reward.RedeemedAt == nil || !r.Reward.RedeemedAt.Equal(epoch) {
		t.Fatalf("expected redeemed reward, got %+v", r.Reward)
	}
	if _, err := env.Engine.ConfirmRedemption(env.Ctx, d.ID, "payments"); !errors.Is(err, domain.ErrAlreadyRedeemed) {
		t.Fatalf("second redemption should fail, got %v", err)
	}
}

func TestChatAppendReadAndConverse(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))

	if _, err := env.Engine.AppendChat(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "mallory", Content: "hi"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("outsider cannot chat, got %v", err)
	}
	if _, err := env.Engine.AppendChat(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "bob", Content: " "}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty message should fail, got %v", err)
	}
	m, err := env.Engine.AppendChat(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "bob", Content: "on my way"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID == 0 || !m.Timestamp.Equal(epoch) || m.Type != domain.MessageText {
		t.Fatalf("unexpected message %+v", m)
	}
	msgs, err := env.Engine.Converse(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "bob", Content: "any tips?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || !msgs[1].FromCompanion() {
		t.Fatalf("expected message plus companion reply, got %+v", msgs)
	}

	page, err := env.Engine.ReadChat(env.Ctx, d.ID, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || len(page.Messages) != 2 || !page.HasMore {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Messages[0].Content != "any tips?" || !page.Messages[1].FromCompanion() {
		t.Fatalf("page 1 should hold the newest messages oldest first, got %+v", page.Messages)
	}
	page, err = env.Engine.ReadChat(env.Ctx, d.ID, 3, 2)
	if err != nil || len(page.Messages) != 0 {
		t.Fatalf("page past the end should be empty, got %+v %v", page, err)
	}

	cur, _ := env.Engine.GetDelivery(env.Ctx, d.ID)
	if cur.Version != d.Version {
		t.Fatalf("chat appends should not bump the delivery version")
	}
	a, err := env.Engine.ChatAnalytics(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.MessageCount != 4 || a.ParticipantMessageCount != 2 {
		t.Fatalf("unexpected analytics %+v", a)
	}
}

func TestChatAnalyticsSkipsStatusNotes(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))
	if _, err := env.Engine.ViewDelivery(env.Ctx, d.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitRequest{
		DeliveryID:  d.ID,
		ActorID:     "bob",
		Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "half done"}},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, s := range []domain.Status{domain.StatusAwaitingVerification, domain.StatusInProgress, domain.StatusAwaitingVerification} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: s, ActorID: "alice"}); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}

	a, err := env.Engine.ChatAnalytics(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.ParticipantMessageCount != 0 || a.EngagementLevel != chat.EngagementNone || a.AverageResponseTimeSeconds != 0 {
		t.Fatalf("only engine notes and companion messages so far, got %+v", a)
	}

	env.Engine.Now = func() time.Time { return epoch.Add(10 * time.Minute) }
	if _, err := env.Engine.AppendChat(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "bob", Content: "photo coming"}); err != nil {
		t.Fatal(err)
	}
	env.Engine.Now = func() time.Time { return epoch.Add(10*time.Minute + 30*time.Second) }
	cur, err := env.Engine.GetDelivery(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Remind(env.Ctx, cur); err != nil {
		t.Fatalf("remind: %v", err)
	}
	a, err = env.Engine.ChatAnalytics(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.ParticipantMessageCount != 1 || a.AverageResponseTimeSeconds != 30 || a.EngagementLevel != chat.EngagementMedium {
		t.Fatalf("expected one participant message answered after 30s, got %+v", a)
	}
}

func TestChatTimestampsNeverGoBackwards(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))
	env.Engine.Now = func() time.Time { return epoch.Add(-time.Hour) }
	m, err := env.Engine.AppendChat(env.Ctx, engine.AppendChatRequest{DeliveryID: d.ID, SenderID: "alice", Content: "clock skew"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Timestamp.Before(epoch) {
		t.Fatalf("timestamp went backwards: %s", m.Timestamp)
	}
}

func TestPreferencesGateNotifications(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.UpsertUser(env.Ctx, domain.User{ID: "bob", Name: "Bob", Email: "bob@example.test"}); err != nil {
		t.Fatal(err)
	}
	u, err := env.Engine.UpdatePreferences(env.Ctx, "bob", domain.WithMilestones(false), domain.WithCommunicationFrequency(domain.FrequencyHigh))
	if err != nil {
		t.Fatal(err)
	}
	if u.Preferences.Notifications.Milestones || !u.Preferences.Notifications.BadgerReminders || u.Preferences.CommunicationFrequency != domain.FrequencyHigh {
		t.Fatalf("unexpected preferences %+v", u.Preferences)
	}
	if _, err := env.Engine.UpdatePreferences(env.Ctx, "bob", domain.WithCommunicationFrequency("hourly")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	again, _ := env.Engine.GetUser(env.Ctx, "bob")
	if again.Preferences.CommunicationFrequency != domain.FrequencyHigh || again.Name != "Bob" {
		t.Fatalf("failed update must leave preferences untouched: %+v", again)
	}

	d := env.create(t, creativeTask(domain.VerifyManual))
	if _, err := env.Engine.Submit(env.Ctx, engine.SubmitRequest{DeliveryID: d.ID, ActorID: "bob", Submissions: []domain.Submission{{Type: domain.SubmissionText, Content: "x"}}}); err != nil {
		t.Fatal(err)
	}
	got := env.Sent.kinds(domain.NotifyMilestone)
	if len(got) != 1 || got[0].RecipientID != "alice" {
		t.Fatalf("only the sender should hear about the milestone, got %+v", got)
	}
}

func TestUserTransitionRacesForcedExpiry(t *testing.T) {
	env := newTestEnv(t)
	d := env.create(t, creativeTask(domain.VerifyManual))
	d, err := env.Engine.ViewDelivery(env.Ctx, d.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var userErr, expireErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, userErr = env.Engine.Transition(env.Ctx, engine.TransitionRequest{DeliveryID: d.ID, Status: domain.StatusInProgress, ActorID: "bob", IfVersion: d.Version})
	}()
	go func() {
		defer wg.Done()
		_, expireErr = env.Engine.ForceExpire(env.Ctx, d.ID, "deadline passed", d.Version)
	}()
	wg.Wait()
	if (userErr == nil) == (expireErr == nil) {
		t.Fatalf("exactly one write should win: user=%v expire=%v", userErr, expireErr)
	}
	for _, err := range []error{userErr, expireErr} {
		if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
			t.Fatalf("loser should report a concurrent modification, got %v", err)
		}
	}
}
