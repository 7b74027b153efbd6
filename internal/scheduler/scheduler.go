package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"badgerline/internal/chat"
	"badgerline/internal/config"
	"badgerline/internal/domain"
	"badgerline/internal/repo"
)

// Sweep kinds accepted by Run.
const (
	SweepReminders   = "reminders"
	SweepDeadlines   = "deadlines"
	SweepExpirations = "expirations"
	SweepAll         = "all"
)

// Store is the read side the sweeps filter on.
type Store interface {
	StaleDeliveries(ctx context.Context, statuses []domain.Status, before string) ([]domain.Delivery, error)
	DeadlinesBefore(ctx context.Context, statuses []domain.Status, until string) ([]domain.Delivery, error)
	ExpiredBefore(ctx context.Context, at string) ([]domain.Delivery, error)
	ListChat(ctx context.Context, deliveryID string) ([]domain.ChatMessage, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// Actions are the writes a sweep may perform.
type Actions interface {
	ForceExpire(ctx context.Context, id, reason string, ifVersion int64) (domain.Delivery, error)
	Remind(ctx context.Context, d domain.Delivery) (domain.ChatMessage, error)
	Notify(ctx context.Context, req domain.NotificationRequest) error
}

// active are the statuses reminders and deadline checks apply to.
var active = []domain.Status{domain.StatusReceived, domain.StatusInProgress}

type Scheduler struct {
	Store   Store
	Actions Actions
	Config  *config.Config
	Now     func() time.Time
	Logger  *log.Logger
}

type SweepReport struct {
	Sweep    string   `json:"sweep"`
	Scanned  int      `json:"scanned"`
	Notified int      `json:"notified"`
	Skipped  int      `json:"skipped"`
	Expired  int      `json:"expired"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

func (r *SweepReport) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
}

// Run executes one sweep kind, or all three in order.
func (s Scheduler) Run(ctx context.Context, kind string) ([]SweepReport, error) {
	sweeps := map[string]func(context.Context) (SweepReport, error){
		SweepReminders:   s.RunReminderSweep,
		SweepDeadlines:   s.RunDeadlineSweep,
		SweepExpirations: s.RunExpirationSweep,
	}
	order := []string{kind}
	if kind == SweepAll {
		order = []string{SweepExpirations, SweepDeadlines, SweepReminders}
	}
	var out []SweepReport
	for _, k := range order {
		fn, ok := sweeps[k]
		if !ok {
			return out, domain.NewValidationError("sweep", "unknown sweep "+k)
		}
		rep, err := fn(ctx)
		if err != nil {
			return out, fmt.Errorf("%s sweep: %w", k, err)
		}
		out = append(out, rep)
	}
	return out, nil
}

// RunReminderSweep nudges recipients of stale deliveries whose chat has been
// quiet for at least their cadence.
func (s Scheduler) RunReminderSweep(ctx context.Context) (SweepReport, error) {
	rep := SweepReport{Sweep: SweepReminders}
	now := s.now()
	cfg := s.config()
	stale, err := s.Store.StaleDeliveries(ctx, active, repo.FormatTime(now.Add(-cfg.Scheduler.StaleAfter)))
	if err != nil {
		return rep, err
	}
	for _, d := range stale {
		rep.Scanned++
		prefs := s.preferences(ctx, d.RecipientID)
		if !prefs.Allows(domain.NotifyReminder) {
			rep.Skipped++
			continue
		}
		msgs, err := s.Store.ListChat(ctx, d.ID)
		if err != nil {
			rep.fail(d.ID, err)
			continue
		}
		last, ok := chat.LastMessageAt(msgs)
		if !ok {
			last = d.CreatedAt
		}
		quiet := now.Sub(last)
		if quiet < cfg.Cadence.For(prefs.Cadence(d.Personality)) {
			continue
		}
		msg, err := s.Actions.Remind(ctx, d)
		if err != nil {
			rep.fail(d.ID, err)
			continue
		}
		err = s.Actions.Notify(ctx, domain.NotificationRequest{
			RecipientID: d.RecipientID,
			Kind:        domain.NotifyReminder,
			DeliveryID:  d.ID,
			Payload: map[string]any{
				"message":          msg.Content,
				"hours_since_chat": int(quiet.Hours()),
				"percentage":       d.Task.Progress.Percentage,
			},
		})
		if err != nil {
			rep.fail(d.ID, err)
			continue
		}
		rep.Notified++
	}
	s.log(rep)
	return rep, nil
}

// RunDeadlineSweep warns about deadlines inside the window on every run and
// expires deliveries whose deadline has passed.
func (s Scheduler) RunDeadlineSweep(ctx context.Context) (SweepReport, error) {
	rep := SweepReport{Sweep: SweepDeadlines}
	now := s.now()
	cfg := s.config()
	due, err := s.Store.DeadlinesBefore(ctx, active, repo.FormatTime(now.Add(cfg.Scheduler.DeadlineWindow)))
	if err != nil {
		return rep, err
	}
	for _, d := range due {
		rep.Scanned++
		deadline := *d.Task.Deadline
		if !deadline.After(now) {
			s.expire(ctx, &rep, d, "deadline passed")
			continue
		}
		if !s.preferences(ctx, d.RecipientID).Allows(domain.NotifyDeadlineWarning) {
			rep.Skipped++
			continue
		}
		err := s.Actions.Notify(ctx, domain.NotificationRequest{
			RecipientID: d.RecipientID,
			Kind:        domain.NotifyDeadlineWarning,
			DeliveryID:  d.ID,
			Payload: map[string]any{
				"deadline":   deadline.Format(time.RFC3339),
				"hours_left": int(math.Ceil(deadline.Sub(now).Hours())),
				"percentage": d.Task.Progress.Percentage,
			},
		})
		if err != nil {
			rep.fail(d.ID, err)
			continue
		}
		rep.Notified++
	}
	s.log(rep)
	return rep, nil
}

// RunExpirationSweep expires every open delivery whose expires_at has passed.
func (s Scheduler) RunExpirationSweep(ctx context.Context) (SweepReport, error) {
	rep := SweepReport{Sweep: SweepExpirations}
	due, err := s.Store.ExpiredBefore(ctx, repo.FormatTime(s.now()))
	if err != nil {
		return rep, err
	}
	for _, d := range due {
		rep.Scanned++
		s.expire(ctx, &rep, d, "expired")
	}
	s.log(rep)
	return rep, nil
}

func (s Scheduler) expire(ctx context.Context, rep *SweepReport, d domain.Delivery, reason string) {
	_, err := s.Actions.ForceExpire(ctx, d.ID, reason, 0)
	switch {
	case err == nil:
		rep.Expired++
	case errors.Is(err, domain.ErrInvalidTransition):
		// finished between the read and the write
		rep.Skipped++
	default:
		rep.fail(d.ID, err)
	}
}

func (s Scheduler) preferences(ctx context.Context, userID string) domain.Preferences {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger().Printf("scheduler: load preferences for %s: %v", userID, err)
		}
		return domain.DefaultPreferences()
	}
	return u.Preferences
}

func (s Scheduler) log(rep SweepReport) {
	if rep.Scanned == 0 {
		return
	}
	s.logger().Printf("scheduler: %s sweep scanned=%d notified=%d expired=%d skipped=%d failed=%d",
		rep.Sweep, rep.Scanned, rep.Notified, rep.Expired, rep.Skipped, rep.Failed)
	for _, e := range rep.Errors {
		s.logger().Printf("scheduler: %s: %s", rep.Sweep, e)
	}
}

func (s Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Scheduler) config() *config.Config {
	if s.Config != nil {
		return s.Config
	}
	return config.Default()
}

func (s Scheduler) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
