package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"badgerline/internal/domain"
	"badgerline/internal/events"
	"badgerline/internal/repo"
)

// UpsertUser creates a user with default preferences, or updates the name and
// email of an existing one.
func (e Engine) UpsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return u, domain.NewValidationError("id", "user id is required")
	}
	if u.ID == domain.CompanionID || u.ID == SystemActor {
		return u, domain.NewValidationError("id", u.ID+" is reserved")
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		return u, domain.NewValidationError("email", "invalid email address")
	}
	now := e.now()
	u.Preferences = domain.DefaultPreferences()
	u.CreatedAt = now
	u.UpdatedAt = now
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.UserUpserted, "", "user", u.ID, u.ID, events.EventPayload{"email": u.Email != ""})
	})
	if err != nil {
		return u, err
	}
	return e.Repo.GetUser(ctx, u.ID)
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

// UpdatePreferences applies field-level updates to a user's preferences.
// Unknown users are created with defaults first.
func (e Engine) UpdatePreferences(ctx context.Context, id string, updates ...domain.PreferenceUpdate) (domain.User, error) {
	if len(updates) == 0 {
		return e.Repo.GetUser(ctx, id)
	}
	var out domain.User
	err := e.Repo.WithTx(ctx, func(tx *sql.Tx) error {
		now := e.now()
		u, err := e.Repo.GetUserTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			u = domain.User{ID: id, Preferences: domain.DefaultPreferences(), CreatedAt: now, UpdatedAt: now}
			err = e.Repo.UpsertUser(ctx, tx, u)
		}
		if err != nil {
			return err
		}
		prefs, err := domain.ApplyPreferenceUpdates(u.Preferences, updates...)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdatePreferences(ctx, tx, id, prefs, repo.FormatTime(now)); err != nil {
			return err
		}
		u.Preferences = prefs
		u.UpdatedAt = now
		out = u
		return e.writer().Append(ctx, tx, events.PreferencesUpdated, "", "user", id, id, events.EventPayload{
			"communication_frequency": prefs.CommunicationFrequency,
			"badger_reminders":        prefs.Notifications.BadgerReminders,
			"deadline_warnings":       prefs.Notifications.DeadlineWarnings,
			"milestones":              prefs.Notifications.Milestones,
		})
	})
	return out, err
}
