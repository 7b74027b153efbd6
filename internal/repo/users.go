package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"badgerline/internal/domain"
)

// UpsertUser creates or updates the profile fields of u. Preferences are
// written only on insert; use UpdatePreferences afterwards.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	prefs, err := marshalJSON(u.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO users(id,name,email,preferences_json,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=COALESCE(excluded.name,users.name), email=COALESCE(excluded.email,users.email), updated_at=excluded.updated_at`,
		u.ID, nullable(u.Name), nullable(u.Email), prefs, FormatTime(u.CreatedAt), FormatTime(u.UpdatedAt))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.GetUserTx(ctx, nil, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	var u domain.User
	var name, email sql.NullString
	var prefs, createdAt, updatedAt string
	err := r.on(tx).QueryRowContext(ctx, `SELECT id,name,email,preferences_json,created_at,updated_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &name, &email, &prefs, &createdAt, &updatedAt)
	if err != nil {
		return u, scanErr("user "+id, err)
	}
	u.Name = name.String
	u.Email = email.String
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return u, fmt.Errorf("decode preferences for %s: %w", id, err)
	}
	if u.CreatedAt, err = ParseTime(createdAt); err != nil {
		return u, err
	}
	if u.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return u, err
	}
	return u, nil
}

func (r Repo) UpdatePreferences(ctx context.Context, tx *sql.Tx, id string, p domain.Preferences, updatedAt string) error {
	prefs, err := marshalJSON(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	res, err := r.on(tx).ExecContext(ctx, `UPDATE users SET preferences_json=?, updated_at=? WHERE id=?`, prefs, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}
