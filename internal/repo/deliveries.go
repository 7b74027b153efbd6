package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"badgerline/internal/domain"
)

const deliveryColumns = `id,sender_id,recipient_id,status,personality_json,task_json,reward_json,expires_at,completed_at,viewed_at,created_at,updated_at,version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (domain.Delivery, error) {
	var d domain.Delivery
	var personality, task, reward string
	var expiresAt, completedAt, viewedAt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.SenderID, &d.RecipientID, &d.Status, &personality, &task, &reward,
		&expiresAt, &completedAt, &viewedAt, &createdAt, &updatedAt, &d.Version); err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(personality), &d.Personality); err != nil {
		return d, fmt.Errorf("decode personality for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(task), &d.Task); err != nil {
		return d, fmt.Errorf("decode task for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(reward), &d.Reward); err != nil {
		return d, fmt.Errorf("decode reward for %s: %w", d.ID, err)
	}
	var err error
	if d.ExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return d, err
	}
	if d.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return d, err
	}
	if d.ViewedAt, err = parseNullTime(viewedAt); err != nil {
		return d, err
	}
	if d.CreatedAt, err = ParseTime(createdAt); err != nil {
		return d, err
	}
	if d.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return d, err
	}
	return d, nil
}

type deliveryRow struct {
	personality, task, reward string
	deadline                  any
	progressUpdatedAt         string
}

func encodeDelivery(d domain.Delivery) (deliveryRow, error) {
	var row deliveryRow
	var err error
	if row.personality, err = marshalJSON(d.Personality); err != nil {
		return row, fmt.Errorf("encode personality: %w", err)
	}
	if row.task, err = marshalJSON(d.Task); err != nil {
		return row, fmt.Errorf("encode task: %w", err)
	}
	if row.reward, err = marshalJSON(d.Reward); err != nil {
		return row, fmt.Errorf("encode reward: %w", err)
	}
	row.deadline = nullableTime(d.Task.Deadline)
	lu := d.Task.Progress.LastUpdated
	if lu.IsZero() {
		lu = d.CreatedAt
	}
	row.progressUpdatedAt = FormatTime(lu)
	return row, nil
}

// InsertDelivery stores d at version 1.
func (r Repo) InsertDelivery(ctx context.Context, tx *sql.Tx, d domain.Delivery) error {
	row, err := encodeDelivery(d)
	if err != nil {
		return err
	}
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO deliveries(id,sender_id,recipient_id,status,personality_json,task_json,reward_json,deadline,progress_updated_at,expires_at,completed_at,viewed_at,created_at,updated_at,version) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,1)`,
		d.ID, d.SenderID, d.RecipientID, string(d.Status), row.personality, row.task, row.reward, row.deadline, row.progressUpdatedAt,
		nullableTime(d.ExpiresAt), nullableTime(d.CompletedAt), nullableTime(d.ViewedAt), FormatTime(d.CreatedAt), FormatTime(d.UpdatedAt))
	return err
}

// CompareAndSwapDelivery writes d only if the stored version still equals
// expected, and bumps the version. It returns the new version.
func (r Repo) CompareAndSwapDelivery(ctx context.Context, tx *sql.Tx, d domain.Delivery, expected int64) (int64, error) {
	row, err := encodeDelivery(d)
	if err != nil {
		return 0, err
	}
	q := r.on(tx)
	res, err := q.ExecContext(ctx, `UPDATE deliveries SET status=?,personality_json=?,task_json=?,reward_json=?,deadline=?,progress_updated_at=?,expires_at=?,completed_at=?,viewed_at=?,updated_at=?,version=version+1 WHERE id=? AND version=?`,
		string(d.Status), row.personality, row.task, row.reward, row.deadline, row.progressUpdatedAt,
		nullableTime(d.ExpiresAt), nullableTime(d.CompletedAt), nullableTime(d.ViewedAt), FormatTime(d.UpdatedAt), d.ID, expected)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return expected + 1, nil
	}
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries WHERE id=?`, d.ID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, fmt.Errorf("delivery %s: %w", d.ID, ErrNotFound)
	}
	return 0, fmt.Errorf("delivery %s at version %d: %w", d.ID, expected, domain.ErrConcurrentModification)
}

func (r Repo) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	return r.GetDeliveryTx(ctx, nil, id)
}

func (r Repo) GetDeliveryTx(ctx context.Context, tx *sql.Tx, id string) (domain.Delivery, error) {
	d, err := scanDelivery(r.on(tx).QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id=?`, id))
	if err != nil {
		return d, scanErr("delivery "+id, err)
	}
	return d, nil
}

type DeliveryFilters struct {
	SenderID    string
	RecipientID string
	// Participant matches either side.
	Participant     string
	Statuses        []domain.Status
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListDeliveries returns deliveries newest first.
func (r Repo) ListDeliveries(ctx context.Context, f DeliveryFilters) ([]domain.Delivery, error) {
	var clauses []string
	var args []any
	if f.SenderID != "" {
		clauses = append(clauses, "sender_id=?")
		args = append(args, f.SenderID)
	}
	if f.RecipientID != "" {
		clauses = append(clauses, "recipient_id=?")
		args = append(args, f.RecipientID)
	}
	if f.Participant != "" {
		clauses = append(clauses, "(sender_id=? OR recipient_id=?)")
		args = append(args, f.Participant, f.Participant)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + deliveryColumns + ` FROM deliveries ` + whereClause(clauses) + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryDeliveries(ctx, query, args...)
}

// StaleDeliveries returns deliveries in statuses whose progress has not been
// updated since before.
func (r Repo) StaleDeliveries(ctx context.Context, statuses []domain.Status, before string) ([]domain.Delivery, error) {
	args := []any{}
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, before)
	return r.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE status IN (`+placeholders(len(statuses))+`) AND progress_updated_at < ? ORDER BY created_at, id`, args...)
}

// DeadlinesBefore returns deliveries in statuses with a task deadline at or
// before the given time.
func (r Repo) DeadlinesBefore(ctx context.Context, statuses []domain.Status, until string) ([]domain.Delivery, error) {
	args := []any{}
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, until)
	return r.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE status IN (`+placeholders(len(statuses))+`) AND deadline IS NOT NULL AND deadline <= ? ORDER BY deadline, id`, args...)
}

// ExpiredBefore returns non-terminal deliveries whose expires_at is at or
// before the given time.
func (r Repo) ExpiredBefore(ctx context.Context, at string) ([]domain.Delivery, error) {
	statuses := domain.NonTerminalStatuses()
	args := []any{}
	for _, s := range statuses {
		args = append(args, string(s))
	}
	args = append(args, at)
	return r.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE status IN (`+placeholders(len(statuses))+`) AND expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at, id`, args...)
}

func (r Repo) queryDeliveries(ctx context.Context, query string, args ...any) ([]domain.Delivery, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountByStatus is used by the status summary.
func (r Repo) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[domain.Status]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[domain.Status(s)] = n
	}
	return out, rows.Err()
}
