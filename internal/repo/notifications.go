package repo

import (
	"context"
	"database/sql"
	"fmt"

	"badgerline/internal/domain"
)

const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationSkipped = "skipped"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.NotificationRecord) (int64, error) {
	payload := n.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(delivery_id,recipient_id,kind,payload_json,status,error,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.DeliveryID, n.RecipientID, string(n.Kind), payload, n.Status, nullable(n.Error), n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type NotificationFilters struct {
	DeliveryID  string
	RecipientID string
	Kind        domain.NotificationKind
	Limit       int
}

// ListNotifications returns dispatch outcomes newest first.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.NotificationRecord, error) {
	var clauses []string
	var args []any
	if f.DeliveryID != "" {
		clauses = append(clauses, "delivery_id=?")
		args = append(args, f.DeliveryID)
	}
	if f.RecipientID != "" {
		clauses = append(clauses, "recipient_id=?")
		args = append(args, f.RecipientID)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id,delivery_id,recipient_id,kind,payload_json,status,error,created_at FROM notifications %s ORDER BY id DESC LIMIT ?`, whereClause(clauses)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NotificationRecord
	for rows.Next() {
		var n domain.NotificationRecord
		var errText sql.NullString
		if err := rows.Scan(&n.ID, &n.DeliveryID, &n.RecipientID, &n.Kind, &n.PayloadJSON, &n.Status, &errText, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Error = errText.String
		res = append(res, n)
	}
	return res, rows.Err()
}
