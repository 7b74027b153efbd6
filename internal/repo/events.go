package repo

import (
	"context"
	"database/sql"
	"fmt"

	"badgerline/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(delivery_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) LatestEvents(ctx context.Context, limit int, deliveryID, evtType string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, deliveryID, evtType)
}

// LatestEventsFrom returns events newest first, below the cursor id when set.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, deliveryID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var clauses []string
	var args []any
	if deliveryID != "" {
		clauses = append(clauses, "delivery_id=?")
		args = append(args, deliveryID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id DESC LIMIT ?`, eventColumns, whereClause(clauses))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, deliveryID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var clauses []string
	var args []any
	if deliveryID != "" {
		clauses = append(clauses, "delivery_id=?")
		args = append(args, deliveryID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY id ASC LIMIT ?`, eventColumns, whereClause(clauses))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DeliveryID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
