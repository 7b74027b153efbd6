package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"badgerline/internal/repo"
)

// Event types written to the audit log.
const (
	DeliveryCreated    = "delivery.created"
	DeliverySent       = "delivery.sent"
	DeliveryViewed     = "delivery.viewed"
	DeliveryTransition = "delivery.transition"
	DeliveryExpired    = "delivery.expired"
	ProgressUpdated    = "progress.updated"
	FitnessSynced      = "fitness.synced"
	ChatAppended       = "chat.appended"
	RewardRedeemed     = "reward.redeemed"
	PreferencesUpdated = "user.preferences_updated"
	UserUpserted       = "user.upserted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside tx so it commits or rolls back with the change
// it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, deliveryID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,delivery_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		repo.FormatTime(w.Now()), evtType, nullable(deliveryID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
