package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"badgerline/internal/domain"
)

// InsertChatMessage appends m and returns it with its assigned id.
func (r Repo) InsertChatMessage(ctx context.Context, tx *sql.Tx, m domain.ChatMessage) (domain.ChatMessage, error) {
	var meta any
	if m.Metadata != nil {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return m, fmt.Errorf("encode chat metadata: %w", err)
		}
		meta = string(data)
	}
	res, err := r.on(tx).ExecContext(ctx, `INSERT INTO chat_messages(delivery_id,sender_id,content,type,ts,metadata_json) VALUES (?,?,?,?,?,?)`,
		m.DeliveryID, m.SenderID, m.Content, string(m.Type), FormatTime(m.Timestamp), meta)
	if err != nil {
		return m, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return m, err
	}
	m.ID = id
	return m, nil
}

// ListChat returns the full timeline of a delivery in append order.
func (r Repo) ListChat(ctx context.Context, deliveryID string) ([]domain.ChatMessage, error) {
	return r.ListChatTx(ctx, nil, deliveryID)
}

func (r Repo) ListChatTx(ctx context.Context, tx *sql.Tx, deliveryID string) ([]domain.ChatMessage, error) {
	rows, err := r.on(tx).QueryContext(ctx, `SELECT id,delivery_id,sender_id,content,type,ts,metadata_json FROM chat_messages WHERE delivery_id=? ORDER BY ts ASC, id ASC`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var ts string
		var meta sql.NullString
		if err := rows.Scan(&m.ID, &m.DeliveryID, &m.SenderID, &m.Content, &m.Type, &ts, &meta); err != nil {
			return nil, err
		}
		if m.Timestamp, err = ParseTime(ts); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			m.Metadata = &domain.ChatMetadata{}
			if err := json.Unmarshal([]byte(meta.String), m.Metadata); err != nil {
				return nil, fmt.Errorf("decode chat metadata %d: %w", m.ID, err)
			}
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// LastChatAt returns the newest message timestamp of a delivery.
func (r Repo) LastChatAt(ctx context.Context, tx *sql.Tx, deliveryID string) (time.Time, bool, error) {
	var ts sql.NullString
	if err := r.on(tx).QueryRowContext(ctx, `SELECT MAX(ts) FROM chat_messages WHERE delivery_id=?`, deliveryID).Scan(&ts); err != nil {
		return time.Time{}, false, err
	}
	if !ts.Valid || ts.String == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseTime(ts.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
