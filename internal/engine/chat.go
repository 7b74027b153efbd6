package engine

import (
	"context"
	"fmt"
	"strings"

	"badgerline/internal/chat"
	"badgerline/internal/companion"
	"badgerline/internal/domain"
	"badgerline/internal/events"
)

type AppendChatRequest struct {
	DeliveryID string
	SenderID   string
	Content    string
	Type       domain.MessageType
	Metadata   *domain.ChatMetadata
}

// AppendChat adds a participant message to the timeline. Messages are stamped
// by the server and never reordered; the delivery version is left alone.
func (e Engine) AppendChat(ctx context.Context, req AppendChatRequest) (domain.ChatMessage, error) {
	if req.Type == "" {
		req.Type = domain.MessageText
	}
	if err := validateMessage(req); err != nil {
		return domain.ChatMessage{}, err
	}
	msgs, err := e.appendChat(ctx, req.DeliveryID, req.SenderID, []domain.ChatMessage{{
		SenderID: req.SenderID,
		Content:  req.Content,
		Type:     req.Type,
		Metadata: req.Metadata,
	}})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return msgs[0], nil
}

// Converse appends a participant message followed by a companion reply. The
// reply falls back to canned text when the text provider is unavailable.
func (e Engine) Converse(ctx context.Context, req AppendChatRequest) ([]domain.ChatMessage, error) {
	if req.Type == "" {
		req.Type = domain.MessageText
	}
	if err := validateMessage(req); err != nil {
		return nil, err
	}
	d, err := e.Repo.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(d, req.SenderID); err != nil {
		return nil, err
	}
	history, err := e.Repo.ListChat(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	reply := e.say(ctx, companion.Prompt{
		Purpose:     companion.PurposeReply,
		Personality: d.Personality,
		Task:        d.Task,
		Percentage:  d.Task.Progress.Percentage,
		History:     chat.Page(history, 1, e.pageLimit()),
		Message:     req.Content,
	})
	return e.appendChat(ctx, d.ID, req.SenderID, []domain.ChatMessage{
		{SenderID: req.SenderID, Content: req.Content, Type: req.Type, Metadata: req.Metadata},
		{SenderID: domain.CompanionID, Content: reply, Type: domain.MessageText, Metadata: &domain.ChatMetadata{
			Motivation:    string(d.Personality.MotivationStyle),
			TaskReference: d.ID,
		}},
	})
}

func validateMessage(req AppendChatRequest) error {
	switch req.Type {
	case domain.MessageText, domain.MessageImage, domain.MessageAudio:
	case domain.MessageSystem:
		return domain.NewValidationError("type", "system messages are written by the engine")
	default:
		return domain.NewValidationError("type", "unknown message type "+string(req.Type))
	}
	if strings.TrimSpace(req.Content) == "" {
		return domain.NewValidationError("content", "message content is required")
	}
	if req.SenderID == domain.CompanionID {
		return domain.NewValidationError("sender_id", domain.CompanionID+" is reserved")
	}
	return nil
}

// appendChat writes messages under the delivery lock without touching the
// delivery row.
func (e Engine) appendChat(ctx context.Context, deliveryID, actorID string, msgs []domain.ChatMessage) ([]domain.ChatMessage, error) {
	unlock := e.lock(deliveryID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDeliveryTx(ctx, tx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(d, actorID); err != nil {
		return nil, err
	}
	saved, err := e.appendChatTx(ctx, tx, deliveryID, msgs)
	if err != nil {
		return nil, err
	}
	if err := e.writer().Append(ctx, tx, events.ChatAppended, deliveryID, "chat", fmt.Sprint(saved[0].ID), actorID, events.EventPayload{
		"messages": len(saved),
		"type":     saved[0].Type,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

// ChatPage is one page of a timeline, oldest message first.
type ChatPage struct {
	Messages []domain.ChatMessage `json:"messages"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
	Total    int                  `json:"total"`
	HasMore  bool                 `json:"has_more"`
}

// ReadChat pages backwards from the newest message. Page 1 is the most recent.
func (e Engine) ReadChat(ctx context.Context, deliveryID string, page, limit int) (ChatPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = e.pageLimit()
	}
	if _, err := e.Repo.GetDelivery(ctx, deliveryID); err != nil {
		return ChatPage{}, err
	}
	msgs, err := e.Repo.ListChat(ctx, deliveryID)
	if err != nil {
		return ChatPage{}, err
	}
	return ChatPage{
		Messages: chat.Page(msgs, page, limit),
		Page:     page,
		Limit:    limit,
		Total:    len(msgs),
		HasMore:  page*limit < len(msgs),
	}, nil
}

func (e Engine) ChatAnalytics(ctx context.Context, deliveryID string) (chat.Analytics, error) {
	if _, err := e.Repo.GetDelivery(ctx, deliveryID); err != nil {
		return chat.Analytics{}, err
	}
	msgs, err := e.Repo.ListChat(ctx, deliveryID)
	if err != nil {
		return chat.Analytics{}, err
	}
	th := chat.DefaultThresholds()
	if e.Config != nil {
		th = e.Config.Chat.Engagement
	}
	return chat.Analyze(msgs, e.now(), th), nil
}

func (e Engine) pageLimit() int {
	if e.Config != nil && e.Config.Chat.PageLimit > 0 {
		return e.Config.Chat.PageLimit
	}
	return chat.DefaultLimit
}

// Remind writes a companion reminder into the timeline in the delivery's
// reminder tone.
func (e Engine) Remind(ctx context.Context, d domain.Delivery) (domain.ChatMessage, error) {
	text := e.say(ctx, companion.Prompt{
		Purpose:     companion.PurposeReminder,
		Personality: d.Personality,
		Task:        d.Task,
		Percentage:  d.Task.Progress.Percentage,
	})
	msgs, err := e.appendChat(ctx, d.ID, SystemActor, []domain.ChatMessage{{
		SenderID: domain.CompanionID,
		Content:  text,
		Type:     domain.MessageText,
		Metadata: &domain.ChatMetadata{Emotion: string(d.Personality.ReminderTone), TaskReference: d.ID},
	}})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return msgs[0], nil
}
