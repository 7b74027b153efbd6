package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"badgerline/internal/companion"
	"badgerline/internal/domain"
	"badgerline/internal/events"
	"badgerline/internal/lifecycle"
	"badgerline/internal/repo"
	"badgerline/internal/validation"
)

// CreateDeliveryOptions are parameters for creating and sending a delivery.
type CreateDeliveryOptions struct {
	ID          string
	SenderID    string
	RecipientID string
	Personality domain.Personality
	Task        domain.Task
	Reward      domain.Reward
	ExpiresAt   *time.Time
}

// CreateDelivery persists a new delivery, sends it, greets the recipient in
// chat and notifies them.
func (e Engine) CreateDelivery(ctx context.Context, opts CreateDeliveryOptions) (domain.Delivery, error) {
	opts.SenderID = strings.TrimSpace(opts.SenderID)
	opts.RecipientID = strings.TrimSpace(opts.RecipientID)
	if opts.SenderID == "" {
		return domain.Delivery{}, domain.NewValidationError("sender_id", "sender is required")
	}
	if opts.RecipientID == "" {
		return domain.Delivery{}, domain.NewValidationError("recipient_id", "recipient is required")
	}
	if opts.SenderID == opts.RecipientID {
		return domain.Delivery{}, domain.NewValidationError("recipient_id", "sender and recipient must differ")
	}
	if opts.RecipientID == domain.CompanionID || opts.SenderID == domain.CompanionID {
		return domain.Delivery{}, domain.NewValidationError("recipient_id", domain.CompanionID+" is reserved")
	}
	personality := domain.DefaultPersonality(opts.Personality)
	if err := personality.Validate(); err != nil {
		return domain.Delivery{}, err
	}
	if err := validation.Task(opts.Task); err != nil {
		return domain.Delivery{}, err
	}
	if strings.TrimSpace(opts.Reward.Type) == "" {
		return domain.Delivery{}, domain.NewValidationError("reward.type", "reward type is required")
	}
	now := e.now()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return domain.Delivery{}, domain.NewValidationError("expires_at", "must be in the future")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	task := opts.Task
	task.Progress = domain.Progress{
		Submissions:        []domain.Submission{},
		VerificationStatus: domain.VerificationPending,
		LastUpdated:        now,
	}
	reward := opts.Reward
	reward.IsRedeemed = false
	reward.RedeemedAt = nil
	d := domain.Delivery{
		ID:          opts.ID,
		SenderID:    opts.SenderID,
		RecipientID: opts.RecipientID,
		Status:      domain.StatusCreated,
		Personality: personality,
		Task:        task,
		Reward:      reward,
		ExpiresAt:   opts.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	greeting := e.say(ctx, companion.Prompt{Purpose: companion.PurposeGreeting, Personality: personality, Task: task})

	unlock := e.lock(d.ID)
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDelivery(ctx, tx, d); err != nil {
		return d, fmt.Errorf("insert delivery: %w", err)
	}
	w := e.writer()
	if err := w.Append(ctx, tx, events.DeliveryCreated, d.ID, "delivery", d.ID, d.SenderID, events.EventPayload{
		"recipient_id": d.RecipientID,
		"task_type":    d.Task.Type,
	}); err != nil {
		return d, err
	}
	sent, err := lifecycle.Send(d, now)
	if err != nil {
		return d, err
	}
	if sent.Version, err = e.Repo.CompareAndSwapDelivery(ctx, tx, sent, d.Version); err != nil {
		return d, err
	}
	if err := w.Append(ctx, tx, events.DeliverySent, d.ID, "delivery", d.ID, d.SenderID, events.EventPayload{
		"from_status": d.Status,
		"to_status":   sent.Status,
	}); err != nil {
		return d, err
	}
	msgs, err := e.appendChatTx(ctx, tx, d.ID, []domain.ChatMessage{{
		SenderID: domain.CompanionID,
		Content:  greeting,
		Type:     domain.MessageText,
		Metadata: &domain.ChatMetadata{Motivation: string(personality.MotivationStyle)},
	}})
	if err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	sent.Chat = msgs
	e.dispatchAll(ctx, []domain.NotificationRequest{{
		RecipientID: sent.RecipientID,
		Kind:        domain.NotifyNewDelivery,
		DeliveryID:  sent.ID,
		Payload:     map[string]any{"sender_id": sent.SenderID, "message": greeting},
	}})
	return sent, nil
}

// GetDelivery returns a delivery with its full chat timeline.
func (e Engine) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	d, err := e.Repo.GetDelivery(ctx, id)
	if err != nil {
		return d, err
	}
	if d.Chat, err = e.Repo.ListChat(ctx, id); err != nil {
		return d, err
	}
	return d, nil
}

// ViewDelivery is the read path for participants. The recipient's first view
// of a sent delivery moves it to received.
func (e Engine) ViewDelivery(ctx context.Context, id, viewerID string) (domain.Delivery, error) {
	d, err := e.Repo.GetDelivery(ctx, id)
	if err != nil {
		return d, err
	}
	if err := requireParticipant(d, viewerID); err != nil {
		return d, err
	}
	if viewerID == d.RecipientID && (d.ViewedAt == nil || d.Status == domain.StatusSent) {
		_, _, err := e.mutate(ctx, id, viewerID, 0, func(cur domain.Delivery) (*change, error) {
			next, changed := lifecycle.MarkReceived(cur, e.now())
			if !changed {
				return nil, nil
			}
			c := &change{delivery: next}
			c.event(events.DeliveryViewed, events.EventPayload{"from_status": cur.Status, "to_status": next.Status})
			return c, nil
		})
		if err != nil {
			return d, err
		}
	}
	return e.GetDelivery(ctx, id)
}

// ListDeliveries returns deliveries newest first.
func (e Engine) ListDeliveries(ctx context.Context, f repo.DeliveryFilters) ([]domain.Delivery, error) {
	return e.Repo.ListDeliveries(ctx, f)
}

// TransitionRequest asks for a user-initiated status change. IfVersion pins
// the version the caller last saw; zero means the latest.
type TransitionRequest struct {
	DeliveryID string
	Status     domain.Status
	ActorID    string
	IfVersion  int64
}

func (e Engine) Transition(ctx context.Context, req TransitionRequest) (domain.Delivery, error) {
	if !req.Status.Valid() {
		return domain.Delivery{}, domain.NewValidationError("status", "unknown status "+string(req.Status))
	}
	d, _, err := e.mutate(ctx, req.DeliveryID, req.ActorID, req.IfVersion, func(cur domain.Delivery) (*change, error) {
		if err := requireParticipant(cur, req.ActorID); err != nil {
			return nil, err
		}
		next, err := lifecycle.Apply(cur, req.Status, e.now())
		if err != nil {
			return nil, err
		}
		c := &change{delivery: next}
		c.event(events.DeliveryTransition, events.EventPayload{"from_status": cur.Status, "to_status": next.Status})
		c.say(SystemActor, domain.MessageSystem, fmt.Sprintf("Status changed from %s to %s.", cur.Status, next.Status), nil)
		if next.Status == domain.StatusCompleted {
			e.celebrate(ctx, c, cur.Task.Progress.Percentage)
		}
		return c, nil
	})
	return d, err
}

// ForceExpire expires a non-terminal delivery regardless of the transition
// table. The scheduler passes ifVersion 0 so the expiry wins a race with a
// user write; a pinned version reports the conflict instead.
func (e Engine) ForceExpire(ctx context.Context, id, reason string, ifVersion int64) (domain.Delivery, error) {
	d, _, err := e.mutate(ctx, id, SystemActor, ifVersion, func(cur domain.Delivery) (*change, error) {
		next, err := lifecycle.ForceExpire(cur, e.now())
		if err != nil {
			return nil, err
		}
		c := &change{delivery: next}
		c.event(events.DeliveryExpired, events.EventPayload{"from_status": cur.Status, "reason": reason})
		c.say(SystemActor, domain.MessageSystem, "Delivery expired: "+reason+".", nil)
		c.say(domain.CompanionID, domain.MessageText, e.say(ctx, companion.Prompt{
			Purpose:     companion.PurposeExpired,
			Personality: cur.Personality,
			Task:        cur.Task,
			Percentage:  cur.Task.Progress.Percentage,
		}), &domain.ChatMetadata{Emotion: "sad"})
		for _, who := range []string{cur.RecipientID, cur.SenderID} {
			c.notify = append(c.notify, domain.NotificationRequest{
				RecipientID: who,
				Kind:        domain.NotifyExpired,
				DeliveryID:  cur.ID,
				Payload:     map[string]any{"reason": reason, "percentage": cur.Task.Progress.Percentage},
			})
		}
		return c, nil
	})
	return d, err
}

// ConfirmRedemption records the payment collaborator's confirmation. It
// succeeds once, and only for completed deliveries.
func (e Engine) ConfirmRedemption(ctx context.Context, id, actorID string) (domain.Delivery, error) {
	d, _, err := e.mutate(ctx, id, actorID, 0, func(cur domain.Delivery) (*change, error) {
		if cur.Status != domain.StatusCompleted {
			return nil, domain.NewValidationError("reward", fmt.Sprintf("delivery %s is %s, not completed", cur.ID, cur.Status))
		}
		if cur.Reward.IsRedeemed {
			return nil, fmt.Errorf("delivery %s: %w", cur.ID, domain.ErrAlreadyRedeemed)
		}
		now := e.now()
		next := cur
		next.Reward.IsRedeemed = true
		next.Reward.RedeemedAt = &now
		next.UpdatedAt = now
		c := &change{delivery: next}
		c.event(events.RewardRedeemed, events.EventPayload{"reward_type": cur.Reward.Type, "value": cur.Reward.Value.String()})
		c.say(SystemActor, domain.MessageSystem, "Reward redeemed.", nil)
		return c, nil
	})
	return d, err
}

// Summary counts deliveries per status.
func (e Engine) Summary(ctx context.Context) (map[domain.Status]int, error) {
	return e.Repo.CountByStatus(ctx)
}
