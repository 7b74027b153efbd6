package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"badgerline/internal/domain"
	"badgerline/internal/repo"
)

// Outbox stores dispatch outcomes.
type Outbox interface {
	InsertNotification(ctx context.Context, n domain.NotificationRecord) (int64, error)
}

// Recorder dispatches through Next and writes every outcome to the outbox.
// The dispatch error is returned unchanged; a failed write is only logged.
type Recorder struct {
	Next   Dispatcher
	Outbox Outbox
	Now    func() time.Time
	Logger *log.Logger
}

func (r Recorder) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	err := r.Next.Dispatch(ctx, req)
	r.record(ctx, req, err)
	return err
}

// Skip records a request that was not sent because the recipient opted out.
func (r Recorder) Skip(ctx context.Context, req domain.NotificationRequest, reason string) {
	r.write(ctx, req, repo.NotificationSkipped, reason)
}

func (r Recorder) record(ctx context.Context, req domain.NotificationRequest, err error) {
	if err != nil {
		r.write(ctx, req, repo.NotificationFailed, err.Error())
		return
	}
	r.write(ctx, req, repo.NotificationSent, "")
}

func (r Recorder) write(ctx context.Context, req domain.NotificationRequest, status, errText string) {
	if r.Outbox == nil {
		return
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	payload := "{}"
	if len(req.Payload) > 0 {
		if data, err := json.Marshal(req.Payload); err == nil {
			payload = string(data)
		}
	}
	_, err := r.Outbox.InsertNotification(context.WithoutCancel(ctx), domain.NotificationRecord{
		DeliveryID:  req.DeliveryID,
		RecipientID: req.RecipientID,
		Kind:        req.Kind,
		PayloadJSON: payload,
		Status:      status,
		Error:       errText,
		CreatedAt:   repo.FormatTime(now()),
	})
	if err != nil {
		r.logger().Printf("notify: record %s for %s failed: %v", req.Kind, req.DeliveryID, err)
	}
}

func (r Recorder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
