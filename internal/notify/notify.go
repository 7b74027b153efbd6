package notify

import (
	"context"
	"errors"
	"fmt"

	"badgerline/internal/domain"
)

// Dispatcher delivers a notification request to an external transport. It
// reports the outcome; retrying is the caller's decision.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.NotificationRequest) error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, req domain.NotificationRequest) error

func (f Func) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	return f(ctx, req)
}

// Discard accepts every request.
type Discard struct{}

func (Discard) Dispatch(context.Context, domain.NotificationRequest) error { return nil }

// Multi fans a request out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func unavailable(name string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.CollaboratorError{Collaborator: name, Err: err}
}

func subject(req domain.NotificationRequest) string {
	switch req.Kind {
	case domain.NotifyNewDelivery:
		return "You have a new badger"
	case domain.NotifyReminder:
		return "Your badger misses you"
	case domain.NotifyDeadlineWarning:
		return "Your badger's deadline is coming up"
	case domain.NotifyMilestone:
		if p, ok := req.Payload["milestone"]; ok {
			return fmt.Sprintf("Milestone reached: %v%%", p)
		}
		return "Milestone reached"
	case domain.NotifyExpired:
		return "Your badger has expired"
	}
	return "Badger update"
}

func message(req domain.NotificationRequest) string {
	if m, ok := req.Payload["message"].(string); ok && m != "" {
		return m
	}
	return subject(req)
}
