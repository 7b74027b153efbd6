package lifecycle

import (
	"time"

	"badgerline/internal/domain"
)

// CanTransition reports whether a user or API request may move a delivery
// from one status to another. Forced expiry and the send step are not requests
// and are not covered here.
func CanTransition(from, to domain.Status) bool {
	switch from {
	case domain.StatusSent:
		return to == domain.StatusReceived || to == domain.StatusCancelled
	case domain.StatusReceived:
		return to == domain.StatusInProgress || to == domain.StatusCancelled
	case domain.StatusInProgress:
		return to == domain.StatusAwaitingVerification || to == domain.StatusCancelled
	case domain.StatusAwaitingVerification:
		return to == domain.StatusCompleted || to == domain.StatusInProgress
	}
	return false
}

// Validate returns a *domain.TransitionError when from -> to is not allowed.
func Validate(from, to domain.Status) error {
	if !to.Valid() {
		return domain.NewValidationError("status", "unknown status "+string(to))
	}
	if !CanTransition(from, to) {
		return &domain.TransitionError{From: from, To: to}
	}
	return nil
}

// Apply validates the transition and returns the updated delivery. The input
// is not modified.
func Apply(d domain.Delivery, to domain.Status, now time.Time) (domain.Delivery, error) {
	if err := Validate(d.Status, to); err != nil {
		return d, err
	}
	return enter(d, to, now), nil
}

// Send moves a freshly created delivery to sent.
func Send(d domain.Delivery, now time.Time) (domain.Delivery, error) {
	if d.Status != domain.StatusCreated {
		return d, &domain.TransitionError{From: d.Status, To: domain.StatusSent}
	}
	return enter(d, domain.StatusSent, now), nil
}

// MarkReceived applies the first recipient view: it stamps ViewedAt and moves
// a sent delivery to received. It reports false when nothing changed, so
// repeated views are no-ops.
func MarkReceived(d domain.Delivery, now time.Time) (domain.Delivery, bool) {
	changed := false
	if d.ViewedAt == nil {
		ts := now
		d.ViewedAt = &ts
		d.UpdatedAt = now
		changed = true
	}
	if d.Status == domain.StatusSent {
		d = enter(d, domain.StatusReceived, now)
		changed = true
	}
	return d, changed
}

// ForceExpire moves any non-terminal delivery to expired.
func ForceExpire(d domain.Delivery, now time.Time) (domain.Delivery, error) {
	if d.Status.Terminal() {
		return d, &domain.TransitionError{From: d.Status, To: domain.StatusExpired}
	}
	return enter(d, domain.StatusExpired, now), nil
}

// enter records the verification verdict: completing approves the evidence,
// sending a delivery back from awaiting-verification rejects it.
func enter(d domain.Delivery, to domain.Status, now time.Time) domain.Delivery {
	from := d.Status
	d.Status = to
	d.UpdatedAt = now
	switch {
	case to == domain.StatusCompleted:
		ts := now
		d.CompletedAt = &ts
		d.Task.Progress.Completed = true
		d.Task.Progress.Percentage = 100
		d.Task.Progress.VerificationStatus = domain.VerificationApproved
	case from == domain.StatusAwaitingVerification && to == domain.StatusInProgress:
		d.Task.Progress.VerificationStatus = domain.VerificationRejected
	}
	return d
}

// Targets lists the statuses a request may move from to.
func Targets(from domain.Status) []domain.Status {
	var out []domain.Status
	for _, s := range domain.Statuses {
		if CanTransition(from, s) {
			out = append(out, s)
		}
	}
	return out
}
