package engine

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"badgerline/internal/companion"
	"badgerline/internal/domain"
	"badgerline/internal/events"
	"badgerline/internal/lifecycle"
	"badgerline/internal/progress"
	"badgerline/internal/storage"
	"badgerline/internal/validation"
)

// SubmitRequest carries evidence from the recipient. Files are uploaded
// first and join the batch as submissions referencing their URL.
type SubmitRequest struct {
	DeliveryID  string
	ActorID     string
	Submissions []domain.Submission
	Files       []storage.File
	IfVersion   int64
}

type SubmitResult struct {
	Delivery      domain.Delivery      `json:"delivery"`
	Progress      progress.Result      `json:"progress"`
	Uploaded      []string             `json:"uploaded,omitempty"`
	FailedUploads []string             `json:"failed_uploads,omitempty"`
	Messages      []domain.ChatMessage `json:"messages,omitempty"`
}

func (e Engine) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	var res SubmitResult
	if len(req.Submissions) == 0 && len(req.Files) == 0 {
		return res, domain.NewValidationError("submissions", "at least one submission or file is required")
	}
	if err := validation.Submissions(req.Submissions); err != nil {
		return res, err
	}
	kinds := make([]domain.SubmissionType, len(req.Files))
	for i, f := range req.Files {
		kind, err := fileSubmissionType(f)
		if err != nil {
			return res, err
		}
		kinds[i] = kind
	}
	d, err := e.Repo.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return res, err
	}
	if err := requireRecipient(d, req.ActorID); err != nil {
		return res, err
	}
	if d.Status.Terminal() {
		return res, &domain.TransitionError{From: d.Status, To: domain.StatusInProgress}
	}

	batch := append([]domain.Submission(nil), req.Submissions...)
	var uploadErr error
	for i, f := range req.Files {
		url, err := e.upload(ctx, d.ID, f)
		if err != nil {
			e.logger().Printf("engine: upload %s for %s failed: %v", f.Name, d.ID, err)
			res.FailedUploads = append(res.FailedUploads, f.Name)
			uploadErr = err
			continue
		}
		res.Uploaded = append(res.Uploaded, url)
		batch = append(batch, domain.Submission{
			Type:     kinds[i],
			Content:  url,
			Metadata: map[string]string{"file_name": f.Name, "content_type": f.ContentType},
		})
	}
	if len(batch) == 0 {
		return res, uploadErr
	}

	out, msgs, err := e.mutate(ctx, req.DeliveryID, req.ActorID, req.IfVersion, func(cur domain.Delivery) (*change, error) {
		if cur.Status.Terminal() {
			return nil, &domain.TransitionError{From: cur.Status, To: domain.StatusInProgress}
		}
		p, result := progress.Append(cur.Task, batch, e.now())
		res.Progress = result
		return e.advance(ctx, cur, p, result, events.EventPayload{"submissions": len(batch)})
	})
	if err != nil {
		return res, err
	}
	res.Delivery = out
	res.Messages = msgs
	return res, nil
}

func (e Engine) upload(ctx context.Context, deliveryID string, f storage.File) (string, error) {
	if e.Storage == nil {
		return "", &domain.CollaboratorError{Collaborator: "storage", Err: errors.New("no storage configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	return e.Storage.Upload(ctx, deliveryID, f)
}

func fileSubmissionType(f storage.File) (domain.SubmissionType, error) {
	if len(f.Data) == 0 {
		return "", domain.NewValidationError("files", fmt.Sprintf("file %q is empty", f.Name))
	}
	mediaType, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		return "", domain.NewValidationError("files", fmt.Sprintf("file %q has invalid content type %q", f.Name, f.ContentType))
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return domain.SubmissionPhoto, nil
	case strings.HasPrefix(mediaType, "video/"):
		return domain.SubmissionVideo, nil
	}
	return "", domain.NewValidationError("files", fmt.Sprintf("file %q must be an image or video, got %s", f.Name, mediaType))
}

// FitnessResult reports a sync. Degraded means the fitness source failed and
// the last stored snapshot was used without changing the delivery.
type FitnessResult struct {
	Delivery domain.Delivery        `json:"delivery"`
	Snapshot domain.FitnessSnapshot `json:"snapshot"`
	Progress progress.Result        `json:"progress"`
	Degraded bool                   `json:"degraded"`
}

// SyncFitness pulls the recipient's activity since the delivery was created
// and re-evaluates a fitness task against it.
func (e Engine) SyncFitness(ctx context.Context, deliveryID, actorID string) (FitnessResult, error) {
	var res FitnessResult
	d, err := e.Repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return res, err
	}
	if err := requireParticipant(d, actorID); err != nil {
		return res, err
	}
	if d.Task.Type != domain.TaskFitness {
		return res, domain.NewValidationError("task.type", fmt.Sprintf("delivery %s is a %s task, not fitness", d.ID, d.Task.Type))
	}
	if d.Status.Terminal() {
		return res, &domain.TransitionError{From: d.Status, To: domain.StatusInProgress}
	}
	snap, err := e.fetchSnapshot(ctx, d)
	if err != nil {
		e.logger().Printf("engine: fitness sync for %s degraded: %v", d.ID, err)
		res.Delivery = d
		res.Degraded = true
		if d.Task.Progress.Fitness != nil {
			res.Snapshot = *d.Task.Progress.Fitness
		}
		res.Progress = progress.Evaluate(d.Task, d.Task.Progress.Submissions, d.Task.Progress.Fitness)
		return res, nil
	}
	res.Snapshot = snap
	out, _, err := e.mutate(ctx, deliveryID, actorID, 0, func(cur domain.Delivery) (*change, error) {
		if cur.Status.Terminal() {
			return nil, &domain.TransitionError{From: cur.Status, To: domain.StatusInProgress}
		}
		p, result := progress.WithSnapshot(cur.Task, snap, e.now())
		res.Progress = result
		return e.advance(ctx, cur, p, result, events.EventPayload{
			"steps":            snap.Steps,
			"exercise_minutes": snap.ExerciseMinutes,
			"distance":         snap.Distance,
			"calories":         snap.Calories,
		})
	})
	if err != nil {
		return res, err
	}
	res.Delivery = out
	return res, nil
}

func (e Engine) fetchSnapshot(ctx context.Context, d domain.Delivery) (domain.FitnessSnapshot, error) {
	if e.Fitness == nil {
		return domain.FitnessSnapshot{}, &domain.CollaboratorError{Collaborator: "fitness", Err: errors.New("no fitness source configured")}
	}
	now := e.now()
	from := d.CreatedAt
	if e.Config != nil && e.Config.Fitness.Lookback > 0 {
		if floor := now.Add(-e.Config.Fitness.Lookback); from.Before(floor) {
			from = floor
		}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	return e.Fitness.Snapshot(ctx, d.RecipientID, from, now)
}

// advance stores new progress and moves the delivery along: evidence starts
// work on a sent or received delivery, and a complete result asks for
// verification, which automatic tasks pass at once.
func (e Engine) advance(ctx context.Context, cur domain.Delivery, p domain.Progress, result progress.Result, payload events.EventPayload) (*change, error) {
	now := e.now()
	next := cur
	next.Task.Progress = p
	next.UpdatedAt = now
	c := &change{delivery: next}

	if next.Status == domain.StatusSent {
		next, _ = lifecycle.MarkReceived(next, now)
		c.event(events.DeliveryTransition, events.EventPayload{"from_status": domain.StatusSent, "to_status": next.Status, "implicit": true})
	}
	if next.Status == domain.StatusReceived {
		var err error
		if next, err = lifecycle.Apply(next, domain.StatusInProgress, now); err != nil {
			return nil, err
		}
		c.event(events.DeliveryTransition, events.EventPayload{"from_status": domain.StatusReceived, "to_status": next.Status})
	}
	if result.Completed && next.Status == domain.StatusInProgress {
		var err error
		if next, err = lifecycle.Apply(next, domain.StatusAwaitingVerification, now); err != nil {
			return nil, err
		}
		c.event(events.DeliveryTransition, events.EventPayload{"from_status": domain.StatusInProgress, "to_status": next.Status})
	}
	if result.Completed && next.Status == domain.StatusAwaitingVerification && next.Task.VerificationMethod == domain.VerifyAutomatic {
		var err error
		if next, err = lifecycle.Apply(next, domain.StatusCompleted, now); err != nil {
			return nil, err
		}
		c.event(events.DeliveryTransition, events.EventPayload{"from_status": domain.StatusAwaitingVerification, "to_status": next.Status, "automatic": true})
	}
	c.delivery = next

	payload["percentage"] = p.Percentage
	payload["completed"] = p.Completed
	c.event(events.ProgressUpdated, payload)
	c.say(SystemActor, domain.MessageSystem, fmt.Sprintf("Progress updated: %d%%.", p.Percentage), &domain.ChatMetadata{TaskReference: cur.ID})

	before := cur.Task.Progress.Percentage
	if next.Status == domain.StatusCompleted {
		e.celebrate(ctx, c, before)
		return c, nil
	}
	if p.Percentage != before {
		c.say(domain.CompanionID, domain.MessageText, e.say(ctx, companion.Prompt{
			Purpose:     companion.PurposeProgress,
			Personality: cur.Personality,
			Task:        next.Task,
			Percentage:  p.Percentage,
		}), &domain.ChatMetadata{Emotion: "encouraging", Motivation: string(cur.Personality.MotivationStyle)})
	}
	e.milestoneNotices(c, before, p.Percentage)
	return c, nil
}

// celebrate adds the completion message and any milestones crossed on the way
// to 100%.
func (e Engine) celebrate(ctx context.Context, c *change, before int) {
	d := c.delivery
	c.say(domain.CompanionID, domain.MessageText, e.say(ctx, companion.Prompt{
		Purpose:     companion.PurposeCompletion,
		Personality: d.Personality,
		Task:        d.Task,
		Percentage:  100,
	}), &domain.ChatMetadata{Emotion: "proud"})
	e.milestoneNotices(c, before, 100)
}

func (e Engine) milestoneNotices(c *change, before, after int) {
	d := c.delivery
	for _, m := range progress.CrossedMilestones(before, after, e.milestones()) {
		for _, who := range []string{d.RecipientID, d.SenderID} {
			c.notify = append(c.notify, domain.NotificationRequest{
				RecipientID: who,
				Kind:        domain.NotifyMilestone,
				DeliveryID:  d.ID,
				Payload:     map[string]any{"milestone": m, "percentage": after, "status": string(d.Status)},
			})
		}
	}
}
