package server

import (
	"time"

	"badgerline/internal/domain"
	"badgerline/internal/engine"
	"badgerline/internal/storage"
)

// Request payloads

type PersonalityRequest struct {
	MotivationStyle        string `json:"motivation_style,omitempty" enum:"supportive,competitive,playful,strict"`
	CommunicationFrequency string `json:"communication_frequency,omitempty" enum:"high,medium,low"`
	ReminderTone           string `json:"reminder_tone,omitempty" enum:"gentle,firm,playful"`
}

type RequirementRequest struct {
	Type        string       `json:"type" enum:"step-count,exercise-minutes,distance,calories,photo,video,text"`
	Target      domain.Value `json:"target,omitempty"`
	Unit        string       `json:"unit,omitempty"`
	Description string       `json:"description,omitempty"`
}

type TaskRequest struct {
	Type               string               `json:"type" enum:"fitness,habit,learning,creative,chore,custom"`
	Title              string               `json:"title,omitempty"`
	Description        string               `json:"description,omitempty"`
	Requirements       []RequirementRequest `json:"requirements" minItems:"1"`
	VerificationMethod string               `json:"verification_method" enum:"automatic,photo,video,manual,location,none"`
	Deadline           *time.Time           `json:"deadline,omitempty"`
}

type RewardRequest struct {
	Type  string       `json:"type"`
	Value domain.Value `json:"value,omitempty"`
}

type CreateDeliveryRequest struct {
	ID          *string             `json:"id,omitempty"`
	RecipientID string              `json:"recipient_id"`
	Personality *PersonalityRequest `json:"personality,omitempty"`
	Task        TaskRequest         `json:"task"`
	Reward      RewardRequest       `json:"reward"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

type TransitionRequest struct {
	Status    string `json:"status" enum:"created,sent,received,in-progress,awaiting-verification,completed,expired,cancelled"`
	IfVersion int64  `json:"if_version,omitempty" minimum:"0"`
}

type SubmissionRequest struct {
	Type      string            `json:"type" enum:"photo,video,text,data"`
	Content   string            `json:"content"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type FileRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data" doc:"base64-encoded file content"`
}

type SubmitRequest struct {
	Submissions []SubmissionRequest `json:"submissions,omitempty"`
	Files       []FileRequest       `json:"files,omitempty"`
	IfVersion   int64               `json:"if_version,omitempty" minimum:"0"`
}

type ChatRequest struct {
	Content  string               `json:"content"`
	Type     string               `json:"type,omitempty" enum:"text,image,audio"`
	Metadata *domain.ChatMetadata `json:"metadata,omitempty"`
}

type PreferencesRequest struct {
	CommunicationFrequency *string `json:"communication_frequency,omitempty" enum:"high,medium,low,"`
	BadgerReminders        *bool   `json:"badger_reminders,omitempty"`
	DeadlineWarnings       *bool   `json:"deadline_warnings,omitempty"`
	Milestones             *bool   `json:"milestones,omitempty"`
}

type UpdateMeRequest struct {
	Name        *string             `json:"name,omitempty"`
	Email       *string             `json:"email,omitempty"`
	Preferences *PreferencesRequest `json:"preferences,omitempty"`
}

// Response payloads

type paginatedDeliveries struct {
	Items      []domain.Delivery `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type ChatMessagesResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func (r CreateDeliveryRequest) options(senderID string) engine.CreateDeliveryOptions {
	opts := engine.CreateDeliveryOptions{
		SenderID:    senderID,
		RecipientID: r.RecipientID,
		Task:        r.Task.task(),
		Reward:      domain.Reward{Type: r.Reward.Type, Value: r.Reward.Value},
		ExpiresAt:   r.ExpiresAt,
	}
	if r.ID != nil {
		opts.ID = *r.ID
	}
	if p := r.Personality; p != nil {
		opts.Personality = domain.Personality{
			MotivationStyle:        domain.MotivationStyle(p.MotivationStyle),
			CommunicationFrequency: domain.CommunicationFrequency(p.CommunicationFrequency),
			ReminderTone:           domain.ReminderTone(p.ReminderTone),
		}
	}
	return opts
}

func (t TaskRequest) task() domain.Task {
	out := domain.Task{
		Type:               domain.TaskType(t.Type),
		Title:              t.Title,
		Description:        t.Description,
		VerificationMethod: domain.VerificationMethod(t.VerificationMethod),
		Deadline:           t.Deadline,
	}
	for _, r := range t.Requirements {
		out.Requirements = append(out.Requirements, domain.Requirement{
			Type:        domain.RequirementType(r.Type),
			Target:      r.Target,
			Unit:        r.Unit,
			Description: r.Description,
		})
	}
	return out
}

func (r SubmitRequest) submissions() []domain.Submission {
	out := make([]domain.Submission, 0, len(r.Submissions))
	for _, s := range r.Submissions {
		sub := domain.Submission{Type: domain.SubmissionType(s.Type), Content: s.Content, Metadata: s.Metadata}
		if s.Timestamp != nil {
			sub.Timestamp = s.Timestamp.UTC()
		}
		out = append(out, sub)
	}
	return out
}

func (r SubmitRequest) files() []storage.File {
	var out []storage.File
	for _, f := range r.Files {
		out = append(out, storage.File{Name: f.Name, ContentType: f.ContentType, Data: f.Data})
	}
	return out
}

func (r PreferencesRequest) updates() []domain.PreferenceUpdate {
	var out []domain.PreferenceUpdate
	if r.CommunicationFrequency != nil {
		out = append(out, domain.WithCommunicationFrequency(domain.CommunicationFrequency(*r.CommunicationFrequency)))
	}
	if r.BadgerReminders != nil {
		out = append(out, domain.WithBadgerReminders(*r.BadgerReminders))
	}
	if r.DeadlineWarnings != nil {
		out = append(out, domain.WithDeadlineWarnings(*r.DeadlineWarnings))
	}
	if r.Milestones != nil {
		out = append(out, domain.WithMilestones(*r.Milestones))
	}
	return out
}

func nonNilDeliveries(items []domain.Delivery) []domain.Delivery {
	if items == nil {
		return []domain.Delivery{}
	}
	return items
}
