package domain

import (
	"strings"
	"time"
)

// CompanionID is the reserved sender identity of the companion in chat timelines.
const CompanionID = "companion"

type Status string

const (
	StatusCreated              Status = "created"
	StatusSent                 Status = "sent"
	StatusReceived             Status = "received"
	StatusInProgress           Status = "in-progress"
	StatusAwaitingVerification Status = "awaiting-verification"
	StatusCompleted            Status = "completed"
	StatusExpired              Status = "expired"
	StatusCancelled            Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusCreated,
	StatusSent,
	StatusReceived,
	StatusInProgress,
	StatusAwaitingVerification,
	StatusCompleted,
	StatusExpired,
	StatusCancelled,
}

// Terminal reports whether no further engine-driven transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus matches wire values exactly; status strings are case-sensitive.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", NewValidationError("status", "unknown status "+v)
	}
	return s, nil
}

// NonTerminalStatuses returns every status the scheduler may still act on.
func NonTerminalStatuses() []Status {
	var out []Status
	for _, s := range Statuses {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}

type MotivationStyle string

const (
	MotivationSupportive  MotivationStyle = "supportive"
	MotivationCompetitive MotivationStyle = "competitive"
	MotivationPlayful     MotivationStyle = "playful"
	MotivationStrict      MotivationStyle = "strict"
)

type CommunicationFrequency string

const (
	FrequencyHigh   CommunicationFrequency = "high"
	FrequencyMedium CommunicationFrequency = "medium"
	FrequencyLow    CommunicationFrequency = "low"
)

type ReminderTone string

const (
	ToneGentle  ReminderTone = "gentle"
	ToneFirm    ReminderTone = "firm"
	TonePlayful ReminderTone = "playful"
)

type Personality struct {
	MotivationStyle        MotivationStyle        `json:"motivation_style" yaml:"motivation_style" enum:"supportive,competitive,playful,strict"`
	CommunicationFrequency CommunicationFrequency `json:"communication_frequency" yaml:"communication_frequency" enum:"high,medium,low"`
	ReminderTone           ReminderTone           `json:"reminder_tone" yaml:"reminder_tone" enum:"gentle,firm,playful"`
}

// DefaultPersonality fills unset personality fields.
func DefaultPersonality(p Personality) Personality {
	if p.MotivationStyle == "" {
		p.MotivationStyle = MotivationSupportive
	}
	if p.CommunicationFrequency == "" {
		p.CommunicationFrequency = FrequencyMedium
	}
	if p.ReminderTone == "" {
		p.ReminderTone = ToneGentle
	}
	return p
}

func (p Personality) Validate() error {
	switch p.MotivationStyle {
	case MotivationSupportive, MotivationCompetitive, MotivationPlayful, MotivationStrict:
	default:
		return NewValidationError("personality.motivation_style", "unknown motivation style "+string(p.MotivationStyle))
	}
	switch p.CommunicationFrequency {
	case FrequencyHigh, FrequencyMedium, FrequencyLow:
	default:
		return NewValidationError("personality.communication_frequency", "unknown communication frequency "+string(p.CommunicationFrequency))
	}
	switch p.ReminderTone {
	case ToneGentle, ToneFirm, TonePlayful:
	default:
		return NewValidationError("personality.reminder_tone", "unknown reminder tone "+string(p.ReminderTone))
	}
	return nil
}

type TaskType string

const (
	TaskFitness  TaskType = "fitness"
	TaskHabit    TaskType = "habit"
	TaskLearning TaskType = "learning"
	TaskCreative TaskType = "creative"
	TaskChore    TaskType = "chore"
	TaskCustom   TaskType = "custom"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskFitness, TaskHabit, TaskLearning, TaskCreative, TaskChore, TaskCustom:
		return true
	}
	return false
}

type RequirementType string

const (
	RequirementStepCount       RequirementType = "step-count"
	RequirementExerciseMinutes RequirementType = "exercise-minutes"
	RequirementDistance        RequirementType = "distance"
	RequirementCalories        RequirementType = "calories"
	RequirementPhoto           RequirementType = "photo"
	RequirementVideo           RequirementType = "video"
	RequirementText            RequirementType = "text"
)

// Numeric reports whether requirements of this type measure a quantity.
func (t RequirementType) Numeric() bool {
	switch t {
	case RequirementStepCount, RequirementExerciseMinutes, RequirementDistance, RequirementCalories:
		return true
	}
	return false
}

func (t RequirementType) Valid() bool {
	switch t {
	case RequirementPhoto, RequirementVideo, RequirementText:
		return true
	}
	return t.Numeric()
}

type VerificationMethod string

const (
	VerifyAutomatic VerificationMethod = "automatic"
	VerifyPhoto     VerificationMethod = "photo"
	VerifyVideo     VerificationMethod = "video"
	VerifyManual    VerificationMethod = "manual"
	VerifyLocation  VerificationMethod = "location"
	VerifyNone      VerificationMethod = "none"
)

func (m VerificationMethod) Valid() bool {
	switch m {
	case VerifyAutomatic, VerifyPhoto, VerifyVideo, VerifyManual, VerifyLocation, VerifyNone:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending     VerificationStatus = "pending"
	VerificationApproved    VerificationStatus = "approved"
	VerificationRejected    VerificationStatus = "rejected"
	VerificationNeedsReview VerificationStatus = "needs-review"
)

type Requirement struct {
	Type        RequirementType `json:"type" enum:"step-count,exercise-minutes,distance,calories,photo,video,text"`
	Target      Value           `json:"target"`
	Unit        string          `json:"unit,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Validate enforces that numeric requirement types carry a numeric target.
func (r Requirement) Validate() error {
	if !r.Type.Valid() {
		return NewValidationError("requirement.type", "unknown requirement type "+string(r.Type))
	}
	if r.Type.Numeric() {
		v, ok := r.Target.Numeric()
		if !ok {
			return NewValidationError("requirement.target", string(r.Type)+" requires a numeric target")
		}
		if v <= 0 {
			return NewValidationError("requirement.target", string(r.Type)+" target must be positive")
		}
	}
	return nil
}

type SubmissionType string

const (
	SubmissionPhoto SubmissionType = "photo"
	SubmissionVideo SubmissionType = "video"
	SubmissionText  SubmissionType = "text"
	SubmissionData  SubmissionType = "data"
)

func (t SubmissionType) Valid() bool {
	switch t {
	case SubmissionPhoto, SubmissionVideo, SubmissionText, SubmissionData:
		return true
	}
	return false
}

// MetadataRequirement tags a data submission with the requirement type it measures.
const MetadataRequirement = "requirement"

type Submission struct {
	Type      SubmissionType    `json:"type" enum:"photo,video,text,data"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s Submission) Validate() error {
	if !s.Type.Valid() {
		return NewValidationError("submission.type", "unknown submission type "+string(s.Type))
	}
	if s.Type != SubmissionText && strings.TrimSpace(s.Content) == "" {
		return NewValidationError("submission.content", string(s.Type)+" submission requires content")
	}
	return nil
}

// FitnessSnapshot is the observed activity for a recipient over a delivery's window.
type FitnessSnapshot struct {
	Steps           float64   `json:"steps"`
	ExerciseMinutes float64   `json:"exercise_minutes"`
	Distance        float64   `json:"distance"`
	Calories        float64   `json:"calories"`
	CollectedAt     time.Time `json:"collected_at"`
}

// Metric returns the observed value for a numeric requirement type.
func (f FitnessSnapshot) Metric(t RequirementType) (float64, bool) {
	switch t {
	case RequirementStepCount:
		return f.Steps, true
	case RequirementExerciseMinutes:
		return f.ExerciseMinutes, true
	case RequirementDistance:
		return f.Distance, true
	case RequirementCalories:
		return f.Calories, true
	}
	return 0, false
}

type Progress struct {
	Completed          bool               `json:"completed"`
	Percentage         int                `json:"percentage" minimum:"0" maximum:"100"`
	Submissions        []Submission       `json:"submissions"`
	VerificationStatus VerificationStatus `json:"verification_status" enum:"pending,approved,rejected,needs-review"`
	LastUpdated        time.Time          `json:"last_updated"`
	Fitness            *FitnessSnapshot   `json:"fitness,omitempty"`
}

type Task struct {
	Type               TaskType           `json:"type" enum:"fitness,habit,learning,creative,chore,custom"`
	Title              string             `json:"title,omitempty"`
	Description        string             `json:"description,omitempty"`
	Requirements       []Requirement      `json:"requirements"`
	VerificationMethod VerificationMethod `json:"verification_method" enum:"automatic,photo,video,manual,location,none"`
	Deadline           *time.Time         `json:"deadline,omitempty"`
	Progress           Progress           `json:"progress"`
}

func (t Task) Validate() error {
	if !t.Type.Valid() {
		return NewValidationError("task.type", "unknown task type "+string(t.Type))
	}
	if len(t.Requirements) == 0 {
		return NewValidationError("task.requirements", "at least one requirement is required")
	}
	for _, r := range t.Requirements {
		if err := r.Validate(); err != nil {
			return err
		}
		if t.Type == TaskFitness && !r.Type.Numeric() {
			return NewValidationError("task.requirements", "fitness tasks only accept measured requirements, got "+string(r.Type))
		}
	}
	if !t.VerificationMethod.Valid() {
		return NewValidationError("task.verification_method", "unknown verification method "+string(t.VerificationMethod))
	}
	return nil
}

type Reward struct {
	Type       string     `json:"type"`
	Value      Value      `json:"value"`
	IsRedeemed bool       `json:"is_redeemed"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageAudio  MessageType = "audio"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageSystem:
		return true
	}
	return false
}

type ChatMetadata struct {
	Emotion       string `json:"emotion,omitempty"`
	Motivation    string `json:"motivation,omitempty"`
	TaskReference string `json:"task_reference,omitempty"`
}

type ChatMessage struct {
	ID         int64         `json:"id"`
	DeliveryID string        `json:"delivery_id"`
	SenderID   string        `json:"sender_id"`
	Content    string        `json:"content"`
	Type       MessageType   `json:"type" enum:"text,image,audio,system"`
	Timestamp  time.Time     `json:"timestamp"`
	Metadata   *ChatMetadata `json:"metadata,omitempty"`
}

// FromCompanion reports whether the message was written by the companion.
func (m ChatMessage) FromCompanion() bool {
	return m.SenderID == CompanionID
}

// Conversational reports whether the message is part of the participant and
// companion conversation. Engine status notes are not.
func (m ChatMessage) Conversational() bool {
	return m.Type != MessageSystem
}

type Delivery struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Status      Status        `json:"status" enum:"created,sent,received,in-progress,awaiting-verification,completed,expired,cancelled"`
	Personality Personality   `json:"personality"`
	Task        Task          `json:"task"`
	Reward      Reward        `json:"reward"`
	Chat        []ChatMessage `json:"chat,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	ViewedAt    *time.Time    `json:"viewed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     int64         `json:"version"`
}

// Participant reports whether userID is the sender or the recipient.
func (d Delivery) Participant(userID string) bool {
	return userID != "" && (userID == d.SenderID || userID == d.RecipientID)
}

type NotificationKind string

const (
	NotifyNewDelivery     NotificationKind = "new-delivery"
	NotifyReminder        NotificationKind = "reminder"
	NotifyDeadlineWarning NotificationKind = "deadline-warning"
	NotifyMilestone       NotificationKind = "milestone"
	NotifyExpired         NotificationKind = "expired"
)

type NotificationRequest struct {
	RecipientID string           `json:"recipient_id"`
	Kind        NotificationKind `json:"kind"`
	DeliveryID  string           `json:"delivery_id"`
	Payload     map[string]any   `json:"payload,omitempty"`
}

type User struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Email       string      `json:"email,omitempty"`
	Preferences Preferences `json:"preferences"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DeliveryID string `json:"delivery_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type NotificationRecord struct {
	ID          int64            `json:"id"`
	DeliveryID  string           `json:"delivery_id"`
	RecipientID string           `json:"recipient_id"`
	Kind        NotificationKind `json:"kind"`
	PayloadJSON string           `json:"payload_json"`
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
}
