package chat

import (
	"math"
	"time"

	"badgerline/internal/domain"
)

const DefaultLimit = 50

type Engagement string

const (
	EngagementHigh   Engagement = "high"
	EngagementMedium Engagement = "medium"
	EngagementLow    Engagement = "low"
	EngagementNone   Engagement = "none"
)

// Thresholds are messages-per-day lower bounds for the high and medium buckets.
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{High: 3, Medium: 1}
}

type Analytics struct {
	MessageCount               int        `json:"message_count"`
	ParticipantMessageCount    int        `json:"participant_message_count"`
	AverageResponseTimeSeconds int64      `json:"average_response_time_seconds"`
	MessagesPerDay             float64    `json:"messages_per_day"`
	EngagementLevel            Engagement `json:"engagement_level" enum:"high,medium,low,none"`
}

// Page returns one page of a chronological timeline. Page 1 holds the most
// recent limit messages; each page is returned oldest first.
func Page(msgs []domain.ChatMessage, page, limit int) []domain.ChatMessage {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	skip := (page - 1) * limit
	if skip >= len(msgs) {
		return []domain.ChatMessage{}
	}
	end := len(msgs) - skip
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.ChatMessage, end-start)
	copy(out, msgs[start:end])
	return out
}

// NextTimestamp keeps a timeline non-decreasing: a clock that steps back is
// clamped to the last message's timestamp.
func NextTimestamp(last []domain.ChatMessage, now time.Time) time.Time {
	if n := len(last); n > 0 && now.Before(last[n-1].Timestamp) {
		return last[n-1].Timestamp
	}
	return now
}

// LastMessageAt returns the timestamp of the newest conversational message.
func LastMessageAt(msgs []domain.ChatMessage) (time.Time, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Conversational() {
			return msgs[i].Timestamp, true
		}
	}
	return time.Time{}, false
}

// Analyze computes response time and engagement over a full timeline. System
// messages are counted in MessageCount only.
func Analyze(msgs []domain.ChatMessage, now time.Time, th Thresholds) Analytics {
	a := Analytics{MessageCount: len(msgs), EngagementLevel: EngagementNone}
	conv := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Conversational() {
			conv = append(conv, m)
		}
	}
	var total time.Duration
	pairs := 0
	for i, m := range conv {
		if m.FromCompanion() {
			continue
		}
		a.ParticipantMessageCount++
		if i+1 < len(conv) && conv[i+1].FromCompanion() {
			total += conv[i+1].Timestamp.Sub(m.Timestamp)
			pairs++
		}
	}
	if len(conv) >= 2 && pairs > 0 {
		a.AverageResponseTimeSeconds = int64(math.Round(total.Seconds() / float64(pairs)))
	}
	if len(conv) == 0 {
		return a
	}
	days := math.Floor(now.Sub(conv[0].Timestamp).Hours() / 24)
	if days < 1 {
		days = 1
	}
	a.MessagesPerDay = float64(a.ParticipantMessageCount) / days
	a.EngagementLevel = level(a.MessagesPerDay, th)
	return a
}

func level(perDay float64, th Thresholds) Engagement {
	switch {
	case perDay >= th.High:
		return EngagementHigh
	case perDay >= th.Medium:
		return EngagementMedium
	case perDay > 0:
		return EngagementLow
	}
	return EngagementNone
}
