package companion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"badgerline/internal/domain"
)

type Purpose string

const (
	PurposeGreeting   Purpose = "greeting"
	PurposeReply      Purpose = "reply"
	PurposeReminder   Purpose = "reminder"
	PurposeProgress   Purpose = "progress"
	PurposeCompletion Purpose = "completion"
	PurposeExpired    Purpose = "expired"
)

// Prompt is what the companion knows when it writes a message.
type Prompt struct {
	Purpose     Purpose
	Personality domain.Personality
	Task        domain.Task
	Percentage  int
	History     []domain.ChatMessage
	Message     string
}

// Generator produces companion text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// GenerateOrFallback bounds g by timeout and returns canned text when it
// fails, times out or returns nothing. The second result reports whether the
// fallback was used.
func GenerateOrFallback(ctx context.Context, g Generator, p Prompt, timeout time.Duration, logger *log.Logger) (string, bool) {
	if g == nil {
		return Fallback(p), true
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := g.Generate(ctx, p)
	if err != nil {
		if logger == nil {
			logger = log.Default()
		}
		logger.Printf("companion: %s generation failed, using fallback: %v", p.Purpose, err)
		return Fallback(p), true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Fallback(p), true
	}
	return text, false
}

// Fallback returns canned text for a purpose, voiced by the reminder tone.
func Fallback(p Prompt) string {
	title := p.Task.Title
	if title == "" {
		title = "your task"
	}
	tone := p.Personality.ReminderTone
	switch p.Purpose {
	case PurposeGreeting:
		switch tone {
		case domain.ToneFirm:
			return fmt.Sprintf("I'm your badger. %s is waiting and I will keep asking until it's done.", capitalize(title))
		case domain.TonePlayful:
			return fmt.Sprintf("Surprise! I'm your badger and I've brought a challenge: %s. Ready?", title)
		}
		return fmt.Sprintf("Hi! I'm your badger. Whenever you're ready, let's work on %s together.", title)
	case PurposeReminder:
		switch tone {
		case domain.ToneFirm:
			return fmt.Sprintf("Checking in. %s is still open. Time to get it done.", capitalize(title))
		case domain.TonePlayful:
			return fmt.Sprintf("*pokes you* %s isn't going to finish itself!", capitalize(title))
		}
		return fmt.Sprintf("Just a gentle nudge about %s. You've got this.", title)
	case PurposeProgress:
		return fmt.Sprintf("Progress on %s: %d%%.", title, p.Percentage)
	case PurposeCompletion:
		return fmt.Sprintf("You did it! %s is complete.", capitalize(title))
	case PurposeExpired:
		return fmt.Sprintf("Time ran out on %s. This badger is heading home.", title)
	}
	switch tone {
	case domain.ToneFirm:
		return "Noted. Let's keep moving."
	case domain.TonePlayful:
		return "Ha! Tell me more while you keep going."
	}
	return "Thanks for telling me. I'm here whenever you need me."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
