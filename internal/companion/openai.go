package companion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"badgerline/internal/domain"
)

const maxHistory = 12

// OpenAI writes companion messages with a chat completion model.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIWithBaseURL targets an OpenAI-compatible endpoint.
func NewOpenAIWithBaseURL(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(p)}}
	history := p.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.FromCompanion() {
			role = openai.ChatMessageRoleAssistant
		}
		if m.Type == domain.MessageSystem {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: instruction(p)})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   200,
		Temperature: 0.8,
	})
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "companion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &domain.CollaboratorError{Collaborator: "companion", Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

func systemPrompt(p Prompt) string {
	var b strings.Builder
	b.WriteString("You are a badger: a small, persistent companion who keeps someone company until they finish a task and earn a reward. ")
	fmt.Fprintf(&b, "Your motivation style is %s and your reminder tone is %s. ", p.Personality.MotivationStyle, p.Personality.ReminderTone)
	fmt.Fprintf(&b, "The task is a %s task", p.Task.Type)
	if p.Task.Title != "" {
		fmt.Fprintf(&b, " called %q", p.Task.Title)
	}
	if p.Task.Description != "" {
		fmt.Fprintf(&b, ": %s", p.Task.Description)
	}
	fmt.Fprintf(&b, ". Current progress is %d%%. Reply in at most two short sentences.", p.Percentage)
	return b.String()
}

func instruction(p Prompt) string {
	switch p.Purpose {
	case PurposeGreeting:
		return "Introduce yourself and the task."
	case PurposeReminder:
		return "It has been a while since the last update. Write a reminder."
	case PurposeProgress:
		return fmt.Sprintf("React to the new progress of %d%%.", p.Percentage)
	case PurposeCompletion:
		return "The task is complete. Celebrate."
	case PurposeExpired:
		return "The task expired before it was finished. Say goodbye."
	}
	return p.Message
}
