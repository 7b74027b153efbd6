package companion_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"badgerline/internal/companion"
	"badgerline/internal/domain"
)

type stubGenerator struct {
	text  string
	err   error
	delay time.Duration
}

func (s stubGenerator) Generate(ctx context.Context, _ companion.Prompt) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestGenerateOrFallback(t *testing.T) {
	p := companion.Prompt{Purpose: companion.PurposeReminder, Personality: domain.Personality{ReminderTone: domain.ToneFirm}, Task: domain.Task{Title: "run 5k"}}
	ctx := context.Background()

	text, fallback := companion.GenerateOrFallback(ctx, stubGenerator{text: " keep going "}, p, time.Second, nil)
	if fallback || text != "keep going" {
		t.Fatalf("expected generated text, got %q fallback=%v", text, fallback)
	}
	text, fallback = companion.GenerateOrFallback(ctx, stubGenerator{err: errors.New("quota")}, p, time.Second, nil)
	if !fallback || text != companion.Fallback(p) {
		t.Fatalf("expected fallback on error, got %q", text)
	}
	text, fallback = companion.GenerateOrFallback(ctx, stubGenerator{text: "late", delay: time.Second}, p, 10*time.Millisecond, nil)
	if !fallback || text != companion.Fallback(p) {
		t.Fatalf("expected fallback on timeout, got %q", text)
	}
	text, fallback = companion.GenerateOrFallback(ctx, nil, p, time.Second, nil)
	if !fallback || !strings.Contains(text, "Run 5k") {
		t.Fatalf("expected firm fallback mentioning the task, got %q", text)
	}
}

func TestFallbackVariesByTone(t *testing.T) {
	seen := map[string]bool{}
	for _, tone := range []domain.ReminderTone{domain.ToneGentle, domain.ToneFirm, domain.TonePlayful} {
		text := companion.Fallback(companion.Prompt{Purpose: companion.PurposeReminder, Personality: domain.Personality{ReminderTone: tone}})
		if text == "" {
			t.Fatalf("%s: empty fallback", tone)
		}
		seen[text] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected distinct text per tone")
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"On it, badger style."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := companion.NewOpenAIWithBaseURL("test-key", "gpt-4o-mini", srv.URL+"/v1")
	text, err := g.Generate(context.Background(), companion.Prompt{
		Purpose: companion.PurposeReply,
		Message: "how am I doing?",
		History: []domain.ChatMessage{
			{SenderID: domain.CompanionID, Content: "hello", Type: domain.MessageText},
			{SenderID: "system", Content: "Progress 50%", Type: domain.MessageSystem},
		},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "On it, badger style." {
		t.Fatalf("unexpected text %q", text)
	}
	if req.Model != "gpt-4o-mini" || len(req.Messages) != 3 {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Messages[1].Role != "assistant" || req.Messages[2].Content != "how am I doing?" {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
}
