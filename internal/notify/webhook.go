package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"badgerline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook posts notification requests as JSON to a fixed URL.
type Webhook struct {
	URL    string
	Secret string
	// Kinds limits the hook to these notification kinds; empty means all.
	Kinds  []string
	Client *http.Client
	Now    func() time.Time
}

type webhookBody struct {
	Kind        domain.NotificationKind `json:"kind"`
	DeliveryID  string                  `json:"delivery_id"`
	RecipientID string                  `json:"recipient_id"`
	Subject     string                  `json:"subject"`
	Payload     map[string]any          `json:"payload,omitempty"`
	TS          string                  `json:"ts"`
}

func (w Webhook) accepts(kind domain.NotificationKind) bool {
	if len(w.Kinds) == 0 {
		return true
	}
	for _, k := range w.Kinds {
		if strings.TrimSpace(k) == string(kind) {
			return true
		}
	}
	return false
}

func (w Webhook) Dispatch(ctx context.Context, req domain.NotificationRequest) error {
	if !w.accepts(req.Kind) {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	data, err := json.Marshal(webhookBody{
		Kind:        req.Kind,
		DeliveryID:  req.DeliveryID,
		RecipientID: req.RecipientID,
		Subject:     subject(req),
		Payload:     req.Payload,
		TS:          now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Badger-Notification", string(req.Kind))
	httpReq.Header.Set("X-Badger-Delivery", req.DeliveryID)
	if strings.TrimSpace(w.Secret) != "" {
		httpReq.Header.Set("X-Badger-Secret", w.Secret)
	}
	res, err := client.Do(httpReq)
	if err != nil {
		return unavailable("webhook", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return unavailable("webhook", fmt.Errorf("%s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}
