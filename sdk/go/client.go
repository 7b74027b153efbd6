package badgersdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Badgerline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

// Requirement is one condition of a task. Target is a number or a string.
type Requirement struct {
	Type        string `json:"type"`
	Target      any    `json:"target,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

type Submission struct {
	Type      string            `json:"type"`
	Content   string            `json:"content"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Progress struct {
	Percentage         int          `json:"percentage"`
	VerificationStatus string       `json:"verification_status"`
	Submissions        []Submission `json:"submissions"`
	LastUpdated        time.Time    `json:"last_updated"`
}

type Task struct {
	Type               string        `json:"type"`
	Title              string        `json:"title,omitempty"`
	Description        string        `json:"description,omitempty"`
	Requirements       []Requirement `json:"requirements"`
	VerificationMethod string        `json:"verification_method"`
	Deadline           *time.Time    `json:"deadline,omitempty"`
	Progress           *Progress     `json:"progress,omitempty"`
}

type Reward struct {
	Type       string     `json:"type"`
	Value      any        `json:"value,omitempty"`
	IsRedeemed bool       `json:"is_redeemed,omitempty"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

type Personality struct {
	MotivationStyle        string `json:"motivation_style,omitempty"`
	CommunicationFrequency string `json:"communication_frequency,omitempty"`
	ReminderTone           string `json:"reminder_tone,omitempty"`
}

type ChatMessage struct {
	ID         int64     `json:"id"`
	DeliveryID string    `json:"delivery_id"`
	SenderID   string    `json:"sender_id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Delivery represents the API delivery model (partial).
type Delivery struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"sender_id"`
	RecipientID string        `json:"recipient_id"`
	Status      string        `json:"status"`
	Version     int64         `json:"version"`
	Personality Personality   `json:"personality"`
	Task        Task          `json:"task"`
	Reward      Reward        `json:"reward"`
	Chat        []ChatMessage `json:"chat,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// CreateDeliveryInput is the body of a create call.
type CreateDeliveryInput struct {
	RecipientID string       `json:"recipient_id"`
	Personality *Personality `json:"personality,omitempty"`
	Task        Task         `json:"task"`
	Reward      Reward       `json:"reward"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

// File is evidence uploaded with a submission. Data is sent base64-encoded.
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

type SubmitResult struct {
	Delivery      Delivery `json:"delivery"`
	Uploaded      []string `json:"uploaded,omitempty"`
	FailedUploads []string `json:"failed_uploads,omitempty"`
	Progress      struct {
		Completed  bool `json:"completed"`
		Percentage int  `json:"percentage"`
	} `json:"progress"`
}

type FitnessResult struct {
	Delivery Delivery       `json:"delivery"`
	Snapshot map[string]any `json:"snapshot"`
	Degraded bool           `json:"degraded"`
}

type ChatPage struct {
	Messages []ChatMessage `json:"messages"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"has_more"`
}

type ChatAnalytics struct {
	MessageCount               int     `json:"message_count"`
	ParticipantMessageCount    int     `json:"participant_message_count"`
	AverageResponseTimeSeconds int64   `json:"average_response_time_seconds"`
	MessagesPerDay             float64 `json:"messages_per_day"`
	EngagementLevel            string  `json:"engagement_level"`
}

type User struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Preferences struct {
		CommunicationFrequency string `json:"communication_frequency,omitempty"`
		Notifications          struct {
			BadgerReminders  bool `json:"badger_reminders"`
			DeadlineWarnings bool `json:"deadline_warnings"`
			Milestones       bool `json:"milestones"`
		} `json:"notifications"`
	} `json:"preferences"`
}

// PreferencesInput carries field-level preference updates; nil fields are
// left unchanged.
type PreferencesInput struct {
	CommunicationFrequency *string `json:"communication_frequency,omitempty"`
	BadgerReminders        *bool   `json:"badger_reminders,omitempty"`
	DeadlineWarnings       *bool   `json:"deadline_warnings,omitempty"`
	Milestones             *bool   `json:"milestones,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	DeliveryID string `json:"delivery_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedDeliveries wraps list responses with cursors.
type PaginatedDeliveries struct {
	Items      []Delivery `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateDelivery creates and sends a delivery from the token's subject.
func (c *Client) CreateDelivery(ctx context.Context, in CreateDeliveryInput) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodPost, "deliveries", in, &resp)
	return resp, err
}

// ListDeliveries lists deliveries; role is "", "sender" or "recipient".
func (c *Client) ListDeliveries(ctx context.Context, role string, statuses []string, limit int, cursor string) (PaginatedDeliveries, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedDeliveries
	err := c.do(ctx, http.MethodGet, withQuery("deliveries", q), nil, &resp)
	return resp, err
}

// GetDelivery views a delivery. The recipient's first view marks it received.
func (c *Client) GetDelivery(ctx context.Context, id string) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodGet, deliveryPath(id, ""), nil, &resp)
	return resp, err
}

// Transition requests a status change. A non-zero ifVersion pins the
// version the caller last saw.
func (c *Client) Transition(ctx context.Context, id, status string, ifVersion int64) (Delivery, error) {
	body := map[string]any{"status": status}
	if ifVersion > 0 {
		body["if_version"] = ifVersion
	}
	var resp Delivery
	err := c.do(ctx, http.MethodPost, deliveryPath(id, "status"), body, &resp)
	return resp, err
}

// Submit sends evidence for a delivery.
func (c *Client) Submit(ctx context.Context, id string, submissions []Submission, files []File) (SubmitResult, error) {
	body := map[string]any{}
	if len(submissions) > 0 {
		body["submissions"] = submissions
	}
	if len(files) > 0 {
		body["files"] = files
	}
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, deliveryPath(id, "submissions"), body, &resp)
	return resp, err
}

// SyncFitness pulls a fitness snapshot for a delivery's recipient.
func (c *Client) SyncFitness(ctx context.Context, id string) (FitnessResult, error) {
	var resp FitnessResult
	err := c.do(ctx, http.MethodPost, deliveryPath(id, "fitness-sync"), nil, &resp)
	return resp, err
}

// SendChat posts a message; reply asks the companion to answer.
func (c *Client) SendChat(ctx context.Context, id, content string, reply bool) ([]ChatMessage, error) {
	endpoint := deliveryPath(id, "chat")
	if reply {
		endpoint += "?reply=true"
	}
	var resp struct {
		Messages []ChatMessage `json:"messages"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"content": content}, &resp)
	return resp.Messages, err
}

// ReadChat returns one page of the timeline; page 1 is the most recent.
func (c *Client) ReadChat(ctx context.Context, id string, page, limit int) (ChatPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp ChatPage
	err := c.do(ctx, http.MethodGet, withQuery(deliveryPath(id, "chat"), q), nil, &resp)
	return resp, err
}

func (c *Client) ChatAnalytics(ctx context.Context, id string) (ChatAnalytics, error) {
	var resp ChatAnalytics
	err := c.do(ctx, http.MethodGet, deliveryPath(id, "chat/analytics"), nil, &resp)
	return resp, err
}

// RedeemReward confirms redemption; the token needs the payments role.
func (c *Client) RedeemReward(ctx context.Context, id string) (Delivery, error) {
	var resp Delivery
	err := c.do(ctx, http.MethodPost, deliveryPath(id, "reward/redeem"), nil, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "users/me", nil, &resp)
	return resp, err
}

func (c *Client) UpdatePreferences(ctx context.Context, in PreferencesInput) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPatch, "users/me", map[string]any{"preferences": in}, &resp)
	return resp, err
}

// EventsPage returns a paginated audit listing for a delivery.
func (c *Client) EventsPage(ctx context.Context, id string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(deliveryPath(id, "events"), q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func deliveryPath(id, sub string) string {
	p := "deliveries/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
