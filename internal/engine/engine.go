package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"badgerline/internal/companion"
	"badgerline/internal/config"
	"badgerline/internal/domain"
	"badgerline/internal/events"
	"badgerline/internal/fitness"
	"badgerline/internal/notify"
	"badgerline/internal/repo"
	"badgerline/internal/storage"
)

// SystemActor is recorded for writes the engine makes on its own behalf.
const SystemActor = "system"

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Now       func() time.Time
	Notifier  notify.Dispatcher
	Companion companion.Generator
	Fitness   fitness.Source
	Storage   storage.Uploader
	Logger    *log.Logger

	locks *keyedMutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Now:      time.Now,
		Notifier: notify.Discard{},
		Storage:  storage.Unavailable{},
		locks:    newKeyedMutex(),
	}
}

// writer stamps events with the engine clock.
func (e Engine) writer() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) timeout() time.Duration {
	if e.Config != nil && e.Config.Collaborators.Timeout > 0 {
		return e.Config.Collaborators.Timeout
	}
	return 5 * time.Second
}

func (e Engine) lock(id string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.Lock(id)
}

// keyedMutex serializes work per delivery id within this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedEntry{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	ent, ok := k.locks[key]
	if !ok {
		ent = &keyedEntry{}
		k.locks[key] = ent
	}
	ent.refs++
	k.mu.Unlock()

	ent.mu.Lock()
	return func() {
		ent.mu.Unlock()
		k.mu.Lock()
		ent.refs--
		if ent.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

type eventRecord struct {
	typ     string
	payload events.EventPayload
}

// change is what a mutation writes along with the delivery row.
type change struct {
	delivery domain.Delivery
	events   []eventRecord
	chat     []domain.ChatMessage
	notify   []domain.NotificationRequest
}

func (c *change) event(typ string, payload events.EventPayload) {
	c.events = append(c.events, eventRecord{typ: typ, payload: payload})
}

func (c *change) say(senderID string, typ domain.MessageType, content string, meta *domain.ChatMetadata) {
	c.chat = append(c.chat, domain.ChatMessage{
		DeliveryID: c.delivery.ID,
		SenderID:   senderID,
		Content:    content,
		Type:       typ,
		Metadata:   meta,
	})
}

// mutate applies fn to the current delivery and writes the result with a
// compare-and-set on the version. A pinned ifVersion fails fast on mismatch;
// otherwise a lost race is retried once against a fresh read. Notifications
// go out after the delivery lock is released.
func (e Engine) mutate(ctx context.Context, id, actorID string, ifVersion int64, fn func(d domain.Delivery) (*change, error)) (domain.Delivery, []domain.ChatMessage, error) {
	out, msgs, pending, err := e.mutateLocked(ctx, id, actorID, ifVersion, fn)
	if err != nil {
		return out, nil, err
	}
	e.dispatchAll(ctx, pending)
	return out, msgs, nil
}

func (e Engine) mutateLocked(ctx context.Context, id, actorID string, ifVersion int64, fn func(d domain.Delivery) (*change, error)) (domain.Delivery, []domain.ChatMessage, []domain.NotificationRequest, error) {
	unlock := e.lock(id)
	defer unlock()

	attempts := 2
	if ifVersion > 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		d, err := e.Repo.GetDelivery(ctx, id)
		if err != nil {
			return d, nil, nil, err
		}
		if ifVersion > 0 && d.Version != ifVersion {
			return d, nil, nil, fmt.Errorf("delivery %s is at version %d, not %d: %w", id, d.Version, ifVersion, domain.ErrConcurrentModification)
		}
		c, err := fn(d)
		if err != nil {
			return d, nil, nil, err
		}
		if c == nil {
			return d, nil, nil, nil
		}
		out, msgs, err := e.commit(ctx, c, d.Version, actorID)
		if errors.Is(err, domain.ErrConcurrentModification) {
			lastErr = err
			continue
		}
		if err != nil {
			return d, nil, nil, err
		}
		return out, msgs, c.notify, nil
	}
	return domain.Delivery{}, nil, nil, lastErr
}

func (e Engine) commit(ctx context.Context, c *change, expected int64, actorID string) (domain.Delivery, []domain.ChatMessage, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.delivery, nil, err
	}
	defer tx.Rollback()

	version, err := e.Repo.CompareAndSwapDelivery(ctx, tx, c.delivery, expected)
	if err != nil {
		return c.delivery, nil, err
	}
	c.delivery.Version = version
	msgs, err := e.appendChatTx(ctx, tx, c.delivery.ID, c.chat)
	if err != nil {
		return c.delivery, nil, err
	}
	for _, ev := range c.events {
		if err := e.writer().Append(ctx, tx, ev.typ, c.delivery.ID, "delivery", c.delivery.ID, actorID, ev.payload); err != nil {
			return c.delivery, nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return c.delivery, nil, err
	}
	return c.delivery, msgs, nil
}

// appendChatTx stamps and inserts messages so the timeline never goes
// backwards, even when the clock does.
func (e Engine) appendChatTx(ctx context.Context, tx *sql.Tx, deliveryID string, msgs []domain.ChatMessage) ([]domain.ChatMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	last, ok, err := e.Repo.LastChatAt(ctx, tx, deliveryID)
	if err != nil {
		return nil, err
	}
	ts := e.now()
	if ok && ts.Before(last) {
		ts = last
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		m.DeliveryID = deliveryID
		m.Timestamp = ts
		saved, err := e.Repo.InsertChatMessage(ctx, tx, m)
		if err != nil {
			return nil, fmt.Errorf("append chat: %w", err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// dispatchAll sends notifications after the owning write has committed.
// Failures are logged and never surface to the caller.
func (e Engine) dispatchAll(ctx context.Context, reqs []domain.NotificationRequest) {
	for _, req := range reqs {
		if err := e.Notify(ctx, req); err != nil {
			e.logger().Printf("engine: notify %s for %s failed: %v", req.Kind, req.DeliveryID, err)
		}
	}
}

type skipRecorder interface {
	Skip(ctx context.Context, req domain.NotificationRequest, reason string)
}

// Notify dispatches req unless the recipient opted out of its kind. The call
// is bounded by the collaborator timeout.
func (e Engine) Notify(ctx context.Context, req domain.NotificationRequest) error {
	if e.Notifier == nil {
		return nil
	}
	prefs := e.preferences(ctx, req.RecipientID)
	if !prefs.Allows(req.Kind) {
		if s, ok := e.Notifier.(skipRecorder); ok {
			s.Skip(ctx, req, "recipient opted out")
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout())
	defer cancel()
	return e.Notifier.Dispatch(ctx, req)
}

// preferences returns the stored preferences, or the defaults for unknown users.
func (e Engine) preferences(ctx context.Context, userID string) domain.Preferences {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger().Printf("engine: load preferences for %s: %v", userID, err)
		}
		return domain.DefaultPreferences()
	}
	return u.Preferences
}

func (e Engine) say(ctx context.Context, p companion.Prompt) string {
	text, _ := companion.GenerateOrFallback(ctx, e.Companion, p, e.timeout(), e.logger())
	return text
}

func (e Engine) milestones() []int {
	if e.Config == nil {
		return []int{50, 100}
	}
	return e.Config.Progress.Milestones
}

func requireParticipant(d domain.Delivery, actorID string) error {
	if actorID == "" || actorID == SystemActor || d.Participant(actorID) {
		return nil
	}
	return fmt.Errorf("%s is not a participant of delivery %s: %w", actorID, d.ID, domain.ErrForbidden)
}

func requireRecipient(d domain.Delivery, actorID string) error {
	if actorID == "" || actorID == SystemActor || actorID == d.RecipientID {
		return nil
	}
	return fmt.Errorf("only the recipient of delivery %s may do this: %w", d.ID, domain.ErrForbidden)
}
