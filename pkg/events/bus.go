package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// missBufferTTL is how long a disconnected (user, conversation) keeps
	// accumulating missed events before the entry is evicted.
	missBufferTTL = 30 * time.Second

	// missBufferCap bounds each miss buffer; older entries are FIFO-dropped.
	missBufferCap = 100

	// subscriberQueueSize is the per-socket fan-out queue depth. A full
	// queue drops the event for that subscriber (the contract is
	// at-least-once during live attach, not unbounded buffering).
	subscriberQueueSize = 64

	// evictInterval is how often the janitor scans for expired miss buffers.
	evictInterval = 5 * time.Second
)

// Subscriber is one live WebSocket's fan-out queue.
type Subscriber struct {
	UserID         string
	ConversationID int64
	queue          chan *Notification
}

// C returns the receive side of the subscriber's queue.
func (s *Subscriber) C() <-chan *Notification {
	return s.queue
}

type missKey struct {
	userID         string
	conversationID int64
}

type missedEvent struct {
	at time.Time
	n  *Notification
}

type missEntry struct {
	disconnectedAt time.Time
	events         []missedEvent
}

// Bus fans notifications out to all live subscribers of a conversation and
// preserves recent events for brief reconnects of the same (user,
// conversation). The subscriber set and the miss-buffer map are guarded by
// a single mutex.
type Bus struct {
	mu     sync.Mutex
	subs   map[int64]map[*Subscriber]struct{} // conversation id → live subscribers
	missed map[missKey]*missEntry

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[int64]map[*Subscriber]struct{}),
		missed: make(map[missKey]*missEntry),
	}
}

// Start launches the background eviction of expired miss buffers.
func (b *Bus) Start(ctx context.Context) {
	janitorCtx, cancel := context.WithCancel(ctx)
	b.stopJanitor = cancel
	b.janitorDone = make(chan struct{})
	go func() {
		defer close(b.janitorDone)
		ticker := time.NewTicker(evictInterval)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				b.evictExpired()
			}
		}
	}()
}

// Stop halts the janitor.
func (b *Bus) Stop() {
	if b.stopJanitor != nil {
		b.stopJanitor()
		<-b.janitorDone
	}
}

// Subscribe registers a new live subscriber and returns any buffered events
// missed by the same (user, conversation) since its last disconnect, in
// order. The buffer is drained once: a second tab reconnecting later gets
// live traffic only.
func (b *Bus) Subscribe(userID string, conversationID int64) (*Subscriber, []*Notification) {
	sub := &Subscriber{
		UserID:         userID,
		ConversationID: conversationID,
		queue:          make(chan *Notification, subscriberQueueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[*Subscriber]struct{})
	}
	b.subs[conversationID][sub] = struct{}{}

	key := missKey{userID: userID, conversationID: conversationID}
	entry, ok := b.missed[key]
	if !ok {
		return sub, nil
	}
	delete(b.missed, key)

	// The janitor runs on an interval; an entry past the TTL that it has
	// not swept yet still delivers no replay.
	if time.Since(entry.disconnectedAt) > missBufferTTL {
		return sub, nil
	}

	replay := make([]*Notification, 0, len(entry.events))
	for _, ev := range entry.events {
		replay = append(replay, ev.n)
	}
	return sub, replay
}

// Unsubscribe removes a live subscriber and begins buffering missed events
// for its (user, conversation) key.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[sub.ConversationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.ConversationID)
		}
	}

	key := missKey{userID: sub.UserID, conversationID: sub.ConversationID}
	if _, exists := b.missed[key]; !exists {
		b.missed[key] = &missEntry{disconnectedAt: time.Now()}
	}
}

// Broadcast enqueues the notification to every live subscriber of its
// conversation and appends it to any matching miss buffers. Enqueues are
// non-blocking; a full subscriber queue drops the event for that socket.
func (b *Bus) Broadcast(n *Notification) {
	convID := n.conversationID()

	b.mu.Lock()
	targets := make([]*Subscriber, 0, len(b.subs[convID]))
	for sub := range b.subs[convID] {
		targets = append(targets, sub)
	}
	now := time.Now()
	for key, entry := range b.missed {
		if key.conversationID != convID {
			continue
		}
		entry.events = append(entry.events, missedEvent{at: now, n: n})
		if len(entry.events) > missBufferCap {
			entry.events = entry.events[len(entry.events)-missBufferCap:]
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.queue <- n:
		default:
			slog.Warn("Subscriber queue full, dropping notification",
				"conversation_id", convID, "user_id", sub.UserID)
		}
	}
}

// HandleNotify parses a raw NOTIFY payload and broadcasts it. Invoked by
// the NotifyListener for every payload on the chat channel.
func (b *Bus) HandleNotify(payload []byte) {
	n, err := ParseNotification(payload)
	if err != nil {
		slog.Warn("Ignoring malformed NOTIFY payload", "error", err)
		return
	}
	b.Broadcast(n)
}

// evictExpired drops miss-buffer entries older than the TTL.
func (b *Bus) evictExpired() {
	cutoff := time.Now().Add(-missBufferTTL)
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, entry := range b.missed {
		if entry.disconnectedAt.Before(cutoff) {
			delete(b.missed, key)
		}
	}
}

// subscriberCount returns the live subscriber count for a conversation.
// Unexported; used by tests to poll instead of sleeping.
func (b *Bus) subscriberCount(conversationID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}
