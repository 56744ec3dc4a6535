package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Event types emitted by the subscription engine.
const (
	EventSubscriptionSuccess   = "subscriptionSuccess"
	EventSubscriptionCancelled = "subscriptionCancelled"
	EventPaymentSuccess        = "paymentSuccess"
)

const (
	// DefaultOverrideTTL bounds how long an optimistic local override may mask
	// the ledger-derived view while a webhook is still in flight.
	DefaultOverrideTTL = 30 * time.Second
	// DefaultDebounce delays cache invalidation after a publish so a webhook
	// burst collapses into one sweep instead of a thundering herd.
	DefaultDebounce = 500 * time.Millisecond
)

// Payload identifies the subscription a bus event refers to.
type Payload struct {
	UserID      uint `json:"user_id"`
	CreatorID   uint `json:"creator_id"`
	TierID      uint `json:"tier_id"`
	Provisional bool `json:"provisional,omitempty"`
}

// Handler receives published events.
type Handler func(event string, payload Payload)

type override struct {
	tierID      uint
	provisional bool
	expiresAt   time.Time
}

// OverrideState is the client-facing view of a live override. Provisional
// marks overrides set before the ledger confirmed the subscription.
type OverrideState struct {
	TierID      uint
	Provisional bool
}

// Bus is the in-process pub/sub bridge between optimistic client state and
// server-confirmed ledger state. Overrides are never written back to the
// ledger; they expire and reads fall back to canonical state.
type Bus struct {
	mu          sync.Mutex
	handlers    []Handler
	overrides   map[string]override
	overrideTTL time.Duration
	debounce    time.Duration
	pending     map[Payload]struct{}
	timer       *time.Timer
	invalidate  func(payloads []Payload)
	now         func() time.Time
}

// New creates a bus with the default override TTL and debounce window.
func New() *Bus {
	return &Bus{
		overrides:   make(map[string]override),
		overrideTTL: DefaultOverrideTTL,
		debounce:    DefaultDebounce,
		pending:     make(map[Payload]struct{}),
		now:         time.Now,
	}
}

// Subscribe registers a handler for all published events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// OnInvalidate registers the callback fired (debounced) after publishes.
func (b *Bus) OnInvalidate(fn func(payloads []Payload)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidate = fn
}

// Publish delivers an event to all subscribers and schedules a debounced
// invalidation of cached ledger reads.
func (b *Bus) Publish(event string, payload Payload) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.pending[payload] = struct{}{}
	b.scheduleInvalidationLocked()
	b.mu.Unlock()

	log.Debugf("[EventBus] publish %s user=%d creator=%d tier=%d", event, payload.UserID, payload.CreatorID, payload.TierID)
	for _, h := range handlers {
		h(event, payload)
	}
}

func (b *Bus) scheduleInvalidationLocked() {
	if b.invalidate == nil {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.debounce, b.flushInvalidations)
}

func (b *Bus) flushInvalidations() {
	b.mu.Lock()
	fn := b.invalidate
	batch := make([]Payload, 0, len(b.pending))
	for p := range b.pending {
		batch = append(batch, p)
	}
	b.pending = make(map[Payload]struct{})
	b.mu.Unlock()

	if fn != nil && len(batch) > 0 {
		fn(batch)
	}
}

// SetOverride records an optimistic "subscribed" view for a user and creator,
// valid for the override TTL. provisional marks views the ledger has not
// confirmed yet.
func (b *Bus) SetOverride(userID, creatorID, tierID uint, provisional bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[overrideKey(userID, creatorID)] = override{
		tierID:      tierID,
		provisional: provisional,
		expiresAt:   b.now().Add(b.overrideTTL),
	}
}

// ClearOverride drops the override for a user and creator, if any.
func (b *Bus) ClearOverride(userID, creatorID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.overrides, overrideKey(userID, creatorID))
}

// Override returns the override state for a user and creator while the
// override is still fresh. The second return reports presence.
func (b *Bus) Override(userID, creatorID uint) (OverrideState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := overrideKey(userID, creatorID)
	o, ok := b.overrides[key]
	if !ok {
		return OverrideState{}, false
	}
	if b.now().After(o.expiresAt) {
		delete(b.overrides, key)
		return OverrideState{}, false
	}
	return OverrideState{TierID: o.tierID, Provisional: o.provisional}, true
}

func overrideKey(userID, creatorID uint) string {
	return fmt.Sprintf("%d:%d", userID, creatorID)
}
