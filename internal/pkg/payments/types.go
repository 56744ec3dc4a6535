package payments

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event types delivered by the processor.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// Processor-side subscription states.
const (
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
)

// Subscription is the processor's recurring billing object.
type Subscription struct {
	ID                 string            `json:"id"`
	CustomerID         string            `json:"customer"`
	Status             string            `json:"status"`
	PriceID            string            `json:"price"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	ClientSecret       string            `json:"client_secret,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// PeriodStart returns the billing period start as a time, or nil when unset.
func (s *Subscription) PeriodStart() *time.Time {
	return unixOrNil(s.CurrentPeriodStart)
}

// PeriodEnd returns the billing period end as a time, or nil when unset.
func (s *Subscription) PeriodEnd() *time.Time {
	return unixOrNil(s.CurrentPeriodEnd)
}

func unixOrNil(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// Invoice is the processor's record of a single charge.
type Invoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription"`
	CustomerID     string `json:"customer"`
	AmountPaid     int64  `json:"amount_paid"`
	Currency       string `json:"currency"`
	Paid           bool   `json:"paid"`
}

// CheckoutSession is what the client needs to drive the interactive payment
// step for a freshly created (still incomplete) subscription.
type CheckoutSession struct {
	SubscriptionID string    `json:"subscription_id"`
	CustomerID     string    `json:"customer_id"`
	ClientSecret   string    `json:"client_secret"`
	Status         string    `json:"status"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Event is the envelope of a processor webhook callback or event-history item.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Subscription decodes the event payload as a subscription object.
func (e *Event) Subscription() (*Subscription, error) {
	var sub Subscription
	if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription from event %s: %w", e.ID, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("event %s carries no subscription id", e.ID)
	}
	return &sub, nil
}

// Invoice decodes the event payload as an invoice object.
func (e *Event) Invoice() (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(e.Data.Object, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice from event %s: %w", e.ID, err)
	}
	if inv.ID == "" {
		return nil, fmt.Errorf("event %s carries no invoice id", e.ID)
	}
	return &inv, nil
}

// ParseEvent decodes a raw webhook body into an event envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("webhook payload missing event type")
	}
	return &event, nil
}

// APIError is a structured rejection from the processor. Its message is
// assumed user-safe and may be surfaced verbatim.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor rejected request: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}
