package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryStatus classifies how a webhook delivery was handled.
type DeliveryStatus int

const (
	// DeliveryApplied means the event passed all gates and was applied.
	DeliveryApplied DeliveryStatus = iota
	// DeliveryDuplicate means a settled row for the event id already exists.
	DeliveryDuplicate
	// DeliveryUnauthorized means the signature check failed.
	DeliveryUnauthorized
	// DeliveryMalformed means the payload could not be decoded.
	DeliveryMalformed
)

// DeliveryResult reports the handling of one webhook delivery.
type DeliveryResult struct {
	Status  DeliveryStatus
	Changed bool
}

// HandleDelivery runs the full pipeline for one raw webhook delivery:
// signature check, envelope parse, dedup row, event application, processed
// marker. A duplicate short-circuits only when the stored row is settled (an
// authenticated delivery that applied cleanly); rows left behind by a failed
// apply or an unsigned request are processed again, so the processor's
// redelivery after a 5xx actually repairs the ledger instead of being
// acknowledged away.
func (s *Service) HandleDelivery(ctx context.Context, payload []byte, signatureHeader, secret string) (*DeliveryResult, error) {
	signatureValid := payments.VerifySignature(payload, signatureHeader, secret)

	event, parseErr := payments.ParseEvent(payload)
	eventID, eventType := "", ""
	if parseErr == nil {
		eventID, eventType = event.ID, event.Type
	}

	created, stored, err := s.RecordWebhookEvent(eventID, eventType, payload, signatureValid)
	if err != nil {
		// Without the dedup row we cannot guarantee exactly-once application.
		return nil, &PersistenceError{Op: "webhook event record", Err: err}
	}
	if !created && stored.Settled() {
		return &DeliveryResult{Status: DeliveryDuplicate}, nil
	}

	if !signatureValid {
		_ = s.MarkWebhookProcessed(stored.ID, ErrSignatureInvalid)
		return &DeliveryResult{Status: DeliveryUnauthorized}, nil
	}
	if !stored.SignatureValid {
		// The row was seeded by a request that failed authentication; the
		// authenticated delivery owns it from here.
		if err := s.repos.WebhookEvent.MarkSignatureValid(stored.ID); err != nil {
			log.Warnf("[Webhook] could not upgrade signature flag for event %s: %v", stored.ProviderEventID, err)
		}
	}
	if parseErr != nil {
		_ = s.MarkWebhookProcessed(stored.ID, parseErr)
		return &DeliveryResult{Status: DeliveryMalformed}, nil
	}

	changed, applyErr := s.ApplyEvent(ctx, event)
	if markErr := s.MarkWebhookProcessed(stored.ID, applyErr); markErr != nil {
		log.Warnf("[Webhook] could not mark event %s processed: %v", stored.ProviderEventID, markErr)
	}
	if applyErr != nil {
		return nil, applyErr
	}
	return &DeliveryResult{Status: DeliveryApplied, Changed: changed}, nil
}

// RecordWebhookEvent persists a webhook delivery idempotently. A delivery
// without an event id is deduplicated by payload hash.
func (s *Service) RecordWebhookEvent(eventID, eventType string, payload []byte, signatureValid bool) (bool, *models.WebhookEvent, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		sum := sha256.Sum256(payload)
		id = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.WebhookEvent{
		ProviderEventID: id,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     string(payload),
		SignatureValid:  signatureValid,
	}
	return s.repos.WebhookEvent.CreateIfNotExists(event)
}

// MarkWebhookProcessed marks a stored delivery as handled, with the error if
// handling failed.
func (s *Service) MarkWebhookProcessed(webhookEventID uint, processingErr error) error {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repos.WebhookEvent.MarkProcessed(webhookEventID, errMsg)
}

// ApplyEvent is the authoritative write path for processor state. It is
// idempotent by construction: replays and reordered deliveries converge on the
// same ledger row. The returned bool reports whether the ledger changed.
func (s *Service) ApplyEvent(ctx context.Context, event *payments.Event) (bool, error) {
	switch event.Type {
	case payments.EventSubscriptionCreated, payments.EventSubscriptionUpdated:
		remote, err := event.Subscription()
		if err != nil {
			return false, err
		}
		return s.applySubscriptionState(ctx, remote, "")

	case payments.EventSubscriptionDeleted:
		remote, err := event.Subscription()
		if err != nil {
			return false, err
		}
		return s.markCanceled(remote.ID)

	case payments.EventInvoicePaid:
		inv, err := event.Invoice()
		if err != nil {
			return false, err
		}
		return s.handleInvoicePaid(ctx, inv)

	case payments.EventCheckoutCompleted:
		var session struct {
			SubscriptionID string `json:"subscription"`
		}
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return false, fmt.Errorf("decode checkout session from event %s: %w", event.ID, err)
		}
		if session.SubscriptionID == "" {
			return false, nil
		}
		return s.activateExternal(ctx, session.SubscriptionID, nil)

	default:
		// Unknown event types are acknowledged, never failed.
		log.Debugf("[Reconcile] ignoring event type %s (%s)", event.Type, event.ID)
		return false, nil
	}
}

// applySubscriptionState upserts the ledger row for a processor subscription.
// forceStatus overrides the mapped status when a payment event proves the
// subscription live before its create/update event arrived.
func (s *Service) applySubscriptionState(ctx context.Context, remote *payments.Subscription, forceStatus string) (bool, error) {
	existing, err := s.repos.Subscription.GetByExternalID(remote.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, &PersistenceError{Op: "ledger lookup by external id", Err: err}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		existing = nil
	}

	userID, creatorID, tierID := metadataKey(remote.Metadata)
	if existing != nil {
		userID, creatorID, tierID = existing.UserID, existing.CreatorID, existing.TierID
	}
	if userID == 0 || creatorID == 0 || tierID == 0 {
		// No local linkage and no metadata: nothing to reconcile against.
		log.Warnf("[Reconcile] subscription %s carries no usable metadata, skipping", remote.ID)
		return false, nil
	}

	target := forceStatus
	if target == "" {
		target = MapProcessorStatus(remote.Status, remote.CancelAtPeriodEnd)
	}
	if existing != nil && !CanTransition(existing.Status, target) {
		// Most importantly: no path out of canceled. Log, never silently
		// accept, never fail the delivery.
		log.Warnf("[Reconcile] rejected transition %s -> %s for subscription %s", existing.Status, target, remote.ID)
		return false, nil
	}

	row := &models.Subscription{
		UUID:                   uuid.New().String(),
		UserID:                 userID,
		CreatorID:              creatorID,
		TierID:                 tierID,
		Status:                 target,
		ExternalSubscriptionID: remote.ID,
		ExternalCustomerID:     remote.CustomerID,
		CancelAtPeriodEnd:      remote.CancelAtPeriodEnd,
		CurrentPeriodStart:     remote.PeriodStart(),
		CurrentPeriodEnd:       remote.PeriodEnd(),
	}
	if existing != nil {
		row.UUID = existing.UUID
		row.Amount = existing.Amount
		row.Currency = existing.Currency
		if row.CurrentPeriodStart == nil {
			row.CurrentPeriodStart = existing.CurrentPeriodStart
		}
		if row.CurrentPeriodEnd == nil {
			row.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
	}
	if remote.Amount > 0 {
		row.Amount = remote.Amount
	}
	if remote.Currency != "" {
		row.Currency = remote.Currency
	}

	changed := existing == nil ||
		existing.Status != row.Status ||
		existing.Amount != row.Amount ||
		existing.TierID != row.TierID ||
		existing.CancelAtPeriodEnd != row.CancelAtPeriodEnd ||
		!timesEqual(existing.CurrentPeriodEnd, row.CurrentPeriodEnd)

	if err := s.repos.Subscription.UpsertByExternalID(row); err != nil {
		return false, &PersistenceError{Op: "ledger upsert", Err: err}
	}

	if row.IsLive() {
		if cleaned, err := s.repos.Subscription.CleanupDuplicates(row); err != nil {
			log.Warnf("[Reconcile] duplicate cleanup for subscription %s failed: %v", remote.ID, err)
		} else if cleaned > 0 {
			log.Infof("[Reconcile] canceled %d duplicate row(s) for user=%d creator=%d", cleaned, row.UserID, row.CreatorID)
		}
	}

	wasActive := existing != nil && existing.Status == models.SubscriptionStatusActive
	if row.Status == models.SubscriptionStatusActive && !wasActive {
		s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{
			UserID: row.UserID, CreatorID: row.CreatorID, TierID: row.TierID,
		})
	}
	if row.Status == models.SubscriptionStatusCanceled && (existing == nil || existing.Status != models.SubscriptionStatusCanceled) {
		s.bus.Publish(eventbus.EventSubscriptionCancelled, eventbus.Payload{
			UserID: row.UserID, CreatorID: row.CreatorID, TierID: row.TierID,
		})
	}
	return changed, nil
}

// markCanceled is the terminal write for a processor deletion event. It is
// unconditional; nothing reverses it through this path.
func (s *Service) markCanceled(externalID string) (bool, error) {
	sub, err := s.repos.Subscription.GetByExternalID(externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Debugf("[Reconcile] deletion for unknown subscription %s", externalID)
			return false, nil
		}
		return false, &PersistenceError{Op: "ledger lookup by external id", Err: err}
	}
	if sub.IsTerminal() {
		return false, nil
	}

	sub.Status = models.SubscriptionStatusCanceled
	if err := s.repos.Subscription.Update(sub); err != nil {
		return false, &PersistenceError{Op: "terminal cancellation", Err: err}
	}
	s.bus.ClearOverride(sub.UserID, sub.CreatorID)
	s.bus.Publish(eventbus.EventSubscriptionCancelled, eventbus.Payload{
		UserID: sub.UserID, CreatorID: sub.CreatorID, TierID: sub.TierID,
	})
	return true, nil
}

// handleInvoicePaid activates the subscription a successful payment belongs to
// and books the creator's earnings. This is the write that unblocks the
// confirmation handler's polling loop.
func (s *Service) handleInvoicePaid(ctx context.Context, inv *payments.Invoice) (bool, error) {
	if inv.SubscriptionID == "" {
		return false, nil
	}
	return s.activateExternal(ctx, inv.SubscriptionID, inv)
}

// activateExternal transitions the row for an external subscription id to
// active. When no row exists yet (payment event delivered before the create
// event), the subscription object is fetched from the processor so reversed
// delivery order still converges on active.
func (s *Service) activateExternal(ctx context.Context, externalID string, inv *payments.Invoice) (bool, error) {
	sub, err := s.repos.Subscription.GetByExternalID(externalID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, &PersistenceError{Op: "ledger lookup by external id", Err: err}
	}

	changed := false
	if sub == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		remote, fetchErr := s.processor.GetSubscription(ctx, externalID)
		if fetchErr != nil {
			// Critical: without the object we cannot build the row. Fail the
			// delivery so the processor redelivers.
			return false, fmt.Errorf("fetch subscription %s for payment event: %w", externalID, fetchErr)
		}
		changed, err = s.applySubscriptionState(ctx, remote, models.SubscriptionStatusActive)
		if err != nil {
			return false, err
		}
		sub, err = s.repos.Subscription.GetByExternalID(externalID)
		if err != nil {
			return changed, nil
		}
	} else if sub.Status == models.SubscriptionStatusIncomplete || sub.Status == models.SubscriptionStatusPending {
		sub.Status = models.SubscriptionStatusActive
		if err := s.repos.Subscription.Update(sub); err != nil {
			return false, &PersistenceError{Op: "payment activation", Err: err}
		}
		changed = true
		s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{
			UserID: sub.UserID, CreatorID: sub.CreatorID, TierID: sub.TierID,
		})
	}

	if inv != nil && sub != nil {
		// Earnings bookkeeping is an independent concern: its failure is
		// logged and never fails the delivery.
		s.recordEarnings(sub, inv)
	}
	return changed, nil
}

func (s *Service) recordEarnings(sub *models.Subscription, inv *payments.Invoice) {
	if inv.ID == "" || inv.AmountPaid <= 0 {
		return
	}
	feePct := 0.0
	if creator, err := s.repos.Creator.GetByID(sub.CreatorID); err == nil {
		feePct = creator.PlatformFeePct
	} else {
		log.Warnf("[Reconcile] creator %d lookup for earnings failed: %v", sub.CreatorID, err)
	}
	fee := int64(math.Round(float64(inv.AmountPaid) * feePct / 100))

	entry := &models.EarningsEntry{
		CreatorID:         sub.CreatorID,
		SubscriptionID:    sub.ID,
		ExternalInvoiceID: inv.ID,
		GrossAmount:       inv.AmountPaid,
		PlatformFee:       fee,
		NetAmount:         inv.AmountPaid - fee,
		Currency:          inv.Currency,
	}
	if created, err := s.repos.Earnings.CreateIfNotExists(entry); err != nil {
		log.Errorf("[Reconcile] earnings entry for invoice %s failed: %v", inv.ID, err)
	} else if created {
		log.Infof("[Reconcile] booked %d (%s) for creator %d, invoice %s", entry.NetAmount, entry.Currency, entry.CreatorID, inv.ID)
	}
}

// SyncRecent replays the processor's recent event history for a creator into
// the ledger and reports how many rows were repaired. It only creates or
// brings rows current; it never deletes based on absence from the bounded
// history.
func (s *Service) SyncRecent(ctx context.Context, creatorID uint, limit int) (int, error) {
	if creatorID == 0 {
		return 0, ErrInvalidRequest
	}
	creator, err := s.repos.Creator.GetByID(creatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: unknown creator %d", ErrInvalidRequest, creatorID)
		}
		return 0, &PersistenceError{Op: "creator lookup", Err: err}
	}

	events, err := s.processor.ListRecentEvents(ctx, creator.ExternalAccountID, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	// History arrives newest first; replay oldest first so the ledger walks
	// the same path the webhooks would have.
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		changed, err := s.ApplyEvent(ctx, &event)
		if err != nil {
			log.Errorf("[Sync] replay of event %s (%s) failed: %v", event.ID, event.Type, err)
			continue
		}
		if changed {
			repaired++
		}
	}
	log.Infof("[Sync] creator %d: %d event(s) replayed, %d row(s) repaired", creatorID, len(events), repaired)
	return repaired, nil
}

func metadataKey(metadata map[string]string) (uint, uint, uint) {
	return parseUintField(metadata["user_id"]), parseUintField(metadata["creator_id"]), parseUintField(metadata["tier_id"])
}

func parseUintField(raw string) uint {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
