package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const (
	defaultVerifyAttempts = 12
	defaultVerifyInterval = 2 * time.Second
)

// VerifyResult is the outcome of post-confirmation ledger verification.
type VerifyResult int

const (
	// ResultConfirmed means the ledger shows the subscription active.
	ResultConfirmed VerifyResult = iota
	// ResultProvisional means the retry budget ran out before the webhook
	// landed. The payment succeeded, so this is still reported as success;
	// a later webhook delivery or the manual sync closes the gap.
	ResultProvisional
)

// VerifyActivation polls the ledger after the client confirmed payment until
// the asynchronous webhook write lands. Success from the processor is never
// reported as failure: budget exhaustion yields a provisional success.
func (s *Service) VerifyActivation(ctx context.Context, userID, tierID, creatorID uint) (VerifyResult, error) {
	if userID == 0 || tierID == 0 || creatorID == 0 {
		return ResultProvisional, ErrInvalidRequest
	}

	for attempt := 1; attempt <= s.verifyAttempts; attempt++ {
		sub, err := s.repos.Subscription.FindByNaturalKey(userID, creatorID, tierID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return ResultProvisional, &PersistenceError{Op: "verification poll", Err: err}
		}
		if sub != nil && sub.Status == models.SubscriptionStatusActive {
			s.sessions.Drop(flowKey(userID, creatorID, tierID))
			s.bus.SetOverride(userID, creatorID, tierID, false)
			s.bus.Publish(eventbus.EventPaymentSuccess, eventbus.Payload{UserID: userID, CreatorID: creatorID, TierID: tierID})
			s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{UserID: userID, CreatorID: creatorID, TierID: tierID})
			return ResultConfirmed, nil
		}
		if attempt < s.verifyAttempts {
			if err := s.sleep(ctx, s.verifyInterval); err != nil {
				return ResultProvisional, err
			}
		}
	}

	// The webhook is lagging beyond the budget. Trust the processor's
	// confirmation, drop every cached view of this pair, and let
	// reconciliation catch up.
	log.Warnf("[Subscription] verification budget exhausted for user=%d creator=%d tier=%d, reporting provisional success", userID, creatorID, tierID)
	s.sessions.Drop(flowKey(userID, creatorID, tierID))
	s.invalidateView(userID, creatorID)
	s.bus.SetOverride(userID, creatorID, tierID, true)
	s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{
		UserID:      userID,
		CreatorID:   creatorID,
		TierID:      tierID,
		Provisional: true,
	})
	return ResultProvisional, nil
}

// AbandonFlow cleans up after a user cancelled the interactive payment step.
// Every step is attempted independently; cleanup is best-effort and advisory,
// correctness never depends on it.
func (s *Service) AbandonFlow(ctx context.Context, userID, tierID, creatorID uint) error {
	if userID == 0 || tierID == 0 || creatorID == 0 {
		return ErrInvalidRequest
	}
	key := flowKey(userID, creatorID, tierID)

	sess := s.sessions.Get(key)
	s.sessions.Drop(key)

	externalID := ""
	if sess != nil {
		externalID = sess.SubscriptionID
	}
	if externalID == "" {
		if sub, err := s.repos.Subscription.FindByNaturalKey(userID, creatorID, tierID); err == nil &&
			sub.Status == models.SubscriptionStatusIncomplete {
			externalID = sub.ExternalSubscriptionID
		}
	}
	if externalID != "" {
		if err := s.processor.CancelSubscription(ctx, externalID, false); err != nil {
			log.Warnf("[Subscription] abandon: processor cancel of %s failed: %v", externalID, err)
		}
	}

	if err := s.repos.Subscription.DeleteIncomplete(userID, creatorID, tierID); err != nil {
		log.Warnf("[Subscription] abandon: incomplete row cleanup failed for user=%d creator=%d tier=%d: %v", userID, creatorID, tierID, err)
	}
	return nil
}
