package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/app/repository"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const viewCacheTTL = 30 * time.Second

// ViewCache caches derived subscriber-state reads. Implemented by the redis
// cache; a nil cache degrades to reading the ledger every time.
type ViewCache interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
	Delete(key string) error
}

// Service coordinates the payment processor, the subscription ledger and the
// client event bus for the full membership lifecycle.
type Service struct {
	repos     *repository.Repositories
	processor payments.Client
	bus       *eventbus.Bus
	views     ViewCache

	locks    *ProcessingLocks
	sessions *SessionCache

	lockCooldown time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	verifyAttempts int
	verifyInterval time.Duration
}

// NewService wires the engine. bus and views may be shared with other
// consumers; the lock table and session cache are owned by the service.
func NewService(repos *repository.Repositories, processor payments.Client, bus *eventbus.Bus, views ViewCache) *Service {
	s := &Service{
		repos:          repos,
		processor:      processor,
		bus:            bus,
		views:          views,
		locks:          NewProcessingLocks(),
		sessions:       NewSessionCache(),
		lockCooldown:   DefaultLockCooldown,
		now:            time.Now,
		sleep:          sleepContext,
		verifyAttempts: defaultVerifyAttempts,
		verifyInterval: defaultVerifyInterval,
	}
	bus.OnInvalidate(func(payloads []eventbus.Payload) {
		for _, p := range payloads {
			s.invalidateView(p.UserID, p.CreatorID)
		}
	})
	return s
}

// Close releases background sweepers.
func (s *Service) Close() {
	s.locks.Close()
	s.sessions.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Outcome is the result of CreateOrChange. Either Session is set and the
// client must drive the interactive confirmation, or Changed is true and the
// tier change already completed without a new payment session.
type Outcome struct {
	Session      *payments.CheckoutSession `json:"session,omitempty"`
	Changed      bool                      `json:"changed"`
	Subscription *models.Subscription      `json:"subscription,omitempty"`
}

func flowKey(userID, creatorID, tierID uint) string {
	return fmt.Sprintf("%d:%d:%d", userID, creatorID, tierID)
}

// CreateOrChange is the single entry point for starting a new subscription or
// switching tiers with the same creator.
func (s *Service) CreateOrChange(ctx context.Context, userID, tierID, creatorID uint) (*Outcome, error) {
	if userID == 0 || tierID == 0 || creatorID == 0 {
		return nil, ErrInvalidRequest
	}

	key := flowKey(userID, creatorID, tierID)
	if !s.locks.TryAcquire(key) {
		return nil, ErrAlreadyInProgress
	}
	// The cooldown absorbs rapid repeated clicks after completion; release is
	// on this path regardless of how the flow below exits.
	defer s.locks.ReleaseAfter(key, s.lockCooldown)

	// Idempotent replay of an in-flight session.
	if sess := s.sessions.Get(key); sess != nil {
		return &Outcome{Session: sess}, nil
	}

	tier, err := s.repos.Tier.GetByID(tierID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown tier %d", ErrInvalidRequest, tierID)
		}
		return nil, &PersistenceError{Op: "tier lookup", Err: err}
	}
	if tier.CreatorID != creatorID {
		return nil, fmt.Errorf("%w: tier %d does not belong to creator %d", ErrInvalidRequest, tierID, creatorID)
	}
	creator, err := s.repos.Creator.GetByID(creatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown creator %d", ErrInvalidRequest, creatorID)
		}
		return nil, &PersistenceError{Op: "creator lookup", Err: err}
	}
	user, err := s.repos.User.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown user %d", ErrInvalidRequest, userID)
		}
		return nil, &PersistenceError{Op: "user lookup", Err: err}
	}

	live, err := s.repos.Subscription.FindLiveByUserCreator(userID, creatorID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &PersistenceError{Op: "live subscription lookup", Err: err}
	}
	if live != nil {
		if live.TierID == tierID {
			return nil, ErrAlreadySubscribed
		}
		return s.changeTier(ctx, live, tier)
	}

	// An unconfirmed earlier attempt may still hold a usable payment session.
	stale, err := s.repos.Subscription.FindByNaturalKey(userID, creatorID, tierID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &PersistenceError{Op: "incomplete subscription lookup", Err: err}
	}
	if stale != nil && stale.Status == models.SubscriptionStatusIncomplete && stale.ExternalSubscriptionID != "" {
		if sess := s.reusableSession(ctx, stale); sess != nil {
			s.sessions.Put(key, sess)
			return &Outcome{Session: sess, Subscription: stale}, nil
		}
		// Abandoned or expired on the processor side: drop the local row and
		// create fresh.
		if err := s.repos.Subscription.DeleteIncomplete(userID, creatorID, tierID); err != nil {
			return nil, &PersistenceError{Op: "stale incomplete cleanup", Err: err}
		}
	}

	return s.createFresh(ctx, key, user, creator, tier)
}

// reusableSession checks whether the processor still considers the stale
// row's session confirmable and rebuilds the checkout session if so.
func (s *Service) reusableSession(ctx context.Context, stale *models.Subscription) *payments.CheckoutSession {
	remote, err := s.processor.GetSubscription(ctx, stale.ExternalSubscriptionID)
	if err != nil {
		log.Warnf("[Subscription] could not inspect stale session %s: %v", stale.ExternalSubscriptionID, err)
		return nil
	}
	if remote.Status != payments.StatusIncomplete || remote.ClientSecret == "" {
		return nil
	}
	return &payments.CheckoutSession{
		SubscriptionID: remote.ID,
		CustomerID:     remote.CustomerID,
		ClientSecret:   remote.ClientSecret,
		Status:         remote.Status,
		ExpiresAt:      s.now().Add(DefaultSessionTTL),
	}
}

func (s *Service) createFresh(ctx context.Context, key string, user *models.User, creator *models.Creator, tier *models.Tier) (*Outcome, error) {
	priceID, err := s.ensurePrice(ctx, tier)
	if err != nil {
		return nil, err
	}

	sess, err := s.processor.CreateSubscription(ctx, payments.CreateSubscriptionInput{
		CustomerID:         user.ExternalCustomerID,
		CustomerEmail:      user.Email,
		PriceID:            priceID,
		DestinationAccount: creator.ExternalAccountID,
		PlatformFeePct:     creator.PlatformFeePct,
		Metadata: map[string]string{
			"user_id":    fmt.Sprintf("%d", user.ID),
			"creator_id": fmt.Sprintf("%d", creator.ID),
			"tier_id":    fmt.Sprintf("%d", tier.ID),
		},
	})
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		UUID:                   uuid.New().String(),
		UserID:                 user.ID,
		CreatorID:              creator.ID,
		TierID:                 tier.ID,
		Status:                 models.SubscriptionStatusIncomplete,
		Amount:                 tier.Amount,
		Currency:               tier.Currency,
		ExternalSubscriptionID: sess.SubscriptionID,
		ExternalCustomerID:     sess.CustomerID,
	}
	if err := s.repos.Subscription.Create(sub); err != nil {
		// No orphaned external state: compensate before surfacing the error.
		if cancelErr := s.processor.CancelSubscription(ctx, sess.SubscriptionID, false); cancelErr != nil {
			log.Errorf("[Subscription] rollback of processor subscription %s failed: %v", sess.SubscriptionID, cancelErr)
		}
		return nil, &PersistenceError{Op: "subscription insert", Err: err}
	}

	if user.ExternalCustomerID == "" && sess.CustomerID != "" {
		if err := s.repos.User.SetExternalCustomerIfAbsent(user.ID, sess.CustomerID); err != nil {
			log.Warnf("[Subscription] could not store customer handle for user %d: %v", user.ID, err)
		}
	}

	s.sessions.Put(key, sess)
	return &Outcome{Session: sess, Subscription: sub}, nil
}

// changeTier modifies the existing processor subscription in place with
// proration and updates the single ledger row. No new payment session is
// needed; the call returns a completed outcome.
func (s *Service) changeTier(ctx context.Context, live *models.Subscription, tier *models.Tier) (*Outcome, error) {
	priceID, err := s.ensurePrice(ctx, tier)
	if err != nil {
		return nil, err
	}

	remote, err := s.processor.UpdateSubscription(ctx, live.ExternalSubscriptionID, payments.UpdateSubscriptionInput{
		PriceID:           priceID,
		ProrationBehavior: "create_prorations",
	})
	if err != nil {
		return nil, err
	}

	live.TierID = tier.ID
	live.Amount = tier.Amount
	live.Currency = tier.Currency
	if start := remote.PeriodStart(); start != nil {
		live.CurrentPeriodStart = start
	}
	if end := remote.PeriodEnd(); end != nil {
		live.CurrentPeriodEnd = end
	}
	if err := s.repos.Subscription.Update(live); err != nil {
		// The processor already applied the change; the webhook path will
		// bring the ledger current on redelivery.
		return nil, &PersistenceError{Op: "tier change update", Err: err}
	}

	s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{
		UserID:    live.UserID,
		CreatorID: live.CreatorID,
		TierID:    live.TierID,
	})
	return &Outcome{Changed: true, Subscription: live}, nil
}

// ensurePrice lazily creates the processor-side product and price handles for
// a tier, at most once, and returns the price handle.
func (s *Service) ensurePrice(ctx context.Context, tier *models.Tier) (string, error) {
	if tier.ExternalPriceID != "" {
		return tier.ExternalPriceID, nil
	}

	productID, err := s.processor.CreateProduct(ctx, tier.Name)
	if err != nil {
		return "", err
	}
	priceID, err := s.processor.CreatePrice(ctx, productID, tier.Amount, tier.Currency, tier.Interval)
	if err != nil {
		return "", err
	}
	if err := s.repos.Tier.SetExternalPriceIfAbsent(tier.ID, productID, priceID); err != nil {
		return "", &PersistenceError{Op: "tier price handle store", Err: err}
	}

	// A concurrent creation may have won the write-once guard; re-read so
	// everyone converges on the stored handle.
	fresh, err := s.repos.Tier.GetByID(tier.ID)
	if err == nil && fresh.ExternalPriceID != "" {
		tier.ExternalPriceID = fresh.ExternalPriceID
		tier.ExternalProductID = fresh.ExternalProductID
		return fresh.ExternalPriceID, nil
	}
	tier.ExternalProductID = productID
	tier.ExternalPriceID = priceID
	return priceID, nil
}

// Cancel schedules an end-of-period cancellation. Access is retained until the
// period closes; the processor's deletion webhook performs the terminal write.
func (s *Service) Cancel(ctx context.Context, userID, creatorID uint) (*models.Subscription, error) {
	if userID == 0 || creatorID == 0 {
		return nil, ErrInvalidRequest
	}
	live, err := s.repos.Subscription.FindLiveByUserCreator(userID, creatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no live subscription for creator %d", ErrInvalidRequest, creatorID)
		}
		return nil, &PersistenceError{Op: "live subscription lookup", Err: err}
	}

	if err := s.processor.CancelSubscription(ctx, live.ExternalSubscriptionID, true); err != nil {
		return nil, err
	}

	if CanTransition(live.Status, models.SubscriptionStatusCancelling) {
		live.Status = models.SubscriptionStatusCancelling
	}
	live.CancelAtPeriodEnd = true
	if err := s.repos.Subscription.Update(live); err != nil {
		return nil, &PersistenceError{Op: "cancellation update", Err: err}
	}

	s.bus.ClearOverride(userID, creatorID)
	s.bus.Publish(eventbus.EventSubscriptionCancelled, eventbus.Payload{
		UserID:    userID,
		CreatorID: creatorID,
		TierID:    live.TierID,
	})
	return live, nil
}

// Reactivate undoes an end-of-period cancellation before the period closes.
// Terminally canceled subscriptions cannot be reactivated; a new incomplete
// subscription must be created instead.
func (s *Service) Reactivate(ctx context.Context, userID, creatorID uint) (*models.Subscription, error) {
	if userID == 0 || creatorID == 0 {
		return nil, ErrInvalidRequest
	}
	live, err := s.repos.Subscription.FindLiveByUserCreator(userID, creatorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no live subscription for creator %d", ErrInvalidRequest, creatorID)
		}
		return nil, &PersistenceError{Op: "live subscription lookup", Err: err}
	}
	if live.Status != models.SubscriptionStatusCancelling {
		return nil, fmt.Errorf("%w: subscription is not scheduled for cancellation", ErrInvalidRequest)
	}

	keep := false
	if _, err := s.processor.UpdateSubscription(ctx, live.ExternalSubscriptionID, payments.UpdateSubscriptionInput{
		CancelAtPeriodEnd: &keep,
	}); err != nil {
		return nil, err
	}

	live.Status = models.SubscriptionStatusActive
	live.CancelAtPeriodEnd = false
	if err := s.repos.Subscription.Update(live); err != nil {
		return nil, &PersistenceError{Op: "reactivation update", Err: err}
	}

	s.bus.Publish(eventbus.EventSubscriptionSuccess, eventbus.Payload{
		UserID:    userID,
		CreatorID: creatorID,
		TierID:    live.TierID,
	})
	return live, nil
}

// SubscriberState is the derived membership view consumed by read paths.
type SubscriberState struct {
	Subscribed        bool       `json:"subscribed"`
	TierID            uint       `json:"tier_id,omitempty"`
	Status            string     `json:"status,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	Provisional       bool       `json:"provisional,omitempty"`
}

func viewKey(userID, creatorID uint) string {
	return fmt.Sprintf("subview:%d:%d", userID, creatorID)
}

// State resolves the subscriber view for a user and creator: a fresh local
// override wins, then the cached view, then the ledger.
func (s *Service) State(ctx context.Context, userID, creatorID uint) (*SubscriberState, error) {
	if userID == 0 || creatorID == 0 {
		return nil, ErrInvalidRequest
	}

	if o, ok := s.bus.Override(userID, creatorID); ok {
		return &SubscriberState{
			Subscribed:  true,
			TierID:      o.TierID,
			Status:      models.SubscriptionStatusActive,
			Provisional: o.Provisional,
		}, nil
	}

	key := viewKey(userID, creatorID)
	if s.views != nil {
		if raw, err := s.views.Get(key); err == nil && raw != "" {
			var state SubscriberState
			if err := json.Unmarshal([]byte(raw), &state); err == nil {
				return &state, nil
			}
		}
	}

	state := &SubscriberState{}
	live, err := s.repos.Subscription.FindLiveByUserCreator(userID, creatorID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &PersistenceError{Op: "live subscription lookup", Err: err}
	}
	if live != nil {
		state.Subscribed = true
		state.TierID = live.TierID
		state.Status = live.Status
		state.CancelAtPeriodEnd = live.CancelAtPeriodEnd
		state.CurrentPeriodEnd = live.CurrentPeriodEnd
	}

	if s.views != nil {
		if encoded, err := json.Marshal(state); err == nil {
			if err := s.views.Set(key, string(encoded), viewCacheTTL); err != nil {
				log.Debugf("[Subscription] view cache store failed: %v", err)
			}
		}
	}
	return state, nil
}

func (s *Service) invalidateView(userID, creatorID uint) {
	if s.views == nil {
		return
	}
	if err := s.views.Delete(viewKey(userID, creatorID)); err != nil {
		log.Debugf("[Subscription] view cache invalidation failed: %v", err)
	}
}
