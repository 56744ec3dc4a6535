package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/app/repository"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"gorm.io/gorm"
)

// In-memory repository fakes. They mirror the GORM implementations' semantics
// closely enough for service-level tests: not-found is gorm.ErrRecordNotFound,
// writes store copies, and error fields inject failures per operation.

type fakeSubscriptionRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]models.Subscription

	createErr error
	updateErr error
	upsertErr error
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{rows: map[uint]models.Subscription{}}
}

func (r *fakeSubscriptionRepo) Create(sub *models.Subscription) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	sub.CreatedAt = time.Now()
	r.rows[sub.ID] = *sub
	return nil
}

func (r *fakeSubscriptionRepo) GetByID(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := row
	return &copied, nil
}

func (r *fakeSubscriptionRepo) GetByExternalID(externalID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ExternalSubscriptionID == externalID {
			copied := row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) FindByNaturalKey(userID, creatorID, tierID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.Subscription
	for _, row := range r.rows {
		if row.UserID == userID && row.CreatorID == creatorID && row.TierID == tierID {
			if found == nil || row.ID > found.ID {
				copied := row
				found = &copied
			}
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *fakeSubscriptionRepo) FindLiveByUserCreator(userID, creatorID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.CreatorID == creatorID && row.IsLive() {
			copied := row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) ListByUser(userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) ListByCreator(creatorID uint, offset, limit int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, row := range r.rows {
		if row.CreatorID == creatorID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeSubscriptionRepo) Update(sub *models.Subscription) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[sub.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.rows[sub.ID] = *sub
	return nil
}

func (r *fakeSubscriptionRepo) UpsertByExternalID(sub *models.Subscription) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, row := range r.rows {
		if row.ExternalSubscriptionID == sub.ExternalSubscriptionID {
			sub.ID = id
			sub.UUID = row.UUID
			sub.CreatedAt = row.CreatedAt
			r.rows[id] = *sub
			return nil
		}
	}
	r.nextID++
	sub.ID = r.nextID
	sub.CreatedAt = time.Now()
	r.rows[sub.ID] = *sub
	return nil
}

func (r *fakeSubscriptionRepo) DeleteIncomplete(userID, creatorID, tierID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, row := range r.rows {
		if row.UserID == userID && row.CreatorID == creatorID && row.TierID == tierID &&
			row.Status == models.SubscriptionStatusIncomplete {
			delete(r.rows, id)
		}
	}
	return nil
}

func (r *fakeSubscriptionRepo) CleanupDuplicates(keep *models.Subscription) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleaned int64
	for id, row := range r.rows {
		if id == keep.ID {
			continue
		}
		if row.UserID == keep.UserID && row.CreatorID == keep.CreatorID &&
			row.Status != models.SubscriptionStatusCanceled {
			row.Status = models.SubscriptionStatusCanceled
			r.rows[id] = row
			cleaned++
		}
	}
	return cleaned, nil
}

func (r *fakeSubscriptionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeTierRepo struct {
	mu    sync.Mutex
	tiers map[uint]models.Tier
}

func newFakeTierRepo() *fakeTierRepo {
	return &fakeTierRepo{tiers: map[uint]models.Tier{}}
}

func (r *fakeTierRepo) GetByID(id uint) (*models.Tier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tier, ok := r.tiers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := tier
	return &copied, nil
}

func (r *fakeTierRepo) ListByCreator(creatorID uint) ([]models.Tier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Tier
	for _, tier := range r.tiers {
		if tier.CreatorID == creatorID {
			out = append(out, tier)
		}
	}
	return out, nil
}

func (r *fakeTierRepo) SetExternalPriceIfAbsent(tierID uint, productID, priceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tier, ok := r.tiers[tierID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if tier.ExternalPriceID == "" {
		tier.ExternalProductID = productID
		tier.ExternalPriceID = priceID
		r.tiers[tierID] = tier
	}
	return nil
}

type fakeCreatorRepo struct {
	mu       sync.Mutex
	creators map[uint]models.Creator
}

func newFakeCreatorRepo() *fakeCreatorRepo {
	return &fakeCreatorRepo{creators: map[uint]models.Creator{}}
}

func (r *fakeCreatorRepo) GetByID(id uint) (*models.Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	creator, ok := r.creators[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := creator
	return &copied, nil
}

func (r *fakeCreatorRepo) GetByUserID(userID uint) (*models.Creator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, creator := range r.creators {
		if creator.UserID == userID {
			copied := creator
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uint]models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]models.User{}}
}

func (r *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := user
	return &copied, nil
}

func (r *fakeUserRepo) SetExternalCustomerIfAbsent(userID uint, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if user.ExternalCustomerID == "" {
		user.ExternalCustomerID = customerID
		r.users[userID] = user
	}
	return nil
}

type fakeWebhookEventRepo struct {
	mu     sync.Mutex
	nextID uint
	events map[string]models.WebhookEvent
}

func newFakeWebhookEventRepo() *fakeWebhookEventRepo {
	return &fakeWebhookEventRepo{events: map[string]models.WebhookEvent{}}
}

func (r *fakeWebhookEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[event.ProviderEventID]; ok {
		copied := existing
		return false, &copied, nil
	}
	r.nextID++
	event.ID = r.nextID
	event.CreatedAt = time.Now()
	r.events[event.ProviderEventID] = *event
	copied := *event
	return true, &copied, nil
}

func (r *fakeWebhookEventRepo) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, event := range r.events {
		if event.ID == id {
			now := time.Now()
			event.ProcessedAt = &now
			event.ProcessingError = processingError
			r.events[key] = event
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeWebhookEventRepo) MarkSignatureValid(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, event := range r.events {
		if event.ID == id {
			event.SignatureValid = true
			r.events[key] = event
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeWebhookEventRepo) get(providerEventID string) (models.WebhookEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[providerEventID]
	return event, ok
}

type fakeEarningsRepo struct {
	mu      sync.Mutex
	entries map[string]models.EarningsEntry

	createErr error
}

func newFakeEarningsRepo() *fakeEarningsRepo {
	return &fakeEarningsRepo{entries: map[string]models.EarningsEntry{}}
}

func (r *fakeEarningsRepo) CreateIfNotExists(entry *models.EarningsEntry) (bool, error) {
	if r.createErr != nil {
		return false, r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[entry.ExternalInvoiceID]; ok {
		return false, nil
	}
	r.entries[entry.ExternalInvoiceID] = *entry
	return true, nil
}

func (r *fakeEarningsRepo) SumByCreator(creatorID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, entry := range r.entries {
		if entry.CreatorID == creatorID {
			sum += entry.NetAmount
		}
	}
	return sum, nil
}

// fakeProcessor is a configurable payments.Client. Unset hooks fail loudly so
// a test only exercises the calls it expects.

type fakeProcessor struct {
	mu sync.Mutex

	createdInputs []payments.CreateSubscriptionInput
	canceledIDs   []string

	createSubscriptionFn func(in payments.CreateSubscriptionInput) (*payments.CheckoutSession, error)
	getSubscriptionFn    func(id string) (*payments.Subscription, error)
	updateSubscriptionFn func(id string, in payments.UpdateSubscriptionInput) (*payments.Subscription, error)
	cancelSubscriptionFn func(id string, atPeriodEnd bool) error
	createProductFn      func(name string) (string, error)
	createPriceFn        func(productID string, amount int64, currency, interval string) (string, error)
	listRecentEventsFn   func(accountID string, limit int) ([]payments.Event, error)
}

func (p *fakeProcessor) CreateSubscription(_ context.Context, in payments.CreateSubscriptionInput) (*payments.CheckoutSession, error) {
	p.mu.Lock()
	p.createdInputs = append(p.createdInputs, in)
	p.mu.Unlock()
	if p.createSubscriptionFn == nil {
		return nil, errors.New("unexpected CreateSubscription call")
	}
	return p.createSubscriptionFn(in)
}

func (p *fakeProcessor) GetSubscription(_ context.Context, id string) (*payments.Subscription, error) {
	if p.getSubscriptionFn == nil {
		return nil, errors.New("unexpected GetSubscription call")
	}
	return p.getSubscriptionFn(id)
}

func (p *fakeProcessor) UpdateSubscription(_ context.Context, id string, in payments.UpdateSubscriptionInput) (*payments.Subscription, error) {
	if p.updateSubscriptionFn == nil {
		return nil, errors.New("unexpected UpdateSubscription call")
	}
	return p.updateSubscriptionFn(id, in)
}

func (p *fakeProcessor) CancelSubscription(_ context.Context, id string, atPeriodEnd bool) error {
	p.mu.Lock()
	p.canceledIDs = append(p.canceledIDs, id)
	p.mu.Unlock()
	if p.cancelSubscriptionFn == nil {
		return nil
	}
	return p.cancelSubscriptionFn(id, atPeriodEnd)
}

func (p *fakeProcessor) CreateProduct(_ context.Context, name string) (string, error) {
	if p.createProductFn == nil {
		return "prod_" + name, nil
	}
	return p.createProductFn(name)
}

func (p *fakeProcessor) CreatePrice(_ context.Context, productID string, amount int64, currency, interval string) (string, error) {
	if p.createPriceFn == nil {
		return fmt.Sprintf("price_%s_%d", productID, amount), nil
	}
	return p.createPriceFn(productID, amount, currency, interval)
}

func (p *fakeProcessor) ListRecentEvents(_ context.Context, accountID string, limit int) ([]payments.Event, error) {
	if p.listRecentEventsFn == nil {
		return nil, errors.New("unexpected ListRecentEvents call")
	}
	return p.listRecentEventsFn(accountID, limit)
}

// testEnv bundles a service with direct handles on its fakes.
type testEnv struct {
	svc       *Service
	subs      *fakeSubscriptionRepo
	tiers     *fakeTierRepo
	creators  *fakeCreatorRepo
	users     *fakeUserRepo
	webhooks  *fakeWebhookEventRepo
	earnings  *fakeEarningsRepo
	processor *fakeProcessor
	bus       *eventbus.Bus
}

func newTestEnv() *testEnv {
	env := &testEnv{
		subs:      newFakeSubscriptionRepo(),
		tiers:     newFakeTierRepo(),
		creators:  newFakeCreatorRepo(),
		users:     newFakeUserRepo(),
		webhooks:  newFakeWebhookEventRepo(),
		earnings:  newFakeEarningsRepo(),
		processor: &fakeProcessor{},
		bus:       eventbus.New(),
	}
	repos := &repository.Repositories{
		Subscription: env.subs,
		Tier:         env.tiers,
		Creator:      env.creators,
		User:         env.users,
		WebhookEvent: env.webhooks,
		Earnings:     env.earnings,
	}
	env.svc = NewService(repos, env.processor, env.bus, nil)
	// Tests run flows back to back; no inter-click cooldown, no real sleeps.
	env.svc.lockCooldown = 0
	env.svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return env
}

// seed installs a user, a creator (owned by a different user) and one tier,
// returning their ids.
func (e *testEnv) seed() (userID, creatorID, tierID uint) {
	e.users.users[1] = models.User{ID: 1, Name: "fan", Email: "fan@example.com"}
	e.creators.creators[10] = models.Creator{ID: 10, UserID: 2, DisplayName: "painter", ExternalAccountID: "acct_10", PlatformFeePct: 10}
	e.tiers.tiers[100] = models.Tier{ID: 100, CreatorID: 10, Name: "Gold", Amount: 500, Currency: "usd", Interval: models.TierIntervalMonth, IsActive: true}
	return 1, 10, 100
}

func checkoutSession(id string) *payments.CheckoutSession {
	return &payments.CheckoutSession{
		SubscriptionID: id,
		CustomerID:     "cus_1",
		ClientSecret:   "secret_" + id,
		Status:         payments.StatusIncomplete,
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}
}
