package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/internal/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyActivationConfirmsOnceWebhookLands(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	require.NoError(t, env.subs.Create(&models.Subscription{
		UUID: "u1", UserID: userID, CreatorID: creatorID, TierID: tierID,
		Status: models.SubscriptionStatusIncomplete, ExternalSubscriptionID: "sub_1",
	}))

	// The webhook write lands while the handler is on its third poll.
	polls := 0
	env.svc.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		if polls == 3 {
			row, err := env.subs.GetByExternalID("sub_1")
			require.NoError(t, err)
			row.Status = models.SubscriptionStatusActive
			require.NoError(t, env.subs.Update(row))
		}
		return nil
	}

	var mu sync.Mutex
	var events []string
	env.bus.Subscribe(func(event string, payload eventbus.Payload) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})

	result, err := env.svc.VerifyActivation(context.Background(), userID, tierID, creatorID)
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, result)
	assert.GreaterOrEqual(t, polls, 3)

	// The client-facing override bridges the gap until caches refresh, and a
	// ledger-confirmed activation is not reported as provisional.
	o, ok := env.bus.Override(userID, creatorID)
	require.True(t, ok)
	assert.Equal(t, tierID, o.TierID)
	assert.False(t, o.Provisional)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, eventbus.EventPaymentSuccess)
	assert.Contains(t, events, eventbus.EventSubscriptionSuccess)
}

func TestVerifyActivationReportsProvisionalSuccessOnExhaustion(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	require.NoError(t, env.subs.Create(&models.Subscription{
		UUID: "u1", UserID: userID, CreatorID: creatorID, TierID: tierID,
		Status: models.SubscriptionStatusIncomplete, ExternalSubscriptionID: "sub_1",
	}))

	env.svc.verifyAttempts = 3
	polls := 0
	env.svc.sleep = func(ctx context.Context, d time.Duration) error {
		polls++
		return nil
	}

	var mu sync.Mutex
	var provisional []bool
	env.bus.Subscribe(func(event string, payload eventbus.Payload) {
		if event == eventbus.EventSubscriptionSuccess {
			mu.Lock()
			provisional = append(provisional, payload.Provisional)
			mu.Unlock()
		}
	})

	result, err := env.svc.VerifyActivation(context.Background(), userID, tierID, creatorID)
	// Payment succeeded on the processor side; the lagging webhook must never
	// turn that into a reported failure.
	require.NoError(t, err)
	assert.Equal(t, ResultProvisional, result)
	assert.Equal(t, 2, polls) // attempts-1 sleeps

	o, ok := env.bus.Override(userID, creatorID)
	require.True(t, ok)
	assert.True(t, o.Provisional)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, provisional, 1)
	assert.True(t, provisional[0])
}

func TestVerifyActivationStopsWhenContextCancelled(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	env.svc.sleep = sleepContext
	env.svc.verifyInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.VerifyActivation(ctx, userID, tierID, creatorID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAbandonFlowCleansUpIncompleteAttempt(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	require.NoError(t, env.subs.Create(&models.Subscription{
		UUID: "u1", UserID: userID, CreatorID: creatorID, TierID: tierID,
		Status: models.SubscriptionStatusIncomplete, ExternalSubscriptionID: "sub_1",
	}))
	env.svc.sessions.Put(flowKey(userID, creatorID, tierID), checkoutSession("sub_1"))

	require.NoError(t, env.svc.AbandonFlow(context.Background(), userID, tierID, creatorID))

	assert.Nil(t, env.svc.sessions.Get(flowKey(userID, creatorID, tierID)))
	assert.Contains(t, env.processor.canceledIDs, "sub_1")
	assert.Equal(t, 0, env.subs.count())
}

func TestAbandonFlowIsBestEffort(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	// Nothing cached, nothing persisted: abandon still succeeds quietly.
	assert.NoError(t, env.svc.AbandonFlow(context.Background(), userID, tierID, creatorID))
}

func TestAbandonFlowLeavesLiveSubscriptionsAlone(t *testing.T) {
	env := newTestEnv()
	defer env.svc.Close()
	userID, creatorID, tierID := env.seed()

	require.NoError(t, env.subs.Create(&models.Subscription{
		UUID: "u1", UserID: userID, CreatorID: creatorID, TierID: tierID,
		Status: models.SubscriptionStatusActive, ExternalSubscriptionID: "sub_1",
	}))

	require.NoError(t, env.svc.AbandonFlow(context.Background(), userID, tierID, creatorID))

	// Only incomplete rows are cleanup targets.
	assert.Equal(t, 1, env.subs.count())
	assert.NotContains(t, env.processor.canceledIDs, "sub_1")
}
