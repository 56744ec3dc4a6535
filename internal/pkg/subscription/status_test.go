package subscription

import (
	"testing"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"incomplete to pending", models.SubscriptionStatusIncomplete, models.SubscriptionStatusPending, true},
		{"incomplete to active", models.SubscriptionStatusIncomplete, models.SubscriptionStatusActive, true},
		{"incomplete to canceled", models.SubscriptionStatusIncomplete, models.SubscriptionStatusCanceled, true},
		{"incomplete to cancelling", models.SubscriptionStatusIncomplete, models.SubscriptionStatusCancelling, false},
		{"pending to active", models.SubscriptionStatusPending, models.SubscriptionStatusActive, true},
		{"active to cancelling", models.SubscriptionStatusActive, models.SubscriptionStatusCancelling, true},
		{"active to canceled", models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, true},
		{"active to incomplete", models.SubscriptionStatusActive, models.SubscriptionStatusIncomplete, false},
		{"cancelling back to active", models.SubscriptionStatusCancelling, models.SubscriptionStatusActive, true},
		{"canceled is terminal", models.SubscriptionStatusCanceled, models.SubscriptionStatusActive, false},
		{"canceled stays canceled", models.SubscriptionStatusCanceled, models.SubscriptionStatusPending, false},
		{"same status is a no-op", models.SubscriptionStatusActive, models.SubscriptionStatusActive, true},
		{"unknown stored status accepts anything", "legacy_weird", models.SubscriptionStatusActive, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMapProcessorStatus(t *testing.T) {
	tests := []struct {
		name              string
		processorStatus   string
		cancelAtPeriodEnd bool
		want              string
	}{
		{"active maps to active", payments.StatusActive, false, models.SubscriptionStatusActive},
		{"active with scheduled cancel maps to cancelling", payments.StatusActive, true, models.SubscriptionStatusCancelling},
		{"incomplete maps to incomplete", payments.StatusIncomplete, false, models.SubscriptionStatusIncomplete},
		{"incomplete_expired maps to canceled", payments.StatusIncompleteExpired, false, models.SubscriptionStatusCanceled},
		{"canceled maps to canceled", payments.StatusCanceled, false, models.SubscriptionStatusCanceled},
		{"past_due fails open to pending", payments.StatusPastDue, false, models.SubscriptionStatusPending},
		{"unknown status fails open to pending", "some_new_state", false, models.SubscriptionStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapProcessorStatus(tt.processorStatus, tt.cancelAtPeriodEnd))
		})
	}
}
