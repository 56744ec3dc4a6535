package subscription

import (
	"strings"

	"github.com/TobiasKraft/FanWerk/app/models"
	"github.com/TobiasKraft/FanWerk/internal/pkg/payments"
)

// transitions is the canonical state machine. A missing entry means the
// transition is rejected at write time; canceled has no outgoing edges.
var transitions = map[string]map[string]bool{
	models.SubscriptionStatusIncomplete: {
		models.SubscriptionStatusPending:  true,
		models.SubscriptionStatusActive:   true,
		models.SubscriptionStatusCanceled: true,
	},
	models.SubscriptionStatusPending: {
		models.SubscriptionStatusIncomplete: true,
		models.SubscriptionStatusActive:     true,
		models.SubscriptionStatusCanceled:   true,
	},
	models.SubscriptionStatusActive: {
		models.SubscriptionStatusCancelling: true,
		models.SubscriptionStatusCanceled:   true,
	},
	models.SubscriptionStatusCancelling: {
		models.SubscriptionStatusActive:   true,
		models.SubscriptionStatusCanceled: true,
	},
	models.SubscriptionStatusCanceled: {},
}

// CanTransition reports whether a status write from "from" to "to" is
// permitted. Same-status writes are allowed so idempotent upserts can refresh
// amounts and period bounds without a state change.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		// Unknown stored status: accept the write rather than wedge the row.
		return true
	}
	return allowed[to]
}

// MapProcessorStatus translates a processor subscription state into the local
// state machine. Unknown states map to pending: classification fails open,
// the event is never dropped.
func MapProcessorStatus(status string, cancelAtPeriodEnd bool) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case payments.StatusActive:
		if cancelAtPeriodEnd {
			return models.SubscriptionStatusCancelling
		}
		return models.SubscriptionStatusActive
	case payments.StatusIncomplete:
		return models.SubscriptionStatusIncomplete
	case payments.StatusIncompleteExpired, payments.StatusCanceled:
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusPending
	}
}
