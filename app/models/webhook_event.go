package models

import "time"

// WebhookEvent stores processor webhook payloads with deduplication metadata
// so replays are detected before any handler runs.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Settled reports whether this delivery was authenticated and applied without
// error. Only a settled row justifies dropping a redelivery as a duplicate;
// anything else is retried so the processor's redelivery can repair the
// ledger.
func (e *WebhookEvent) Settled() bool {
	return e.SignatureValid && e.ProcessedAt != nil && e.ProcessingError == ""
}
