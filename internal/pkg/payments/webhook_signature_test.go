package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signedHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded"}`)
	secret := "whsec_test"
	now := time.Unix(1712345678, 0)

	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"valid signature", signedHeader(payload, secret, now), secret, true},
		{"wrong secret", signedHeader(payload, "whsec_other", now), secret, false},
		{"stale timestamp", signedHeader(payload, secret, now.Add(-10*time.Minute)), secret, false},
		{"future timestamp", signedHeader(payload, secret, now.Add(10*time.Minute)), secret, false},
		{"just inside tolerance", signedHeader(payload, secret, now.Add(-4*time.Minute)), secret, true},
		{"empty header", "", secret, false},
		{"empty secret", signedHeader(payload, secret, now), "", false},
		{"missing timestamp", "v1=deadbeef", secret, false},
		{"missing signature", fmt.Sprintf("t=%d", now.Unix()), secret, false},
		{"garbage header", "not-a-signature", secret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := verifySignatureAt(payload, tt.header, tt.secret, DefaultSignatureTolerance, now)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_1","amount":500}`)
	secret := "whsec_test"
	now := time.Now()
	header := signedHeader(payload, secret, now)

	tampered := []byte(`{"id":"evt_1","amount":50000}`)
	assert.True(t, verifySignatureAt(payload, header, secret, DefaultSignatureTolerance, now))
	assert.False(t, verifySignatureAt(tampered, header, secret, DefaultSignatureTolerance, now))
}

func TestVerifySignatureAcceptsAnyValidCandidate(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Now()

	// Secret rotation: the header may carry signatures from both keys.
	valid := signedHeader(payload, secret, now)

	mac := hmac.New(sha256.New, []byte("whsec_old"))
	fmt.Fprintf(mac, "%d.", now.Unix())
	mac.Write(payload)
	stale := hex.EncodeToString(mac.Sum(nil))

	combined := fmt.Sprintf("%s,v1=%s", valid, stale)
	assert.True(t, verifySignatureAt(payload, combined, secret, DefaultSignatureTolerance, now))
}
