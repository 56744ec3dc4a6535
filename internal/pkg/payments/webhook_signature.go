package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how stale a signed timestamp may be before
// the delivery is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature checks the FW-Signature header of a webhook delivery. The
// header carries a unix timestamp and an HMAC-SHA256 over "<timestamp>.<payload>":
//
//	FW-Signature: t=1712345678,v1=5f3a...
func VerifySignature(payload []byte, signatureHeader, webhookSecret string) bool {
	return verifySignatureAt(payload, signatureHeader, webhookSecret, DefaultSignatureTolerance, time.Now())
}

func verifySignatureAt(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration, now time.Time) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = parsed
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				continue
			}
			sigs = append(sigs, decoded)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return false
	}

	stamped := time.Unix(ts, 0)
	if stamped.Before(now.Add(-tolerance)) || stamped.After(now.Add(tolerance)) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}
