// Package signing signs outbound hook payloads so receivers can verify them.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	SignatureHeader = "X-Formhook-Signature"
	TimestampHeader = "X-Formhook-Timestamp"
)

func Sign(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.", timestamp)))
	mac.Write(payload)
	return fmt.Sprintf("v1=%s", hex.EncodeToString(mac.Sum(nil)))
}

func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload, timestamp)), []byte(signature))
}

// Headers returns the signature headers for payload signed at now.
func Headers(secret string, payload []byte, now time.Time) map[string]string {
	ts := now.Unix()
	return map[string]string{
		SignatureHeader: Sign(secret, payload, ts),
		TimestampHeader: strconv.FormatInt(ts, 10),
	}
}
