package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxTimestampSkew is the replay window. Signatures whose timestamp is
// further than this from server time are rejected.
const MaxTimestampSkew = 5 * time.Minute

// CanonicalPayload builds the string covered by the request signature.
func CanonicalPayload(timestamp, method, path string, body []byte) string {
	sum := sha256.Sum256(body)
	return fmt.Sprintf("%s\n%s\n%s\n%s", timestamp, method, path, hex.EncodeToString(sum[:]))
}

// SignRequest computes the hex HMAC-SHA256 of the canonical payload.
func SignRequest(secret []byte, timestamp, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(CanonicalPayload(timestamp, method, path, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a presented signature against the expected one
// in constant time.
func VerifySignature(secret []byte, timestamp, method, path string, body []byte, presented string) bool {
	want := SignRequest(secret, timestamp, method, path, body)
	return hmac.Equal([]byte(want), []byte(presented))
}

// CheckTimestamp parses a unix-seconds timestamp and rejects it when it
// falls outside the replay window on either side of now.
func CheckTimestamp(timestamp string, now time.Time) error {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing timestamp: %w", err)
	}
	ts := time.Unix(secs, 0)
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	if diff > MaxTimestampSkew {
		return fmt.Errorf("timestamp outside allowed window: %s", diff)
	}
	return nil
}
