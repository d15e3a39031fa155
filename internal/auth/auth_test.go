package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/guardline/dlp-mon/pkg/types"
)

func TestGenerateCredentials(t *testing.T) {
	creds, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}

	if !strings.HasPrefix(creds.APIKey, KeyPrefix) {
		t.Errorf("api key %q missing prefix %q", creds.APIKey, KeyPrefix)
	}
	if len(creds.APIKey) != len(KeyPrefix)+64 {
		t.Errorf("api key length = %d, want %d", len(creds.APIKey), len(KeyPrefix)+64)
	}
	if creds.Prefix != creds.APIKey[:types.APIKeyPrefixLen] {
		t.Errorf("prefix %q does not match key head", creds.Prefix)
	}
	if len(creds.HMACSecret) != 64 {
		t.Errorf("hmac secret length = %d, want 64", len(creds.HMACSecret))
	}

	if !VerifyAPIKey(creds.APIKey, creds.Hash) {
		t.Error("issued key does not verify against its own hash")
	}
	if VerifyAPIKey(creds.APIKey+"x", creds.Hash) {
		t.Error("tampered key verified")
	}
}

func TestCredentialsAreUnique(t *testing.T) {
	a, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}
	b, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}
	if a.APIKey == b.APIKey {
		t.Error("two issued api keys are identical")
	}
	if a.HMACSecret == b.HMACSecret {
		t.Error("two issued hmac secrets are identical")
	}
}

func TestCheckEnrollmentKey(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
		want       bool
	}{
		{"match", "fleet-key", "fleet-key", true},
		{"mismatch", "fleet-key", "wrong", false},
		{"empty presented", "fleet-key", "", false},
		{"gate disabled", "", "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckEnrollmentKey(tt.configured, tt.presented); got != tt.want {
				t.Errorf("CheckEnrollmentKey(%q, %q) = %v, want %v", tt.configured, tt.presented, got, tt.want)
			}
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	body := []byte(`{"hostname":"LAPTOP-01"}`)

	sig := SignRequest(secret, "1700000000", "POST", "/api/v1/agents/heartbeat", body)
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}

	if !VerifySignature(secret, "1700000000", "POST", "/api/v1/agents/heartbeat", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature(secret, "1700000000", "POST", "/api/v1/agents/heartbeat", []byte(`{}`), sig) {
		t.Error("signature verified with altered body")
	}
	if VerifySignature(secret, "1700000001", "POST", "/api/v1/agents/heartbeat", body, sig) {
		t.Error("signature verified with altered timestamp")
	}
	if VerifySignature(secret, "1700000000", "GET", "/api/v1/agents/heartbeat", body, sig) {
		t.Error("signature verified with altered method")
	}
	if VerifySignature([]byte("other secret material here......"), "1700000000", "POST", "/api/v1/agents/heartbeat", body, sig) {
		t.Error("signature verified with wrong secret")
	}
}

func TestCanonicalPayload(t *testing.T) {
	// sha256 of the empty body is a fixed constant.
	got := CanonicalPayload("1700000000", "GET", "/api/v1/rules/sync", nil)
	want := "1700000000\nGET\n/api/v1/rules/sync\ne3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Errorf("CanonicalPayload = %q, want %q", got, want)
	}
}

func TestCheckTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		ts      string
		wantErr bool
	}{
		{"current", "1700000000", false},
		{"within window past", "1699999800", false},
		{"within window future", "1700000200", false},
		{"too old", "1699999000", true},
		{"too far ahead", "1700001000", true},
		{"not a number", "yesterday", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckTimestamp(tt.ts, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckTimestamp(%q) error = %v, wantErr %v", tt.ts, err, tt.wantErr)
			}
		})
	}
}
