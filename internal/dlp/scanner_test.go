package dlp

import (
	"strings"
	"testing"

	"github.com/guardline/dlp-mon/pkg/types"
)

func TestScanCredentials(t *testing.T) {
	results := Scan("password: secret123")

	cred, ok := results[string(CategoryCredentials)]
	if !ok {
		t.Fatalf("expected credentials category in results, got %v", results)
	}
	if cred.Severity != types.SeverityCritical {
		t.Errorf("credentials severity = %s, want critical", cred.Severity)
	}
	if cred.Count < 1 || len(cred.Matches) < 1 {
		t.Fatalf("expected at least one match, got count=%d matches=%v", cred.Count, cred.Matches)
	}
	if !strings.Contains(cred.Matches[0], "*") {
		t.Errorf("match %q is not redacted", cred.Matches[0])
	}
}

func TestScanNoMatch(t *testing.T) {
	results := Scan("the quick brown fox")
	if len(results) != 0 {
		t.Errorf("expected empty results, got %v", results)
	}
}

func TestScanDeduplicatesWithinCategory(t *testing.T) {
	results := Scan("password: hunter2aa and again password: hunter2aa")

	cred := results[string(CategoryCredentials)]
	if cred.Count != 2 {
		t.Errorf("count = %d, want 2", cred.Count)
	}
	if len(cred.Matches) != 1 {
		t.Errorf("matches = %v, want a single deduplicated entry", cred.Matches)
	}
}

func TestHasMatch(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"api_key = sk-live-0042", true},
		{"my SSN is 123-45-6789", true},
		{"nothing sensitive here", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := HasMatch(tt.content); got != tt.want {
			t.Errorf("HasMatch(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestHighestSeverity(t *testing.T) {
	critical := map[string]CategoryResult{
		"a": {Severity: types.SeverityWarning},
		"b": {Severity: types.SeverityCritical},
	}
	if got := HighestSeverity(critical); got != types.SeverityCritical {
		t.Errorf("HighestSeverity = %s, want critical", got)
	}

	warning := map[string]CategoryResult{
		"a": {Severity: types.SeverityWarning},
	}
	if got := HighestSeverity(warning); got != types.SeverityWarning {
		t.Errorf("HighestSeverity = %s, want warning", got)
	}

	// Contract: empty input yields warning, not "none". Callers check
	// emptiness before calling.
	if got := HighestSeverity(nil); got != types.SeverityWarning {
		t.Errorf("HighestSeverity(nil) = %s, want warning", got)
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "***"},
		{"sixsix", "******"},
		{"seven77", "s*****7"},           // L=7, visible=1
		{"abcdefghij", "ab******ij"},     // L=10, visible=2
		{"abcdefghijklmnop", "abc**********nop"}, // L=16, visible=3
		{"password: secret123", "pas*************123"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactPreservesEnds(t *testing.T) {
	in := "AKIA1234567890ABCDEF"
	got := Redact(in)
	if len(got) != len(in) {
		t.Fatalf("redacted length %d != original %d", len(got), len(in))
	}
	if !strings.HasPrefix(got, "AKI") || !strings.HasSuffix(got, "DEF") {
		t.Errorf("Redact(%q) = %q, want first/last 3 chars preserved", in, got)
	}
}

func TestToDefaultRules(t *testing.T) {
	rules := ToDefaultRules()
	if len(rules) == 0 {
		t.Fatal("expected seed rules")
	}

	seenPriorities := make(map[int]bool)
	blockDone := false
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			t.Errorf("rule %d invalid: %v", i, err)
		}
		if rule.Version != 1 {
			t.Errorf("rule %d version = %d, want 1", i, rule.Version)
		}
		if rule.Condition.Type != types.ConditionRegex {
			t.Errorf("rule %d condition type = %s, want regex", i, rule.Condition.Type)
		}
		if strings.HasPrefix(rule.Condition.Pattern, "(?") {
			t.Errorf("rule %d pattern %q still carries inline flags", i, rule.Condition.Pattern)
		}
		if seenPriorities[rule.Priority] {
			t.Errorf("duplicate priority %d", rule.Priority)
		}
		seenPriorities[rule.Priority] = true

		switch rule.Category {
		case types.RuleCategoryBlock:
			if blockDone {
				t.Errorf("block rule %d generated after alert rules; block rules must rank highest", i)
			}
			if _, ok := rule.ActionConfig["block_message"]; !ok {
				t.Errorf("block rule %d missing block_message", i)
			}
		case types.RuleCategoryAlert:
			blockDone = true
			if _, ok := rule.ActionConfig["severity"]; !ok {
				t.Errorf("alert rule %d missing severity", i)
			}
		default:
			t.Errorf("rule %d unexpected category %s", i, rule.Category)
		}
	}
}

func TestStripFlags(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		caseless bool
	}{
		{`(?i)bearer\s+x`, `bearer\s+x`, true},
		{`(?im)^secret`, `^secret`, true},
		{`(?m)^\s*def`, `^\s*def`, false},
		{`plain`, `plain`, false},
		{`(?:group)a`, `(?:group)a`, false},
	}

	for _, tt := range tests {
		got, caseless := stripFlags(tt.in)
		if got != tt.want || caseless != tt.caseless {
			t.Errorf("stripFlags(%q) = (%q, %v), want (%q, %v)", tt.in, got, caseless, tt.want, tt.caseless)
		}
	}
}
