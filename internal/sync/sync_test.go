package sync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/guardline/dlp-mon/pkg/types"
)

type mockRuleStore struct {
	rules      []types.Rule
	tombstones []types.RuleTombstone
}

func (m *mockRuleStore) ListEnabledRulesSince(ctx context.Context, version int64) ([]types.Rule, error) {
	var out []types.Rule
	for _, r := range m.rules {
		if r.Enabled && r.Version > version {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRuleStore) ListTombstonesSince(ctx context.Context, version int64) ([]types.RuleTombstone, error) {
	var out []types.RuleTombstone
	for _, t := range m.tombstones {
		if t.DeletedAtVersion > version {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockDomainStore struct {
	domains []types.MonitoredDomain
}

func (m *mockDomainStore) ListMonitoredDomains(ctx context.Context) ([]types.MonitoredDomain, error) {
	return m.domains, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func keywordRule(id string, version int64, priority int, enabled bool, createdAt time.Time) types.Rule {
	return types.Rule{
		ID:       id,
		Name:     "rule " + id,
		Version:  version,
		Category: types.RuleCategoryAlert,
		Target:   types.RuleTargetPrompt,
		Condition: types.RuleCondition{
			Type:     types.ConditionKeyword,
			Keywords: []string{"secret"},
		},
		Priority:  priority,
		Enabled:   enabled,
		CreatedAt: createdAt,
	}
}

func TestSyncRulesDelta(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rules := &mockRuleStore{
		rules: []types.Rule{
			keywordRule("r-old", 2, 50, true, base),
			keywordRule("r-low", 3, 10, true, base.Add(time.Hour)),
			keywordRule("r-high", 5, 90, true, base.Add(2*time.Hour)),
			keywordRule("r-disabled", 7, 99, false, base),
		},
		tombstones: []types.RuleTombstone{
			{RuleID: "r-gone-early", DeletedAtVersion: 2},
			{RuleID: "r-gone", DeletedAtVersion: 4},
		},
	}
	syncer := NewSyncer(rules, &mockDomainStore{}, testLogger())

	resp, err := syncer.SyncRules(context.Background(), 2)
	if err != nil {
		t.Fatalf("SyncRules: %v", err)
	}

	if len(resp.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(resp.Rules))
	}
	if resp.Rules[0].ID != "r-high" || resp.Rules[1].ID != "r-low" {
		t.Errorf("rule order = %s, %s; want r-high, r-low", resp.Rules[0].ID, resp.Rules[1].ID)
	}
	for _, r := range resp.Rules {
		if r.Version <= 2 {
			t.Errorf("rule %s has version %d at or below the watermark", r.ID, r.Version)
		}
		if !r.Enabled {
			t.Errorf("disabled rule %s in sync response", r.ID)
		}
	}

	if len(resp.DeletedIDs) != 1 || resp.DeletedIDs[0] != "r-gone" {
		t.Errorf("deleted ids = %v, want [r-gone]", resp.DeletedIDs)
	}
}

func TestSyncRulesEmptyDelta(t *testing.T) {
	syncer := NewSyncer(&mockRuleStore{}, &mockDomainStore{}, testLogger())

	resp, err := syncer.SyncRules(context.Background(), 100)
	if err != nil {
		t.Fatalf("SyncRules: %v", err)
	}
	if resp.Rules == nil || resp.DeletedIDs == nil {
		t.Error("empty delta must serialize as [] not null")
	}
	if len(resp.Rules) != 0 || len(resp.DeletedIDs) != 0 {
		t.Errorf("expected empty delta, got %d rules, %d deletes", len(resp.Rules), len(resp.DeletedIDs))
	}
}

func TestSyncDomains(t *testing.T) {
	domains := &mockDomainStore{
		domains: []types.MonitoredDomain{
			{Domain: "chat.openai.com", PlatformName: "ChatGPT"},
			{Domain: "claude.ai", PlatformName: "Claude"},
		},
	}
	syncer := NewSyncer(&mockRuleStore{}, domains, testLogger())

	got, err := syncer.SyncDomains(context.Background())
	if err != nil {
		t.Fatalf("SyncDomains: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("domains = %d, want 2", len(got))
	}
}

func TestSyncDomainsEmpty(t *testing.T) {
	syncer := NewSyncer(&mockRuleStore{}, &mockDomainStore{}, testLogger())

	got, err := syncer.SyncDomains(context.Background())
	if err != nil {
		t.Fatalf("SyncDomains: %v", err)
	}
	if got == nil {
		t.Error("empty roster must serialize as [] not null")
	}
}
