package policy

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/guardline/dlp-mon/pkg/types"
)

func TestToAgentFormatKeywordString(t *testing.T) {
	// Legacy dashboards stored keyword lists as comma-separated strings.
	cond, err := types.ParseCondition(types.ConditionKeyword, json.RawMessage(`{"keywords": "a, b ,c"}`))
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}

	agent := ToAgentFormat(types.Rule{Condition: cond})
	if !reflect.DeepEqual(agent.Condition.Keywords, []string{"a", "b", "c"}) {
		t.Errorf("keywords = %v, want [a b c]", agent.Condition.Keywords)
	}
	if agent.Condition.MatchAll == nil || *agent.Condition.MatchAll {
		t.Errorf("match_all should default to false")
	}
}

func TestToAgentFormatKeywordArray(t *testing.T) {
	cond, err := types.ParseCondition(types.ConditionKeyword, json.RawMessage(`{"keywords": ["x", " y "], "match_all": true}`))
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}

	agent := ToAgentFormat(types.Rule{Condition: cond})
	if !reflect.DeepEqual(agent.Condition.Keywords, []string{"x", "y"}) {
		t.Errorf("keywords = %v, want [x y]", agent.Condition.Keywords)
	}
	if agent.Condition.MatchAll == nil || !*agent.Condition.MatchAll {
		t.Errorf("match_all = %v, want true", agent.Condition.MatchAll)
	}
}

func TestToAgentFormatDomainListNewlines(t *testing.T) {
	cond, err := types.ParseCondition(types.ConditionDomainList, json.RawMessage("{\"domains\": \"chat.openai.com\\nclaude.ai, gemini.google.com\\n\"}"))
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}

	agent := ToAgentFormat(types.Rule{Condition: cond})
	want := []string{"chat.openai.com", "claude.ai", "gemini.google.com"}
	if !reflect.DeepEqual(agent.Condition.Domains, want) {
		t.Errorf("domains = %v, want %v", agent.Condition.Domains, want)
	}
}

func TestToAgentFormatContentLengthLegacyFields(t *testing.T) {
	cond, err := types.ParseCondition(types.ConditionContentLength, json.RawMessage(`{"min_length": 10, "max_length": 4000}`))
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}

	agent := ToAgentFormat(types.Rule{Condition: cond})
	if agent.Condition.Min == nil || *agent.Condition.Min != 10 {
		t.Errorf("min = %v, want 10", agent.Condition.Min)
	}
	if agent.Condition.Max == nil || *agent.Condition.Max != 4000 {
		t.Errorf("max = %v, want 4000", agent.Condition.Max)
	}
}

func TestToAgentFormatUnknownTypePassthrough(t *testing.T) {
	raw := json.RawMessage(`{"custom": 1}`)
	cond, err := types.ParseCondition(types.ConditionType("entropy"), raw)
	if err != nil {
		t.Fatalf("ParseCondition: %v", err)
	}

	agent := ToAgentFormat(types.Rule{Condition: cond})
	if agent.Condition.Type != "entropy" {
		t.Errorf("type = %s, want entropy", agent.Condition.Type)
	}
	if string(agent.Condition.Value) != string(raw) {
		t.Errorf("value = %s, want %s", agent.Condition.Value, raw)
	}
}

func TestToAgentFormatAllFiltersAndOrders(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rules := []types.Rule{
		{ID: "b", Priority: 10, Enabled: true, CreatedAt: base.Add(time.Hour)},
		{ID: "a", Priority: 50, Enabled: true, CreatedAt: base},
		{ID: "d", Priority: 10, Enabled: true, CreatedAt: base},
		{ID: "c", Priority: 99, Enabled: false, CreatedAt: base},
	}

	out := ToAgentFormatAll(rules)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3 (disabled rule filtered)", len(out))
	}

	// priority desc, then creation order for ties.
	wantOrder := []string{"a", "d", "b"}
	for i, want := range wantOrder {
		if out[i].ID != want {
			t.Errorf("out[%d].ID = %s, want %s", i, out[i].ID, want)
		}
	}
}
