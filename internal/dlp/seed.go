package dlp

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guardline/dlp-mon/pkg/types"
)

// seedBasePriority is the priority of the first generated rule; each
// subsequent rule ranks one lower. Critical categories are generated
// first so block rules always outrank alert rules.
const seedBasePriority = 100

// ToDefaultRules expands the built-in detection table into seed policy
// rules for a fresh installation. Critical categories become block rules
// with a user-facing block message; warning categories become alert
// rules. Pattern flags are stripped from the regex source and
// case-insensitivity re-expressed as an explicit flag so the agent's
// engine does not need to understand Go regex flag syntax.
func ToDefaultRules() []types.Rule {
	now := time.Now()

	ordered := make([]definition, 0, len(categories))
	for _, def := range categories {
		if def.Severity == types.SeverityCritical {
			ordered = append(ordered, def)
		}
	}
	for _, def := range categories {
		if def.Severity != types.SeverityCritical {
			ordered = append(ordered, def)
		}
	}

	var rules []types.Rule
	priority := seedBasePriority

	for _, def := range ordered {
		for i, pattern := range def.Patterns {
			source, caseInsensitive := stripFlags(pattern.String())

			rule := types.Rule{
				ID:       uuid.New().String(),
				Name:     fmt.Sprintf("%s pattern %d", def.Label, i+1),
				Target:   types.RuleTargetPrompt,
				Priority: priority,
				Enabled:  true,
				Version:  1,
				Condition: types.RuleCondition{
					Type:            types.ConditionRegex,
					Pattern:         source,
					CaseInsensitive: caseInsensitive,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}

			if def.Severity == types.SeverityCritical {
				rule.Category = types.RuleCategoryBlock
				rule.ActionConfig = map[string]any{
					"block_message": fmt.Sprintf("Blocked: content matched %s policy", def.Label),
				}
			} else {
				rule.Category = types.RuleCategoryAlert
				rule.ActionConfig = map[string]any{
					"severity": string(def.Severity),
				}
			}

			rules = append(rules, rule)
			priority--
		}
	}

	return rules
}

// stripFlags removes leading inline flag groups like (?i) or (?im) from a
// regex source, reporting whether the i flag was present.
func stripFlags(source string) (string, bool) {
	caseInsensitive := false
	for strings.HasPrefix(source, "(?") {
		end := strings.Index(source, ")")
		if end < 0 {
			break
		}
		flags := source[2:end]
		if strings.ContainsAny(flags, ":=!<P") {
			// A group, not a flag set.
			break
		}
		if strings.Contains(flags, "i") {
			caseInsensitive = true
		}
		source = source[end+1:]
	}
	return source, caseInsensitive
}
