// Package dlp provides deterministic sensitive-data detection for agent-submitted
// content.
//
// Detection is pure pattern matching over six built-in categories. Matches are
// redacted before they are ever stored so raw sensitive strings never reach the
// event store or the document index. The same pattern table also seeds the
// default content-policy rules shipped to new installations.
package dlp

import (
	"regexp"
	"strings"

	"github.com/guardline/dlp-mon/pkg/types"
)

// Category identifies one built-in detection category.
type Category string

const (
	CategoryCredentials  Category = "credentials"
	CategoryFinancial    Category = "financial"
	CategoryProjectCodes Category = "project_codes"
	CategoryPersonalData Category = "personal_data"
	CategorySourceCode   Category = "source_code"
	CategoryConfidential Category = "confidential_docs"
)

// CategoryResult is the scan output for one category that produced at
// least one match. Matches are redacted and deduplicated.
type CategoryResult struct {
	Label    string         `json:"label"`
	Severity types.Severity `json:"severity"`
	Matches  []string       `json:"matches"`
	Count    int            `json:"count"`
}

// definition is the static configuration for a category: a label, a
// severity, and an ordered pattern list.
type definition struct {
	Category Category
	Label    string
	Severity types.Severity
	Patterns []*regexp.Regexp
}

// categories holds the built-in detection table. Order matters: it fixes
// the priority order of the generated default rules.
var categories = []definition{
	{
		Category: CategoryCredentials,
		Label:    "Credentials & Secrets",
		Severity: types.SeverityCritical,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(?:password|passwd|pwd|passphrase)\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)(?:api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token)\s*[:=]\s*\S+`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-_.~+/]{20,}`),
			regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
			regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),
		},
	},
	{
		Category: CategoryFinancial,
		Label:    "Financial Data",
		Severity: types.SeverityCritical,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
			regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
			regexp.MustCompile(`(?i)(?:routing|account)\s*(?:number|no\.?)\s*[:=]?\s*\d{6,17}`),
		},
	},
	{
		Category: CategoryProjectCodes,
		Label:    "Internal Project Codes",
		Severity: types.SeverityWarning,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bPROJ-[A-Z]{2,8}-\d{2,6}\b`),
			regexp.MustCompile(`(?i)\bcodename\s+[A-Z][a-z]+\b`),
		},
	},
	{
		Category: CategoryPersonalData,
		Label:    "Personal Data",
		Severity: types.SeverityCritical,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			regexp.MustCompile(`\b(?:\+\d{1,3}[ -]?)?(?:\(\d{3}\)|\d{3})[ -.]?\d{3}[ -.]?\d{4}\b`),
		},
	},
	{
		Category: CategorySourceCode,
		Label:    "Source Code",
		Severity: types.SeverityWarning,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^\s*(?:def|class)\s+\w+\s*[(:]`),
			regexp.MustCompile(`(?m)^\s*(?:func|package)\s+\w+`),
			regexp.MustCompile(`(?i)\b(?:SELECT|INSERT|UPDATE|DELETE)\s+(?:\*|\w+)\s+(?:FROM|INTO|SET)\b`),
			regexp.MustCompile(`import\s+(?:[{(\w"]|\w+\s+from)`),
		},
	},
	{
		Category: CategoryConfidential,
		Label:    "Confidential Documents",
		Severity: types.SeverityWarning,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(?:confidential|proprietary|trade secret)\b`),
			regexp.MustCompile(`(?i)\binternal use only\b`),
			regexp.MustCompile(`(?i)\bdo not (?:distribute|share|forward)\b`),
			regexp.MustCompile(`(?i)\bNDA\b`),
		},
	},
}

// Scan matches every pattern of every category against content. A category
// appears in the result only if it produced at least one match; matches are
// redacted and deduplicated within the category.
func Scan(content string) map[string]CategoryResult {
	results := make(map[string]CategoryResult)
	if content == "" {
		return results
	}

	for _, def := range categories {
		var matches []string
		seen := make(map[string]struct{})
		count := 0

		for _, pattern := range def.Patterns {
			for _, m := range pattern.FindAllString(content, -1) {
				count++
				redacted := Redact(m)
				if _, dup := seen[redacted]; dup {
					continue
				}
				seen[redacted] = struct{}{}
				matches = append(matches, redacted)
			}
		}

		if count > 0 {
			results[string(def.Category)] = CategoryResult{
				Label:    def.Label,
				Severity: def.Severity,
				Matches:  matches,
				Count:    count,
			}
		}
	}

	return results
}

// HasMatch reports whether any category pattern matches content. It stops
// at the first hit and performs no redaction.
func HasMatch(content string) bool {
	if content == "" {
		return false
	}
	for _, def := range categories {
		for _, pattern := range def.Patterns {
			if pattern.MatchString(content) {
				return true
			}
		}
	}
	return false
}

// HighestSeverity aggregates scan results: critical if any matched
// category is critical, else warning. Empty input yields warning; callers
// must check emptiness first if "no match" needs distinct handling.
func HighestSeverity(results map[string]CategoryResult) types.Severity {
	for _, r := range results {
		if r.Severity == types.SeverityCritical {
			return types.SeverityCritical
		}
	}
	return types.SeverityWarning
}

// HasCritical reports whether any matched category is critical.
func HasCritical(results map[string]CategoryResult) bool {
	for _, r := range results {
		if r.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}

// Redact masks a matched string for safe storage. Strings of six or fewer
// characters are fully masked; longer strings keep min(3, ⌊0.2·L⌋)
// characters at each end with the middle replaced by asterisks. The exact
// formula is a compatibility contract with existing consumers.
func Redact(match string) string {
	runes := []rune(match)
	l := len(runes)
	if l <= 6 {
		return strings.Repeat("*", l)
	}

	visible := l / 5
	if visible > 3 {
		visible = 3
	}

	return string(runes[:visible]) + strings.Repeat("*", l-2*visible) + string(runes[l-visible:])
}
