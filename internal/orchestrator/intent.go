package orchestrator

import "regexp"

// IntentRule matches a first-person statement of action. The rule set is
// a replaceable product-policy detail, not part of the state machine:
// swap it out via WithIntentRules without touching the turn loop.
type IntentRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultIntentRules matches the common future-tense phrasings a model
// uses when it narrates an action instead of calling a tool.
func DefaultIntentRules() []IntentRule {
	return []IntentRule{
		{Name: "i-will", Pattern: regexp.MustCompile(`(?i)\bI\s+will\s+(?:now\s+)?(?:search|fetch|look|check|query|list|run|retrieve|examine|scan)`)},
		{Name: "ill", Pattern: regexp.MustCompile(`(?i)\bI'll\s+(?:now\s+)?(?:search|fetch|look|check|query|list|run|retrieve|examine|scan)`)},
		{Name: "let-me", Pattern: regexp.MustCompile(`(?i)\blet\s+me\s+(?:search|fetch|look|check|query|list|run|retrieve|examine|scan)`)},
		{Name: "going-to", Pattern: regexp.MustCompile(`(?i)\bI\s*(?:'m|\s+am)\s+going\s+to\s+(?:search|fetch|look|check|query|list|run|retrieve|examine|scan)`)},
	}
}

// statesIntent reports whether text asserts an action under any rule.
func statesIntent(rules []IntentRule, text string) bool {
	for _, r := range rules {
		if r.Pattern.MatchString(text) {
			return true
		}
	}
	return false
}
