package domain

import "strings"

// Intent is a coarse query-style label driving the semantic threshold.
type Intent string

// Known intents. IntentProblem is the default.
const (
	IntentHowTo   Intent = "how-to"
	IntentStory   Intent = "story"
	IntentTrend   Intent = "trend"
	IntentProblem Intent = "problem"
)

var intentKeywords = []struct {
	intent Intent
	words  []string
}{
	{IntentHowTo, []string{"how to", "how do", "how can", "guide", "tutorial", "step by step", "best way"}},
	{IntentStory, []string{"story", "stories", "experience", "experiences", "anyone else", "what happened"}},
	{IntentTrend, []string{"trend", "trending", "latest", "new in", "this year", "2024", "2025", "2026", "future of"}},
}

// ParseIntent normalizes a model-provided label. Unknown labels yield ok=false.
func ParseIntent(s string) (Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "how-to", "howto", "how_to", "how to":
		return IntentHowTo, true
	case "story", "stories":
		return IntentStory, true
	case "trend", "trends":
		return IntentTrend, true
	case "problem", "default":
		return IntentProblem, true
	}
	return "", false
}

// DetectIntent derives an intent from keywords in the query.
func DetectIntent(query string) Intent {
	q := strings.ToLower(query)
	for _, k := range intentKeywords {
		for _, w := range k.words {
			if strings.Contains(q, w) {
				return k.intent
			}
		}
	}
	return IntentProblem
}
