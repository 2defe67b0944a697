// Package prompt builds model prompts from untrusted text and parses model replies.
package prompt

import (
	"regexp"
	"strings"
)

// injectionPhrases are removed, case-insensitively, from any user- or
// post-derived text before it is placed into a prompt.
var injectionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"ignore the above",
	"ignore above instructions",
	"disregard previous instructions",
	"disregard all previous",
	"forget previous instructions",
	"forget your instructions",
	"new instructions:",
	"system prompt",
	"you are now",
	"act as",
	"pretend to be",
	"jailbreak",
	"developer mode",
	"override instructions",
}

var (
	injectionRe = buildInjectionRe(injectionPhrases)
	spaceRe     = regexp.MustCompile(`\s+`)
)

func buildInjectionRe(phrases []string) *regexp.Regexp {
	parts := make([]string, len(phrases))
	for i, p := range phrases {
		// Phrases match across any run of whitespace.
		words := strings.Fields(p)
		for j, w := range words {
			words[j] = regexp.QuoteMeta(w)
		}
		part := `\b` + strings.Join(words, `\s+`)
		if last := p[len(p)-1]; isWordByte(last) {
			part += `\b`
		}
		parts[i] = part
	}
	return regexp.MustCompile(`(?i)` + strings.Join(parts, "|"))
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Sanitize strips known injection phrases and code fences from s and
// collapses whitespace.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", " ")
	for {
		next := injectionRe.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
