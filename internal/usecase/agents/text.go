package agents

import (
	"regexp"
	"strings"
)

// Cities the booking flow accepts as tour locations.
var validCities = []string{
	"Bangkok", "Phuket", "Chiang Mai", "Pattaya",
	"Krabi", "Hua Hin", "Koh Samui", "Ayutthaya",
}

var (
	affirmativeWords = map[string]bool{
		"yes": true, "confirm": true, "ok": true, "okay": true,
		"sure": true, "yep": true, "yeah": true, "proceed": true,
	}
	negativeWords = map[string]bool{
		"no": true, "cancel": true, "nope": true, "stop": true,
	}
	resetRe     = regexp.MustCompile(`^(reset|clear|start over|restart|new search)$`)
	postImageRe = regexp.MustCompile(`\b(yes|sure|ok|please|find|search|show|guide)\b`)
	isoDateRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// isResetCommand reports whether the normalized message is a reserved reset
// phrase.
func isResetCommand(msg string) bool {
	return resetRe.MatchString(strings.ToLower(strings.TrimSpace(msg)))
}

// isAffirmative reports a bare confirmation.
func isAffirmative(msg string) bool {
	return affirmativeWords[strings.ToLower(strings.TrimSpace(msg))]
}

// isNegative reports a bare refusal or cancellation.
func isNegative(msg string) bool {
	return negativeWords[strings.ToLower(strings.TrimSpace(msg))]
}

// isBareDecision reports a message that is only a yes/no style reply.
func isBareDecision(msg string) bool {
	return isAffirmative(msg) || isNegative(msg)
}

// isPostImageAffirmative tests for affirmative intent after an image analysis.
// Looser than isAffirmative: "find me a guide" counts.
func isPostImageAffirmative(msg string) bool {
	return postImageRe.MatchString(strings.ToLower(msg))
}

// matchCity returns the canonical city name for a message, or "" when the
// message names no known city.
func matchCity(msg string) string {
	m := strings.ToLower(strings.TrimSpace(msg))
	for _, city := range validCities {
		c := strings.ToLower(city)
		if m == c || strings.Contains(m, c) {
			return city
		}
	}
	return ""
}

// parseInterests splits a free-text interests reply on commas and "and".
func parseInterests(msg string) []string {
	msg = strings.ReplaceAll(strings.ToLower(msg), " and ", ",")
	var out []string
	for _, part := range strings.Split(msg, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractISODate returns the first YYYY-MM-DD substring, or "".
func extractISODate(msg string) string {
	return isoDateRe.FindString(msg)
}

// timeOfDayCue maps lexical day-part mentions onto a slot name, or "".
func timeOfDayCue(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "morning"):
		return "morning"
	case strings.Contains(m, "evening"), strings.Contains(m, "night"):
		return "evening"
	case strings.Contains(m, "afternoon"):
		return "afternoon"
	}
	return ""
}

// normalizePhone reduces a phone number to its digits so stored numbers and
// sender ids compare regardless of formatting.
func normalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
