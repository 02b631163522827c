package scanning

import (
	"regexp"
	"strings"
)

var (
	reConfDate   = regexp.MustCompile(`\b\d{1,4}[/.-]\d{1,2}[/.-]\d{2,4}\b`)
	reConfCurr   = regexp.MustCompile(`\b(usd|eur|gbp|cad|aud)\b|[$£€]`)
	reConfAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*\.\d{2}\b`)
)

// heuristicConfidence scores transcriptions from engines that report no
// confidence of their own. Receipt-like artifacts (a date, a currency mark,
// an amount, enough content) each raise the score above a small base.
func heuristicConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	lower := strings.ToLower(text)
	score := 0.2
	if reConfDate.MatchString(lower) {
		score += 0.2
	}
	if reConfCurr.MatchString(lower) {
		score += 0.15
	}
	if reConfAmount.MatchString(lower) {
		score += 0.15
	}
	if len(text) > 120 {
		score += 0.1
	}
	return clampUnit(score)
}
