// Package tokens provides simple token estimation for the classifier prompt
// and a context-limit warning. Estimation uses a byte-based chars/4 heuristic;
// model-specific estimators can be added later.
package tokens

import "fmt"

// charsPerToken is the divisor for the simple byte-based estimator
// (roughly 4 bytes per token for typical English/code).
const charsPerToken = 4

// DefaultContextLimit is the assumed classifier context window in tokens.
const DefaultContextLimit = 200000

// warnThreshold is the fill fraction above which WarnIfOver fires.
const warnThreshold = 0.9

// Estimate returns an estimated token count for the given text:
// (len(text)+3)/4 bytes, so 0-3 bytes map to 1 token, 4-7 to 2, etc.
// Empty string returns 0.
func Estimate(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// WarnIfOver returns a non-empty warning when promptTokens plus the response
// reserve meets or exceeds 90% of contextLimit. contextLimit <= 0 disables
// the check. The classifier truncates silently past the window, which turns
// into missing groups, so callers surface this to the user before sending.
func WarnIfOver(promptTokens, responseReserve, contextLimit int) string {
	if contextLimit <= 0 || promptTokens < 0 || responseReserve < 0 {
		return ""
	}
	total := promptTokens + responseReserve
	if float64(total) < float64(contextLimit)*warnThreshold {
		return ""
	}
	return fmt.Sprintf("estimated prompt size %d tokens (plus %d reserved for the response) is near the model context limit %d; grouping may be incomplete",
		total, responseReserve, contextLimit)
}
