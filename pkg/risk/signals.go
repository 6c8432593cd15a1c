// Package risk computes hallucination and integrity risk signals for
// proposed tool invocations and folds them into a null-tolerant weighted
// composite. Signals the caller cannot supply are absent, not zero: an
// unavailable signal neither penalizes nor rewards a request.
package risk

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	tokenRe  = regexp.MustCompile(`[a-z0-9]+`)
	numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	wsRe     = regexp.MustCompile(`\s+`)
)

// NormalizeText NFKC-folds, lowercases and collapses whitespace.
func NormalizeText(text string) string {
	s := strings.ToLower(norm.NFKC.String(text))
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}

// Tokens extracts the case-folded alphanumeric token set from text.
// Punctuation is stripped by construction.
func Tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(NormalizeText(text), -1) {
		set[tok] = struct{}{}
	}
	return set
}

// Jaccard computes token-set similarity. Two empty sets are identical
// (similarity 1); one empty set shares nothing with a non-empty one
// (similarity 0).
func Jaccard(left, right string) float64 {
	ls, rs := Tokens(left), Tokens(right)
	if len(ls) == 0 && len(rs) == 0 {
		return 1.0
	}
	inter := 0
	for tok := range ls {
		if _, ok := rs[tok]; ok {
			inter++
		}
	}
	union := len(ls) + len(rs) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

// ExtractNumbers pulls signed decimal literals out of text.
func ExtractNumbers(text string) []float64 {
	var out []float64
	for _, match := range numberRe.FindAllString(text, -1) {
		if v, err := strconv.ParseFloat(match, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// NumericInstability is the coefficient of variation (sample standard
// deviation over mean absolute value) of the numbers extracted from the
// answer(s), clipped to [0, 1]. Nil when no numbers are present; a single
// number, or a zero mean, yields 0.
func NumericInstability(answer string, secondary *string) *float64 {
	nums := ExtractNumbers(answer)
	if secondary != nil {
		nums = append(nums, ExtractNumbers(*secondary)...)
	}
	if len(nums) == 0 {
		return nil
	}
	if len(nums) < 2 {
		zero := 0.0
		return &zero
	}

	mean := 0.0
	for _, v := range nums {
		mean += v
	}
	mean /= float64(len(nums))

	variance := 0.0
	for _, v := range nums {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(nums) - 1)

	denom := math.Abs(mean)
	if denom == 0 {
		zero := 0.0
		return &zero
	}
	cv := clamp01(math.Sqrt(variance) / denom)
	return &cv
}

var (
	failureWords = []string{"failed", "error", "declined"}
	successWords = []string{"completed", "success", "done", "sent"}
)

// ToolClaimMismatch reports whether the tool result summary indicates a
// failure while the answer claims success. Nil when no summary is
// available.
func ToolClaimMismatch(answer string, toolResultSummary *string) *bool {
	if toolResultSummary == nil {
		return nil
	}
	summary := NormalizeText(*toolResultSummary)
	answerNorm := NormalizeText(answer)

	hasFailure := containsAny(summary, failureWords)
	claimsSuccess := containsAny(answerNorm, successWords)
	mismatch := hasFailure && claimsSuccess
	return &mismatch
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

// HeuristicVerifierScore is a cheap local verifier used when the caller
// supplies no external verifier score. It penalizes hedging language,
// absolute claims and weak grounding, and reports its reasons.
func HeuristicVerifierScore(answer string, retrievedContext *string) (float64, string) {
	score := 1.0
	var reasons []string
	answerNorm := NormalizeText(answer)

	if containsAny(answerNorm, []string{"not sure", "i think", "maybe"}) {
		score -= 0.25
		reasons = append(reasons, "hedging_language")
	}
	if containsAny(answerNorm, []string{"definitely", "guaranteed"}) {
		score -= 0.25
		reasons = append(reasons, "absolute_claims")
	}
	if retrievedContext != nil && Jaccard(answer, *retrievedContext) < 0.10 {
		score -= 0.25
		reasons = append(reasons, "low_grounding")
	}

	if len(reasons) == 0 {
		return clamp01(score), "ok"
	}
	return clamp01(score), strings.Join(reasons, ",")
}
