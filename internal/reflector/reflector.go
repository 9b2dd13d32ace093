// Package reflector decides how a failed execution pass recovers: retry the
// same plan, ask for a new one, or give up when the budget is spent.
package reflector

import (
	"fmt"
	"strings"

	"tinker/internal/executor"
	"tinker/internal/logging"
	"tinker/internal/metrics"
)

// Strategy is the recovery decision for one failed pass.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategyReplan    Strategy = "replan"
	StrategyExhausted Strategy = "exhausted"
	StrategyComplete  Strategy = "complete"
)

// Decision carries the chosen strategy plus the material the controller
// needs to act on it.
type Decision struct {
	Strategy Strategy
	// Notes are short progress lines, logged and streamed.
	Notes []string
	// Summary is the user-facing exhaustion message; set only for
	// StrategyExhausted.
	Summary string
	// ErrorKind and ErrorExcerpt describe the representative failure that
	// drove the decision, for the retry history.
	ErrorKind    string
	ErrorExcerpt string
}

// replanKeywords mark failures where re-running the same plan cannot help;
// the approach itself is wrong. Matching is case-insensitive over the
// concatenated failure messages.
var replanKeywords = []string{
	"no such file",
	"not found",
	"module",
	"import",
	"syntax error",
	"command not found",
}

const excerptLimit = 120

// Reflector applies a fixed classification policy. It holds no state; the
// retry counter lives in the session so it survives process restarts.
type Reflector struct {
	maxRetries int
	log        *logging.StructuredLogger
}

// New builds a reflector with the given per-turn retry budget.
func New(maxRetries int, log *logging.StructuredLogger) *Reflector {
	if log == nil {
		log = logging.NewStructuredLogger(logging.Discard(), "reflector", false)
	}
	return &Reflector{maxRetries: maxRetries, log: log}
}

// Reflect inspects the failed results of one pass. retryCount is the number
// of retries already consumed this turn; the budget is checked before it is
// advanced, so a spent budget yields Exhausted without another attempt.
func (r *Reflector) Reflect(results []executor.Result, retryCount int) Decision {
	failed := executor.Failures(results)
	if len(failed) == 0 {
		return Decision{Strategy: StrategyComplete}
	}

	if retryCount >= r.maxRetries {
		r.log.Info("retry budget exhausted", map[string]interface{}{"retries": retryCount})
		return Decision{
			Strategy: StrategyExhausted,
			Summary:  exhaustionSummary(r.maxRetries, failed),
		}
	}

	kind, excerpt := representative(failed)
	attempt := retryCount + 1

	var joined strings.Builder
	for i, f := range failed {
		if i > 0 {
			joined.WriteByte(' ')
		}
		joined.WriteString(f.Err.Message)
	}
	errorText := strings.ToLower(joined.String())

	for _, keyword := range replanKeywords {
		if strings.Contains(errorText, keyword) {
			metrics.RetriesTotal.WithLabelValues(string(StrategyReplan)).Inc()
			return Decision{
				Strategy: StrategyReplan,
				Notes: []string{
					fmt.Sprintf("Retry %d/%d", attempt, r.maxRetries),
					fmt.Sprintf("Errors detected: %s", headErrors(failed, 2)),
					"Strategy: Re-planning with error context",
				},
				ErrorKind:    kind,
				ErrorExcerpt: excerpt,
			}
		}
	}

	metrics.RetriesTotal.WithLabelValues(string(StrategyRetry)).Inc()
	return Decision{
		Strategy: StrategyRetry,
		Notes: []string{
			fmt.Sprintf("Retry %d/%d", attempt, r.maxRetries),
			"Strategy: Retrying same plan (transient error)",
		},
		ErrorKind:    kind,
		ErrorExcerpt: excerpt,
	}
}

// representative picks the first failure as the turn's recorded error. The
// excerpt is cut on a rune boundary so multibyte tool output never leaves a
// broken trailing byte in the retry history.
func representative(failed []executor.Result) (kind, excerpt string) {
	first := failed[0].Err
	excerpt = first.Message
	if runes := []rune(excerpt); len(runes) > excerptLimit {
		excerpt = string(runes[:excerptLimit])
	}
	return first.Kind, excerpt
}

// exhaustionSummary lists up to three representative errors.
func exhaustionSummary(maxRetries int, failed []executor.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ Max retries (%d) exceeded. Last errors:\n", maxRetries)
	shown := failed
	if len(shown) > 3 {
		shown = shown[:3]
	}
	lines := make([]string, 0, len(shown))
	for _, f := range shown {
		lines = append(lines, "- "+f.Err.Message)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

func headErrors(failed []executor.Result, n int) string {
	if len(failed) > n {
		failed = failed[:n]
	}
	msgs := make([]string, 0, len(failed))
	for _, f := range failed {
		msgs = append(msgs, f.Err.Message)
	}
	return strings.Join(msgs, ", ")
}
