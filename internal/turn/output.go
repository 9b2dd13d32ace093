package turn

import (
	"fmt"
	"strings"

	"tinker/internal/executor"
	"tinker/internal/plan"
)

const resultPreviewLimit = 200

// formatResponse renders the user-facing turn report: a headline, per-step
// details, and the list of modified files. results covers executed steps
// only; steps the executor never reached do not appear.
func formatResponse(steps []plan.Step, results []executor.Result, filesModified []string) string {
	var parts []string

	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	total := len(results)

	switch {
	case total > 0 && successCount == total:
		parts = append(parts, fmt.Sprintf("✅ Completed all %d steps successfully!", total))
	case successCount > 0:
		parts = append(parts, fmt.Sprintf("⚠️  Completed %d/%d steps", successCount, total))
	default:
		parts = append(parts, "❌ Execution failed")
	}

	parts = append(parts, "\n📋 Execution Details:")
	for _, r := range results {
		status := "✅"
		if !r.Success {
			status = "❌"
		}
		desc := string(r.Action)
		if r.Seq-1 < len(steps) && steps[r.Seq-1].Description != "" {
			desc = steps[r.Seq-1].Description
		}
		parts = append(parts, fmt.Sprintf("%s Step %d: %s", status, r.Seq, desc))

		if r.Success && r.Output != "" {
			parts = append(parts, fmt.Sprintf("   → %s", previewOutput(r.Output)))
		} else if !r.Success && r.Err != nil {
			parts = append(parts, fmt.Sprintf("   → Error: %s", r.Err.Message))
		}
	}

	if len(filesModified) > 0 {
		parts = append(parts, fmt.Sprintf("\n📁 Files modified: %s", strings.Join(filesModified, ", ")))
	}
	return strings.Join(parts, "\n")
}

// previewOutput truncates on a rune boundary so multibyte tool output never
// renders an invalid trailing byte.
func previewOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= resultPreviewLimit {
		return s
	}
	return string(runes[:resultPreviewLimit]) + "..."
}

// historySummary is the concise assistant line recorded in the conversation
// window instead of the full report.
func historySummary(results []executor.Result, filesModified []string) string {
	successCount := 0
	for _, r := range results {
		if r.Success {
			successCount++
		}
	}
	summary := fmt.Sprintf("Completed %d/%d steps.", successCount, len(results))
	if len(filesModified) > 0 {
		summary += fmt.Sprintf(" Modified: %s", strings.Join(filesModified, ", "))
	}
	return summary
}
