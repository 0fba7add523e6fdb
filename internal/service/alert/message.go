package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentsight-io/agentsight/internal/model"
)

// judgmentWords are evaluative terms alert text must never contain.
// Drift alerts report magnitude; whether a change is good or bad is the
// reader's call.
var judgmentWords = []string{
	"better",
	"worse",
	"correct",
	"incorrect",
	"optimal",
	"suboptimal",
	"degraded",
	"improved",
	"fix",
	"should",
}

// FormatMessage renders a drift record as neutral alert text. No
// metadata, no free-form content, only identifiers and numbers.
func FormatMessage(d model.BehaviorDrift) string {
	return fmt.Sprintf(
		"Behavior drift detected: agent=%s version=%s env=%s type=%s metric=%s baseline=%.4f observed=%.4f delta=%+.1f%% severity=%s test=%s significance=%.4f sample=%d baseline_id=%s detected=%s window=%s/%s",
		d.AgentID, d.AgentVersion, d.Environment, d.DriftType, d.Metric,
		d.BaselineValue, d.ObservedValue, d.DeltaPercent, d.Severity,
		d.TestMethod, d.Significance, d.ObservationSampleSize, d.BaselineID,
		d.DetectedAt.Format(time.RFC3339),
		d.ObservationWindowStart.Format(time.RFC3339),
		d.ObservationWindowEnd.Format(time.RFC3339),
	)
}

// ContainsJudgment reports whether text carries an evaluative term.
// Matching is case-insensitive on word boundaries.
func ContainsJudgment(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range judgmentWords {
		idx := 0
		for {
			i := strings.Index(lower[idx:], w)
			if i < 0 {
				break
			}
			start := idx + i
			end := start + len(w)
			if (start == 0 || !isWordChar(lower[start-1])) &&
				(end == len(lower) || !isWordChar(lower[end])) {
				return true
			}
			idx = start + 1
		}
	}
	return false
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
