// Package analysis implements the rule-based clinical risk engine: the five
// risk modules, the AI second-opinion reviewer, and the orchestration that
// scores a patient and persists the results.
package analysis

import "time"

// Severity is the ordered outcome level shared by all modules. Severities are
// comparable across modules; scores are not.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from normal (0) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity maps a string onto the severity enum, defaulting to normal.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	default:
		return SeverityNormal
	}
}

// Result is one module's output for one patient. AI-sourced results carry an
// "ai_" prefix on AnalysisType.
type Result struct {
	AnalysisType  string                 `json:"analysis_type"`
	Severity      Severity               `json:"severity"`
	Score         int                    `json:"score"`
	Priority      string                 `json:"priority"`
	Reasoning     string                 `json:"reasoning"`
	KeyIndicators map[string]interface{} `json:"key_indicators"`
}

// PersistedResult is a result row as read back from the store.
type PersistedResult struct {
	Result
	SimplID   string    `json:"simpl_id"`
	IsCurrent bool      `json:"is_current"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// cutoffs maps an accumulated score onto a severity using a module's own
// strictly increasing step function.
type cutoffs struct {
	critical int
	high     int
	medium   int
}

func (c cutoffs) severity(score int) Severity {
	switch {
	case score >= c.critical:
		return SeverityCritical
	case score >= c.high:
		return SeverityHigh
	case score >= c.medium:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityNormal
	}
}
