// Package patient builds the immutable clinical context every risk module scores against.
package patient

import (
	"sort"
	"strings"
	"time"
)

// Trend classifies a lab value relative to its immediately preceding reading.
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// trendDeadband is the relative-change threshold below which a lab is considered stable.
const trendDeadband = 0.05

// ComputeTrend classifies the change between the two most recent readings.
// A single reading (previous == 0 with no prior) is handled by the caller;
// here previous must be the actual prior value.
func ComputeTrend(latest, previous float64) Trend {
	if previous == 0 {
		if latest > 0 {
			return TrendRising
		}
		return TrendStable
	}
	change := (latest - previous) / previous
	switch {
	case change >= trendDeadband:
		return TrendRising
	case change <= -trendDeadband:
		return TrendFalling
	default:
		return TrendStable
	}
}

// LabSnapshot is one observation's most recent state plus its computed trend.
type LabSnapshot struct {
	Name          string
	Value         float64
	Unit          string
	RefLow        *float64
	RefHigh       *float64
	IsAbnormal    bool
	IsCritical    bool
	EffectiveAt   time.Time
	Trend         Trend
	PreviousValue *float64
	PreviousDate  *time.Time
}

// Condition is an active diagnosis.
type Condition struct {
	ICD10Code   string
	Description string
}

// Medication is an active medication order.
type Medication struct {
	Name       string
	RxNormCode string
	Directions string
}

// Vital is the latest reading for one vital type.
type Vital struct {
	Type       string
	Value      string
	Unit       string
	RecordedAt time.Time
}

// Context is the complete input to every risk module for one patient,
// built atomically for a single point in time. Modules must not fetch
// anything beyond what it carries.
type Context struct {
	SimplID          string
	Labs             map[string]LabSnapshot
	LabHistory       map[string][]LabSnapshot // newest first, at most historyLimit entries
	ActiveICD10Codes []string
	ActiveConditions []Condition
	CarePlanFocuses  []string // lower-cased free text
	Medications      []Medication
	AssessmentScores map[string]float64
	Vitals           map[string]Vital
}

// Lab returns the latest snapshot for a canonical code, or nil.
func (c *Context) Lab(code string) *LabSnapshot {
	if snap, ok := c.Labs[code]; ok {
		return &snap
	}
	return nil
}

// MatchingCodes returns the active ICD-10 codes starting with any of the prefixes.
func (c *Context) MatchingCodes(prefixes ...string) []string {
	var matched []string
	for _, code := range c.ActiveICD10Codes {
		for _, p := range prefixes {
			if strings.HasPrefix(code, p) {
				matched = append(matched, code)
				break
			}
		}
	}
	return matched
}

// HasCodePrefix reports whether any active ICD-10 code starts with any of the prefixes.
func (c *Context) HasCodePrefix(prefixes ...string) bool {
	return len(c.MatchingCodes(prefixes...)) > 0
}

// MatchingFocuses returns care-plan focuses containing any of the keywords.
// Focuses are stored lower-cased; keywords must be lower-cased too.
func (c *Context) MatchingFocuses(keywords ...string) []string {
	var matched []string
	for _, focus := range c.CarePlanFocuses {
		for _, kw := range keywords {
			if strings.Contains(focus, kw) {
				matched = append(matched, focus)
				break
			}
		}
	}
	return matched
}

// HasFocus reports whether any care-plan focus contains any of the keywords.
func (c *Context) HasFocus(keywords ...string) bool {
	return len(c.MatchingFocuses(keywords...)) > 0
}

// MatchingMedications returns active medications whose RxNorm code is in codes
// or whose name contains any of the name substrings (case-insensitive).
func (c *Context) MatchingMedications(codes map[string]bool, nameSubstrings []string) []Medication {
	var matched []Medication
	for _, med := range c.Medications {
		if med.RxNormCode != "" && codes[med.RxNormCode] {
			matched = append(matched, med)
			continue
		}
		name := strings.ToLower(med.Name)
		for _, sub := range nameSubstrings {
			if strings.Contains(name, sub) {
				matched = append(matched, med)
				break
			}
		}
	}
	return matched
}

// AssessmentScore returns the score of the first assessment whose description
// contains any of the substrings (case-insensitive). "First" is deterministic:
// descriptions are scanned in sorted order. Only one match is ever used.
func (c *Context) AssessmentScore(substrings ...string) (float64, bool) {
	keys := make([]string, 0, len(c.AssessmentScores))
	for k := range c.AssessmentScores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		desc := strings.ToLower(k)
		for _, sub := range substrings {
			if strings.Contains(desc, sub) {
				return c.AssessmentScores[k], true
			}
		}
	}
	return 0, false
}
