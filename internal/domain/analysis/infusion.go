package analysis

import (
	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// Canonical lab codes used by the risk modules.
const (
	labAlbumin      = "ALB"
	labPrealbumin   = "PREALB"
	labTotalProtein = "TP"
	labHemoglobin   = "HGB"
	labHematocrit   = "HCT"
	labRBC          = "RBC"
	labPlatelets    = "PLT"
)

// malnutritionCodePrefixes covers protein-calorie malnutrition and related
// wasting diagnoses (E40-E46, E50) plus muscle wasting and cachexia.
var malnutritionCodePrefixes = []string{"E40", "E41", "E42", "E43", "E44", "E45", "E46", "E50", "M62.5", "R64"}

// InfusionModule flags patients whose protein status suggests IV protein or
// fluid support.
type InfusionModule struct{}

// NewInfusionModule creates the infusion risk module.
func NewInfusionModule() *InfusionModule {
	return &InfusionModule{}
}

// Key returns the module key.
func (m *InfusionModule) Key() string { return ModuleInfusion }

// Analyze scores infusion need from albumin, prealbumin, total protein,
// malnutrition diagnoses, and nutrition-related care-plan focuses.
func (m *InfusionModule) Analyze(pc *patient.Context) (*Result, error) {
	sc := newScorecard()

	if alb := pc.Lab(labAlbumin); alb != nil {
		switch {
		case alb.Value < 2.0:
			sc.addf(100, "Albumin critically low: %.1f g/dL", alb.Value)
		case alb.Value < 2.5:
			sc.addf(70, "Albumin severely low: %.1f g/dL", alb.Value)
		case alb.Value < 3.0:
			sc.addf(40, "Albumin low: %.1f g/dL", alb.Value)
		case alb.Value < 3.5:
			sc.addf(15, "Albumin borderline low: %.1f g/dL", alb.Value)
		}
		if alb.Trend == patient.TrendFalling {
			sc.add(20, "Albumin trending down")
		}
		sc.indicator("albumin", alb.Value)
	}

	if prealb := pc.Lab(labPrealbumin); prealb != nil {
		switch {
		case prealb.Value < 5:
			sc.addf(80, "Prealbumin critically low: %.1f mg/dL", prealb.Value)
		case prealb.Value < 10:
			sc.addf(50, "Prealbumin severely low: %.1f mg/dL", prealb.Value)
		case prealb.Value < 15:
			sc.addf(25, "Prealbumin low: %.1f mg/dL", prealb.Value)
		}
		if prealb.Trend == patient.TrendFalling {
			sc.add(15, "Prealbumin trending down")
		}
		sc.indicator("prealbumin", prealb.Value)
	}

	if tp := pc.Lab(labTotalProtein); tp != nil && tp.Value < 5.5 {
		sc.addf(30, "Total protein low: %.1f g/dL", tp.Value)
		sc.indicator("total_protein", tp.Value)
	}

	if codes := pc.MatchingCodes(malnutritionCodePrefixes...); len(codes) > 0 {
		sc.add(30, "Active malnutrition diagnosis")
		sc.indicator("malnutrition_codes", codes)
	}

	if focuses := pc.MatchingFocuses("nutrition", "fluid"); len(focuses) > 0 {
		sc.add(15, "Care plan addresses nutrition or fluid status")
		sc.indicator("care_plan_focuses", focuses)
	}

	return sc.result(ModuleInfusion,
		cutoffs{critical: 100, high: 60, medium: 30},
		infusionPriority,
		"No infusion risk indicators detected"), nil
}

func infusionPriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "infuse"
	case SeverityMedium, SeverityLow:
		return "monitor"
	default:
		return "none"
	}
}
