package analysis

import (
	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// mtnMalnutritionPrefixes is the E40-E46 protein-calorie malnutrition family.
var mtnMalnutritionPrefixes = []string{"E40", "E41", "E42", "E43", "E44", "E45", "E46"}

// wastingCodePrefixes covers cachexia, muscle wasting, and abnormal weight loss.
var wastingCodePrefixes = []string{"R64", "M62.5", "R63.4"}

// woundCodePrefixes covers pressure ulcers and chronic skin ulcers.
var woundCodePrefixes = []string{"L89", "L97", "L98.4"}

// liverCodePrefixes covers the K70-K74 chronic liver disease families.
var liverCodePrefixes = []string{"K70", "K71", "K72", "K73", "K74"}

// MTNRiskModule flags patients likely to benefit from medical nutrition therapy.
type MTNRiskModule struct{}

// NewMTNRiskModule creates the nutrition therapy risk module.
func NewMTNRiskModule() *MTNRiskModule {
	return &MTNRiskModule{}
}

// Key returns the module key.
func (m *MTNRiskModule) Key() string { return ModuleMTNRisk }

// Analyze scores nutrition-therapy need from visceral protein labs,
// malnutrition and catabolic diagnoses, wound burden, and nutritional
// risk assessments.
func (m *MTNRiskModule) Analyze(pc *patient.Context) (*Result, error) {
	sc := newScorecard()

	if alb := pc.Lab(labAlbumin); alb != nil {
		switch {
		case alb.Value < 2.0:
			sc.addf(90, "Albumin critically low: %.1f g/dL (nutrition therapy strongly indicated)", alb.Value)
		case alb.Value < 2.5:
			sc.addf(60, "Albumin severely low: %.1f g/dL", alb.Value)
		case alb.Value < 3.0:
			sc.addf(35, "Albumin low: %.1f g/dL", alb.Value)
		}
		if alb.Trend == patient.TrendFalling {
			sc.add(25, "Albumin trending down")
		}
		sc.indicator("albumin", alb.Value)
	}

	if prealb := pc.Lab(labPrealbumin); prealb != nil {
		switch {
		case prealb.Value < 5:
			sc.addf(70, "Prealbumin critically low: %.1f mg/dL", prealb.Value)
		case prealb.Value < 10:
			sc.addf(45, "Prealbumin severely low: %.1f mg/dL", prealb.Value)
		case prealb.Value < 15:
			sc.addf(20, "Prealbumin low: %.1f mg/dL", prealb.Value)
		}
		if prealb.Trend == patient.TrendFalling {
			sc.add(15, "Prealbumin trending down")
		}
		sc.indicator("prealbumin", prealb.Value)
	}

	if codes := pc.MatchingCodes(mtnMalnutritionPrefixes...); len(codes) > 0 {
		sc.add(35, "Active malnutrition diagnosis")
		sc.indicator("malnutrition_codes", codes)
	}

	if codes := pc.MatchingCodes(wastingCodePrefixes...); len(codes) > 0 {
		sc.add(30, "Wasting or cachexia diagnosis")
		sc.indicator("wasting_codes", codes)
	}

	if codes := pc.MatchingCodes(woundCodePrefixes...); len(codes) > 0 {
		sc.add(25, "Active pressure wound")
		sc.indicator("wound_codes", codes)
	}

	if codes := pc.MatchingCodes("C"); len(codes) > 0 {
		sc.add(30, "Active cancer diagnosis")
		sc.indicator("cancer_codes", codes)
	}

	if codes := pc.MatchingCodes("J44"); len(codes) > 0 {
		sc.add(15, "COPD")
		sc.indicator("copd_codes", codes)
	}

	if codes := pc.MatchingCodes("I50"); len(codes) > 0 {
		sc.add(15, "Heart failure")
		sc.indicator("heart_failure_codes", codes)
	}

	if codes := pc.MatchingCodes("N18"); len(codes) > 0 {
		sc.add(20, "Chronic kidney disease")
		sc.indicator("ckd_codes", codes)
	}

	if codes := pc.MatchingCodes(liverCodePrefixes...); len(codes) > 0 {
		sc.add(20, "Chronic liver disease")
		sc.indicator("liver_codes", codes)
	}

	if focuses := pc.MatchingFocuses("nutrition"); len(focuses) > 0 {
		sc.add(15, "Care plan addresses nutrition")
		sc.indicator("care_plan_focuses", focuses)
	}

	// First assessment whose description contains "nutrition"/"nutritional"
	// wins; multiple matching assessments are never aggregated.
	if score, ok := pc.AssessmentScore("nutrition", "nutritional"); ok {
		switch {
		case score >= 18:
			sc.addf(25, "Nutritional risk assessment score high: %.0f", score)
		case score >= 12:
			sc.addf(10, "Nutritional risk assessment score elevated: %.0f", score)
		}
		sc.indicator("nutritional_assessment_score", score)
	}

	return sc.result(ModuleMTNRisk,
		cutoffs{critical: 100, high: 60, medium: 30},
		mtnPriority,
		"No nutrition therapy indicators detected"), nil
}

func mtnPriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "evaluate"
	case SeverityMedium, SeverityLow:
		return "monitor"
	default:
		return "none"
	}
}
