package analysis

import (
	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// gtubeMalnutritionPrefixes is the malnutrition family weighed by the G-tube
// module (E45 is excluded; developmental delay is not a feeding indication here).
var gtubeMalnutritionPrefixes = []string{"E40", "E41", "E42", "E43", "E44", "E46"}

// progressiveNeuroPrefixes covers ALS, dementia families, Parkinson's, and MS.
var progressiveNeuroPrefixes = []string{"G12.2", "F01", "F02", "F03", "G30", "G20", "G35"}

// headNeckCancerPrefixes covers lip/oral cavity/pharynx (C00-C14) and larynx (C32).
var headNeckCancerPrefixes = []string{
	"C00", "C01", "C02", "C03", "C04", "C05", "C06", "C07",
	"C08", "C09", "C10", "C11", "C12", "C13", "C14", "C32",
}

// GTubeRiskModule flags patients at risk of needing enteral feeding access.
type GTubeRiskModule struct{}

// NewGTubeRiskModule creates the G-tube risk module.
func NewGTubeRiskModule() *GTubeRiskModule {
	return &GTubeRiskModule{}
}

// Key returns the module key.
func (m *GTubeRiskModule) Key() string { return ModuleGTubeRisk }

// Analyze scores enteral-access risk from dysphagia, aspiration, malnutrition,
// protein labs, and diagnoses that impair safe oral intake.
func (m *GTubeRiskModule) Analyze(pc *patient.Context) (*Result, error) {
	sc := newScorecard()

	if codes := pc.MatchingCodes("R13"); len(codes) > 0 {
		sc.add(80, "Dysphagia diagnosis")
		sc.indicator("dysphagia_codes", codes)
	}

	if focuses := pc.MatchingFocuses("dysphagia", "swallow", "aspiration"); len(focuses) > 0 {
		sc.add(30, "Care plan addresses swallowing difficulty")
		sc.indicator("swallowing_focuses", focuses)
	}

	if focuses := pc.MatchingFocuses("pureed", "thickened", "mechanically altered", "mechanical soft"); len(focuses) > 0 {
		sc.add(25, "Modified-texture diet in place")
		sc.indicator("diet_focuses", focuses)
	}

	if codes := pc.MatchingCodes(gtubeMalnutritionPrefixes...); len(codes) > 0 {
		sc.add(40, "Active malnutrition diagnosis")
		sc.indicator("malnutrition_codes", codes)
	}

	if alb := pc.Lab(labAlbumin); alb != nil {
		switch {
		case alb.Value < 2.5:
			sc.addf(40, "Albumin severely low: %.1f g/dL", alb.Value)
		case alb.Value < 3.0:
			sc.addf(20, "Albumin low: %.1f g/dL", alb.Value)
		}
		if alb.Trend == patient.TrendFalling {
			sc.add(15, "Albumin trending down")
		}
		sc.indicator("albumin", alb.Value)
	}

	if prealb := pc.Lab(labPrealbumin); prealb != nil && prealb.Value < 10 {
		sc.addf(25, "Prealbumin low: %.1f mg/dL", prealb.Value)
		sc.indicator("prealbumin", prealb.Value)
	}

	if codes := pc.MatchingCodes("J69"); len(codes) > 0 {
		sc.add(50, "Aspiration pneumonia diagnosis")
		sc.indicator("aspiration_pneumonia_codes", codes)
	}

	if codes := pc.MatchingCodes(progressiveNeuroPrefixes...); len(codes) > 0 {
		sc.add(30, "Progressive neurological condition")
		sc.indicator("neuro_codes", codes)
	}

	if codes := pc.MatchingCodes("I63", "I69"); len(codes) > 0 {
		sc.add(35, "Stroke history")
		sc.indicator("stroke_codes", codes)
	}

	if codes := pc.MatchingCodes(headNeckCancerPrefixes...); len(codes) > 0 {
		sc.add(60, "Head or neck cancer diagnosis")
		sc.indicator("head_neck_cancer_codes", codes)
	}

	if focuses := pc.MatchingFocuses("fluid deficit", "dehydration"); len(focuses) > 0 {
		sc.add(15, "Care plan addresses fluid deficit")
		sc.indicator("hydration_focuses", focuses)
	}

	if focuses := pc.MatchingFocuses("supplement"); len(focuses) > 0 {
		sc.add(10, "Nutritional supplement ordered")
		sc.indicator("supplement_focuses", focuses)
	}

	return sc.result(ModuleGTubeRisk,
		cutoffs{critical: 120, high: 70, medium: 35},
		gtubePriority,
		"No g-tube risk indicators detected"), nil
}

func gtubePriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "evaluate"
	case SeverityMedium, SeverityLow:
		return "monitor"
	default:
		return "none"
	}
}
