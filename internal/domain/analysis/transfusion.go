package analysis

import (
	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// anemiaCodePrefixes covers the D50-D64 anemia families.
var anemiaCodePrefixes = []string{
	"D50", "D51", "D52", "D53", "D54", "D55", "D56", "D57",
	"D58", "D59", "D60", "D61", "D62", "D63", "D64",
}

// bleedingCodePrefixes covers GI bleeding, diverticular disease, and
// esophageal varices with bleeding.
var bleedingCodePrefixes = []string{"K92.0", "K92.1", "K57", "I85.0"}

// TransfusionModule flags patients whose red-cell indices suggest transfusion.
type TransfusionModule struct{}

// NewTransfusionModule creates the transfusion risk module.
func NewTransfusionModule() *TransfusionModule {
	return &TransfusionModule{}
}

// Key returns the module key.
func (m *TransfusionModule) Key() string { return ModuleTransfusion }

// Analyze scores transfusion need from hemoglobin, hematocrit, RBC, platelets,
// anemia and bleeding diagnoses, and related care-plan focuses.
func (m *TransfusionModule) Analyze(pc *patient.Context) (*Result, error) {
	sc := newScorecard()

	if hgb := pc.Lab(labHemoglobin); hgb != nil {
		switch {
		case hgb.Value < 7.0:
			sc.addf(150, "Hemoglobin critically low: %.1f g/dL", hgb.Value)
		case hgb.Value < 8.0:
			sc.addf(100, "Hemoglobin severely low: %.1f g/dL", hgb.Value)
		case hgb.Value < 9.0:
			sc.addf(60, "Hemoglobin low: %.1f g/dL", hgb.Value)
		case hgb.Value < 10.0:
			sc.addf(25, "Hemoglobin borderline low: %.1f g/dL", hgb.Value)
		}
		if hgb.Trend == patient.TrendFalling {
			sc.add(30, "Hemoglobin trending down")
		}
		sc.indicator("hemoglobin", hgb.Value)
	}

	if hct := pc.Lab(labHematocrit); hct != nil {
		switch {
		case hct.Value < 21:
			sc.addf(80, "Hematocrit critically low: %.1f%%", hct.Value)
		case hct.Value < 24:
			sc.addf(50, "Hematocrit severely low: %.1f%%", hct.Value)
		case hct.Value < 27:
			sc.addf(25, "Hematocrit low: %.1f%%", hct.Value)
		}
		sc.indicator("hematocrit", hct.Value)
	}

	if rbc := pc.Lab(labRBC); rbc != nil && rbc.RefLow != nil && rbc.Value < *rbc.RefLow {
		sc.addf(20, "RBC count below reference range: %.2f", rbc.Value)
		sc.indicator("rbc", rbc.Value)
	}

	if plt := pc.Lab(labPlatelets); plt != nil {
		switch {
		case plt.Value < 50:
			sc.addf(40, "Platelets critically low: %.0f (bleeding risk)", plt.Value)
		case plt.Value < 100:
			sc.addf(20, "Platelets low: %.0f", plt.Value)
		}
		sc.indicator("platelets", plt.Value)
	}

	if codes := pc.MatchingCodes(anemiaCodePrefixes...); len(codes) > 0 {
		sc.add(25, "Active anemia diagnosis")
		sc.indicator("anemia_codes", codes)
	}

	if codes := pc.MatchingCodes(bleedingCodePrefixes...); len(codes) > 0 {
		sc.add(30, "Active bleeding-related diagnosis")
		sc.indicator("bleeding_codes", codes)
	}

	if focuses := pc.MatchingFocuses("anemia", "transfusion", "bleeding"); len(focuses) > 0 {
		sc.add(10, "Care plan addresses anemia or bleeding")
		sc.indicator("care_plan_focuses", focuses)
	}

	return sc.result(ModuleTransfusion,
		cutoffs{critical: 150, high: 80, medium: 40},
		transfusionPriority,
		"No transfusion risk indicators detected"), nil
}

func transfusionPriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "transfuse"
	case SeverityMedium, SeverityLow:
		return "monitor"
	default:
		return "none"
	}
}
