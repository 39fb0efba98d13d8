package analysis

import (
	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// anticholinergicRxNorms are normalized drug identifiers for medications with
// clinically significant urinary-retention side effects.
var anticholinergicRxNorms = map[string]bool{
	"32675":  true, // oxybutynin
	"37801":  true, // tolterodine
	"398699": true, // solifenacin
	"341247": true, // darifenacin
	"665871": true, // fesoterodine
	"10754":  true, // trospium
	"27084":  true, // hyoscyamine
	"3361":   true, // dicyclomine
	"1223":   true, // benztropine
	"3498":   true, // diphenhydramine
	"704":    true, // amitriptyline
	"7531":   true, // nortriptyline
}

// anticholinergicNames backs name-substring matching when no RxNorm code is synced.
var anticholinergicNames = []string{
	"oxybutynin", "tolterodine", "solifenacin", "darifenacin", "fesoterodine",
	"trospium", "hyoscyamine", "dicyclomine", "benztropine", "diphenhydramine",
	"amitriptyline", "nortriptyline",
}

// FoleyRiskModule flags patients at risk of needing an indwelling urinary catheter.
type FoleyRiskModule struct{}

// NewFoleyRiskModule creates the foley risk module.
func NewFoleyRiskModule() *FoleyRiskModule {
	return &FoleyRiskModule{}
}

// Key returns the module key.
func (m *FoleyRiskModule) Key() string { return ModuleFoleyRisk }

// Analyze scores catheter risk from urinary-retention and related diagnoses,
// anticholinergic medication burden, and bladder-management care-plan focuses.
func (m *FoleyRiskModule) Analyze(pc *patient.Context) (*Result, error) {
	sc := newScorecard()

	if codes := pc.MatchingCodes("R33"); len(codes) > 0 {
		sc.add(80, "Urinary retention diagnosis")
		sc.indicator("retention_codes", codes)
	}

	if codes := pc.MatchingCodes("N40", "N41", "N42"); len(codes) > 0 {
		sc.add(50, "Prostate disorder diagnosis")
		sc.indicator("prostate_codes", codes)
	}

	if codes := pc.MatchingCodes("N31"); len(codes) > 0 {
		sc.add(60, "Neurogenic bladder diagnosis")
		sc.indicator("neurogenic_bladder_codes", codes)
	}

	if codes := pc.MatchingCodes("N39.3", "N39.4", "R32"); len(codes) > 0 {
		sc.add(30, "Urinary incontinence diagnosis")
		sc.indicator("incontinence_codes", codes)
	}

	if codes := pc.MatchingCodes("G95", "G83.4", "S14", "S24", "S34"); len(codes) > 0 {
		sc.add(50, "Spinal cord or cauda equina involvement")
		sc.indicator("spinal_codes", codes)
	}

	if codes := pc.MatchingCodes("G20"); len(codes) > 0 {
		sc.add(25, "Parkinson's disease")
		sc.indicator("parkinsons_codes", codes)
	}

	if codes := pc.MatchingCodes("N39.0", "N30"); len(codes) > 0 {
		sc.add(20, "Urinary tract infection diagnosis")
		sc.indicator("uti_codes", codes)
	}

	if codes := pc.MatchingCodes("E10", "E11", "E13"); len(codes) > 0 {
		sc.add(15, "Diabetes mellitus")
		sc.indicator("diabetes_codes", codes)
	}

	if meds := pc.MatchingMedications(anticholinergicRxNorms, anticholinergicNames); len(meds) > 0 {
		names := make([]string, 0, len(meds))
		for _, med := range meds {
			names = append(names, med.Name)
		}
		sc.add(20, "Active anticholinergic medication")
		sc.indicator("anticholinergic_medications", names)
	}

	if focuses := pc.MatchingFocuses("bladder", "urinary", "foley", "catheter", "incontinence", "prostate"); len(focuses) > 0 {
		sc.add(20, "Care plan addresses bladder management")
		sc.indicator("care_plan_focuses", focuses)
	}

	return sc.result(ModuleFoleyRisk,
		cutoffs{critical: 100, high: 60, medium: 30},
		foleyPriority,
		"No foley risk indicators detected"), nil
}

func foleyPriority(s Severity) string {
	switch s {
	case SeverityCritical, SeverityHigh:
		return "evaluate"
	case SeverityMedium, SeverityLow:
		return "monitor"
	default:
		return "none"
	}
}
