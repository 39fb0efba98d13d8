package patient

import (
	"testing"
)

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name     string
		latest   float64
		previous float64
		want     Trend
	}{
		{"unchanged", 10.0, 10.0, TrendStable},
		{"small rise within deadband", 10.4, 10.0, TrendStable},
		{"small drop within deadband", 9.6, 10.0, TrendStable},
		{"rise at deadband", 10.5, 10.0, TrendRising},
		{"drop at deadband", 9.5, 10.0, TrendFalling},
		{"large drop", 6.0, 10.0, TrendFalling},
		{"large rise", 14.0, 10.0, TrendRising},
		{"zero previous with positive latest", 5.0, 0, TrendRising},
		{"zero previous with zero latest", 0, 0, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeTrend(tt.latest, tt.previous); got != tt.want {
				t.Errorf("ComputeTrend(%v, %v) = %v, want %v", tt.latest, tt.previous, got, tt.want)
			}
		})
	}
}

func TestLabLookup(t *testing.T) {
	pc := &Context{
		Labs: map[string]LabSnapshot{
			"ALB": {Name: "ALB", Value: 2.1},
		},
	}

	if lab := pc.Lab("ALB"); lab == nil || lab.Value != 2.1 {
		t.Fatalf("Lab(ALB) = %+v, want value 2.1", lab)
	}
	if lab := pc.Lab("HGB"); lab != nil {
		t.Errorf("Lab(HGB) = %+v, want nil", lab)
	}
}

func TestMatchingCodesPrefixSemantics(t *testing.T) {
	pc := &Context{
		ActiveICD10Codes: []string{"E40.1", "E11.9", "R33.9", "D509"},
	}

	got := pc.MatchingCodes("E40", "E41")
	if len(got) != 1 || got[0] != "E40.1" {
		t.Fatalf("MatchingCodes(E40, E41) = %v, want [E40.1]", got)
	}

	// A code matches at most once even when several prefixes apply
	got = pc.MatchingCodes("E4", "E40")
	if len(got) != 1 {
		t.Errorf("MatchingCodes(E4, E40) = %v, want one match", got)
	}

	if !pc.HasCodePrefix("R33") {
		t.Error("HasCodePrefix(R33) = false, want true")
	}
	if pc.HasCodePrefix("N40") {
		t.Error("HasCodePrefix(N40) = true, want false")
	}
}

func TestMatchingFocuses(t *testing.T) {
	pc := &Context{
		CarePlanFocuses: []string{
			"bladder management program",
			"at risk for fluid deficit",
			"wound care",
		},
	}

	got := pc.MatchingFocuses("bladder", "urinary")
	if len(got) != 1 || got[0] != "bladder management program" {
		t.Fatalf("MatchingFocuses = %v, want [bladder management program]", got)
	}

	if pc.HasFocus("dialysis") {
		t.Error("HasFocus(dialysis) = true, want false")
	}
}

func TestMatchingMedications(t *testing.T) {
	pc := &Context{
		Medications: []Medication{
			{Name: "Oxybutynin ER 10mg", RxNormCode: ""},
			{Name: "Lisinopril 5mg", RxNormCode: "29046"},
			{Name: "Unknown Compound", RxNormCode: "32675"},
		},
	}

	codes := map[string]bool{"32675": true}
	names := []string{"oxybutynin"}

	got := pc.MatchingMedications(codes, names)
	if len(got) != 2 {
		t.Fatalf("MatchingMedications returned %d meds, want 2: %v", len(got), got)
	}
}

func TestAssessmentScoreFirstMatchIsDeterministic(t *testing.T) {
	pc := &Context{
		AssessmentScores: map[string]float64{
			"Quarterly Nutritional Risk Assessment": 19,
			"Admission Nutrition Screen":            8,
			"Braden Scale":                          14,
		},
	}

	// Sorted order puts "Admission Nutrition Screen" first; the same match
	// must come back on every call.
	for i := 0; i < 10; i++ {
		score, ok := pc.AssessmentScore("nutrition", "nutritional")
		if !ok {
			t.Fatal("AssessmentScore found no match")
		}
		if score != 8 {
			t.Fatalf("AssessmentScore = %v, want 8 (first sorted match)", score)
		}
	}

	if _, ok := pc.AssessmentScore("mobility"); ok {
		t.Error("AssessmentScore(mobility) matched, want no match")
	}
}
