package analysis

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

func contextWithLab(code string, value float64, trend patient.Trend) *patient.Context {
	return &patient.Context{
		SimplID: "pt-1",
		Labs: map[string]patient.LabSnapshot{
			code: {Name: code, Value: value, Trend: trend},
		},
	}
}

func TestInfusionCriticallyLowFallingAlbumin(t *testing.T) {
	pc := contextWithLab("ALB", 1.8, patient.TrendFalling)

	res, err := NewInfusionModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if res.Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", res.Severity)
	}
	if res.Score < 120 {
		t.Errorf("score = %d, want >= 120", res.Score)
	}
	if res.Priority != "infuse" {
		t.Errorf("priority = %q, want infuse", res.Priority)
	}
	if !strings.Contains(res.Reasoning, "Albumin critically low: 1.8 g/dL") {
		t.Errorf("reasoning missing albumin finding: %q", res.Reasoning)
	}
	if !strings.Contains(res.Reasoning, "Albumin trending down") {
		t.Errorf("reasoning missing trend finding: %q", res.Reasoning)
	}
	if res.KeyIndicators["albumin"] != 1.8 {
		t.Errorf("albumin indicator = %v, want 1.8", res.KeyIndicators["albumin"])
	}
}

func TestTransfusionHemoglobinBands(t *testing.T) {
	tests := []struct {
		name         string
		hgb          float64
		wantScore    int
		wantSeverity Severity
		wantPriority string
	}{
		{"above all thresholds", 10.5, 0, SeverityNormal, "none"},
		{"borderline low", 9.5, 25, SeverityLow, "monitor"},
		{"low", 8.5, 60, SeverityMedium, "monitor"},
		{"severely low", 7.5, 100, SeverityHigh, "transfuse"},
		{"critically low", 6.5, 150, SeverityCritical, "transfuse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc := contextWithLab("HGB", tt.hgb, patient.TrendStable)

			res, err := NewTransfusionModule().Analyze(pc)
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if res.Score != tt.wantScore {
				t.Errorf("HGB %.1f score = %d, want %d", tt.hgb, res.Score, tt.wantScore)
			}
			if res.Severity != tt.wantSeverity {
				t.Errorf("HGB %.1f severity = %v, want %v", tt.hgb, res.Severity, tt.wantSeverity)
			}
			if res.Priority != tt.wantPriority {
				t.Errorf("HGB %.1f priority = %q, want %q", tt.hgb, res.Priority, tt.wantPriority)
			}
		})
	}
}

func TestTransfusionNoFindings(t *testing.T) {
	pc := contextWithLab("HGB", 10.5, patient.TrendStable)

	res, err := NewTransfusionModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Reasoning != "No transfusion risk indicators detected" {
		t.Errorf("reasoning = %q, want fixed no-findings text", res.Reasoning)
	}
}

func TestTransfusionScoresAreAdditive(t *testing.T) {
	pc := contextWithLab("HGB", 8.5, patient.TrendStable)
	pc.ActiveICD10Codes = []string{"D50.9"}

	res, err := NewTransfusionModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// 60 for the hemoglobin band plus 25 for the anemia diagnosis
	if res.Score != 85 {
		t.Errorf("score = %d, want 85", res.Score)
	}
	if res.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", res.Severity)
	}
	if res.Priority != "transfuse" {
		t.Errorf("priority = %q, want transfuse", res.Priority)
	}
}

func TestFoleyUrinaryRetention(t *testing.T) {
	pc := &patient.Context{
		SimplID:          "pt-1",
		ActiveICD10Codes: []string{"R33.9"},
	}

	res, err := NewFoleyRiskModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if res.Score != 80 {
		t.Errorf("score = %d, want 80", res.Score)
	}
	if res.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", res.Severity)
	}
	if res.Priority != "evaluate" {
		t.Errorf("priority = %q, want evaluate", res.Priority)
	}
	if !strings.Contains(res.Reasoning, "Urinary retention diagnosis") {
		t.Errorf("reasoning = %q, want retention finding", res.Reasoning)
	}
}

func TestFoleyAnticholinergicMedications(t *testing.T) {
	pc := &patient.Context{
		SimplID: "pt-1",
		Medications: []patient.Medication{
			{Name: "Oxybutynin ER 10mg"},
			{Name: "Metformin 500mg", RxNormCode: "6809"},
		},
	}

	res, err := NewFoleyRiskModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Score != 20 {
		t.Errorf("score = %d, want 20", res.Score)
	}
	names, ok := res.KeyIndicators["anticholinergic_medications"].([]string)
	if !ok || len(names) != 1 || names[0] != "Oxybutynin ER 10mg" {
		t.Errorf("anticholinergic indicator = %v, want [Oxybutynin ER 10mg]",
			res.KeyIndicators["anticholinergic_medications"])
	}
}

func TestGTubeDysphagia(t *testing.T) {
	pc := &patient.Context{
		SimplID:          "pt-1",
		ActiveICD10Codes: []string{"R13.10"},
	}

	res, err := NewGTubeRiskModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Score != 80 {
		t.Errorf("score = %d, want 80", res.Score)
	}
	if res.Severity != SeverityHigh {
		t.Errorf("severity = %v, want high", res.Severity)
	}
	if res.Priority != "evaluate" {
		t.Errorf("priority = %q, want evaluate", res.Priority)
	}
}

func TestMTNNutritionalAssessment(t *testing.T) {
	pc := &patient.Context{
		SimplID: "pt-1",
		AssessmentScores: map[string]float64{
			"Quarterly Nutritional Risk Assessment": 19,
		},
	}

	res, err := NewMTNRiskModule().Analyze(pc)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Score != 25 {
		t.Errorf("score = %d, want 25", res.Score)
	}
	if res.Severity != SeverityLow {
		t.Errorf("severity = %v, want low", res.Severity)
	}
	if !strings.Contains(res.Reasoning, "Nutritional risk assessment score high: 19") {
		t.Errorf("reasoning = %q, want assessment finding", res.Reasoning)
	}
}

func TestEmptyContextAllModulesNormal(t *testing.T) {
	pc := &patient.Context{SimplID: "pt-empty"}
	registry := DefaultRegistry(zap.NewNop())

	noFindings := map[string]string{
		ModuleInfusion:    "No infusion risk indicators detected",
		ModuleTransfusion: "No transfusion risk indicators detected",
		ModuleFoleyRisk:   "No foley risk indicators detected",
		ModuleGTubeRisk:   "No g-tube risk indicators detected",
		ModuleMTNRisk:     "No nutrition therapy indicators detected",
	}

	for _, key := range DefaultModuleKeys {
		mod, ok := registry.Get(key)
		if !ok {
			t.Fatalf("module %q missing from default registry", key)
		}

		res, err := mod.Analyze(pc)
		if err != nil {
			t.Fatalf("%s Analyze failed: %v", key, err)
		}
		if res.Severity != SeverityNormal || res.Score != 0 {
			t.Errorf("%s = %v/%d, want normal/0", key, res.Severity, res.Score)
		}
		if res.Priority != "none" {
			t.Errorf("%s priority = %q, want none", key, res.Priority)
		}
		if res.Reasoning != noFindings[key] {
			t.Errorf("%s reasoning = %q, want %q", key, res.Reasoning, noFindings[key])
		}
	}
}

func TestInfusionScoreMonotonicInAlbumin(t *testing.T) {
	mod := NewInfusionModule()

	borderline, err := mod.Analyze(contextWithLab("ALB", 3.4, patient.TrendStable))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	critical, err := mod.Analyze(contextWithLab("ALB", 1.9, patient.TrendStable))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if critical.Score < borderline.Score {
		t.Errorf("lower albumin scored lower: %d < %d", critical.Score, borderline.Score)
	}
	if critical.Severity.Rank() < borderline.Severity.Rank() {
		t.Errorf("lower albumin ranked lower: %v < %v", critical.Severity, borderline.Severity)
	}
}

func TestModulesAreDeterministic(t *testing.T) {
	pc := &patient.Context{
		SimplID: "pt-1",
		Labs: map[string]patient.LabSnapshot{
			"ALB": {Name: "ALB", Value: 2.2, Trend: patient.TrendFalling},
			"HGB": {Name: "HGB", Value: 8.7, Trend: patient.TrendStable},
		},
		ActiveICD10Codes: []string{"E44.0", "D64.9", "R33.9", "L89.152"},
		CarePlanFocuses:  []string{"at risk for altered nutrition", "bladder management"},
		AssessmentScores: map[string]float64{"Nutrition Screen": 14},
	}

	registry := DefaultRegistry(zap.NewNop())
	for _, key := range DefaultModuleKeys {
		mod, _ := registry.Get(key)

		first, err := mod.Analyze(pc)
		if err != nil {
			t.Fatalf("%s Analyze failed: %v", key, err)
		}
		second, err := mod.Analyze(pc)
		if err != nil {
			t.Fatalf("%s Analyze failed: %v", key, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s not deterministic:\nfirst  %+v\nsecond %+v", key, first, second)
		}
	}
}

func TestSeverityCutoffs(t *testing.T) {
	c := cutoffs{critical: 100, high: 60, medium: 30}

	tests := []struct {
		score int
		want  Severity
	}{
		{0, SeverityNormal},
		{1, SeverityLow},
		{29, SeverityLow},
		{30, SeverityMedium},
		{59, SeverityMedium},
		{60, SeverityHigh},
		{99, SeverityHigh},
		{100, SeverityCritical},
		{250, SeverityCritical},
	}

	for _, tt := range tests {
		if got := c.severity(tt.score); got != tt.want {
			t.Errorf("severity(%d) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityNormal, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i].AtLeast(ordered[i-1]) {
			t.Errorf("%v should be at least %v", ordered[i], ordered[i-1])
		}
		if ordered[i-1].AtLeast(ordered[i]) {
			t.Errorf("%v should not be at least %v", ordered[i-1], ordered[i])
		}
	}

	if ParseSeverity("bogus") != SeverityNormal {
		t.Error("ParseSeverity should default unknown values to normal")
	}
	if ParseSeverity("critical") != SeverityCritical {
		t.Error("ParseSeverity should round-trip critical")
	}
}

func TestRegistryOverwrite(t *testing.T) {
	registry := DefaultRegistry(zap.NewNop())
	if len(registry.Keys()) != len(DefaultModuleKeys) {
		t.Fatalf("default registry has %d modules, want %d",
			len(registry.Keys()), len(DefaultModuleKeys))
	}

	registry.Register(NewTransfusionModule())
	if len(registry.Keys()) != len(DefaultModuleKeys) {
		t.Error("re-registering an existing key should overwrite, not add")
	}
}
