package patient

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	ref        *Ref
	refErr     error
	labs       []LabRow
	history    map[string][]LabRow
	conditions []Condition
	focuses    []string
	meds       []Medication
	scores     map[string]float64
	vitals     []Vital

	labsErr error
}

func (f *fakeStore) Patient(ctx context.Context, simplID string) (*Ref, error) {
	if f.refErr != nil {
		return nil, f.refErr
	}
	if f.ref != nil {
		return f.ref, nil
	}
	return &Ref{SimplID: simplID, ClientID: "client-1", FacilityID: "fac-1"}, nil
}

func (f *fakeStore) LatestLabs(ctx context.Context, simplID string) ([]LabRow, error) {
	return f.labs, f.labsErr
}

func (f *fakeStore) LabHistory(ctx context.Context, simplID string, limit int) (map[string][]LabRow, error) {
	return f.history, nil
}

func (f *fakeStore) ActiveConditions(ctx context.Context, simplID string) ([]Condition, error) {
	return f.conditions, nil
}

func (f *fakeStore) CarePlanFocuses(ctx context.Context, simplID string) ([]string, error) {
	return f.focuses, nil
}

func (f *fakeStore) ActiveMedications(ctx context.Context, simplID string) ([]Medication, error) {
	return f.meds, nil
}

func (f *fakeStore) AssessmentScores(ctx context.Context, simplID string) (map[string]float64, error) {
	return f.scores, nil
}

func (f *fakeStore) LatestVitals(ctx context.Context, simplID string) ([]Vital, error) {
	return f.vitals, nil
}

func day(n int) time.Time {
	return time.Date(2026, 8, n, 12, 0, 0, 0, time.UTC)
}

func TestBuildComputesTrendFromHistory(t *testing.T) {
	store := &fakeStore{
		labs: []LabRow{
			{Code: "ALB", Value: 1.8, Unit: "g/dL", EffectiveAt: day(20)},
		},
		history: map[string][]LabRow{
			"ALB": {
				{Code: "ALB", Value: 1.8, EffectiveAt: day(20)},
				{Code: "ALB", Value: 2.4, EffectiveAt: day(10)},
				{Code: "ALB", Value: 2.9, EffectiveAt: day(1)},
			},
		},
	}

	pc, err := NewBuilder(store, nil).Build(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	alb := pc.Lab("ALB")
	if alb == nil {
		t.Fatal("ALB snapshot missing")
	}
	if alb.Trend != TrendFalling {
		t.Errorf("ALB trend = %v, want falling", alb.Trend)
	}
	if alb.PreviousValue == nil || *alb.PreviousValue != 2.4 {
		t.Errorf("ALB previous value = %v, want 2.4", alb.PreviousValue)
	}
}

func TestBuildSingleReadingIsStable(t *testing.T) {
	store := &fakeStore{
		labs: []LabRow{
			{Code: "HGB", Value: 11.2, EffectiveAt: day(15)},
		},
		history: map[string][]LabRow{
			"HGB": {
				{Code: "HGB", Value: 11.2, EffectiveAt: day(15)},
			},
		},
	}

	pc, err := NewBuilder(store, nil).Build(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	hgb := pc.Lab("HGB")
	if hgb == nil {
		t.Fatal("HGB snapshot missing")
	}
	if hgb.Trend != TrendStable {
		t.Errorf("single-reading trend = %v, want stable", hgb.Trend)
	}
	if hgb.PreviousValue != nil {
		t.Errorf("single-reading previous value = %v, want nil", *hgb.PreviousValue)
	}
}

func TestBuildExtractsActiveCodes(t *testing.T) {
	store := &fakeStore{
		conditions: []Condition{
			{ICD10Code: "E44.0", Description: "Moderate protein-calorie malnutrition"},
			{ICD10Code: "", Description: "Coded elsewhere"},
			{ICD10Code: "I50.9", Description: "Heart failure, unspecified"},
		},
	}

	pc, err := NewBuilder(store, nil).Build(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(pc.ActiveICD10Codes) != 2 {
		t.Fatalf("ActiveICD10Codes = %v, want 2 codes", pc.ActiveICD10Codes)
	}
	if !pc.HasCodePrefix("E44") || !pc.HasCodePrefix("I50") {
		t.Error("expected both E44 and I50 prefixes active")
	}
}

func TestBuildPatientNotFound(t *testing.T) {
	store := &fakeStore{refErr: ErrNotFound}

	_, err := NewBuilder(store, nil).Build(context.Background(), "pt-missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Build error = %v, want ErrNotFound", err)
	}
}

func TestBuildStoreFailurePropagates(t *testing.T) {
	store := &fakeStore{labsErr: errors.New("connection reset")}

	pc, err := NewBuilder(store, nil).Build(context.Background(), "pt-1")
	if err == nil {
		t.Fatal("Build succeeded, want error")
	}
	if pc != nil {
		t.Errorf("Build returned partial context %+v, want nil", pc)
	}
}

func TestBuildRequiresSimplID(t *testing.T) {
	if _, err := NewBuilder(&fakeStore{}, nil).Build(context.Background(), ""); err == nil {
		t.Fatal("Build with empty id succeeded, want error")
	}
}
