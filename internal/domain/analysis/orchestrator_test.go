package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

type fakeBuilder struct {
	pc  *patient.Context
	err error
}

func (f *fakeBuilder) Build(ctx context.Context, simplID string) (*patient.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.pc != nil {
		return f.pc, nil
	}
	return &patient.Context{SimplID: simplID}, nil
}

// fakeResultStore mimics the invalidate-then-insert contract of the real store.
type fakeResultStore struct {
	rows    []*PersistedResult
	saveErr error
	saves   int
}

func (f *fakeResultStore) SaveResults(ctx context.Context, simplID string, results []*PersistedResult) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	for _, row := range f.rows {
		if row.SimplID == simplID {
			row.IsCurrent = false
		}
	}
	f.rows = append(f.rows, results...)
	return nil
}

func (f *fakeResultStore) CurrentResults(ctx context.Context, simplID string) ([]*PersistedResult, error) {
	var current []*PersistedResult
	for _, row := range f.rows {
		if row.SimplID == simplID && row.IsCurrent {
			current = append(current, row)
		}
	}
	return current, nil
}

type fakeConfigStore struct {
	keys []string
	err  error
}

func (f *fakeConfigStore) EnabledModules(ctx context.Context, simplID string) ([]string, error) {
	return f.keys, f.err
}

type fakeLister struct {
	refs []patient.Ref
	err  error
}

func (f *fakeLister) SyncedPatients(ctx context.Context, facilityID string) ([]patient.Ref, error) {
	return f.refs, f.err
}

type panickingModule struct{ key string }

func (m *panickingModule) Key() string { return m.key }
func (m *panickingModule) Analyze(pc *patient.Context) (*Result, error) {
	panic("nil map write")
}

func newTestOrchestrator(builder *fakeBuilder, store *fakeResultStore, config *fakeConfigStore, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(builder, DefaultRegistry(zap.NewNop()), store, config,
		&fakeLister{}, zap.NewNop(), opts...)
}

func TestAnalyzePatientEmptyID(t *testing.T) {
	o := newTestOrchestrator(&fakeBuilder{}, &fakeResultStore{}, &fakeConfigStore{})

	_, err := o.AnalyzePatient(context.Background(), "")
	if !errors.Is(err, ErrEmptySimplID) {
		t.Fatalf("error = %v, want ErrEmptySimplID", err)
	}
}

func TestAnalyzePatientRunsAllDefaultModules(t *testing.T) {
	store := &fakeResultStore{}
	o := newTestOrchestrator(&fakeBuilder{}, store, &fakeConfigStore{})

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient failed: %v", err)
	}
	if len(results) != len(DefaultModuleKeys) {
		t.Fatalf("got %d results, want %d", len(results), len(DefaultModuleKeys))
	}

	current, _ := store.CurrentResults(context.Background(), "pt-1")
	if len(current) != len(DefaultModuleKeys) {
		t.Errorf("persisted %d current rows, want %d", len(current), len(DefaultModuleKeys))
	}
	for _, row := range current {
		if !row.ExpiresAt.After(row.CreatedAt) {
			t.Errorf("%s expiry %v not after creation %v", row.AnalysisType, row.ExpiresAt, row.CreatedAt)
		}
	}
}

func TestAnalyzePatientContextFailureSkips(t *testing.T) {
	store := &fakeResultStore{}
	o := newTestOrchestrator(&fakeBuilder{err: errors.New("sync incomplete")}, store, &fakeConfigStore{})

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient = %v, want nil error on build failure", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if store.saves != 0 {
		t.Errorf("store saved %d times, want 0", store.saves)
	}
}

func TestAnalyzePatientModulePanicDropsOnlyThatModule(t *testing.T) {
	registry := DefaultRegistry(zap.NewNop())
	registry.Register(&panickingModule{key: ModuleTransfusion})

	o := NewOrchestrator(&fakeBuilder{}, registry, &fakeResultStore{},
		&fakeConfigStore{}, &fakeLister{}, zap.NewNop())

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient failed: %v", err)
	}
	if len(results) != len(DefaultModuleKeys)-1 {
		t.Fatalf("got %d results, want %d", len(results), len(DefaultModuleKeys)-1)
	}
	for _, res := range results {
		if res.AnalysisType == ModuleTransfusion {
			t.Error("panicking module still produced a result")
		}
	}
}

func TestAnalyzePatientConfigFallback(t *testing.T) {
	o := newTestOrchestrator(&fakeBuilder{}, &fakeResultStore{},
		&fakeConfigStore{err: errors.New("client row missing")})

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient failed: %v", err)
	}
	if len(results) != len(DefaultModuleKeys) {
		t.Errorf("got %d results, want full default set on config error", len(results))
	}
}

func TestAnalyzePatientUnknownEnabledModuleSkipped(t *testing.T) {
	o := newTestOrchestrator(&fakeBuilder{}, &fakeResultStore{},
		&fakeConfigStore{keys: []string{ModuleInfusion, "dialysis_risk"}})

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient failed: %v", err)
	}
	if len(results) != 1 || results[0].AnalysisType != ModuleInfusion {
		t.Errorf("results = %+v, want only infusion", results)
	}
}

func TestAnalyzePatientRerunReplacesCurrentResults(t *testing.T) {
	store := &fakeResultStore{}
	o := newTestOrchestrator(&fakeBuilder{}, store, &fakeConfigStore{})

	for i := 0; i < 2; i++ {
		if _, err := o.AnalyzePatient(context.Background(), "pt-1"); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	current, _ := store.CurrentResults(context.Background(), "pt-1")
	seen := make(map[string]int)
	for _, row := range current {
		seen[row.AnalysisType]++
	}
	for analysisType, count := range seen {
		if count != 1 {
			t.Errorf("%s has %d current rows after rerun, want 1", analysisType, count)
		}
	}
	if len(store.rows) != 2*len(DefaultModuleKeys) {
		t.Errorf("store holds %d rows, want %d (stale rows retained)",
			len(store.rows), 2*len(DefaultModuleKeys))
	}
}

func TestAnalyzePatientPersistErrorPropagates(t *testing.T) {
	o := newTestOrchestrator(&fakeBuilder{}, &fakeResultStore{saveErr: errors.New("deadlock detected")},
		&fakeConfigStore{})

	_, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err == nil {
		t.Fatal("AnalyzePatient succeeded, want persist error")
	}
	if !strings.Contains(err.Error(), "persist results") {
		t.Errorf("error = %v, want persist wrapping", err)
	}
}

func TestAnalyzePatientAppendsReviewerResults(t *testing.T) {
	llm := &fakeLLM{response: `{"assessments":[{"type":"infusion","severity":"high","confidence":0.8,"reasoning":"r"}]}`}
	builder := &fakeBuilder{pc: &patient.Context{
		SimplID: "pt-1",
		Labs: map[string]patient.LabSnapshot{
			"ALB": {Name: "ALB", Value: 1.8, Trend: patient.TrendFalling},
		},
	}}

	o := newTestOrchestrator(builder, &fakeResultStore{}, &fakeConfigStore{},
		WithReviewer(NewReviewer(llm, time.Second, nil)))

	results, err := o.AnalyzePatient(context.Background(), "pt-1")
	if err != nil {
		t.Fatalf("AnalyzePatient failed: %v", err)
	}

	var aiCount int
	for _, res := range results {
		if strings.HasPrefix(res.AnalysisType, "ai_") {
			aiCount++
		}
	}
	if aiCount != 1 {
		t.Errorf("got %d ai results, want 1", aiCount)
	}
	if len(results) != len(DefaultModuleKeys)+1 {
		t.Errorf("got %d results, want %d", len(results), len(DefaultModuleKeys)+1)
	}
}

func TestAnalyzeFacility(t *testing.T) {
	lister := &fakeLister{refs: []patient.Ref{
		{SimplID: "pt-1", FacilityID: "fac-1"},
		{SimplID: "pt-2", FacilityID: "fac-1"},
		{SimplID: "pt-3", FacilityID: "fac-1"},
	}}
	store := &fakeResultStore{}

	o := NewOrchestrator(&fakeBuilder{}, DefaultRegistry(zap.NewNop()), store,
		&fakeConfigStore{}, lister, zap.NewNop())

	run, err := o.AnalyzeFacility(context.Background(), "fac-1")
	if err != nil {
		t.Fatalf("AnalyzeFacility failed: %v", err)
	}
	if run.Total != 3 || run.Completed != 3 || run.Failed != 0 || run.Skipped != 0 {
		t.Errorf("run = %+v, want 3 total, 3 completed", run)
	}
}

func TestAnalyzeFacilityBudgetSkipsRemainder(t *testing.T) {
	lister := &fakeLister{refs: []patient.Ref{
		{SimplID: "pt-1"}, {SimplID: "pt-2"}, {SimplID: "pt-3"},
	}}

	o := NewOrchestrator(&fakeBuilder{}, DefaultRegistry(zap.NewNop()),
		&fakeResultStore{}, &fakeConfigStore{}, lister, zap.NewNop(),
		WithFacilityBudget(-time.Second))

	run, err := o.AnalyzeFacility(context.Background(), "fac-1")
	if err != nil {
		t.Fatalf("AnalyzeFacility failed: %v", err)
	}
	if run.Skipped != 3 || run.Completed != 0 {
		t.Errorf("run = %+v, want all 3 skipped under exhausted budget", run)
	}
}

func TestAnalyzeFacilityPerPatientFailureTallied(t *testing.T) {
	lister := &fakeLister{refs: []patient.Ref{{SimplID: "pt-1"}, {SimplID: "pt-2"}}}
	store := &fakeResultStore{saveErr: errors.New("connection refused")}

	o := NewOrchestrator(&fakeBuilder{}, DefaultRegistry(zap.NewNop()), store,
		&fakeConfigStore{}, lister, zap.NewNop())

	run, err := o.AnalyzeFacility(context.Background(), "fac-1")
	if err != nil {
		t.Fatalf("AnalyzeFacility = %v, want nil error with failures tallied", err)
	}
	if run.Failed != 2 || run.Completed != 0 {
		t.Errorf("run = %+v, want 2 failed", run)
	}
}

func TestAnalyzeFacilityEmptyID(t *testing.T) {
	o := newTestOrchestrator(&fakeBuilder{}, &fakeResultStore{}, &fakeConfigStore{})
	if _, err := o.AnalyzeFacility(context.Background(), ""); err == nil {
		t.Fatal("AnalyzeFacility with empty id succeeded, want error")
	}
}
