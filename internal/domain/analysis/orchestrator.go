package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/patient"
)

// resultTTL is how long a persisted result is considered current.
const resultTTL = 6 * time.Hour

// ErrEmptySimplID is returned when an analysis is requested without a patient id.
var ErrEmptySimplID = errors.New("simpl id is empty")

// ResultStore persists analysis results. SaveResults must atomically mark the
// patient's previous current results stale and insert the new batch.
type ResultStore interface {
	SaveResults(ctx context.Context, simplID string, results []*PersistedResult) error
	CurrentResults(ctx context.Context, simplID string) ([]*PersistedResult, error)
}

// ConfigStore resolves which modules a patient's client has enabled.
type ConfigStore interface {
	EnabledModules(ctx context.Context, simplID string) ([]string, error)
}

// ContextBuilder assembles the clinical snapshot an analysis runs against.
type ContextBuilder interface {
	Build(ctx context.Context, simplID string) (*patient.Context, error)
}

// PatientLister enumerates analyzable patients for facility-wide runs.
type PatientLister interface {
	SyncedPatients(ctx context.Context, facilityID string) ([]patient.Ref, error)
}

// Orchestrator runs the configured risk modules plus the AI reviewer for a
// patient and persists the combined results.
type Orchestrator struct {
	builder  ContextBuilder
	registry *Registry
	reviewer *Reviewer
	results  ResultStore
	config   ConfigStore
	patients PatientLister

	// facilityBudget caps the wall-clock time of a facility-wide run.
	facilityBudget time.Duration

	logger *zap.Logger
	tracer trace.Tracer
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithReviewer attaches the AI reviewer. Without it only rule modules run.
func WithReviewer(r *Reviewer) OrchestratorOption {
	return func(o *Orchestrator) { o.reviewer = r }
}

// WithFacilityBudget caps facility-wide runs at d of wall-clock time.
func WithFacilityBudget(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.facilityBudget = d }
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(
	builder ContextBuilder,
	registry *Registry,
	results ResultStore,
	config ConfigStore,
	patients PatientLister,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		builder:        builder,
		registry:       registry,
		results:        results,
		config:         config,
		patients:       patients,
		facilityBudget: 25 * time.Minute,
		logger:         logger,
		tracer:         otel.Tracer("analysis"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AnalyzePatient runs every enabled module for the patient, appends AI review
// results, and persists the batch. A patient whose context cannot be built
// yields an empty result set and no error; a module failure drops only that
// module's result. Persistence failures are returned to the caller so the run
// can be retried.
func (o *Orchestrator) AnalyzePatient(ctx context.Context, simplID string) ([]*Result, error) {
	if simplID == "" {
		return nil, ErrEmptySimplID
	}

	ctx, span := o.tracer.Start(ctx, "analyze_patient",
		trace.WithAttributes(attribute.String("simpl_id", simplID)))
	defer span.End()

	pc, err := o.builder.Build(ctx, simplID)
	if err != nil {
		o.logger.Warn("skipping analysis, context build failed",
			zap.String("simpl_id", simplID),
			zap.Error(err))
		span.RecordError(err)
		return []*Result{}, nil
	}

	keys := o.enabledModules(ctx, simplID)
	span.SetAttributes(attribute.Int("module_count", len(keys)))

	var results []*Result
	for _, key := range keys {
		module, ok := o.registry.Get(key)
		if !ok {
			o.logger.Warn("enabled module not registered, skipping",
				zap.String("module", key))
			continue
		}
		res, err := o.runModule(ctx, module, pc)
		if err != nil {
			o.logger.Error("module failed",
				zap.String("module", key),
				zap.String("simpl_id", simplID),
				zap.Error(err))
			continue
		}
		results = append(results, res)
	}

	if o.reviewer != nil {
		results = append(results, o.reviewer.Review(ctx, pc, results)...)
	}

	if len(results) > 0 {
		if err := o.persist(ctx, simplID, results); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("persist results for %s: %w", simplID, err)
		}
	}

	return results, nil
}

// runModule isolates a single module run. A panicking module is reported as an
// error rather than taking down the whole patient run.
func (o *Orchestrator) runModule(ctx context.Context, module Module, pc *patient.Context) (res *Result, err error) {
	_, span := o.tracer.Start(ctx, "run_module",
		trace.WithAttributes(attribute.String("module", module.Key())))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module %s panicked: %v", module.Key(), r)
			span.RecordError(err)
		}
	}()

	res, err = module.Analyze(pc)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("module %s returned no result", module.Key())
	}
	return res, nil
}

// enabledModules resolves the client's module list, falling back to the full
// default set when configuration is missing or unreadable.
func (o *Orchestrator) enabledModules(ctx context.Context, simplID string) []string {
	keys, err := o.config.EnabledModules(ctx, simplID)
	if err != nil {
		o.logger.Warn("enabled modules lookup failed, using defaults",
			zap.String("simpl_id", simplID),
			zap.Error(err))
		return DefaultModuleKeys
	}
	if len(keys) == 0 {
		return DefaultModuleKeys
	}
	return keys
}

func (o *Orchestrator) persist(ctx context.Context, simplID string, results []*Result) error {
	now := time.Now().UTC()
	persisted := make([]*PersistedResult, 0, len(results))
	for _, res := range results {
		persisted = append(persisted, &PersistedResult{
			Result:    *res,
			SimplID:   simplID,
			IsCurrent: true,
			ExpiresAt: now.Add(resultTTL),
			CreatedAt: now,
		})
	}
	return o.results.SaveResults(ctx, simplID, persisted)
}

// FacilityRun summarizes a facility-wide analysis pass.
type FacilityRun struct {
	FacilityID string        `json:"facility_id"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Elapsed    time.Duration `json:"elapsed"`
}

// AnalyzeFacility runs AnalyzePatient for every synced patient in the
// facility, sequentially. The wall-clock budget is checked between patients;
// once exceeded, remaining patients are counted as skipped. Per-patient
// failures are tallied, not propagated.
func (o *Orchestrator) AnalyzeFacility(ctx context.Context, facilityID string) (*FacilityRun, error) {
	if facilityID == "" {
		return nil, errors.New("facility id is empty")
	}

	ctx, span := o.tracer.Start(ctx, "analyze_facility",
		trace.WithAttributes(attribute.String("facility_id", facilityID)))
	defer span.End()

	refs, err := o.patients.SyncedPatients(ctx, facilityID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list synced patients for %s: %w", facilityID, err)
	}

	run := &FacilityRun{FacilityID: facilityID, Total: len(refs)}
	start := time.Now()

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			run.Skipped = len(refs) - i
			span.RecordError(err)
			break
		}
		if time.Since(start) > o.facilityBudget {
			run.Skipped = len(refs) - i
			o.logger.Warn("facility run budget exceeded",
				zap.String("facility_id", facilityID),
				zap.Duration("budget", o.facilityBudget),
				zap.Int("skipped", run.Skipped))
			break
		}

		if _, err := o.AnalyzePatient(ctx, ref.SimplID); err != nil {
			run.Failed++
			o.logger.Error("patient analysis failed",
				zap.String("simpl_id", ref.SimplID),
				zap.Error(err))
			continue
		}
		run.Completed++
	}

	run.Elapsed = time.Since(start)
	span.SetAttributes(
		attribute.Int("completed", run.Completed),
		attribute.Int("failed", run.Failed),
		attribute.Int("skipped", run.Skipped),
	)
	o.logger.Info("facility analysis finished",
		zap.String("facility_id", facilityID),
		zap.Int("total", run.Total),
		zap.Int("completed", run.Completed),
		zap.Int("failed", run.Failed),
		zap.Int("skipped", run.Skipped),
		zap.Duration("elapsed", run.Elapsed))

	return run, nil
}
