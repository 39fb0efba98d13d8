package patient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFound indicates the patient has no resolvable record in the store.
var ErrNotFound = errors.New("patient not found")

// historyLimit is the maximum number of historical readings kept per lab.
const historyLimit = 10

// LabRow is one numeric lab reading as read from the store.
type LabRow struct {
	Code        string
	Value       float64
	Unit        string
	RefLow      *float64
	RefHigh     *float64
	IsAbnormal  bool
	IsCritical  bool
	EffectiveAt time.Time
}

// Ref identifies a patient and its client/facility assignment.
type Ref struct {
	SimplID    string
	ClientID   string
	FacilityID string
}

// Store reads a patient's clinical data. Implementations must exclude rows
// without a parseable numeric value from the lab reads.
type Store interface {
	Patient(ctx context.Context, simplID string) (*Ref, error)
	LatestLabs(ctx context.Context, simplID string) ([]LabRow, error)
	// LabHistory returns up to limit readings per code, newest first.
	LabHistory(ctx context.Context, simplID string, limit int) (map[string][]LabRow, error)
	ActiveConditions(ctx context.Context, simplID string) ([]Condition, error)
	CarePlanFocuses(ctx context.Context, simplID string) ([]string, error)
	ActiveMedications(ctx context.Context, simplID string) ([]Medication, error)
	// AssessmentScores returns the most recent score per distinct description.
	AssessmentScores(ctx context.Context, simplID string) (map[string]float64, error)
	// LatestVitals returns the most recent reading per vital type.
	LatestVitals(ctx context.Context, simplID string) ([]Vital, error)
}

// Builder assembles a Context from independent store reads.
type Builder struct {
	store  Store
	logger *zap.Logger
}

// NewBuilder creates a context builder.
func NewBuilder(store Store, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{store: store, logger: logger}
}

// Build returns the patient's clinical context, or an error when the patient
// cannot be resolved or the store is unreachable. Callers treat an error as
// "skip this patient"; nothing is partially built.
func (b *Builder) Build(ctx context.Context, simplID string) (*Context, error) {
	if simplID == "" {
		return nil, errors.New("simpl id is required")
	}

	if _, err := b.store.Patient(ctx, simplID); err != nil {
		return nil, err
	}

	pc := &Context{SimplID: simplID}

	var (
		labs    []LabRow
		history map[string][]LabRow
	)

	// The reads are independent and order-free; issue them together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		labs, err = b.store.LatestLabs(gctx, simplID)
		return err
	})
	g.Go(func() (err error) {
		history, err = b.store.LabHistory(gctx, simplID, historyLimit)
		return err
	})
	g.Go(func() (err error) {
		pc.ActiveConditions, err = b.store.ActiveConditions(gctx, simplID)
		return err
	})
	g.Go(func() (err error) {
		pc.CarePlanFocuses, err = b.store.CarePlanFocuses(gctx, simplID)
		return err
	})
	g.Go(func() (err error) {
		pc.Medications, err = b.store.ActiveMedications(gctx, simplID)
		return err
	})
	g.Go(func() (err error) {
		pc.AssessmentScores, err = b.store.AssessmentScores(gctx, simplID)
		return err
	})
	g.Go(func() (err error) {
		vitals, err := b.store.LatestVitals(gctx, simplID)
		if err != nil {
			return err
		}
		pc.Vitals = make(map[string]Vital, len(vitals))
		for _, v := range vitals {
			pc.Vitals[v.Type] = v
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		b.logger.Warn("context build failed",
			zap.String("simpl_id", simplID),
			zap.Error(err))
		return nil, err
	}

	pc.Labs = make(map[string]LabSnapshot, len(labs))
	pc.LabHistory = make(map[string][]LabSnapshot, len(history))
	for code, rows := range history {
		snaps := make([]LabSnapshot, 0, len(rows))
		for _, row := range rows {
			snaps = append(snaps, snapshotFromRow(row))
		}
		pc.LabHistory[code] = snaps
	}
	for _, row := range labs {
		pc.Labs[row.Code] = latestSnapshot(row, pc.LabHistory[row.Code])
	}

	for _, cond := range pc.ActiveConditions {
		if cond.ICD10Code != "" {
			pc.ActiveICD10Codes = append(pc.ActiveICD10Codes, cond.ICD10Code)
		}
	}

	if pc.AssessmentScores == nil {
		pc.AssessmentScores = map[string]float64{}
	}
	if pc.Vitals == nil {
		pc.Vitals = map[string]Vital{}
	}

	return pc, nil
}

func snapshotFromRow(row LabRow) LabSnapshot {
	return LabSnapshot{
		Name:        row.Code,
		Value:       row.Value,
		Unit:        row.Unit,
		RefLow:      row.RefLow,
		RefHigh:     row.RefHigh,
		IsAbnormal:  row.IsAbnormal,
		IsCritical:  row.IsCritical,
		EffectiveAt: row.EffectiveAt,
		Trend:       TrendStable,
	}
}

// latestSnapshot builds the latest snapshot for a lab, recomputing the trend
// from that lab's own history slice. A single reading is always stable.
func latestSnapshot(row LabRow, hist []LabSnapshot) LabSnapshot {
	snap := snapshotFromRow(row)
	// hist is newest first; the previous reading is the first entry older
	// than the latest one.
	for _, h := range hist {
		if h.EffectiveAt.Before(row.EffectiveAt) {
			prevValue := h.Value
			prevDate := h.EffectiveAt
			snap.PreviousValue = &prevValue
			snap.PreviousDate = &prevDate
			snap.Trend = ComputeTrend(row.Value, prevValue)
			break
		}
	}
	return snap
}
