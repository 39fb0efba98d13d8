package patient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGStore reads clinical data synced from the EHR into Postgres.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a Postgres-backed clinical store.
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, logger: logger}
}

// Patient resolves a patient's client/facility assignment.
func (s *PGStore) Patient(ctx context.Context, simplID string) (*Ref, error) {
	query := `
		SELECT simpl_id, client_id, facility_id
		FROM patients
		WHERE simpl_id = $1
	`
	ref := &Ref{}
	err := s.pool.QueryRow(ctx, query, simplID).Scan(&ref.SimplID, &ref.ClientID, &ref.FacilityID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query patient: %w", err)
	}
	return ref, nil
}

// SyncedPatients returns all synced patients in a facility.
func (s *PGStore) SyncedPatients(ctx context.Context, facilityID string) ([]Ref, error) {
	query := `
		SELECT simpl_id, client_id, facility_id
		FROM patients
		WHERE facility_id = $1
		  AND sync_status = 'synced'
		ORDER BY simpl_id
	`
	rows, err := s.pool.Query(ctx, query, facilityID)
	if err != nil {
		return nil, fmt.Errorf("query synced patients: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var ref Ref
		if err := rows.Scan(&ref.SimplID, &ref.ClientID, &ref.FacilityID); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// LatestLabs returns the most recent numeric reading per observation code.
func (s *PGStore) LatestLabs(ctx context.Context, simplID string) ([]LabRow, error) {
	query := `
		SELECT DISTINCT ON (code)
		       code, value, unit, ref_low, ref_high, is_abnormal, is_critical, effective_at
		FROM lab_results
		WHERE simpl_id = $1
		ORDER BY code, effective_at DESC
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query latest labs: %w", err)
	}
	defer rows.Close()
	return s.scanLabRows(rows)
}

// LabHistory returns up to limit readings per code, newest first.
func (s *PGStore) LabHistory(ctx context.Context, simplID string, limit int) (map[string][]LabRow, error) {
	query := `
		SELECT code, value, unit, ref_low, ref_high, is_abnormal, is_critical, effective_at
		FROM (
			SELECT code, value, unit, ref_low, ref_high, is_abnormal, is_critical, effective_at,
			       ROW_NUMBER() OVER (PARTITION BY code ORDER BY effective_at DESC) AS rn
			FROM lab_results
			WHERE simpl_id = $1
		) ranked
		WHERE rn <= $2
		ORDER BY code, effective_at DESC
	`
	rows, err := s.pool.Query(ctx, query, simplID, limit)
	if err != nil {
		return nil, fmt.Errorf("query lab history: %w", err)
	}
	defer rows.Close()

	flat, err := s.scanLabRows(rows)
	if err != nil {
		return nil, err
	}
	history := make(map[string][]LabRow)
	for _, row := range flat {
		history[row.Code] = append(history[row.Code], row)
	}
	return history, nil
}

// scanLabRows scans lab rows, dropping any row whose value is not numeric.
// Non-numeric results stay visible elsewhere but never feed a threshold.
func (s *PGStore) scanLabRows(rows pgx.Rows) ([]LabRow, error) {
	var out []LabRow
	for rows.Next() {
		var (
			row      LabRow
			rawValue string
		)
		err := rows.Scan(&row.Code, &rawValue, &row.Unit, &row.RefLow, &row.RefHigh,
			&row.IsAbnormal, &row.IsCritical, &row.EffectiveAt)
		if err != nil {
			return nil, fmt.Errorf("scan lab row: %w", err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(rawValue), 64)
		if err != nil {
			s.logger.Debug("skipping non-numeric lab value",
				zap.String("code", row.Code),
				zap.String("value", rawValue))
			continue
		}
		row.Value = value
		out = append(out, row)
	}
	return out, rows.Err()
}

// ActiveConditions returns the patient's active diagnoses.
func (s *PGStore) ActiveConditions(ctx context.Context, simplID string) ([]Condition, error) {
	query := `
		SELECT icd10_code, COALESCE(description, '')
		FROM conditions
		WHERE simpl_id = $1
		  AND status = 'active'
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	var conditions []Condition
	for rows.Next() {
		var c Condition
		if err := rows.Scan(&c.ICD10Code, &c.Description); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		conditions = append(conditions, c)
	}
	return conditions, rows.Err()
}

// CarePlanFocuses returns active care-plan focus descriptions, lower-cased
// for keyword matching.
func (s *PGStore) CarePlanFocuses(ctx context.Context, simplID string) ([]string, error) {
	query := `
		SELECT description
		FROM care_plan_focuses
		WHERE simpl_id = $1
		  AND status = 'active'
		  AND description IS NOT NULL
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query care plan focuses: %w", err)
	}
	defer rows.Close()

	var focuses []string
	for rows.Next() {
		var desc string
		if err := rows.Scan(&desc); err != nil {
			return nil, fmt.Errorf("scan care plan focus: %w", err)
		}
		focuses = append(focuses, strings.ToLower(desc))
	}
	return focuses, rows.Err()
}

// ActiveMedications returns the patient's active medication orders.
func (s *PGStore) ActiveMedications(ctx context.Context, simplID string) ([]Medication, error) {
	query := `
		SELECT name, COALESCE(rxnorm_code, ''), COALESCE(directions, '')
		FROM medications
		WHERE simpl_id = $1
		  AND status = 'active'
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()

	var meds []Medication
	for rows.Next() {
		var m Medication
		if err := rows.Scan(&m.Name, &m.RxNormCode, &m.Directions); err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// AssessmentScores returns the most recent score per distinct assessment description.
func (s *PGStore) AssessmentScores(ctx context.Context, simplID string) (map[string]float64, error) {
	query := `
		SELECT DISTINCT ON (description) description, score
		FROM assessments
		WHERE simpl_id = $1
		  AND score IS NOT NULL
		ORDER BY description, assessed_at DESC
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]float64)
	for rows.Next() {
		var (
			desc  string
			score float64
		)
		if err := rows.Scan(&desc, &score); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		scores[desc] = score
	}
	return scores, rows.Err()
}

// LatestVitals returns the most recent reading per vital type.
func (s *PGStore) LatestVitals(ctx context.Context, simplID string) ([]Vital, error) {
	query := `
		SELECT DISTINCT ON (vital_type) vital_type, value, COALESCE(unit, ''), recorded_at
		FROM vitals
		WHERE simpl_id = $1
		ORDER BY vital_type, recorded_at DESC
	`
	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query vitals: %w", err)
	}
	defer rows.Close()

	var vitals []Vital
	for rows.Next() {
		var v Vital
		if err := rows.Scan(&v.Type, &v.Value, &v.Unit, &v.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan vital: %w", err)
		}
		vitals = append(vitals, v)
	}
	return vitals, rows.Err()
}
