package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/simplhealth/go-cds/internal/domain/analysis"
	"github.com/simplhealth/go-cds/internal/infrastructure/redpanda"
)

// ResultStore persists analysis results and emits completion events through
// the outbox, all within one transaction.
type ResultStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewResultStore creates a result store over the given pool.
func NewResultStore(pool *pgxpool.Pool, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{pool: pool, logger: logger}
}

// analysisCompletedEvent is the outbox payload for a persisted batch.
type analysisCompletedEvent struct {
	EventID     string    `json:"event_id"`
	SimplID     string    `json:"simpl_id"`
	ResultCount int       `json:"result_count"`
	Severities  []string  `json:"severities"`
	CompletedAt time.Time `json:"completed_at"`
}

// SaveResults marks the patient's previous current results stale, inserts the
// new batch, and writes the completion event. All three commit or roll back
// together, so a patient never has zero current results after a failed run.
func (s *ResultStore) SaveResults(ctx context.Context, simplID string, results []*analysis.PersistedResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE analysis_results SET is_current = false WHERE simpl_id = $1 AND is_current = true`,
		simplID,
	); err != nil {
		return fmt.Errorf("invalidate previous results: %w", err)
	}

	insert := `
		INSERT INTO analysis_results
		(simpl_id, analysis_type, severity, score, priority, reasoning, key_indicators, is_current, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	severities := make([]string, 0, len(results))
	for _, res := range results {
		indicators, err := json.Marshal(res.KeyIndicators)
		if err != nil {
			return fmt.Errorf("marshal key indicators for %s: %w", res.AnalysisType, err)
		}
		if _, err := tx.Exec(ctx, insert,
			res.SimplID,
			res.AnalysisType,
			string(res.Severity),
			res.Score,
			res.Priority,
			res.Reasoning,
			indicators,
			res.IsCurrent,
			res.ExpiresAt,
			res.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert result %s: %w", res.AnalysisType, err)
		}
		severities = append(severities, string(res.Severity))
	}

	payload, err := json.Marshal(analysisCompletedEvent{
		EventID:     uuid.NewString(),
		SimplID:     simplID,
		ResultCount: len(results),
		Severities:  severities,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	entry := &OutboxEntry{
		AggregateID:   simplID,
		AggregateType: "patient",
		EventType:     "analysis.completed",
		Payload:       payload,
		KafkaTopic:    redpanda.TopicAnalysisCompleted,
		KafkaKey:      simplID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("analysis results saved",
		zap.String("simpl_id", simplID),
		zap.Int("count", len(results)))
	return nil
}

// CurrentResults returns the patient's current, unexpired results.
func (s *ResultStore) CurrentResults(ctx context.Context, simplID string) ([]*analysis.PersistedResult, error) {
	query := `
		SELECT simpl_id, analysis_type, severity, score, priority, reasoning,
		       key_indicators, is_current, expires_at, created_at
		FROM analysis_results
		WHERE simpl_id = $1
		  AND is_current = true
		  AND expires_at > NOW()
		ORDER BY analysis_type ASC
	`

	rows, err := s.pool.Query(ctx, query, simplID)
	if err != nil {
		return nil, fmt.Errorf("query current results: %w", err)
	}
	defer rows.Close()

	var results []*analysis.PersistedResult
	for rows.Next() {
		res := &analysis.PersistedResult{}
		var severity string
		var indicators []byte
		if err := rows.Scan(
			&res.SimplID, &res.AnalysisType, &severity, &res.Score,
			&res.Priority, &res.Reasoning, &indicators,
			&res.IsCurrent, &res.ExpiresAt, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Severity = analysis.ParseSeverity(severity)
		if len(indicators) > 0 {
			if err := json.Unmarshal(indicators, &res.KeyIndicators); err != nil {
				s.logger.Warn("unreadable key indicators",
					zap.String("simpl_id", simplID),
					zap.String("analysis_type", res.AnalysisType),
					zap.Error(err))
			}
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// ConfigStore reads per-client analysis configuration.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a config store over the given pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// EnabledModules returns the module keys enabled for the patient's client.
// An empty list means the caller should fall back to the default set.
func (s *ConfigStore) EnabledModules(ctx context.Context, simplID string) ([]string, error) {
	query := `
		SELECT c.enabled_modules
		FROM clients c
		JOIN patients p ON p.client_id = c.id
		WHERE p.simpl_id = $1
	`

	var modules []string
	if err := s.pool.QueryRow(ctx, query, simplID).Scan(&modules); err != nil {
		return nil, fmt.Errorf("query enabled modules: %w", err)
	}
	return modules, nil
}
