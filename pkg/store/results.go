package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ScenarioRepository persists per-test TestResult rows and computes the
// aggregate used to finish a run. Rows are scenario_results(id, run_id,
// name, status, test_type, result, created_at); metrics and transcript are
// not separate columns but part of the TestResult JSON in result.
type ScenarioRepository struct {
	db *sql.DB
}

func NewScenarioRepository(db *sql.DB) *ScenarioRepository { return &ScenarioRepository{db: db} }

// Insert persists one TestResult for a run. Insertion is additive —
// duplicate callbacks are allowed to add more rows, joined by run_id on
// read (§4.11).
func (s *ScenarioRepository) Insert(ctx context.Context, runID uuid.UUID, result TestResult) error {
	resultJSON, err := toJSON(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	name := result.Name
	if result.Kind == ResultConversation {
		name = result.CallerPrompt
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenario_results (id, run_id, name, status, test_type, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.New(), runID, name, result.Status, result.Kind, resultJSON)
	return err
}

// ListByRun returns every persisted TestResult for a run, in insertion order.
func (s *ScenarioRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]TestResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM scenario_results WHERE run_id = $1 ORDER BY created_at ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TestResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var tr TestResult
		if err := json.Unmarshal(raw, &tr); err != nil {
			return nil, err
		}
		results = append(results, tr)
	}
	return results, rows.Err()
}

// Aggregate computes the AggregateResult over every persisted TestResult
// for a run: overall status is pass iff every sub-result passed (§4.7).
func (s *ScenarioRepository) Aggregate(ctx context.Context, runID uuid.UUID, totalDurationMs int64) (AggregateResult, error) {
	results, err := s.ListByRun(ctx, runID)
	if err != nil {
		return AggregateResult{}, err
	}
	agg := AggregateResult{Status: RunPass, DurationMs: totalDurationMs, TotalTests: len(results)}
	for _, r := range results {
		if r.Passed() {
			agg.PassedTests++
		} else {
			agg.FailedTests++
			agg.Status = RunFail
		}
	}
	return agg, nil
}
