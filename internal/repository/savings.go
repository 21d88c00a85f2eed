package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
)

// RunKind labels what produced a savings run.
type RunKind string

const (
	RunAnalysis     RunKind = "analysis"
	RunOptimization RunKind = "optimization"
	RunSimulation   RunKind = "simulation"
)

// Run is one persisted savings computation.
type Run struct {
	ID                string
	Kind              RunKind
	Policy            string
	CreatedAt         time.Time
	StartTime         time.Time
	EndTime           time.Time
	ZoneCount         int
	BaselineEnergyKWh float64
	SavingsEnergyKWh  float64
	SavingsCost       float64
	PercentSavings    float64
	Constraints       control.ComfortConstraints
	Recommendations   []control.Recommendation
}

const schema = `
CREATE TABLE IF NOT EXISTS savings_runs (
	id                  UUID PRIMARY KEY,
	kind                TEXT NOT NULL,
	policy              TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	start_time          TIMESTAMPTZ,
	end_time            TIMESTAMPTZ,
	zone_count          INTEGER NOT NULL DEFAULT 0,
	baseline_energy_kwh DOUBLE PRECISION NOT NULL DEFAULT 0,
	savings_energy_kwh  DOUBLE PRECISION NOT NULL DEFAULT 0,
	savings_cost        DOUBLE PRECISION NOT NULL DEFAULT 0,
	percent_savings     DOUBLE PRECISION NOT NULL DEFAULT 0,
	constraints         JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS setpoint_recommendations (
	run_id               UUID NOT NULL REFERENCES savings_runs(id) ON DELETE CASCADE,
	zone_id              TEXT NOT NULL,
	ts                   TIMESTAMPTZ NOT NULL,
	action               TEXT NOT NULL,
	mode                 TEXT NOT NULL,
	predicted_occupancy  DOUBLE PRECISION NOT NULL,
	baseline_setpoint    DOUBLE PRECISION NOT NULL,
	recommended_setpoint DOUBLE PRECISION NOT NULL,
	energy_savings_kwh   DOUBLE PRECISION NOT NULL,
	cost_savings         DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, zone_id, ts)
);`

// SavingsRepository reads and writes savings runs.
type SavingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewSavingsRepository(db *sql.DB, logger *zap.Logger) *SavingsRepository {
	return &SavingsRepository{db: db, logger: logger, now: time.Now}
}

// EnsureSchema creates the tables if they do not exist.
func (r *SavingsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun inserts a run and its recommendations in one transaction and
// returns the run ID, generating one when the run has none.
func (r *SavingsRepository) SaveRun(ctx context.Context, run Run) (id string, err error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now().UTC()
	}
	constraints, err := json.Marshal(run.Constraints)
	if err != nil {
		return "", fmt.Errorf("failed to encode constraints: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO savings_runs (
			id, kind, policy, created_at, start_time, end_time, zone_count,
			baseline_energy_kwh, savings_energy_kwh, savings_cost, percent_savings, constraints
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, string(run.Kind), run.Policy, run.CreatedAt, nullTime(run.StartTime), nullTime(run.EndTime), run.ZoneCount,
		run.BaselineEnergyKWh, run.SavingsEnergyKWh, run.SavingsCost, run.PercentSavings, string(constraints))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	if len(run.Recommendations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO setpoint_recommendations (
				run_id, zone_id, ts, action, mode, predicted_occupancy,
				baseline_setpoint, recommended_setpoint, energy_savings_kwh, cost_savings
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
		if err != nil {
			return "", fmt.Errorf("failed to prepare recommendation insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range run.Recommendations {
			if _, err := stmt.ExecContext(ctx,
				run.ID, rec.ZoneID, rec.Timestamp, string(rec.Action), string(rec.Mode), rec.PredictedOccupancy,
				rec.BaselineSetpoint, rec.RecommendedSetpoint, rec.EnergySavingsKWh, rec.CostSavings); err != nil {
				return "", fmt.Errorf("failed to insert recommendation for zone %s at %s: %w", rec.ZoneID, rec.Timestamp.Format(time.RFC3339), err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	r.logger.Info("saved savings run",
		zap.String("run_id", run.ID),
		zap.String("kind", string(run.Kind)),
		zap.Int("recommendations", len(run.Recommendations)),
	)
	return run.ID, nil
}

// ListRuns returns the most recent runs without their recommendations.
func (r *SavingsRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, policy, created_at, start_time, end_time, zone_count,
		       baseline_energy_kwh, savings_energy_kwh, savings_cost, percent_savings, constraints
		FROM savings_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run         Run
			kind        string
			start, end  sql.NullTime
			constraints []byte
		)
		if err := rows.Scan(&run.ID, &kind, &run.Policy, &run.CreatedAt, &start, &end, &run.ZoneCount,
			&run.BaselineEnergyKWh, &run.SavingsEnergyKWh, &run.SavingsCost, &run.PercentSavings, &constraints); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Kind = RunKind(kind)
		run.StartTime = start.Time
		run.EndTime = end.Time
		if len(constraints) > 0 {
			if err := json.Unmarshal(constraints, &run.Constraints); err != nil {
				r.logger.Warn("skipping unreadable run constraints", zap.String("run_id", run.ID), zap.Error(err))
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Recommendations returns a run's stored setpoints ordered by zone and time.
func (r *SavingsRepository) Recommendations(ctx context.Context, runID string) ([]control.Recommendation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT zone_id, ts, action, mode, predicted_occupancy,
		       baseline_setpoint, recommended_setpoint, energy_savings_kwh, cost_savings
		FROM setpoint_recommendations
		WHERE run_id = $1
		ORDER BY zone_id, ts`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []control.Recommendation
	for rows.Next() {
		var rec control.Recommendation
		var action, mode string
		if err := rows.Scan(&rec.ZoneID, &rec.Timestamp, &action, &mode, &rec.PredictedOccupancy,
			&rec.BaselineSetpoint, &rec.RecommendedSetpoint, &rec.EnergySavingsKWh, &rec.CostSavings); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		rec.Action = control.Action(action)
		rec.Mode = model.HVACMode(mode)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recommendations: %w", err)
	}
	return recs, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
