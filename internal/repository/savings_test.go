package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hvac_savings/internal/control"
	"hvac_savings/internal/model"
)

var (
	runStart = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	runEnd   = time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	created  = time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SavingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewSavingsRepository(db, zap.NewNop())
	repo.now = func() time.Time { return created }
	return db, mock, repo
}

func sampleRun() Run {
	return Run{
		Kind:              RunOptimization,
		Policy:            "predictive_setback",
		StartTime:         runStart,
		EndTime:           runEnd,
		ZoneCount:         1,
		BaselineEnergyKWh: 9,
		SavingsEnergyKWh:  1.8,
		SavingsCost:       0.36,
		PercentSavings:    20,
		Constraints:       control.DefaultComfortConstraints(),
		Recommendations: []control.Recommendation{
			{Timestamp: runStart.Add(8 * time.Hour), ZoneID: "A", Action: control.ActionSetback, Mode: model.HVACHeat, BaselineSetpoint: 70, RecommendedSetpoint: 60, EnergySavingsKWh: 0.3, CostSavings: 0.06},
			{Timestamp: runStart.Add(10 * time.Hour), ZoneID: "A", Action: control.ActionMaintain, Mode: model.HVACHeat, PredictedOccupancy: 3, BaselineSetpoint: 70, RecommendedSetpoint: 70},
		},
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS savings_runs`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO savings_runs`).
		WithArgs(sqlmock.AnyArg(), "optimization", "predictive_setback", created, sqlmock.AnyArg(), sqlmock.AnyArg(), 1,
			9.0, 1.8, 0.36, 20.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO setpoint_recommendations`)
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), "A", run.Recommendations[0].Timestamp, "setback", "heat", 0.0, 70.0, 60.0, 0.3, 0.06).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), "A", run.Recommendations[1].Timestamp, "maintain", "heat", 3.0, 70.0, 70.0, 0.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.SaveRun(context.Background(), run)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_KeepsExplicitID(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	run := sampleRun()
	run.ID = "6f1c2a9e-4d4b-4f7e-9c61-3a2b1d0e9f88"
	run.Recommendations = nil

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO savings_runs`).
		WithArgs(run.ID, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.SaveRun(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, run.ID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_RollsBackOnRecommendationFailure(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO savings_runs`).WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO setpoint_recommendations`)
	prep.ExpectExec().WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	_, err := repo.SaveRun(context.Background(), sampleRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRun_BeginFails(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	_, err := repo.SaveRun(context.Background(), sampleRun())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	columns := []string{"id", "kind", "policy", "created_at", "start_time", "end_time", "zone_count",
		"baseline_energy_kwh", "savings_energy_kwh", "savings_cost", "percent_savings", "constraints"}
	rows := sqlmock.NewRows(columns).
		AddRow("run-2", "simulation", "occupancy_setback", created, runStart, runEnd, 3, 120.0, 30.0, 4.5, 25.0,
			`{"min_temp_f":58,"max_temp_f":84,"pre_condition_minutes":15,"occupancy_threshold":0,"savings_per_degree":0.03,"max_savings_fraction":0.9}`).
		AddRow("run-1", "analysis", "", created.Add(-time.Hour), nil, nil, 0, 0.0, 0.0, 0.0, 0.0, `{}`)

	mock.ExpectQuery(`SELECT id, kind, policy`).WithArgs(5).WillReturnRows(rows)

	runs, err := repo.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunSimulation, runs[0].Kind)
	assert.Equal(t, runStart, runs[0].StartTime)
	assert.Equal(t, 58.0, runs[0].Constraints.MinTempF)
	assert.Equal(t, 15, runs[0].Constraints.PreConditionMinutes)

	assert.Equal(t, RunAnalysis, runs[1].Kind)
	assert.True(t, runs[1].StartTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRuns_DefaultLimit(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`FROM savings_runs`).WithArgs(20).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	runs, err := repo.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecommendations(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	ts := runStart.Add(8 * time.Hour)
	rows := sqlmock.NewRows([]string{"zone_id", "ts", "action", "mode", "predicted_occupancy",
		"baseline_setpoint", "recommended_setpoint", "energy_savings_kwh", "cost_savings"}).
		AddRow("A", ts, "setback", "heat", 0.0, 70.0, 60.0, 0.3, 0.06)

	mock.ExpectQuery(`FROM setpoint_recommendations`).WithArgs("run-1").WillReturnRows(rows)

	recs, err := repo.Recommendations(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, control.ActionSetback, recs[0].Action)
	assert.Equal(t, model.HVACHeat, recs[0].Mode)
	assert.Equal(t, 60.0, recs[0].RecommendedSetpoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}
