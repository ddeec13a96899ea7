package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	runsTable    = "merge_runs"
	actionsTable = "merge_actions"
)

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

var (
	runStruct    = database.NewStruct(new(Run))
	actionStruct = database.NewStruct(new(Action))
)

var actionColumns = []string{
	"id", "run_id", "group_key", "survivor_id", "prospect_id", "target", "target_id", "action", "outcome", "detail", "error",
}

// Run is one row of merge_runs.
type Run struct {
	ID         uuid.UUID                         `db:"id"`
	DryRun     bool                              `db:"dry_run"`
	Status     string                            `db:"status"`
	Rules      database.JSONB[map[string]any]    `db:"rules"`
	Summary    database.JSONB[models.RunSummary] `db:"summary"`
	Error      *string                           `db:"error"`
	StartedAt  time.Time                         `db:"started_at"`
	FinishedAt *time.Time                        `db:"finished_at"`
}

// Repository writes the audit journal
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new audit repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func insertRunQuery(runID uuid.UUID, dryRun bool, rules map[string]any) (string, []any) {
	return database.Insert(runsTable, "id", "dry_run", "status", "rules", "started_at").
		Row(runID, dryRun, RunStatusRunning, database.NewJSONB(rules), database.Now()).
		Build()
}

func insertActionsQuery(actions []Action) (string, []any) {
	ib := database.Insert(actionsTable, actionColumns...)
	for _, a := range actions {
		ib.Row(a.ID, a.RunID, a.GroupKey, a.SurvivorID, a.ProspectID, a.Target, a.TargetID, a.Action, a.Outcome, a.Detail, a.Error)
	}
	return ib.IgnoreConflicts().Build()
}

func finishRunQuery(runID uuid.UUID, status string, summary models.RunSummary, runErr error) (string, []any) {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	ub := database.Update(runsTable)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("summary", database.NewJSONB(summary)),
		ub.Assign("error", errMsg),
		ub.Assign("finished_at", database.Now()),
	).Where(ub.Equal("id", runID))
	return ub.Build()
}

// StartRun records the beginning of a run.
func (r *Repository) StartRun(ctx context.Context, runID uuid.UUID, dryRun bool, rules map[string]any) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.StartRun")
	defer span.End()

	query, args := insertRunQuery(runID, dryRun, rules)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Error("failed to create merge run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create merge run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": runID,
	}).Debugf("Created %s", runsTable)
	return nil
}

// RecordGroup journals every decision of one group in a single transaction.
func (r *Repository) RecordGroup(ctx context.Context, runID uuid.UUID, trace models.GroupTrace) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.RecordGroup")
	defer span.End()

	actions := BuildActions(runID, trace)
	if len(actions) == 0 {
		return nil
	}

	err := database.InTx(ctx, r.db, func(ctx context.Context, tx database.Tx) error {
		query, args := insertActionsQuery(actions)
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
			"group":  trace.Key,
		}).Error("failed to record merge actions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge actions")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  runID,
		"actions": len(actions),
	}).Debugf("Created %s", actionsTable)
	return nil
}

// FinishRun stores the final status and summary of a run.
func (r *Repository) FinishRun(ctx context.Context, runID uuid.UUID, status string, summary models.RunSummary, runErr error) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.FinishRun")
	defer span.End()

	query, args := finishRunQuery(runID, status, summary, runErr)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Error("failed to finish merge run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish merge run")
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "merge run %s does not exist", runID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.ListRuns")
	defer span.End()

	sb := runStruct.SelectFrom(runsTable)
	sb.OrderBy("started_at").Desc().Limit(limit)

	query, args := sb.Build()
	var runs []Run
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list merge runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge runs")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_count": len(runs),
	}).Debugf("Listed %s", runsTable)
	return runs, nil
}

// ListActions returns the journaled decisions of a run.
func (r *Repository) ListActions(ctx context.Context, runID uuid.UUID) ([]Action, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Repository.ListActions")
	defer span.End()

	sb := actionStruct.SelectFrom(actionsTable)
	sb.Where(sb.Equal("run_id", runID)).OrderBy("created_at", "group_key")

	query, args := sb.Build()
	var actions []Action
	if err := r.db.SelectContext(ctx, &actions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Error("failed to list merge actions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge actions")
	}
	return actions, nil
}
