package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/internal/redact"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/stage"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/webhook"
)

const uniqueViolation = "23505"

// Repository is C3, the Workflow Repository. Every write path redacts its
// text fields before the value reaches the statement, so a call site can
// never bypass redaction by forgetting to scrub a string first.
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository wraps an already-opened *sql.DB (pgx/v5 registered as the
// "pgx" database/sql driver) in the sqlx convenience layer.
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	return &Repository{db: sqlx.NewDb(db, "pgx"), logger: logger}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if apperrors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// RecordEventIfNew satisfies webhook.EventRecorder: it inserts the delivery
// if its delivery_id hasn't been seen, or returns the existing event's id
// if it has (spec §4.3, §4.1 "exactly-once delivery accounting").
func (r *Repository) RecordEventIfNew(ctx context.Context, p webhook.RecordEventParams) (bool, string, error) {
	v := newValidationError()
	requireNonEmpty(v, "delivery_id", p.DeliveryID)
	requireNonEmpty(v, "event_type", p.EventType)
	if v.hasErrors() {
		return false, "", v
	}

	id := uuid.NewString()
	payload := redact.RedactText(string(p.Payload))

	const insertSQL = `
		INSERT INTO events (id, delivery_id, event_type, source_owner, source_repo, payload, processed, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
	`
	_, err := r.db.ExecContext(ctx, insertSQL, id, p.DeliveryID, p.EventType, p.SourceOwner, p.SourceRepo, payload, time.Now())
	if err == nil {
		return true, id, nil
	}

	if isUniqueViolation(err) {
		var existingID string
		selErr := r.db.GetContext(ctx, &existingID, `SELECT id FROM events WHERE delivery_id = $1`, p.DeliveryID)
		if selErr != nil {
			return false, "", apperrors.NewDatabaseError("select existing event by delivery_id", selErr)
		}
		return false, existingID, nil
	}

	return false, "", apperrors.NewDatabaseError("insert event", err)
}

// LinkEventToRun stamps an accepted event with the run it triggered.
func (r *Repository) LinkEventToRun(ctx context.Context, eventID, runID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE events SET workflow_run_id = $1 WHERE id = $2`, runID, eventID)
	if err != nil {
		return apperrors.NewDatabaseError("link event to run", err)
	}
	return nil
}

// MarkEventProcessed records that the orchestrator finished handling an
// event, successfully or not; errMsg is redacted before storage.
func (r *Repository) MarkEventProcessed(ctx context.Context, eventID string, errMsg *string) error {
	var redacted *string
	if errMsg != nil {
		s := redact.RedactText(*errMsg)
		redacted = &s
	}
	_, err := r.db.ExecContext(ctx, `UPDATE events SET processed = true, error = $1 WHERE id = $2`, redacted, eventID)
	if err != nil {
		return apperrors.NewDatabaseError("mark event processed", err)
	}
	return nil
}

// CreateWorkflowRun starts a new run at stage.Received for the given
// external task reference (e.g. "owner/repo#123").
func (r *Repository) CreateWorkflowRun(ctx context.Context, externalTaskRef string, issueNumber *int) (*WorkflowRun, error) {
	v := newValidationError()
	requireNonEmpty(v, "external_task_ref", externalTaskRef)
	if v.hasErrors() {
		return nil, v
	}

	run := &WorkflowRun{
		ID:              uuid.NewString(),
		IssueNumber:     issueNumber,
		Status:          RunInProgress,
		CurrentStage:    stage.Initial,
		ExternalTaskRef: externalTaskRef,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	const insertSQL = `
		INSERT INTO workflow_runs (id, issue_number, status, current_stage, external_task_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, insertSQL, run.ID, run.IssueNumber, run.Status, run.CurrentStage, run.ExternalTaskRef, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, apperrors.NewDatabaseError("create workflow run", err)
	}
	return run, nil
}

// UpdateRunStage validates the transition against the stage state machine
// (C6) before writing it, and records the transition row in the same
// statement batch so the audit trail never drifts from the run's current
// stage (spec §4.6 "Every transition is recorded").
func (r *Repository) UpdateRunStage(ctx context.Context, runID string, to Stage, metadata map[string]interface{}) error {
	var from Stage
	if err := r.db.GetContext(ctx, &from, `SELECT current_stage FROM workflow_runs WHERE id = $1`, runID); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("workflow run")
		}
		return apperrors.NewDatabaseError("read current stage", err)
	}

	if err := stage.Validate(from, to); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid stage transition").WithRetryClass(apperrors.RetryPermanent)
	}

	redactedMeta := redact.RedactStructured(toInterfaceMap(metadata))
	metaJSON, err := json.Marshal(redactedMeta)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal stage transition metadata")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin stage transition", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE workflow_runs SET current_stage = $1, updated_at = $2 WHERE id = $3`, to, time.Now(), runID); err != nil {
		return apperrors.NewDatabaseError("update run stage", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stage_transitions (id, workflow_run_id, from_stage, to_stage, metadata, transitioned_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), runID, from, to, metaJSON, time.Now(),
	); err != nil {
		return apperrors.NewDatabaseError("insert stage transition", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit stage transition", err)
	}
	return nil
}

func toInterfaceMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// marshalStrings encodes a string slice as a JSON array for storage in a
// text column; tasks.depends_on never needs relational querying of its own,
// only whole-row retrieval, so a JSON column avoids a join table.
func marshalStrings(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// StoreSpec persists the generated Formal Spec's YAML and id against the
// run, redacting the YAML body first (a generated spec can quote secrets
// out of the originating issue body). Callers validate the spec with
// pkg/spec before calling this.
func (r *Repository) StoreSpec(ctx context.Context, runID, specID, specYAML string) error {
	redacted := redact.RedactText(specYAML)
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflow_runs SET spec_id = $1, spec_yaml = $2, updated_at = $3 WHERE id = $4`,
		specID, redacted, time.Now(), runID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("store spec", err)
	}
	return nil
}

// TaskInput is one work_breakdown item translated into a schedulable task.
type TaskInput struct {
	TaskKey          string
	Title            string
	OwnerRole        string
	DefinitionOfDone []string
	DependsOn        []string
}

// CreateTasks materializes the DAG from a validated Formal Spec's
// work_breakdown into queued tasks.
func (r *Repository) CreateTasks(ctx context.Context, runID string, items []TaskInput) ([]Task, error) {
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("work breakdown must contain at least one task")
	}

	tasks := make([]Task, 0, len(items))
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin create tasks", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, it := range items {
		t := Task{
			ID:               uuid.NewString(),
			WorkflowRunID:    runID,
			TaskKey:          it.TaskKey,
			Title:            it.Title,
			OwnerRole:        it.OwnerRole,
			Status:           TaskQueued,
			DefinitionOfDone: it.DefinitionOfDone,
			DependsOn:        it.DependsOn,
			CreatedAt:        time.Now(),
		}
		dodJSON, err := marshalStrings(t.DefinitionOfDone)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal definition_of_done")
		}
		depJSON, err := marshalStrings(t.DependsOn)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal depends_on")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, workflow_run_id, task_key, title, owner_role, status, attempt_count, definition_of_done, depends_on, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`,
			t.ID, t.WorkflowRunID, t.TaskKey, t.Title, t.OwnerRole, t.Status, dodJSON, depJSON, t.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Sprintf("insert task %q", it.TaskKey), err)
		}
		tasks = append(tasks, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewDatabaseError("commit create tasks", err)
	}
	return tasks, nil
}

// ListRunnableTasks returns every task belonging to the run, for the
// scheduler (C7) to reduce over.
func (r *Repository) ListRunnableTasks(ctx context.Context, runID string) ([]Task, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT id, workflow_run_id, task_key, title, owner_role, status, attempt_count, definition_of_done, depends_on, COALESCE(last_result, ''), created_at
		 FROM tasks WHERE workflow_run_id = $1`, runID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list tasks", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var dodJSON, depJSON string
		if err := rows.Scan(&t.ID, &t.WorkflowRunID, &t.TaskKey, &t.Title, &t.OwnerRole, &t.Status,
			&t.AttemptCount, &dodJSON, &depJSON, &t.LastResult, &t.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan task", err)
		}
		if t.DefinitionOfDone, err = unmarshalStrings(dodJSON); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal definition_of_done")
		}
		if t.DependsOn, err = unmarshalStrings(depJSON); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal depends_on")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate tasks", err)
	}
	return tasks, nil
}

// MarkTaskRunning transitions a task into the running state.
func (r *Repository) MarkTaskRunning(ctx context.Context, taskID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, TaskRunning, taskID)
	if err != nil {
		return apperrors.NewDatabaseError("mark task running", err)
	}
	return requireRowsAffected(res, "task")
}

// MarkTaskResult records the outcome of an attempt and the task's next
// status, bumping the attempt counter.
func (r *Repository) MarkTaskResult(ctx context.Context, taskID string, result string, next TaskStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, last_result = $2, attempt_count = attempt_count + 1 WHERE id = $3`,
		next, redact.RedactText(result), taskID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("mark task result", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("read rows affected", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resource)
	}
	return nil
}

// AgentAttemptParams is what the orchestrator records after every task
// execution attempt (spec §3 "AgentAttempt").
type AgentAttemptParams struct {
	TaskID         string
	AgentRole      string
	AttemptNumber  int
	Status         AttemptStatus
	Output         string
	Error          *string
	ErrorCategory  string
	BackoffDelayMs *int64
	DurationMs     int64
}

// AddAgentAttempt persists one execution attempt, redacting output and
// error text (agent output routinely echoes file contents, which can carry
// secrets from the repository being worked on).
func (r *Repository) AddAgentAttempt(ctx context.Context, p AgentAttemptParams) (*AgentAttempt, error) {
	v := newValidationError()
	requireNonEmpty(v, "task_id", p.TaskID)
	requireNonEmpty(v, "agent_role", p.AgentRole)
	if v.hasErrors() {
		return nil, v
	}

	a := &AgentAttempt{
		ID:             uuid.NewString(),
		TaskID:         p.TaskID,
		AgentRole:      p.AgentRole,
		AttemptNumber:  p.AttemptNumber,
		Status:         p.Status,
		Output:         redact.RedactText(p.Output),
		ErrorCategory:  p.ErrorCategory,
		BackoffDelayMs: p.BackoffDelayMs,
		DurationMs:     p.DurationMs,
		CreatedAt:      time.Now(),
	}
	if p.Error != nil {
		msg := redact.RedactText(*p.Error)
		a.Error = &msg
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO agent_attempts (id, task_id, agent_role, attempt_number, status, output, error, error_category, backoff_delay_ms, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TaskID, a.AgentRole, a.AttemptNumber, a.Status, a.Output, a.Error, a.ErrorCategory, a.BackoffDelayMs, a.DurationMs, a.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert agent attempt", err)
	}
	return a, nil
}

// ArtifactParams is what callers pass to persist a produced blob (a diff, a
// PR description, a review summary, the synthetic attempt-ceiling marker).
type ArtifactParams struct {
	WorkflowRunID string
	TaskID        *string
	Kind          string
	Content       string
	Metadata      map[string]interface{}
}

// AddArtifact persists a produced blob, redacting its content.
func (r *Repository) AddArtifact(ctx context.Context, p ArtifactParams) (*Artifact, error) {
	v := newValidationError()
	requireNonEmpty(v, "workflow_run_id", p.WorkflowRunID)
	requireNonEmpty(v, "kind", p.Kind)
	if v.hasErrors() {
		return nil, v
	}

	metaJSON, err := json.Marshal(redact.RedactStructured(toInterfaceMap(p.Metadata)))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal artifact metadata")
	}

	art := &Artifact{
		ID:            uuid.NewString(),
		WorkflowRunID: p.WorkflowRunID,
		TaskID:        p.TaskID,
		Kind:          p.Kind,
		Content:       redact.RedactText(p.Content),
		Metadata:      metaJSON,
		CreatedAt:     time.Now(),
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, workflow_run_id, task_id, kind, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		art.ID, art.WorkflowRunID, art.TaskID, art.Kind, art.Content, art.Metadata, art.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert artifact", err)
	}
	return art, nil
}

// MergeDecisionParams is what the review stage records after the review
// agent renders a verdict (spec §4.8 step 8).
type MergeDecisionParams struct {
	WorkflowRunID    string
	PRNumber         int
	Decision         MergeDecisionKind
	Rationale        string
	BlockingFindings []string
}

// AddMergeDecision persists a merge-gating verdict.
func (r *Repository) AddMergeDecision(ctx context.Context, p MergeDecisionParams) (*MergeDecisionRecord, error) {
	v := newValidationError()
	requireNonEmpty(v, "workflow_run_id", p.WorkflowRunID)
	if v.hasErrors() {
		return nil, v
	}

	d := &MergeDecisionRecord{
		ID:               uuid.NewString(),
		WorkflowRunID:    p.WorkflowRunID,
		PRNumber:         p.PRNumber,
		Decision:         p.Decision,
		Rationale:        redact.RedactText(p.Rationale),
		BlockingFindings: p.BlockingFindings,
		CreatedAt:        time.Now(),
	}

	findingsJSON, err := marshalStrings(d.BlockingFindings)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal blocking_findings")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO merge_decisions (id, workflow_run_id, pr_number, decision, rationale, blocking_findings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.WorkflowRunID, d.PRNumber, d.Decision, d.Rationale, findingsJSON, d.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert merge decision", err)
	}
	return d, nil
}

// MarkRunStatus sets a run's terminal (or in-progress) status; reason is
// required for dead_letter and redacted before storage.
func (r *Repository) MarkRunStatus(ctx context.Context, runID string, status RunStatus, reason *string) error {
	var redacted *string
	if reason != nil {
		s := redact.RedactText(*reason)
		redacted = &s
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE workflow_runs SET status = $1, dead_letter_reason = $2, updated_at = $3 WHERE id = $4`,
		status, redacted, time.Now(), runID,
	)
	if err != nil {
		return apperrors.NewDatabaseError("mark run status", err)
	}
	return nil
}

// CountPendingTasks reports how many tasks in a run have not reached a
// terminal status, used to decide whether a run can advance past review.
func (r *Repository) CountPendingTasks(ctx context.Context, runID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM tasks WHERE workflow_run_id = $1 AND status NOT IN ($2, $3)`,
		runID, TaskCompleted, TaskBlocked,
	)
	if err != nil {
		return 0, apperrors.NewDatabaseError("count pending tasks", err)
	}
	return n, nil
}

// PurgeStaleDeliveries deletes processed event rows older than the
// retention window, returning the number removed (spec §4.3 retention).
func (r *Repository) PurgeStaleDeliveries(ctx context.Context, retentionDays int) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE processed = true AND received_at < $1`,
		time.Now().AddDate(0, 0, -retentionDays),
	)
	if err != nil {
		return 0, apperrors.NewDatabaseError("purge stale deliveries", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewDatabaseError("read purge rows affected", err)
	}
	return int(n), nil
}

// Ping satisfies webhook.Pinger for the readiness endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return apperrors.NewDatabaseError("ping", err)
	}
	return nil
}
