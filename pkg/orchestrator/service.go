package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/boundary"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/datastore"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/metrics"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/retry"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/scheduler"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/spec"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/stage"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/webhook"
)

// Store is the subset of the Workflow Repository (C3) the run handler
// drives; a narrow interface here keeps this package testable against a
// fake without importing pgx/sqlmock.
type Store interface {
	LinkEventToRun(ctx context.Context, eventID, runID string) error
	MarkEventProcessed(ctx context.Context, eventID string, errMsg *string) error
	CreateWorkflowRun(ctx context.Context, externalTaskRef string, issueNumber *int) (*datastore.WorkflowRun, error)
	UpdateRunStage(ctx context.Context, runID string, to datastore.Stage, metadata map[string]interface{}) error
	StoreSpec(ctx context.Context, runID, specID, specYAML string) error
	CreateTasks(ctx context.Context, runID string, items []datastore.TaskInput) ([]datastore.Task, error)
	ListRunnableTasks(ctx context.Context, runID string) ([]datastore.Task, error)
	MarkTaskRunning(ctx context.Context, taskID string) error
	MarkTaskResult(ctx context.Context, taskID string, result string, next datastore.TaskStatus) error
	AddAgentAttempt(ctx context.Context, p datastore.AgentAttemptParams) (*datastore.AgentAttempt, error)
	AddArtifact(ctx context.Context, p datastore.ArtifactParams) (*datastore.Artifact, error)
	AddMergeDecision(ctx context.Context, p datastore.MergeDecisionParams) (*datastore.MergeDecisionRecord, error)
	MarkRunStatus(ctx context.Context, runID string, status datastore.RunStatus, reason *string) error
	CountPendingTasks(ctx context.Context, runID string) (int, error)
}

// Config tunes the run handler's retry/attempt behaviour. The spec-generator
// and executor-agent boundaries carry distinct retry budgets (step 3: 2
// retries, 500 ms → 2.5 s; step 5: 2 retries, 1 s → 6 s).
type Config struct {
	MaxAttemptsPerTask int
	SpecGenRetry       retry.Options
	ExecutorRetry      retry.Options
}

// DefaultConfig matches the documented per-boundary retry budgets.
func DefaultConfig() Config {
	return Config{
		MaxAttemptsPerTask: 5,
		SpecGenRetry:       retry.Options{Retries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2500 * time.Millisecond},
		ExecutorRetry:      retry.Options{Retries: 2, BaseDelay: 1 * time.Second, MaxDelay: 6 * time.Second},
	}
}

// Service is C8: it drains the queue and runs each envelope through the
// full pipeline to a terminal WorkflowRun status.
type Service struct {
	queue    *Queue
	store    Store
	hosting  providers.HostingProvider
	specGen  providers.SpecGenerator
	executor providers.ExecutorAgent
	bnd      *boundary.Wrapper
	logger   *zap.Logger
	cfg      Config
}

// New builds a Service wired to its collaborators.
func New(queue *Queue, store Store, hosting providers.HostingProvider, specGen providers.SpecGenerator, executor providers.ExecutorAgent, bnd *boundary.Wrapper, logger *zap.Logger, cfg Config) *Service {
	return &Service{queue: queue, store: store, hosting: hosting, specGen: specGen, executor: executor, bnd: bnd, logger: logger, cfg: cfg}
}

// Run drains the queue until ctx is cancelled, handling one envelope at a
// time (spec §4.8: the consumer is single-threaded; parallelism across
// runs is a documented non-goal).
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.queue.Chan():
			s.handleEnvelope(ctx, env)
		}
	}
}

// handleEnvelope runs one delivery through the full pipeline: issue
// context, spec generation, task dispatch, review, merge decision. Any
// step's failure marks the run failed or dead-letter and always marks the
// event processed, so a crashed consumer never leaves an event stuck
// unprocessed forever (spec §4.8 step 10).
func (s *Service) handleEnvelope(ctx context.Context, env webhook.Envelope) {
	start := time.Now()
	var runErr error
	defer func() {
		metrics.ObserveWorkflowRunDuration(time.Since(start))
		var msg *string
		if runErr != nil {
			m := apperrors.SafeErrorMessage(runErr)
			msg = &m
		}
		if err := s.store.MarkEventProcessed(ctx, env.EventID, msg); err != nil {
			s.logger.Warn("mark event processed failed", zap.Error(err), zap.String("event_id", env.EventID))
		}
	}()

	if env.TaskRef == nil {
		runErr = apperrors.New(apperrors.ErrorTypeValidation, "envelope has no task reference")
		return
	}

	owner, repo, ok := splitRepo(env.Source.Repo)
	if !ok {
		runErr = apperrors.New(apperrors.ErrorTypeValidation, "envelope source repo is malformed")
		return
	}

	externalTaskRef := fmt.Sprintf("%s/%s#%d", owner, repo, env.TaskRef.ID)

	run, err := s.store.CreateWorkflowRun(ctx, externalTaskRef, &env.TaskRef.ID)
	if err != nil {
		runErr = err
		return
	}
	if err := s.store.LinkEventToRun(ctx, env.EventID, run.ID); err != nil {
		s.logger.Warn("link event to run failed", zap.Error(err), zap.String("run_id", run.ID))
	}

	if err := s.runPipeline(ctx, run.ID, owner, repo, env.TaskRef.ID); err != nil {
		runErr = err
		reason := apperrors.SafeErrorMessage(err)
		if markErr := s.store.UpdateRunStage(ctx, run.ID, stage.DeadLetter, map[string]interface{}{"reason": reason}); markErr != nil {
			s.logger.Warn("dead-letter transition failed", zap.Error(markErr), zap.String("run_id", run.ID))
		}
		if markErr := s.store.MarkRunStatus(ctx, run.ID, datastore.RunDeadLetter, &reason); markErr != nil {
			s.logger.Warn("mark run dead-letter failed", zap.Error(markErr), zap.String("run_id", run.ID))
		}
		metrics.RecordWorkflowRun("dead_letter")
		return
	}

	if err := s.store.MarkRunStatus(ctx, run.ID, datastore.RunCompleted, nil); err != nil {
		s.logger.Warn("mark run completed failed", zap.Error(err), zap.String("run_id", run.ID))
	}
	metrics.RecordWorkflowRun("completed")
}

func splitRepo(full string) (owner, repo string, ok bool) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// runPipeline drives a single run from TaskRequested through MergeDecision.
// Any returned error is the caller's signal to dead-letter the run.
func (s *Service) runPipeline(ctx context.Context, runID, owner, repo string, issueNumber int) error {
	issue, err := boundary.With(ctx, s.bnd, "hosting.get-issue-context", boundary.Attrs{RunID: runID, IssueNumber: &issueNumber}, func(ctx context.Context) (*providers.IssueContext, error) {
		return s.hosting.GetIssueContext(ctx, owner, repo, issueNumber)
	})
	if err != nil {
		return fmt.Errorf("get issue context: %w", err)
	}

	baselineSHA, err := boundary.With(ctx, s.bnd, "hosting.get-branch-sha", boundary.Attrs{RunID: runID, IssueNumber: &issueNumber}, func(ctx context.Context) (string, error) {
		return s.hosting.GetBranchSHA(ctx, owner, repo, issue.DefaultBranch)
	})
	if err != nil {
		return fmt.Errorf("get baseline commit: %w", err)
	}
	issue.CommitBaseline = baselineSHA

	if err := s.generateAndStoreSpec(ctx, runID, *issue); err != nil {
		return err
	}

	if err := s.dispatchTasks(ctx, runID, issueNumber); err != nil {
		return err
	}

	return s.reviewAndDecide(ctx, runID, owner, repo, issueNumber)
}

func (s *Service) generateAndStoreSpec(ctx context.Context, runID string, issue providers.IssueContext) error {
	result, err := retry.With(ctx, "spec-generator.generate-formal-spec", s.cfg.SpecGenRetry, func(attempt int) (string, error) {
		return boundary.With(ctx, s.bnd, "spec-generator.generate-formal-spec", boundary.Attrs{RunID: runID}, func(ctx context.Context) (string, error) {
			return s.specGen.GenerateFormalSpec(ctx, issue)
		})
	})
	if err != nil {
		return fmt.Errorf("generate formal spec: %w", err)
	}

	formalSpec, err := spec.Parse([]byte(result.Value))
	if err != nil {
		return fmt.Errorf("parse formal spec: %w", err)
	}
	if err := spec.Validate(formalSpec); err != nil {
		return fmt.Errorf("validate formal spec: %w", err)
	}

	if err := s.store.StoreSpec(ctx, runID, formalSpec.SpecID, result.Value); err != nil {
		return fmt.Errorf("store formal spec: %w", err)
	}
	if _, err := s.store.AddArtifact(ctx, datastore.ArtifactParams{WorkflowRunID: runID, Kind: "formal_spec", Content: result.Value}); err != nil {
		return fmt.Errorf("record formal spec artifact: %w", err)
	}
	if err := s.store.UpdateRunStage(ctx, runID, stage.SpecGenerated, map[string]interface{}{"spec_id": formalSpec.SpecID}); err != nil {
		return fmt.Errorf("transition to SpecGenerated: %w", err)
	}

	items := make([]datastore.TaskInput, 0, len(formalSpec.WorkBreakdown))
	for _, wi := range formalSpec.WorkBreakdown {
		items = append(items, datastore.TaskInput{
			TaskKey: wi.ID, Title: wi.Title, OwnerRole: wi.OwnerRole,
			DefinitionOfDone: wi.DefinitionOfDone, DependsOn: wi.DependsOn,
		})
	}
	if _, err := s.store.CreateTasks(ctx, runID, items); err != nil {
		return fmt.Errorf("create tasks: %w", err)
	}
	return s.store.UpdateRunStage(ctx, runID, stage.SubtasksDispatched, nil)
}

// dispatchTasks drives the scheduler loop: repeatedly compute the runnable
// frontier and execute each task until none remain or the run is stuck
// (an empty frontier with pending tasks means an unresolved dependency
// cycle slipped past validation, or every remaining task is blocked).
func (s *Service) dispatchTasks(ctx context.Context, runID string, issueNumber int) error {
	for {
		tasks, err := s.store.ListRunnableTasks(ctx, runID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}

		pending, err := s.store.CountPendingTasks(ctx, runID)
		if err != nil {
			return fmt.Errorf("count pending tasks: %w", err)
		}
		if pending == 0 {
			return nil
		}

		frontier := scheduler.Runnable(tasks)
		if len(frontier) == 0 {
			return apperrors.New(apperrors.ErrorTypeConflict, "no runnable tasks remain but some are still pending")
		}

		for _, t := range frontier {
			if err := s.executeTask(ctx, runID, t, issueNumber); err != nil {
				return err
			}
		}
	}
}

func (s *Service) executeTask(ctx context.Context, runID string, t datastore.Task, issueNumber int) error {
	if err := s.store.MarkTaskRunning(ctx, t.ID); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}

	attemptNumber := t.AttemptCount + 1
	if attemptNumber > s.cfg.MaxAttemptsPerTask {
		return s.blockTaskAtCeiling(ctx, runID, t)
	}

	taskStart := time.Now()
	retryResult, execErr := retry.With(ctx, "executor-agent.execute-subtask", s.cfg.ExecutorRetry, func(attempt int) (*providers.SubtaskResult, error) {
		return boundary.With(ctx, s.bnd, "executor-agent.execute-subtask", boundary.Attrs{RunID: runID, IssueNumber: &issueNumber, TaskKey: t.TaskKey}, func(ctx context.Context) (*providers.SubtaskResult, error) {
			return s.executor.ExecuteSubtask(ctx, providers.SubtaskInput{
				TaskKey: t.TaskKey, Title: t.Title, OwnerRole: t.OwnerRole, DefinitionOfDone: t.DefinitionOfDone,
			})
		})
	})
	duration := time.Since(taskStart).Milliseconds()
	var result *providers.SubtaskResult
	if execErr == nil {
		result = retryResult.Value
	}

	attemptParams := datastore.AgentAttemptParams{
		TaskID: t.ID, AgentRole: t.OwnerRole, AttemptNumber: attemptNumber, DurationMs: duration,
	}

	if execErr != nil {
		attemptParams.Status = datastore.AttemptFailed
		errMsg := execErr.Error()
		attemptParams.Error = &errMsg
		attemptParams.ErrorCategory = string(apperrors.GetRetryClass(execErr))
		if _, err := s.store.AddAgentAttempt(ctx, attemptParams); err != nil {
			s.logger.Warn("record failed attempt failed", zap.Error(err), zap.String("task_id", t.ID))
		}
		if err := s.store.MarkTaskResult(ctx, t.ID, errMsg, datastore.TaskRetry); err != nil {
			return fmt.Errorf("mark task retry: %w", err)
		}
		return nil
	}

	attemptParams.Status = datastore.AttemptCompleted
	attemptParams.Output = result.Output
	if _, err := s.store.AddAgentAttempt(ctx, attemptParams); err != nil {
		s.logger.Warn("record completed attempt failed", zap.Error(err), zap.String("task_id", t.ID))
	}
	if _, err := s.store.AddArtifact(ctx, datastore.ArtifactParams{WorkflowRunID: runID, TaskID: &t.ID, Kind: "agent_result", Content: result.Output, Metadata: map[string]interface{}{"diff": result.Diff}}); err != nil {
		s.logger.Warn("record agent result artifact failed", zap.Error(err), zap.String("task_id", t.ID))
	}
	return s.store.MarkTaskResult(ctx, t.ID, result.Output, datastore.TaskCompleted)
}

// blockTaskAtCeiling resolves the attempt-ceiling open question: a task
// that has exhausted its attempt budget is marked blocked and a synthetic
// artifact records why, rather than retrying forever.
func (s *Service) blockTaskAtCeiling(ctx context.Context, runID string, t datastore.Task) error {
	if err := s.store.MarkTaskResult(ctx, t.ID, "attempt ceiling reached", datastore.TaskBlocked); err != nil {
		return fmt.Errorf("mark task blocked: %w", err)
	}
	_, err := s.store.AddArtifact(ctx, datastore.ArtifactParams{
		WorkflowRunID: runID,
		TaskID:        &t.ID,
		Kind:          "attempt_ceiling",
		Content:       fmt.Sprintf("task %q blocked after %d attempts", t.TaskKey, s.cfg.MaxAttemptsPerTask),
	})
	if err != nil {
		return fmt.Errorf("record attempt ceiling artifact: %w", err)
	}
	return apperrors.New(apperrors.ErrorTypeConflict, fmt.Sprintf("task %q reached its attempt ceiling", t.TaskKey)).WithRetryClass(apperrors.RetryPermanent)
}

func (s *Service) reviewAndDecide(ctx context.Context, runID, owner, repo string, issueNumber int) error {
	if err := s.store.UpdateRunStage(ctx, runID, stage.PRReviewed, nil); err != nil {
		return fmt.Errorf("transition to PRReviewed: %w", err)
	}

	pr, err := boundary.With(ctx, s.bnd, "hosting.find-open-pull-request", boundary.Attrs{RunID: runID, IssueNumber: &issueNumber}, func(ctx context.Context) (*providers.PullRequestRef, error) {
		return s.hosting.FindOpenPullRequestForIssue(ctx, owner, repo, issueNumber)
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return s.commentNoOpenPullRequest(ctx, runID, owner, repo, issueNumber)
		}
		return fmt.Errorf("find open pull request: %w", err)
	}

	checksPassed, err := boundary.With(ctx, s.bnd, "hosting.has-required-checks-passed", boundary.Attrs{RunID: runID}, func(ctx context.Context) (bool, error) {
		return s.hosting.HasRequiredChecksPassed(ctx, owner, repo, pr.Number)
	})
	if err != nil {
		return fmt.Errorf("check required checks: %w", err)
	}

	summary, err := boundary.With(ctx, s.bnd, "spec-generator.summarize-review", boundary.Attrs{RunID: runID}, func(ctx context.Context) (string, error) {
		return s.specGen.SummarizeReview(ctx, pr.HeadSHA, checksPassed)
	})
	if err != nil {
		return fmt.Errorf("summarize review: %w", err)
	}
	if _, err := s.store.AddArtifact(ctx, datastore.ArtifactParams{WorkflowRunID: runID, Kind: "review_summary", Content: summary}); err != nil {
		return fmt.Errorf("record review summary artifact: %w", err)
	}

	var blocking []string
	if !checksPassed {
		blocking = append(blocking, "required checks have not passed")
	}

	type decisionOutcome struct {
		Decision  string
		Rationale string
	}
	outcome, err := boundary.With(ctx, s.bnd, "spec-generator.generate-merge-decision", boundary.Attrs{RunID: runID}, func(ctx context.Context) (decisionOutcome, error) {
		d, r, err := s.specGen.GenerateMergeDecision(ctx, summary, blocking)
		return decisionOutcome{Decision: d, Rationale: r}, err
	})
	if err != nil {
		return fmt.Errorf("generate merge decision: %w", err)
	}

	decisionKind := parseDecision(outcome.Decision, checksPassed)

	if err := s.store.UpdateRunStage(ctx, runID, stage.MergeDecision, map[string]interface{}{"decision": decisionKind}); err != nil {
		return fmt.Errorf("transition to MergeDecision: %w", err)
	}
	if _, err := s.store.AddMergeDecision(ctx, datastore.MergeDecisionParams{
		WorkflowRunID: runID, PRNumber: pr.Number, Decision: decisionKind, Rationale: outcome.Rationale, BlockingFindings: blocking,
	}); err != nil {
		return fmt.Errorf("record merge decision: %w", err)
	}

	return s.actOnDecision(ctx, runID, owner, repo, pr.Number, decisionKind, outcome.Rationale)
}

// commentNoOpenPullRequest is the no-PR branch of step 8: rather than
// dead-lettering a run whose PR hasn't appeared yet, it leaves the issue a
// note and lets the run complete; a later webhook delivery for the same
// issue picks the review back up once a PR exists.
func (s *Service) commentNoOpenPullRequest(ctx context.Context, runID, owner, repo string, issueNumber int) error {
	body := "No open pull request was found for this task yet. The work will be picked up again once one is opened."
	_, err := boundary.With(ctx, s.bnd, "hosting.add-issue-comment", boundary.Attrs{RunID: runID, IssueNumber: &issueNumber}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.hosting.AddIssueComment(ctx, owner, repo, issueNumber, body)
	})
	if err != nil {
		return fmt.Errorf("comment on issue with no open pull request: %w", err)
	}
	return s.store.UpdateRunStage(ctx, runID, stage.MergeDecision, map[string]interface{}{"pr": "none"})
}

func parseDecision(raw string, checksPassed bool) datastore.MergeDecisionKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approve":
		if checksPassed {
			return datastore.DecisionApprove
		}
		return datastore.DecisionBlock
	case "request_changes":
		return datastore.DecisionRequestChanges
	default:
		return datastore.DecisionBlock
	}
}

func (s *Service) actOnDecision(ctx context.Context, runID, owner, repo string, prNumber int, decision datastore.MergeDecisionKind, rationale string) error {
	switch decision {
	case datastore.DecisionApprove:
		_, err := boundary.With(ctx, s.bnd, "hosting.approve-pull-request", boundary.Attrs{RunID: runID}, func(ctx context.Context) (struct{}, error) {
			if err := s.hosting.ApprovePullRequest(ctx, owner, repo, prNumber, rationale); err != nil {
				return struct{}{}, err
			}
			return struct{}{}, s.hosting.EnableAutoMerge(ctx, owner, repo, prNumber)
		})
		if err != nil {
			return fmt.Errorf("approve and enable auto-merge: %w", err)
		}
		return nil
	case datastore.DecisionRequestChanges:
		_, err := boundary.With(ctx, s.bnd, "hosting.request-changes", boundary.Attrs{RunID: runID}, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.hosting.RequestChanges(ctx, owner, repo, prNumber, rationale)
		})
		if err != nil {
			return fmt.Errorf("request changes: %w", err)
		}
		return apperrors.New(apperrors.ErrorTypeConflict, "review requested changes").WithRetryClass(apperrors.RetryPermanent)
	default:
		return apperrors.New(apperrors.ErrorTypeConflict, "merge decision blocked: "+rationale).WithRetryClass(apperrors.RetryPermanent)
	}
}
