// Package datastore implements C3, the Workflow Repository: durable
// reads/writes of runs, tasks, attempts, artifacts, events, stage
// transitions and merge decisions. Redaction happens inside this package,
// at every write path, so it cannot be bypassed by a call site forgetting
// to scrub a string (spec §4.3 "Redaction discipline").
package datastore

import (
	"encoding/json"
	"time"

	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/stage"
)

// Stage is an alias for the stage-machine's Stage type so datastore callers
// don't need a second import just to read WorkflowRun.CurrentStage.
type Stage = stage.Stage

// RunStatus is WorkflowRun.status.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunDeadLetter RunStatus = "dead_letter"
)

// TaskStatus is Task.status.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskRetry     TaskStatus = "retry"
	TaskCompleted TaskStatus = "completed"
	TaskBlocked   TaskStatus = "blocked"
)

// AttemptStatus is AgentAttempt.status.
type AttemptStatus string

const (
	AttemptCompleted  AttemptStatus = "completed"
	AttemptBlocked    AttemptStatus = "blocked"
	AttemptNeedsReview AttemptStatus = "needs_review"
	AttemptFailed     AttemptStatus = "failed"
)

// MergeDecisionKind is MergeDecision.decision.
type MergeDecisionKind string

const (
	DecisionApprove        MergeDecisionKind = "approve"
	DecisionRequestChanges  MergeDecisionKind = "request_changes"
	DecisionBlock           MergeDecisionKind = "block"
)

// Event is a single inbound delivery (spec §3 "Event").
type Event struct {
	ID            string
	DeliveryID    string
	EventType     string
	SourceOwner   string
	SourceRepo    string
	Payload       string
	WorkflowRunID *string
	Processed     bool
	Error         *string
	ReceivedAt    time.Time
}

// WorkflowRun is one logical execution (spec §3 "WorkflowRun").
type WorkflowRun struct {
	ID               string
	IssueNumber      *int
	PRNumber         *int
	Status           RunStatus
	CurrentStage     Stage
	SpecID           *string
	SpecYAML         *string
	DeadLetterReason *string
	ExternalTaskRef  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Task is a unit of the DAG (spec §3 "Task").
type Task struct {
	ID               string
	WorkflowRunID    string
	TaskKey          string
	Title            string
	OwnerRole        string
	Status           TaskStatus
	AttemptCount     int
	DefinitionOfDone []string
	DependsOn        []string
	LastResult       string
	CreatedAt        time.Time
}

// AgentAttempt is one execution attempt of a task (spec §3 "AgentAttempt").
type AgentAttempt struct {
	ID             string
	TaskID         string
	AgentRole      string
	AttemptNumber  int
	Status         AttemptStatus
	Output         string
	Error          *string
	ErrorCategory  string
	BackoffDelayMs *int64
	DurationMs     int64
	CreatedAt      time.Time
}

// Artifact is a produced blob (spec §3 "Artifact").
type Artifact struct {
	ID            string
	WorkflowRunID string
	TaskID        *string
	Kind          string
	Content       string
	Metadata      json.RawMessage
	CreatedAt     time.Time
}

// MergeDecisionRecord is a MergeDecision row (spec §3 "MergeDecision").
type MergeDecisionRecord struct {
	ID               string
	WorkflowRunID    string
	PRNumber         int
	Decision         MergeDecisionKind
	Rationale        string
	BlockingFindings []string
	CreatedAt        time.Time
}

// StageTransitionRecord is a StageTransition row (spec §3 "StageTransition").
type StageTransitionRecord struct {
	ID              string
	WorkflowRunID   string
	FromStage       Stage
	ToStage         Stage
	Metadata        json.RawMessage
	TransitionedAt  time.Time
}
