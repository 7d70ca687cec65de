// Package providers defines the contracts C8 (the Orchestrator Service)
// calls through the boundary wrapper (C4): one hosting provider, one spec
// generator, and the two agent roles that do the actual code-task work
// (spec §4.8, §1 "two language-model services").
package providers

import "context"

// IssueContext is what the hosting provider returns for a triggering issue.
type IssueContext struct {
	Owner         string
	Repo          string
	Number        int
	Title         string
	Body          string
	Labels        []string
	DefaultBranch string
	// CommitBaseline is the head SHA of DefaultBranch at dispatch time; it
	// feeds the Formal Spec's source.github.commit_baseline.
	CommitBaseline string
}

// PullRequestRef identifies an open PR tied to a task ref.
type PullRequestRef struct {
	Number     int
	HeadSHA    string
	HeadBranch string
	State      string
}

// HostingProvider is the GitHub-facing boundary (spec §4.8 steps 1, 5, 9).
type HostingProvider interface {
	GetIssueContext(ctx context.Context, owner, repo string, number int) (*IssueContext, error)
	GetBranchSHA(ctx context.Context, owner, repo, branch string) (string, error)
	FindOpenPullRequestForIssue(ctx context.Context, owner, repo string, issueNumber int) (*PullRequestRef, error)
	HasRequiredChecksPassed(ctx context.Context, owner, repo string, prNumber int) (bool, error)
	AddIssueComment(ctx context.Context, owner, repo string, number int, body string) error
	ApprovePullRequest(ctx context.Context, owner, repo string, prNumber int, body string) error
	EnableAutoMerge(ctx context.Context, owner, repo string, prNumber int) error
	RequestChanges(ctx context.Context, owner, repo string, prNumber int, body string) error
}

// SpecGenerator produces the Formal Spec YAML for a triggering issue
// (spec §4.8 step 2, §6). Grounded on Anthropic's chat-completion style.
type SpecGenerator interface {
	GenerateFormalSpec(ctx context.Context, issue IssueContext) (yaml string, err error)
	SummarizeReview(ctx context.Context, diff string, checksPassed bool) (summary string, err error)
	GenerateMergeDecision(ctx context.Context, reviewSummary string, blockingFindings []string) (decision string, rationale string, err error)
}

// SubtaskInput is one work-breakdown item handed to the executor agent.
type SubtaskInput struct {
	TaskKey          string
	Title            string
	OwnerRole        string
	DefinitionOfDone []string
	RepoContext      string
}

// SubtaskResult is what the executor agent produces for one attempt.
type SubtaskResult struct {
	Output string
	Diff   string
}

// ExecutorAgent runs one subtask attempt against the target repository
// (spec §4.8 step 6). Grounded on AWS Bedrock's InvokeModel contract.
type ExecutorAgent interface {
	ExecuteSubtask(ctx context.Context, input SubtaskInput) (*SubtaskResult, error)
}
