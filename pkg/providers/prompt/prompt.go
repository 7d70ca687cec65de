// Package prompt holds the langchaingo prompt templates shared by the
// Anthropic spec-generator adapter and the Bedrock executor-agent adapter,
// so the two providers never drift on how a task's context is phrased.
package prompt

import (
	"github.com/tmc/langchaingo/prompts"
)

var formalSpecTemplate = prompts.NewPromptTemplate(
	`You are generating a Formal Spec (YAML) for the following GitHub issue.

Repository: {{.owner}}/{{.repo}}
Issue #{{.number}}: {{.title}}
Baseline commit: {{.commitBaseline}}

{{.body}}

Produce a spec_version 1 document with source.github.commit_baseline set
to the baseline commit above, an objective, acceptance_criteria, and a
work_breakdown whose items form a DAG via depends_on. Do not include any
secret, credential, or token value from the issue body.`,
	[]string{"owner", "repo", "number", "title", "body", "commitBaseline"},
)

// FormalSpec renders the spec-generation prompt for the Anthropic adapter.
func FormalSpec(owner, repo string, number int, title, body, commitBaseline string) (string, error) {
	return formalSpecTemplate.Format(map[string]any{
		"owner": owner, "repo": repo, "number": number, "title": title, "body": body, "commitBaseline": commitBaseline,
	})
}

var reviewSummaryTemplate = prompts.NewPromptTemplate(
	`Summarize the following pull request diff for a human reviewer.
Required CI checks passed: {{.checksPassed}}.

{{.diff}}

Call out anything that looks unfinished, untested, or risky.`,
	[]string{"diff", "checksPassed"},
)

// ReviewSummary renders the review-summarization prompt.
func ReviewSummary(diff string, checksPassed bool) (string, error) {
	return reviewSummaryTemplate.Format(map[string]any{"diff": diff, "checksPassed": checksPassed})
}

var mergeDecisionTemplate = prompts.NewPromptTemplate(
	`Given this review summary, decide whether to approve, request changes,
or block the merge.

Review summary:
{{.summary}}

Known blocking findings: {{.findings}}

Respond with a decision (approve | request_changes | block) and a short
rationale.`,
	[]string{"summary", "findings"},
)

// MergeDecision renders the merge-decision prompt.
func MergeDecision(summary string, findings []string) (string, error) {
	return mergeDecisionTemplate.Format(map[string]any{"summary": summary, "findings": findings})
}

var subtaskTemplate = prompts.NewPromptTemplate(
	`You are implementing one subtask of a larger code change.

Task: {{.title}}
Owner role: {{.ownerRole}}
Definition of done:
{{.definitionOfDone}}

Repository context:
{{.repoContext}}

Produce the code change and a short summary of what you did.`,
	[]string{"title", "ownerRole", "definitionOfDone", "repoContext"},
)

// Subtask renders the executor-agent prompt for one work-breakdown item.
func Subtask(title, ownerRole string, definitionOfDone []string, repoContext string) (string, error) {
	return subtaskTemplate.Format(map[string]any{
		"title": title, "ownerRole": ownerRole, "definitionOfDone": definitionOfDone, "repoContext": repoContext,
	})
}
