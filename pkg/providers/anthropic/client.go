// Package anthropic adapts the Anthropic Messages API to the
// providers.SpecGenerator contract: generateFormalSpec, summarizeReview
// and generateMergeDecision all go through a single chat completion call
// (spec §1 "two language-model services").
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers/prompt"
)

// Client wraps the Anthropic SDK client with the model and token budget the
// orchestrator was configured with.
type Client struct {
	sdk       anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New builds a Client for the given API key and model name.
func New(apiKey, model string, maxTokens int64) *Client {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		sdk:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
	}
}

func (c *Client) complete(ctx context.Context, text string) (string, error) {
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "anthropic messages.new failed").WithRetryClass(apperrors.RetryTransient)
	}
	if len(msg.Content) == 0 {
		return "", apperrors.New(apperrors.ErrorTypeInternal, "anthropic response had no content blocks")
	}
	return msg.Content[0].Text, nil
}

// GenerateFormalSpec asks the model to produce the Formal Spec YAML for a
// triggering issue.
func (c *Client) GenerateFormalSpec(ctx context.Context, issue providers.IssueContext) (string, error) {
	text, err := prompt.FormalSpec(issue.Owner, issue.Repo, issue.Number, issue.Title, issue.Body, issue.CommitBaseline)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "render formal spec prompt")
	}
	out, err := c.complete(ctx, text)
	if err != nil {
		return "", fmt.Errorf("generate formal spec: %w", err)
	}
	return out, nil
}

// SummarizeReview asks the model to summarize a PR diff for a human
// reviewer.
func (c *Client) SummarizeReview(ctx context.Context, diff string, checksPassed bool) (string, error) {
	text, err := prompt.ReviewSummary(diff, checksPassed)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "render review summary prompt")
	}
	out, err := c.complete(ctx, text)
	if err != nil {
		return "", fmt.Errorf("summarize review: %w", err)
	}
	return out, nil
}

// GenerateMergeDecision asks the model for a merge verdict plus rationale.
// The decision text is expected to begin with one of the three keywords;
// the orchestrator parses it into a datastore.MergeDecisionKind.
func (c *Client) GenerateMergeDecision(ctx context.Context, reviewSummary string, blockingFindings []string) (string, string, error) {
	text, err := prompt.MergeDecision(reviewSummary, blockingFindings)
	if err != nil {
		return "", "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "render merge decision prompt")
	}
	out, err := c.complete(ctx, text)
	if err != nil {
		return "", "", fmt.Errorf("generate merge decision: %w", err)
	}
	return splitDecisionAndRationale(out)
}

// splitDecisionAndRationale pulls the leading decision keyword off the
// model's response, leaving the remainder as the rationale.
func splitDecisionAndRationale(out string) (string, string, error) {
	trimmed := strings.TrimSpace(out)
	for _, kw := range []string{"approve", "request_changes", "block"} {
		if strings.HasPrefix(strings.ToLower(trimmed), kw) {
			return kw, strings.TrimSpace(trimmed[len(kw):]), nil
		}
	}
	return "block", trimmed, nil
}
