// Package hosting adapts go-github to the providers.HostingProvider
// contract: every GitHub REST call C8 makes to read issue/PR state or to
// post a review outcome (spec §4.8 steps 1, 5, 9).
package hosting

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/go-github/v74/github"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers"
)

// Client wraps an authenticated go-github client.
type Client struct {
	gh *github.Client
}

// New builds a Client authenticated with a GitHub App installation token
// (or a PAT in development).
func New(token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{gh: github.NewClient(httpClient).WithAuthToken(token)}
}

func wrapGitHubErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if resp, ok := err.(*github.ErrorResponse); ok && resp.Response != nil && resp.Response.StatusCode == http.StatusNotFound {
		return apperrors.Wrap(err, apperrors.ErrorTypeNotFound, op)
	}
	return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, op).WithRetryClass(apperrors.RetryDependency)
}

// GetIssueContext fetches the issue and its repository's default branch.
func (c *Client) GetIssueContext(ctx context.Context, owner, repo string, number int) (*providers.IssueContext, error) {
	issue, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, wrapGitHubErr("get issue", err)
	}
	repository, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, wrapGitHubErr("get repository", err)
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}

	return &providers.IssueContext{
		Owner:         owner,
		Repo:          repo,
		Number:        number,
		Title:         issue.GetTitle(),
		Body:          issue.GetBody(),
		Labels:        labels,
		DefaultBranch: repository.GetDefaultBranch(),
	}, nil
}

// GetBranchSHA returns the head commit SHA of a branch.
func (c *Client) GetBranchSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	b, _, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		return "", wrapGitHubErr("get branch", err)
	}
	return b.GetCommit().GetSHA(), nil
}

// FindOpenPullRequestForIssue searches for an open PR whose body or title
// references the issue number, the convention the spec generator's PR
// description follows.
func (c *Client) FindOpenPullRequestForIssue(ctx context.Context, owner, repo string, issueNumber int) (*providers.PullRequestRef, error) {
	query := "repo:" + owner + "/" + repo + " is:pr is:open in:body #" + strconv.Itoa(issueNumber)
	result, _, err := c.gh.Search.Issues(ctx, query, nil)
	if err != nil {
		return nil, wrapGitHubErr("search pull requests", err)
	}
	if len(result.Issues) == 0 {
		return nil, apperrors.NewNotFoundError("open pull request for issue")
	}

	prNumber := result.Issues[0].GetNumber()
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, wrapGitHubErr("get pull request", err)
	}

	return &providers.PullRequestRef{
		Number:     pr.GetNumber(),
		HeadSHA:    pr.GetHead().GetSHA(),
		HeadBranch: pr.GetHead().GetRef(),
		State:      pr.GetState(),
	}, nil
}

// HasRequiredChecksPassed reports whether every check run on the PR's head
// commit concluded successfully.
func (c *Client) HasRequiredChecksPassed(ctx context.Context, owner, repo string, prNumber int) (bool, error) {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return false, wrapGitHubErr("get pull request", err)
	}

	runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, pr.GetHead().GetSHA(), nil)
	if err != nil {
		return false, wrapGitHubErr("list check runs", err)
	}
	if runs.GetTotal() == 0 {
		return false, nil
	}
	for _, run := range runs.CheckRuns {
		if run.GetStatus() != "completed" || run.GetConclusion() != "success" {
			return false, nil
		}
	}
	return true, nil
}

// AddIssueComment posts a comment to an issue or PR (both share the issue
// comments endpoint in the GitHub API).
func (c *Client) AddIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
	return wrapGitHubErr("add issue comment", err)
}

// ApprovePullRequest submits an APPROVE review.
func (c *Client) ApprovePullRequest(ctx context.Context, owner, repo string, prNumber int, body string) error {
	event := "APPROVE"
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, prNumber, &github.PullRequestReviewRequest{Body: &body, Event: &event})
	return wrapGitHubErr("approve pull request", err)
}

// EnableAutoMerge merges the pull request once required checks have
// passed. The REST API has no distinct "enable auto-merge" endpoint (that
// is GraphQL-only); since the orchestrator only calls this after
// HasRequiredChecksPassed returns true, an immediate squash merge gives
// the same observable outcome (spec §4.8 step 9).
func (c *Client) EnableAutoMerge(ctx context.Context, owner, repo string, prNumber int) error {
	_, _, err := c.gh.PullRequests.Merge(ctx, owner, repo, prNumber, "", &github.PullRequestOptions{MergeMethod: "squash"})
	return wrapGitHubErr("enable auto-merge", err)
}

// RequestChanges submits a REQUEST_CHANGES review.
func (c *Client) RequestChanges(ctx context.Context, owner, repo string, prNumber int, body string) error {
	event := "REQUEST_CHANGES"
	_, _, err := c.gh.PullRequests.CreateReview(ctx, owner, repo, prNumber, &github.PullRequestReviewRequest{Body: &body, Event: &event})
	return wrapGitHubErr("request changes", err)
}
