package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/argus-dev/argus/internal/ports"
)

func (c *Client) ListOpenPRs(ctx context.Context, owner, repo string) ([]ports.PullRequest, error) {
	items, err := paginatedList(func(page int) ([]*gogithub.PullRequest, *gogithub.Response, error) {
		opts := &gogithub.PullRequestListOptions{
			State: "open", Sort: "updated", Direction: "desc",
			ListOptions: gogithub.ListOptions{PerPage: 100, Page: page},
		}
		slog.Debug("forge: listing open PRs", "owner", owner, "repo", repo, "page", page)
		return c.gh.PullRequests.List(ctx, owner, repo, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list open PRs: %w", err)
	}
	out := make([]ports.PullRequest, 0, len(items))
	for _, pr := range items {
		out = append(out, toPR(pr))
	}
	return out, nil
}

func (c *Client) ListPRsForIssue(ctx context.Context, owner, repo string, issueNumber int) ([]ports.PullRequest, error) {
	query := fmt.Sprintf("repo:%s/%s is:pr %d in:body", owner, repo, issueNumber)
	slog.Debug("forge: searching PRs for issue", "owner", owner, "repo", repo, "issue", issueNumber, "query", query)
	result, _, err := c.gh.Search.Issues(ctx, query, &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 50}})
	if err != nil {
		return nil, fmt.Errorf("forge: search PRs for issue #%d: %w", issueNumber, err)
	}
	var out []ports.PullRequest
	for _, issue := range result.Issues {
		if !issue.IsPullRequest() {
			continue
		}
		pr, err := c.GetPR(ctx, owner, repo, issue.GetNumber())
		if err != nil {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (c *Client) GetPR(ctx context.Context, owner, repo string, number int) (ports.PullRequest, error) {
	slog.Debug("forge: getting PR", "owner", owner, "repo", repo, "number", number)
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return ports.PullRequest{}, fmt.Errorf("forge: get PR #%d: %w", number, err)
	}
	return toPR(pr), nil
}

func toPR(pr *gogithub.PullRequest) ports.PullRequest {
	return ports.PullRequest{
		Number: pr.GetNumber(), Title: pr.GetTitle(), Body: pr.GetBody(), URL: pr.GetHTMLURL(),
		HeadBranch: pr.GetHead().GetRef(), HeadSHA: pr.GetHead().GetSHA(), BaseBranch: pr.GetBase().GetRef(),
		Author: pr.GetUser().GetLogin(), Draft: pr.GetDraft(), Merged: pr.GetMerged(),
		CreatedAt: pr.GetCreatedAt().Time, UpdatedAt: pr.GetUpdatedAt().Time,
	}
}

func (c *Client) ListConversationComments(ctx context.Context, owner, repo string, prNumber int) ([]ports.Comment, error) {
	return c.listIssueComments(ctx, owner, repo, prNumber, time.Time{})
}

func (c *Client) ListReviewComments(ctx context.Context, owner, repo string, prNumber int) ([]ports.ReviewComment, error) {
	items, err := paginatedList(func(page int) ([]*gogithub.PullRequestComment, *gogithub.Response, error) {
		slog.Debug("forge: listing review comments", "owner", owner, "repo", repo, "pr", prNumber, "page", page)
		return c.gh.PullRequests.ListComments(ctx, owner, repo, prNumber, &gogithub.PullRequestListCommentsOptions{
			ListOptions: gogithub.ListOptions{PerPage: 100, Page: page},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list review comments: %w", err)
	}
	out := make([]ports.ReviewComment, 0, len(items))
	for _, rc := range items {
		out = append(out, ports.ReviewComment{
			Comment: ports.Comment{
				ID: rc.GetID(), Body: rc.GetBody(), Author: rc.GetUser().GetLogin(),
				CreatedAt: rc.GetCreatedAt().Time, UpdatedAt: rc.GetUpdatedAt().Time,
			},
			Path: rc.GetPath(), Line: rc.GetLine(), Side: rc.GetSide(),
			DiffHunk: rc.GetDiffHunk(), InReplyToID: rc.GetInReplyTo(),
		})
	}
	return out, nil
}

func (c *Client) ListPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]ports.FileChange, error) {
	items, err := paginatedList(func(page int) ([]*gogithub.CommitFile, *gogithub.Response, error) {
		slog.Debug("forge: listing PR files", "owner", owner, "repo", repo, "pr", prNumber, "page", page)
		return c.gh.PullRequests.ListFiles(ctx, owner, repo, prNumber, &gogithub.ListOptions{PerPage: 100, Page: page})
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list PR files: %w", err)
	}
	out := make([]ports.FileChange, 0, len(items))
	for _, f := range items {
		out = append(out, ports.FileChange{
			Path: f.GetFilename(), Status: f.GetStatus(),
			Additions: f.GetAdditions(), Deletions: f.GetDeletions(), Patch: f.GetPatch(),
		})
	}
	return out, nil
}

func (c *Client) CreatePR(ctx context.Context, owner, repo, title, body, head, base string) (ports.PullRequest, error) {
	slog.Debug("forge: creating PR", "owner", owner, "repo", repo, "head", head, "base", base)
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &gogithub.NewPullRequest{
		Title: &title, Body: &body, Head: &head, Base: &base,
	})
	if err != nil {
		return ports.PullRequest{}, fmt.Errorf("forge: create PR: %w", err)
	}
	return toPR(pr), nil
}

func (c *Client) AddPRComment(ctx context.Context, owner, repo string, prNumber int, body string) (ports.Comment, error) {
	slog.Debug("forge: adding PR comment", "owner", owner, "repo", repo, "pr", prNumber)
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, &gogithub.IssueComment{Body: &body})
	if err != nil {
		return ports.Comment{}, fmt.Errorf("forge: add PR comment: %w", err)
	}
	return toComment(cm), nil
}

func (c *Client) UpdatePRBody(ctx context.Context, owner, repo string, prNumber int, body string) error {
	slog.Debug("forge: updating PR body", "owner", owner, "repo", repo, "pr", prNumber)
	_, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, prNumber, &gogithub.PullRequest{Body: &body})
	if err != nil {
		return fmt.Errorf("forge: update PR body: %w", err)
	}
	return nil
}
