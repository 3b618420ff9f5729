package github

import (
	"context"
	"fmt"
	"log/slog"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/argus-dev/argus/internal/ports"
)

func (c *Client) GetCombinedStatus(ctx context.Context, owner, repo, ref string) (ports.CombinedStatus, error) {
	slog.Debug("forge: getting combined status", "owner", owner, "repo", repo, "ref", ref)
	status, _, err := c.gh.Repositories.GetCombinedStatus(ctx, owner, repo, ref, nil)
	if err != nil {
		return ports.CombinedStatus{}, fmt.Errorf("forge: get combined status: %w", err)
	}
	contexts := make([]string, 0, len(status.Statuses))
	for _, s := range status.Statuses {
		contexts = append(contexts, s.GetContext())
	}
	return ports.CombinedStatus{State: status.GetState(), Contexts: contexts}, nil
}

func (c *Client) GetCheckRuns(ctx context.Context, owner, repo, ref string) ([]ports.CheckRun, error) {
	slog.Debug("forge: listing check runs", "owner", owner, "repo", repo, "ref", ref)
	runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: list check runs: %w", err)
	}
	out := make([]ports.CheckRun, 0, len(runs.CheckRuns))
	for _, r := range runs.CheckRuns {
		out = append(out, ports.CheckRun{
			Name: r.GetName(), Status: r.GetStatus(), Conclusion: r.GetConclusion(), ID: r.GetID(),
		})
	}
	return out, nil
}

func (c *Client) GetCheckRunAnnotations(ctx context.Context, owner, repo string, checkRunID int64) ([]string, error) {
	slog.Debug("forge: listing check run annotations", "owner", owner, "repo", repo, "check_run_id", checkRunID)
	annotations, _, err := c.gh.Checks.ListCheckRunAnnotations(ctx, owner, repo, checkRunID, nil)
	if err != nil {
		return nil, fmt.Errorf("forge: list check run annotations: %w", err)
	}
	out := make([]string, 0, len(annotations))
	for _, a := range annotations {
		out = append(out, fmt.Sprintf("%s:%d: %s", a.GetPath(), a.GetStartLine(), a.GetMessage()))
	}
	return out, nil
}

func (c *Client) GetRepoRole(ctx context.Context, owner, repo, username string) (ports.Role, error) {
	slog.Debug("forge: getting repo permission level", "owner", owner, "repo", repo, "user", username)
	perm, _, err := c.gh.Repositories.GetPermissionLevel(ctx, owner, repo, username)
	if err != nil {
		return ports.RoleNone, fmt.Errorf("forge: get permission level: %w", err)
	}
	return mapRole(perm.GetPermission()), nil
}

func mapRole(permission string) ports.Role {
	switch permission {
	case "admin":
		return ports.RoleAdmin
	case "maintain":
		return ports.RoleMaintainer
	case "write":
		return ports.RoleWrite
	case "triage":
		return ports.RoleTriage
	case "read":
		return ports.RoleRead
	default:
		return ports.RoleNone
	}
}

func (c *Client) GetUserHistory(ctx context.Context, owner, repo, username string) (ports.UserHistory, error) {
	merged, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s is:pr is:merged author:%s", owner, repo, username))
	if err != nil {
		return ports.UserHistory{}, err
	}
	closedValid, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s is:issue is:closed author:%s -label:invalid", owner, repo, username))
	if err != nil {
		return ports.UserHistory{}, err
	}
	comments, err := c.countSearchResults(ctx, fmt.Sprintf("repo:%s/%s commenter:%s", owner, repo, username))
	if err != nil {
		return ports.UserHistory{}, err
	}
	return ports.UserHistory{MergedPRs: merged, ClosedValidIssues: closedValid, TotalComments: comments}, nil
}

func (c *Client) countSearchResults(ctx context.Context, query string) (int, error) {
	slog.Debug("forge: counting search results", "query", query)
	result, _, err := c.gh.Search.Issues(ctx, query, &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 1}})
	if err != nil {
		return 0, fmt.Errorf("forge: search %q: %w", query, err)
	}
	return result.GetTotal(), nil
}

func (c *Client) DeleteComment(ctx context.Context, owner, repo string, commentID int64) error {
	slog.Debug("forge: deleting comment", "owner", owner, "repo", repo, "comment_id", commentID)
	_, err := c.gh.Issues.DeleteComment(ctx, owner, repo, commentID)
	if err != nil {
		return fmt.Errorf("forge: delete comment: %w", err)
	}
	return nil
}

func (c *Client) BlockUser(ctx context.Context, owner, repo, username string) error {
	slog.Debug("forge: blocking user", "owner", owner, "user", username)
	_, err := c.gh.Organizations.BlockUser(ctx, owner, username)
	if err != nil {
		return fmt.Errorf("forge: block user %q: %w", username, err)
	}
	return nil
}

func (c *Client) UnblockUser(ctx context.Context, owner, repo, username string) error {
	slog.Debug("forge: unblocking user", "owner", owner, "user", username)
	_, err := c.gh.Organizations.UnblockUser(ctx, owner, username)
	if err != nil {
		return fmt.Errorf("forge: unblock user %q: %w", username, err)
	}
	return nil
}

// ReportUser has no direct GitHub REST equivalent for repo maintainers, so
// Argus escalates by filing a security-labeled issue for a human to act on
// rather than silently dropping the action.
func (c *Client) ReportUser(ctx context.Context, owner, repo, username, reason string) error {
	slog.Debug("forge: filing security report", "owner", owner, "repo", repo, "user", username, "reason", reason)
	title := fmt.Sprintf("Argus security report: @%s", username)
	body := fmt.Sprintf("Argus flagged @%s for maintainer review.\n\nReason: %s", username, reason)
	_, _, err := c.gh.Issues.Create(ctx, owner, repo, &gogithub.IssueRequest{
		Title: &title, Body: &body, Labels: &[]string{"argus:security-report"},
	})
	if err != nil {
		return fmt.Errorf("forge: report user %q: %w", username, err)
	}
	return nil
}
