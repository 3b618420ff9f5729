// Package github adapts the go-github client to Argus's ports.Forge
// interface. It is the one concrete forge implementation this repo ships;
// a GitLab adapter would satisfy the same port without touching core code.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/argus-dev/argus/internal/ports"
)

// Client wraps a go-github client bound to no particular repo; every
// ports.Forge method takes owner/repo explicitly since Argus watches many
// repositories from one running instance.
type Client struct {
	gh *gogithub.Client
}

// NewClient builds a token-authenticated GitHub client.
func NewClient(ctx context.Context, token string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &Client{gh: gogithub.NewClient(tc)}
}

// paginatedList drains every page of a go-github list call into one slice.
func paginatedList[T any](fetch func(page int) ([]T, *gogithub.Response, error)) ([]T, error) {
	var all []T
	page := 0
	for {
		items, resp, err := fetch(page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return all, nil
}

var _ ports.Forge = (*Client)(nil)

func (c *Client) ListIssuesUpdatedSince(ctx context.Context, owner, repo string, since time.Time) ([]ports.Issue, error) {
	items, err := paginatedList(func(page int) ([]*gogithub.Issue, *gogithub.Response, error) {
		opts := &gogithub.IssueListByRepoOptions{
			State: "open", Since: since, Sort: "updated", Direction: "desc",
			ListOptions: gogithub.ListOptions{PerPage: 100, Page: page},
		}
		slog.Debug("forge: listing issues", "owner", owner, "repo", repo, "since", since, "page", page)
		return c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	var out []ports.Issue
	for _, i := range items {
		if i.IsPullRequest() {
			continue
		}
		out = append(out, toIssue(i))
	}
	return out, nil
}

func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (ports.Issue, error) {
	slog.Debug("forge: getting issue", "owner", owner, "repo", repo, "number", number)
	i, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return ports.Issue{}, fmt.Errorf("forge: get issue #%d: %w", number, err)
	}
	return toIssue(i), nil
}

func toIssue(i *gogithub.Issue) ports.Issue {
	labels := make([]string, 0, len(i.Labels))
	for _, l := range i.Labels {
		labels = append(labels, l.GetName())
	}
	return ports.Issue{
		Number: i.GetNumber(), Title: i.GetTitle(), Body: i.GetBody(), URL: i.GetHTMLURL(),
		State: i.GetState(), Author: i.GetUser().GetLogin(), UpdatedAt: i.GetUpdatedAt().Time, Labels: labels,
	}
}

func (c *Client) ListIssueComments(ctx context.Context, owner, repo string, number int) ([]ports.Comment, error) {
	return c.listIssueComments(ctx, owner, repo, number, time.Time{})
}

func (c *Client) ListIssueCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]ports.Comment, error) {
	return c.listIssueComments(ctx, owner, repo, number, since)
}

func (c *Client) listIssueComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]ports.Comment, error) {
	opts := &gogithub.IssueListCommentsOptions{ListOptions: gogithub.ListOptions{PerPage: 100}}
	if !since.IsZero() {
		opts.Since = &since
	}
	items, err := paginatedList(func(page int) ([]*gogithub.IssueComment, *gogithub.Response, error) {
		opts.Page = page
		slog.Debug("forge: listing issue comments", "owner", owner, "repo", repo, "issue", number, "page", page)
		return c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list issue comments: %w", err)
	}
	out := make([]ports.Comment, 0, len(items))
	for _, cm := range items {
		out = append(out, toComment(cm))
	}
	return out, nil
}

func toComment(cm *gogithub.IssueComment) ports.Comment {
	return ports.Comment{
		ID: cm.GetID(), Body: cm.GetBody(), Author: cm.GetUser().GetLogin(),
		CreatedAt: cm.GetCreatedAt().Time, UpdatedAt: cm.GetUpdatedAt().Time,
	}
}

func (c *Client) AddLabel(ctx context.Context, owner, repo string, number int, label string) error {
	slog.Debug("forge: adding label", "owner", owner, "repo", repo, "issue", number, "label", label)
	_, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label})
	if err != nil {
		return fmt.Errorf("forge: add label %q: %w", label, err)
	}
	return nil
}

func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	slog.Debug("forge: removing label", "owner", owner, "repo", repo, "issue", number, "label", label)
	_, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	if err != nil {
		return fmt.Errorf("forge: remove label %q: %w", label, err)
	}
	return nil
}

func (c *Client) AddIssueComment(ctx context.Context, owner, repo string, number int, body string) (ports.Comment, error) {
	slog.Debug("forge: adding issue comment", "owner", owner, "repo", repo, "issue", number)
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &gogithub.IssueComment{Body: &body})
	if err != nil {
		return ports.Comment{}, fmt.Errorf("forge: add issue comment: %w", err)
	}
	return toComment(cm), nil
}

func (c *Client) UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error {
	slog.Debug("forge: updating issue body", "owner", owner, "repo", repo, "issue", number)
	_, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &gogithub.IssueRequest{Body: &body})
	if err != nil {
		return fmt.Errorf("forge: update issue body: %w", err)
	}
	return nil
}

func (c *Client) ListRepoLabels(ctx context.Context, owner, repo string) ([]string, error) {
	items, err := paginatedList(func(page int) ([]*gogithub.Label, *gogithub.Response, error) {
		return c.gh.Issues.ListLabels(ctx, owner, repo, &gogithub.ListOptions{PerPage: 100, Page: page})
	})
	if err != nil {
		return nil, fmt.Errorf("forge: list repo labels: %w", err)
	}
	out := make([]string, 0, len(items))
	for _, l := range items {
		out = append(out, l.GetName())
	}
	return out, nil
}

func (c *Client) ValidateTokenScopes(ctx context.Context) ([]string, error) {
	slog.Debug("forge: validating token scopes")
	_, resp, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("forge: validate token: %w", err)
	}
	scopes := resp.Header.Get("X-OAuth-Scopes")
	if scopes == "" {
		return nil, nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scopes); i++ {
		if i == len(scopes) || scopes[i] == ',' {
			out = append(out, trimSpace(scopes[start:i]))
			start = i + 1
		}
	}
	return out, nil
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
