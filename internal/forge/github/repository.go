package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	gogithub "github.com/google/go-github/v57/github"

	"github.com/argus-dev/argus/internal/ports"
)

func (c *Client) GetDefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	slog.Debug("forge: getting default branch", "owner", owner, "repo", repo)
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("forge: get repo: %w", err)
	}
	return r.GetDefaultBranch(), nil
}

func (c *Client) CreateBranchFrom(ctx context.Context, owner, repo, base, newBranch string) error {
	slog.Debug("forge: creating branch", "owner", owner, "repo", repo, "base", base, "new_branch", newBranch)
	baseRef, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return fmt.Errorf("forge: resolve base branch %q: %w", base, err)
	}
	ref := &gogithub.Reference{
		Ref:    gogithub.String("refs/heads/" + newBranch),
		Object: &gogithub.GitObject{SHA: baseRef.Object.SHA},
	}
	if _, _, err := c.gh.Git.CreateRef(ctx, owner, repo, ref); err != nil {
		return fmt.Errorf("forge: create branch %q: %w", newBranch, err)
	}
	return nil
}

func (c *Client) GetFileContent(ctx context.Context, owner, repo, branch, path string) (string, error) {
	slog.Debug("forge: getting file content", "owner", owner, "repo", repo, "branch", branch, "path", path)
	fc, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gogithub.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		return "", fmt.Errorf("forge: get file %q: %w", path, err)
	}
	if fc == nil {
		return "", fmt.Errorf("forge: %q is a directory, not a file", path)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("forge: decode file %q: %w", path, err)
	}
	return content, nil
}

func (c *Client) CreateOrUpdateFile(ctx context.Context, owner, repo, branch, path, content, message string) error {
	slog.Debug("forge: writing file", "owner", owner, "repo", repo, "branch", branch, "path", path)
	opts := &gogithub.RepositoryContentFileOptions{
		Message: &message,
		Content: []byte(content),
		Branch:  &branch,
	}

	existing, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gogithub.RepositoryContentGetOptions{Ref: branch})
	if err == nil && existing != nil {
		opts.SHA = existing.SHA
	}

	if _, _, err := c.gh.Repositories.CreateFile(ctx, owner, repo, path, opts); err != nil {
		if opts.SHA != nil {
			return fmt.Errorf("forge: update file %q: %w", path, err)
		}
		return fmt.Errorf("forge: create file %q: %w", path, err)
	}
	return nil
}

func (c *Client) ListTree(ctx context.Context, owner, repo, branch, path string, recursive bool) ([]ports.TreeEntry, error) {
	slog.Debug("forge: listing tree", "owner", owner, "repo", repo, "branch", branch, "path", path, "recursive", recursive)
	tree, _, err := c.gh.Git.GetTree(ctx, owner, repo, branch, recursive)
	if err != nil {
		return nil, fmt.Errorf("forge: get tree: %w", err)
	}
	prefix := strings.TrimSuffix(path, "/")
	var out []ports.TreeEntry
	for _, e := range tree.Entries {
		if prefix != "" && !strings.HasPrefix(e.GetPath(), prefix) {
			continue
		}
		out = append(out, ports.TreeEntry{Path: e.GetPath(), Type: e.GetType()})
	}
	return out, nil
}

func (c *Client) SearchCode(ctx context.Context, owner, repo, query string) ([]string, error) {
	full := fmt.Sprintf("repo:%s/%s %s", owner, repo, query)
	slog.Debug("forge: searching code", "owner", owner, "repo", repo, "query", query)
	result, _, err := c.gh.Search.Code(ctx, full, &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: 20}})
	if err != nil {
		return nil, fmt.Errorf("forge: search code: %w", err)
	}
	out := make([]string, 0, len(result.CodeResults))
	for _, r := range result.CodeResults {
		out = append(out, r.GetPath())
	}
	return out, nil
}
