// Package ports defines the boundary interfaces Argus's core depends on but
// never implements a transport for itself: the forge, the LLM, persistent
// storage and the notifier. Concrete adapters live outside this package
// (internal/forge/github is the one this repo ships); the core only ever
// sees these interfaces.
package ports

import (
	"context"
	"time"
)

// Role is a forge-native role string, mapped to the canonical set by each
// Forge implementation before it reaches the core.
type Role string

// Canonical roles (spec §6).
const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleMaintainer Role = "maintainer"
	RoleWrite      Role = "write"
	RoleTriage     Role = "triage"
	RoleRead       Role = "read"
	RoleNone       Role = "none"
)

// Issue is a forge issue as seen by the core.
type Issue struct {
	Number    int
	Title     string
	Body      string
	URL       string
	State     string
	Author    string
	UpdatedAt time.Time
	Labels    []string
}

// Comment is a forge comment on an issue or PR.
type Comment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewComment is an inline PR review comment.
type ReviewComment struct {
	Comment
	Path        string
	Line        int
	Side        string
	DiffHunk    string
	InReplyToID int64
}

// PullRequest is a forge pull request as seen by the core.
type PullRequest struct {
	Number     int
	Title      string
	Body       string
	URL        string
	HeadBranch string
	HeadSHA    string
	BaseBranch string
	Author     string
	Draft      bool
	Merged     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FileChange is one file in a pull request's diff.
type FileChange struct {
	Path      string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// CheckRun is one CI check-run result.
type CheckRun struct {
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, cancelled, timed_out, ...
	ID         int64
}

// CombinedStatus is the classic commit-status aggregate.
type CombinedStatus struct {
	State    string // success, pending, failure, error
	Contexts []string
}

// TreeEntry is one entry from a repository tree listing.
type TreeEntry struct {
	Path string
	Type string // blob, tree
}

// UserHistory is the forge-reported activity used by the trust resolver.
type UserHistory struct {
	MergedPRs         int
	ClosedValidIssues int
	TotalComments     int
}

// Forge is the required forge port (spec §6). Every operation takes a
// context so the orchestrator can cancel in-flight calls on emergency stop.
type Forge interface {
	// Issues
	ListIssuesUpdatedSince(ctx context.Context, owner, repo string, since time.Time) ([]Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (Issue, error)
	ListIssueComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)
	ListIssueCommentsSince(ctx context.Context, owner, repo string, number int, since time.Time) ([]Comment, error)
	AddLabel(ctx context.Context, owner, repo string, number int, label string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error
	AddIssueComment(ctx context.Context, owner, repo string, number int, body string) (Comment, error)
	UpdateIssueBody(ctx context.Context, owner, repo string, number int, body string) error
	ListRepoLabels(ctx context.Context, owner, repo string) ([]string, error)

	// Pull requests
	ListOpenPRs(ctx context.Context, owner, repo string) ([]PullRequest, error)
	ListPRsForIssue(ctx context.Context, owner, repo string, issueNumber int) ([]PullRequest, error)
	GetPR(ctx context.Context, owner, repo string, number int) (PullRequest, error)
	ListConversationComments(ctx context.Context, owner, repo string, prNumber int) ([]Comment, error)
	ListReviewComments(ctx context.Context, owner, repo string, prNumber int) ([]ReviewComment, error)
	ListPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]FileChange, error)
	CreatePR(ctx context.Context, owner, repo, title, body, head, base string) (PullRequest, error)
	AddPRComment(ctx context.Context, owner, repo string, prNumber int, body string) (Comment, error)
	UpdatePRBody(ctx context.Context, owner, repo string, prNumber int, body string) error

	// Branches and files
	GetDefaultBranch(ctx context.Context, owner, repo string) (string, error)
	CreateBranchFrom(ctx context.Context, owner, repo, base, newBranch string) error
	GetFileContent(ctx context.Context, owner, repo, branch, path string) (string, error)
	CreateOrUpdateFile(ctx context.Context, owner, repo, branch, path, content, message string) error
	ListTree(ctx context.Context, owner, repo, branch, path string, recursive bool) ([]TreeEntry, error)

	// CI
	GetCombinedStatus(ctx context.Context, owner, repo, ref string) (CombinedStatus, error)
	GetCheckRuns(ctx context.Context, owner, repo, ref string) ([]CheckRun, error)
	GetCheckRunAnnotations(ctx context.Context, owner, repo string, checkRunID int64) ([]string, error)

	// Code search
	SearchCode(ctx context.Context, owner, repo, query string) ([]string, error)

	// Users
	GetRepoRole(ctx context.Context, owner, repo, username string) (Role, error)
	GetUserHistory(ctx context.Context, owner, repo, username string) (UserHistory, error)

	// Moderation
	DeleteComment(ctx context.Context, owner, repo string, commentID int64) error
	BlockUser(ctx context.Context, owner, repo, username string) error
	UnblockUser(ctx context.Context, owner, repo, username string) error
	ReportUser(ctx context.Context, owner, repo, username, reason string) error

	// Token introspection
	ValidateTokenScopes(ctx context.Context) ([]string, error)
}

// LLMMessage is one turn in an LLM conversation.
type LLMMessage struct {
	Role    string // system, user, assistant
	Content string
}

// LLM is the required LLM port (spec §6). The core never holds a
// conversation open across issues: each call is a fresh send.
type LLM interface {
	Send(ctx context.Context, messages []LLMMessage) (string, error)
}

// Store is the persistent key/value and secret-storage port (spec §6).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	GetSecret(ctx context.Context, key string) ([]byte, bool, error)
	PutSecret(ctx context.Context, key string, value []byte) error
}

// Notifier is the notification port (spec §6, §7). Dispatches happen on
// evaluation, PR-created, threat-detected, competing-PRs-analyzed and
// pipeline-error events.
type Notifier interface {
	Notify(ctx context.Context, event string, details map[string]string) error
}
