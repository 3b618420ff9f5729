package handlers

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/audit"
	"github.com/argus-dev/argus/internal/crypto"
	"github.com/argus-dev/argus/internal/ports"
	"github.com/argus-dev/argus/internal/store"
)

var canaryPattern = regexp.MustCompile(`exact token ([0-9a-f]+)`)

// extractCanaryFromSystem pulls the per-call canary out of the system
// message's llmguard instruction text, so fakeLLM handlers can echo it back.
func extractCanaryFromSystem(t *testing.T, messages []ports.LLMMessage) string {
	t.Helper()
	for _, m := range messages {
		if m.Role != "system" {
			continue
		}
		if match := canaryPattern.FindStringSubmatch(m.Content); match != nil {
			return match[1]
		}
	}
	t.Fatal("no canary found in system message")
	return ""
}

type fakeLLM struct {
	fn func(ctx context.Context, messages []ports.LLMMessage) (string, error)
}

func (f *fakeLLM) Send(ctx context.Context, messages []ports.LLMMessage) (string, error) {
	return f.fn(ctx, messages)
}

type fakeForge struct {
	ports.Forge

	roles    map[string]ports.Role
	history  map[string]ports.UserHistory
	prFiles  map[int][]ports.FileChange
	combined map[string]ports.CombinedStatus
	prsFor   map[int][]ports.PullRequest

	deletedComments []int64
	blockedUsers    []string
	reportedUsers   []string
	updatedBodies   map[int]string
	postedComments  []string
}

func newFakeForge() *fakeForge {
	return &fakeForge{
		roles:         map[string]ports.Role{},
		history:       map[string]ports.UserHistory{},
		prFiles:       map[int][]ports.FileChange{},
		combined:      map[string]ports.CombinedStatus{},
		prsFor:        map[int][]ports.PullRequest{},
		updatedBodies: map[int]string{},
	}
}

func (f *fakeForge) GetRepoRole(_ context.Context, _, _, username string) (ports.Role, error) {
	if r, ok := f.roles[username]; ok {
		return r, nil
	}
	return ports.RoleRead, nil
}

func (f *fakeForge) GetUserHistory(_ context.Context, _, _, username string) (ports.UserHistory, error) {
	return f.history[username], nil
}

func (f *fakeForge) ListPRFiles(_ context.Context, _, _ string, n int) ([]ports.FileChange, error) {
	return f.prFiles[n], nil
}

func (f *fakeForge) GetCombinedStatus(_ context.Context, _, _, ref string) (ports.CombinedStatus, error) {
	return f.combined[ref], nil
}

func (f *fakeForge) ListPRsForIssue(_ context.Context, _, _ string, issueNumber int) ([]ports.PullRequest, error) {
	return f.prsFor[issueNumber], nil
}

func (f *fakeForge) DeleteComment(_ context.Context, _, _ string, id int64) error {
	f.deletedComments = append(f.deletedComments, id)
	return nil
}

func (f *fakeForge) BlockUser(_ context.Context, _, _, username string) error {
	f.blockedUsers = append(f.blockedUsers, username)
	return nil
}

func (f *fakeForge) ReportUser(_ context.Context, _, _, username, _ string) error {
	f.reportedUsers = append(f.reportedUsers, username)
	return nil
}

func (f *fakeForge) UpdatePRBody(_ context.Context, _, _ string, n int, body string) error {
	f.updatedBodies[n] = body
	return nil
}

func (f *fakeForge) AddIssueComment(_ context.Context, _, _ string, _ int, body string) (ports.Comment, error) {
	f.postedComments = append(f.postedComments, body)
	return ports.Comment{ID: 999, Body: body}, nil
}

func (f *fakeForge) AddPRComment(_ context.Context, _, _ string, _ int, body string) (ports.Comment, error) {
	f.postedComments = append(f.postedComments, body)
	return ports.Comment{ID: 999, Body: body}, nil
}

func newTestStamps(t *testing.T) (*crypto.StampManager, *audit.Log) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	keys, err := crypto.Bootstrap(ctx, st)
	require.NoError(t, err)
	nonces := crypto.NewNonceRegistry()
	log, err := audit.Open(ctx, st, keys)
	require.NoError(t, err)
	return crypto.NewStampManager(keys, nonces), log
}
