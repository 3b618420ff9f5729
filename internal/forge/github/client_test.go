package github

import (
	"testing"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/ports"
)

func TestMapRole(t *testing.T) {
	cases := map[string]ports.Role{
		"admin": ports.RoleAdmin, "maintain": ports.RoleMaintainer, "write": ports.RoleWrite,
		"triage": ports.RoleTriage, "read": ports.RoleRead, "none": ports.RoleNone, "bogus": ports.RoleNone,
	}
	for perm, want := range cases {
		require.Equal(t, want, mapRole(perm))
	}
}

func TestToIssueSkipsNothingAndMapsLabels(t *testing.T) {
	gh := &gogithub.Issue{
		Number: gogithub.Int(5), Title: gogithub.String("t"), Body: gogithub.String("b"),
		Labels: []*gogithub.Label{{Name: gogithub.String("bug")}, {Name: gogithub.String("argus:triage")}},
	}
	out := toIssue(gh)
	require.Equal(t, 5, out.Number)
	require.ElementsMatch(t, []string{"bug", "argus:triage"}, out.Labels)
}

func TestToPRMapsHeadAndBase(t *testing.T) {
	gh := &gogithub.PullRequest{
		Number: gogithub.Int(9),
		Head:   &gogithub.PullRequestBranch{Ref: gogithub.String("feature"), SHA: gogithub.String("abc123")},
		Base:   &gogithub.PullRequestBranch{Ref: gogithub.String("main")},
	}
	out := toPR(gh)
	require.Equal(t, "feature", out.HeadBranch)
	require.Equal(t, "abc123", out.HeadSHA)
	require.Equal(t, "main", out.BaseBranch)
}
