package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

func TestShouldSynthesizeOnScoreGap(t *testing.T) {
	require.True(t, ShouldSynthesize(0.5, []domain.CompetitorScore{{Composite: 0.7}}))
	require.False(t, ShouldSynthesize(0.6, []domain.CompetitorScore{{Composite: 0.65}}))
}

func TestShouldSynthesizeOnContributorCount(t *testing.T) {
	require.True(t, ShouldSynthesize(0.8, []domain.CompetitorScore{
		{Composite: 0.35}, {Composite: 0.4}, {Composite: 0.5},
	}))
}

func TestShouldSynthesizeFalseWithNoCompetitors(t *testing.T) {
	require.False(t, ShouldSynthesize(0.5, nil))
}

func TestDetectConflictsFindsOverlappingPaths(t *testing.T) {
	filesByPR := map[int][]ports.FileChange{
		1: {{Path: "a.go"}, {Path: "b.go"}},
		2: {{Path: "a.go"}},
	}
	conflicts := detectConflicts(filesByPR)
	require.Len(t, conflicts, 1)
	require.Contains(t, conflicts[0], "a.go")
}

func TestPlanOrdersSourcesAndDetectsConflicts(t *testing.T) {
	forge := newFakeForge()
	forge.prFiles[100] = []ports.FileChange{{Path: "shared.go"}}
	forge.prFiles[200] = []ports.FileChange{{Path: "shared.go"}}
	stamps, log := newTestStamps(t)
	p := NewSynthesisPlanner(forge, nil, stamps, log)

	ours := domain.CompetitorScore{PRNumber: 100, Composite: 0.4}
	competitors := []domain.CompetitorScore{{PRNumber: 200, Composite: 0.6}}

	plan, err := p.Plan(context.Background(), testTarget(), 100, ours, competitors)
	require.NoError(t, err)
	require.Equal(t, []int{100, 200}, plan.SourcePRs)
	require.NotEmpty(t, plan.Conflicts)
	require.Greater(t, plan.ProjectedScore, 0.6)
}

func TestPostPlanPostsStampedComment(t *testing.T) {
	forge := newFakeForge()
	stamps, log := newTestStamps(t)
	p := NewSynthesisPlanner(forge, nil, stamps, log)

	plan := domain.SynthesisPlan{
		SourcePRs:      []int{1, 2},
		Strengths:      map[int][]string{1: {"clean tests"}, 2: {"handles edge case"}},
		ProjectedScore: 0.8,
	}
	err := p.PostPlan(context.Background(), testTarget(), 1, plan)
	require.NoError(t, err)
	require.Len(t, forge.postedComments, 1)
	require.Contains(t, forge.postedComments[0], "Synthesis plan")
}
