package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/ports"
)

func TestFindCompetitorsExcludesOurPR(t *testing.T) {
	forge := newFakeForge()
	forge.prsFor[42] = []ports.PullRequest{{Number: 1}, {Number: 2}, {Number: 3}}
	stamps, _ := newTestStamps(t)
	a := NewAnalyzer(forge, nil, stamps)

	got, err := a.FindCompetitors(context.Background(), testTarget(), 42, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.ElementsMatch(t, []int{1, 3}, []int{got[0].Number, got[1].Number})
}

func TestScoreNoLLMUsesNeutralComposite(t *testing.T) {
	forge := newFakeForge()
	forge.prFiles[7] = []ports.FileChange{{Path: "a.go", Additions: 10}}
	forge.combined["sha7"] = ports.CombinedStatus{State: "success"}
	stamps, _ := newTestStamps(t)
	a := NewAnalyzer(forge, nil, stamps)

	score, err := a.Score(context.Background(), testTarget(), ports.PullRequest{Number: 7, HeadSHA: "sha7"}, 0.5)
	require.NoError(t, err)
	require.InDelta(t, 0.5+trustBonusFactor*0.5, score.Composite, 0.001)
	require.False(t, score.CIFailing)
}

func TestScoreCIFailingAppliesPenalty(t *testing.T) {
	forge := newFakeForge()
	forge.prFiles[8] = []ports.FileChange{{Path: "a.go"}}
	forge.combined["sha8"] = ports.CombinedStatus{State: "failure"}
	stamps, _ := newTestStamps(t)
	a := NewAnalyzer(forge, nil, stamps)

	score, err := a.Score(context.Background(), testTarget(), ports.PullRequest{Number: 8, HeadSHA: "sha8"}, 0.0)
	require.NoError(t, err)
	require.True(t, score.CIFailing)
	require.InDelta(t, 0.3, score.Composite, 0.001)
}

func TestScoreParsesLLMVerdict(t *testing.T) {
	forge := newFakeForge()
	forge.prFiles[9] = []ports.FileChange{{Path: "a.go"}}
	forge.combined["sha9"] = ports.CombinedStatus{State: "success"}
	stamps, _ := newTestStamps(t)

	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		canary := extractCanaryFromSystem(t, messages)
		return `{"canary": "` + canary + `", "correctness": 1.0, "completeness": 1.0, "code_quality": 1.0, "test_coverage": 1.0, "minimal_invasiveness": 1.0}`, nil
	}}
	a := NewAnalyzer(forge, llm, stamps)

	score, err := a.Score(context.Background(), testTarget(), ports.PullRequest{Number: 9, HeadSHA: "sha9"}, 0.0)
	require.NoError(t, err)
	require.InDelta(t, 1.0, score.Composite, 0.001)
}

func TestScoreCanaryMismatchFailsOpenToNeutral(t *testing.T) {
	forge := newFakeForge()
	forge.prFiles[10] = []ports.FileChange{{Path: "a.go"}}
	forge.combined["sha10"] = ports.CombinedStatus{State: "success"}
	stamps, _ := newTestStamps(t)

	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		return `{"canary": "wrong", "correctness": 1.0}`, nil
	}}
	a := NewAnalyzer(forge, llm, stamps)

	score, err := a.Score(context.Background(), testTarget(), ports.PullRequest{Number: 10, HeadSHA: "sha10"}, 0.0)
	require.NoError(t, err)
	require.InDelta(t, 0.5, score.Composite, 0.001)
}
