package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

func TestInvestigateNoLLMUsesHeuristic(t *testing.T) {
	forge := &fakeForge{files: map[string]string{"a.go": "package a"}}
	inv := NewInvestigator(nil, forge)
	eval := domain.IssueEvaluation{AffectedFiles: []string{"a.go"}}
	result := inv.Investigate(context.Background(), "o", "r", "main", eval)
	require.Equal(t, 0.3, result.Confidence)
	require.Len(t, result.SuggestedChanges, 1)
	require.Equal(t, "modify", result.SuggestedChanges[0].Action)
}

func TestInvestigateParsesLLMResponse(t *testing.T) {
	forge := &fakeForge{files: map[string]string{"a.go": "package a"}}
	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		sys := messages[0].Content
		m := evalCanaryPattern.FindStringSubmatch(sys)
		require.Len(t, m, 2)
		resp := map[string]any{
			"canary": m[1],
			"suggested_changes": []map[string]any{
				{"path": "a.go", "action": "modify", "reason": "fix bug"},
			},
			"dependencies": []string{},
			"confidence":   0.8,
			"notes":        "straightforward",
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	inv := NewInvestigator(llm, forge)
	eval := domain.IssueEvaluation{AffectedFiles: []string{"a.go"}, ProposedApproach: "Fix the Parser"}
	result := inv.Investigate(context.Background(), "o", "r", "main", eval)
	require.Equal(t, 0.8, result.Confidence)
	require.Equal(t, "straightforward", result.Notes)
}

func TestInvestigateLLMErrorFallsBackToHeuristic(t *testing.T) {
	forge := &fakeForge{files: map[string]string{"a.go": "package a"}}
	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		return "", fmt.Errorf("down")
	}}
	inv := NewInvestigator(llm, forge)
	eval := domain.IssueEvaluation{AffectedFiles: []string{"a.go"}}
	result := inv.Investigate(context.Background(), "o", "r", "main", eval)
	require.Contains(t, result.Notes, "heuristic fallback")
}

func TestInvestigateCanaryMismatchFallsBackToHeuristic(t *testing.T) {
	forge := &fakeForge{files: map[string]string{"a.go": "package a"}}
	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		resp := map[string]any{"canary": "wrong", "confidence": 0.9}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	inv := NewInvestigator(llm, forge)
	eval := domain.IssueEvaluation{AffectedFiles: []string{"a.go"}}
	result := inv.Investigate(context.Background(), "o", "r", "main", eval)
	require.Contains(t, result.Notes, "heuristic fallback")
}

func TestSearchQueriesDerivesFromApproachAndReasoning(t *testing.T) {
	eval := domain.IssueEvaluation{
		ProposedApproach: "Update ParserEngine and RetryHandler",
		Reasoning:        "the failure happens during deserialization of requests",
	}
	queries := searchQueries(eval)
	require.Contains(t, queries, "ParserEngine")
	require.Contains(t, queries, "RetryHandler")
}
